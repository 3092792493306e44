// Package model contains the domain structs shared across packages.
package model

import (
	"time"
)

// FileStatus describes where an uploaded document is in the signing lifecycle.
type FileStatus string

const (
	FileStatusUploaded  FileStatus = "uploaded"
	FileStatusCompleted FileStatus = "completed"
	FileStatusFailed    FileStatus = "failed"
)

// File is an uploaded PDF that belongs to exactly one Task. OrderIndex is
// unique within the task and drives the order documents are presented and
// concatenated in.
type File struct {
	ID           string `json:"id"`
	TaskID       string `json:"taskId"`
	OriginalName string `json:"originalName"`
	DisplayName  string `json:"displayName"`
	Size         int64  `json:"size"`
	ContentType  string `json:"contentType"`
	ObjectKey    string `json:"-"`
	OriginalURL  string `json:"originalUrl,omitempty"`
	// FinalObjectKey and FinalURL are populated once the signed PDF exists.
	FinalObjectKey *string    `json:"-"`
	FinalURL       *string    `json:"finalUrl,omitempty"`
	OrderIndex     int        `json:"orderIndex"`
	Status         FileStatus `json:"status"`
	PageCount      int        `json:"pageCount"`
	ExtractedText  string     `json:"-"`
	ErrorMessage   *string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}
