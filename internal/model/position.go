package model

import (
	"time"

	"github.com/dharsanguruparan/VaultSign/internal/coords"
)

// FieldType is the kind of value a position collects.
type FieldType string

const (
	FieldSignature FieldType = "signature"
	FieldDate      FieldType = "date"
	FieldText      FieldType = "text"
	FieldName      FieldType = "name"
	FieldEmail     FieldType = "email"
	FieldInitials  FieldType = "initials"
	FieldCheckbox  FieldType = "checkbox"
)

// Valid reports whether t is a supported field type.
func (t FieldType) Valid() bool {
	switch t {
	case FieldSignature, FieldDate, FieldText, FieldName, FieldEmail, FieldInitials, FieldCheckbox:
		return true
	}
	return false
}

// PositionStatus is either pending or signed.
type PositionStatus string

const (
	PositionPending PositionStatus = "pending"
	PositionSigned  PositionStatus = "signed"
)

// SignaturePosition is one fillable field on one page of one file for one
// recipient. Rect is stored in percent of the page; PageWidth/PageHeight are
// the page size observed when the field was placed and are only used to
// derive pixel coordinates on read.
type SignaturePosition struct {
	ID           string         `json:"id"`
	RecipientID  string         `json:"recipientId"`
	FileID       string         `json:"fileId"`
	Page         int            `json:"page"`
	Rect         coords.Rect    `json:"rect"`
	PageWidth    float64        `json:"pageWidth"`
	PageHeight   float64        `json:"pageHeight"`
	FieldType    FieldType      `json:"fieldType"`
	Placeholder  string         `json:"placeholder,omitempty"`
	DefaultValue string         `json:"defaultValue,omitempty"`
	Required     bool           `json:"required"`
	Status       PositionStatus `json:"status"`
	Value        *string        `json:"value,omitempty"`
	SignedAt     *time.Time     `json:"signedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// PageSize returns the recorded page-size snapshot.
func (p *SignaturePosition) PageSize() coords.PageSize {
	return coords.PageSize{Width: p.PageWidth, Height: p.PageHeight}
}

// PositionView is a position as returned to clients: the stored percentage
// rect plus pixel coordinates derived from the page-size snapshot.
type PositionView struct {
	SignaturePosition
	Pixel coords.PixelRect `json:"pixel"`
}

// NewPositionView derives the pixel rect for p.
func NewPositionView(p *SignaturePosition) PositionView {
	return PositionView{SignaturePosition: *p, Pixel: coords.ToPixels(p.Rect, p.PageSize())}
}
