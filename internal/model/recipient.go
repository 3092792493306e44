package model

import "time"

// RecipientStatus tracks a signer's progress.
type RecipientStatus string

const (
	RecipientPending   RecipientStatus = "pending"
	RecipientViewed    RecipientStatus = "viewed"
	RecipientSigned    RecipientStatus = "signed"
	RecipientCancelled RecipientStatus = "cancelled"
)

// Recipient is a person who has to sign fields of a task. The Token is an
// opaque bearer credential for the public signing link.
type Recipient struct {
	ID             string          `json:"id"`
	TaskID         string          `json:"taskId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	Token          string          `json:"-"`
	TokenExpiresAt time.Time       `json:"tokenExpiresAt"`
	Status         RecipientStatus `json:"status"`
	ViewedAt       *time.Time      `json:"viewedAt,omitempty"`
	SignedAt       *time.Time      `json:"signedAt,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// CanSign reports whether the recipient may still fill in fields.
func (r *Recipient) CanSign() bool {
	return r.Status == RecipientPending || r.Status == RecipientViewed
}
