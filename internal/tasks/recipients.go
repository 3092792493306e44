package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/signing"
)

// RecipientInput adds or edits a recipient.
type RecipientInput struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (s *Service) ownedRecipient(ctx context.Context, ownerID, recipientID string) (*model.Recipient, *model.Task, error) {
	rc, err := s.Repo.GetRecipient(ctx, recipientID)
	if err != nil {
		return nil, nil, lookupErr(err, "recipient")
	}
	task, err := s.ownedTask(ctx, ownerID, rc.TaskID)
	if err != nil {
		return nil, nil, apperr.NotFound("recipient")
	}
	return rc, task, nil
}

// AddRecipient adds a signer to a draft task and issues their token.
func (s *Service) AddRecipient(ctx context.Context, ownerID, taskID string, in RecipientInput) (*model.Recipient, error) {
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return nil, err
	}
	var rc *model.Recipient
	err = s.withOwnedTask(ctx, ownerID, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskDraft {
			return apperr.NotDraft("recipients can be added", task.Status)
		}
		now := s.now().UTC()
		token, err := signing.NewToken(now)
		if err != nil {
			return err
		}
		rc = &model.Recipient{
			ID:             uuid.NewString(),
			TaskID:         taskID,
			Name:           strings.TrimSpace(in.Name),
			Email:          email,
			Token:          token,
			TokenExpiresAt: signing.ExpiryFrom(now),
			Status:         model.RecipientPending,
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if err := tx.CreateRecipient(ctx, rc); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Validation("email", "%s is already a recipient of this task", email)
			}
			return fmt.Errorf("create recipient: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rc, nil
}

// ListRecipients returns the task's recipients in the order they were added.
func (s *Service) ListRecipients(ctx context.Context, ownerID, taskID string) ([]*model.Recipient, error) {
	if _, err := s.ownedTask(ctx, ownerID, taskID); err != nil {
		return nil, err
	}
	list, err := s.Repo.ListRecipients(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	return list, nil
}

// draftRecipient loads the recipient under its task's lock and hands it to
// fn only while the task is still a draft and the recipient has not signed.
func (s *Service) draftRecipient(ctx context.Context, ownerID, recipientID, action string, fn func(context.Context, repository.Repository, *model.Recipient) error) error {
	rc, _, err := s.ownedRecipient(ctx, ownerID, recipientID)
	if err != nil {
		return err
	}
	return s.withOwnedTask(ctx, ownerID, rc.TaskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskDraft {
			return apperr.NotDraft(action, task.Status)
		}
		current, err := tx.GetRecipient(ctx, recipientID)
		if err != nil {
			return lookupErr(err, "recipient")
		}
		if current.Status == model.RecipientSigned {
			return apperr.Conflict("recipient has already signed")
		}
		return fn(ctx, tx, current)
	})
}

// UpdateRecipient changes name or email while the task is a draft.
func (s *Service) UpdateRecipient(ctx context.Context, ownerID, recipientID string, in RecipientInput) (*model.Recipient, error) {
	var email string
	if in.Email != "" {
		var err error
		if email, err = normalizeEmail(in.Email); err != nil {
			return nil, err
		}
	}
	var out *model.Recipient
	err := s.draftRecipient(ctx, ownerID, recipientID, "recipients can be edited", func(ctx context.Context, tx repository.Repository, rc *model.Recipient) error {
		if email != "" {
			rc.Email = email
		}
		if name := strings.TrimSpace(in.Name); name != "" {
			rc.Name = name
		}
		rc.UpdatedAt = s.now().UTC()
		if err := tx.UpdateRecipient(ctx, rc); err != nil {
			if errors.Is(err, repository.ErrDuplicate) {
				return apperr.Validation("email", "%s is already a recipient of this task", rc.Email)
			}
			return fmt.Errorf("update recipient: %w", err)
		}
		out = rc
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// RemoveRecipient deletes a recipient and their fields from a draft task.
func (s *Service) RemoveRecipient(ctx context.Context, ownerID, recipientID string) error {
	return s.draftRecipient(ctx, ownerID, recipientID, "recipients can be removed", func(ctx context.Context, tx repository.Repository, rc *model.Recipient) error {
		return lookupErr(tx.DeleteRecipient(ctx, rc.ID), "recipient")
	})
}

// RegenerateToken issues a fresh signing link for an owned recipient.
func (s *Service) RegenerateToken(ctx context.Context, ownerID, recipientID string) (*model.Recipient, error) {
	if _, _, err := s.ownedRecipient(ctx, ownerID, recipientID); err != nil {
		return nil, err
	}
	return s.ReissueToken(ctx, recipientID)
}

// ReissueToken replaces the recipient's token with one valid for the full
// window from now and, when the task is out for signature, mails the new
// link. The old token stops working immediately.
func (s *Service) ReissueToken(ctx context.Context, recipientID string) (*model.Recipient, error) {
	rc, err := s.Repo.GetRecipient(ctx, recipientID)
	if err != nil {
		return nil, lookupErr(err, "recipient")
	}
	var (
		out  *model.Recipient
		sent *model.Task
	)
	err = s.Repo.WithTaskLock(ctx, rc.TaskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		current, err := tx.GetRecipient(ctx, recipientID)
		if err != nil {
			return err
		}
		switch current.Status {
		case model.RecipientSigned:
			return apperr.Conflict("recipient has already signed")
		case model.RecipientCancelled:
			return apperr.Conflict("recipient has been cancelled")
		}
		now := s.now().UTC()
		if current.Token, err = signing.NewToken(now); err != nil {
			return err
		}
		current.TokenExpiresAt = signing.ExpiryFrom(now)
		current.UpdatedAt = now
		if err := tx.UpdateRecipient(ctx, current); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
		out = current
		if task.Status == model.TaskInProgress {
			sent = task
		}
		return nil
	})
	if err != nil {
		return nil, lookupErr(err, "recipient")
	}
	if sent != nil && s.Mailer != nil {
		s.Mailer.Invite(ctx, sent, out)
	}
	s.Log.Info().Str("recipient_id", recipientID).Time("expires_at", out.TokenExpiresAt).Msg("signing token reissued")
	return out, nil
}
