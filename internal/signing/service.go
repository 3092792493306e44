// Package signing implements the public side of a task: recipients open
// their link, fill in their fields and finish.
package signing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/positions"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
)

// Finalizer completes a task once everyone has signed.
type Finalizer interface {
	TryFinalize(ctx context.Context, taskID string) (bool, error)
}

// TokenStatus describes a signing link.
type TokenStatus struct {
	Valid       bool                  `json:"valid"`
	Expired     bool                  `json:"expired"`
	RecipientID string                `json:"recipientId,omitempty"`
	TaskID      string                `json:"taskId,omitempty"`
	Status      model.RecipientStatus `json:"status,omitempty"`
	ExpiresAt   time.Time             `json:"expiresAt"`
}

// PendingFieldsError is returned when a recipient tries to finish with
// required fields left empty.
type PendingFieldsError struct {
	Pending int
}

func (e *PendingFieldsError) Error() string {
	if e.Pending == 1 {
		return "1 required field is still empty"
	}
	return fmt.Sprintf("%d required fields are still empty", e.Pending)
}

func (e *PendingFieldsError) Unwrap() error {
	return &apperr.Error{Kind: apperr.KindStateConflict, Code: "pending_fields", Message: e.Error()}
}

// TaskSummary is the part of a task a recipient may see.
type TaskSummary struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Description string           `json:"description"`
	Status      model.TaskStatus `json:"status"`
}

// ViewFile is a document with a short-lived download link.
type ViewFile struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	OrderIndex int    `json:"orderIndex"`
	PageCount  int    `json:"pageCount"`
	URL        string `json:"url"`
}

// View is everything the signing page renders.
type View struct {
	Task      TaskSummary           `json:"task"`
	Recipient model.Recipient       `json:"recipient"`
	Files     []ViewFile            `json:"files"`
	Positions []positions.FileGroup `json:"positions"`
}

// Completion is the outcome of CompleteSigningSession.
type Completion struct {
	RecipientID   string    `json:"recipientId"`
	SignedAt      time.Time `json:"signedAt"`
	TaskCompleted bool      `json:"taskCompleted"`
}

// Service runs the recipient protocol.
type Service struct {
	repo      repository.Repository
	positions *positions.Store
	store     storage.ObjectStore
	finalizer Finalizer
	events    events.Publisher
	log       zerolog.Logger
	urlTTL    time.Duration
	now       func() time.Time
}

// NewService wires the signing protocol. urlTTL bounds document links handed
// to recipients.
func NewService(repo repository.Repository, ps *positions.Store, store storage.ObjectStore, finalizer Finalizer, pub events.Publisher, urlTTL time.Duration, log zerolog.Logger) *Service {
	return &Service{repo: repo, positions: ps, store: store, finalizer: finalizer, events: pub, urlTTL: urlTTL, log: log, now: time.Now}
}

// ValidateToken checks a signing link. An expired link returns its status
// together with apperr.ErrTokenExpired.
func (s *Service) ValidateToken(ctx context.Context, token string) (*TokenStatus, error) {
	if !WellFormed(token) {
		return nil, apperr.Validation("token", "malformed signing token")
	}
	rc, err := s.repo.GetRecipientByToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, apperr.NotFound("signing link")
	}
	if err != nil {
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	st := &TokenStatus{RecipientID: rc.ID, TaskID: rc.TaskID, Status: rc.Status, ExpiresAt: rc.TokenExpiresAt}
	if s.now().After(rc.TokenExpiresAt) {
		st.Expired = true
		return st, apperr.ErrTokenExpired
	}
	if rc.Status == model.RecipientCancelled {
		return st, apperr.ErrRecipientCancelled
	}
	st.Valid = true
	return st, nil
}

func (s *Service) recipient(ctx context.Context, token string) (*model.Recipient, error) {
	st, err := s.ValidateToken(ctx, token)
	if err != nil {
		return nil, err
	}
	rc, err := s.repo.GetRecipient(ctx, st.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("load recipient: %w", err)
	}
	return rc, nil
}

// FetchSigningView returns the task, its documents and the recipient's own
// fields. The first fetch marks a pending recipient as viewed.
func (s *Service) FetchSigningView(ctx context.Context, token string) (*View, error) {
	rc, err := s.recipient(ctx, token)
	if err != nil {
		return nil, err
	}
	if rc.Status == model.RecipientSigned {
		return nil, apperr.ErrAlreadySigned
	}

	var (
		task   *model.Task
		viewed bool
	)
	err = s.repo.WithTaskLock(ctx, rc.TaskID, func(ctx context.Context, tx repository.Repository, locked *model.Task) error {
		task = locked
		if locked.Status != model.TaskInProgress {
			return apperr.Conflict("this task is not accepting signatures (task is %s)", locked.Status)
		}
		current, err := tx.GetRecipient(ctx, rc.ID)
		if err != nil {
			return fmt.Errorf("reload recipient: %w", err)
		}
		if current.Status == model.RecipientCancelled {
			return apperr.ErrRecipientCancelled
		}
		if current.Status == model.RecipientPending {
			now := s.now().UTC()
			current.Status = model.RecipientViewed
			current.ViewedAt = &now
			current.UpdatedAt = now
			if err := tx.UpdateRecipient(ctx, current); err != nil {
				return fmt.Errorf("mark viewed: %w", err)
			}
			viewed = true
		}
		rc = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	if viewed {
		ev := events.New(events.RecipientViewed, rc.TaskID)
		ev.RecipientID = rc.ID
		s.events.Publish(ctx, ev)
	}

	files, err := s.repo.ListFiles(ctx, task.ID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	view := &View{
		Task:      TaskSummary{ID: task.ID, Title: task.Title, Description: task.Description, Status: task.Status},
		Recipient: *rc,
		Files:     make([]ViewFile, 0, len(files)),
	}
	for _, f := range files {
		url, err := s.store.SignedURL(ctx, f.ObjectKey, s.urlTTL)
		if err != nil {
			return nil, err
		}
		view.Files = append(view.Files, ViewFile{ID: f.ID, Name: f.DisplayName, OrderIndex: f.OrderIndex, PageCount: f.PageCount, URL: url})
	}
	if view.Positions, err = s.positions.GroupForRecipient(ctx, rc.ID); err != nil {
		return nil, err
	}
	return view, nil
}

// SubmitFieldValue fills one of the recipient's fields.
func (s *Service) SubmitFieldValue(ctx context.Context, token, positionID, value string) (*model.PositionView, error) {
	rc, err := s.recipient(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.positions.Update(ctx, positions.Actor{Role: positions.RoleSigner, RecipientID: rc.ID}, positionID, positions.Patch{Value: &value})
}

// CompleteSigningSession marks the recipient as signed once every required
// field is filled, then asks the finalizer to complete the task.
func (s *Service) CompleteSigningSession(ctx context.Context, token string) (*Completion, error) {
	rc, err := s.recipient(ctx, token)
	if err != nil {
		return nil, err
	}
	if rc.Status == model.RecipientSigned {
		return nil, apperr.ErrAlreadySigned
	}

	var signedAt time.Time
	err = s.repo.WithTaskLock(ctx, rc.TaskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		current, err := tx.GetRecipient(ctx, rc.ID)
		if err != nil {
			return fmt.Errorf("reload recipient: %w", err)
		}
		switch current.Status {
		case model.RecipientSigned:
			return apperr.ErrAlreadySigned
		case model.RecipientCancelled:
			return apperr.ErrRecipientCancelled
		}
		if task.Status != model.TaskInProgress {
			return apperr.Conflict("this task is not accepting signatures (task is %s)", task.Status)
		}
		list, err := tx.ListPositionsByRecipient(ctx, current.ID)
		if err != nil {
			return fmt.Errorf("list positions: %w", err)
		}
		pending := 0
		for _, p := range list {
			if p.Required && p.Status != model.PositionSigned {
				pending++
			}
		}
		if pending > 0 {
			return &PendingFieldsError{Pending: pending}
		}
		signedAt = s.now().UTC()
		current.Status = model.RecipientSigned
		current.SignedAt = &signedAt
		current.UpdatedAt = signedAt
		if err := tx.UpdateRecipient(ctx, current); err != nil {
			return fmt.Errorf("mark signed: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	ev := events.New(events.RecipientSigned, rc.TaskID)
	ev.RecipientID = rc.ID
	s.events.Publish(ctx, ev)

	out := &Completion{RecipientID: rc.ID, SignedAt: signedAt}
	done, err := s.finalizer.TryFinalize(ctx, rc.TaskID)
	if err != nil {
		s.log.Error().Err(err).Str("task_id", rc.TaskID).Msg("finalize after signing")
	}
	out.TaskCompleted = done
	return out, nil
}
