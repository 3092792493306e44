// Package positions stores signature fields placed on documents and enforces
// who may change them at which point of the task lifecycle.
package positions

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
)

// Role distinguishes the task owner from a recipient acting through a
// signing link.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleSigner Role = "signer"
)

// Actor is the caller of Update. OwnerID is set for owners, RecipientID for
// signers.
type Actor struct {
	Role        Role
	OwnerID     string
	RecipientID string
}

// CreateInput describes a new field. Required defaults to true.
type CreateInput struct {
	RecipientID  string          `json:"recipientId"`
	FileID       string          `json:"fileId"`
	Page         int             `json:"page"`
	Rect         coords.Rect     `json:"rect"`
	PageWidth    float64         `json:"pageWidth"`
	PageHeight   float64         `json:"pageHeight"`
	FieldType    model.FieldType `json:"fieldType"`
	Placeholder  string          `json:"placeholder"`
	DefaultValue string          `json:"defaultValue"`
	Required     *bool           `json:"required"`
}

// Patch is a partial update. The first group is owner-only, Value and
// Status are signer-only.
type Patch struct {
	Page         *int             `json:"page"`
	Rect         *coords.Rect     `json:"rect"`
	PageWidth    *float64         `json:"pageWidth"`
	PageHeight   *float64         `json:"pageHeight"`
	FieldType    *model.FieldType `json:"fieldType"`
	Placeholder  *string          `json:"placeholder"`
	DefaultValue *string          `json:"defaultValue"`
	Required     *bool            `json:"required"`

	Value  *string               `json:"value"`
	Status *model.PositionStatus `json:"status"`
}

func (p Patch) ownerFields() bool {
	return p.Page != nil || p.Rect != nil || p.PageWidth != nil || p.PageHeight != nil ||
		p.FieldType != nil || p.Placeholder != nil || p.DefaultValue != nil || p.Required != nil
}

func (p Patch) signerFields() bool {
	return p.Value != nil || p.Status != nil
}

// FileGroup is one file's positions for a recipient.
type FileGroup struct {
	FileID     string               `json:"fileId"`
	FileName   string               `json:"fileName"`
	OrderIndex int                  `json:"orderIndex"`
	Positions  []model.PositionView `json:"positions"`
}

// Store is the position service.
type Store struct {
	repo      repository.Repository
	threshold float64
	log       zerolog.Logger
	now       func() time.Time
}

// New returns a Store. threshold is the overlap ratio above which a
// placement is reported as conflicting.
func New(repo repository.Repository, threshold float64, log zerolog.Logger) *Store {
	return &Store{repo: repo, threshold: threshold, log: log, now: time.Now}
}

// Create places a field for a recipient on one of the task's files. Overlaps
// with existing fields are reported, never rejected.
func (s *Store) Create(ctx context.Context, ownerID string, in CreateInput) (*model.PositionView, coords.Conflict, error) {
	var none coords.Conflict
	rc, task, err := s.ownedRecipient(ctx, ownerID, in.RecipientID)
	if err != nil {
		return nil, none, err
	}
	file, err := s.repo.GetFile(ctx, in.FileID)
	if err != nil {
		return nil, none, lookupErr(err, "file")
	}
	if file.TaskID != task.ID {
		return nil, none, apperr.Validation("fileId", "file and recipient belong to different tasks")
	}
	if !in.FieldType.Valid() {
		return nil, none, apperr.Validation("fieldType", "unknown field type %q", in.FieldType)
	}
	page := coords.PageSize{Width: in.PageWidth, Height: in.PageHeight}
	if err := checkGeometry(in.Rect, in.Page, page, file); err != nil {
		return nil, none, err
	}

	now := s.now().UTC()
	pos := &model.SignaturePosition{
		ID:           uuid.NewString(),
		RecipientID:  rc.ID,
		FileID:       file.ID,
		Page:         in.Page,
		Rect:         in.Rect,
		PageWidth:    in.PageWidth,
		PageHeight:   in.PageHeight,
		FieldType:    in.FieldType,
		Placeholder:  in.Placeholder,
		DefaultValue: in.DefaultValue,
		Required:     true,
		Status:       model.PositionPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if in.Required != nil {
		pos.Required = *in.Required
	}

	var conflict coords.Conflict
	err = s.locked(ctx, task.ID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskDraft {
			return apperr.NotDraft("fields can be placed", task.Status)
		}
		current, err := tx.GetRecipient(ctx, rc.ID)
		if err != nil {
			return err
		}
		if current.Status == model.RecipientCancelled {
			return apperr.Conflict("recipient has been cancelled")
		}
		if conflict, err = s.detect(ctx, tx, pos); err != nil {
			return err
		}
		if err := tx.CreatePosition(ctx, pos); err != nil {
			return fmt.Errorf("create position: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, none, err
	}
	view := model.NewPositionView(pos)
	return &view, conflict, nil
}

// locked runs fn under the task lock, so draft checks and the write that
// follows them see the same task state.
func (s *Store) locked(ctx context.Context, taskID string, fn repository.TxFunc) error {
	err := s.repo.WithTaskLock(ctx, taskID, fn)
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound("position")
	}
	return err
}

func (s *Store) detect(ctx context.Context, repo repository.Repository, pos *model.SignaturePosition) (coords.Conflict, error) {
	existing, err := repo.ListPositionsByFile(ctx, pos.FileID)
	if err != nil {
		return coords.Conflict{}, fmt.Errorf("list file positions: %w", err)
	}
	placed := make([]coords.Placed, 0, len(existing))
	for _, e := range existing {
		placed = append(placed, coords.Placed{ID: e.ID, Page: e.Page, Rect: e.Rect})
	}
	c := coords.DetectConflict(coords.Placed{ID: pos.ID, Page: pos.Page, Rect: pos.Rect}, placed, s.threshold)
	if c.HasConflict {
		s.log.Warn().
			Str("file_id", pos.FileID).
			Str("position_id", pos.ID).
			Int("page", pos.Page).
			Strs("conflicting_with", c.ConflictingWith).
			Msg("field overlaps existing fields")
	}
	return c, nil
}

// ListForRecipient returns the recipient's fields grouped by file, in file
// order and then page order.
func (s *Store) ListForRecipient(ctx context.Context, ownerID, recipientID string) ([]FileGroup, error) {
	if _, _, err := s.ownedRecipient(ctx, ownerID, recipientID); err != nil {
		return nil, err
	}
	return s.GroupForRecipient(ctx, recipientID)
}

// GroupForRecipient is ListForRecipient without the ownership check, for
// callers that already authenticated the recipient by token.
func (s *Store) GroupForRecipient(ctx context.Context, recipientID string) ([]FileGroup, error) {
	list, err := s.repo.ListPositionsByRecipient(ctx, recipientID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	byFile := make(map[string]*FileGroup)
	var groups []*FileGroup
	for _, p := range list {
		g, ok := byFile[p.FileID]
		if !ok {
			file, err := s.repo.GetFile(ctx, p.FileID)
			if err != nil {
				return nil, fmt.Errorf("load file %s: %w", p.FileID, err)
			}
			g = &FileGroup{FileID: file.ID, FileName: file.DisplayName, OrderIndex: file.OrderIndex}
			byFile[p.FileID] = g
			groups = append(groups, g)
		}
		g.Positions = append(g.Positions, model.NewPositionView(p))
	}
	sort.SliceStable(groups, func(i, j int) bool { return groups[i].OrderIndex < groups[j].OrderIndex })

	out := make([]FileGroup, len(groups))
	for i, g := range groups {
		sort.SliceStable(g.Positions, func(a, b int) bool {
			pa, pb := g.Positions[a], g.Positions[b]
			if pa.Page != pb.Page {
				return pa.Page < pb.Page
			}
			return pa.CreatedAt.Before(pb.CreatedAt)
		})
		out[i] = *g
	}
	return out, nil
}

// Update applies patch on behalf of actor.
func (s *Store) Update(ctx context.Context, actor Actor, positionID string, patch Patch) (*model.PositionView, error) {
	pos, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return nil, lookupErr(err, "position")
	}
	rc, err := s.repo.GetRecipient(ctx, pos.RecipientID)
	if err != nil {
		return nil, lookupErr(err, "position")
	}
	task, err := s.repo.GetTask(ctx, rc.TaskID)
	if err != nil {
		return nil, lookupErr(err, "position")
	}

	switch actor.Role {
	case RoleOwner:
		if task.OwnerID != actor.OwnerID {
			return nil, apperr.NotFound("position")
		}
		if patch.signerFields() {
			return nil, apperr.Permission("only the recipient can fill in a field value")
		}
		err = s.locked(ctx, task.ID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
			current, err := tx.GetPosition(ctx, positionID)
			if err != nil {
				return err
			}
			if err := s.ownerUpdate(ctx, tx, task, current, patch); err != nil {
				return err
			}
			pos = current
			return s.save(ctx, tx, pos)
		})
	case RoleSigner:
		if actor.RecipientID != pos.RecipientID {
			return nil, apperr.NotFound("position")
		}
		if err = s.signerUpdate(task, rc, pos, patch); err == nil {
			err = s.save(ctx, s.repo, pos)
		}
	default:
		return nil, apperr.Permission("unknown role %q", actor.Role)
	}
	if err != nil {
		return nil, err
	}
	view := model.NewPositionView(pos)
	return &view, nil
}

func (s *Store) save(ctx context.Context, repo repository.Repository, pos *model.SignaturePosition) error {
	pos.UpdatedAt = s.now().UTC()
	if err := repo.UpdatePosition(ctx, pos); err != nil {
		return fmt.Errorf("update position: %w", err)
	}
	return nil
}

func (s *Store) ownerUpdate(ctx context.Context, repo repository.Repository, task *model.Task, pos *model.SignaturePosition, patch Patch) error {
	if pos.Status == model.PositionSigned {
		return apperr.Conflict("field has already been signed")
	}
	if task.Status != model.TaskDraft {
		return apperr.NotDraft("fields can be edited", task.Status)
	}
	if patch.Page != nil {
		pos.Page = *patch.Page
	}
	if patch.Rect != nil {
		pos.Rect = *patch.Rect
	}
	if patch.PageWidth != nil {
		pos.PageWidth = *patch.PageWidth
	}
	if patch.PageHeight != nil {
		pos.PageHeight = *patch.PageHeight
	}
	if patch.FieldType != nil {
		if !patch.FieldType.Valid() {
			return apperr.Validation("fieldType", "unknown field type %q", *patch.FieldType)
		}
		pos.FieldType = *patch.FieldType
	}
	if patch.Placeholder != nil {
		pos.Placeholder = *patch.Placeholder
	}
	if patch.DefaultValue != nil {
		pos.DefaultValue = *patch.DefaultValue
	}
	if patch.Required != nil {
		pos.Required = *patch.Required
	}
	file, err := repo.GetFile(ctx, pos.FileID)
	if err != nil {
		return lookupErr(err, "file")
	}
	return checkGeometry(pos.Rect, pos.Page, pos.PageSize(), file)
}

func (s *Store) signerUpdate(task *model.Task, rc *model.Recipient, pos *model.SignaturePosition, patch Patch) error {
	if patch.ownerFields() {
		return apperr.Permission("recipients can only fill in a field value")
	}
	switch rc.Status {
	case model.RecipientSigned:
		return apperr.ErrAlreadySigned
	case model.RecipientCancelled:
		return apperr.ErrRecipientCancelled
	}
	if task.Status != model.TaskInProgress {
		return apperr.Conflict("task is not awaiting signatures (task is %s)", task.Status)
	}
	if pos.Status != model.PositionPending {
		return apperr.Conflict("field has already been signed")
	}
	if patch.Status != nil && *patch.Status != model.PositionSigned {
		return apperr.Validation("status", "a filled field can only become %q", model.PositionSigned)
	}
	if patch.Value == nil {
		return apperr.Validation("value", "value is required")
	}
	value, err := normalizeValue(pos.FieldType, *patch.Value)
	if err != nil {
		return err
	}
	now := s.now().UTC()
	pos.Value = &value
	pos.Status = model.PositionSigned
	pos.SignedAt = &now
	return nil
}

// Delete removes an unsigned field from a draft task.
func (s *Store) Delete(ctx context.Context, ownerID, positionID string) error {
	pos, err := s.repo.GetPosition(ctx, positionID)
	if err != nil {
		return lookupErr(err, "position")
	}
	_, task, err := s.ownedRecipient(ctx, ownerID, pos.RecipientID)
	if err != nil {
		return apperr.NotFound("position")
	}
	return s.locked(ctx, task.ID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		current, err := tx.GetPosition(ctx, positionID)
		if err != nil {
			return err
		}
		if current.Status == model.PositionSigned {
			return apperr.Permission("signed fields cannot be deleted")
		}
		if task.Status != model.TaskDraft {
			return apperr.NotDraft("fields can be removed", task.Status)
		}
		return tx.DeletePosition(ctx, positionID)
	})
}

func (s *Store) ownedRecipient(ctx context.Context, ownerID, recipientID string) (*model.Recipient, *model.Task, error) {
	rc, err := s.repo.GetRecipient(ctx, recipientID)
	if err != nil {
		return nil, nil, lookupErr(err, "recipient")
	}
	task, err := s.repo.GetTask(ctx, rc.TaskID)
	if err != nil {
		return nil, nil, lookupErr(err, "recipient")
	}
	if task.OwnerID != ownerID {
		return nil, nil, apperr.NotFound("recipient")
	}
	return rc, task, nil
}

func checkGeometry(r coords.Rect, page int, size coords.PageSize, file *model.File) error {
	if v := coords.Validate(r, page); !v.Valid {
		return apperr.Validation("rect", "%s", strings.Join(v.Errors, "; "))
	}
	if !size.Valid() {
		return apperr.Validation("pageSize", "page width and height must be positive")
	}
	if file.PageCount > 0 && page > file.PageCount {
		return apperr.Validation("page", "page %d does not exist (document has %d pages)", page, file.PageCount)
	}
	return nil
}

var checkboxValues = map[string]bool{"true": true, "false": true}

func normalizeValue(t model.FieldType, raw string) (string, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return "", apperr.Validation("value", "value must not be empty")
	}
	switch t {
	case model.FieldEmail:
		addr, err := mail.ParseAddress(v)
		if err != nil {
			return "", apperr.Validation("value", "invalid email address")
		}
		return addr.Address, nil
	case model.FieldCheckbox:
		v = strings.ToLower(v)
		if !checkboxValues[v] {
			return "", apperr.Validation("value", "checkbox value must be true or false")
		}
	}
	return v, nil
}

func lookupErr(err error, entity string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(entity)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}
