// Package tasks is the owner-facing service: tasks, their files and their
// recipients.
package tasks

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/compose"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/lifecycle"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	pdfutil "github.com/dharsanguruparan/VaultSign/internal/pdf"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/signing"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
)

const maxTitleLength = 200

// ExtractQueue schedules text extraction for an uploaded file.
type ExtractQueue interface {
	EnqueueExtract(ctx context.Context, taskID, fileID string) error
}

// Composer regenerates final documents.
type Composer interface {
	Compose(ctx context.Context, taskID string) (*compose.Result, error)
}

// Mailer sends the task emails. *notify.Notifier implements it.
type Mailer interface {
	Invite(ctx context.Context, task *model.Task, r *model.Recipient)
	Cancelled(ctx context.Context, task *model.Task, recipients []*model.Recipient)
}

// Deps are the collaborators of Service.
type Deps struct {
	Repo        repository.Repository
	Store       storage.ObjectStore
	Extract     ExtractQueue
	Composer    Composer
	Mailer      Mailer
	Events      events.Publisher
	Log         zerolog.Logger
	URLTTL      time.Duration
	MaxFileSize int64
}

// Service implements the owner API.
type Service struct {
	Deps
	now func() time.Time
}

// New returns a Service.
func New(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	return &Service{Deps: d, now: time.Now}
}

// TaskInput creates a task.
type TaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// TaskPatch edits a task's text.
type TaskPatch struct {
	Title       *string `json:"title"`
	Description *string `json:"description"`
}

// Detail is a task together with its files and recipients.
type Detail struct {
	*model.Task
	Files              []*model.File      `json:"files"`
	Recipients         []*model.Recipient `json:"recipients"`
	AllowedTransitions []model.TaskStatus `json:"allowedTransitions"`
}

// withOwnedTask runs fn under the task lock once ownership is confirmed. fn
// sees the task as locked, so status checks made there cannot go stale.
func (s *Service) withOwnedTask(ctx context.Context, ownerID, taskID string, fn repository.TxFunc) error {
	err := s.Repo.WithTaskLock(ctx, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.OwnerID != ownerID {
			return apperr.NotFound("task")
		}
		return fn(ctx, tx, task)
	})
	return lookupErr(err, "task")
}

func (s *Service) ownedTask(ctx context.Context, ownerID, taskID string) (*model.Task, error) {
	task, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, lookupErr(err, "task")
	}
	if task.OwnerID != ownerID {
		return nil, apperr.NotFound("task")
	}
	return task, nil
}

// CreateTask starts a new draft.
func (s *Service) CreateTask(ctx context.Context, ownerID, ownerEmail string, in TaskInput) (*model.Task, error) {
	title, err := validTitle(in.Title)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	task := &model.Task{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		OwnerEmail:  ownerEmail,
		Title:       title,
		Description: strings.TrimSpace(in.Description),
		Status:      model.TaskDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.Repo.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	s.Log.Info().Str("task_id", task.ID).Str("owner_id", ownerID).Msg("task created")
	return task, nil
}

func validTitle(raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" {
		return "", apperr.Validation("title", "title is required")
	}
	if len(title) > maxTitleLength {
		return "", apperr.Validation("title", "title must be at most %d characters", maxTitleLength)
	}
	return title, nil
}

// ListTasks returns the owner's tasks, newest first.
func (s *Service) ListTasks(ctx context.Context, ownerID string) ([]*model.Task, error) {
	list, err := s.Repo.ListTasks(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return list, nil
}

// GetTask returns the task with its files and recipients.
func (s *Service) GetTask(ctx context.Context, ownerID, taskID string) (*Detail, error) {
	task, err := s.ownedTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	files, err := s.Repo.ListFiles(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	recipients, err := s.Repo.ListRecipients(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	allowed := lifecycle.AllowedFrom(task.Status)
	if allowed == nil {
		allowed = []model.TaskStatus{}
	}
	return &Detail{Task: task, Files: files, Recipients: recipients, AllowedTransitions: allowed}, nil
}

// UpdateTask edits title and description of a task that is not trashed.
// The write happens under the task lock so a concurrent completion is never
// overwritten with a stale status.
func (s *Service) UpdateTask(ctx context.Context, ownerID, taskID string, patch TaskPatch) (*model.Task, error) {
	var title *string
	if patch.Title != nil {
		t, err := validTitle(*patch.Title)
		if err != nil {
			return nil, err
		}
		title = &t
	}
	var out *model.Task
	err := s.withOwnedTask(ctx, ownerID, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status == model.TaskTrashed {
			return apperr.Conflict("trashed tasks cannot be edited")
		}
		if title != nil {
			task.Title = *title
		}
		if patch.Description != nil {
			task.Description = strings.TrimSpace(*patch.Description)
		}
		task.UpdatedAt = s.now().UTC()
		if err := tx.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("update task: %w", err)
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Transition moves the task to target. Sending goes through Send and
// completion is reserved for the completion aggregator.
func (s *Service) Transition(ctx context.Context, ownerID, taskID string, target model.TaskStatus) (*model.Task, error) {
	switch target {
	case model.TaskInProgress:
		return s.Send(ctx, ownerID, taskID)
	case model.TaskCompleted:
		return nil, apperr.Permission("tasks complete automatically once every recipient has signed")
	}

	var (
		out       *model.Task
		from      model.TaskStatus
		cancelled []*model.Recipient
	)
	err := s.Repo.WithTaskLock(ctx, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.OwnerID != ownerID {
			return apperr.NotFound("task")
		}
		from = task.Status
		now := s.now().UTC()
		if err := lifecycle.Apply(task, target, now); err != nil {
			return err
		}
		if from == target {
			out = task
			return nil
		}
		recipients, err := tx.ListRecipients(ctx, taskID)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}
		for _, rc := range recipients {
			switch {
			case target == model.TaskCancelled && rc.Status != model.RecipientSigned && rc.Status != model.RecipientCancelled:
				rc.Status = model.RecipientCancelled
			case from == model.TaskCancelled && target == model.TaskDraft && rc.Status == model.RecipientCancelled:
				rc.Status = model.RecipientPending
				rc.ViewedAt = nil
			default:
				continue
			}
			rc.UpdatedAt = now
			if err := tx.UpdateRecipient(ctx, rc); err != nil {
				return fmt.Errorf("update recipient %s: %w", rc.ID, err)
			}
			if rc.Status == model.RecipientCancelled {
				cancelled = append(cancelled, rc)
			}
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, lookupErr(err, "task")
	}
	if from != target {
		s.Log.Info().Str("task_id", taskID).Str("from", string(from)).Str("to", string(target)).Msg("task status changed")
	}
	if target == model.TaskCancelled && from != target {
		if from == model.TaskInProgress && s.Mailer != nil {
			s.Mailer.Cancelled(ctx, out, cancelled)
		}
		s.Events.Publish(ctx, events.New(events.TaskCancelled, taskID))
	}
	return out, nil
}

// Send moves a draft to in_progress and invites every recipient. The task
// needs at least one file and one recipient, and every recipient needs at
// least one field.
func (s *Service) Send(ctx context.Context, ownerID, taskID string) (*model.Task, error) {
	var (
		out     *model.Task
		invited []*model.Recipient
	)
	err := s.Repo.WithTaskLock(ctx, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.OwnerID != ownerID {
			return apperr.NotFound("task")
		}
		switch task.Status {
		case model.TaskDraft:
		case model.TaskInProgress:
			return apperr.Conflict("task has already been sent")
		default:
			return lifecycle.Validate(task.Status, model.TaskInProgress)
		}
		files, err := tx.ListFiles(ctx, taskID)
		if err != nil {
			return fmt.Errorf("list files: %w", err)
		}
		if len(files) == 0 {
			return apperr.Conflict("add at least one document before sending")
		}
		recipients, err := tx.ListRecipients(ctx, taskID)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}
		if len(recipients) == 0 {
			return apperr.Conflict("add at least one recipient before sending")
		}
		now := s.now().UTC()
		for _, rc := range recipients {
			placed, err := tx.ListPositionsByRecipient(ctx, rc.ID)
			if err != nil {
				return fmt.Errorf("list positions: %w", err)
			}
			if len(placed) == 0 {
				return apperr.Conflict("recipient %s has no fields to sign", rc.Email)
			}
			if rc.Status == model.RecipientSigned {
				continue
			}
			if rc.Token, err = signing.NewToken(now); err != nil {
				return err
			}
			rc.TokenExpiresAt = signing.ExpiryFrom(now)
			rc.Status = model.RecipientPending
			rc.UpdatedAt = now
			if err := tx.UpdateRecipient(ctx, rc); err != nil {
				return fmt.Errorf("issue token for %s: %w", rc.ID, err)
			}
			invited = append(invited, rc)
		}
		if err := lifecycle.Apply(task, model.TaskInProgress, now); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		out = task
		return nil
	})
	if err != nil {
		return nil, lookupErr(err, "task")
	}
	if s.Mailer != nil {
		for _, rc := range invited {
			s.Mailer.Invite(ctx, out, rc)
		}
	}
	ev := events.New(events.TaskSent, taskID)
	ev.Data = map[string]any{"recipients": len(invited)}
	s.Events.Publish(ctx, ev)
	s.Log.Info().Str("task_id", taskID).Int("recipients", len(invited)).Msg("task sent")
	return out, nil
}

// DeleteTask permanently removes a trashed task and its stored documents.
func (s *Service) DeleteTask(ctx context.Context, ownerID, taskID string) error {
	var files []*model.File
	err := s.withOwnedTask(ctx, ownerID, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskTrashed {
			return apperr.Conflict("only trashed tasks can be deleted (task is %s)", task.Status)
		}
		var err error
		if files, err = tx.ListFiles(ctx, taskID); err != nil {
			return fmt.Errorf("list files: %w", err)
		}
		return tx.DeleteTask(ctx, taskID)
	})
	if err != nil {
		return err
	}
	for _, f := range files {
		if err := s.deleteObjects(ctx, f); err != nil {
			s.Log.Warn().Err(err).Str("file_id", f.ID).Msg("stored object left behind")
		}
	}
	s.Log.Info().Str("task_id", taskID).Int("files", len(files)).Msg("task deleted")
	return nil
}

func (s *Service) deleteObjects(ctx context.Context, f *model.File) error {
	if err := s.Store.Delete(ctx, f.ObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	if f.FinalObjectKey != nil {
		if err := s.Store.Delete(ctx, *f.FinalObjectKey); err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
	}
	return nil
}

// UploadFile stores a PDF on a draft task and schedules text extraction.
func (s *Service) UploadFile(ctx context.Context, ownerID, taskID, name string, data []byte) (*model.File, error) {
	task, err := s.ownedTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskDraft {
		return nil, apperr.NotDraft("documents can be added", task.Status)
	}
	if s.MaxFileSize > 0 && int64(len(data)) > s.MaxFileSize {
		return nil, apperr.Validation("file", "file exceeds the %d byte limit", s.MaxFileSize)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		return nil, apperr.Validation("file", "only PDF documents are supported")
	}
	sizes, err := pdfutil.PageSizes(data)
	switch {
	case errors.Is(err, pdfutil.ErrEncrypted):
		return nil, apperr.Validation("file", "encrypted PDFs are not supported")
	case err != nil:
		return nil, apperr.Validation("file", "unreadable PDF: %v", err)
	}

	now := s.now().UTC()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "document.pdf"
	}
	file := &model.File{
		ID:           uuid.NewString(),
		TaskID:       taskID,
		OriginalName: name,
		DisplayName:  strings.TrimSuffix(name, ".pdf"),
		Size:         int64(len(data)),
		ContentType:  "application/pdf",
		Status:       model.FileStatusUploaded,
		PageCount:    len(sizes),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	file.ObjectKey = storage.OriginalKey(taskID, file.ID)
	if file.OriginalURL, err = s.Store.Upload(ctx, file.ObjectKey, data, file.ContentType); err != nil {
		return nil, err
	}
	err = s.withOwnedTask(ctx, ownerID, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskDraft {
			return apperr.NotDraft("documents can be added", task.Status)
		}
		order, err := tx.NextFileOrder(ctx, taskID)
		if err != nil {
			return fmt.Errorf("next file order: %w", err)
		}
		file.OrderIndex = order
		if err := tx.CreateFile(ctx, file); err != nil {
			return fmt.Errorf("create file: %w", err)
		}
		return nil
	})
	if err != nil {
		_ = s.Store.Delete(ctx, file.ObjectKey)
		return nil, err
	}
	if s.Extract != nil {
		if err := s.Extract.EnqueueExtract(ctx, taskID, file.ID); err != nil {
			s.Log.Warn().Err(err).Str("file_id", file.ID).Msg("could not schedule text extraction")
		}
	}
	s.Log.Info().Str("task_id", taskID).Str("file_id", file.ID).Int("pages", file.PageCount).Int64("size", file.Size).Msg("file uploaded")
	return file, nil
}

// ListFiles returns the task's documents in order.
func (s *Service) ListFiles(ctx context.Context, ownerID, taskID string) ([]*model.File, error) {
	if _, err := s.ownedTask(ctx, ownerID, taskID); err != nil {
		return nil, err
	}
	files, err := s.Repo.ListFiles(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

func (s *Service) ownedFile(ctx context.Context, ownerID, fileID string) (*model.File, *model.Task, error) {
	file, err := s.Repo.GetFile(ctx, fileID)
	if err != nil {
		return nil, nil, lookupErr(err, "file")
	}
	task, err := s.ownedTask(ctx, ownerID, file.TaskID)
	if err != nil {
		return nil, nil, apperr.NotFound("file")
	}
	return file, task, nil
}

// FileURL returns a short-lived link to the original, or to the signed
// document when final is set.
func (s *Service) FileURL(ctx context.Context, ownerID, fileID string, final bool) (string, error) {
	file, _, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return "", err
	}
	key := file.ObjectKey
	if final {
		if file.FinalObjectKey == nil {
			return "", apperr.NotFound("signed document")
		}
		key = *file.FinalObjectKey
	}
	return s.Store.SignedURL(ctx, key, s.URLTTL)
}

// DeleteFile removes a document and its fields from a draft task.
func (s *Service) DeleteFile(ctx context.Context, ownerID, fileID string) error {
	file, task, err := s.ownedFile(ctx, ownerID, fileID)
	if err != nil {
		return err
	}
	err = s.withOwnedTask(ctx, ownerID, task.ID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskDraft {
			return apperr.NotDraft("documents can be removed", task.Status)
		}
		if err := tx.DeleteFile(ctx, fileID); err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.NotFound("file")
			}
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := s.deleteObjects(ctx, file); err != nil {
		s.Log.Warn().Err(err).Str("file_id", fileID).Msg("stored object left behind")
	}
	return nil
}

// RegenerateFinal composes the signed documents of a completed task again.
func (s *Service) RegenerateFinal(ctx context.Context, ownerID, taskID string) (*compose.Result, error) {
	task, err := s.ownedTask(ctx, ownerID, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != model.TaskCompleted {
		return nil, apperr.Conflict("final documents exist only for completed tasks (task is %s)", task.Status)
	}
	return s.Composer.Compose(ctx, taskID)
}

func lookupErr(err error, entity string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return apperr.NotFound(entity)
	}
	return err
}

func normalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil {
		return "", apperr.Validation("email", "invalid email address")
	}
	return strings.ToLower(addr.Address), nil
}
