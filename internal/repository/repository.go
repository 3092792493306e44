// Package repository persists tasks, files, recipients and signature
// positions. Postgres is the production implementation; Memory backs tests
// and single-process development runs.
package repository

import (
	"context"
	"errors"

	"github.com/dharsanguruparan/VaultSign/internal/model"
)

var (
	// ErrNotFound is returned when a row does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a uniqueness constraint is violated, such
	// as a second recipient with the same email on one task.
	ErrDuplicate = errors.New("duplicate record")
)

// TxFunc runs inside WithTaskLock. tx is bound to the lock's transaction and
// task is the locked row as read under the lock.
type TxFunc func(ctx context.Context, tx Repository, task *model.Task) error

// Repository is the persistence contract used by every service.
type Repository interface {
	CreateTask(ctx context.Context, task *model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	ListTasks(ctx context.Context, ownerID string) ([]*model.Task, error)
	UpdateTask(ctx context.Context, task *model.Task) error
	// DeleteTask removes the task and cascades to its files, recipients and
	// positions.
	DeleteTask(ctx context.Context, id string) error

	CreateFile(ctx context.Context, file *model.File) error
	GetFile(ctx context.Context, id string) (*model.File, error)
	// ListFiles returns the task's files ordered by OrderIndex.
	ListFiles(ctx context.Context, taskID string) ([]*model.File, error)
	UpdateFile(ctx context.Context, file *model.File) error
	DeleteFile(ctx context.Context, id string) error
	NextFileOrder(ctx context.Context, taskID string) (int, error)

	CreateRecipient(ctx context.Context, r *model.Recipient) error
	GetRecipient(ctx context.Context, id string) (*model.Recipient, error)
	GetRecipientByToken(ctx context.Context, token string) (*model.Recipient, error)
	// ListRecipients returns the task's recipients in creation order.
	ListRecipients(ctx context.Context, taskID string) ([]*model.Recipient, error)
	UpdateRecipient(ctx context.Context, r *model.Recipient) error
	DeleteRecipient(ctx context.Context, id string) error

	CreatePosition(ctx context.Context, p *model.SignaturePosition) error
	GetPosition(ctx context.Context, id string) (*model.SignaturePosition, error)
	ListPositionsByRecipient(ctx context.Context, recipientID string) ([]*model.SignaturePosition, error)
	ListPositionsByFile(ctx context.Context, fileID string) ([]*model.SignaturePosition, error)
	UpdatePosition(ctx context.Context, p *model.SignaturePosition) error
	DeletePosition(ctx context.Context, id string) error

	// WithTaskLock holds an exclusive lock on the task for the duration of
	// fn. Concurrent callers for the same task are serialized, which makes
	// check-then-act sequences on task status safe.
	WithTaskLock(ctx context.Context, taskID string, fn TxFunc) error
}
