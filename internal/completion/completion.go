// Package completion moves a task to completed once every recipient has
// signed and triggers the work that follows.
package completion

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/compose"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/lifecycle"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/notify"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
)

// Composer renders final documents.
type Composer interface {
	Compose(ctx context.Context, taskID string) (*compose.Result, error)
}

// Aggregator is the single place a task becomes completed.
type Aggregator struct {
	repo     repository.Repository
	composer Composer
	notifier *notify.Notifier
	events   events.Publisher
	log      zerolog.Logger
	now      func() time.Time
}

// New returns an Aggregator. notifier may be nil.
func New(repo repository.Repository, composer Composer, notifier *notify.Notifier, pub events.Publisher, log zerolog.Logger) *Aggregator {
	return &Aggregator{repo: repo, composer: composer, notifier: notifier, events: pub, log: log, now: time.Now}
}

// AllSigned reports whether at least one recipient is active and every
// recipient that was not cancelled has signed.
func AllSigned(recipients []*model.Recipient) bool {
	active := 0
	for _, r := range recipients {
		switch r.Status {
		case model.RecipientCancelled:
			continue
		case model.RecipientSigned:
			active++
		default:
			return false
		}
	}
	return active > 0
}

// TryFinalize completes the task if every recipient has signed. It returns
// true only for the call that performed the transition; concurrent and
// repeated calls return false. Composition and notification run after the
// lock is released and their failures are logged, not returned.
func (a *Aggregator) TryFinalize(ctx context.Context, taskID string) (bool, error) {
	var (
		completed  *model.Task
		recipients []*model.Recipient
	)
	err := a.repo.WithTaskLock(ctx, taskID, func(ctx context.Context, tx repository.Repository, task *model.Task) error {
		if task.Status != model.TaskInProgress {
			return nil
		}
		list, err := tx.ListRecipients(ctx, taskID)
		if err != nil {
			return fmt.Errorf("list recipients: %w", err)
		}
		if !AllSigned(list) {
			return nil
		}
		if err := lifecycle.Apply(task, model.TaskCompleted, a.now().UTC()); err != nil {
			return err
		}
		if err := tx.UpdateTask(ctx, task); err != nil {
			return fmt.Errorf("save task: %w", err)
		}
		completed, recipients = task, list
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("finalize task %s: %w", taskID, err)
	}
	if completed == nil {
		return false, nil
	}
	a.log.Info().Str("task_id", taskID).Msg("task completed")
	a.afterCompletion(ctx, completed, recipients)
	return true, nil
}

func (a *Aggregator) afterCompletion(ctx context.Context, task *model.Task, recipients []*model.Recipient) {
	res, err := a.composer.Compose(ctx, task.ID)
	if err != nil {
		a.log.Error().Err(err).Str("task_id", task.ID).Msg("compose final documents")
	} else if len(res.Errors) > 0 {
		a.log.Warn().Str("task_id", task.ID).Int("failed", len(res.Errors)).Msg("some final documents need regeneration")
	}

	files, err := a.repo.ListFiles(ctx, task.ID)
	if err != nil {
		a.log.Error().Err(err).Str("task_id", task.ID).Msg("list files for completion email")
	}
	if a.notifier != nil {
		a.notifier.Completed(ctx, task, recipients, files)
	}

	ev := events.New(events.TaskCompleted, task.ID)
	if res != nil {
		ev.Data = map[string]any{"generated": len(res.GeneratedFiles), "failed": len(res.Errors)}
	}
	a.events.Publish(ctx, ev)
}
