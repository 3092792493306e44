package lifecycle

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/model"
)

var allowed = map[model.TaskStatus][]model.TaskStatus{
	model.TaskDraft:      {model.TaskInProgress, model.TaskCancelled, model.TaskTrashed},
	model.TaskInProgress: {model.TaskCompleted, model.TaskCancelled, model.TaskTrashed},
	model.TaskCompleted:  {model.TaskTrashed},
	model.TaskCancelled:  {model.TaskDraft, model.TaskTrashed},
	model.TaskTrashed:    nil,
}

func isAllowed(from, to model.TaskStatus) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

func TestValidateTotality(t *testing.T) {
	for _, from := range model.TaskStatuses {
		for _, to := range model.TaskStatuses {
			err := Validate(from, to)
			if from == to || isAllowed(from, to) {
				assert.NoError(t, err, "%s -> %s", from, to)
				continue
			}
			require.Error(t, err, "%s -> %s", from, to)
			assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
		}
	}
}

func TestAllowedFrom(t *testing.T) {
	for from, want := range allowed {
		assert.Equal(t, want, AllowedFrom(from), "from %s", from)
	}
}

func TestCompletedCanOnlyBeTrashed(t *testing.T) {
	err := Validate(model.TaskCompleted, model.TaskInProgress)
	require.Error(t, err)

	var te *TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, model.TaskCompleted, te.Current)
	assert.Equal(t, model.TaskInProgress, te.Attempted)
	assert.Equal(t, []model.TaskStatus{model.TaskTrashed}, te.Allowed)
	assert.Contains(t, err.Error(), "completed tasks may only move to trashed")
}

func TestTrashedIsTerminal(t *testing.T) {
	assert.Empty(t, AllowedFrom(model.TaskTrashed))
	err := Validate(model.TaskTrashed, model.TaskDraft)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "allowed: none")
}

func TestValidateUnknownTarget(t *testing.T) {
	err := Validate(model.TaskDraft, "archived")
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
}

func TestApplySideEffects(t *testing.T) {
	created := time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)
	t1 := created.Add(time.Hour)
	t2 := t1.Add(time.Hour)
	t3 := t2.Add(time.Hour)
	t4 := t3.Add(time.Hour)

	task := &model.Task{Status: model.TaskDraft, CreatedAt: created, UpdatedAt: created}

	require.NoError(t, Apply(task, model.TaskInProgress, t1))
	assert.Equal(t, model.TaskInProgress, task.Status)
	require.NotNil(t, task.SentAt)
	assert.Equal(t, t1, *task.SentAt)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, t1, task.UpdatedAt)

	require.NoError(t, Apply(task, model.TaskCompleted, t2))
	require.NotNil(t, task.CompletedAt)
	assert.Equal(t, t2, *task.CompletedAt)
	assert.Equal(t, t1, *task.SentAt)

	require.NoError(t, Apply(task, model.TaskTrashed, t3))
	assert.Equal(t, model.TaskTrashed, task.Status)
	assert.NotNil(t, task.CompletedAt)

	err := Apply(task, model.TaskDraft, t4)
	require.Error(t, err)
	assert.Equal(t, model.TaskTrashed, task.Status)
	assert.Equal(t, t3, task.UpdatedAt)
}

func TestApplyCancelAndReactivate(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	sent := now.Add(-time.Hour)
	done := now.Add(-time.Minute)
	task := &model.Task{Status: model.TaskInProgress, SentAt: &sent, CompletedAt: &done}

	require.NoError(t, Apply(task, model.TaskCancelled, now))
	assert.Nil(t, task.CompletedAt)
	assert.NotNil(t, task.SentAt)

	later := now.Add(time.Hour)
	require.NoError(t, Apply(task, model.TaskDraft, later))
	assert.Nil(t, task.SentAt)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, later, task.UpdatedAt)
}

func TestApplySameStateOnlyTouchesUpdatedAt(t *testing.T) {
	sent := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
	now := sent.Add(time.Hour)
	task := &model.Task{Status: model.TaskInProgress, SentAt: &sent}

	require.NoError(t, Apply(task, model.TaskInProgress, now))
	assert.Equal(t, sent, *task.SentAt)
	assert.Nil(t, task.CompletedAt)
	assert.Equal(t, now, task.UpdatedAt)
}
