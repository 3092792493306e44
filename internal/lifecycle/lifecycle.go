// Package lifecycle is the task status state machine. The transition table is
// data: each allowed (from, to) pair lists the timestamp mutations it causes,
// and every applied transition also bumps UpdatedAt.
package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/model"
)

// Field names a task timestamp touched by a transition.
type Field string

const (
	FieldSentAt      Field = "sent_at"
	FieldCompletedAt Field = "completed_at"
)

// Op is what happens to a Field.
type Op int

const (
	OpSet Op = iota
	OpClear
)

// Mutation is a single timestamp side effect.
type Mutation struct {
	Field Field
	Op    Op
}

func setField(f Field) Mutation   { return Mutation{Field: f, Op: OpSet} }
func clearField(f Field) Mutation { return Mutation{Field: f, Op: OpClear} }

type edge struct {
	from, to model.TaskStatus
}

// table is the single source of truth for legal transitions.
var table = map[edge][]Mutation{
	{model.TaskDraft, model.TaskInProgress}:     {setField(FieldSentAt)},
	{model.TaskDraft, model.TaskCancelled}:      {clearField(FieldCompletedAt)},
	{model.TaskDraft, model.TaskTrashed}:        nil,
	{model.TaskInProgress, model.TaskCompleted}: {setField(FieldCompletedAt)},
	{model.TaskInProgress, model.TaskCancelled}: {clearField(FieldCompletedAt)},
	{model.TaskInProgress, model.TaskTrashed}:   nil,
	{model.TaskCompleted, model.TaskTrashed}:    nil,
	{model.TaskCancelled, model.TaskDraft}:      {clearField(FieldSentAt), clearField(FieldCompletedAt)},
	{model.TaskCancelled, model.TaskTrashed}:    nil,
}

var rules = map[model.TaskStatus]string{
	model.TaskDraft:      "draft tasks may move to in_progress, cancelled or trashed",
	model.TaskInProgress: "in_progress tasks may move to completed, cancelled or trashed",
	model.TaskCompleted:  "completed tasks may only move to trashed",
	model.TaskCancelled:  "cancelled tasks may move back to draft or to trashed",
	model.TaskTrashed:    "trashed tasks are terminal and can only be deleted",
}

// AllowedFrom lists the statuses reachable from s, in lifecycle order.
func AllowedFrom(s model.TaskStatus) []model.TaskStatus {
	var out []model.TaskStatus
	for _, to := range model.TaskStatuses {
		if _, ok := table[edge{s, to}]; ok {
			out = append(out, to)
		}
	}
	return out
}

// Mutations returns the side effects of from → to, and whether the pair is
// allowed at all.
func Mutations(from, to model.TaskStatus) ([]Mutation, bool) {
	m, ok := table[edge{from, to}]
	return m, ok
}

// Rule describes the outbound transitions of s in words.
func Rule(s model.TaskStatus) string {
	if r, ok := rules[s]; ok {
		return r
	}
	return fmt.Sprintf("%q is not a known task status", s)
}

// TransitionError is returned for a disallowed pair. It carries everything a
// UI needs to self-correct.
type TransitionError struct {
	Current   model.TaskStatus
	Attempted model.TaskStatus
	Allowed   []model.TaskStatus
	Rule      string
}

func (e *TransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	list := strings.Join(allowed, ", ")
	if list == "" {
		list = "none"
	}
	return fmt.Sprintf("cannot move task from %q to %q: %s (allowed: %s)", e.Current, e.Attempted, e.Rule, list)
}

// Validate checks current → target. A same-state transition is always valid.
func Validate(current, target model.TaskStatus) error {
	if !target.Valid() {
		return apperr.Validation("status", "unknown task status %q", target)
	}
	if current == target {
		return nil
	}
	if _, ok := table[edge{current, target}]; ok {
		return nil
	}
	te := &TransitionError{
		Current:   current,
		Attempted: target,
		Allowed:   AllowedFrom(current),
		Rule:      Rule(current),
	}
	return &apperr.Error{Kind: apperr.KindStateConflict, Code: "invalid_transition", Message: te.Error(), Err: te}
}

// Apply moves task to target and applies the transition's timestamp
// mutations. The task is left untouched when the transition is rejected.
func Apply(task *model.Task, target model.TaskStatus, now time.Time) error {
	if err := Validate(task.Status, target); err != nil {
		return err
	}
	mutations, _ := Mutations(task.Status, target)
	for _, m := range mutations {
		var ts **time.Time
		switch m.Field {
		case FieldSentAt:
			ts = &task.SentAt
		case FieldCompletedAt:
			ts = &task.CompletedAt
		default:
			continue
		}
		if m.Op == OpSet {
			t := now
			*ts = &t
		} else {
			*ts = nil
		}
	}
	task.Status = target
	task.UpdatedAt = now
	return nil
}
