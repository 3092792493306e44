// Package events publishes domain events about task progress. Publishing is
// best effort: failures are logged and never reach the caller.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Type names a domain event.
type Type string

const (
	TaskSent         Type = "task.sent"
	TaskCancelled    Type = "task.cancelled"
	TaskCompleted    Type = "task.completed"
	RecipientViewed  Type = "recipient.viewed"
	RecipientSigned  Type = "recipient.signed"
	FileFinalized    Type = "file.finalized"
	FileFinalizeFail Type = "file.finalize_failed"
)

// Event is the JSON document written to the topic.
type Event struct {
	ID          string         `json:"id"`
	Type        Type           `json:"type"`
	TaskID      string         `json:"task_id"`
	RecipientID string         `json:"recipient_id,omitempty"`
	FileID      string         `json:"file_id,omitempty"`
	OccurredAt  time.Time      `json:"occurred_at"`
	Data        map[string]any `json:"data,omitempty"`
}

// New stamps an event with an id and the current time.
func New(t Type, taskID string) Event {
	return Event{ID: uuid.NewString(), Type: t, TaskID: taskID, OccurredAt: time.Now().UTC()}
}

// Publisher delivers events. Implementations must not block the caller on
// delivery failures.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop drops every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// messageWriter is the part of *kafka.Writer the publisher needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events keyed by task id so one task's events stay
// ordered within a partition.
type KafkaPublisher struct {
	writer messageWriter
	log    zerolog.Logger
}

// NewKafkaPublisher creates a publisher for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string, log zerolog.Logger) *KafkaPublisher {
	w := &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
	}
	return &KafkaPublisher{writer: w, log: log}
}

func (p *KafkaPublisher) Publish(ctx context.Context, e Event) {
	data, err := json.Marshal(e)
	if err != nil {
		p.log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("events: failed to marshal event")
		return
	}
	if err := p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.TaskID), Value: data}); err != nil {
		p.log.Warn().Err(err).
			Str("event_type", string(e.Type)).
			Str("task_id", e.TaskID).
			Msg("events: failed to publish (non-fatal)")
		return
	}
	p.log.Debug().Str("event_type", string(e.Type)).Str("task_id", e.TaskID).Msg("events: published")
}

// Close flushes pending messages.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Recorder keeps published events in memory. The CLI uses it to print what a
// command emitted; tests use it to assert on side effects.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Publish(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// OfType returns the recorded events of type t.
func (r *Recorder) OfType(t Type) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
