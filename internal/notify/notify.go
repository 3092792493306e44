// Package notify delivers transactional email. Delivery is fire and forget
// from the caller's point of view: failures are logged and never returned to
// signing or finalization code.
package notify

import (
	"context"

	"github.com/rs/zerolog"
)

// Message is one outgoing email. Bodies are plain formatted strings.
type Message struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Text    string   `json:"text"`
	HTML    string   `json:"html,omitempty"`
	// Kind labels the message in logs, e.g. "invite".
	Kind string `json:"kind"`
}

// Sender performs the actual delivery and returns a provider message id.
type Sender interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// Dispatcher hands a message to a Sender, either inline or through the job
// queue.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg Message) error
}

// Inline sends immediately on the calling goroutine.
type Inline struct {
	Sender Sender
	Log    zerolog.Logger
}

func (d Inline) Dispatch(ctx context.Context, msg Message) error {
	id, err := d.Sender.Send(ctx, msg)
	if err != nil {
		return err
	}
	d.Log.Debug().Str("kind", msg.Kind).Str("message_id", id).Strs("to", msg.To).Msg("email sent")
	return nil
}

// LogSender writes messages to the log instead of delivering them. It is the
// default when no SMTP server is configured.
type LogSender struct {
	Log zerolog.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) (string, error) {
	s.Log.Info().
		Str("kind", msg.Kind).
		Strs("to", msg.To).
		Str("subject", msg.Subject).
		Str("body", msg.Text).
		Msg("email (log sender)")
	return "log", nil
}
