package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/model"
)

const dispatchTimeout = 30 * time.Second

// Notifier composes the service's emails and dispatches them in the
// background. Errors are logged at warn level only.
type Notifier struct {
	dispatcher Dispatcher
	baseURL    string
	log        zerolog.Logger
	wg         sync.WaitGroup
}

// NewNotifier returns a Notifier whose links point at baseURL.
func NewNotifier(d Dispatcher, baseURL string, log zerolog.Logger) *Notifier {
	return &Notifier{dispatcher: d, baseURL: strings.TrimRight(baseURL, "/"), log: log}
}

// SigningLink is the public URL a recipient opens to sign.
func (n *Notifier) SigningLink(token string) string {
	return n.baseURL + "/sign/" + token
}

// Invite asks a recipient to sign.
func (n *Notifier) Invite(ctx context.Context, task *model.Task, r *model.Recipient) {
	var b strings.Builder
	fmt.Fprintf(&b, "Hello %s,\n\n", displayName(r))
	fmt.Fprintf(&b, "You have been asked to sign %q.\n", task.Title)
	if task.Description != "" {
		fmt.Fprintf(&b, "\n%s\n", task.Description)
	}
	fmt.Fprintf(&b, "\nOpen the documents here:\n%s\n\n", n.SigningLink(r.Token))
	fmt.Fprintf(&b, "This link expires on %s.\n", r.TokenExpiresAt.UTC().Format("2 January 2006"))

	n.send(ctx, Message{
		Kind:    "invite",
		To:      []string{r.Email},
		Subject: fmt.Sprintf("Signature requested: %s", task.Title),
		Text:    b.String(),
	})
}

// Completed tells the owner and every signer that the final documents are
// ready.
func (n *Notifier) Completed(ctx context.Context, task *model.Task, recipients []*model.Recipient, files []*model.File) {
	to := make([]string, 0, len(recipients)+1)
	if task.OwnerEmail != "" {
		to = append(to, task.OwnerEmail)
	}
	for _, r := range recipients {
		if r.Status == model.RecipientSigned {
			to = append(to, r.Email)
		}
	}
	if len(to) == 0 {
		return
	}

	var b strings.Builder
	fmt.Fprintf(&b, "All recipients have signed %q.\n\n", task.Title)
	b.WriteString("Documents:\n")
	for _, f := range files {
		state := "ready"
		if f.Status != model.FileStatusCompleted {
			state = "pending regeneration"
		}
		fmt.Fprintf(&b, "  - %s (%s)\n", f.DisplayName, state)
	}
	fmt.Fprintf(&b, "\nView the task: %s/tasks/%s\n", n.baseURL, task.ID)

	n.send(ctx, Message{
		Kind:    "completed",
		To:      to,
		Subject: fmt.Sprintf("Completed: %s", task.Title),
		Text:    b.String(),
	})
}

// Cancelled tells unsigned recipients their request was withdrawn.
func (n *Notifier) Cancelled(ctx context.Context, task *model.Task, recipients []*model.Recipient) {
	for _, r := range recipients {
		if r.Status != model.RecipientCancelled {
			continue
		}
		n.send(ctx, Message{
			Kind:    "cancelled",
			To:      []string{r.Email},
			Subject: fmt.Sprintf("Signature request withdrawn: %s", task.Title),
			Text:    fmt.Sprintf("Hello %s,\n\nThe request to sign %q has been cancelled by its owner.\n", displayName(r), task.Title),
		})
	}
}

func (n *Notifier) send(ctx context.Context, msg Message) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
		defer cancel()
		if err := n.dispatcher.Dispatch(ctx, msg); err != nil {
			n.log.Warn().Err(err).Str("kind", msg.Kind).Strs("to", msg.To).Msg("email dispatch failed (non-fatal)")
		}
	}()
}

// Wait blocks until every in-flight dispatch has returned.
func (n *Notifier) Wait() {
	n.wg.Wait()
}

func displayName(r *model.Recipient) string {
	if r.Name != "" {
		return r.Name
	}
	return r.Email
}
