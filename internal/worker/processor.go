// Package worker handles the asynq jobs produced by the API process.
package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/dharsanguruparan/VaultSign/internal/notify"
	"github.com/dharsanguruparan/VaultSign/internal/queue"
)

// Extractor is the text extraction step, satisfied by processing.Extractor.
type Extractor interface {
	Run(ctx context.Context, fileID string) error
}

// Processor is plugged into the asynq worker loop.
type Processor struct {
	extractor Extractor
	sender    notify.Sender
	log       zerolog.Logger
}

// NewProcessor constructs a worker processor.
func NewProcessor(extractor Extractor, sender notify.Sender, log zerolog.Logger) *Processor {
	return &Processor{extractor: extractor, sender: sender, log: log}
}

// Handler registers the job handlers.
func (p *Processor) Handler() *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeFileExtract, p.handleExtract)
	mux.HandleFunc(queue.TypeEmailSend, p.handleEmail)
	return mux
}

func (p *Processor) handleExtract(ctx context.Context, task *asynq.Task) error {
	var payload queue.ExtractPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if err := p.extractor.Run(ctx, payload.FileID); err != nil {
		p.log.Error().Err(err).Str("task_id", payload.TaskID).Str("file_id", payload.FileID).Msg("extract failed")
		return err
	}
	p.log.Info().Str("task_id", payload.TaskID).Str("file_id", payload.FileID).Msg("file text extracted")
	return nil
}

func (p *Processor) handleEmail(ctx context.Context, task *asynq.Task) error {
	var msg notify.Message
	if err := json.Unmarshal(task.Payload(), &msg); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	id, err := p.sender.Send(ctx, msg)
	if err != nil {
		p.log.Warn().Err(err).Str("kind", msg.Kind).Strs("to", msg.To).Msg("email delivery failed")
		return err
	}
	p.log.Info().Str("kind", msg.Kind).Str("message_id", id).Msg("email sent")
	return nil
}
