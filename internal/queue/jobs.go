// Package queue defines the asynq task types and the client side used to
// enqueue them.
package queue

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/VaultSign/internal/notify"
)

const (
	// TypeFileExtract is scheduled each time a PDF is uploaded.
	TypeFileExtract = "file:extract"
	// TypeEmailSend delivers one notify.Message.
	TypeEmailSend = "email:send"
)

// ExtractPayload tells the worker which file to read.
type ExtractPayload struct {
	TaskID string `json:"task_id"`
	FileID string `json:"file_id"`
}

type enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
	Close() error
}

// Client enqueues jobs onto Redis.
type Client struct {
	client enqueuer
}

// NewClient connects an asynq client.
func NewClient(opt asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(opt)}
}

// EnqueueExtract enqueues a text extraction job.
func (c *Client) EnqueueExtract(ctx context.Context, taskID, fileID string) error {
	return c.enqueue(ctx, TypeFileExtract, ExtractPayload{TaskID: taskID, FileID: fileID}, asynq.MaxRetry(5))
}

// Dispatch enqueues an email so delivery happens in the worker. It
// satisfies notify.Dispatcher.
func (c *Client) Dispatch(ctx context.Context, msg notify.Message) error {
	return c.enqueue(ctx, TypeEmailSend, msg, asynq.MaxRetry(3))
}

func (c *Client) enqueue(ctx context.Context, typ string, payload any, opts ...asynq.Option) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if _, err := c.client.EnqueueContext(ctx, asynq.NewTask(typ, data), opts...); err != nil {
		return fmt.Errorf("enqueue %s: %w", typ, err)
	}
	return nil
}

// Close releases the Redis connection.
func (c *Client) Close() error {
	return c.client.Close()
}
