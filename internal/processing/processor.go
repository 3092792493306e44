// Package processing runs post-upload text extraction. Extractor holds the
// work itself; Pool runs it on local goroutines when no job queue is
// configured, and the asynq worker calls the same Extractor otherwise.
package processing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	pdfutil "github.com/dharsanguruparan/VaultSign/internal/pdf"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
)

// Extractor pulls plain text and the page count out of an uploaded PDF and
// stores them on the file record for the document-understanding service.
type Extractor struct {
	repo  repository.Repository
	store storage.ObjectStore
	log   zerolog.Logger
	now   func() time.Time
}

// NewExtractor constructs an Extractor.
func NewExtractor(repo repository.Repository, store storage.ObjectStore, log zerolog.Logger) *Extractor {
	return &Extractor{repo: repo, store: store, log: log, now: time.Now}
}

// Run extracts text for fileID. A file deleted in the meantime is not an
// error.
func (e *Extractor) Run(ctx context.Context, fileID string) error {
	file, err := e.repo.GetFile(ctx, fileID)
	if errors.Is(err, repository.ErrNotFound) {
		e.log.Debug().Str("file_id", fileID).Msg("extract: file gone, skipping")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load file: %w", err)
	}
	data, err := e.store.Download(ctx, file.ObjectKey)
	if err != nil {
		return fmt.Errorf("download original: %w", err)
	}
	text, err := pdfutil.ExtractText(data)
	if err != nil {
		// unreadable text is not retried; the document can still be signed
		e.log.Warn().Err(err).Str("file_id", fileID).Msg("extract: no text extracted")
		text = ""
	}
	if sizes, err := pdfutil.PageSizes(data); err == nil {
		file.PageCount = len(sizes)
	}
	file.ExtractedText = text
	file.UpdatedAt = e.now().UTC()
	if err := e.repo.UpdateFile(ctx, file); err != nil {
		return fmt.Errorf("save extracted text: %w", err)
	}
	e.log.Info().Str("file_id", fileID).Int("chars", len(text)).Msg("extract: done")
	return nil
}

// Job represents one extraction request.
type Job struct {
	TaskID string
	FileID string
}

// Pool consumes Jobs on a fixed number of goroutines.
type Pool struct {
	extractor *Extractor
	queue     chan Job
	workers   int
	log       zerolog.Logger
}

// NewPool builds a Pool with queue capacity tied to worker count.
func NewPool(extractor *Extractor, workers int, log zerolog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	return &Pool{
		extractor: extractor,
		queue:     make(chan Job, workers*4),
		workers:   workers,
		log:       log,
	}
}

// Start launches worker goroutines that exit when ctx is cancelled.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		go p.worker(ctx)
	}
}

// EnqueueExtract queues a job. A full queue drops the job; extraction is
// best effort and the file stays signable.
func (p *Pool) EnqueueExtract(_ context.Context, taskID, fileID string) error {
	select {
	case p.queue <- Job{TaskID: taskID, FileID: fileID}:
		return nil
	default:
		return fmt.Errorf("extraction queue full, dropping job for %s", fileID)
	}
}

func (p *Pool) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-p.queue:
			if err := p.extractor.Run(ctx, job.FileID); err != nil {
				p.log.Warn().Err(err).Str("file_id", job.FileID).Msg("extract failed")
			}
		}
	}
}
