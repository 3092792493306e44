// Package compose renders signed field values onto the original PDFs and
// stores the results as the task's final documents.
package compose

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	pdfutil "github.com/dharsanguruparan/VaultSign/internal/pdf"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
)

// GeneratedFile is a final document written by Compose.
type GeneratedFile struct {
	FileID    string `json:"fileId"`
	ObjectKey string `json:"objectKey"`
	URL       string `json:"url"`
}

// FileError is a per-file failure. Other files are unaffected.
type FileError struct {
	FileID  string `json:"fileId"`
	Message string `json:"message"`
}

// Result lists what Compose produced, in file order.
type Result struct {
	TaskID         string          `json:"taskId"`
	GeneratedFiles []GeneratedFile `json:"generatedFiles"`
	Errors         []FileError     `json:"errors"`
}

// Pipeline composes final documents. It never changes task status and never
// retries; callers run it again to regenerate.
type Pipeline struct {
	repo        repository.Repository
	store       storage.ObjectStore
	events      events.Publisher
	log         zerolog.Logger
	concurrency int
	now         func() time.Time
}

// New returns a Pipeline processing at most concurrency files at once.
func New(repo repository.Repository, store storage.ObjectStore, pub events.Publisher, concurrency int, log zerolog.Logger) *Pipeline {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Pipeline{repo: repo, store: store, events: pub, log: log, concurrency: concurrency, now: time.Now}
}

type outcome struct {
	file *GeneratedFile
	err  error
}

// Compose stamps every file of the task. The returned error is only set when
// the task's files or fields could not be listed at all.
func (p *Pipeline) Compose(ctx context.Context, taskID string) (*Result, error) {
	files, err := p.repo.ListFiles(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	fields, err := p.signedFields(ctx, taskID)
	if err != nil {
		return nil, err
	}

	outcomes := make([]outcome, len(files))
	var (
		g  errgroup.Group
		mu sync.Mutex
	)
	g.SetLimit(p.concurrency)
	for i, file := range files {
		g.Go(func() error {
			gen, err := p.composeFile(ctx, file, fields[file.ID])
			if err = p.record(ctx, file, gen, err); err != nil {
				gen = nil
			}
			mu.Lock()
			outcomes[i] = outcome{file: gen, err: err}
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	res := &Result{TaskID: taskID, GeneratedFiles: []GeneratedFile{}, Errors: []FileError{}}
	for i, o := range outcomes {
		if o.err != nil {
			res.Errors = append(res.Errors, FileError{FileID: files[i].ID, Message: o.err.Error()})
			continue
		}
		res.GeneratedFiles = append(res.GeneratedFiles, *o.file)
	}
	p.log.Info().
		Str("task_id", taskID).
		Int("generated", len(res.GeneratedFiles)).
		Int("failed", len(res.Errors)).
		Msg("composition finished")
	return res, nil
}

// signedFields collects signed positions per file, skipping recipients that
// were cancelled.
func (p *Pipeline) signedFields(ctx context.Context, taskID string) (map[string][]*model.SignaturePosition, error) {
	recipients, err := p.repo.ListRecipients(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("list recipients: %w", err)
	}
	out := make(map[string][]*model.SignaturePosition)
	for _, rc := range recipients {
		if rc.Status == model.RecipientCancelled {
			continue
		}
		list, err := p.repo.ListPositionsByRecipient(ctx, rc.ID)
		if err != nil {
			return nil, fmt.Errorf("list positions for %s: %w", rc.ID, err)
		}
		for _, pos := range list {
			if pos.Status == model.PositionSigned && pos.Value != nil {
				out[pos.FileID] = append(out[pos.FileID], pos)
			}
		}
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return list[i].Page < list[j].Page })
	}
	return out, nil
}

func (p *Pipeline) composeFile(ctx context.Context, file *model.File, positions []*model.SignaturePosition) (*GeneratedFile, error) {
	data, err := p.store.Download(ctx, file.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("download original: %w", err)
	}
	sizes, err := pdfutil.PageSizes(data)
	if err != nil {
		return nil, fmt.Errorf("read page sizes: %w", err)
	}
	fields := make([]pdfutil.Field, 0, len(positions))
	for _, pos := range positions {
		if pos.Page < 1 || pos.Page > len(sizes) {
			return nil, fmt.Errorf("field %s is on page %d but the document has %d pages", pos.ID, pos.Page, len(sizes))
		}
		f, ok := renderField(pos, sizes[pos.Page-1])
		if ok {
			fields = append(fields, f)
		}
	}
	stamped, err := pdfutil.Stamp(data, fields)
	if err != nil {
		return nil, fmt.Errorf("stamp: %w", err)
	}
	key := storage.FinalKey(file.TaskID, file.ID)
	url, err := p.store.Upload(ctx, key, stamped, "application/pdf")
	if err != nil {
		return nil, fmt.Errorf("upload final: %w", err)
	}
	return &GeneratedFile{FileID: file.ID, ObjectKey: key, URL: url}, nil
}

var checked = map[string]bool{"true": true, "on": true, "yes": true, "1": true, "x": true, "checked": true}

func renderField(pos *model.SignaturePosition, page coords.PageSize) (pdfutil.Field, bool) {
	f := pdfutil.Field{Page: pos.Page, Rect: coords.ToPDF(pos.Rect, page), Text: *pos.Value}
	switch pos.FieldType {
	case model.FieldSignature:
		f.Style = pdfutil.StyleSignature
	case model.FieldCheckbox:
		if !checked[strings.ToLower(strings.TrimSpace(*pos.Value))] {
			return f, false
		}
		f.Text = "X"
	}
	return f, true
}

// record saves the file's compose outcome and publishes it. It returns the
// failure to report for the file: cerr, or the error saving a stamped
// document's state, in which case the file is recorded as failed instead.
func (p *Pipeline) record(ctx context.Context, file *model.File, gen *GeneratedFile, cerr error) error {
	now := p.now().UTC()
	if cerr == nil {
		done := *file
		done.Status = model.FileStatusCompleted
		done.FinalObjectKey = &gen.ObjectKey
		done.FinalURL = &gen.URL
		done.ErrorMessage = nil
		done.UpdatedAt = now
		if err := p.repo.UpdateFile(ctx, &done); err != nil {
			cerr = fmt.Errorf("save final document state: %w", err)
		} else {
			*file = done
			ev := events.New(events.FileFinalized, file.TaskID)
			ev.FileID = file.ID
			p.events.Publish(ctx, ev)
			return nil
		}
	}

	msg := cerr.Error()
	file.Status = model.FileStatusFailed
	file.ErrorMessage = &msg
	file.UpdatedAt = now
	p.log.Error().Err(cerr).Str("task_id", file.TaskID).Str("file_id", file.ID).Msg("compose file failed")
	if err := p.repo.UpdateFile(ctx, file); err != nil {
		p.log.Error().Err(err).Str("file_id", file.ID).Msg("save failed compose state")
	}
	ev := events.New(events.FileFinalizeFail, file.TaskID)
	ev.FileID = file.ID
	ev.Data = map[string]any{"error": msg}
	p.events.Publish(ctx, ev)
	return cerr
}
