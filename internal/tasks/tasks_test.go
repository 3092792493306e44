package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VaultSign/internal/apperr"
	"github.com/dharsanguruparan/VaultSign/internal/compose"
	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/pdf/pdftest"
	"github.com/dharsanguruparan/VaultSign/internal/positions"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/signing"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
)

const owner = "owner-1"

type fakeQueue struct {
	files []string
	err   error
}

func (q *fakeQueue) EnqueueExtract(_ context.Context, _, fileID string) error {
	q.files = append(q.files, fileID)
	return q.err
}

type fakeMailer struct {
	invites   []string
	cancelled []string
}

func (m *fakeMailer) Invite(_ context.Context, _ *model.Task, r *model.Recipient) {
	m.invites = append(m.invites, r.Email)
}

func (m *fakeMailer) Cancelled(_ context.Context, _ *model.Task, rs []*model.Recipient) {
	for _, r := range rs {
		m.cancelled = append(m.cancelled, r.Email)
	}
}

type fixture struct {
	repo      *repository.Memory
	store     *storage.Memory
	queue     *fakeQueue
	mailer    *fakeMailer
	recorder  *events.Recorder
	svc       *Service
	positions *positions.Store
	now       time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	repo := repository.NewMemory()
	store := storage.NewMemory(storage.NewSigner([]byte("k")), "http://localhost:8080")
	q := &fakeQueue{}
	m := &fakeMailer{}
	rec := &events.Recorder{}
	svc := New(Deps{
		Repo:        repo,
		Store:       store,
		Extract:     q,
		Composer:    compose.New(repo, store, rec, 2, zerolog.Nop()),
		Mailer:      m,
		Events:      rec,
		Log:         zerolog.Nop(),
		URLTTL:      15 * time.Minute,
		MaxFileSize: 1 << 20,
	})
	svc.now = func() time.Time { return now }
	return &fixture{
		repo: repo, store: store, queue: q, mailer: m, recorder: rec, svc: svc,
		positions: positions.New(repo, 0, zerolog.Nop()), now: now,
	}
}

// ready builds a draft with one file, one recipient and one field.
func (f *fixture) ready(t *testing.T) (*model.Task, *model.File, *model.Recipient) {
	t.Helper()
	ctx := context.Background()
	task, err := f.svc.CreateTask(ctx, owner, "owner@example.com", TaskInput{Title: "  Lease  "})
	require.NoError(t, err)
	file, err := f.svc.UploadFile(ctx, owner, task.ID, "lease.pdf", pdftest.Build(pdftest.Letter))
	require.NoError(t, err)
	rc, err := f.svc.AddRecipient(ctx, owner, task.ID, RecipientInput{Name: "Ann", Email: "Ann@Example.com"})
	require.NoError(t, err)
	_, _, err = f.positions.Create(ctx, owner, positions.CreateInput{
		RecipientID: rc.ID, FileID: file.ID, Page: 1,
		Rect: coords.Rect{X: 10, Y: 10, Width: 30, Height: 5}, PageWidth: 612, PageHeight: 792,
		FieldType: model.FieldSignature,
	})
	require.NoError(t, err)
	return task, file, rc
}

func TestCreateTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	task, err := f.svc.CreateTask(ctx, owner, "owner@example.com", TaskInput{Title: "  NDA ", Description: "mutual"})
	require.NoError(t, err)
	assert.Equal(t, "NDA", task.Title)
	assert.Equal(t, model.TaskDraft, task.Status)

	_, err = f.svc.CreateTask(ctx, owner, "", TaskInput{Title: "   "})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	detail, err := f.svc.GetTask(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, []model.TaskStatus{model.TaskInProgress, model.TaskCancelled, model.TaskTrashed}, detail.AllowedTransitions)

	_, err = f.svc.GetTask(ctx, "intruder", task.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestUploadFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.CreateTask(ctx, owner, "", TaskInput{Title: "Lease"})
	require.NoError(t, err)

	first, err := f.svc.UploadFile(ctx, owner, task.ID, "a.pdf", pdftest.Build(pdftest.Letter, pdftest.Letter))
	require.NoError(t, err)
	second, err := f.svc.UploadFile(ctx, owner, task.ID, "b.pdf", pdftest.Build(pdftest.Letter))
	require.NoError(t, err)
	assert.Equal(t, 0, first.OrderIndex)
	assert.Equal(t, 1, second.OrderIndex)
	assert.Equal(t, 2, first.PageCount)
	assert.Equal(t, "a", first.DisplayName)
	assert.Equal(t, []string{first.ID, second.ID}, f.queue.files)

	_, err = f.store.Download(ctx, first.ObjectKey)
	assert.NoError(t, err)

	_, err = f.svc.UploadFile(ctx, owner, task.ID, "notes.txt", []byte("hello"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.UploadFile(ctx, owner, task.ID, "broken.pdf", []byte("%PDF-1.4 nothing else"))
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	f.svc.MaxFileSize = 10
	_, err = f.svc.UploadFile(ctx, owner, task.ID, "big.pdf", pdftest.Build(pdftest.Letter))
	assert.ErrorContains(t, err, "byte limit")
}

func TestUploadSurvivesQueueFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.queue.err = errors.New("queue full")
	task, err := f.svc.CreateTask(ctx, owner, "", TaskInput{Title: "Lease"})
	require.NoError(t, err)

	_, err = f.svc.UploadFile(ctx, owner, task.ID, "a.pdf", pdftest.Build(pdftest.Letter))
	assert.NoError(t, err)
}

func TestRecipients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.CreateTask(ctx, owner, "", TaskInput{Title: "Lease"})
	require.NoError(t, err)

	rc, err := f.svc.AddRecipient(ctx, owner, task.ID, RecipientInput{Name: "Ann", Email: " Ann <ANN@example.com> "})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", rc.Email)
	assert.True(t, signing.WellFormed(rc.Token))
	assert.Equal(t, signing.ExpiryFrom(f.now), rc.TokenExpiresAt)

	_, err = f.svc.AddRecipient(ctx, owner, task.ID, RecipientInput{Email: "ann@example.com"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	_, err = f.svc.AddRecipient(ctx, owner, task.ID, RecipientInput{Email: "nope"})
	assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))

	updated, err := f.svc.UpdateRecipient(ctx, owner, rc.ID, RecipientInput{Name: "Ann B."})
	require.NoError(t, err)
	assert.Equal(t, "Ann B.", updated.Name)

	require.NoError(t, f.svc.RemoveRecipient(ctx, owner, rc.ID))
	list, err := f.svc.ListRecipients(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestSendRequirements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.CreateTask(ctx, owner, "", TaskInput{Title: "Lease"})
	require.NoError(t, err)

	_, err = f.svc.Send(ctx, owner, task.ID)
	assert.ErrorContains(t, err, "at least one document")

	file, err := f.svc.UploadFile(ctx, owner, task.ID, "a.pdf", pdftest.Build(pdftest.Letter))
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, owner, task.ID)
	assert.ErrorContains(t, err, "at least one recipient")

	rc, err := f.svc.AddRecipient(ctx, owner, task.ID, RecipientInput{Email: "ann@example.com"})
	require.NoError(t, err)
	_, err = f.svc.Send(ctx, owner, task.ID)
	assert.ErrorContains(t, err, "no fields")
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, _, err = f.positions.Create(ctx, owner, positions.CreateInput{
		RecipientID: rc.ID, FileID: file.ID, Page: 1,
		Rect: coords.Rect{X: 1, Y: 1, Width: 5, Height: 5}, PageWidth: 612, PageHeight: 792,
		FieldType: model.FieldDate,
	})
	require.NoError(t, err)
	sent, err := f.svc.Send(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TaskInProgress, sent.Status)
	require.NotNil(t, sent.SentAt)
	assert.Equal(t, []string{"ann@example.com"}, f.mailer.invites)
	assert.Len(t, f.recorder.OfType(events.TaskSent), 1)

	_, err = f.svc.Send(ctx, owner, task.ID)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
}

func TestTransitionRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, _, rc := f.ready(t)

	_, err := f.svc.Transition(ctx, owner, task.ID, model.TaskCompleted)
	assert.Equal(t, apperr.KindPermission, apperr.KindOf(err))

	_, err = f.svc.Transition(ctx, owner, task.ID, model.TaskInProgress)
	require.NoError(t, err)

	cancelled, err := f.svc.Transition(ctx, owner, task.ID, model.TaskCancelled)
	require.NoError(t, err)
	assert.Equal(t, model.TaskCancelled, cancelled.Status)
	got, err := f.repo.GetRecipient(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecipientCancelled, got.Status)
	assert.Equal(t, []string{"ann@example.com"}, f.mailer.cancelled)
	assert.Len(t, f.recorder.OfType(events.TaskCancelled), 1)

	reopened, err := f.svc.Transition(ctx, owner, task.ID, model.TaskDraft)
	require.NoError(t, err)
	assert.Nil(t, reopened.SentAt)
	got, err = f.repo.GetRecipient(ctx, rc.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RecipientPending, got.Status)

	_, err = f.svc.Transition(ctx, "intruder", task.ID, model.TaskTrashed)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestInvalidTransitionCarriesDetails(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, err := f.svc.CreateTask(ctx, owner, "", TaskInput{Title: "Lease"})
	require.NoError(t, err)
	_, err = f.svc.Transition(ctx, owner, task.ID, model.TaskTrashed)
	require.NoError(t, err)

	_, err = f.svc.Transition(ctx, owner, task.ID, model.TaskDraft)
	assert.Equal(t, "invalid_transition", apperr.CodeOf(err))
}

func TestDeleteTask(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, file, _ := f.ready(t)

	err := f.svc.DeleteTask(ctx, owner, task.ID)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	_, err = f.svc.Transition(ctx, owner, task.ID, model.TaskTrashed)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteTask(ctx, owner, task.ID))

	_, err = f.repo.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.store.Download(ctx, file.ObjectKey)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFileURLAndDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, file, _ := f.ready(t)

	url, err := f.svc.FileURL(ctx, owner, file.ID, false)
	require.NoError(t, err)
	assert.Contains(t, url, "/download?")

	_, err = f.svc.FileURL(ctx, owner, file.ID, true)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	_, err = f.svc.FileURL(ctx, "intruder", file.ID, false)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))

	require.NoError(t, f.svc.DeleteFile(ctx, owner, file.ID))
	files, err := f.svc.ListFiles(ctx, owner, task.ID)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestReissueToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, _, rc := f.ready(t)

	_, err := f.svc.Send(ctx, owner, task.ID)
	require.NoError(t, err)
	sent, err := f.repo.GetRecipient(ctx, rc.ID)
	require.NoError(t, err)

	f.svc.now = func() time.Time { return f.now.Add(10 * 24 * time.Hour) }
	fresh, err := f.svc.RegenerateToken(ctx, owner, rc.ID)
	require.NoError(t, err)
	assert.NotEqual(t, sent.Token, fresh.Token)
	assert.Equal(t, f.now.Add(10*24*time.Hour).Add(signing.TokenTTL), fresh.TokenExpiresAt)
	assert.Len(t, f.mailer.invites, 2)

	_, err = f.repo.GetRecipientByToken(ctx, sent.Token)
	assert.ErrorIs(t, err, repository.ErrNotFound)

	sent.Status = model.RecipientSigned
	sent.Token = fresh.Token
	require.NoError(t, f.repo.UpdateRecipient(ctx, sent))
	_, err = f.svc.RegenerateToken(ctx, owner, rc.ID)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))
}

func TestRegenerateFinal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task, file, _ := f.ready(t)

	_, err := f.svc.RegenerateFinal(ctx, owner, task.ID)
	assert.Equal(t, apperr.KindStateConflict, apperr.KindOf(err))

	stored, err := f.repo.GetTask(ctx, task.ID)
	require.NoError(t, err)
	stored.Status = model.TaskCompleted
	require.NoError(t, f.repo.UpdateTask(ctx, stored))

	res, err := f.svc.RegenerateFinal(ctx, owner, task.ID)
	require.NoError(t, err)
	require.Len(t, res.GeneratedFiles, 1)
	assert.Equal(t, file.ID, res.GeneratedFiles[0].FileID)

	url, err := f.svc.FileURL(ctx, owner, file.ID, true)
	require.NoError(t, err)
	assert.Contains(t, url, "final%2F")
}
