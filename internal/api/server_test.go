package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/VaultSign/internal/auth"
	"github.com/dharsanguruparan/VaultSign/internal/completion"
	"github.com/dharsanguruparan/VaultSign/internal/compose"
	"github.com/dharsanguruparan/VaultSign/internal/config"
	"github.com/dharsanguruparan/VaultSign/internal/coords"
	"github.com/dharsanguruparan/VaultSign/internal/events"
	"github.com/dharsanguruparan/VaultSign/internal/model"
	"github.com/dharsanguruparan/VaultSign/internal/pdf/pdftest"
	"github.com/dharsanguruparan/VaultSign/internal/positions"
	"github.com/dharsanguruparan/VaultSign/internal/repository"
	"github.com/dharsanguruparan/VaultSign/internal/signing"
	"github.com/dharsanguruparan/VaultSign/internal/storage"
	"github.com/dharsanguruparan/VaultSign/internal/tasks"
)

type harness struct {
	t       *testing.T
	handler http.Handler
	bearer  string
	repo    *repository.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := &config.Config{
		Address:            ":0",
		Environment:        "local",
		SignedURLTTL:       15 * time.Minute,
		MaxFileSize:        1 << 20,
		ConflictThreshold:  0.2,
		ComposeConcurrency: 2,
	}
	log := zerolog.Nop()
	repo := repository.NewMemory()
	store := storage.NewMemory(storage.NewSigner([]byte("url-secret")), "")
	pub := events.Nop{}
	pipeline := compose.New(repo, store, pub, cfg.ComposeConcurrency, log)
	ps := positions.New(repo, cfg.ConflictThreshold, log)
	agg := completion.New(repo, pipeline, nil, pub, log)
	verifier := auth.NewJWTVerifier([]byte("jwt-secret"))

	srv := New(cfg, Deps{
		Tasks: tasks.New(tasks.Deps{
			Repo: repo, Store: store, Composer: pipeline, Events: pub, Log: log,
			URLTTL: cfg.SignedURLTTL, MaxFileSize: cfg.MaxFileSize,
		}),
		Positions: ps,
		Signing:   signing.NewService(repo, ps, store, agg, pub, cfg.SignedURLTTL, log),
		Verifier:  verifier,
		Downloads: store,
	}, log)

	tok, err := verifier.Issue("owner-1", "owner@example.com", time.Hour)
	require.NoError(t, err)
	return &harness{t: t, handler: srv.Handler(), bearer: tok, repo: repo}
}

func (h *harness) do(method, path string, body any, authed bool) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+h.bearer)
	}
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func (h *harness) upload(taskID, name string, data []byte) *httptest.ResponseRecorder {
	h.t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(h.t, mw.WriteField("note", "ignored"))
	fw, err := mw.CreateFormFile("file", name)
	require.NoError(h.t, err)
	_, err = fw.Write(data)
	require.NoError(h.t, err)
	require.NoError(h.t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/tasks/"+taskID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+h.bearer)
	w := httptest.NewRecorder()
	h.handler.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func TestOwnerRoutesRequireToken(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodGet, "/api/tasks", nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = h.do(http.MethodGet, "/healthz", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSigningFlowEndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	w := h.do(http.MethodPost, "/api/tasks", tasks.TaskInput{Title: "Lease"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	task := decode[model.Task](t, w)

	w = h.upload(task.ID, "lease.pdf", pdftest.Build(pdftest.Letter))
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	file := decode[model.File](t, w)
	assert.Equal(t, 1, file.PageCount)

	w = h.upload(task.ID, "notes.txt", []byte("plain text"))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodPost, "/api/tasks/"+task.ID+"/recipients", tasks.RecipientInput{Name: "Ann", Email: "ann@example.com"}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	rc := decode[model.Recipient](t, w)

	w = h.do(http.MethodPost, "/api/positions", positions.CreateInput{
		RecipientID: rc.ID, FileID: file.ID, Page: 1, FieldType: model.FieldSignature,
		Rect: coordsRect(10, 80, 30, 5), PageWidth: 612, PageHeight: 792,
	}, true)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := decode[struct {
		Position model.PositionView `json:"position"`
	}](t, w)

	w = h.do(http.MethodPost, "/api/tasks/"+task.ID+"/status", map[string]string{"status": "completed"}, true)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = h.do(http.MethodPost, "/api/tasks/"+task.ID+"/send", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	stored, err := h.repo.GetRecipient(ctx, rc.ID)
	require.NoError(t, err)
	token := stored.Token

	w = h.do(http.MethodGet, "/api/sign/"+token+"/validate", nil, false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodGet, "/api/sign/"+token, nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	view := decode[signing.View](t, w)
	require.Len(t, view.Files, 1)

	w = h.do(http.MethodPost, "/api/sign/"+token+"/complete", nil, false)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "pending_fields", body["code"])
	assert.EqualValues(t, 1, body["pending"])

	w = h.do(http.MethodPut, "/api/sign/"+token+"/positions/"+created.Position.ID, map[string]string{"value": "Ann Example"}, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = h.do(http.MethodPost, "/api/sign/"+token+"/complete", nil, false)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	done := decode[signing.Completion](t, w)
	assert.True(t, done.TaskCompleted)

	w = h.do(http.MethodPost, "/api/sign/"+token+"/complete", nil, false)
	assert.Equal(t, http.StatusGone, w.Code)

	w = h.do(http.MethodGet, "/api/files/"+file.ID+"/url?final=true", nil, true)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	link := decode[map[string]any](t, w)
	u, err := url.Parse(link["url"].(string))
	require.NoError(t, err)

	w = h.do(http.MethodGet, u.RequestURI(), nil, false)
	require.Equal(t, http.StatusOK, w.Code)
	drawn, err := pdftest.Drawn(w.Body.Bytes(), 1)
	require.NoError(t, err)
	assert.True(t, pdftest.Shows(drawn, "Ann Example"))

	tampered := u.Query()
	tampered.Set("key", storage.OriginalKey(task.ID, file.ID))
	w = h.do(http.MethodGet, "/download?"+tampered.Encode(), nil, false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestPublicTokenContract(t *testing.T) {
	h := newHarness(t)

	w := h.do(http.MethodGet, "/api/sign/not-a-token/validate", nil, false)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = h.do(http.MethodGet, "/api/sign/s_0123456789abcdef_1/validate", nil, false)
	assert.Equal(t, http.StatusNotFound, w.Code)

	now := time.Now().UTC()
	ctx := context.Background()
	require.NoError(t, h.repo.CreateTask(ctx, &model.Task{ID: "t1", OwnerID: "owner-1", Title: "Old", Status: model.TaskInProgress}))
	require.NoError(t, h.repo.CreateRecipient(ctx, &model.Recipient{
		ID: "r1", TaskID: "t1", Email: "old@example.com", Token: "s_00000000000000ff_1",
		TokenExpiresAt: now.Add(-time.Minute), Status: model.RecipientPending,
	}))
	w = h.do(http.MethodGet, "/api/sign/s_00000000000000ff_1/validate", nil, false)
	assert.Equal(t, http.StatusGone, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, true, body["expired"])
	assert.Equal(t, "token_expired", body["code"])
}

func TestTransitionErrorBody(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/tasks", tasks.TaskInput{Title: "Lease"}, true)
	require.Equal(t, http.StatusCreated, w.Code)
	task := decode[model.Task](t, w)

	w = h.do(http.MethodPost, "/api/tasks/"+task.ID+"/status", map[string]string{"status": "trashed"}, true)
	require.Equal(t, http.StatusOK, w.Code)

	w = h.do(http.MethodPost, "/api/tasks/"+task.ID+"/status", map[string]string{"status": "cancelled"}, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "trashed", body["current"])
	assert.Equal(t, "cancelled", body["attempted"])
	assert.Equal(t, "invalid_transition", body["code"])
	assert.Empty(t, body["allowed"])
}

func TestValidatePositionEndpoint(t *testing.T) {
	h := newHarness(t)
	w := h.do(http.MethodPost, "/api/positions/validate", map[string]any{"page": 0, "rect": coordsRect(95, 10, 10, 5)}, true)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, false, body["valid"])
	assert.Len(t, body["errors"], 2)
}

func coordsRect(x, y, w, h float64) coords.Rect {
	return coords.Rect{X: x, Y: y, Width: w, Height: h}
}
