package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harryneopotter/teacher-website-public/internal/applications"
	"github.com/harryneopotter/teacher-website-public/internal/consts"
	"github.com/harryneopotter/teacher-website-public/internal/database"
	"github.com/harryneopotter/teacher-website-public/internal/metrics"
	"github.com/harryneopotter/teacher-website-public/internal/ratelimit"
	"github.com/harryneopotter/teacher-website-public/internal/storage"
)

const baseURL = "http://showcase.test"

type fakeUpdates struct {
	mu      sync.Mutex
	got     []tgbotapi.Update
	err     error
	panicky bool
}

func (f *fakeUpdates) HandleUpdate(ctx context.Context, update tgbotapi.Update) error {
	if f.panicky {
		panic("handler exploded")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, update)
	return f.err
}

type brokenStore struct{}

func (brokenStore) ListPublishedShowcases(ctx context.Context, limit int) ([]*database.ShowcaseItem, error) {
	return nil, errors.New("store down")
}
func (brokenStore) Kind() string                   { return consts.StoreKindPostgres }
func (brokenStore) Ping(ctx context.Context) error { return errors.New("connection refused") }

type passVerifier struct{}

func (passVerifier) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	return true, nil
}

type env struct {
	srv      *Server
	handler  http.Handler
	db       *database.LocalStore
	files    *storage.LocalStore
	storage  *storage.Orchestrator
	updates  *fakeUpdates
	thumbDir string
}

type envOption func(*Deps)

func withStore(store ShowcaseStore) envOption {
	return func(d *Deps) { d.Store = store }
}

func newEnv(t *testing.T, opts ...envOption) *env {
	t.Helper()
	db, err := database.NewLocalStore(t.TempDir(), nil)
	require.NoError(t, err)

	files, err := storage.NewLocalStore(t.TempDir(), baseURL, "test-signing-key")
	require.NoError(t, err)
	orch := storage.NewOrchestrator(files, "pdfs", "thumbs")

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollectorWithRegisterer(reg)
	recorder := metrics.NewRecorder(db, collector)

	limiter, err := ratelimit.New(ratelimit.NameApplication, ratelimit.NewStoreBackend(db), 2, time.Hour)
	require.NoError(t, err)
	apps, err := applications.NewService(db, passVerifier{}, limiter, recorder, nil)
	require.NoError(t, err)

	thumbDir := t.TempDir()
	updates := &fakeUpdates{}
	deps := Deps{
		Updates:      updates,
		Store:        db,
		Storage:      orch,
		Files:        files,
		Applications: apps,
		Recorder:     recorder,
		Collector:    collector,
		Gatherer:     reg,
		ThumbnailDir: thumbDir,
	}
	for _, opt := range opts {
		opt(&deps)
	}

	srv, err := New(deps)
	require.NoError(t, err)
	return &env{
		srv:      srv,
		handler:  srv.Handler(),
		db:       db,
		files:    files,
		storage:  orch,
		updates:  updates,
		thumbDir: thumbDir,
	}
}

func (e *env) do(t *testing.T, method, target string, body io.Reader, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, body)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

func (e *env) errorCount(t *testing.T) int64 {
	t.Helper()
	counter, err := e.db.Metric(context.Background(), consts.MetricErrors)
	if errors.Is(err, database.ErrNotFound) {
		return 0
	}
	require.NoError(t, err)
	return counter.Count
}

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestWebhook(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/webhook", strings.NewReader(`{"update_id":42,"message":{"message_id":1,"text":"/start","chat":{"id":7},"from":{"id":7}}}`))
	assert.Equal(t, http.StatusOK, rr.Code)
	require.Len(t, e.updates.got, 1)
	assert.Equal(t, 42, e.updates.got[0].UpdateID)
	assert.Equal(t, int64(0), e.errorCount(t))
}

func TestWebhook_MalformedBody(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodPost, "/webhook", strings.NewReader(`{not json`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Empty(t, e.updates.got)
	assert.Equal(t, int64(1), e.errorCount(t))
}

func TestWebhook_HandlerError(t *testing.T) {
	e := newEnv(t)
	e.updates.err = errors.New("store offline")

	rr := e.do(t, http.MethodPost, "/webhook", strings.NewReader(`{"update_id":1}`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, int64(1), e.errorCount(t))
}

func TestWebhook_PanicIsRecovered(t *testing.T) {
	e := newEnv(t)
	e.updates.panicky = true

	rr := e.do(t, http.MethodPost, "/webhook", strings.NewReader(`{"update_id":1}`))
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "Internal Server Error", decode(t, rr)["error"])
}

func TestWebhook_MethodNotAllowed(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodGet, "/webhook", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestHealth(t *testing.T) {
	e := newEnv(t)
	rr := e.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, consts.StoreKindLocal, body["store"])

	broken := newEnv(t, withStore(brokenStore{}))
	rr = broken.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	body = decode(t, rr)
	assert.Equal(t, "error", body["status"])
	assert.Equal(t, consts.StoreKindPostgres, body["store"])
	assert.Contains(t, body["error"], "connection refused")
}

func TestShowcase_SignsAndNormalizes(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.db.CreateShowcase(ctx, &database.ShowcaseItem{
		Title: "Poems", Author: "Mia", PDFObjectName: "1-poems.pdf",
		ThumbnailURL: "gs://thumbs/1-thumbnail.jpg", Status: consts.StatusPublished,
	})
	require.NoError(t, err)
	_, err = e.db.CreateShowcase(ctx, &database.ShowcaseItem{
		Title: "Draft", Author: "Leo", PDFObjectName: "2-draft.pdf", Status: consts.StatusNew,
	})
	require.NoError(t, err)

	rr := e.do(t, http.MethodGet, "/api/showcase", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Collections []showcaseView `json:"collections"`
		LastUpdated string         `json:"lastUpdated"`
		TotalItems  int            `json:"totalItems"`
		Fallback    bool           `json:"fallback"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Fallback)
	assert.Equal(t, 1, body.TotalItems)
	require.Len(t, body.Collections, 1)

	item := body.Collections[0]
	assert.Equal(t, "Poems", item.Title)
	assert.Equal(t, baseURL+"/files/thumbs/1-thumbnail.jpg", item.ThumbnailURL)
	require.NotEmpty(t, item.PDFURL)

	u, err := url.Parse(item.PDFURL)
	require.NoError(t, err)
	assert.Equal(t, "/files/pdfs/1-poems.pdf", u.Path)
	assert.NoError(t, e.files.VerifyToken(u.Query().Get("token"), "pdfs", "1-poems.pdf"))
}

func TestShowcase_FallbackWhenStoreFails(t *testing.T) {
	e := newEnv(t, withStore(brokenStore{}))

	rr := e.do(t, http.MethodGet, "/api/showcase", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, true, body["fallback"])
	assert.Equal(t, float64(3), body["totalItems"])
	assert.Len(t, body["collections"], 3)
}

func TestPDFRedirect(t *testing.T) {
	e := newEnv(t)

	rr := e.do(t, http.MethodGet, "/api/pdfs/essay.pdf", nil)
	require.Equal(t, http.StatusFound, rr.Code)

	loc, err := url.Parse(rr.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/files/pdfs/essay.pdf", loc.Path)
	assert.NoError(t, e.files.VerifyToken(loc.Query().Get("token"), "pdfs", "essay.pdf"))
}

func TestThumbnails(t *testing.T) {
	e := newEnv(t)
	p := filepath.Join(e.thumbDir, "cover.png")
	require.NoError(t, os.WriteFile(p, []byte("png-bytes"), 0644))

	rr := e.do(t, http.MethodGet, "/api/thumbnails/cover.png", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, consts.ThumbnailMaxAge, rr.Header().Get("Cache-Control"))
	assert.Equal(t, "png-bytes", rr.Body.String())

	// Served from memory once read
	require.NoError(t, os.Remove(p))
	rr = e.do(t, http.MethodGet, "/api/thumbnails/cover.png", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/thumbnails/missing.jpg", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = e.do(t, http.MethodGet, "/api/thumbnails/..%2F..%2Fetc%2Fpasswd", nil)
	assert.NotEqual(t, http.StatusOK, rr.Code)
}

func TestThumbnailContentType(t *testing.T) {
	assert.Equal(t, "image/jpeg", thumbnailContentType("a.JPG"))
	assert.Equal(t, "image/webp", thumbnailContentType("a.webp"))
	assert.Equal(t, "image/jpeg", thumbnailContentType("noext"))
}

func TestValidFilename(t *testing.T) {
	assert.True(t, validFilename("a.jpg"))
	assert.False(t, validFilename(""))
	assert.False(t, validFilename(".."))
	assert.False(t, validFilename("a/b.jpg"))
	assert.False(t, validFilename("a\\b.jpg"))
}

func TestFiles(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.storage.UploadFile(ctx, []byte("%PDF-1.4"), "doc.pdf", "pdfs", consts.ContentTypePDF)
	require.NoError(t, err)
	publicURL, err := e.storage.UploadFile(ctx, []byte("jpeg"), "t.jpg", "thumbs", consts.ContentTypeJPEG)
	require.NoError(t, err)

	rr := e.do(t, http.MethodGet, "/files/pdfs/doc.pdf", nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	signed, err := e.storage.GenerateSignedURL(ctx, "doc.pdf")
	require.NoError(t, err)
	rr = e.do(t, http.MethodGet, strings.TrimPrefix(signed, baseURL), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, consts.ContentTypePDF, rr.Header().Get("Content-Type"))
	assert.Equal(t, "%PDF-1.4", rr.Body.String())

	// A token for one object does not open another
	other, err := e.storage.GenerateSignedURL(ctx, "other.pdf")
	require.NoError(t, err)
	u, _ := url.Parse(other)
	rr = e.do(t, http.MethodGet, "/files/pdfs/doc.pdf?token="+url.QueryEscape(u.Query().Get("token")), nil)
	assert.Equal(t, http.StatusForbidden, rr.Code)

	rr = e.do(t, http.MethodGet, strings.TrimPrefix(publicURL, baseURL), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "jpeg", rr.Body.String())
}

func TestApplications(t *testing.T) {
	e := newEnv(t)
	form := `{"name":"Asha","grade":"7","phone":"555","program":"Poetry","captchaToken":"tok"}`

	for i := 0; i < 2; i++ {
		rr := e.do(t, http.MethodPost, "/api/applications", strings.NewReader(form), "X-Forwarded-For", "198.51.100.7, 10.0.0.1")
		require.Equal(t, http.StatusOK, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, true, body["success"])
		assert.NotEmpty(t, body["applicationId"])
	}

	rr := e.do(t, http.MethodPost, "/api/applications", strings.NewReader(form), "X-Forwarded-For", "198.51.100.7")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)

	apps, err := e.db.ListApplications(context.Background())
	require.NoError(t, err)
	require.Len(t, apps, 2)
	assert.Equal(t, "198.51.100.7", apps[0].IPAddress)
}

func TestApplications_BadRequests(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		name string
		body string
		want string
	}{
		{"invalid json", `{`, "Invalid request body"},
		{"missing fields", `{"name":"A","captchaToken":"t"}`, "Missing required fields"},
		{"missing captcha", `{"name":"A","grade":"1","phone":"2","program":"p"}`, "CAPTCHA verification is required."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := e.do(t, http.MethodPost, "/api/applications", strings.NewReader(tt.body))
			require.Equal(t, http.StatusBadRequest, rr.Code)
			body := decode(t, rr)
			assert.Equal(t, false, body["success"])
			assert.Equal(t, tt.want, body["message"])
		})
	}
}

func TestApplications_Disabled(t *testing.T) {
	e := newEnv(t, func(d *Deps) { d.Applications = nil })
	rr := e.do(t, http.MethodPost, "/api/applications", strings.NewReader(`{}`))
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodGet, "/health", nil)

	rr := e.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `http_requests_total{code="200",route="/health"} 1`)
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "3.3.3.3:10", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "3.3.3.3:10", "4.4.4.4"},
		{"peer", nil, "3.3.3.3:10", "3.3.3.3"},
		{"unknown", nil, "", applications.UnknownIP},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req))
		})
	}
}

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{})
	assert.Error(t, err)
}
