package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/AcousticLSH/internal/testaudio"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/audio"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
	"github.com/himanishpuri/AcousticLSH/pkg/logger"
	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

const testRate = 8000

func newTestServer(t *testing.T) (*Server, http.Handler) {
	t.Helper()

	st, err := acousticlsh.NewBadgerStorage("")
	require.NoError(t, err)
	svc, err := acousticlsh.NewService(
		acousticlsh.WithStorage(st),
		acousticlsh.WithLogger(logger.Discard()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	srv := NewServer(svc, &ServerConfig{
		Port:           0,
		DBPath:         ":memory:",
		Backend:        string(acousticlsh.BackendBadger),
		TempDir:        t.TempDir(),
		AllowedOrigins: []string{"*"},
	})
	srv.log = logger.Discard()
	return srv, srv.setupRoutes()
}

func wavBytes(t *testing.T, buf *goaudio.IntBuffer) []byte {
	t.Helper()

	path := filepath.Join(t.TempDir(), "clip.wav")
	require.NoError(t, audio.WriteWAVFile(path, buf))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return data
}

type upload struct {
	name string
	data []byte
}

func multipartRequest(t *testing.T, target string, fields map[string]string, files ...upload) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for _, f := range files {
		part, err := mw.CreateFormFile("audio", f.name)
		require.NoError(t, err)
		_, err = io.Copy(part, bytes.NewReader(f.data))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, target, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealthReportsIndexState(t *testing.T) {
	_, h := newTestServer(t)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["index_ready"])
}

func TestIdentifyBeforeInsert(t *testing.T) {
	_, h := newTestServer(t)

	snippet := testaudio.Noise(1, 15, testRate, 1)
	rec := serve(h, multipartRequest(t, "/api/identify", nil, upload{"clip.wav", wavBytes(t, snippet)}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestInsertIdentifyDelete(t *testing.T) {
	_, h := newTestServer(t)

	full := testaudio.Noise(1, 60, testRate, 1)
	rec := serve(h, multipartRequest(t, "/api/recordings",
		map[string]string{"title": "Noise A"},
		upload{"a.wav", wavBytes(t, full)},
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	inserted := decode[InsertResponse](t, rec)
	require.Len(t, inserted.Recordings, 1)
	stored := inserted.Recordings[0]
	assert.Equal(t, "Noise A", stored.Title)
	assert.Equal(t, testRate, stored.SampleRate)
	assert.Positive(t, stored.WindowCount)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/recordings", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[ListRecordingsResponse](t, rec)
	assert.Equal(t, 1, list.Count)

	snippet := testaudio.Head(full, 15)
	rec = serve(h, multipartRequest(t, "/api/identify",
		map[string]string{"k": "2"},
		upload{"clip.wav", wavBytes(t, snippet)},
	))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	res := decode[IdentifyResponse](t, rec)
	require.True(t, res.Matched)
	require.Len(t, res.Matches, 2)
	assert.Equal(t, stored.ID, res.Matches[0].RecordingID)
	assert.Equal(t, 0.0, res.Matches[0].Distance)
	assert.Equal(t, DefaultThreshold, res.Threshold)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/health/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := decode[MetricsResponse](t, rec)
	assert.Equal(t, 1, metrics.RecordingCount)
	assert.Equal(t, stored.WindowCount, metrics.WindowCount)
	assert.True(t, metrics.IndexReady)

	target := fmt.Sprintf("/api/recordings/%d", stored.ID)
	rec = serve(h, httptest.NewRequest(http.MethodDelete, target, nil))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = serve(h, httptest.NewRequest(http.MethodGet, target, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodDelete, target, nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestIdentifyRejectsBadParameters(t *testing.T) {
	_, h := newTestServer(t)
	clip := wavBytes(t, testaudio.Noise(1, 15, testRate, 1))

	tests := []struct {
		name   string
		fields map[string]string
	}{
		{"zero k", map[string]string{"k": "0"}},
		{"k too large", map[string]string{"k": "101"}},
		{"k not a number", map[string]string{"k": "many"}},
		{"negative threshold", map[string]string{"threshold": "-1"}},
		{"NaN threshold", map[string]string{"threshold": "NaN"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, multipartRequest(t, "/api/identify", tt.fields, upload{"clip.wav", clip}))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}

	t.Run("no file", func(t *testing.T) {
		rec := serve(h, multipartRequest(t, "/api/identify", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
	t.Run("not audio", func(t *testing.T) {
		rec := serve(h, multipartRequest(t, "/api/identify", nil, upload{"clip.wav", []byte("not a wav file")}))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestInsertSkipsUndecodableUploads(t *testing.T) {
	_, h := newTestServer(t)

	rec := serve(h, multipartRequest(t, "/api/recordings", nil,
		upload{"broken.wav", []byte("garbage")},
	))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, multipartRequest(t, "/api/recordings", nil,
		upload{"broken.wav", []byte("garbage")},
		upload{"b.wav", wavBytes(t, testaudio.Noise(2, 30, testRate, 1))},
	))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	res := decode[InsertResponse](t, rec)
	require.Len(t, res.Recordings, 1)
	assert.Equal(t, "b", res.Recordings[0].Title)
	assert.Equal(t, []string{"broken.wav"}, res.Skipped)
}

func TestRecordingRoutes(t *testing.T) {
	_, h := newTestServer(t)

	rec := serve(h, httptest.NewRequest(http.MethodGet, "/api/recordings/abc", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/recordings/42", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodPut, "/api/recordings", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/api/identify", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)

	rec = serve(h, httptest.NewRequest(http.MethodGet, "/nope", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRebuildEmptyLibrary(t *testing.T) {
	_, h := newTestServer(t)

	rec := serve(h, httptest.NewRequest(http.MethodPost, "/api/rebuild", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	_, h := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/identify", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := serve(h, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.7:51234"
	assert.Equal(t, "10.0.0.7", getClientIP(req))

	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	assert.Equal(t, "203.0.113.9", getClientIP(req))
}

func TestParseOrigins(t *testing.T) {
	assert.Equal(t, []string{"*"}, parseOrigins("*"))
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, parseOrigins(" http://a.test, ,http://b.test "))
	assert.Nil(t, parseOrigins(""))
}

func TestCORSRestrictedOrigins(t *testing.T) {
	h := corsMiddleware([]string{"http://a.test"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://a.test")
	rec := serve(h, req)
	assert.Equal(t, "http://a.test", rec.Header().Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.test")
	rec = serve(h, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// staleService fails Identify the way a lookup racing a delete does.
type staleService struct {
	acousticlsh.Service
}

func (staleService) Identify(context.Context, *goaudio.IntBuffer, int, float64) (*models.Result, error) {
	return nil, fmt.Errorf("failed to resolve entry 7: %w", storage.ErrNotFound)
}

func TestIdentifyDuringDeleteIsUnavailable(t *testing.T) {
	srv, _ := newTestServer(t)
	srv.service = staleService{srv.service}
	h := srv.setupRoutes()

	clip := wavBytes(t, testaudio.Noise(1, 12, testRate, 1))
	rec := serve(h, multipartRequest(t, "/api/identify", nil, upload{"clip.wav", clip}))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
