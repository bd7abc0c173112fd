package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/audio"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
	"github.com/himanishpuri/AcousticLSH/pkg/logger"
	"github.com/himanishpuri/AcousticLSH/pkg/utils"
)

// Server encapsulates the HTTP server and its dependencies
type Server struct {
	service acousticlsh.Service
	config  *ServerConfig
	log     acousticlsh.Logger
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	DBPath         string
	Backend        string
	TempDir        string
	AllowedOrigins []string
}

// NewServer creates a new server instance
func NewServer(service acousticlsh.Service, config *ServerConfig) *Server {
	return &Server{
		service: service,
		config:  config,
		log:     logger.GetLogger(),
	}
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Errorf("Failed to encode JSON response: %v", err)
	}
}

// respondError writes an error response
func (s *Server) respondError(w http.ResponseWriter, statusCode int, message string) {
	s.respondJSON(w, statusCode, ErrorResponse{
		Error:   http.StatusText(statusCode),
		Message: message,
		Code:    statusCode,
	})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, acousticlsh.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, acousticlsh.ErrIndexUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// handleRoot handles GET /
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"service": "AcousticLSH API",
		"version": "1.0.0",
		"endpoints": map[string]string{
			"health":          "GET /health",
			"metrics":         "GET /api/health/metrics",
			"recordings":      "GET /api/recordings",
			"insert":          "POST /api/recordings",
			"getRecording":    "GET /api/recordings/{id}",
			"deleteRecording": "DELETE /api/recordings/{id}",
			"identify":        "POST /api/identify",
			"rebuild":         "POST /api/rebuild",
		},
	})
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":      "healthy",
		"index_ready": s.service.Ready(),
		"time":        time.Now().Format(time.RFC3339),
	})
}

// handleMetrics handles GET /api/health/metrics
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ListRecordings(r.Context())
	if err != nil {
		s.log.Errorf("Failed to list recordings: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve metrics")
		return
	}

	windows := 0
	for _, rec := range recs {
		windows += rec.WindowCount
	}
	s.respondJSON(w, http.StatusOK, MetricsResponse{
		Status:         "healthy",
		Backend:        s.config.Backend,
		DatabasePath:   s.config.DBPath,
		RecordingCount: len(recs),
		WindowCount:    windows,
		IndexReady:     s.service.Ready(),
	})
}

// handleListRecordings handles GET /api/recordings
func (s *Server) handleListRecordings(w http.ResponseWriter, r *http.Request) {
	recs, err := s.service.ListRecordings(r.Context())
	if err != nil {
		s.log.Errorf("Failed to list recordings: %v", err)
		s.respondError(w, http.StatusInternalServerError, "Failed to retrieve recordings")
		return
	}

	dtos := make([]RecordingDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = newRecordingDTO(rec)
	}
	s.respondJSON(w, http.StatusOK, ListRecordingsResponse{
		Recordings: dtos,
		Count:      len(dtos),
	})
}

// handleGetRecording handles GET /api/recordings/{id}
func (s *Server) handleGetRecording(w http.ResponseWriter, r *http.Request, id int64) {
	rec, err := s.service.GetRecording(r.Context(), id)
	if err != nil {
		s.respondError(w, statusFor(err), fmt.Sprintf("Recording with ID %d not found", id))
		return
	}
	s.respondJSON(w, http.StatusOK, newRecordingDTO(*rec))
}

// handleDeleteRecording handles DELETE /api/recordings/{id}
func (s *Server) handleDeleteRecording(w http.ResponseWriter, r *http.Request, id int64) {
	if err := s.service.DeleteRecording(r.Context(), id); err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			s.respondError(w, status, fmt.Sprintf("Recording with ID %d not found", id))
			return
		}
		s.log.Errorf("Failed to delete recording %d: %v", id, err)
		s.respondError(w, status, "Failed to delete recording")
		return
	}

	s.log.Infof("Deleted recording ID=%d", id)
	s.respondJSON(w, http.StatusOK, DeleteRecordingResponse{
		Message: "Recording deleted successfully",
		ID:      id,
	})
}

// decodeUpload stores one multipart file under the temp dir and decodes it.
func (s *Server) decodeUpload(ctx context.Context, fh *multipart.FileHeader) (*goaudio.IntBuffer, error) {
	file, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := utils.MakeDir(s.config.TempDir); err != nil {
		return nil, err
	}
	name := filepath.Base(fh.Filename)
	tempFile := filepath.Join(s.config.TempDir, fmt.Sprintf("upload_%d_%s", time.Now().UnixNano(), name))
	out, err := os.Create(tempFile)
	if err != nil {
		return nil, err
	}
	defer os.Remove(tempFile)

	if _, err := io.Copy(out, file); err != nil {
		out.Close()
		return nil, err
	}
	if err := out.Close(); err != nil {
		return nil, err
	}
	return audio.Load(ctx, tempFile, s.config.TempDir, audio.ConvertConfig{})
}

// handleInsert handles POST /api/recordings (multipart, one or more "audio"
// parts). A "title" field names a single upload; otherwise file names are used.
func (s *Server) handleInsert(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	files := r.MultipartForm.File["audio"]
	if len(files) == 0 {
		s.respondError(w, http.StatusBadRequest, "at least one audio file is required")
		return
	}

	title := r.FormValue("title")
	inputs := make([]acousticlsh.RecordingInput, 0, len(files))
	var skipped []string
	for _, fh := range files {
		buf, err := s.decodeUpload(ctx, fh)
		if err != nil {
			s.log.Warnf("Skipping upload %s: %v", fh.Filename, err)
			skipped = append(skipped, fh.Filename)
			continue
		}
		name := strings.TrimSuffix(filepath.Base(fh.Filename), filepath.Ext(fh.Filename))
		if title != "" && len(files) == 1 {
			name = title
		}
		inputs = append(inputs, acousticlsh.RecordingInput{Title: name, Buffer: buf})
	}
	if len(inputs) == 0 {
		s.respondError(w, http.StatusBadRequest, "no upload could be decoded as audio")
		return
	}

	recs, err := s.service.Insert(ctx, inputs)
	if err != nil {
		s.log.Errorf("Insert failed: %v", err)
		s.respondError(w, statusFor(err), fmt.Sprintf("Failed to insert recordings: %v", err))
		return
	}

	dtos := make([]RecordingDTO, len(recs))
	for i, rec := range recs {
		dtos[i] = newRecordingDTO(rec)
	}
	s.respondJSON(w, http.StatusCreated, InsertResponse{
		Message:    fmt.Sprintf("Stored %d of %d recordings", len(recs), len(files)),
		Recordings: dtos,
		Skipped:    skipped,
	})
}

// handleIdentify handles POST /api/identify (multipart "audio" with optional
// "k" and "threshold" fields)
func (s *Server) handleIdentify(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Minute)
	defer cancel()

	r.Body = http.MaxBytesReader(w, r.Body, MaxSnippetBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		s.respondError(w, http.StatusBadRequest, "Failed to parse form data")
		return
	}
	defer r.MultipartForm.RemoveAll()

	k := 1
	if v := r.FormValue("k"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > MaxK {
			s.respondError(w, http.StatusBadRequest, fmt.Sprintf("k must be an integer in [1, %d]", MaxK))
			return
		}
		k = n
	}
	threshold := DefaultThreshold
	if v := r.FormValue("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil || t < 0 || math.IsNaN(t) {
			s.respondError(w, http.StatusBadRequest, "threshold must be a non-negative number")
			return
		}
		threshold = t
	}

	files := r.MultipartForm.File["audio"]
	if len(files) != 1 {
		s.respondError(w, http.StatusBadRequest, "exactly one audio file is required")
		return
	}
	buf, err := s.decodeUpload(ctx, files[0])
	if err != nil {
		s.respondError(w, http.StatusBadRequest, fmt.Sprintf("Failed to decode snippet: %v", err))
		return
	}

	res, err := s.service.Identify(ctx, buf, k, threshold)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusNotFound {
			// A lookup raced a delete; the index is being rebuilt.
			status = http.StatusServiceUnavailable
		}
		if status == http.StatusInternalServerError {
			s.log.Errorf("Identify failed: %v", err)
		}
		s.respondError(w, status, err.Error())
		return
	}

	s.respondJSON(w, http.StatusOK, newIdentifyResponse(res, threshold))
}

// handleRebuild handles POST /api/rebuild
func (s *Server) handleRebuild(w http.ResponseWriter, r *http.Request) {
	if err := s.service.Rebuild(r.Context()); err != nil {
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Index rebuilt",
		"index_ready": s.service.Ready(),
	})
}

// handleRecordings routes requests to /api/recordings
func (s *Server) handleRecordings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListRecordings(w, r)
	case http.MethodPost:
		s.handleInsert(w, r)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleRecording routes requests to /api/recordings/{id}
func (s *Server) handleRecording(w http.ResponseWriter, r *http.Request) {
	idStr := strings.TrimPrefix(r.URL.Path, "/api/recordings/")
	if idStr == "" {
		s.respondError(w, http.StatusBadRequest, "Recording ID required")
		return
	}

	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		s.respondError(w, http.StatusBadRequest, "Invalid recording ID")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleGetRecording(w, r, id)
	case http.MethodDelete:
		s.handleDeleteRecording(w, r, id)
	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

// handleIdentifyRoute routes requests to /api/identify
func (s *Server) handleIdentifyRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleIdentify(w, r)
}

// handleRebuildRoute routes requests to /api/rebuild
func (s *Server) handleRebuildRoute(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	s.handleRebuild(w, r)
}
