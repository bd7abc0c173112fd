package main

import (
	"time"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

const (
	// MaxUploadBytes caps a multipart insert request.
	MaxUploadBytes = 200 << 20

	// MaxSnippetBytes caps an identify request.
	MaxSnippetBytes = 50 << 20

	// MaxK bounds the candidate count a client may request.
	MaxK = 100

	DefaultThreshold = 0.0001
)

// RecordingDTO represents a recording in API responses
type RecordingDTO struct {
	ID          int64     `json:"id"`
	Title       string    `json:"title"`
	Channels    int       `json:"channels"`
	SampleRate  int       `json:"sample_rate"`
	SampleWidth int       `json:"sample_width"`
	DurationSec float64   `json:"duration_sec"`
	WindowCount int       `json:"window_count"`
	Checksum    string    `json:"checksum,omitempty"`
	BatchID     string    `json:"batch_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func newRecordingDTO(r models.Recording) RecordingDTO {
	return RecordingDTO{
		ID:          r.ID,
		Title:       r.Title,
		Channels:    r.Channels,
		SampleRate:  r.SampleRate,
		SampleWidth: r.SampleWidth,
		DurationSec: r.DurationSec,
		WindowCount: r.WindowCount,
		Checksum:    r.Checksum,
		BatchID:     r.BatchID,
		CreatedAt:   r.CreatedAt,
	}
}

// ListRecordingsResponse is the response for GET /api/recordings
type ListRecordingsResponse struct {
	Recordings []RecordingDTO `json:"recordings"`
	Count      int            `json:"count"`
}

// InsertResponse is the response for POST /api/recordings
type InsertResponse struct {
	Message    string         `json:"message"`
	Recordings []RecordingDTO `json:"recordings"`
	Skipped    []string       `json:"skipped,omitempty"`
}

// MatchDTO is one ranked candidate
type MatchDTO struct {
	RecordingID int64   `json:"recording_id"`
	Title       string  `json:"title"`
	Distance    float64 `json:"distance"`
	EntryID     int64   `json:"entry_id"`
	WindowIndex int     `json:"window_index"`
}

// VoteDTO counts snippet windows whose nearest entry belongs to a recording
type VoteDTO struct {
	RecordingID int64 `json:"recording_id"`
	Windows     int   `json:"windows"`
}

// IdentifyResponse is the response for POST /api/identify
type IdentifyResponse struct {
	Matched      bool       `json:"matched"`
	Matches      []MatchDTO `json:"matches"`
	Votes        []VoteDTO  `json:"votes,omitempty"`
	BestDistance float64    `json:"best_distance"`
	Threshold    float64    `json:"threshold"`
	WindowCount  int        `json:"window_count"`
}

func newIdentifyResponse(res *models.Result, threshold float64) IdentifyResponse {
	out := IdentifyResponse{
		Matched:      res.Matched(),
		Matches:      make([]MatchDTO, 0, len(res.Matches)),
		BestDistance: res.BestDistance,
		Threshold:    threshold,
		WindowCount:  res.WindowCount,
	}
	for _, m := range res.Matches {
		out.Matches = append(out.Matches, MatchDTO{
			RecordingID: m.Recording.ID,
			Title:       m.Recording.Title,
			Distance:    m.Distance,
			EntryID:     m.EntryID,
			WindowIndex: m.WindowIndex,
		})
	}
	for _, v := range res.Votes {
		out.Votes = append(out.Votes, VoteDTO{RecordingID: v.RecordingID, Windows: v.Windows})
	}
	return out
}

// DeleteRecordingResponse is the response for DELETE /api/recordings/{id}
type DeleteRecordingResponse struct {
	Message string `json:"message"`
	ID      int64  `json:"id"`
}

// MetricsResponse provides server health and library metrics
type MetricsResponse struct {
	Status         string `json:"status"`
	Backend        string `json:"backend"`
	DatabasePath   string `json:"database_path"`
	RecordingCount int    `json:"recording_count"`
	WindowCount    int    `json:"window_count"`
	IndexReady     bool   `json:"index_ready"`
}

// ErrorResponse is the standard error response format
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}
