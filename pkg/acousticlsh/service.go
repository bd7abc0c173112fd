// Package acousticlsh identifies short audio snippets against a library of
// recordings. Recordings are cut into fixed-width signature windows, every
// window is stored as an entry, and entries are searched with a
// locality-sensitive hashing index rebuilt over the whole corpus after each
// change.
package acousticlsh

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-audio/audio"
	"github.com/google/uuid"

	acaudio "github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/audio"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/index"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/signature"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
	"github.com/himanishpuri/AcousticLSH/pkg/logger"
	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

// acousticService is the default implementation of the Service interface.
type acousticService struct {
	storage Storage
	log     Logger
	config  *Config

	// idx is nil until the first successful build. Readers load a snapshot;
	// writers hold mu and swap in a fully built index.
	idx atomic.Pointer[index.Index]
	mu  sync.Mutex
}

func NewService(opts ...Option) (Service, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}

	if cfg.Logger == nil {
		cfg.Logger = logger.GetLogger()
	}
	if err := cfg.Signature.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	stor := cfg.Storage
	if stor == nil {
		var err error
		stor, err = openStorage(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create storage: %w", err)
		}
	}

	s := &acousticService{
		storage: stor,
		log:     cfg.Logger,
		config:  cfg,
	}

	ctx := context.Background()
	if err := stor.CreateSchema(ctx); err != nil {
		stor.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	// Warm start from whatever the store already holds.
	if err := s.Rebuild(ctx); err != nil && !errors.Is(err, index.ErrEmptyCorpus) {
		stor.Close()
		return nil, err
	}
	return s, nil
}

// Insert extracts, stores and indexes a batch of recordings. Recordings
// without signature windows, or whose samples are already in the library,
// are skipped. The returned slice holds the recordings actually stored.
func (s *acousticService) Insert(ctx context.Context, recordings []RecordingInput) ([]models.Recording, error) {
	if len(recordings) == 0 {
		return nil, fmt.Errorf("%w: no recordings to insert", ErrInvalidArgument)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Every recording of one call shares a batch id
	batchID := uuid.NewString()
	inserted := make([]models.Recording, 0, len(recordings))
	for _, in := range recordings {
		rec, err := s.insertOne(ctx, in, batchID)
		if err != nil {
			if len(inserted) > 0 {
				if rerr := s.rebuildLocked(ctx); rerr != nil {
					s.log.Errorf("Rebuild after failed insert: %v", rerr)
				}
			}
			return inserted, err
		}
		if rec != nil {
			inserted = append(inserted, *rec)
		}
	}

	s.log.Infof("Stored %d/%d recordings (batch %s)", len(inserted), len(recordings), batchID)

	// Rebuild once per batch, not per recording
	if err := s.rebuildLocked(ctx); err != nil {
		return inserted, err
	}
	return inserted, nil
}

// insertOne returns nil, nil for a skipped recording.
func (s *acousticService) insertOne(ctx context.Context, in RecordingInput, batchID string) (*models.Recording, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// 1. Describe the PCM and extract its signature windows
	meta := acaudio.Describe(in.Buffer)
	windows, err := signature.Extract(in.Buffer, s.config.Signature)
	if err != nil {
		s.log.Warnf("Skipping %q: %v", in.Title, err)
		return nil, nil
	}
	if len(windows) == 0 {
		s.log.Warnf("Skipping %q: %.1fs of audio yields no %ds windows", in.Title, meta.DurationSec, s.config.Signature.Width)
		return nil, nil
	}

	// 2. Skip audio the library already holds
	checksum := acaudio.Checksum(in.Buffer)
	existing, err := s.storage.FindRecordingByChecksum(ctx, checksum)
	if err != nil {
		return nil, fmt.Errorf("failed to check for duplicates: %w", err)
	}
	if existing != nil {
		s.log.Infof("Skipping %q: same audio as recording ID=%d (%q)", in.Title, existing.ID, existing.Title)
		return nil, nil
	}

	// 3. Register the recording
	rec := models.Recording{
		Title:       in.Title,
		Channels:    meta.Channels,
		SampleRate:  meta.SampleRate,
		SampleWidth: meta.SampleWidth,
		DurationSec: meta.DurationSec,
		WindowCount: len(windows),
		Checksum:    checksum,
		BatchID:     batchID,
		CreatedAt:   time.Now().UTC(),
	}
	id, err := s.storage.PutRecording(ctx, rec)
	if err != nil {
		return nil, fmt.Errorf("failed to register recording %q: %w", in.Title, err)
	}
	rec.ID = id

	// 4. Store one entry per window; drop the recording if that fails
	if _, err := s.storage.PutSignatureEntries(ctx, id, windows); err != nil {
		if derr := s.storage.DeleteRecording(ctx, id); derr != nil { // Rollback
			s.log.Errorf("Rollback of recording ID=%d failed: %v", id, derr)
		}
		return nil, fmt.Errorf("failed to store signature entries: %w", err)
	}

	s.log.Debugf("Added recording ID=%d %q with %d windows", id, in.Title, len(windows))
	return &rec, nil
}

// Identify ranks library recordings against snippet. A best distance above
// threshold yields a result with NoMatch set and a nil error.
//
// Queries run against the index snapshot loaded on entry. Entries or
// recordings deleted from the store after that snapshot are skipped.
func (s *acousticService) Identify(ctx context.Context, snippet *audio.IntBuffer, k int, threshold float64) (*models.Result, error) {
	switch {
	case k <= 0:
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	case snippet == nil || len(snippet.Data) == 0:
		return nil, fmt.Errorf("%w: empty snippet", ErrInvalidArgument)
	case threshold < 0 || math.IsNaN(threshold):
		return nil, fmt.Errorf("%w: threshold must be non-negative, got %v", ErrInvalidArgument, threshold)
	}

	// 1. Take the current index snapshot
	idx := s.idx.Load()
	if idx == nil {
		return nil, fmt.Errorf("%w: no recordings indexed", ErrIndexUnavailable)
	}

	// 2. Extract the snippet signature
	windows, err := signature.Extract(snippet, s.config.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	result := &models.Result{WindowCount: len(windows)}

	// 3. Query k neighbours per window and score them
	cands, votes, err := s.collectCandidates(ctx, idx, windows, k)
	if err != nil {
		return nil, err
	}
	result.Votes = votes

	// 4. Rank by distance; ties keep query order
	slices.SortStableFunc(cands, func(a, b candidate) int {
		return cmp.Compare(a.distance, b.distance)
	})

	// 5. Resolve recordings for the best k candidates
	recs := make(map[int64]*models.Recording)
	for _, c := range cands {
		if len(result.Matches) == k {
			break
		}
		rec, seen := recs[c.recordingID]
		if !seen {
			rec, err = s.storage.GetRecording(ctx, c.recordingID)
			switch {
			case errors.Is(err, storage.ErrNotFound):
				s.log.Debugf("Recording %d deleted during identify, skipping", c.recordingID)
				rec = nil
			case err != nil:
				return nil, fmt.Errorf("failed to resolve recording %d: %w", c.recordingID, err)
			}
			recs[c.recordingID] = rec
		}
		if rec == nil {
			continue
		}
		result.Matches = append(result.Matches, models.Match{
			Recording:   *rec,
			Distance:    c.distance,
			EntryID:     c.entryID,
			WindowIndex: c.window,
		})
	}
	if len(result.Matches) == 0 {
		result.NoMatch = true
		return result, nil
	}

	// 6. Reject when even the best candidate is too far
	result.BestDistance = result.Matches[0].Distance
	if result.BestDistance > threshold {
		s.log.Debugf("No match: best distance %g above threshold %g", result.BestDistance, threshold)
		result.NoMatch = true
		result.Matches = nil
		return result, nil
	}

	s.log.Debugf("Identified %d windows: top %q at distance %g", len(windows), result.Matches[0].Recording.Title, result.BestDistance)
	return result, nil
}

type candidate struct {
	distance    float64
	recordingID int64
	entryID     int64
	window      int
}

// collectCandidates queries idx once per snippet window and scores every
// returned entry. Entries are fetched from the store at most once per call;
// entries no longer in the store are dropped.
func (s *acousticService) collectCandidates(ctx context.Context, idx *index.Index, windows []models.SignatureWindow, k int) ([]candidate, []models.Vote, error) {
	entries := make(map[int64]*models.SignatureEntry)
	nearest := make(map[int64]int)
	cands := make([]candidate, 0, len(windows)*k)

	for i, w := range windows {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		ids, err := idx.Query(w, k)
		if err != nil {
			return nil, nil, fmt.Errorf("querying window %d: %w", i, err)
		}

		voted := false
		for _, id := range ids {
			e, ok := entries[id]
			if !ok {
				e, err = s.storage.GetEntry(ctx, id)
				switch {
				case errors.Is(err, storage.ErrNotFound):
					e = nil
				case err != nil:
					return nil, nil, fmt.Errorf("failed to resolve entry %d: %w", id, err)
				}
				entries[id] = e
			}
			if e == nil {
				continue
			}
			// The window votes for the recording of its nearest live entry
			if !voted {
				nearest[e.RecordingID]++
				voted = true
			}
			cands = append(cands, candidate{
				distance:    signatureDistance(w, e.Vector),
				recordingID: e.RecordingID,
				entryID:     id,
				window:      i,
			})
		}
	}

	votes := make([]models.Vote, 0, len(nearest))
	for id, n := range nearest {
		votes = append(votes, models.Vote{RecordingID: id, Windows: n})
	}
	slices.SortFunc(votes, func(a, b models.Vote) int {
		if c := cmp.Compare(b.Windows, a.Windows); c != 0 {
			return c
		}
		return cmp.Compare(a.RecordingID, b.RecordingID)
	})
	return cands, votes, nil
}

// signatureDistance is the square of the summed component differences,
// (sum(a - b))^2. Differences of opposite sign cancel, so it is not a metric;
// match thresholds are calibrated against exactly this value.
func signatureDistance(a, b models.SignatureWindow) float64 {
	n := min(len(a), len(b))
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) - float64(b[i])
	}
	return sum * sum
}

// Rebuild reloads the corpus from the store and swaps in a new index.
func (s *acousticService) Rebuild(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuildLocked(ctx)
}

func (s *acousticService) rebuildLocked(ctx context.Context) error {
	start := time.Now()

	// 1. Load the whole corpus; the index is never updated incrementally
	entries, err := s.storage.GetAllEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	// 2. Build, then publish; readers keep their old snapshot until the swap
	idx, err := index.Build(entries, s.config.IndexOptions...)
	if err != nil {
		if errors.Is(err, index.ErrEmptyCorpus) {
			s.idx.Store(nil)
			return fmt.Errorf("%w: %w", ErrIndexUnavailable, err)
		}
		return fmt.Errorf("failed to build index: %w", err)
	}
	s.idx.Store(idx)

	o := idx.Options()
	s.log.Infof("Indexed %d entries (dim %d, %d tables x %d bits) in %s",
		idx.Len(), idx.Dim(), o.Tables, o.Bits, time.Since(start).Round(time.Millisecond))
	return nil
}

// Ready reports whether an index is available for Identify.
func (s *acousticService) Ready() bool {
	return s.idx.Load() != nil
}

func (s *acousticService) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	return s.storage.ListRecordings(ctx)
}

func (s *acousticService) GetRecording(ctx context.Context, id int64) (*models.Recording, error) {
	return s.storage.GetRecording(ctx, id)
}

// DeleteRecording removes a recording and its entries, then rebuilds. Removing
// the last recording leaves the service without an index.
func (s *acousticService) DeleteRecording(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.storage.DeleteRecording(ctx, id); err != nil {
		return fmt.Errorf("failed to delete recording %d: %w", id, err)
	}
	if err := s.rebuildLocked(ctx); err != nil && !errors.Is(err, index.ErrEmptyCorpus) {
		return err
	}
	return nil
}

// Close releases all resources held by the service.
func (s *acousticService) Close() error {
	return s.storage.Close()
}
