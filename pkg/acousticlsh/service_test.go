package acousticlsh

import (
	"context"
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/go-audio/audio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/AcousticLSH/internal/testaudio"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/signature"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
	"github.com/himanishpuri/AcousticLSH/pkg/logger"
	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

const (
	testRate      = 8000
	testThreshold = 0.0001
)

func recordingA() *audio.IntBuffer { return testaudio.Noise(1, 60, testRate, 1) }
func recordingB() *audio.IntBuffer { return testaudio.Noise(2, 50, testRate, 1) }
func recordingC() *audio.IntBuffer { return testaudio.Noise(3, 30, testRate, 1) }

func newTestService(t *testing.T, opts ...Option) Service {
	t.Helper()

	st, err := NewBadgerStorage("")
	require.NoError(t, err)

	base := []Option{WithStorage(st), WithLogger(logger.Discard())}
	svc, err := NewService(append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func insertAB(t *testing.T, svc Service) (models.Recording, models.Recording) {
	t.Helper()

	recs, err := svc.Insert(context.Background(), []RecordingInput{
		{Title: "A", Buffer: recordingA()},
		{Title: "B", Buffer: recordingB()},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	return recs[0], recs[1]
}

func TestEndToEnd(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	a, b := insertAB(t, svc)
	assert.Equal(t, int64(1), a.ID)
	assert.Equal(t, int64(2), b.ID)
	assert.Equal(t, 51, a.WindowCount)
	assert.Equal(t, 41, b.WindowCount)
	assert.Equal(t, a.BatchID, b.BatchID)
	assert.NotEmpty(t, a.BatchID)
	assert.True(t, svc.Ready())

	res, err := svc.Identify(ctx, testaudio.Head(recordingA(), 15), 1, testThreshold)
	require.NoError(t, err)
	require.True(t, res.Matched())
	require.Len(t, res.Matches, 1)
	assert.Equal(t, a.ID, res.Matches[0].Recording.ID)
	assert.Equal(t, "A", res.Matches[0].Recording.Title)
	assert.Equal(t, 0.0, res.Matches[0].Distance)
	assert.Equal(t, 6, res.WindowCount)
	require.NotEmpty(t, res.Votes)
	assert.Equal(t, models.Vote{RecordingID: a.ID, Windows: 6}, res.Votes[0])

	res, err = svc.Identify(ctx, testaudio.Head(recordingC(), 15), 1, testThreshold)
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
	assert.False(t, res.Matched())
	assert.Empty(t, res.Matches)
	assert.Greater(t, res.BestDistance, testThreshold)
}

func TestIdentifyTopK(t *testing.T) {
	svc := newTestService(t)
	a, _ := insertAB(t, svc)

	res, err := svc.Identify(context.Background(), testaudio.Head(recordingA(), 12), 3, math.MaxFloat64)
	require.NoError(t, err)
	require.Len(t, res.Matches, 3)
	assert.Equal(t, a.ID, res.Matches[0].Recording.ID)
	assert.Equal(t, 0.0, res.Matches[0].Distance)
	for i := 1; i < len(res.Matches); i++ {
		assert.LessOrEqual(t, res.Matches[i-1].Distance, res.Matches[i].Distance)
	}
}

func TestIdentifyBeforeInsert(t *testing.T) {
	svc := newTestService(t)
	assert.False(t, svc.Ready())

	_, err := svc.Identify(context.Background(), recordingA(), 1, testThreshold)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestIdentifyInvalidArguments(t *testing.T) {
	svc := newTestService(t)
	insertAB(t, svc)
	ctx := context.Background()
	snippet := testaudio.Head(recordingA(), 10)

	tests := []struct {
		name      string
		snippet   *audio.IntBuffer
		k         int
		threshold float64
	}{
		{"zero k", snippet, 0, testThreshold},
		{"negative k", snippet, -1, testThreshold},
		{"nil snippet", nil, 1, testThreshold},
		{"empty snippet", &audio.IntBuffer{Format: snippet.Format}, 1, testThreshold},
		{"negative threshold", snippet, 1, -1},
		{"NaN threshold", snippet, 1, math.NaN()},
		{"missing format", &audio.IntBuffer{Data: snippet.Data}, 1, testThreshold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Identify(ctx, tt.snippet, tt.k, tt.threshold)
			assert.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestIdentifyShortSnippet(t *testing.T) {
	svc := newTestService(t)
	insertAB(t, svc)

	res, err := svc.Identify(context.Background(), testaudio.Head(recordingA(), 5), 1, math.MaxFloat64)
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
	assert.Equal(t, 0, res.WindowCount)
}

func TestInsertInvalid(t *testing.T) {
	svc := newTestService(t)

	_, err := svc.Insert(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestInsertSkipsShortRecordings(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	recs, err := svc.Insert(ctx, []RecordingInput{{Title: "short", Buffer: testaudio.Noise(9, 5, testRate, 1)}})
	assert.Empty(t, recs)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
	assert.ErrorIs(t, err, ErrEmptyCorpus)
	assert.False(t, svc.Ready())

	recs, err = svc.Insert(ctx, []RecordingInput{
		{Title: "short", Buffer: testaudio.Noise(9, 5, testRate, 1)},
		{Title: "A", Buffer: recordingA()},
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "A", recs[0].Title)

	all, err := svc.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestInsertIsIdempotent(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a, _ := insertAB(t, svc)

	snippet := testaudio.Head(recordingA(), 15)
	first, err := svc.Identify(ctx, snippet, 1, testThreshold)
	require.NoError(t, err)

	recs, err := svc.Insert(ctx, []RecordingInput{
		{Title: "A again", Buffer: recordingA()},
		{Title: "B again", Buffer: recordingB()},
	})
	require.NoError(t, err)
	assert.Empty(t, recs)

	all, err := svc.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	second, err := svc.Identify(ctx, snippet, 1, testThreshold)
	require.NoError(t, err)
	require.True(t, second.Matched())
	assert.Equal(t, a.ID, second.Matches[0].Recording.ID)
	assert.Equal(t, first.Matches[0].Distance, second.Matches[0].Distance)
}

func TestDeleteRecording(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()
	a, b := insertAB(t, svc)

	require.NoError(t, svc.DeleteRecording(ctx, a.ID))

	_, err := svc.GetRecording(ctx, a.ID)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	res, err := svc.Identify(ctx, testaudio.Head(recordingA(), 10), 1, math.MaxFloat64)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, b.ID, res.Matches[0].Recording.ID)
	assert.Greater(t, res.Matches[0].Distance, 0.0)

	require.NoError(t, svc.DeleteRecording(ctx, b.ID))
	assert.False(t, svc.Ready())
	_, err = svc.Identify(ctx, testaudio.Head(recordingB(), 10), 1, math.MaxFloat64)
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	assert.ErrorIs(t, svc.DeleteRecording(ctx, 99), storage.ErrNotFound)
}

func TestWarmStart(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "library.sqlite3")
	ctx := context.Background()

	svc, err := NewService(WithDBPath(dbPath), WithLogger(logger.Discard()))
	require.NoError(t, err)
	assert.False(t, svc.Ready())
	a, _ := insertAB(t, svc)
	require.NoError(t, svc.Close())

	svc, err = NewService(WithDBPath(dbPath), WithLogger(logger.Discard()))
	require.NoError(t, err)
	defer svc.Close()
	assert.True(t, svc.Ready())

	res, err := svc.Identify(ctx, testaudio.Head(recordingA(), 15), 1, testThreshold)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, a.ID, res.Matches[0].Recording.ID)
	assert.Equal(t, 51, res.Matches[0].Recording.WindowCount)
}

func TestConcurrentIdentifyDuringInsert(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	recs, err := svc.Insert(ctx, []RecordingInput{{Title: "A", Buffer: recordingA()}})
	require.NoError(t, err)
	a := recs[0]
	snippet := testaudio.Head(recordingA(), 12)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				res, err := svc.Identify(ctx, snippet, 1, testThreshold)
				if err != nil {
					errs <- err
					return
				}
				if !res.Matched() || res.Matches[0].Recording.ID != a.ID {
					errs <- errors.New("snippet of A did not match A")
					return
				}
			}
		}()
	}

	_, err = svc.Insert(ctx, []RecordingInput{{Title: "B", Buffer: recordingB()}})
	require.NoError(t, err)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

type failingEntries struct {
	Storage
}

var errBoom = errors.New("boom")

func (failingEntries) PutSignatureEntries(context.Context, int64, []models.SignatureWindow) ([]int64, error) {
	return nil, errBoom
}

func TestInsertRollsBackOnEntryFailure(t *testing.T) {
	st, err := NewBadgerStorage("")
	require.NoError(t, err)
	svc, err := NewService(WithStorage(failingEntries{st}), WithLogger(logger.Discard()))
	require.NoError(t, err)
	defer svc.Close()
	ctx := context.Background()

	recs, err := svc.Insert(ctx, []RecordingInput{{Title: "A", Buffer: recordingA()}})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, recs)

	all, err := svc.ListRecordings(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestNewServiceRejectsBadParams(t *testing.T) {
	st, err := NewBadgerStorage("")
	require.NoError(t, err)
	defer st.Close()

	_, err = NewService(WithStorage(st), WithLogger(logger.Discard()), WithSignatureParams(signature.Params{Width: 0, Shift: 1, Taper: signature.Hann, Peaks: 10}))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestNewServiceMongoNeedsURI(t *testing.T) {
	_, err := NewService(WithBackend(BackendMongo), WithLogger(logger.Discard()))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestBadgerBackend(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "lib.badger")
	svc, err := NewService(WithBackend(BackendBadger), WithDBPath(dir), WithLogger(logger.Discard()))
	require.NoError(t, err)
	defer svc.Close()

	a, _ := insertAB(t, svc)
	res, err := svc.Identify(context.Background(), testaudio.Head(recordingA(), 10), 1, testThreshold)
	require.NoError(t, err)
	require.True(t, res.Matched())
	assert.Equal(t, a.ID, res.Matches[0].Recording.ID)
}

func TestSignatureDistance(t *testing.T) {
	a := models.SignatureWindow{1, 0, 0.5}
	assert.Equal(t, 0.0, signatureDistance(a, a))

	// differences cancel: +1 and -1
	assert.Equal(t, 0.0, signatureDistance(models.SignatureWindow{1, 0}, models.SignatureWindow{0, 1}))

	assert.InDelta(t, 2.25, signatureDistance(models.SignatureWindow{1, 1, 0}, models.SignatureWindow{0, 0, 0.5}), 1e-9)
}

// vanishingStore hides one recording and its entries, as if it had been
// deleted between an index snapshot and the store lookups.
type vanishingStore struct {
	Storage
	hidden atomic.Int64
}

func (v *vanishingStore) GetRecording(ctx context.Context, id int64) (*models.Recording, error) {
	if id == v.hidden.Load() {
		return nil, fmt.Errorf("recording %d: %w", id, storage.ErrNotFound)
	}
	return v.Storage.GetRecording(ctx, id)
}

func (v *vanishingStore) GetEntry(ctx context.Context, id int64) (*models.SignatureEntry, error) {
	e, err := v.Storage.GetEntry(ctx, id)
	if err == nil && e.RecordingID == v.hidden.Load() {
		return nil, fmt.Errorf("entry %d: %w", id, storage.ErrNotFound)
	}
	return e, err
}

func TestIdentifySkipsRecordingsDeletedAfterSnapshot(t *testing.T) {
	st, err := NewBadgerStorage("")
	require.NoError(t, err)
	vs := &vanishingStore{Storage: st}
	svc, err := NewService(WithStorage(vs), WithLogger(logger.Discard()))
	require.NoError(t, err)
	defer svc.Close()
	ctx := context.Background()

	a, b := insertAB(t, svc)
	vs.hidden.Store(a.ID)

	res, err := svc.Identify(ctx, testaudio.Head(recordingA(), 12), 10, math.MaxFloat64)
	require.NoError(t, err)
	require.NotEmpty(t, res.Matches)
	for _, m := range res.Matches {
		assert.Equal(t, b.ID, m.Recording.ID)
	}
	for _, v := range res.Votes {
		assert.Equal(t, b.ID, v.RecordingID)
	}

	// With k=1 every window's only neighbour is its own hidden entry.
	res, err = svc.Identify(ctx, testaudio.Head(recordingA(), 12), 1, testThreshold)
	require.NoError(t, err)
	assert.True(t, res.NoMatch)
	assert.Empty(t, res.Matches)
	assert.Empty(t, res.Votes)
}
