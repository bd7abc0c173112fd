package acousticlsh

import (
	"context"

	"github.com/go-audio/audio"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

type Service interface {
	Insert(ctx context.Context, recordings []RecordingInput) ([]models.Recording, error)
	Identify(ctx context.Context, snippet *audio.IntBuffer, k int, threshold float64) (*models.Result, error)
	Rebuild(ctx context.Context) error
	Ready() bool
	ListRecordings(ctx context.Context) ([]models.Recording, error)
	GetRecording(ctx context.Context, id int64) (*models.Recording, error)
	DeleteRecording(ctx context.Context, id int64) error
	Close() error
}

type Storage interface {
	CreateSchema(ctx context.Context) error
	PutRecording(ctx context.Context, rec models.Recording) (int64, error)
	PutSignatureEntries(ctx context.Context, recordingID int64, windows []models.SignatureWindow) ([]int64, error)
	GetRecording(ctx context.Context, id int64) (*models.Recording, error)
	GetEntry(ctx context.Context, entryID int64) (*models.SignatureEntry, error)
	GetAllEntries(ctx context.Context) ([]models.SignatureEntry, error)
	ListRecordings(ctx context.Context) ([]models.Recording, error)
	FindRecordingByChecksum(ctx context.Context, checksum string) (*models.Recording, error)
	DeleteRecording(ctx context.Context, id int64) error
	Close() error
}

type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	Debugf(format string, args ...any)
}
