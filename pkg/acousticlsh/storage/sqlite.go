package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
	"github.com/himanishpuri/AcousticLSH/pkg/utils"
)

const DefaultDBFile = "acousticlsh.sqlite3"
const errDBClientNil = "db client is nil"

const insertBatchSize = 100

type DBClient struct {
	DB *gorm.DB
	db *sql.DB
}

type Recording struct {
	ID          int64   `gorm:"primaryKey;autoIncrement"`
	Title       string  `gorm:"not null;index:idx_recording_title" json:"title"`
	Channels    int     `json:"channels"`
	SampleRate  int     `json:"sample_rate"`
	SampleWidth int     `json:"sample_width"`
	DurationSec float64 `json:"duration_sec"`
	WindowCount int     `json:"window_count"`
	Checksum    string  `gorm:"type:varchar(16);index:idx_recording_checksum" json:"checksum"`
	BatchID     string  `gorm:"type:varchar(36);index:idx_recording_batch" json:"batch_id"`
	CreatedAt   time.Time
}

// Signature is one stored window. Its ID is the corpus entry id.
type Signature struct {
	ID          int64  `gorm:"primaryKey;autoIncrement"`
	RecordingID int64  `gorm:"not null;index:idx_signature_recording" json:"recording_id"`
	Position    int    `json:"position"`
	Vector      []byte `gorm:"not null" json:"vector"`
}

func NewDBClient() (*DBClient, error) {
	dbPath := os.Getenv("ACOUSTIC_DB_PATH")
	if dbPath == "" {
		dbPath = DefaultDBFile
	}
	return NewDBClientWithPath(dbPath)
}

func NewDBClientWithPath(dbPath string) (*DBClient, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := utils.MakeDir(dir); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	}

	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	db, err := gorm.Open(sqlite.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	client := &DBClient{DB: db, db: sqlDB}
	if err := client.CreateSchema(context.Background()); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return client, nil
}

// CreateSchema creates the recordings and signatures tables if missing.
func (c *DBClient) CreateSchema(ctx context.Context) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	if err := c.DB.WithContext(ctx).AutoMigrate(&Recording{}, &Signature{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (c *DBClient) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// PutRecording inserts rec and returns the id SQLite assigned to it. Any ID
// already set on rec is ignored.
func (c *DBClient) PutRecording(ctx context.Context, rec models.Recording) (int64, error) {
	if c == nil || c.DB == nil {
		return 0, errors.New(errDBClientNil)
	}

	row := recordingRow(rec)
	row.ID = 0
	if err := c.DB.WithContext(ctx).Create(&row).Error; err != nil {
		return 0, fmt.Errorf("creating recording: %w", err)
	}
	return row.ID, nil
}

// PutSignatureEntries stores windows in order and returns their entry ids.
func (c *DBClient) PutSignatureEntries(ctx context.Context, recordingID int64, windows []models.SignatureWindow) ([]int64, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}
	if len(windows) == 0 {
		return nil, nil
	}

	var ids []int64
	err := c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// 1. The recording must exist
		var count int64
		if err := tx.Model(&Recording{}).Where("id = ?", recordingID).Count(&count).Error; err != nil {
			return fmt.Errorf("checking recording: %w", err)
		}
		if count == 0 {
			return fmt.Errorf("recording %d: %w", recordingID, ErrNotFound)
		}

		// 2. Batch insert the windows
		rows := make([]Signature, len(windows))
		for i, w := range windows {
			rows[i] = Signature{RecordingID: recordingID, Position: i, Vector: EncodeVector(w)}
		}
		if err := tx.CreateInBatches(rows, insertBatchSize).Error; err != nil {
			return fmt.Errorf("batch insert signatures: %w", err)
		}

		// 3. Read the ids back in window order
		if err := tx.Model(&Signature{}).
			Where("recording_id = ?", recordingID).
			Order("position").
			Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("reading entry ids: %w", err)
		}

		// 4. Keep window_count in step with the stored rows
		if err := tx.Model(&Recording{}).
			Where("id = ?", recordingID).
			Update("window_count", len(windows)).Error; err != nil {
			return fmt.Errorf("updating window count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// GetRecording returns ErrNotFound for an unknown id.
func (c *DBClient) GetRecording(ctx context.Context, id int64) (*models.Recording, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var row Recording
	if err := c.DB.WithContext(ctx).First(&row, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("recording %d: %w", id, ErrNotFound)
		}
		return nil, fmt.Errorf("querying recording: %w", err)
	}
	rec := row.model()
	return &rec, nil
}

// GetEntry returns ErrNotFound for an unknown id.
func (c *DBClient) GetEntry(ctx context.Context, entryID int64) (*models.SignatureEntry, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var row Signature
	if err := c.DB.WithContext(ctx).First(&row, entryID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
		}
		return nil, fmt.Errorf("querying entry: %w", err)
	}
	return row.model()
}

// GetAllEntries returns the whole corpus ordered by entry id.
func (c *DBClient) GetAllEntries(ctx context.Context) ([]models.SignatureEntry, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	// Stream in batches so large libraries never hold two full copies of the
	// blob rows at once.
	var out []models.SignatureEntry
	var batch []Signature
	res := c.DB.WithContext(ctx).Order("id").FindInBatches(&batch, 500, func(tx *gorm.DB, _ int) error {
		for _, row := range batch {
			e, err := row.model()
			if err != nil {
				return err
			}
			out = append(out, *e)
		}
		return nil
	})
	if res.Error != nil {
		return nil, fmt.Errorf("loading corpus: %w", res.Error)
	}
	return out, nil
}

// ListRecordings returns every recording ordered by id.
func (c *DBClient) ListRecordings(ctx context.Context) ([]models.Recording, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var rows []Recording
	if err := c.DB.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	out := make([]models.Recording, len(rows))
	for i, r := range rows {
		out[i] = r.model()
	}
	return out, nil
}

// FindRecordingByChecksum returns nil, nil when no recording has checksum.
func (c *DBClient) FindRecordingByChecksum(ctx context.Context, checksum string) (*models.Recording, error) {
	if c == nil || c.DB == nil {
		return nil, errors.New(errDBClientNil)
	}

	var row Recording
	err := c.DB.WithContext(ctx).Where("checksum = ?", checksum).Order("id").First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying checksum: %w", err)
	}
	rec := row.model()
	return &rec, nil
}

// DeleteRecording removes a recording and its signatures in one transaction.
func (c *DBClient) DeleteRecording(ctx context.Context, id int64) error {
	if c == nil || c.DB == nil {
		return errors.New(errDBClientNil)
	}
	return c.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Signatures first, then the recording row.
		if err := tx.Where("recording_id = ?", id).Delete(&Signature{}).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&Recording{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("recording %d: %w", id, ErrNotFound)
		}
		return nil
	})
}

func recordingRow(r models.Recording) Recording {
	return Recording{
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

func (r Recording) model() models.Recording {
	return models.Recording{
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

func (s Signature) model() (*models.SignatureEntry, error) {
	v, err := DecodeVector(s.Vector)
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", s.ID, err)
	}
	return &models.SignatureEntry{ID: s.ID, RecordingID: s.RecordingID, Position: s.Position, Vector: v}, nil
}
