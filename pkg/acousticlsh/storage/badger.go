package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v3"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

// Key layout:
//
//	rec/<id>           recording JSON
//	ent/<id>           recording id | position | vector blob
//	rent/<rec>/<ent>   empty, lists a recording's entries
//	chk/<checksum>     recording id
var (
	prefixRecording = []byte("rec/")
	prefixEntry     = []byte("ent/")
	prefixRecEntry  = []byte("rent/")
	prefixChecksum  = []byte("chk/")
)

const DefaultBadgerDir = "acousticlsh.badger"

const (
	writeBatchSize = 1000
	entryHeader    = 12
)

// BadgerStore keeps the corpus in an embedded Badger key-value store.
//
// Ids are max(existing)+1, derived from the highest rec/ and ent/ keys at
// open. Nothing is leased ahead, so an exit that skips Close loses no ids.
type BadgerStore struct {
	db *badger.DB

	mu      sync.Mutex
	lastRec int64
	lastEnt int64
}

// NewBadgerStore opens (or creates) a store under dir. An empty dir keeps
// everything in memory.
func NewBadgerStore(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("badger open: %w", err)
	}

	s := &BadgerStore{db: db}
	if s.lastRec, err = s.highestID(prefixRecording); err != nil {
		db.Close()
		return nil, fmt.Errorf("recording ids: %w", err)
	}
	if s.lastEnt, err = s.highestID(prefixEntry); err != nil {
		db.Close()
		return nil, fmt.Errorf("entry ids: %w", err)
	}
	return s, nil
}

// highestID returns the largest id stored under prefix, or 0.
func (s *BadgerStore) highestID(prefix []byte) (int64, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		it.Seek(idKey(prefix, -1)) // all 0xff
		if it.ValidForPrefix(prefix) {
			key := it.Item().Key()
			if len(key) != len(prefix)+8 {
				return fmt.Errorf("malformed key %q", key)
			}
			id = int64(binary.BigEndian.Uint64(key[len(prefix):]))
		}
		return nil
	})
	return id, err
}

// reserve hands out n consecutive ids after *last and returns the first.
func (s *BadgerStore) reserve(last *int64, n int) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := *last + 1
	*last += int64(n)
	return first
}

// CreateSchema is a no-op; Badger has no schema.
func (s *BadgerStore) CreateSchema(context.Context) error { return nil }

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func (s *BadgerStore) PutRecording(ctx context.Context, rec models.Recording) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	rec.ID = s.reserve(&s.lastRec, 1)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	val, err := json.Marshal(rec)
	if err != nil {
		return 0, err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(idKey(prefixRecording, rec.ID), val); err != nil {
			return err
		}
		if rec.Checksum == "" {
			return nil
		}
		return txn.Set(checksumKey(rec.Checksum), u64(rec.ID))
	})
	if err != nil {
		return 0, fmt.Errorf("storing recording: %w", err)
	}
	return rec.ID, nil
}

func (s *BadgerStore) PutSignatureEntries(ctx context.Context, recordingID int64, windows []models.SignatureWindow) ([]int64, error) {
	if len(windows) == 0 {
		return nil, nil
	}
	rec, err := s.GetRecording(ctx, recordingID)
	if err != nil {
		return nil, err
	}

	first := s.reserve(&s.lastEnt, len(windows))
	ids := make([]int64, len(windows))
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for i, w := range windows {
		if i%writeBatchSize == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		id := first + int64(i)
		ids[i] = id

		if err := wb.Set(idKey(prefixEntry, id), encodeEntry(recordingID, i, w)); err != nil {
			return nil, err
		}
		if err := wb.Set(recEntryKey(recordingID, id), []byte{}); err != nil {
			return nil, err
		}
	}

	rec.WindowCount = len(windows)
	val, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := wb.Set(idKey(prefixRecording, recordingID), val); err != nil {
		return nil, err
	}
	if err := wb.Flush(); err != nil {
		return nil, fmt.Errorf("flushing entries: %w", err)
	}
	return ids, nil
}

func (s *BadgerStore) GetRecording(_ context.Context, id int64) (*models.Recording, error) {
	var rec models.Recording
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(prefixRecording, id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("recording %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading recording: %w", err)
	}
	return &rec, nil
}

func (s *BadgerStore) GetEntry(_ context.Context, entryID int64) (*models.SignatureEntry, error) {
	var e *models.SignatureEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(prefixEntry, entryID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			e, err = decodeEntry(entryID, val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("entry %d: %w", entryID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("reading entry: %w", err)
	}
	return e, nil
}

// GetAllEntries walks the ent/ prefix. Keys are big-endian so the walk is in
// id order.
func (s *BadgerStore) GetAllEntries(ctx context.Context) ([]models.SignatureEntry, error) {
	var out []models.SignatureEntry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefixEntry); it.ValidForPrefix(prefixEntry); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			id := int64(binary.BigEndian.Uint64(item.Key()[len(prefixEntry):]))
			err := item.Value(func(val []byte) error {
				e, err := decodeEntry(id, val)
				if err != nil {
					return err
				}
				out = append(out, *e)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading corpus: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) ListRecordings(_ context.Context) ([]models.Recording, error) {
	out := []models.Recording{}
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(prefixRecording); it.ValidForPrefix(prefixRecording); it.Next() {
			var rec models.Recording
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing recordings: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) FindRecordingByChecksum(ctx context.Context, checksum string) (*models.Recording, error) {
	var id int64
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(checksumKey(checksum))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("checksum %s: corrupt value", checksum)
			}
			id = int64(binary.BigEndian.Uint64(val))
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying checksum: %w", err)
	}

	rec, err := s.GetRecording(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return rec, err
}

func (s *BadgerStore) DeleteRecording(ctx context.Context, id int64) error {
	rec, err := s.GetRecording(ctx, id)
	if err != nil {
		return err
	}

	prefix := append(append([]byte{}, prefixRecEntry...), u64(id)...)
	var keys [][]byte
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().KeyCopy(nil)
			entID := int64(binary.BigEndian.Uint64(k[len(prefix):]))
			keys = append(keys, k, idKey(prefixEntry, entID))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("collecting entries: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range keys {
		if err := wb.Delete(k); err != nil {
			return err
		}
	}
	if rec.Checksum != "" {
		if err := wb.Delete(checksumKey(rec.Checksum)); err != nil {
			return err
		}
	}
	if err := wb.Delete(idKey(prefixRecording, id)); err != nil {
		return err
	}
	return wb.Flush()
}

func u64(v int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(v))
	return b
}

func idKey(prefix []byte, id int64) []byte {
	return append(append(make([]byte, 0, len(prefix)+8), prefix...), u64(id)...)
}

func recEntryKey(recordingID, entryID int64) []byte {
	k := idKey(prefixRecEntry, recordingID)
	return append(k, u64(entryID)...)
}

func checksumKey(checksum string) []byte {
	return append(append([]byte{}, prefixChecksum...), checksum...)
}

func encodeEntry(recordingID int64, position int, w models.SignatureWindow) []byte {
	out := make([]byte, entryHeader, entryHeader+4*len(w))
	binary.BigEndian.PutUint64(out, uint64(recordingID))
	binary.BigEndian.PutUint32(out[8:], uint32(position))
	return append(out, EncodeVector(w)...)
}

func decodeEntry(id int64, val []byte) (*models.SignatureEntry, error) {
	if len(val) < entryHeader {
		return nil, fmt.Errorf("entry %d: corrupt value", id)
	}
	v, err := DecodeVector(val[entryHeader:])
	if err != nil {
		return nil, fmt.Errorf("entry %d: %w", id, err)
	}
	return &models.SignatureEntry{
		ID:          id,
		RecordingID: int64(binary.BigEndian.Uint64(val)),
		Position:    int(binary.BigEndian.Uint32(val[8:])),
		Vector:      v,
	}, nil
}
