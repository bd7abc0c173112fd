package acousticlsh

import (
	"context"
	"fmt"
	"time"

	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
)

var (
	_ Storage = (*storage.DBClient)(nil)
	_ Storage = (*storage.BadgerStore)(nil)
	_ Storage = (*storage.MongoStore)(nil)
)

const mongoConnectTimeout = 10 * time.Second

// NewSQLiteStorage opens a SQLite backend at dbPath.
func NewSQLiteStorage(dbPath string) (Storage, error) {
	db, err := storage.NewDBClientWithPath(dbPath)
	if err != nil {
		return nil, err
	}
	return db, nil
}

// NewBadgerStorage opens a Badger backend in dir. An empty dir is in-memory.
func NewBadgerStorage(dir string) (Storage, error) {
	s, err := storage.NewBadgerStore(dir)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func NewMongoStorage(ctx context.Context, uri, database string) (Storage, error) {
	s, err := storage.NewMongoStore(ctx, uri, database)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func openStorage(cfg *Config) (Storage, error) {
	switch cfg.Backend {
	case BackendSQLite, "":
		return NewSQLiteStorage(cfg.DBPath)
	case BackendBadger:
		dir := cfg.DBPath
		if dir == storage.DefaultDBFile {
			dir = storage.DefaultBadgerDir
		}
		return NewBadgerStorage(dir)
	case BackendMongo:
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("%w: mongo backend needs a URI", ErrInvalidArgument)
		}
		ctx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
		defer cancel()
		return NewMongoStorage(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidArgument, cfg.Backend)
	}
}
