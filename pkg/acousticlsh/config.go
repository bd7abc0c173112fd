package acousticlsh

import (
	"fmt"
	"os"
	"strconv"

	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/index"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/signature"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
)

type Backend string

const (
	BackendSQLite Backend = "sqlite"
	BackendBadger Backend = "badger"
	BackendMongo  Backend = "mongo"
)

type Config struct {
	DBPath        string // sqlite file or badger directory
	Backend       Backend
	MongoURI      string
	MongoDatabase string
	Signature     signature.Params
	IndexOptions  []index.Option
	Logger        Logger
	Storage       Storage
}

type Option func(*Config)

func WithDBPath(path string) Option {
	return func(c *Config) {
		c.DBPath = path
	}
}

func WithBackend(b Backend) Option {
	return func(c *Config) {
		c.Backend = b
	}
}

func WithMongoURI(uri string) Option {
	return func(c *Config) {
		c.MongoURI = uri
	}
}

func WithMongoDatabase(name string) Option {
	return func(c *Config) {
		c.MongoDatabase = name
	}
}

func WithSignatureParams(p signature.Params) Option {
	return func(c *Config) {
		c.Signature = p
	}
}

func WithIndexOptions(opts ...index.Option) Option {
	return func(c *Config) {
		c.IndexOptions = append(c.IndexOptions, opts...)
	}
}

func WithLogger(log Logger) Option {
	return func(c *Config) {
		c.Logger = log
	}
}

// WithStorage injects a store. The service closes it on Close.
func WithStorage(storage Storage) Option {
	return func(c *Config) {
		c.Storage = storage
	}
}

func defaultConfig() *Config {
	return &Config{
		DBPath:        storage.DefaultDBFile,
		Backend:       BackendSQLite,
		MongoDatabase: storage.DefaultMongoDatabase,
		Signature:     signature.DefaultParams(),
		Logger:        nil,
	}
}

// ConfigFromEnv turns the ACOUSTIC_* environment variables into options.
// Unset variables leave the defaults alone.
func ConfigFromEnv() ([]Option, error) {
	var opts []Option

	if v := os.Getenv("ACOUSTIC_DB_PATH"); v != "" {
		opts = append(opts, WithDBPath(v))
	}
	if v := os.Getenv("ACOUSTIC_BACKEND"); v != "" {
		b := Backend(v)
		switch b {
		case BackendSQLite, BackendBadger, BackendMongo:
		default:
			return nil, fmt.Errorf("ACOUSTIC_BACKEND: unknown backend %q", v)
		}
		opts = append(opts, WithBackend(b))
	}
	if v := os.Getenv("ACOUSTIC_MONGO_URI"); v != "" {
		opts = append(opts, WithMongoURI(v))
	}
	if v := os.Getenv("ACOUSTIC_MONGO_DB"); v != "" {
		opts = append(opts, WithMongoDatabase(v))
	}

	params := signature.DefaultParams()
	changed := false
	if v := os.Getenv("ACOUSTIC_WINDOW_WIDTH"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("ACOUSTIC_WINDOW_WIDTH: %w", err)
		}
		params.Width, changed = n, true
	}
	if v := os.Getenv("ACOUSTIC_PEAKS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("ACOUSTIC_PEAKS: %w", err)
		}
		params.Peaks, changed = n, true
	}
	if v := os.Getenv("ACOUSTIC_TAPER"); v != "" {
		t, err := signature.ParseTaper(v)
		if err != nil {
			return nil, fmt.Errorf("ACOUSTIC_TAPER: %w", err)
		}
		params.Taper, changed = t, true
	}
	if changed {
		if err := params.Validate(); err != nil {
			return nil, err
		}
		opts = append(opts, WithSignatureParams(params))
	}
	return opts, nil
}
