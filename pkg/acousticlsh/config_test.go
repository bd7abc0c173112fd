package acousticlsh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/index"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/signature"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
)

func applied(opts []Option) *Config {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()
	assert.Equal(t, storage.DefaultDBFile, cfg.DBPath)
	assert.Equal(t, BackendSQLite, cfg.Backend)
	assert.Equal(t, signature.DefaultParams(), cfg.Signature)
	assert.Nil(t, cfg.Logger)
	assert.Nil(t, cfg.Storage)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("ACOUSTIC_DB_PATH", "/data/library")
	t.Setenv("ACOUSTIC_BACKEND", "badger")
	t.Setenv("ACOUSTIC_MONGO_URI", "mongodb://localhost:27017")
	t.Setenv("ACOUSTIC_MONGO_DB", "fingerprints")
	t.Setenv("ACOUSTIC_WINDOW_WIDTH", "5")
	t.Setenv("ACOUSTIC_PEAKS", "256")
	t.Setenv("ACOUSTIC_TAPER", "hamming")

	opts, err := ConfigFromEnv()
	require.NoError(t, err)

	cfg := applied(opts)
	assert.Equal(t, "/data/library", cfg.DBPath)
	assert.Equal(t, BackendBadger, cfg.Backend)
	assert.Equal(t, "mongodb://localhost:27017", cfg.MongoURI)
	assert.Equal(t, "fingerprints", cfg.MongoDatabase)
	assert.Equal(t, 5, cfg.Signature.Width)
	assert.Equal(t, 256, cfg.Signature.Peaks)
	assert.Equal(t, signature.Hamming, cfg.Signature.Taper)
	assert.Equal(t, signature.DefaultShift, cfg.Signature.Shift)
}

func TestConfigFromEnvUnset(t *testing.T) {
	for _, key := range []string{
		"ACOUSTIC_DB_PATH", "ACOUSTIC_BACKEND", "ACOUSTIC_MONGO_URI", "ACOUSTIC_MONGO_DB",
		"ACOUSTIC_WINDOW_WIDTH", "ACOUSTIC_PEAKS", "ACOUSTIC_TAPER",
	} {
		t.Setenv(key, "")
	}

	opts, err := ConfigFromEnv()
	require.NoError(t, err)
	assert.Empty(t, opts)
}

func TestConfigFromEnvRejectsBadValues(t *testing.T) {
	tests := []struct{ key, value string }{
		{"ACOUSTIC_BACKEND", "postgres"},
		{"ACOUSTIC_WINDOW_WIDTH", "ten"},
		{"ACOUSTIC_WINDOW_WIDTH", "0"},
		{"ACOUSTIC_PEAKS", "-3"},
		{"ACOUSTIC_TAPER", "kaiser"},
	}

	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := ConfigFromEnv()
			assert.Error(t, err)
		})
	}
}

func TestWithIndexOptionsAppends(t *testing.T) {
	cfg := applied([]Option{
		WithIndexOptions(index.WithTables(4)),
		WithIndexOptions(index.WithSeed(7), index.WithProbes(0)),
	})
	assert.Len(t, cfg.IndexOptions, 3)
}
