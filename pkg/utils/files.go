package utils

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// MakeDir creates a directory with all parent directories
func MakeDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// MoveFile moves or renames a file
func MoveFile(src, dst string) error {
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("failed to move file from %s to %s: %w", src, dst, err)
	}
	return nil
}

// ListAudioFiles returns the regular files directly inside dir whose
// extension is one of exts (case-insensitive, with the dot), sorted by name.
func ListAudioFiles(dir string, exts ...string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", dir, err)
	}

	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if slices.ContainsFunc(exts, func(want string) bool { return strings.EqualFold(want, ext) }) {
			out = append(out, filepath.Join(dir, e.Name()))
		}
	}
	slices.Sort(out)
	return out, nil
}

// ListWAVFiles returns the .wav files directly inside dir, sorted by name.
func ListWAVFiles(dir string) ([]string, error) {
	return ListAudioFiles(dir, ".wav")
}
