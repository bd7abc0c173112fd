// Package storage holds the signature store backends: SQLite through gorm,
// Badger, and MongoDB. Each one persists recordings and their signature
// entries and hands the full corpus back for index builds.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

var ErrNotFound = errors.New("storage: not found")

// EncodeVector packs v as little-endian float32 values.
func EncodeVector(v models.SignatureWindow) []byte {
	out := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(f))
	}
	return out
}

// DecodeVector is the inverse of EncodeVector. It always allocates.
func DecodeVector(b []byte) (models.SignatureWindow, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("storage: vector blob of %d bytes is not a float32 array", len(b))
	}
	out := make(models.SignatureWindow, len(b)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[4*i:]))
	}
	return out, nil
}
