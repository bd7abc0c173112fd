package acousticlsh

import (
	"errors"

	"github.com/go-audio/audio"

	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/index"
)

// RecordingInput is one recording handed to Insert.
type RecordingInput struct {
	Title  string           // Recording title
	Buffer *audio.IntBuffer // Decoded PCM samples
}

var (
	// ErrIndexUnavailable is returned by Identify before any index has been
	// built, and by Insert or Rebuild when the corpus is empty.
	ErrIndexUnavailable = errors.New("acousticlsh: index unavailable")
	ErrInvalidArgument  = errors.New("acousticlsh: invalid argument")

	ErrEmptyCorpus      = index.ErrEmptyCorpus
	ErrNotBuilt         = index.ErrNotBuilt
	ErrInvalidDimension = index.ErrInvalidDimension
)
