// Package signature turns PCM audio into sequences of fixed-width,
// min-max normalised peak vectors, one per sliding window of audio.
package signature

import (
	"errors"
	"fmt"

	"github.com/go-audio/audio"

	"github.com/himanishpuri/AcousticLSH/pkg/models"
)

const (
	DefaultWidth = 10   // seconds per window
	DefaultShift = 1    // seconds between windows
	DefaultPeaks = 5000 // components per window
)

var ErrInvalidParams = errors.New("signature: invalid parameters")

// Params controls extraction.
//
// Shift is accepted for configuration compatibility but windows always
// advance by one second. Honouring it would change window counts and
// invalidate every stored signature and calibrated threshold.
type Params struct {
	Width int
	Shift int
	Taper Taper
	Peaks int
}

func DefaultParams() Params {
	return Params{
		Width: DefaultWidth,
		Shift: DefaultShift,
		Taper: Hann,
		Peaks: DefaultPeaks,
	}
}

func (p Params) Validate() error {
	if p.Width <= 0 {
		return fmt.Errorf("%w: width %d", ErrInvalidParams, p.Width)
	}
	if p.Peaks <= 0 {
		return fmt.Errorf("%w: peaks %d", ErrInvalidParams, p.Peaks)
	}
	if _, ok := taperNames[p.Taper]; !ok {
		return fmt.Errorf("%w: unknown taper %d", ErrInvalidParams, int(p.Taper))
	}
	return nil
}

// WindowCount is the number of windows extracted from frames samples per
// channel: floor((frames - rate*width) / rate) + 1, or 0 when the audio is
// shorter than one window.
func WindowCount(frames, rate, width int) int {
	span := rate * width
	if rate <= 0 || width <= 0 || frames < span {
		return 0
	}
	return (frames-span)/rate + 1
}

// Extract computes the signature of buf. Audio too short for a single
// window yields an empty signature and a nil error.
func Extract(buf *audio.IntBuffer, p Params) ([]models.SignatureWindow, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if buf == nil || len(buf.Data) == 0 {
		return nil, nil
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 || buf.Format.NumChannels <= 0 {
		return nil, fmt.Errorf("%w: missing or invalid audio format", ErrInvalidParams)
	}

	rate := buf.Format.SampleRate
	mono := MixDown(buf)
	count := WindowCount(len(mono), rate, p.Width)
	if count == 0 {
		return nil, nil
	}

	span := rate * p.Width
	taper, err := p.Taper.Coefficients(span)
	if err != nil {
		return nil, err
	}

	signature := make([]models.SignatureWindow, 0, count)
	tapered := make([]float64, span)
	for i := 0; i < count; i++ {
		segment := mono[i*rate : i*rate+span]
		for j, s := range segment {
			tapered[j] = s * taper[j]
		}

		positions := selectPeakPositions(localMaxima(tapered), p.Peaks)
		values := make([]float64, len(positions))
		for j, pos := range positions {
			values[j] = tapered[pos]
		}
		signature = append(signature, normalise(values, p.Peaks))
	}
	return signature, nil
}

// MixDown averages interleaved channels into a mono sequence.
func MixDown(buf *audio.IntBuffer) []float64 {
	channels := buf.Format.NumChannels
	frames := len(buf.Data) / channels
	mono := make([]float64, frames)
	if channels == 1 {
		for i := range mono {
			mono[i] = float64(buf.Data[i])
		}
		return mono
	}

	for i := range mono {
		var sum float64
		for c := 0; c < channels; c++ {
			sum += float64(buf.Data[i*channels+c])
		}
		mono[i] = sum / float64(channels)
	}
	return mono
}
