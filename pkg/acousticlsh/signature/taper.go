package signature

import (
	"fmt"
	"strings"

	"github.com/mjibson/go-dsp/window"
)

// Taper is one of the supported window functions applied to each slice of
// audio before peak picking.
type Taper int

const (
	Hann Taper = iota
	Hamming
	Blackman
	Bartlett
	FlatTop
	Rectangular
)

var taperNames = map[Taper]string{
	Hann:        "hann",
	Hamming:     "hamming",
	Blackman:    "blackman",
	Bartlett:    "bartlett",
	FlatTop:     "flattop",
	Rectangular: "rectangular",
}

func (t Taper) String() string {
	if name, ok := taperNames[t]; ok {
		return name
	}
	return fmt.Sprintf("taper(%d)", int(t))
}

// ParseTaper accepts the names printed by String, case-insensitively.
// "hanning" and "boxcar" are accepted as aliases.
func ParseTaper(name string) (Taper, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	switch n {
	case "hanning":
		return Hann, nil
	case "boxcar":
		return Rectangular, nil
	}
	for t, tn := range taperNames {
		if tn == n {
			return t, nil
		}
	}
	return Hann, fmt.Errorf("%w: unknown taper %q", ErrInvalidParams, name)
}

// Coefficients returns the n-point periodic window for t: the first n points
// of the (n+1)-point symmetric window, as used for spectral analysis.
func (t Taper) Coefficients(n int) ([]float64, error) {
	if n <= 1 {
		return nil, fmt.Errorf("%w: taper length %d", ErrInvalidParams, n)
	}

	var symmetric func(int) []float64
	switch t {
	case Hann:
		symmetric = window.Hann
	case Hamming:
		symmetric = window.Hamming
	case Blackman:
		symmetric = window.Blackman
	case Bartlett:
		symmetric = window.Bartlett
	case FlatTop:
		symmetric = window.FlatTop
	case Rectangular:
		return window.Rectangular(n), nil
	default:
		return nil, fmt.Errorf("%w: unknown taper %d", ErrInvalidParams, int(t))
	}
	return symmetric(n + 1)[:n:n], nil
}
