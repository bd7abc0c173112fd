// Package testaudio builds deterministic synthetic PCM buffers for tests.
package testaudio

import (
	"math"
	"math/rand/v2"

	"github.com/go-audio/audio"
)

// Noise returns seconds of uniform 16-bit white noise. With more than one
// channel every channel carries the same sample, like a dual-mono file.
func Noise(seed uint64, seconds, rate, channels int) *audio.IntBuffer {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	frames := seconds * rate
	data := make([]int, frames*channels)
	for i := 0; i < frames; i++ {
		v := rng.IntN(65535) - 32767
		for c := 0; c < channels; c++ {
			data[i*channels+c] = v
		}
	}
	return buffer(data, rate, channels)
}

// Sine returns a mono sine tone.
func Sine(freq float64, amplitude, seconds, rate int) *audio.IntBuffer {
	frames := seconds * rate
	data := make([]int, frames)
	for i := range data {
		data[i] = int(float64(amplitude) * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return buffer(data, rate, 1)
}

// Constant returns a mono buffer holding the same sample everywhere.
func Constant(value, seconds, rate int) *audio.IntBuffer {
	data := make([]int, seconds*rate)
	for i := range data {
		data[i] = value
	}
	return buffer(data, rate, 1)
}

// Head copies the first seconds of buf.
func Head(buf *audio.IntBuffer, seconds int) *audio.IntBuffer {
	n := seconds * buf.Format.SampleRate * buf.Format.NumChannels
	if n > len(buf.Data) {
		n = len(buf.Data)
	}
	data := make([]int, n)
	copy(data, buf.Data[:n])
	return buffer(data, buf.Format.SampleRate, buf.Format.NumChannels)
}

func buffer(data []int, rate, channels int) *audio.IntBuffer {
	return &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: rate},
		Data:           data,
		SourceBitDepth: 16,
	}
}
