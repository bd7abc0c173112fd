// Package audio supplies decoded PCM to the matcher. It reads and writes
// PCM WAV through go-audio and hands samples around as *audio.IntBuffer.
package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/OneOfOne/xxhash"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

var ErrNotWAV = errors.New("audio: not a valid PCM WAV stream")

// Metadata is what the library records about a decoded buffer.
type Metadata struct {
	Channels    int
	SampleRate  int
	SampleWidth int // bytes per sample
	Frames      int
	DurationSec float64
}

// ReadWAV decodes a PCM WAV file.
func ReadWAV(path string) (*goaudio.IntBuffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	buf, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return buf, nil
}

// DecodeWAV decodes a whole PCM WAV stream into interleaved samples.
func DecodeWAV(r io.ReadSeeker) (*goaudio.IntBuffer, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, ErrNotWAV
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}
	if buf.Format == nil {
		buf.Format = &goaudio.Format{NumChannels: int(dec.NumChans), SampleRate: int(dec.SampleRate)}
	}
	buf.SourceBitDepth = int(dec.BitDepth)
	return buf, nil
}

// WriteWAV encodes buf as PCM WAV. A zero SourceBitDepth is written as 16-bit.
func WriteWAV(w io.WriteSeeker, buf *goaudio.IntBuffer) error {
	if buf == nil || buf.Format == nil {
		return errors.New("audio: buffer has no format")
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = 16
	}

	enc := wav.NewEncoder(w, buf.Format.SampleRate, depth, buf.Format.NumChannels, 1)
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("writing PCM data: %w", err)
	}
	return enc.Close()
}

// WriteWAVFile writes buf to path, replacing any existing file.
func WriteWAVFile(path string, buf *goaudio.IntBuffer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteWAV(f, buf); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Describe derives recording metadata from a buffer.
func Describe(buf *goaudio.IntBuffer) Metadata {
	if buf == nil || buf.Format == nil || buf.Format.NumChannels <= 0 {
		return Metadata{}
	}

	m := Metadata{
		Channels:    buf.Format.NumChannels,
		SampleRate:  buf.Format.SampleRate,
		SampleWidth: (buf.SourceBitDepth + 7) / 8,
		Frames:      len(buf.Data) / buf.Format.NumChannels,
	}
	if m.SampleWidth == 0 {
		m.SampleWidth = 2
	}
	if m.SampleRate > 0 {
		m.DurationSec = float64(m.Frames) / float64(m.SampleRate)
	}
	return m
}

// Checksum is the hex xxhash64 of the format and samples of buf. Identical
// audio always yields the same checksum.
func Checksum(buf *goaudio.IntBuffer) string {
	h := xxhash.New64()
	if buf == nil {
		return strconv.FormatUint(h.Sum64(), 16)
	}

	scratch := make([]byte, 0, 4096)
	if buf.Format != nil {
		scratch = binary.LittleEndian.AppendUint32(scratch, uint32(buf.Format.NumChannels))
		scratch = binary.LittleEndian.AppendUint32(scratch, uint32(buf.Format.SampleRate))
	}
	for _, s := range buf.Data {
		scratch = binary.LittleEndian.AppendUint32(scratch, uint32(int32(s)))
		if len(scratch) >= 4096 {
			h.Write(scratch)
			scratch = scratch[:0]
		}
	}
	h.Write(scratch)
	return strconv.FormatUint(h.Sum64(), 16)
}
