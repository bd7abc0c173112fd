package audio

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	goaudio "github.com/go-audio/audio"

	"github.com/himanishpuri/AcousticLSH/pkg/utils"
)

// ConvertConfig controls ffmpeg transcoding of non-WAV inputs.
type ConvertConfig struct {
	SampleRate int // 0 keeps the source rate
	Channels   int // 0 keeps the source layout
}

// Load returns decoded PCM for path. WAV files are read directly; anything
// else is transcoded to 16-bit PCM WAV in tempDir with ffmpeg first.
func Load(ctx context.Context, path, tempDir string, cfg ConvertConfig) (*goaudio.IntBuffer, error) {
	if strings.EqualFold(filepath.Ext(path), ".wav") {
		return ReadWAV(path)
	}

	wavPath, err := ConvertToWAV(ctx, path, tempDir, cfg)
	if err != nil {
		return nil, err
	}
	defer os.Remove(wavPath)
	return ReadWAV(wavPath)
}

// ConvertToWAV transcodes inputPath to PCM WAV inside outputDir and returns
// the new path.
func ConvertToWAV(ctx context.Context, inputPath, outputDir string, cfg ConvertConfig) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
	}

	if err := utils.MakeDir(outputDir); err != nil {
		return "", err
	}

	base := strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath))
	outputPath := filepath.Join(outputDir, base+".wav")
	tmpPath := outputPath + ".tmp.wav"
	defer os.Remove(tmpPath)

	args := []string{"-y", "-v", "quiet", "-i", inputPath}
	if cfg.Channels > 0 {
		args = append(args, "-ac", strconv.Itoa(cfg.Channels))
	}
	if cfg.SampleRate > 0 {
		args = append(args, "-ar", strconv.Itoa(cfg.SampleRate))
	}
	args = append(args, "-c:a", "pcm_s16le", tmpPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("ffmpeg failed: %v (%s)", err, out)
	}

	if err := utils.MoveFile(tmpPath, outputPath); err != nil {
		return "", err
	}
	return outputPath, nil
}
