package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/mdobak/go-xerrors"
	"github.com/vbauerster/mpb/v8"
	"github.com/vbauerster/mpb/v8/decor"

	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/audio"
	"github.com/himanishpuri/AcousticLSH/pkg/acousticlsh/storage"
	"github.com/himanishpuri/AcousticLSH/pkg/logger"
	"github.com/himanishpuri/AcousticLSH/pkg/utils"
)

var audioExts = []string{".wav", ".mp3", ".flac", ".m4a", ".ogg"}

// Global flags
var (
	dbPath     string
	backend    string
	tempDir    string
	sampleRate int
)

func init() {
	// .env values are visible to the flag defaults below
	_ = godotenv.Load()

	flag.StringVar(&dbPath, "db", getEnvOrDefault("ACOUSTIC_DB_PATH", storage.DefaultDBFile), "SQLite file or Badger directory")
	flag.StringVar(&backend, "backend", getEnvOrDefault("ACOUSTIC_BACKEND", string(acousticlsh.BackendSQLite)), "Storage backend: sqlite, badger or mongo")
	flag.StringVar(&tempDir, "temp", getEnvOrDefault("ACOUSTIC_TEMP_DIR", os.TempDir()), "Directory for temporary audio conversion files")
	flag.IntVar(&sampleRate, "rate", 0, "Resample non-WAV input to this rate (0 keeps the source rate)")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// createService builds the service from the environment, then the command
// line flags on top.
func createService() (acousticlsh.Service, error) {
	opts, err := acousticlsh.ConfigFromEnv()
	if err != nil {
		return nil, err
	}
	opts = append(opts,
		acousticlsh.WithDBPath(dbPath),
		acousticlsh.WithBackend(acousticlsh.Backend(backend)),
	)
	return acousticlsh.NewService(opts...)
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	os.Exit(run())
}

// run executes one command and returns the process exit code. Commands
// return instead of exiting so their deferred Close always runs.
func run() int {
	log := logger.GetLogger()

	if flag.NArg() < 1 {
		printUsage()
		return 1
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]
	log.Debugf("Executing command: %s", command)

	switch command {
	case "insert":
		return handleInsert(args)
	case "identify":
		return handleIdentify(args)
	case "list":
		return handleList()
	case "delete":
		return handleDelete(args)
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		return 1
	}
}

// fail reports err with a stack trace in the log and returns exit code 1.
func fail(msg string, err error) int {
	xerr := xerrors.New(err)
	fmt.Printf("❌ %s: %v\n", msg, err)
	logger.GetLogger().WithFields(map[string]any{"error": xerr}).Error(msg)
	return 1
}

// splitArgs separates positional arguments from trailing flags so flags may
// follow the path, as in "identify clip.wav -k 3".
func splitArgs(args []string) (positional, flags []string) {
	for i, arg := range args {
		if strings.HasPrefix(arg, "-") {
			return positional, args[i:]
		}
		positional = append(positional, arg)
	}
	return positional, nil
}

func collectAudioFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		found, err := utils.ListAudioFiles(p, audioExts...)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}
	return files, nil
}

func handleInsert(args []string) int {
	log := logger.GetLogger()

	paths, _ := splitArgs(args)
	if len(paths) == 0 {
		fmt.Println("Usage: acousticlsh insert <dir|file>...")
		return 1
	}

	files, err := collectAudioFiles(paths)
	if err != nil {
		return fail("Failed to read input", err)
	}
	if len(files) == 0 {
		return fail("Nothing to insert", fmt.Errorf("%w: no audio files under %s", acousticlsh.ErrInvalidArgument, strings.Join(paths, ", ")))
	}

	svc, err := createService()
	if err != nil {
		return fail("Failed to create service", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	p := mpb.New(mpb.WithWidth(64))
	bar := p.AddBar(int64(len(files)),
		mpb.PrependDecorators(
			decor.Name("Decoding: "),
			decor.CountersNoUnit("%d / %d"),
		),
		mpb.AppendDecorators(
			decor.Percentage(),
			decor.EwmaETA(decor.ET_STYLE_GO, 30),
		),
	)

	inputs := make([]acousticlsh.RecordingInput, 0, len(files))
	var pcmBytes uint64
	for _, f := range files {
		start := time.Now()
		buf, err := audio.Load(ctx, f, tempDir, audio.ConvertConfig{SampleRate: sampleRate})
		bar.EwmaIncrement(time.Since(start))
		if err != nil {
			log.Warnf("Skipping %s: %v", f, err)
			continue
		}
		meta := audio.Describe(buf)
		pcmBytes += uint64(meta.Frames * meta.Channels * meta.SampleWidth)
		inputs = append(inputs, acousticlsh.RecordingInput{
			Title:  strings.TrimSuffix(filepath.Base(f), filepath.Ext(f)),
			Buffer: buf,
		})
	}
	p.Wait()

	if len(inputs) == 0 {
		return fail("Nothing to insert", fmt.Errorf("%w: no file could be decoded", acousticlsh.ErrInvalidArgument))
	}

	fmt.Printf("🎵 Extracting signatures from %d file(s), %s of PCM...\n", len(inputs), humanize.Bytes(pcmBytes))
	start := time.Now()
	recs, err := svc.Insert(ctx, inputs)
	if err != nil {
		return fail("Insert failed", err)
	}

	windows := 0
	for _, r := range recs {
		windows += r.WindowCount
	}
	fmt.Printf("\n✅ Stored %d new recording(s), %s windows in %s\n",
		len(recs), humanize.Comma(int64(windows)), time.Since(start).Round(time.Millisecond))
	if skipped := len(inputs) - len(recs); skipped > 0 {
		fmt.Printf("   %d skipped (already stored or too short)\n", skipped)
	}
	for _, r := range recs {
		fmt.Printf("   %4d  %s\n", r.ID, r.Title)
	}
	return 0
}

func handleIdentify(args []string) int {
	log := logger.GetLogger()

	positional, flagArgs := splitArgs(args)
	identifyCmd := flag.NewFlagSet("identify", flag.ExitOnError)
	k := identifyCmd.Int("k", 1, "Number of candidates to return")
	threshold := identifyCmd.Float64("threshold", 0.0001, "Largest distance accepted as a match")
	identifyCmd.Parse(flagArgs)

	if len(positional) != 1 {
		fmt.Println("Usage: acousticlsh identify <audio_file> [-k n] [-threshold t]")
		return 1
	}
	path := positional[0]

	svc, err := createService()
	if err != nil {
		return fail("Failed to create service", err)
	}
	defer svc.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	buf, err := audio.Load(ctx, path, tempDir, audio.ConvertConfig{SampleRate: sampleRate})
	if err != nil {
		return fail("Failed to read snippet", err)
	}

	fmt.Println("🔍 Searching library...")
	res, err := svc.Identify(ctx, buf, *k, *threshold)
	if errors.Is(err, acousticlsh.ErrIndexUnavailable) {
		fmt.Println("\n📭 Library is empty, insert some recordings first")
		return 1
	}
	if err != nil {
		return fail("Identify failed", err)
	}
	log.Infof("Queried %d windows, best distance %g", res.WindowCount, res.BestDistance)

	if res.NoMatch {
		fmt.Println("\n❌ No match")
		if res.WindowCount > 0 {
			fmt.Printf("   Best distance %g is above threshold %g\n", res.BestDistance, *threshold)
		} else {
			fmt.Println("   Snippet is shorter than one signature window")
		}
		return 0
	}

	fmt.Printf("\n✅ Found %d match(es)!\n\n", len(res.Matches))
	for i, m := range res.Matches {
		fmt.Printf("%d. \"%s\" (ID: %d)\n", i+1, m.Recording.Title, m.Recording.ID)
		fmt.Printf("   Distance: %g | Snippet window: %d | Entry: %d\n", m.Distance, m.WindowIndex, m.EntryID)
	}
	if len(res.Votes) > 0 {
		fmt.Println("\nNearest-entry votes:")
		for _, v := range res.Votes {
			fmt.Printf("   ID %d: %d/%d windows\n", v.RecordingID, v.Windows, res.WindowCount)
		}
	}
	return 0
}

func handleList() int {
	svc, err := createService()
	if err != nil {
		return fail("Failed to create service", err)
	}
	defer svc.Close()

	recs, err := svc.ListRecordings(context.Background())
	if err != nil {
		return fail("Failed to list recordings", err)
	}
	if len(recs) == 0 {
		fmt.Println("\n📭 No recordings in library")
		return 0
	}

	fmt.Printf("\n📚 Found %d recording(s):\n\n", len(recs))
	for _, r := range recs {
		secs := int(r.DurationSec)
		fmt.Printf("%4d. \"%s\"\n", r.ID, r.Title)
		fmt.Printf("      %d:%02d | %d ch | %s Hz | %d windows | added %s\n",
			secs/60, secs%60, r.Channels, humanize.Comma(int64(r.SampleRate)), r.WindowCount, humanize.Time(r.CreatedAt))
	}
	return 0
}

func handleDelete(args []string) int {
	log := logger.GetLogger()

	if len(args) < 1 {
		fmt.Println("Usage: acousticlsh delete <recording_id>")
		return 1
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return fail("Invalid recording ID", err)
	}

	svc, err := createService()
	if err != nil {
		return fail("Failed to create service", err)
	}
	defer svc.Close()
	ctx := context.Background()

	rec, err := svc.GetRecording(ctx, id)
	if err != nil {
		return fail(fmt.Sprintf("Recording %d not found", id), err)
	}
	if err := svc.DeleteRecording(ctx, id); err != nil {
		return fail("Delete failed", err)
	}

	fmt.Printf("\n✅ Deleted recording %d \"%s\" (%d windows)\n", rec.ID, rec.Title, rec.WindowCount)
	log.Infof("Deleted recording ID=%d (%q)", rec.ID, rec.Title)
	return 0
}

func printUsage() {
	fmt.Println("AcousticLSH - audio snippet identification")
	fmt.Println("\nGlobal Options:")
	fmt.Println("  -db <path>         SQLite file or Badger directory (env: ACOUSTIC_DB_PATH)")
	fmt.Println("  -backend <name>    sqlite, badger or mongo (env: ACOUSTIC_BACKEND, default: sqlite)")
	fmt.Println("  -temp <dir>        Temporary directory for audio conversion (env: ACOUSTIC_TEMP_DIR)")
	fmt.Println("  -rate <hz>         Resample non-WAV input (default: keep source rate)")
	fmt.Println("\nUsage:")
	fmt.Println("  acousticlsh [global-options] insert <dir|file>...")
	fmt.Println("  acousticlsh [global-options] identify <audio_file> [-k 1] [-threshold 0.0001]")
	fmt.Println("  acousticlsh [global-options] list")
	fmt.Println("  acousticlsh [global-options] delete <recording_id>")
	fmt.Println("\nEnvironment (also read from .env):")
	fmt.Println("  ACOUSTIC_MONGO_URI, ACOUSTIC_MONGO_DB, ACOUSTIC_WINDOW_WIDTH, ACOUSTIC_PEAKS, ACOUSTIC_TAPER, LOG_LEVEL")
}
