package models

import "time"

// Recording is a library entry. It is immutable once stored.
type Recording struct {
	ID          int64     // Sequential id assigned by the store
	Title       string    // Recording title
	Channels    int       // Channel count of the source audio
	SampleRate  int       // Frames per second
	SampleWidth int       // Bytes per sample
	DurationSec float64   // Duration in seconds
	WindowCount int       // Number of signature windows stored for it
	Checksum    string    // xxhash64 of the PCM samples, hex encoded
	BatchID     string    // UUID shared by the recordings of one insert
	CreatedAt   time.Time // Set by the store
}

// Match is one ranked candidate returned by identification.
type Match struct {
	Recording   Recording
	Distance    float64 // (sum(snippet - stored))^2
	EntryID     int64   // Entry that produced the distance
	WindowIndex int     // Snippet window that produced the distance
}

// Vote counts how many snippet windows had a recording as their nearest entry.
type Vote struct {
	RecordingID int64
	Windows     int
}

// Result is the outcome of identifying a snippet. NoMatch is a normal
// outcome, not an error: it is set when the best candidate distance exceeds
// the caller's threshold.
type Result struct {
	Matches      []Match // Ascending distance, at most k
	Votes        []Vote  // Descending window count
	NoMatch      bool
	BestDistance float64
	WindowCount  int // Snippet windows queried
}

// Matched reports whether the result carries at least one match.
func (r *Result) Matched() bool {
	return r != nil && !r.NoMatch && len(r.Matches) > 0
}
