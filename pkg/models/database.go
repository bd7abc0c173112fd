package models

// SignatureWindow is one normalised feature vector. Values lie in [0,1].
type SignatureWindow []float32

// SignatureEntry is the unit stored and indexed: one window of one recording.
// Position is the window index within its recording.
type SignatureEntry struct {
	ID          int64
	RecordingID int64
	Position    int
	Vector      SignatureWindow
}
