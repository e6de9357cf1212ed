package persistence

import "time"

// SessionRecord is the indexed row mirroring contextmodel.SessionMetadata —
// enough to list and filter sessions without reading every session's
// sidecar file.
type SessionRecord struct {
	SessionID        string
	TierID           string
	ModelUsed        string
	StartedAt        time.Time
	LastActiveAt     time.Time
	TotalMessages    int
	CompressionCount int
	TokenTotal       int
}

// CheckpointRecordRow is the indexed row mirroring a single
// contextmodel.CheckpointRecord, with the owning session attached so it can
// be queried independent of a Session History load.
type CheckpointRecordRow struct {
	ID               string
	SessionID        string
	Level            int
	CreatedAt        time.Time
	RangeStartID     string
	RangeEndID       string
	OriginalTokens   int
	CompressedTokens int
	Ratio            float64
}
