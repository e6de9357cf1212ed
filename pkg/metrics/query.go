package metrics

import (
	"fmt"
	"time"

	"contextcore/pkg/persistence"
)

// SessionSnapshot is the merged view `contextctl context stats` prints: the
// in-process counters InternalRecorder has collected since this run
// started, plus whatever the durable sqlite index knows from prior runs.
type SessionSnapshot struct {
	SessionID            string
	CompressionRuns      int64
	CompressionFailures  int64
	InputTokens          int64
	OutputTokens         int64
	TierTransitions      int64
	EmergencyActivations int64
	IndexedCheckpoints   int
	IndexedTokensSaved   int64
	LastCompressionAt    *time.Time
}

// QueryService merges the live InternalRecorder with the durable index so
// a long-lived CLI process and a stats query about a past session both go
// through the same code path.
type QueryService struct {
	recorder *InternalRecorder
	index    *persistence.Store // nil when no index is configured
}

// NewQueryService binds a query surface to the live recorder and an
// optional index Store (pass nil when persistence.Initialize was never
// called).
func NewQueryService(recorder *InternalRecorder, index *persistence.Store) *QueryService {
	return &QueryService{recorder: recorder, index: index}
}

// Snapshot returns the merged stats for one session.
func (q *QueryService) Snapshot(sessionID string) (SessionSnapshot, error) {
	live := q.recorder.SessionStats(sessionID)
	snap := SessionSnapshot{
		SessionID:            sessionID,
		CompressionRuns:      live.CompressionRuns,
		CompressionFailures:  live.CompressionFailures,
		InputTokens:          live.InputTokens,
		OutputTokens:         live.OutputTokens,
		TierTransitions:      live.TierTransitions,
		EmergencyActivations: live.EmergencyActivations,
	}
	if !live.LastCompressionAt.IsZero() {
		t := live.LastCompressionAt
		snap.LastCompressionAt = &t
	}

	if q.index == nil {
		return snap, nil
	}

	stats, err := q.index.Stats(sessionID)
	if err != nil {
		return SessionSnapshot{}, fmt.Errorf("metrics: reading indexed stats for %s: %w", sessionID, err)
	}
	snap.IndexedCheckpoints = stats.CheckpointCount
	snap.IndexedTokensSaved = stats.TokensSaved
	if stats.LastCompressed != nil && (snap.LastCompressionAt == nil || stats.LastCompressed.After(*snap.LastCompressionAt)) {
		snap.LastCompressionAt = stats.LastCompressed
	}
	return snap, nil
}
