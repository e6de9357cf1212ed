package persistence

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrSessionNotFound is returned when a query targets a session the index
// has never seen.
var ErrSessionNotFound = errors.New("persistence: session not found")

// Store performs index reads and writes against a sqlite connection. Safe
// for concurrent use; sqlite itself serializes writers.
type Store struct {
	db *sql.DB
}

// NewStore wraps an existing connection, typically one returned by Open.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// UpsertSession records or refreshes a session's summary row. The
// Orchestrator mirrors one after starting or rebinding a session and after
// each added message, so the index never drifts far from the authoritative
// file.
func (s *Store) UpsertSession(rec SessionRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO sessions (session_id, tier_id, model_used, started_at, last_active_at, total_messages, compression_count, token_total)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			tier_id = excluded.tier_id,
			model_used = excluded.model_used,
			last_active_at = excluded.last_active_at,
			total_messages = excluded.total_messages,
			compression_count = excluded.compression_count,
			token_total = excluded.token_total
	`, rec.SessionID, rec.TierID, rec.ModelUsed, rec.StartedAt, rec.LastActiveAt,
		rec.TotalMessages, rec.CompressionCount, rec.TokenTotal)
	if err != nil {
		return fmt.Errorf("persistence: upserting session %s: %w", rec.SessionID, err)
	}
	return nil
}

// GetSession returns the indexed row for sessionID, or ErrSessionNotFound.
func (s *Store) GetSession(sessionID string) (SessionRecord, error) {
	row := s.db.QueryRow(`
		SELECT session_id, tier_id, model_used, started_at, last_active_at, total_messages, compression_count, token_total
		FROM sessions WHERE session_id = ?
	`, sessionID)

	var rec SessionRecord
	err := row.Scan(&rec.SessionID, &rec.TierID, &rec.ModelUsed, &rec.StartedAt, &rec.LastActiveAt,
		&rec.TotalMessages, &rec.CompressionCount, &rec.TokenTotal)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionRecord{}, ErrSessionNotFound
	}
	if err != nil {
		return SessionRecord{}, fmt.Errorf("persistence: reading session %s: %w", sessionID, err)
	}
	return rec, nil
}

// ListSessions returns every indexed session ordered by most recently
// active first.
func (s *Store) ListSessions() ([]SessionRecord, error) {
	rows, err := s.db.Query(`
		SELECT session_id, tier_id, model_used, started_at, last_active_at, total_messages, compression_count, token_total
		FROM sessions ORDER BY last_active_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("persistence: listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var rec SessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.TierID, &rec.ModelUsed, &rec.StartedAt, &rec.LastActiveAt,
			&rec.TotalMessages, &rec.CompressionCount, &rec.TokenTotal); err != nil {
			return nil, fmt.Errorf("persistence: scanning session row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteSession removes a session and its checkpoint records from the
// index. Used when a session's files are pruned; it never touches the
// files themselves.
func (s *Store) DeleteSession(sessionID string) error {
	if _, err := s.db.Exec(`DELETE FROM checkpoint_records WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("persistence: deleting checkpoints for %s: %w", sessionID, err)
	}
	_, err := s.db.Exec(`DELETE FROM sessions WHERE session_id = ?`, sessionID)
	if err != nil {
		return fmt.Errorf("persistence: deleting session %s: %w", sessionID, err)
	}
	return nil
}

// RecordCheckpoint indexes a single compression event. Checkpoint ids are
// never reused, so this is always an insert, never an upsert.
func (s *Store) RecordCheckpoint(sessionID string, rec CheckpointRecordRow) error {
	_, err := s.db.Exec(`
		INSERT INTO checkpoint_records (id, session_id, level, created_at, range_start_id, range_end_id, original_tokens, compressed_tokens, ratio)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, sessionID, rec.Level, rec.CreatedAt, rec.RangeStartID, rec.RangeEndID,
		rec.OriginalTokens, rec.CompressedTokens, rec.Ratio)
	if err != nil {
		return fmt.Errorf("persistence: recording checkpoint %s: %w", rec.ID, err)
	}
	return nil
}

// ListCheckpoints returns every indexed checkpoint for a session, oldest
// first.
func (s *Store) ListCheckpoints(sessionID string) ([]CheckpointRecordRow, error) {
	rows, err := s.db.Query(`
		SELECT id, session_id, level, created_at, range_start_id, range_end_id, original_tokens, compressed_tokens, ratio
		FROM checkpoint_records WHERE session_id = ? ORDER BY created_at ASC
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("persistence: listing checkpoints for %s: %w", sessionID, err)
	}
	defer rows.Close()

	var out []CheckpointRecordRow
	for rows.Next() {
		var rec CheckpointRecordRow
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Level, &rec.CreatedAt, &rec.RangeStartID, &rec.RangeEndID,
			&rec.OriginalTokens, &rec.CompressedTokens, &rec.Ratio); err != nil {
			return nil, fmt.Errorf("persistence: scanning checkpoint row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// CompressionStats aggregates the counters pkg/metrics reports for a
// session: total checkpoints, total tokens saved, and the most recent
// compression time.
type CompressionStats struct {
	CheckpointCount int
	TokensSaved     int64
	LastCompressed  *time.Time
}

// Stats computes CompressionStats for a session directly from the indexed
// checkpoint rows, so pkg/metrics never needs its own sqlite queries.
func (s *Store) Stats(sessionID string) (CompressionStats, error) {
	row := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(original_tokens - compressed_tokens), 0), MAX(created_at)
		FROM checkpoint_records WHERE session_id = ?
	`, sessionID)

	var stats CompressionStats
	var lastCompressed sql.NullTime
	if err := row.Scan(&stats.CheckpointCount, &stats.TokensSaved, &lastCompressed); err != nil {
		return CompressionStats{}, fmt.Errorf("persistence: computing stats for %s: %w", sessionID, err)
	}
	if lastCompressed.Valid {
		t := lastCompressed.Time
		stats.LastCompressed = &t
	}
	return stats, nil
}
