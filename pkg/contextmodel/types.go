// Package contextmodel holds the data types shared by every layer of the
// context orchestration core: messages, checkpoint summaries, the active
// context, snapshots, and session history. Keeping these in one leaf package
// (alongside pkg/tier and pkg/tokencount) is what lets the Tier Controller
// stay dependency-free while every other package — sessionhistory, snapshot,
// activectx, compressor, promptasm, orchestrator — shares one vocabulary
// instead of re-declaring Message/Checkpoint under slightly different shapes.
package contextmodel

import "time"

// Role identifies who produced a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Source tags where a Message currently lives. It exists purely so the
// boundary guards in prevent_snapshot_in_prompt / prevent_history_in_prompt
// (see pkg/activectx) have something structural to check: a Message read
// back out of Session History or a Snapshot is tagged accordingly and must
// never reach an ActiveContext field unless explicitly re-admitted as Active.
type Source string

const (
	SourceActive   Source = "active"
	SourceHistory  Source = "history"
	SourceSnapshot Source = "snapshot"
)

// Message is immutable after construction. A copy lives permanently in
// Session History; the same id may additionally appear in an ActiveContext's
// recent_messages or inside a Checkpoint's OriginMessageIDs.
type Message struct {
	ID         string    `json:"id"`
	Role       Role      `json:"role"`
	Content    string    `json:"content"`
	Timestamp  time.Time `json:"timestamp"`
	TokenCount int       `json:"token_count,omitempty"`
	Source     Source    `json:"-"` // in-memory provenance tag, never serialized
}

// CheckpointLevel classifies how aggressively a checkpoint has been compressed.
type CheckpointLevel int

const (
	LevelCompact  CheckpointLevel = 1 // oldest, most compressed
	LevelModerate CheckpointLevel = 2
	LevelDetailed CheckpointLevel = 3 // youngest, least compressed
)

// Checkpoint is a compressed summary of a contiguous span of messages (and,
// for re-compression, of older checkpoints). Produced by the Compressor;
// mutated only by re-compression, which retires the old checkpoint and
// produces a new one with an incremented CompressionGeneration.
type Checkpoint struct {
	ID                   string          `json:"id"`
	CreatedAt            time.Time       `json:"created_at"`
	SummaryText          string          `json:"summary_text"`
	OriginMessageIDs     []string        `json:"origin_message_ids"`
	TokenCount           int             `json:"token_count"`
	Level                CheckpointLevel `json:"level"`
	CompressionGeneration int            `json:"compression_generation"`
	ModelUsed            string          `json:"model_used"`
	LastCompressedAt     *time.Time      `json:"last_compressed_at,omitempty"`
	Source               Source          `json:"-"`
}

// TokenCount reports the three components of an ActiveContext's budget and
// their sum. The invariant Total = System + Checkpoints + Recent is checked
// by activectx.Validate, not recomputed ad hoc by callers.
type TokenCount struct {
	System      int `json:"system"`
	Checkpoints int `json:"checkpoints"`
	Recent      int `json:"recent"`
	Total       int `json:"total"`
}

// ActiveContext is the in-memory structure sent to the model. It is never
// itself persisted; Session History and Snapshots record the information
// needed to reconstruct one, not the struct itself.
type ActiveContext struct {
	SystemPrompt    Message      `json:"system_prompt"`
	Checkpoints     []Checkpoint `json:"checkpoints"`
	RecentMessages  []Message    `json:"recent_messages"`
	TokenCount      TokenCount   `json:"token_count"`
}

// CheckpointRecord is the metadata Session History retains about a
// compression event: enough to audit what happened without holding the
// (potentially large) original message text.
type CheckpointRecord struct {
	ID               string    `json:"id"`
	CreatedAt        time.Time `json:"created_at"`
	RangeStartID     string    `json:"range_start_id"`
	RangeEndID       string    `json:"range_end_id"`
	OriginalTokens   int       `json:"original_tokens"`
	CompressedTokens int       `json:"compressed_tokens"`
	Ratio            float64   `json:"ratio"`
	Level            CheckpointLevel `json:"level"`
}

// SessionMetadata is the small, frequently-rewritten sidecar that
// accompanies a session's append-only logs.
type SessionMetadata struct {
	SessionID        string    `json:"session_id"`
	StartTime        time.Time `json:"start_time"`
	LastUpdate       time.Time `json:"last_update"`
	TotalMessages    int       `json:"total_messages"`
	CompressionCount int       `json:"compression_count"`
	ModelUsed        string    `json:"model_used"`
}

// SessionHistory is the full-fidelity, append-only record of a session. It
// is never sent to the model; the Active Context Manager only ever reads
// Message ids out of it when rebuilding recent_messages after a restart.
type SessionHistory struct {
	SessionID        string             `json:"session_id"`
	Messages         []Message          `json:"messages"`
	CheckpointRecords []CheckpointRecord `json:"checkpoint_records"`
	Metadata         SessionMetadata    `json:"metadata"`
}

// SnapshotPurpose classifies why a Snapshot was taken.
type SnapshotPurpose string

const (
	PurposeRecovery  SnapshotPurpose = "recovery"
	PurposeRollback  SnapshotPurpose = "rollback"
	PurposeEmergency SnapshotPurpose = "emergency"
)

// SnapshotState is the captured payload of a Snapshot: enough to rebuild an
// ActiveContext without consulting Session History.
type SnapshotState struct {
	Messages    []Message         `json:"messages"`
	Checkpoints []Checkpoint      `json:"checkpoints"`
	Goals       []string          `json:"goals,omitempty"`
	Metadata    map[string]string `json:"metadata"`
}

// Snapshot is an immutable, on-disk point-in-time capture of a session's
// Active Context plus Session History pair, taken atomically under the
// session's serialization point.
type Snapshot struct {
	SchemaVersion int             `json:"schema_version"`
	ID            string          `json:"id"`
	SessionID     string          `json:"session_id"`
	CreatedAt     time.Time       `json:"created_at"`
	Purpose       SnapshotPurpose `json:"purpose"`
	ModelUsed     string          `json:"model_used"`
	State         SnapshotState   `json:"state"`
}

// SumOfParts returns System + Checkpoints + Recent, independent of whatever
// Total currently holds — used by validators to detect drift.
func (tc TokenCount) SumOfParts() int {
	return tc.System + tc.Checkpoints + tc.Recent
}
