// Package activectx is the in-memory Active Context Manager: the system
// prompt, live checkpoints, and recent messages actually sent to the model.
// Nothing here ever touches disk — persistence belongs to sessionhistory and
// snapshot; activectx only holds and validates the ephemeral view.
package activectx

import (
	"fmt"

	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/logx"
	"contextcore/pkg/tier"
	"contextcore/pkg/tokencount"
)

// Manager owns one session's Active Context. It is not safe for concurrent
// use by itself — the Orchestrator's per-session serialization point is what
// makes that safe, per spec.md §5.
type Manager struct {
	sessionID string
	counter   *tokencount.Counter
	budget    tier.Budget

	systemPrompt   contextmodel.Message
	checkpoints    []contextmodel.Checkpoint
	recentMessages []contextmodel.Message

	log *logx.Logger
}

// NewManager creates an empty Active Context for a session, bound to budget.
// The system prompt starts empty; callers set it via SetSystemPrompt before
// the first prepare_llm_input.
func NewManager(sessionID string, counter *tokencount.Counter, budget tier.Budget) *Manager {
	return &Manager{
		sessionID: sessionID,
		counter:   counter,
		budget:    budget,
		log:       logx.NewLogger("activectx"),
	}
}

// SetBudget rebinds the Manager to a new tier budget, e.g. after bind_model
// resolves a different tier. It does not itself trim anything; callers that
// need to enforce the new hard_cap must follow with compression or emergency
// recovery if Validate() now fails.
func (m *Manager) SetBudget(budget tier.Budget) {
	m.budget = budget
}

// SetSystemPrompt replaces the system prompt and recomputes tokens. The
// system prompt is never compressed, mutated by recent additions, or
// reordered — this is the only way it changes. If the new prompt brings
// token_count.total above hard_cap, the prompt is still installed and a
// BudgetExceeded error is returned; the change is not rolled back.
func (m *Manager) SetSystemPrompt(msg contextmodel.Message) error {
	msg.Source = contextmodel.SourceActive
	msg.TokenCount = m.counter.Count(msg.Content)
	m.systemPrompt = msg
	return m.checkHardCap()
}

// AppendRecent pushes msg to the end of recent_messages and updates tokens.
// The mutation is rejected (with BudgetExceeded) if it would push
// token_count.total above tier.hard_cap — the caller must run compression or
// emergency recovery and retry.
func (m *Manager) AppendRecent(msg contextmodel.Message) error {
	msg.Source = contextmodel.SourceActive
	if msg.TokenCount == 0 {
		msg.TokenCount = m.counter.Count(msg.Content)
	}

	projected := m.tokenCount()
	projected.Recent += msg.TokenCount
	projected.Total += msg.TokenCount
	if projected.Total > m.budget.HardCap {
		return llmerrors.New(llmerrors.KindBudgetExceeded, m.sessionID,
			fmt.Sprintf("appending message would bring total to %d, exceeding hard_cap %d", projected.Total, m.budget.HardCap))
	}

	m.recentMessages = append(m.recentMessages, msg)
	return nil
}

// ReplaceSegment removes the prefix of recent_messages identified by
// throughMessageID (inclusive) — together with any checkpoints in
// replacedCheckpointIDs, for re-compression — and inserts replacement at the
// correct chronological position (immediately before whatever recent
// messages remain, after any checkpoints that were not replaced).
func (m *Manager) ReplaceSegment(throughMessageID string, replacedCheckpointIDs []string, replacement contextmodel.Checkpoint) error {
	replacement.Source = contextmodel.SourceActive

	remaining := m.checkpoints[:0:0]
	replacedSet := make(map[string]bool, len(replacedCheckpointIDs))
	for _, id := range replacedCheckpointIDs {
		replacedSet[id] = true
	}
	for _, cp := range m.checkpoints {
		if !replacedSet[cp.ID] {
			remaining = append(remaining, cp)
		}
	}
	remaining = append(remaining, replacement)

	var newRecent []contextmodel.Message
	cut := false
	for _, msg := range m.recentMessages {
		if !cut {
			if msg.ID == throughMessageID {
				cut = true
			}
			continue
		}
		newRecent = append(newRecent, msg)
	}
	if throughMessageID != "" && !cut {
		return fmt.Errorf("replace_segment: message id %q not found in recent_messages", throughMessageID)
	}

	prevCheckpoints, prevRecent := m.checkpoints, m.recentMessages
	m.checkpoints = remaining
	m.recentMessages = newRecent
	if err := m.checkHardCap(); err != nil {
		m.checkpoints, m.recentMessages = prevCheckpoints, prevRecent
		return err
	}
	return nil
}

// SnapshotView returns a deep, immutable-by-convention copy of the Active
// Context for the model call. Callers must not mutate the returned value;
// Go has no const-by-reference, so this is enforced by discipline (every
// field is a fresh copy, not a shared slice) rather than the type system.
func (m *Manager) SnapshotView() contextmodel.ActiveContext {
	checkpoints := make([]contextmodel.Checkpoint, len(m.checkpoints))
	copy(checkpoints, m.checkpoints)

	recent := make([]contextmodel.Message, len(m.recentMessages))
	copy(recent, m.recentMessages)

	return contextmodel.ActiveContext{
		SystemPrompt:   m.systemPrompt,
		Checkpoints:    checkpoints,
		RecentMessages: recent,
		TokenCount:     m.tokenCount(),
	}
}

// RestoreView resets the Manager to exactly the state captured by a prior
// SnapshotView call. Used by callers (the Compressor) that need commit-or-
// reject semantics around a mutation that might fail Validate: snapshot
// before mutating, mutate, and RestoreView back on rejection.
func (m *Manager) RestoreView(view contextmodel.ActiveContext) {
	m.systemPrompt = view.SystemPrompt

	m.checkpoints = make([]contextmodel.Checkpoint, len(view.Checkpoints))
	copy(m.checkpoints, view.Checkpoints)

	m.recentMessages = make([]contextmodel.Message, len(view.RecentMessages))
	copy(m.recentMessages, view.RecentMessages)
}

// ValidationResult reports the outcome of Validate. Kind classifies the
// failure per spec.md §7 when OK is false: KindBoundaryViolation if a
// Snapshot/SessionHistory-sourced object leaked into the Active Context,
// KindBudgetExceeded for every other invariant miss (hard_cap, recent_keep_max,
// sum-of-parts drift, duplicate ids). Zero value when OK is true.
type ValidationResult struct {
	OK      bool
	Reasons []string
	Kind    llmerrors.Kind
}

// Validate checks every §3 invariant: total = system + checkpoints + recent;
// total <= hard_cap; recent_messages.length in [0, recent_keep_max]; every
// message id unique; and the two boundary guards (no Snapshot- or
// SessionHistory-sourced object may appear).
func (m *Manager) Validate() ValidationResult {
	var reasons []string
	kind := llmerrors.KindBudgetExceeded

	tc := m.tokenCount()
	if tc.Total != tc.SumOfParts() {
		reasons = append(reasons, fmt.Sprintf("token_count.total (%d) != sum of parts (%d)", tc.Total, tc.SumOfParts()))
	}
	if tc.Total > m.budget.HardCap {
		reasons = append(reasons, fmt.Sprintf("token_count.total (%d) exceeds hard_cap (%d)", tc.Total, m.budget.HardCap))
	}
	if len(m.recentMessages) > m.budget.RecentKeepMax {
		reasons = append(reasons, fmt.Sprintf("recent_messages.length (%d) exceeds recent_keep_max (%d)", len(m.recentMessages), m.budget.RecentKeepMax))
	}

	seen := make(map[string]bool)
	for _, msg := range m.recentMessages {
		if seen[msg.ID] {
			reasons = append(reasons, fmt.Sprintf("duplicate message id %q in recent_messages", msg.ID))
		}
		seen[msg.ID] = true
	}

	// Boundary leaks are the more specific, fatal-per-spec failure mode —
	// it wins over a budget-shaped reason when both are present in the same
	// validation pass (e.g. a rejected rollback that was both oversized and
	// mistagged).
	if err := m.preventBoundaryLeak(); err != nil {
		reasons = append(reasons, err.Error())
		kind = llmerrors.KindBoundaryViolation
	}

	if len(reasons) == 0 {
		return ValidationResult{OK: true}
	}
	return ValidationResult{OK: false, Reasons: reasons, Kind: kind}
}

// preventBoundaryLeak implements prevent_snapshot_in_prompt and
// prevent_history_in_prompt: it structurally rejects any message or
// checkpoint tagged as having come from a Snapshot or Session History rather
// than being constructed as Active content. It runs as part of every
// Validate call.
func (m *Manager) preventBoundaryLeak() error {
	if m.systemPrompt.Source == contextmodel.SourceSnapshot || m.systemPrompt.Source == contextmodel.SourceHistory {
		return llmerrors.New(llmerrors.KindBoundaryViolation, m.sessionID, "system_prompt is tagged as sourced from snapshot/history")
	}
	for _, msg := range m.recentMessages {
		if msg.Source == contextmodel.SourceSnapshot || msg.Source == contextmodel.SourceHistory {
			return llmerrors.New(llmerrors.KindBoundaryViolation, m.sessionID, fmt.Sprintf("recent message %q is tagged as sourced from snapshot/history", msg.ID))
		}
	}
	for _, cp := range m.checkpoints {
		if cp.Source == contextmodel.SourceSnapshot || cp.Source == contextmodel.SourceHistory {
			return llmerrors.New(llmerrors.KindBoundaryViolation, m.sessionID, fmt.Sprintf("checkpoint %q is tagged as sourced from snapshot/history", cp.ID))
		}
	}
	return nil
}

func (m *Manager) checkHardCap() error {
	tc := m.tokenCount()
	if tc.Total > m.budget.HardCap {
		return llmerrors.New(llmerrors.KindBudgetExceeded, m.sessionID,
			fmt.Sprintf("mutation left total %d exceeding hard_cap %d", tc.Total, m.budget.HardCap))
	}
	return nil
}

func (m *Manager) tokenCount() contextmodel.TokenCount {
	system := m.systemPrompt.TokenCount

	checkpoints := 0
	for _, cp := range m.checkpoints {
		checkpoints += cp.TokenCount
	}

	recent := 0
	for _, msg := range m.recentMessages {
		recent += msg.TokenCount
	}

	return contextmodel.TokenCount{
		System:      system,
		Checkpoints: checkpoints,
		Recent:      recent,
		Total:       system + checkpoints + recent,
	}
}

// Checkpoints returns a copy of the live checkpoint list, oldest first.
func (m *Manager) Checkpoints() []contextmodel.Checkpoint {
	out := make([]contextmodel.Checkpoint, len(m.checkpoints))
	copy(out, m.checkpoints)
	return out
}

// RecentMessages returns a copy of the live recent-message list, oldest first.
func (m *Manager) RecentMessages() []contextmodel.Message {
	out := make([]contextmodel.Message, len(m.recentMessages))
	copy(out, m.recentMessages)
	return out
}

// TokenCount returns the current token accounting.
func (m *Manager) TokenCount() contextmodel.TokenCount {
	return m.tokenCount()
}

// Budget returns the tier budget this Manager currently enforces.
func (m *Manager) Budget() tier.Budget {
	return m.budget
}

// TrimRecentToMin is used by the emergency recovery protocol's final step:
// it discards the oldest recent messages until at most recent_keep_min
// remain, keeping the newest ones.
func (m *Manager) TrimRecentToMin() {
	if len(m.recentMessages) <= m.budget.RecentKeepMin {
		return
	}
	cut := len(m.recentMessages) - m.budget.RecentKeepMin
	m.recentMessages = m.recentMessages[cut:]
}

// ClearCheckpoints discards all live checkpoints. Used by the emergency
// recovery protocol when recompression and oldest-first dropping are not
// enough to clear the hard cap.
func (m *Manager) ClearCheckpoints() {
	m.checkpoints = nil
}

// DropOldestCheckpoint removes the single oldest live checkpoint, returning
// its id, or ("", false) if there are none left.
func (m *Manager) DropOldestCheckpoint() (string, bool) {
	if len(m.checkpoints) == 0 {
		return "", false
	}
	id := m.checkpoints[0].ID
	m.checkpoints = m.checkpoints[1:]
	return id, true
}
