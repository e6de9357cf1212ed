// Package orchestrator is the single public façade over the context
// orchestration core: it ingests user/assistant messages, triggers
// compression and snapshots, applies emergency recovery, and answers "what
// do I send to the model?" Every other package in this module (activectx,
// compressor, promptasm, snapshot, sessionhistory, tier) is a collaborator
// the Orchestrator wires together behind one serialization point per
// session — callers never reach into those packages directly.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"contextcore/pkg/activectx"
	"contextcore/pkg/compressor"
	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/logx"
	"contextcore/pkg/metrics"
	"contextcore/pkg/persistence"
	"contextcore/pkg/promptasm"
	"contextcore/pkg/sessionhistory"
	"contextcore/pkg/snapshot"
	"contextcore/pkg/tier"
	"contextcore/pkg/tokencount"
)

// sessionState is everything the Orchestrator holds per session. Every
// field except mu is only ever touched while mu is held — this is the "single
// serialization point (mutex ... per session)" spec.md §5 requires.
type sessionState struct {
	mu sync.Mutex

	mgr        *activectx.Manager
	compressor *compressor.Compressor
	provider   llm.Provider
	counter    *tokencount.Counter
	modeName   string
	modelUsed  string

	startedAt        time.Time
	totalMessages    int
	compressionCount int
}

// SessionConfig configures start_session. Provider is required; SessionID and
// ModeName default to a generated id and promptasm.DefaultModeName when left
// empty.
type SessionConfig struct {
	SessionID string
	ModeName  string
	Provider  llm.Provider
}

// Orchestrator owns every live session's Active Context and coordinates the
// collaborators that back it. One Orchestrator is shared process-wide;
// sessions run concurrently with each other but are individually serialized.
type Orchestrator struct {
	tiers     *tier.Controller
	assembler *promptasm.Assembler
	history   *sessionhistory.FileStore
	snapshots *snapshot.FileStore
	recorder  metrics.Recorder
	persistCh chan<- *persistence.Request // nil when no durable index is configured

	mu       sync.RWMutex
	sessions map[string]*sessionState

	log *logx.Logger
}

// New builds an Orchestrator. persistCh and recorder are both optional: pass
// nil for either to run without the durable sqlite index or without metrics
// collection, respectively.
func New(tiers *tier.Controller, assembler *promptasm.Assembler, history *sessionhistory.FileStore, snapshots *snapshot.FileStore, recorder metrics.Recorder, persistCh chan<- *persistence.Request) *Orchestrator {
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &Orchestrator{
		tiers:     tiers,
		assembler: assembler,
		history:   history,
		snapshots: snapshots,
		recorder:  recorder,
		persistCh: persistCh,
		sessions:  make(map[string]*sessionState),
		log:       logx.NewLogger("orchestrator"),
	}
}

func (o *Orchestrator) session(sessionID string) (*sessionState, error) {
	o.mu.RLock()
	st, ok := o.sessions[sessionID]
	o.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("orchestrator: unknown session %q", sessionID)
	}
	return st, nil
}

// StartSession creates a new session bound to cfg.Provider and returns its id.
func (o *Orchestrator) StartSession(cfg SessionConfig) (string, error) {
	if cfg.Provider == nil {
		return "", fmt.Errorf("orchestrator: start_session requires a provider")
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}
	modeName := cfg.ModeName
	if modeName == "" {
		modeName = promptasm.DefaultModeName
	}

	budget := o.tiers.Resolve(cfg.Provider.AdvertisedContext())
	counter := tokencount.New(cfg.Provider.ModelID())
	mgr := activectx.NewManager(sessionID, counter, budget)

	msg, err := o.assembler.Assemble(budget, modeName)
	if err != nil {
		return "", fmt.Errorf("orchestrator: assembling system prompt for session %s: %w", sessionID, err)
	}
	if err := mgr.SetSystemPrompt(msg); err != nil {
		o.log.Warn("system prompt alone exceeds hard_cap for session %s: %v", sessionID, err)
	}

	st := &sessionState{
		mgr:        mgr,
		compressor: compressor.New(cfg.Provider, counter, o.history),
		provider:   cfg.Provider,
		counter:    counter,
		modeName:   modeName,
		modelUsed:  cfg.Provider.ModelID(),
		startedAt:  time.Now().UTC(),
	}

	if err := o.enforceBudgetLocked(context.Background(), sessionID, st); err != nil {
		return "", err
	}

	o.mu.Lock()
	o.sessions[sessionID] = st
	o.mu.Unlock()

	o.mirrorSession(sessionID, st)
	o.log.Info("session %s started: model=%s tier=%s mode=%s", sessionID, st.modelUsed, budget.ID, modeName)
	return sessionID, nil
}

// BindModel rebinds a session to a new provider: resolves the tier the
// provider's advertised window falls into, rebuilds the system prompt under
// the new budget, and rebalances — running compression and, if that is not
// enough, emergency recovery — if the switch alone pushed the session over
// its (possibly smaller) new hard cap.
func (o *Orchestrator) BindModel(sessionID string, provider llm.Provider) error {
	if provider == nil {
		return fmt.Errorf("orchestrator: bind_model requires a provider")
	}
	st, err := o.session(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	budget := o.tiers.Resolve(provider.AdvertisedContext())
	counter := tokencount.New(provider.ModelID())

	if prevTier := st.mgr.Budget().ID; prevTier != budget.ID {
		o.recorder.ObserveTierTransition(sessionID, string(prevTier), string(budget.ID))
	}
	st.mgr.SetBudget(budget)
	msg, err := o.assembler.Assemble(budget, st.modeName)
	if err != nil {
		return fmt.Errorf("orchestrator: assembling system prompt for session %s: %w", sessionID, err)
	}
	if err := st.mgr.SetSystemPrompt(msg); err != nil {
		o.log.Warn("system prompt exceeds hard_cap after rebinding session %s: %v", sessionID, err)
	}

	st.provider = provider
	st.counter = counter
	st.modelUsed = provider.ModelID()
	st.compressor = compressor.New(provider, counter, o.history)

	if err := o.enforceBudgetLocked(context.Background(), sessionID, st); err != nil {
		return err
	}

	o.mirrorSession(sessionID, st)
	o.log.Info("session %s bound to model %s, tier now %s", sessionID, st.modelUsed, budget.ID)
	return nil
}

// SetMode rebuilds the system prompt for modeName under the session's current
// tier budget, which automatically preserves sanity_checks_enabled from the
// *current* tier rather than whatever prompt preceded it.
func (o *Orchestrator) SetMode(sessionID, modeName string) error {
	st, err := o.session(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	msg, err := o.assembler.Assemble(st.mgr.Budget(), modeName)
	if err != nil {
		return fmt.Errorf("orchestrator: assembling system prompt for session %s mode %q: %w", sessionID, modeName, err)
	}
	if err := st.mgr.SetSystemPrompt(msg); err != nil {
		o.log.Warn("system prompt exceeds hard_cap after mode change for session %s: %v", sessionID, err)
	}
	if err := o.enforceBudgetLocked(context.Background(), sessionID, st); err != nil {
		return err
	}
	st.modeName = modeName
	return nil
}

// AddUserMessage records and admits a user message.
func (o *Orchestrator) AddUserMessage(sessionID, text string) error {
	return o.addMessage(sessionID, contextmodel.RoleUser, text)
}

// AddAssistantMessage records and admits an assistant message.
func (o *Orchestrator) AddAssistantMessage(sessionID, text string) error {
	return o.addMessage(sessionID, contextmodel.RoleAssistant, text)
}

func (o *Orchestrator) addMessage(sessionID string, role contextmodel.Role, text string) error {
	st, err := o.session(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	msg := contextmodel.Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   text,
		Timestamp: time.Now().UTC(),
	}
	msg.TokenCount = st.counter.Count(text)

	// Session-history persistence is automatic and happens before the message
	// is admitted into the Active Context, so a crash between the two never
	// loses the message from the full-fidelity record.
	if err := o.history.Append(sessionID, msg); err != nil {
		return err
	}

	ctx := context.Background()
	if err := o.appendWithRecoveryLocked(ctx, sessionID, st, msg); err != nil {
		return err
	}

	st.totalMessages++
	o.mirrorSession(sessionID, st)

	budget := st.mgr.Budget()
	if compressor.ShouldTrigger(st.mgr.SnapshotView(), budget.HardCap, budget.SoftCap, budget.RecentKeepMax) {
		_, _ = o.compressLocked(ctx, sessionID, st)
	}
	return nil
}

// appendWithRecoveryLocked appends msg, running compression and — if that is
// not enough — the full emergency recovery protocol before giving up. Each
// fallback re-attempts the append rather than assuming headroom was freed.
func (o *Orchestrator) appendWithRecoveryLocked(ctx context.Context, sessionID string, st *sessionState, msg contextmodel.Message) error {
	err := st.mgr.AppendRecent(msg)
	if err == nil || !llmerrors.Is(err, llmerrors.KindBudgetExceeded) {
		return err
	}

	if _, cerr := st.compressor.Compress(ctx, sessionID, st.mgr); cerr != nil {
		o.log.Warn("compression to make room in session %s failed: %v", sessionID, cerr)
	}
	if err := st.mgr.AppendRecent(msg); err == nil || !llmerrors.Is(err, llmerrors.KindBudgetExceeded) {
		return err
	}

	if err := o.emergencyCompactLocked(ctx, sessionID, st); err != nil {
		return err
	}
	return st.mgr.AppendRecent(msg)
}

// enforceBudgetLocked runs the same compression-then-emergency fallback
// AppendRecent's recovery path uses, but for callers (bind_model, set_mode)
// that changed the budget itself rather than adding a message.
func (o *Orchestrator) enforceBudgetLocked(ctx context.Context, sessionID string, st *sessionState) error {
	if st.mgr.Validate().OK {
		return nil
	}
	if _, err := st.compressor.Compress(ctx, sessionID, st.mgr); err != nil {
		o.log.Warn("compression during rebalance failed for %s: %v", sessionID, err)
	}
	if st.mgr.Validate().OK {
		return nil
	}
	return o.emergencyCompactLocked(ctx, sessionID, st)
}

func (o *Orchestrator) compressLocked(ctx context.Context, sessionID string, st *sessionState) (bool, error) {
	start := time.Now()
	tierID := string(st.mgr.Budget().ID)

	result, err := st.compressor.Compress(ctx, sessionID, st.mgr)
	outcome := metrics.CompressionOutcome{SessionID: sessionID, TierID: tierID, Duration: time.Since(start)}
	if err != nil {
		o.log.Warn("compression failed for session %s: %v", sessionID, err)
		o.recorder.ObserveCompression(outcome)
		return false, err
	}
	if !result.Compressed {
		return false, nil
	}

	outcome.Success = true
	outcome.InputTokens = result.Record.OriginalTokens
	outcome.OutputTokens = result.Record.CompressedTokens
	o.recorder.ObserveCompression(outcome)

	st.compressionCount++
	o.mirrorCheckpoint(sessionID, result.Record)
	return true, nil
}

// CompressNow forces a single compression pass outside the usual
// soft-threshold trigger, for context_compress (spec.md §6). It does not
// run emergency recovery on its own — a caller wanting that ladder should
// use EmergencyCompact instead.
func (o *Orchestrator) CompressNow(sessionID string) error {
	st, err := o.session(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	_, err = o.compressLocked(context.Background(), sessionID, st)
	return err
}

// PrepareLLMInput returns the exact structure to send to the model. It never
// suspends beyond acquiring the session's serialization point, and it never
// returns a view that fails Validate — prevent_snapshot_in_prompt and
// prevent_history_in_prompt are enforced inside Validate on every call.
func (o *Orchestrator) PrepareLLMInput(sessionID string) (contextmodel.ActiveContext, error) {
	st, err := o.session(sessionID)
	if err != nil {
		return contextmodel.ActiveContext{}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if vr := st.mgr.Validate(); !vr.OK {
		return contextmodel.ActiveContext{}, llmerrors.New(vr.Kind, sessionID,
			fmt.Sprintf("active context failed validation: %v", vr.Reasons))
	}
	return st.mgr.SnapshotView(), nil
}

// ListSnapshots enumerates every snapshot recorded for sessionID, newest
// first.
func (o *Orchestrator) ListSnapshots(sessionID string) ([]snapshot.Summary, error) {
	if _, err := o.session(sessionID); err != nil {
		return nil, err
	}
	return o.snapshots.List(sessionID)
}

// CreateSnapshot flushes pending session-history writes and captures the
// current Active Context as an immutable Snapshot, then prunes older
// snapshots per the retention policy.
func (o *Orchestrator) CreateSnapshot(sessionID string, purpose contextmodel.SnapshotPurpose) (string, error) {
	st, err := o.session(sessionID)
	if err != nil {
		return "", err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return o.createSnapshotLocked(sessionID, st, purpose)
}

func (o *Orchestrator) createSnapshotLocked(sessionID string, st *sessionState, purpose contextmodel.SnapshotPurpose) (string, error) {
	// spec.md's default snapshot contents are the full Session History, not
	// just the Active Context's uncompressed recent slice — Load flushes any
	// pending batch first, so this read is consistent with the Checkpoints
	// captured from the same serialization point below.
	history, err := o.history.Load(sessionID)
	if err != nil {
		return "", err
	}

	view := st.mgr.SnapshotView()
	state := contextmodel.SnapshotState{
		Messages:    history.Messages,
		Checkpoints: view.Checkpoints,
		Metadata:    map[string]string{"mode": st.modeName},
	}

	id, err := o.snapshots.Create(sessionID, st.modelUsed, purpose, state)
	if err != nil {
		return "", err
	}

	if err := o.snapshots.Prune(sessionID, snapshot.DefaultRetentionPolicy); err != nil {
		o.log.Warn("snapshot prune failed for session %s: %v", sessionID, err)
	}
	return id, nil
}

// RollbackTo restores the Active Context from a previously captured
// snapshot. Messages and checkpoints read back out of the snapshot are
// structurally tagged as snapshot-sourced the instant they are loaded and
// only explicitly re-admitted as active content afterward — the same
// boundary activectx.Validate enforces on every other path into the Active
// Context.
func (o *Orchestrator) RollbackTo(sessionID, snapshotID string) error {
	st, err := o.session(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	snap, err := o.snapshots.Get(sessionID, snapshotID)
	if err != nil {
		return err
	}

	for i := range snap.State.Messages {
		snap.State.Messages[i].Source = contextmodel.SourceSnapshot
	}
	for i := range snap.State.Checkpoints {
		snap.State.Checkpoints[i].Source = contextmodel.SourceSnapshot
	}

	// snap.State.Messages is the full Session History as of the capture
	// (spec.md:213's mandated default), not just what was uncompressed at
	// the time — every message any of snap.State.Checkpoints already
	// replaced must be excluded, or rehydrating the Active Context would
	// re-admit messages a checkpoint already summarized and blow straight
	// past recent_keep_max/hard_cap.
	origins := make(map[string]bool)
	for _, cp := range snap.State.Checkpoints {
		for _, id := range cp.OriginMessageIDs {
			origins[id] = true
		}
	}

	messages := make([]contextmodel.Message, 0, len(snap.State.Messages))
	for _, m := range snap.State.Messages {
		if origins[m.ID] {
			continue
		}
		m.Source = contextmodel.SourceActive
		messages = append(messages, m)
	}
	checkpoints := make([]contextmodel.Checkpoint, len(snap.State.Checkpoints))
	for i, cp := range snap.State.Checkpoints {
		cp.Source = contextmodel.SourceActive
		checkpoints[i] = cp
	}

	preRollback := st.mgr.SnapshotView()
	st.mgr.RestoreView(contextmodel.ActiveContext{
		SystemPrompt:   preRollback.SystemPrompt,
		Checkpoints:    checkpoints,
		RecentMessages: messages,
	})

	if vr := st.mgr.Validate(); !vr.OK {
		st.mgr.RestoreView(preRollback)
		return llmerrors.New(vr.Kind, sessionID,
			fmt.Sprintf("rollback to snapshot %s failed validation: %v", snapshotID, vr.Reasons))
	}

	o.log.Info("session %s rolled back to snapshot %s", sessionID, snapshotID)
	return nil
}

// EmergencyCompact runs the hard recovery protocol from spec.md §7: it takes
// an emergency snapshot, recompresses, drops checkpoints oldest-first, and —
// as a last resort — clears all checkpoints and trims recent_messages to its
// tier floor. Each step updates the Active Context atomically before the
// next is attempted; the loop stops as soon as Validate passes.
func (o *Orchestrator) EmergencyCompact(sessionID string) error {
	st, err := o.session(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	return o.emergencyCompactLocked(context.Background(), sessionID, st)
}

func (o *Orchestrator) emergencyCompactLocked(ctx context.Context, sessionID string, st *sessionState) error {
	o.log.Warn("emergency compaction triggered for session %s", sessionID)
	o.recorder.ObserveEmergencyActivation(sessionID)

	// (a) emergency snapshot. Best effort: a storage failure here must not
	// block the remaining recovery steps, which are what actually bring the
	// session back under budget.
	if _, err := o.createSnapshotLocked(sessionID, st, contextmodel.PurposeEmergency); err != nil {
		o.log.Warn("emergency snapshot failed for session %s: %v", sessionID, err)
	}

	if st.mgr.Validate().OK {
		return nil
	}

	// (b) recompress.
	if _, err := st.compressor.Compress(ctx, sessionID, st.mgr); err != nil {
		o.log.Warn("emergency recompression failed for session %s: %v", sessionID, err)
	} else {
		st.compressionCount++
	}
	if st.mgr.Validate().OK {
		return nil
	}

	// (c) drop oldest checkpoints one at a time until under hard_cap.
	hardCap := st.mgr.Budget().HardCap
	for st.mgr.TokenCount().Total > hardCap {
		id, ok := st.mgr.DropOldestCheckpoint()
		if !ok {
			break
		}
		o.log.Warn("emergency: dropped checkpoint %s for session %s", id, sessionID)
	}
	if st.mgr.Validate().OK {
		return nil
	}

	// (d) clear everything left and trim recent_messages to its tier floor.
	st.mgr.ClearCheckpoints()
	st.mgr.TrimRecentToMin()

	if vr := st.mgr.Validate(); !vr.OK {
		return llmerrors.New(llmerrors.KindBudgetExceeded, sessionID,
			fmt.Sprintf("emergency recovery exhausted every step, still over budget: %v", vr.Reasons))
	}
	return nil
}

func (o *Orchestrator) mirrorSession(sessionID string, st *sessionState) {
	if o.persistCh == nil {
		return
	}
	persistence.MirrorSession(o.persistCh, persistence.SessionRecord{
		SessionID:        sessionID,
		TierID:           string(st.mgr.Budget().ID),
		ModelUsed:        st.modelUsed,
		StartedAt:        st.startedAt,
		LastActiveAt:     time.Now().UTC(),
		TotalMessages:    st.totalMessages,
		CompressionCount: st.compressionCount,
		TokenTotal:       st.mgr.TokenCount().Total,
	})
}

func (o *Orchestrator) mirrorCheckpoint(sessionID string, rec contextmodel.CheckpointRecord) {
	if o.persistCh == nil {
		return
	}
	persistence.MirrorCheckpoint(o.persistCh, sessionID, persistence.CheckpointRecordRow{
		ID:               rec.ID,
		Level:            int(rec.Level),
		CreatedAt:        rec.CreatedAt,
		RangeStartID:     rec.RangeStartID,
		RangeEndID:       rec.RangeEndID,
		OriginalTokens:   rec.OriginalTokens,
		CompressedTokens: rec.CompressedTokens,
		Ratio:            rec.Ratio,
	})
}
