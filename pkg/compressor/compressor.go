// Package compressor implements the Checkpoint Compressor: the component
// that turns old messages (and, eventually, old checkpoints) into shorter
// checkpoint summaries so a session's Active Context stays under its tier's
// hard cap. The algorithm is spec.md §4.5, reproduced step by step below;
// nothing here is LLM-heuristic pattern matching, the way the teacher's
// context compaction was — every summary is produced by an actual model call.
package compressor

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"contextcore/pkg/activectx"
	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llm"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/logx"
	"contextcore/pkg/sessionhistory"
	"contextcore/pkg/tokencount"
)

// Compressor runs one session's compression at a time; concurrent triggers
// for the same session id are coalesced onto a single in-flight run via
// group, rather than queued behind it, per §4.5's concurrency note.
type Compressor struct {
	provider llm.Provider
	counter  *tokencount.Counter
	history  *sessionhistory.FileStore
	log      *logx.Logger

	group singleflight.Group
}

// New builds a Compressor around provider (already wrapped in whatever
// resilience/timeout policy the caller wants — the Compressor itself does
// not add retry or circuit-breaking, only the 60s-class timeout that callers
// wire via pkg/resilience/timeout), counter (for sizing spans and validating
// output), and history (for durably recording the resulting CheckpointRecord).
func New(provider llm.Provider, counter *tokencount.Counter, history *sessionhistory.FileStore) *Compressor {
	return &Compressor{
		provider: provider,
		counter:  counter,
		history:  history,
		log:      logx.NewLogger("compressor"),
	}
}

// ShouldTrigger reports whether a session's current Active Context warrants
// a compression run, per §4.5's trigger condition.
func ShouldTrigger(view contextmodel.ActiveContext, hardCap, softCap, recentKeepMax int) bool {
	return view.TokenCount.Total >= softCap || len(view.RecentMessages) > recentKeepMax
}

// Result reports what a successful Compress run did. Compressed is false
// when there was nothing worth compressing (the trigger fired on
// recent_keep_max overflow alone and no span met even the floor).
type Result struct {
	Compressed bool
	Checkpoint contextmodel.Checkpoint
	Record     contextmodel.CheckpointRecord
}

// Compress runs the full §4.5 algorithm against mgr's current state for
// sessionID: select a span, pick its output level, call the model, validate
// the result, build a Checkpoint, and commit it atomically into mgr. On any
// failure mgr is left exactly as it was found.
//
// Concurrent calls for the same sessionID share one run's result rather than
// each performing their own — the second (and any later) caller simply
// blocks on and receives the first's outcome, which is what "a second
// trigger during an active compression is coalesced" means in a
// synchronous, shared-memory Manager rather than a queued-message system.
func (c *Compressor) Compress(ctx context.Context, sessionID string, mgr *activectx.Manager) (Result, error) {
	v, err, _ := c.group.Do(sessionID, func() (any, error) {
		return c.compressOnce(ctx, sessionID, mgr)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Compressor) compressOnce(ctx context.Context, sessionID string, mgr *activectx.Manager) (Result, error) {
	preState := mgr.SnapshotView()
	budget := mgr.Budget()

	target := targetTokens(preState.TokenCount.Total, budget.SoftCap, budget.CompressTargetRatio)
	s := selectSpan(preState.Checkpoints, preState.RecentMessages, budget.RecentKeepMin, target)
	if s.empty() {
		return Result{Compressed: false}, nil
	}

	level := selectLevel(s)
	summary, err := c.summarize(ctx, sessionID, level, s)
	if err != nil {
		return Result{}, err
	}

	checkpoint := buildCheckpoint(c.counter, c.provider.ModelID(), level, s, summary)

	var throughID string
	if len(s.messages) > 0 {
		throughID = s.messages[len(s.messages)-1].ID
	}
	replacedIDs := make([]string, len(s.checkpoints))
	for i, cp := range s.checkpoints {
		replacedIDs[i] = cp.ID
	}

	if err := mgr.ReplaceSegment(throughID, replacedIDs, checkpoint); err != nil {
		mgr.RestoreView(preState)
		return Result{}, err
	}
	if vr := mgr.Validate(); !vr.OK {
		mgr.RestoreView(preState)
		return Result{}, llmerrors.New(llmerrors.KindCompressionFailed, sessionID,
			fmt.Sprintf("compression result failed validation: %v", vr.Reasons))
	}

	record := buildRecord(checkpoint, s)
	if c.history != nil {
		if err := c.history.RecordCheckpoint(sessionID, record); err != nil {
			mgr.RestoreView(preState)
			return Result{}, err
		}
	}

	c.log.Info("compressed session %s: level %d, %d->%d tokens, %d messages + %d checkpoints replaced",
		sessionID, level, record.OriginalTokens, record.CompressedTokens, len(s.messages), len(s.checkpoints))

	return Result{Compressed: true, Checkpoint: checkpoint, Record: record}, nil
}

// summarize performs §4.5 steps 3-5: compose the prompt, call the model
// under its token/temperature constraints, and validate the result — retrying
// once with a tighter template before giving up.
func (c *Compressor) summarize(ctx context.Context, sessionID string, level contextmodel.CheckpointLevel, s span) (string, error) {
	budget := levelBudgets[level]

	text, err := c.callModel(ctx, level, s, budget, false)
	if err == nil && c.validOutput(text, budget) {
		return text, nil
	}
	if err != nil {
		return "", err
	}

	text, err = c.callModel(ctx, level, s, budget, true)
	if err != nil {
		return "", err
	}
	if !c.validOutput(text, budget) {
		return "", llmerrors.New(llmerrors.KindCompressionFailed, sessionID,
			fmt.Sprintf("model output still out of bounds after retry: %d tokens, budget %d", c.counter.Count(text), budget))
	}
	return text, nil
}

func (c *Compressor) callModel(ctx context.Context, level contextmodel.CheckpointLevel, s span, budget int, tighter bool) (string, error) {
	prompt := composePrompt(level, s, tighter)
	opts := llm.ChatOptions{
		MaxOutputTokens: budget + outputMargin,
		Temperature:     compressionTemperature,
	}
	return c.provider.Chat(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}}, opts)
}

func (c *Compressor) validOutput(text string, budget int) bool {
	if text == "" {
		return false
	}
	return float64(c.counter.Count(text)) <= float64(budget)*validationSlack
}

// buildCheckpoint implements §4.5 step 6.
func buildCheckpoint(counter *tokencount.Counter, modelUsed string, level contextmodel.CheckpointLevel, s span, summary string) contextmodel.Checkpoint {
	now := time.Now()

	generation := 0
	var origins []string
	seen := make(map[string]bool)
	addOrigin := func(id string) {
		if !seen[id] {
			seen[id] = true
			origins = append(origins, id)
		}
	}
	for _, cp := range s.checkpoints {
		if cp.CompressionGeneration > generation {
			generation = cp.CompressionGeneration
		}
		for _, id := range cp.OriginMessageIDs {
			addOrigin(id)
		}
	}
	for _, msg := range s.messages {
		addOrigin(msg.ID)
	}

	return contextmodel.Checkpoint{
		ID:                    uuid.NewString(),
		CreatedAt:             now,
		SummaryText:           summary,
		OriginMessageIDs:      origins,
		TokenCount:            counter.Count(summary),
		Level:                 level,
		CompressionGeneration: generation + 1,
		ModelUsed:             modelUsed,
		LastCompressedAt:      &now,
	}
}

func buildRecord(checkpoint contextmodel.Checkpoint, s span) contextmodel.CheckpointRecord {
	var rangeStart, rangeEnd string
	if len(s.checkpoints) > 0 {
		rangeStart = s.checkpoints[0].OriginMessageIDs[0]
	} else if len(s.messages) > 0 {
		rangeStart = s.messages[0].ID
	}
	if len(s.messages) > 0 {
		rangeEnd = s.messages[len(s.messages)-1].ID
	} else if len(s.checkpoints) > 0 {
		last := s.checkpoints[len(s.checkpoints)-1]
		rangeEnd = last.OriginMessageIDs[len(last.OriginMessageIDs)-1]
	}

	ratio := 0.0
	if s.tokens > 0 {
		ratio = float64(checkpoint.TokenCount) / float64(s.tokens)
	}

	return contextmodel.CheckpointRecord{
		ID:               checkpoint.ID,
		CreatedAt:        checkpoint.CreatedAt,
		RangeStartID:     rangeStart,
		RangeEndID:       rangeEnd,
		OriginalTokens:   s.tokens,
		CompressedTokens: checkpoint.TokenCount,
		Ratio:            ratio,
		Level:            checkpoint.Level,
	}
}
