package compressor

import (
	"context"
	"strings"
	"testing"
	"time"

	"contextcore/pkg/activectx"
	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llm"
	"contextcore/pkg/sessionhistory"
	"contextcore/pkg/tier"
	"contextcore/pkg/tokencount"
)

type fakeProvider struct {
	reply string
	calls int
}

func (f *fakeProvider) ModelID() string        { return "fake-model" }
func (f *fakeProvider) AdvertisedContext() int { return 32768 }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	f.calls++
	return f.reply, nil
}

func testBudget() tier.Budget {
	return tier.Budget{
		ID:                  tier.Tier1Minimal,
		HardCap:             400,
		SoftCap:             100,
		RecentKeepMin:       1,
		RecentKeepMax:       20,
		CompressTargetRatio: 0.5,
		MaxCheckpoints:      4,
	}
}

func populatedManager(t *testing.T, counter *tokencount.Counter, budget tier.Budget, n int) *activectx.Manager {
	t.Helper()
	mgr := activectx.NewManager("sess-1", counter, budget)
	if err := mgr.SetSystemPrompt(contextmodel.Message{ID: "sys", Content: "be helpful"}); err != nil {
		t.Fatalf("SetSystemPrompt: %v", err)
	}
	for i := 0; i < n; i++ {
		msg := contextmodel.Message{
			ID:        "m" + string(rune('a'+i)),
			Role:      contextmodel.RoleUser,
			Content:   strings.Repeat("word ", 20),
			Timestamp: time.Now(),
		}
		if err := mgr.AppendRecent(msg); err != nil {
			t.Fatalf("AppendRecent(%d): %v", i, err)
		}
	}
	return mgr
}

func TestCompressReplacesOldestMessagesWithACheckpoint(t *testing.T) {
	counter := tokencount.New("fake-model")
	budget := testBudget()
	mgr := populatedManager(t, counter, budget, 10)

	before := mgr.RecentMessages()

	fake := &fakeProvider{reply: "the user asked several things and got answers"}
	c := New(fake, counter, nil)

	result, err := c.Compress(context.Background(), "sess-1", mgr)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !result.Compressed {
		t.Fatal("expected a compression to occur given budget well over soft_cap")
	}
	if fake.calls != 1 {
		t.Errorf("expected exactly 1 model call, got %d", fake.calls)
	}

	checkpoints := mgr.Checkpoints()
	if len(checkpoints) != 1 {
		t.Fatalf("expected 1 checkpoint, got %d", len(checkpoints))
	}
	if checkpoints[0].Level != contextmodel.LevelDetailed {
		t.Errorf("expected a fresh checkpoint from raw messages to be level 3, got %d", checkpoints[0].Level)
	}
	if len(checkpoints[0].OriginMessageIDs) == 0 {
		t.Error("expected origin_message_ids to be populated")
	}

	after := mgr.RecentMessages()
	if len(after) >= len(before) {
		t.Errorf("expected recent_messages to shrink after compression: before=%d after=%d", len(before), len(after))
	}

	vr := mgr.Validate()
	if !vr.OK {
		t.Errorf("expected Active Context to remain valid after compression, got reasons: %v", vr.Reasons)
	}
}

func TestCompressNoOpWhenUnderBudget(t *testing.T) {
	counter := tokencount.New("fake-model")
	budget := testBudget()
	budget.SoftCap = 10000 // unreachable, so nothing should trigger
	mgr := populatedManager(t, counter, budget, 3)

	fake := &fakeProvider{reply: "should not be called"}
	c := New(fake, counter, nil)

	result, err := c.Compress(context.Background(), "sess-1", mgr)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if result.Compressed {
		t.Error("expected no compression when well under soft_cap")
	}
	if fake.calls != 0 {
		t.Errorf("expected no model call, got %d", fake.calls)
	}
}

func TestCompressNeverTouchesRecentKeepMin(t *testing.T) {
	counter := tokencount.New("fake-model")
	budget := testBudget()
	budget.RecentKeepMin = 9 // only 1 of 10 messages is eligible
	mgr := populatedManager(t, counter, budget, 10)

	fake := &fakeProvider{reply: "summary"}
	c := New(fake, counter, nil)

	if _, err := c.Compress(context.Background(), "sess-1", mgr); err != nil {
		t.Fatalf("Compress failed: %v", err)
	}

	if len(mgr.RecentMessages()) < budget.RecentKeepMin {
		t.Errorf("expected at least recent_keep_min (%d) messages to survive, got %d", budget.RecentKeepMin, len(mgr.RecentMessages()))
	}
}

func TestCompressSurfacesCompressionFailedWithoutMutatingOnEmptyOutput(t *testing.T) {
	counter := tokencount.New("fake-model")
	budget := testBudget()
	mgr := populatedManager(t, counter, budget, 10)
	before := mgr.SnapshotView()

	fake := &fakeProvider{reply: ""} // empty output fails validation both tries
	c := New(fake, counter, nil)

	_, err := c.Compress(context.Background(), "sess-1", mgr)
	if err == nil {
		t.Fatal("expected CompressionFailed for empty model output")
	}
	if fake.calls != 2 {
		t.Errorf("expected first attempt plus one retry, got %d calls", fake.calls)
	}

	after := mgr.SnapshotView()
	if len(after.RecentMessages) != len(before.RecentMessages) {
		t.Error("expected Active Context to be untouched after a failed compression")
	}
}

func TestCompressRecordsCheckpointInSessionHistory(t *testing.T) {
	counter := tokencount.New("fake-model")
	budget := testBudget()
	mgr := populatedManager(t, counter, budget, 10)

	store, err := sessionhistory.NewFileStore(t.TempDir(), sessionhistory.BatchPolicy{MaxMessages: 100, MaxWait: time.Hour})
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}

	fake := &fakeProvider{reply: "a durable summary"}
	c := New(fake, counter, store)

	result, err := c.Compress(context.Background(), "sess-1", mgr)
	if err != nil {
		t.Fatalf("Compress failed: %v", err)
	}
	if !result.Compressed {
		t.Fatal("expected compression to occur")
	}

	hist, err := store.Load("sess-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(hist.CheckpointRecords) != 1 {
		t.Fatalf("expected 1 checkpoint record durably recorded, got %d", len(hist.CheckpointRecords))
	}
	if hist.CheckpointRecords[0].ID != result.Checkpoint.ID {
		t.Errorf("expected recorded checkpoint id %q to match returned checkpoint id %q", hist.CheckpointRecords[0].ID, result.Checkpoint.ID)
	}
}

func TestSelectSpanRespectsFloor(t *testing.T) {
	recent := []contextmodel.Message{
		{ID: "a", TokenCount: 1},
		{ID: "b", TokenCount: 1},
		{ID: "c", TokenCount: 1},
	}
	s := selectSpan(nil, recent, 0, 0)
	if len(s.messages) < floorMessages {
		t.Errorf("expected at least floorMessages messages even for a zero target, got %d", len(s.messages))
	}
}

func TestSelectSpanRefusesStarvedSpan(t *testing.T) {
	// recentKeepMin leaves exactly one compressible message and there are no
	// checkpoints to pad the floor with — selectSpan must refuse rather than
	// hand back a single-message span.
	recent := []contextmodel.Message{
		{ID: "a", TokenCount: 1},
		{ID: "b", TokenCount: 1},
		{ID: "c", TokenCount: 1},
	}
	s := selectSpan(nil, recent, 2, 0)
	if !s.empty() {
		t.Errorf("expected an empty span when the floor can never be reached, got %d messages", len(s.messages))
	}
}

func TestSelectLevelMergesLevelsUpward(t *testing.T) {
	raw := span{messages: []contextmodel.Message{{ID: "a"}}}
	if got := selectLevel(raw); got != contextmodel.LevelDetailed {
		t.Errorf("raw messages should select level 3, got %d", got)
	}

	fromDetailed := span{checkpoints: []contextmodel.Checkpoint{{Level: contextmodel.LevelDetailed}}}
	if got := selectLevel(fromDetailed); got != contextmodel.LevelModerate {
		t.Errorf("merging level-3 checkpoints should select level 2, got %d", got)
	}

	fromModerate := span{checkpoints: []contextmodel.Checkpoint{{Level: contextmodel.LevelModerate}}}
	if got := selectLevel(fromModerate); got != contextmodel.LevelCompact {
		t.Errorf("merging level-2 checkpoints should select level 1, got %d", got)
	}

	fromCompact := span{checkpoints: []contextmodel.Checkpoint{{Level: contextmodel.LevelCompact}, {Level: contextmodel.LevelCompact}}}
	if got := selectLevel(fromCompact); got != contextmodel.LevelCompact {
		t.Errorf("merging level-1 checkpoints should stay level 1, got %d", got)
	}
}
