package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llm"
	"contextcore/pkg/metrics"
	"contextcore/pkg/promptasm"
	"contextcore/pkg/sessionhistory"
	"contextcore/pkg/snapshot"
	"contextcore/pkg/tier"
	"contextcore/pkg/tokencount"
)

type fakeProvider struct {
	modelID string
	window  int
	reply   string
	calls   int
}

func (f *fakeProvider) ModelID() string        { return f.modelID }
func (f *fakeProvider) AdvertisedContext() int { return f.window }

func (f *fakeProvider) Chat(ctx context.Context, messages []llm.Message, opts llm.ChatOptions) (string, error) {
	f.calls++
	if f.reply != "" {
		return f.reply, nil
	}
	return "a short summary", nil
}

func testOrchestrator(t *testing.T) *Orchestrator {
	t.Helper()

	modes, err := promptasm.NewModeStore()
	if err != nil {
		t.Fatalf("NewModeStore: %v", err)
	}
	registry := promptasm.NewToolRegistry()
	assembler := promptasm.NewAssembler(modes, registry, tokencount.New("fake-model"))

	history, err := sessionhistory.NewFileStore(t.TempDir(), sessionhistory.DefaultBatchPolicy)
	if err != nil {
		t.Fatalf("NewFileStore(history): %v", err)
	}
	snapshots, err := snapshot.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore(snapshot): %v", err)
	}

	return New(tier.NewController(), assembler, history, snapshots, metrics.Nop(), nil)
}

func TestStartSessionResolvesTierAndBuildsSystemPrompt(t *testing.T) {
	o := testOrchestrator(t)
	provider := &fakeProvider{modelID: "fake-model", window: 8192}

	sessionID, err := o.StartSession(SessionConfig{Provider: provider})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	view, err := o.PrepareLLMInput(sessionID)
	if err != nil {
		t.Fatalf("PrepareLLMInput: %v", err)
	}
	if view.SystemPrompt.Content == "" {
		t.Fatal("expected a non-empty system prompt")
	}
	if view.TokenCount.Total != view.TokenCount.SumOfParts() {
		t.Errorf("token count drifted: total=%d sum=%d", view.TokenCount.Total, view.TokenCount.SumOfParts())
	}
}

func TestAddMessagesAreOrderedAndPersisted(t *testing.T) {
	o := testOrchestrator(t)
	provider := &fakeProvider{modelID: "fake-model", window: 32768}
	sessionID, err := o.StartSession(SessionConfig{Provider: provider})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := o.AddUserMessage(sessionID, "hello"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}
	if err := o.AddAssistantMessage(sessionID, "hi there"); err != nil {
		t.Fatalf("AddAssistantMessage: %v", err)
	}

	view, err := o.PrepareLLMInput(sessionID)
	if err != nil {
		t.Fatalf("PrepareLLMInput: %v", err)
	}
	if len(view.RecentMessages) != 2 {
		t.Fatalf("expected 2 recent messages, got %d", len(view.RecentMessages))
	}
	if view.RecentMessages[0].Content != "hello" || view.RecentMessages[1].Content != "hi there" {
		t.Errorf("messages out of order: %+v", view.RecentMessages)
	}

	history, err := o.history.Load(sessionID)
	if err != nil {
		t.Fatalf("Load history: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 messages in session history, got %d", len(history.Messages))
	}
}

func TestBindModelRebuildsSystemPromptForNewTier(t *testing.T) {
	o := testOrchestrator(t)
	small := &fakeProvider{modelID: "small-model", window: 4096}
	sessionID, err := o.StartSession(SessionConfig{Provider: small})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	before, err := o.PrepareLLMInput(sessionID)
	if err != nil {
		t.Fatalf("PrepareLLMInput: %v", err)
	}
	if !strings.Contains(before.SystemPrompt.Content, "1_minimal") {
		t.Fatalf("expected tier 1 preamble, got %q", before.SystemPrompt.Content)
	}

	large := &fakeProvider{modelID: "large-model", window: 200000}
	if err := o.BindModel(sessionID, large); err != nil {
		t.Fatalf("BindModel: %v", err)
	}

	after, err := o.PrepareLLMInput(sessionID)
	if err != nil {
		t.Fatalf("PrepareLLMInput after BindModel: %v", err)
	}
	if !strings.Contains(after.SystemPrompt.Content, "4_full") {
		t.Fatalf("expected tier 4 preamble after rebind, got %q", after.SystemPrompt.Content)
	}
}

func TestCreateSnapshotAndRollbackRestoresMessages(t *testing.T) {
	o := testOrchestrator(t)
	provider := &fakeProvider{modelID: "fake-model", window: 32768}
	sessionID, err := o.StartSession(SessionConfig{Provider: provider})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := o.AddUserMessage(sessionID, "remember this"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}

	snapID, err := o.CreateSnapshot(sessionID, contextmodel.PurposeRollback)
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}

	if err := o.AddUserMessage(sessionID, "forget this"); err != nil {
		t.Fatalf("AddUserMessage: %v", err)
	}

	if err := o.RollbackTo(sessionID, snapID); err != nil {
		t.Fatalf("RollbackTo: %v", err)
	}

	view, err := o.PrepareLLMInput(sessionID)
	if err != nil {
		t.Fatalf("PrepareLLMInput after rollback: %v", err)
	}
	if len(view.RecentMessages) != 1 || view.RecentMessages[0].Content != "remember this" {
		t.Fatalf("rollback did not restore expected messages: %+v", view.RecentMessages)
	}
	for _, m := range view.RecentMessages {
		if m.Source != contextmodel.SourceActive {
			t.Errorf("restored message %q has source %q, want active", m.ID, m.Source)
		}
	}

	snaps, err := o.ListSnapshots(sessionID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].ID != snapID {
		t.Fatalf("ListSnapshots = %+v, want one entry for %s", snaps, snapID)
	}
}

func TestEmergencyCompactBringsSessionUnderHardCap(t *testing.T) {
	o := testOrchestrator(t)
	provider := &fakeProvider{modelID: "fake-model", window: 4096, reply: "tiny"}
	sessionID, err := o.StartSession(SessionConfig{Provider: provider})
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	st, err := o.session(sessionID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}

	// Push well past the tier's hard cap directly, bypassing AppendRecent's
	// own rejection, to exercise emergency_compact on a session already over
	// budget the way a model-bound window shrink (bind_model) could leave it.
	// Each message is small enough that the recent_keep_min survivors of the
	// final trim step comfortably fit back under hard_cap.
	chunk := strings.Repeat("word ", 100)
	for i := 0; i < 40; i++ {
		msg := contextmodel.Message{ID: fmt.Sprintf("m%d", i), Role: contextmodel.RoleUser, Content: chunk}
		msg.TokenCount = st.counter.Count(chunk)
		st.mgr.RestoreView(appendUnchecked(st.mgr.SnapshotView(), msg))
	}

	if st.mgr.Validate().OK {
		t.Fatal("expected the session to start over budget for this test")
	}

	if err := o.EmergencyCompact(sessionID); err != nil {
		t.Fatalf("EmergencyCompact: %v", err)
	}

	if vr := st.mgr.Validate(); !vr.OK {
		t.Fatalf("session still invalid after EmergencyCompact: %v", vr.Reasons)
	}

	snaps, err := o.ListSnapshots(sessionID)
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	found := false
	for _, s := range snaps {
		if s.Purpose == contextmodel.PurposeEmergency {
			found = true
		}
	}
	if !found {
		t.Error("expected an emergency snapshot to have been created")
	}
}

// appendUnchecked forces a message onto a view regardless of hard_cap, for
// constructing an already-over-budget Active Context in tests.
func appendUnchecked(view contextmodel.ActiveContext, msg contextmodel.Message) contextmodel.ActiveContext {
	msg.Source = contextmodel.SourceActive
	view.RecentMessages = append(view.RecentMessages, msg)
	return view
}

func TestPrepareLLMInputUnknownSessionErrors(t *testing.T) {
	o := testOrchestrator(t)
	if _, err := o.PrepareLLMInput("does-not-exist"); err == nil {
		t.Fatal("expected an error for an unknown session")
	}
}
