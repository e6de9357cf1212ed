package snapshot

import (
	"testing"
	"time"

	"contextcore/pkg/contextmodel"
)

func newTestStore(t *testing.T) *FileStore {
	t.Helper()
	store, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFileStore failed: %v", err)
	}
	return store
}

func testState() contextmodel.SnapshotState {
	return contextmodel.SnapshotState{
		Messages: []contextmodel.Message{{ID: "m1", Role: contextmodel.RoleUser, Content: "hi"}},
		Metadata: map[string]string{"note": "test"},
	}
}

func TestCreateGetRoundTrips(t *testing.T) {
	store := newTestStore(t)

	id, err := store.Create("sess-1", "claude-sonnet-4", contextmodel.PurposeRollback, testState())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	snap, err := store.Get("sess-1", id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if snap.SessionID != "sess-1" || snap.ModelUsed != "claude-sonnet-4" {
		t.Errorf("unexpected snapshot contents: %+v", snap)
	}
	if snap.SchemaVersion != SchemaVersion {
		t.Errorf("expected schema version %d, got %d", SchemaVersion, snap.SchemaVersion)
	}
}

func TestCreateRejectsPlaceholderSessionID(t *testing.T) {
	store := newTestStore(t)

	for _, bad := range []string{"default", "unknown", ""} {
		if _, err := store.Create(bad, "claude-sonnet-4", contextmodel.PurposeRecovery, testState()); err == nil {
			t.Errorf("expected error for placeholder session_id %q", bad)
		}
	}
}

func TestCreateRejectsPlaceholderModelUsed(t *testing.T) {
	store := newTestStore(t)

	for _, bad := range []string{"default", "unknown", ""} {
		if _, err := store.Create("sess-1", bad, contextmodel.PurposeRecovery, testState()); err == nil {
			t.Errorf("expected error for placeholder model_used %q", bad)
		}
	}
}

func TestListNewestFirst(t *testing.T) {
	store := newTestStore(t)

	id1, _ := store.Create("sess-1", "m", contextmodel.PurposeRecovery, testState())
	time.Sleep(2 * time.Millisecond)
	id2, _ := store.Create("sess-1", "m", contextmodel.PurposeRecovery, testState())

	list, err := store.List("sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(list))
	}
	if list[0].ID != id2 || list[1].ID != id1 {
		t.Errorf("expected newest-first order, got %s then %s", list[0].ID, list[1].ID)
	}
}

func TestRollbackDoesNotMutateAnything(t *testing.T) {
	store := newTestStore(t)
	id, _ := store.Create("sess-1", "m", contextmodel.PurposeRollback, testState())

	before, err := store.Get("sess-1", id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	rolled, err := store.Rollback("sess-1", id)
	if err != nil {
		t.Fatalf("Rollback failed: %v", err)
	}
	if rolled.ID != before.ID {
		t.Error("Rollback returned a different snapshot than Get")
	}

	after, err := store.Get("sess-1", id)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if after.CreatedAt != before.CreatedAt {
		t.Error("Rollback must not mutate the stored snapshot")
	}
}

func TestPruneKeepsOrdinaryAndEmergencySeparately(t *testing.T) {
	store := newTestStore(t)

	for i := 0; i < 3; i++ {
		store.Create("sess-1", "m", contextmodel.PurposeRecovery, testState())
		time.Sleep(time.Millisecond)
	}
	for i := 0; i < 3; i++ {
		store.Create("sess-1", "m", contextmodel.PurposeEmergency, testState())
		time.Sleep(time.Millisecond)
	}

	if err := store.Prune("sess-1", RetentionPolicy{KeepRecent: 1, KeepEmergency: 2}); err != nil {
		t.Fatalf("Prune failed: %v", err)
	}

	list, err := store.List("sess-1")
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}

	var ordinary, emergency int
	for _, s := range list {
		if s.Purpose == contextmodel.PurposeEmergency {
			emergency++
		} else {
			ordinary++
		}
	}
	if ordinary != 1 {
		t.Errorf("expected 1 ordinary snapshot retained, got %d", ordinary)
	}
	if emergency != 2 {
		t.Errorf("expected 2 emergency snapshots retained, got %d", emergency)
	}
}

func TestGetMissingSnapshotFails(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("sess-1", "does-not-exist"); err == nil {
		t.Error("expected error for missing snapshot")
	}
}
