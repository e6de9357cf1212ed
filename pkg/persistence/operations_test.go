package persistence

import (
	"path/filepath"
	"testing"
	"time"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewStore(db)
}

func TestUpsertSessionInsertsThenUpdates(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	rec := SessionRecord{
		SessionID:     "sess-1",
		TierID:        "1_minimal",
		ModelUsed:     "local-model",
		StartedAt:     now,
		LastActiveAt:  now,
		TotalMessages: 3,
	}
	if err := store.UpsertSession(rec); err != nil {
		t.Fatalf("UpsertSession (insert): %v", err)
	}

	rec.TotalMessages = 9
	rec.CompressionCount = 1
	rec.LastActiveAt = now.Add(time.Minute)
	if err := store.UpsertSession(rec); err != nil {
		t.Fatalf("UpsertSession (update): %v", err)
	}

	got, err := store.GetSession("sess-1")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if got.TotalMessages != 9 || got.CompressionCount != 1 {
		t.Errorf("GetSession = %+v, want TotalMessages=9 CompressionCount=1", got)
	}
}

func TestGetSessionUnknownReturnsNotFound(t *testing.T) {
	store := testStore(t)
	if _, err := store.GetSession("missing"); err != ErrSessionNotFound {
		t.Errorf("GetSession = %v, want ErrSessionNotFound", err)
	}
}

func TestListSessionsOrdersByLastActiveDescending(t *testing.T) {
	store := testStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"older", "newer"} {
		rec := SessionRecord{
			SessionID:    id,
			TierID:       "1_minimal",
			StartedAt:    base,
			LastActiveAt: base.Add(time.Duration(i) * time.Hour),
		}
		if err := store.UpsertSession(rec); err != nil {
			t.Fatalf("UpsertSession(%s): %v", id, err)
		}
	}

	sessions, err := store.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].SessionID != "newer" {
		t.Errorf("ListSessions = %+v, want newer first", sessions)
	}
}

func TestRecordAndListCheckpoints(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	if err := store.UpsertSession(SessionRecord{SessionID: "sess-1", TierID: "1_minimal", StartedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}

	first := CheckpointRecordRow{
		ID: "ckpt-1", Level: 3, CreatedAt: now,
		RangeStartID: "m-1", RangeEndID: "m-10", OriginalTokens: 800, CompressedTokens: 200, Ratio: 0.25,
	}
	second := first
	second.ID = "ckpt-2"
	second.CreatedAt = now.Add(time.Minute)
	second.RangeStartID, second.RangeEndID = "m-11", "m-20"

	if err := store.RecordCheckpoint("sess-1", first); err != nil {
		t.Fatalf("RecordCheckpoint(first): %v", err)
	}
	if err := store.RecordCheckpoint("sess-1", second); err != nil {
		t.Fatalf("RecordCheckpoint(second): %v", err)
	}

	rows, err := store.ListCheckpoints("sess-1")
	if err != nil {
		t.Fatalf("ListCheckpoints: %v", err)
	}
	if len(rows) != 2 || rows[0].ID != "ckpt-1" || rows[1].ID != "ckpt-2" {
		t.Errorf("ListCheckpoints = %+v, want [ckpt-1 ckpt-2] in order", rows)
	}

	stats, err := store.Stats("sess-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.CheckpointCount != 2 {
		t.Errorf("CheckpointCount = %d, want 2", stats.CheckpointCount)
	}
	if stats.TokensSaved != 1200 {
		t.Errorf("TokensSaved = %d, want 1200", stats.TokensSaved)
	}
	if stats.LastCompressed == nil || !stats.LastCompressed.Equal(second.CreatedAt) {
		t.Errorf("LastCompressed = %v, want %v", stats.LastCompressed, second.CreatedAt)
	}
}

func TestDeleteSessionRemovesRow(t *testing.T) {
	store := testStore(t)
	now := time.Now().UTC()
	if err := store.UpsertSession(SessionRecord{SessionID: "sess-1", TierID: "1_minimal", StartedAt: now, LastActiveAt: now}); err != nil {
		t.Fatalf("UpsertSession: %v", err)
	}
	if err := store.DeleteSession("sess-1"); err != nil {
		t.Fatalf("DeleteSession: %v", err)
	}
	if _, err := store.GetSession("sess-1"); err != ErrSessionNotFound {
		t.Errorf("GetSession after delete = %v, want ErrSessionNotFound", err)
	}
}
