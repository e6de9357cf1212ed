// Package snapshot is the on-disk, immutable point-in-time capture of a
// session's Active Context plus Session History pair. Snapshots are
// append-created and delete-only: once written, a snapshot file is never
// mutated.
package snapshot

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/logx"
)

// SchemaVersion is bumped on any breaking change to the on-disk Snapshot
// schema, per the external contract in spec.md §6.
const SchemaVersion = 1

// placeholderValues are metadata values forbidden for session_id and
// model_used: a snapshot's session_id and model_used are authoritative and
// must be the real values the caller observed, never a stand-in.
var placeholderValues = map[string]bool{
	"default": true,
	"unknown": true,
	"":        true,
}

// RetentionPolicy controls how many snapshots Prune keeps per session.
// Emergency snapshots are counted and retained separately (and longer) from
// ordinary recovery/rollback snapshots, since they exist to diagnose the
// incident that produced them.
type RetentionPolicy struct {
	KeepRecent    int // non-emergency snapshots to keep, newest first
	KeepEmergency int // emergency snapshots to keep, newest first
}

// DefaultRetentionPolicy keeps the 5 most recent ordinary snapshots and 10
// emergency snapshots, matching the "default 5" called out in spec.md §3.
var DefaultRetentionPolicy = RetentionPolicy{KeepRecent: 5, KeepEmergency: 10}

// FileStore persists one JSON file per snapshot under
// <root>/<session_id>/snapshots/<snapshot_id>.json.
type FileStore struct {
	root string
	log  *logx.Logger
}

// NewFileStore creates a store rooted at root.
func NewFileStore(root string) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindStorageUnavailable, "", err, "create snapshot root")
	}
	return &FileStore{root: root, log: logx.NewLogger("snapshot")}, nil
}

func (s *FileStore) sessionSnapshotDir(sessionID string) string {
	return filepath.Join(s.root, sessionID, "snapshots")
}

// Create writes a single atomic snapshot file and returns its id.
// sessionID and modelUsed must be real values; placeholders are rejected.
func (s *FileStore) Create(sessionID, modelUsed string, purpose contextmodel.SnapshotPurpose, state contextmodel.SnapshotState) (string, error) {
	if placeholderValues[sessionID] {
		return "", llmerrors.New(llmerrors.KindBoundaryViolation, sessionID, fmt.Sprintf("session_id must not be a placeholder value, got %q", sessionID))
	}
	if placeholderValues[modelUsed] {
		return "", llmerrors.New(llmerrors.KindBoundaryViolation, sessionID, fmt.Sprintf("model_used must not be a placeholder value, got %q", modelUsed))
	}

	dir := s.sessionSnapshotDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "create snapshot directory")
	}

	id := uuid.NewString()
	snap := contextmodel.Snapshot{
		SchemaVersion: SchemaVersion,
		ID:            id,
		SessionID:     sessionID,
		CreatedAt:     time.Now().UTC(),
		Purpose:       purpose,
		ModelUsed:     modelUsed,
		State:         state,
	}

	if err := writeSnapshotAtomic(dir, snap); err != nil {
		return "", err
	}

	s.log.Info("snapshot created: session=%s id=%s purpose=%s", sessionID, id, purpose)
	return id, nil
}

// Summary is one entry of List: enough to pick a snapshot without loading
// its full (potentially large) state payload.
type Summary struct {
	ID        string
	CreatedAt time.Time
	Purpose   contextmodel.SnapshotPurpose
}

// List returns every snapshot for sessionID, newest first.
func (s *FileStore) List(sessionID string) ([]Summary, error) {
	dir := s.sessionSnapshotDir(sessionID)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "list snapshots")
	}

	var out []Summary
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		snap, err := readSnapshot(filepath.Join(dir, e.Name()))
		if err != nil {
			s.log.Warn("skipping unreadable snapshot file %s: %v", e.Name(), err)
			continue
		}
		out = append(out, Summary{ID: snap.ID, CreatedAt: snap.CreatedAt, Purpose: snap.Purpose})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Get loads a specific snapshot in full.
func (s *FileStore) Get(sessionID, snapshotID string) (contextmodel.Snapshot, error) {
	path := filepath.Join(s.sessionSnapshotDir(sessionID), snapshotID+".json")
	snap, err := readSnapshot(path)
	if err != nil {
		if os.IsNotExist(err) {
			return contextmodel.Snapshot{}, llmerrors.New(llmerrors.KindStorageUnavailable, sessionID, fmt.Sprintf("snapshot %s not found", snapshotID))
		}
		return contextmodel.Snapshot{}, llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "read snapshot")
	}
	return snap, nil
}

// Rollback loads and returns the snapshot; it does not itself mutate any
// Active Context — applying the returned state is the Orchestrator's job.
func (s *FileStore) Rollback(sessionID, snapshotID string) (contextmodel.Snapshot, error) {
	return s.Get(sessionID, snapshotID)
}

// Prune applies policy, deleting the oldest snapshots beyond the retained
// counts. Emergency snapshots are counted against KeepEmergency independent
// of ordinary snapshots against KeepRecent.
func (s *FileStore) Prune(sessionID string, policy RetentionPolicy) error {
	all, err := s.List(sessionID)
	if err != nil {
		return err
	}

	var ordinary, emergency []Summary
	for _, snap := range all {
		if snap.Purpose == contextmodel.PurposeEmergency {
			emergency = append(emergency, snap)
		} else {
			ordinary = append(ordinary, snap)
		}
	}

	var toDelete []Summary
	if len(ordinary) > policy.KeepRecent {
		toDelete = append(toDelete, ordinary[policy.KeepRecent:]...)
	}
	if len(emergency) > policy.KeepEmergency {
		toDelete = append(toDelete, emergency[policy.KeepEmergency:]...)
	}

	dir := s.sessionSnapshotDir(sessionID)
	for _, snap := range toDelete {
		path := filepath.Join(dir, snap.ID+".json")
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "prune snapshot")
		}
		s.log.Debug("pruned snapshot %s for session %s", snap.ID, sessionID)
	}
	return nil
}

func readSnapshot(path string) (contextmodel.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return contextmodel.Snapshot{}, err
	}
	var snap contextmodel.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return contextmodel.Snapshot{}, err
	}
	return snap, nil
}

// writeSnapshotAtomic writes snap to <dir>/<id>.json via write-to-temp +
// rename, so a crash mid-write never leaves a partially-written snapshot
// that Get/List could observe.
func writeSnapshotAtomic(dir string, snap contextmodel.Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, snap.SessionID, err, "marshal snapshot")
	}

	tmp, err := os.CreateTemp(dir, "snapshot-*.tmp")
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, snap.SessionID, err, "create temp snapshot file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, snap.SessionID, err, "write temp snapshot file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, snap.SessionID, err, "fsync temp snapshot file")
	}
	if err := tmp.Close(); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, snap.SessionID, err, "close temp snapshot file")
	}

	finalPath := filepath.Join(dir, snap.ID+".json")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, snap.SessionID, err, "rename snapshot file")
	}
	return nil
}
