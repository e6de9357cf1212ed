// Package sessionhistory is the full-fidelity, append-only record of every
// session: every message ever sent or received, plus metadata about
// compression events. It is read by the Active Context Manager only to
// reconstruct state after a restart — it is never sent to the model.
package sessionhistory

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"contextcore/pkg/contextmodel"
	"contextcore/pkg/llmerrors"
	"contextcore/pkg/logx"
)

const (
	historyFileName     = "history.log"
	metadataFileName    = "metadata.json"
	checkpointsFileName = "checkpoints.log"
)

// BatchPolicy controls how message appends are debounced before being
// flushed to disk: a batch is flushed when it reaches MaxMessages messages or
// MaxWait elapses since the first buffered message, whichever comes first.
type BatchPolicy struct {
	MaxMessages int
	MaxWait     time.Duration
}

// DefaultBatchPolicy matches the session-history batching thresholds a
// caller would otherwise have to tune through configuration.
var DefaultBatchPolicy = BatchPolicy{MaxMessages: 20, MaxWait: 250 * time.Millisecond}

type sessionState struct {
	mu          sync.Mutex
	dir         string
	pending     []contextmodel.Message
	flushTimer  *time.Timer
	metadata    contextmodel.SessionMetadata
}

// FileStore persists Session History under one directory per session: a
// rolling append log of messages (JSON lines), a small atomically-rewritten
// metadata sidecar, and an append log of checkpoint records.
type FileStore struct {
	root   string
	policy BatchPolicy
	log    *logx.Logger

	mu       sync.Mutex
	sessions map[string]*sessionState
}

// NewFileStore creates a store rooted at root, creating it if necessary.
func NewFileStore(root string, policy BatchPolicy) (*FileStore, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindStorageUnavailable, "", err, "create session history root")
	}
	return &FileStore{
		root:     root,
		policy:   policy,
		log:      logx.NewLogger("sessionhistory"),
		sessions: make(map[string]*sessionState),
	}, nil
}

func (s *FileStore) sessionDir(sessionID string) string {
	return filepath.Join(s.root, sessionID)
}

func (s *FileStore) state(sessionID string) (*sessionState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if st, ok := s.sessions[sessionID]; ok {
		return st, nil
	}

	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "create session directory")
	}

	st := &sessionState{dir: dir}
	if meta, err := readMetadata(dir); err == nil {
		st.metadata = meta
	} else {
		now := time.Now().UTC()
		st.metadata = contextmodel.SessionMetadata{SessionID: sessionID, StartTime: now, LastUpdate: now}
	}

	s.sessions[sessionID] = st
	return st, nil
}

// Append durably appends message to the session's history, batching writes
// per BatchPolicy. It only fails with StorageUnavailable.
func (s *FileStore) Append(sessionID string, msg contextmodel.Message) error {
	st, err := s.state(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.pending = append(st.pending, msg)
	shouldFlush := len(st.pending) >= s.policy.MaxMessages
	if !shouldFlush && st.flushTimer == nil {
		st.flushTimer = time.AfterFunc(s.policy.MaxWait, func() {
			st.mu.Lock()
			pending := st.pending
			st.pending = nil
			st.flushTimer = nil
			st.mu.Unlock()
			if err := s.flushMessages(sessionID, st, pending); err != nil {
				s.log.Error("timed flush failed for session %s: %v", sessionID, err)
			}
		})
	}
	var toFlush []contextmodel.Message
	if shouldFlush {
		toFlush = st.pending
		st.pending = nil
		if st.flushTimer != nil {
			st.flushTimer.Stop()
			st.flushTimer = nil
		}
	}
	st.mu.Unlock()

	if shouldFlush {
		return s.flushMessages(sessionID, st, toFlush)
	}
	return nil
}

// Flush forces any buffered messages for sessionID to disk immediately and
// fsyncs. Load calls it first, so the Orchestrator's snapshot capture (which
// loads the history before writing a snapshot) never outpaces the history it
// claims to be consistent with.
func (s *FileStore) Flush(sessionID string) error {
	st, err := s.state(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	pending := st.pending
	st.pending = nil
	if st.flushTimer != nil {
		st.flushTimer.Stop()
		st.flushTimer = nil
	}
	st.mu.Unlock()

	return s.flushMessages(sessionID, st, pending)
}

func (s *FileStore) flushMessages(sessionID string, st *sessionState, pending []contextmodel.Message) error {
	if len(pending) == 0 {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(st.dir, historyFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "open history log")
	}
	defer f.Close()

	for _, m := range pending {
		line, err := json.Marshal(m)
		if err != nil {
			return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "marshal message")
		}
		if _, err := f.Write(append(line, '\n')); err != nil {
			return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "write message")
		}
	}
	if err := f.Sync(); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "fsync history log")
	}

	st.mu.Lock()
	st.metadata.TotalMessages += len(pending)
	st.metadata.LastUpdate = time.Now().UTC()
	meta := st.metadata
	st.mu.Unlock()

	return writeMetadataAtomic(st.dir, meta)
}

// RecordCheckpoint durably appends a checkpoint record. Unlike Append, this
// is never batched: compression events are rare enough that debouncing them
// buys nothing, and callers (the Compressor's commit step) need the record
// to be durable the instant compression is acknowledged.
func (s *FileStore) RecordCheckpoint(sessionID string, record contextmodel.CheckpointRecord) error {
	st, err := s.state(sessionID)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(st.dir, checkpointsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "open checkpoints log")
	}
	defer f.Close()

	line, err := json.Marshal(record)
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "marshal checkpoint record")
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "write checkpoint record")
	}
	if err := f.Sync(); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "fsync checkpoints log")
	}

	st.mu.Lock()
	st.metadata.CompressionCount++
	st.metadata.LastUpdate = time.Now().UTC()
	meta := st.metadata
	st.mu.Unlock()

	return writeMetadataAtomic(st.dir, meta)
}

// Load returns the full Session History for sessionID: all messages, all
// checkpoint records, and current metadata. Any buffered-but-unflushed
// appends are flushed first so the read is never stale relative to Append.
func (s *FileStore) Load(sessionID string) (contextmodel.SessionHistory, error) {
	if err := s.Flush(sessionID); err != nil {
		return contextmodel.SessionHistory{}, err
	}

	st, err := s.state(sessionID)
	if err != nil {
		return contextmodel.SessionHistory{}, err
	}

	messages, err := readJSONLines[contextmodel.Message](filepath.Join(st.dir, historyFileName))
	if err != nil {
		return contextmodel.SessionHistory{}, llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "read history log")
	}
	for i := range messages {
		messages[i].Source = contextmodel.SourceHistory
	}

	records, err := readJSONLines[contextmodel.CheckpointRecord](filepath.Join(st.dir, checkpointsFileName))
	if err != nil {
		return contextmodel.SessionHistory{}, llmerrors.Wrap(llmerrors.KindStorageUnavailable, sessionID, err, "read checkpoints log")
	}

	meta, err := readMetadata(st.dir)
	if err != nil {
		meta = contextmodel.SessionMetadata{SessionID: sessionID}
	}

	return contextmodel.SessionHistory{
		SessionID:         sessionID,
		Messages:          messages,
		CheckpointRecords: records,
		Metadata:          meta,
	}, nil
}

// SessionSummary is one entry of ListSessions.
type SessionSummary struct {
	SessionID string
	Metadata  contextmodel.SessionMetadata
}

// ListSessions enumerates every session directory under root.
func (s *FileStore) ListSessions() ([]SessionSummary, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, llmerrors.Wrap(llmerrors.KindStorageUnavailable, "", err, "list session directories")
	}

	var out []SessionSummary
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		meta, err := readMetadata(filepath.Join(s.root, e.Name()))
		if err != nil {
			meta = contextmodel.SessionMetadata{SessionID: e.Name()}
		}
		out = append(out, SessionSummary{SessionID: e.Name(), Metadata: meta})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}

func readMetadata(dir string) (contextmodel.SessionMetadata, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFileName))
	if err != nil {
		return contextmodel.SessionMetadata{}, err
	}
	var meta contextmodel.SessionMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return contextmodel.SessionMetadata{}, err
	}
	return meta, nil
}

// writeMetadataAtomic rewrites the metadata sidecar via write-to-temp +
// rename, so a crash mid-write never leaves a torn metadata.json behind.
func writeMetadataAtomic(dir string, meta contextmodel.SessionMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, meta.SessionID, err, "marshal metadata")
	}

	tmp, err := os.CreateTemp(dir, "metadata-*.tmp")
	if err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, meta.SessionID, err, "create temp metadata file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, meta.SessionID, err, "write temp metadata file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, meta.SessionID, err, "fsync temp metadata file")
	}
	if err := tmp.Close(); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, meta.SessionID, err, "close temp metadata file")
	}

	finalPath := filepath.Join(dir, metadataFileName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return llmerrors.Wrap(llmerrors.KindStorageUnavailable, meta.SessionID, err, "rename metadata file")
	}
	return nil
}

func readJSONLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("parse line: %w", err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
