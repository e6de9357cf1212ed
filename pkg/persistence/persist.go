package persistence

import (
	"time"

	"contextcore/pkg/logx"
)

// Operation names a mirroring write the Worker applies to the index.
type Operation int

const (
	OpUpsertSession Operation = iota
	OpRecordCheckpoint
)

// Request is one fire-and-forget mirroring write. Response is optional; a
// caller that wants to observe failures passes a buffered channel of size
// 1, otherwise errors are only logged.
type Request struct {
	Operation Operation
	Session   SessionRecord
	Checkpoint CheckpointRecordRow
	SessionID string
	Response  chan<- error
}

// Worker drains a Request channel and applies each write to the index in
// order, off the orchestrator's serialization point. It is the concrete
// shape of SPEC_FULL.md's "additive, rebuildable index" requirement: a
// failure here is logged and dropped, never propagated back to the caller
// that triggered the write.
type Worker struct {
	store *Store
	log   *logx.Logger
}

// NewWorker binds a Worker to an index connection.
func NewWorker(store *Store) *Worker {
	return &Worker{store: store, log: logx.NewLogger("persistence")}
}

// Run processes requests from ch until it is closed. Intended to run in its
// own goroutine for the lifetime of the process.
func (w *Worker) Run(ch <-chan *Request) {
	for req := range ch {
		err := w.apply(req)
		if req.Response != nil {
			req.Response <- err
			continue
		}
		if err != nil {
			w.log.Warn("index mirroring failed: %v", err)
		}
	}
}

func (w *Worker) apply(req *Request) error {
	switch req.Operation {
	case OpUpsertSession:
		return w.store.UpsertSession(req.Session)
	case OpRecordCheckpoint:
		return w.store.RecordCheckpoint(req.SessionID, req.Checkpoint)
	default:
		return nil
	}
}

// MirrorSession enqueues a session upsert. Silently drops the request if ch
// is nil or full past a short deadline, since the index is best-effort.
func MirrorSession(ch chan<- *Request, rec SessionRecord) {
	enqueue(ch, &Request{Operation: OpUpsertSession, Session: rec})
}

// MirrorCheckpoint enqueues a checkpoint-record insert.
func MirrorCheckpoint(ch chan<- *Request, sessionID string, rec CheckpointRecordRow) {
	enqueue(ch, &Request{Operation: OpRecordCheckpoint, SessionID: sessionID, Checkpoint: rec})
}

func enqueue(ch chan<- *Request, req *Request) {
	if ch == nil {
		return
	}
	select {
	case ch <- req:
	case <-time.After(50 * time.Millisecond):
		// the worker is behind; dropping here preserves the orchestrator's
		// own latency budget over index freshness.
	}
}
