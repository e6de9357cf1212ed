package persistence

import (
	"database/sql"
	"fmt"
	"sync"

	"contextcore/pkg/logx"
)

// Index wraps the singleton sqlite connection used to mirror session
// metadata and checkpoint records for querying. All access should go
// through Initialize/GetIndex; there is exactly one sqlite file per
// storage root.
//
//nolint:gochecknoglobals // intentional singleton, mirrors the teacher's single-writer db handle
var (
	globalDB   *sql.DB
	globalOnce sync.Once
	globalMu   sync.RWMutex
	indexLog   *logx.Logger
)

// Initialize opens (or reuses) the index database at dbPath. Subsequent
// calls are no-ops as long as the process hasn't called Reset.
func Initialize(dbPath string) error {
	var initErr error
	globalOnce.Do(func() {
		indexLog = logx.NewLogger("persistence")
		db, err := Open(dbPath)
		if err != nil {
			initErr = err
			return
		}
		globalMu.Lock()
		globalDB = db
		globalMu.Unlock()
		indexLog.Info("session index initialized: %s", dbPath)
	})
	return initErr
}

// IsInitialized reports whether Initialize has successfully run.
func IsInitialized() bool {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalDB != nil
}

// GetIndex returns the singleton index connection. Panics if Initialize has
// not been called — callers that want the index to be optional should guard
// with IsInitialized first.
func GetIndex() *sql.DB {
	globalMu.RLock()
	defer globalMu.RUnlock()
	if globalDB == nil {
		panic("persistence.Initialize must be called before GetIndex")
	}
	return globalDB
}

// Close closes the index connection. Safe to call even if never initialized.
func Close() error {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalDB == nil {
		return nil
	}
	err := globalDB.Close()
	globalDB = nil
	if err != nil {
		return fmt.Errorf("persistence: closing index database: %w", err)
	}
	return nil
}

// Reset closes and un-initializes the singleton. Test-only.
func Reset() error {
	if err := Close(); err != nil {
		return err
	}
	globalOnce = sync.Once{}
	indexLog = nil
	return nil
}

// Ops returns a Store bound to the singleton index connection.
func Ops() *Store {
	return NewStore(GetIndex())
}
