// Package llmerrors provides the five structured error kinds the context
// orchestration core raises, plus the retry metadata attached to each one.
package llmerrors

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error raised anywhere in this module. The five kinds
// below are the complete set; nothing else is fatal to an Orchestrator call.
type Kind int8

const (
	// KindStorageUnavailable: on-disk writes are failing. The session
	// degrades to read-only mutations; prepare_llm_input still works from
	// memory.
	KindStorageUnavailable Kind = iota
	// KindModelUnavailable: the model provider call failed. add_*_message
	// still succeeds, compression is deferred; a hard cap breach still
	// triggers emergency_compact.
	KindModelUnavailable
	// KindCompressionFailed: the Compressor gave up on a span. Logged; the
	// next compression trigger retries.
	KindCompressionFailed
	// KindBudgetExceeded: prepare_llm_input would exceed hard_cap and no
	// compression can help. Surfaces to the caller and triggers emergency.
	KindBudgetExceeded
	// KindBoundaryViolation: Snapshot or Session History data was detected
	// inside an assembled prompt. Fatal for that call; never recovered
	// around silently.
	KindBoundaryViolation
)

func (k Kind) String() string {
	switch k {
	case KindStorageUnavailable:
		return "storage_unavailable"
	case KindModelUnavailable:
		return "model_unavailable"
	case KindCompressionFailed:
		return "compression_failed"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindBoundaryViolation:
		return "boundary_violation"
	default:
		return "invalid"
	}
}

// RetryConfig defines exponential backoff for a Kind that is worth retrying
// locally before surfacing to the caller.
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        bool
}

//nolint:gochecknoglobals // package-level retry policy table, mirrors tier's frozen budget table
var defaultRetryConfigs = map[Kind]RetryConfig{
	KindStorageUnavailable: {
		MaxRetries:    3,
		InitialDelay:  200 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	KindModelUnavailable: {
		MaxRetries:    4,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	KindCompressionFailed: {
		MaxRetries:    0, // a failed compression is not retried within the same call; the next trigger retries
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1.0,
		Jitter:        false,
	},
	KindBudgetExceeded: {
		MaxRetries:    0,
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1.0,
		Jitter:        false,
	},
	KindBoundaryViolation: {
		MaxRetries:    0,
		InitialDelay:  0,
		MaxDelay:      0,
		BackoffFactor: 1.0,
		Jitter:        false,
	},
}

// Error is the structured error type every package in this module raises in
// place of a bare fmt.Errorf when the failure falls into one of the five kinds.
type Error struct {
	Err       error  // wrapped underlying error, if any
	Message   string // human-readable description
	Kind      Kind
	SessionID string // session this error occurred in, for logging with full context
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("context core error (%s)", e.Kind.String())
	if e.SessionID != "" {
		prefix = fmt.Sprintf("%s [session=%s]", prefix, e.SessionID)
	}
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", prefix, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", prefix, e.Err)
	}
	return prefix
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether local recovery should be attempted before
// surfacing the error. BoundaryViolation and BudgetExceeded are never
// retryable: the former must always be surfaced per the propagation policy,
// the latter needs emergency recovery, not a retry.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindStorageUnavailable, KindModelUnavailable:
		return true
	default:
		return false
	}
}

// RetryConfig returns the backoff policy for this error's kind.
func (e *Error) RetryConfig() RetryConfig {
	return defaultRetryConfigs[e.Kind]
}

// RetryConfigFor returns the backoff policy for kind directly, for callers
// (pkg/resilience) that only have a Kind, not a constructed *Error.
func RetryConfigFor(kind Kind) RetryConfig {
	return defaultRetryConfigs[kind]
}

// Is reports whether err is an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf returns the Kind of err, or a false ok if err is not a classified *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return 0, false
}

// New creates a classified error.
func New(kind Kind, sessionID, message string) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Message: message}
}

// Wrap creates a classified error wrapping cause.
func Wrap(kind Kind, sessionID string, cause error, message string) *Error {
	return &Error{Kind: kind, SessionID: sessionID, Err: cause, Message: message}
}

// ExitCode maps a Kind to the CLI exit code contract: 0 success, 2 user
// error, 3 storage unavailable, 4 model provider unavailable. Kinds with no
// direct CLI analog (CompressionFailed, BoundaryViolation) map to the
// generic user-error code since they indicate the requested operation could
// not be completed as asked.
func ExitCode(err error) int {
	kind, ok := KindOf(err)
	if !ok {
		return 2
	}
	switch kind {
	case KindStorageUnavailable:
		return 3
	case KindModelUnavailable:
		return 4
	default:
		return 2
	}
}
