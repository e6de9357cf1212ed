// Package metrics records what happens to each session, as reported by the
// Orchestrator: compression runs, tier transitions, and emergency compaction
// activations. It mirrors the teacher's
// internal/Prometheus recorder split, narrowed from per-LLM-request
// accounting to per-compression-event accounting.
package metrics

import "time"

// CompressionOutcome is what ObserveCompression records about one
// Checkpoint Compressor run.
type CompressionOutcome struct {
	SessionID     string
	TierID        string
	Level         int
	InputTokens   int
	OutputTokens  int
	Duration      time.Duration
	Success       bool
}

// Recorder is the interface the Orchestrator reports compression runs, tier
// transitions and emergency activations through. A NoopRecorder discards everything when
// metrics aren't configured, matching the teacher's Nop() pattern.
type Recorder interface {
	ObserveCompression(o CompressionOutcome)
	ObserveTierTransition(sessionID string, from, to string)
	ObserveEmergencyActivation(sessionID string)
}

// NoopRecorder discards every observation.
type NoopRecorder struct{}

// Nop returns a Recorder that does nothing, for configurations that never
// call persistence.Initialize or wire a Prometheus registry.
func Nop() Recorder { return &NoopRecorder{} }

func (NoopRecorder) ObserveCompression(CompressionOutcome)          {}
func (NoopRecorder) ObserveTierTransition(string, string, string)   {}
func (NoopRecorder) ObserveEmergencyActivation(string)              {}
