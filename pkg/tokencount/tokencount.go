// Package tokencount is the single pure function the rest of this module uses
// to turn text into a token count for a given model. Every budget-enforcing
// package (activectx, compressor, promptasm, orchestrator) must size its
// output with the same Counter rather than re-implementing estimation.
package tokencount

import (
	"sync"

	"github.com/tiktoken-go/tokenizer"

	"contextcore/pkg/logx"
)

// heuristicDivisor implements the 4-chars-per-token fallback used when no
// model-specific codec is available. The spec requires this estimate be
// flagged whenever it is used to size a budget decision.
const heuristicDivisor = 4

// Counter counts tokens for a single model. It is safe for concurrent use:
// the underlying codec is read-only after construction.
type Counter struct {
	modelID  string
	codec    tokenizer.Codec
	fallback bool // true when no BPE codec could be resolved for modelID
	log      *logx.Logger
}

// No provider exposes a public BPE table for its own models, and tiktoken-go
// only ships encodings for the OpenAI family, so every model (OpenAI, Claude,
// Gemini, local Ollama models alike) is approximated with the GPT-4 encoding,
// the closest general-purpose BPE available. This is the same approximation
// the Compressor and Prompt Assembler implicitly rely on when they size
// output against a Counter built for the bound model.
const approximationModel = tokenizer.GPT4

// New builds a Counter for modelID. It never fails: when the tokenizer
// package cannot produce a codec, the Counter falls back to the character
// heuristic and records that fact in Fallback().
func New(modelID string) *Counter {
	log := logx.NewLogger("tokencount")

	codec, err := tokenizer.ForModel(approximationModel)
	if err != nil {
		log.Warn("no BPE codec for model %q, falling back to character heuristic: %v", modelID, err)
		return &Counter{modelID: modelID, fallback: true, log: log}
	}

	return &Counter{modelID: modelID, codec: codec, log: log}
}

// Count returns the token count for text. Deterministic for a given model:
// repeated calls with the same text and the same Counter always agree.
func (c *Counter) Count(text string) int {
	if c.codec == nil {
		return c.heuristicCount(text)
	}

	n, err := c.codec.Count(text)
	if err != nil {
		c.log.Warn("codec count failed for model %q, falling back to heuristic: %v", c.modelID, err)
		return c.heuristicCount(text)
	}
	return n
}

func (c *Counter) heuristicCount(text string) int {
	return len(text) / heuristicDivisor
}

// Fallback reports whether construction fell back to the character heuristic
// rather than a real BPE codec. A codec error inside a later Count call falls
// back silently for that call and is not reflected here. Callers
// that enforce budgets should surface this via their telemetry, per the
// requirement that heuristic-based sizing be flagged rather than silent.
func (c *Counter) Fallback() bool {
	return c.fallback
}

// ModelID returns the model this Counter was built for.
func (c *Counter) ModelID() string {
	return c.modelID
}

// Registry caches one Counter per model so callers sharing a process don't
// repeatedly pay codec construction cost.
type Registry struct {
	mu       sync.Mutex
	counters map[string]*Counter
}

// NewRegistry creates an empty Counter cache.
func NewRegistry() *Registry {
	return &Registry{counters: make(map[string]*Counter)}
}

// For returns the cached Counter for modelID, constructing one on first use.
func (r *Registry) For(modelID string) *Counter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.counters[modelID]; ok {
		return c
	}
	c := New(modelID)
	r.counters[modelID] = c
	return c
}

// TruncateToBudget deterministically truncates text so that Count(text) <=
// budget, cutting from the tail and appending marker. Used by the Prompt
// Assembler to keep per-section output within its slot; truncation always
// removes from the end so earlier, more load-bearing content survives.
func TruncateToBudget(c *Counter, text string, budget int, marker string) string {
	if budget <= 0 {
		return marker
	}
	if c.Count(text) <= budget {
		return text
	}

	// Binary search the longest prefix (by rune count) whose token count,
	// plus the marker's, fits the budget. Token boundaries don't align with
	// byte or rune boundaries, so this converges rather than computes directly.
	runes := []rune(text)
	markerTokens := c.Count(marker)
	budgetForText := budget - markerTokens
	if budgetForText <= 0 {
		return marker
	}

	lo, hi := 0, len(runes)
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if c.Count(string(runes[:mid])) <= budgetForText {
			lo = mid
		} else {
			hi = mid - 1
		}
	}

	return string(runes[:lo]) + marker
}
