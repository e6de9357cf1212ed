// Package tier is the single source of truth for the budgets and policies
// attached to each context tier. It has no dependency on any other package in
// this module: the Orchestrator, Compressor, and Prompt Assembler all read
// their budgets from here rather than keeping their own copies.
package tier

import (
	"fmt"
	"sync"
)

// ID identifies one of the four discrete context tiers. Tiers are derived
// from a model's advertised context window via fixed thresholds, never as a
// runtime percentage of that window.
type ID string

const (
	Tier1Minimal  ID = "1_minimal"
	Tier2Basic    ID = "2_basic"
	Tier3Standard ID = "3_standard"
	Tier4Full     ID = "4_full"
)

// Discrete window thresholds. A model advertising exactly the boundary value
// falls into the lower tier (W<=4096 is Tier 1, W=4097 is Tier 2, and so on).
const (
	windowThresholdMinimal  = 4096
	windowThresholdBasic    = 8192
	windowThresholdStandard = 32768
)

// Budget is the fixed set of policies attached to a tier. Every field here is
// frozen at table-construction time; nothing is recomputed from the model's
// window at request time.
type Budget struct {
	ID ID

	// WindowTokens is the advertised context window this budget was derived for.
	// It is informational; HardCap (not WindowTokens) bounds active context size.
	WindowTokens int

	HardCap             int
	SoftCap             int
	RecentKeepMin       int
	RecentKeepMax       int
	CompressTargetRatio float64
	MaxCheckpoints      int
	SanityChecksEnabled bool
}

// safetyReserve is subtracted from a tier's window when deriving its hard cap,
// leaving headroom for provider-side framing tokens outside our accounting.
const safetyReserve = 256

// softCapRatio sets the soft cap as a fraction of the hard cap; crossing it
// schedules compression rather than rejecting the mutation outright.
const softCapRatio = 0.75

//nolint:gochecknoglobals // frozen policy table, the package's single authority
var defaultTable = map[ID]Budget{
	Tier1Minimal: {
		ID:                  Tier1Minimal,
		WindowTokens:        windowThresholdMinimal,
		HardCap:             windowThresholdMinimal - safetyReserve,
		SoftCap:             int(float64(windowThresholdMinimal-safetyReserve) * softCapRatio),
		RecentKeepMin:       2,
		RecentKeepMax:       6,
		CompressTargetRatio: 0.5,
		MaxCheckpoints:      2,
		SanityChecksEnabled: true,
	},
	Tier2Basic: {
		ID:                  Tier2Basic,
		WindowTokens:        windowThresholdBasic,
		HardCap:             windowThresholdBasic - safetyReserve,
		SoftCap:             int(float64(windowThresholdBasic-safetyReserve) * softCapRatio),
		RecentKeepMin:       4,
		RecentKeepMax:       12,
		CompressTargetRatio: 0.5,
		MaxCheckpoints:      4,
		SanityChecksEnabled: true,
	},
	Tier3Standard: {
		ID:                  Tier3Standard,
		WindowTokens:        windowThresholdStandard,
		HardCap:             windowThresholdStandard - safetyReserve,
		SoftCap:             int(float64(windowThresholdStandard-safetyReserve) * softCapRatio),
		RecentKeepMin:       6,
		RecentKeepMax:       24,
		CompressTargetRatio: 0.4,
		MaxCheckpoints:      8,
		SanityChecksEnabled: false,
	},
	Tier4Full: {
		ID:                  Tier4Full,
		WindowTokens:        windowThresholdStandard * 4,
		HardCap:             windowThresholdStandard*4 - safetyReserve*4,
		SoftCap:             int(float64(windowThresholdStandard*4-safetyReserve*4) * softCapRatio),
		RecentKeepMin:       10,
		RecentKeepMax:       60,
		CompressTargetRatio: 0.3,
		MaxCheckpoints:      16,
		SanityChecksEnabled: false,
	},
}

// Controller is the authority over tier classification and budgets. It is
// safe for concurrent use; the table itself is immutable after construction,
// so reads never block on each other.
type Controller struct {
	mu    sync.RWMutex
	table map[ID]Budget
}

// NewController builds a Controller from the frozen default table.
func NewController() *Controller {
	return &Controller{table: cloneTable(defaultTable)}
}

// NewControllerWithOverrides builds a Controller from the default table with
// per-tier overrides applied on top (e.g. loaded from a tier-table override
// file). Overrides are validated the same way the default table is.
func NewControllerWithOverrides(overrides map[ID]Budget) (*Controller, error) {
	table := cloneTable(defaultTable)
	for id, b := range overrides {
		existing, ok := table[id]
		if !ok {
			return nil, fmt.Errorf("tier: unknown tier id in overrides: %s", id)
		}
		merged := mergeBudget(existing, b)
		if err := validateBudget(merged); err != nil {
			return nil, fmt.Errorf("tier: invalid override for %s: %w", id, err)
		}
		table[id] = merged
	}
	return &Controller{table: table}, nil
}

func cloneTable(src map[ID]Budget) map[ID]Budget {
	dst := make(map[ID]Budget, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// mergeBudget overlays non-zero fields of override onto base. Zero-valued
// fields in override are treated as "not specified".
func mergeBudget(base, override Budget) Budget {
	merged := base
	if override.HardCap != 0 {
		merged.HardCap = override.HardCap
	}
	if override.SoftCap != 0 {
		merged.SoftCap = override.SoftCap
	}
	if override.RecentKeepMin != 0 {
		merged.RecentKeepMin = override.RecentKeepMin
	}
	if override.RecentKeepMax != 0 {
		merged.RecentKeepMax = override.RecentKeepMax
	}
	if override.CompressTargetRatio != 0 {
		merged.CompressTargetRatio = override.CompressTargetRatio
	}
	if override.MaxCheckpoints != 0 {
		merged.MaxCheckpoints = override.MaxCheckpoints
	}
	return merged
}

func validateBudget(b Budget) error {
	if b.RecentKeepMin <= 0 {
		return fmt.Errorf("recent_keep_min must be > 0, got %d", b.RecentKeepMin)
	}
	if b.RecentKeepMax < b.RecentKeepMin {
		return fmt.Errorf("recent_keep_max (%d) must be >= recent_keep_min (%d)", b.RecentKeepMax, b.RecentKeepMin)
	}
	if b.SoftCap <= 0 || b.SoftCap > b.HardCap {
		return fmt.Errorf("soft_cap (%d) must be in (0, hard_cap(%d)]", b.SoftCap, b.HardCap)
	}
	if b.HardCap <= 0 {
		return fmt.Errorf("hard_cap must be > 0, got %d", b.HardCap)
	}
	if b.CompressTargetRatio <= 0 || b.CompressTargetRatio > 1 {
		return fmt.Errorf("compress_target_ratio must be in (0, 1], got %f", b.CompressTargetRatio)
	}
	if b.MaxCheckpoints <= 0 {
		return fmt.Errorf("max_checkpoints must be > 0, got %d", b.MaxCheckpoints)
	}
	return nil
}

// ClassifyWindow maps an advertised context window to a tier id using the
// fixed, discrete thresholds. It never computes a tier as a runtime
// percentage of the window.
func ClassifyWindow(windowTokens int) ID {
	switch {
	case windowTokens <= windowThresholdMinimal:
		return Tier1Minimal
	case windowTokens <= windowThresholdBasic:
		return Tier2Basic
	case windowTokens <= windowThresholdStandard:
		return Tier3Standard
	default:
		return Tier4Full
	}
}

// Resolve classifies windowTokens and returns the budget for the resulting tier.
func (c *Controller) Resolve(windowTokens int) Budget {
	id := ClassifyWindow(windowTokens)
	return c.BudgetFor(id)
}

// BudgetFor returns the budget for a specific tier id. Panics on an unknown
// id, which can only happen if a caller constructs an ID by hand rather than
// through ClassifyWindow.
func (c *Controller) BudgetFor(id ID) Budget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.table[id]
	if !ok {
		panic(fmt.Sprintf("tier: unknown tier id %q", id))
	}
	return b
}

// All returns a copy of the full table, ordered from Tier 1 through Tier 4.
func (c *Controller) All() []Budget {
	c.mu.RLock()
	defer c.mu.RUnlock()
	order := []ID{Tier1Minimal, Tier2Basic, Tier3Standard, Tier4Full}
	out := make([]Budget, 0, len(order))
	for _, id := range order {
		out = append(out, c.table[id])
	}
	return out
}
