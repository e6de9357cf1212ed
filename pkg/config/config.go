// Package config loads the small, fixed configuration surface spec.md §6
// names: storage root path, tier-table overrides, maximum snapshots
// retained, and session-history batching thresholds. It does not carry the
// teacher's much larger project/orchestrator config split — there is no
// container, build, or multi-agent configuration in this module's domain.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"contextcore/pkg/sessionhistory"
	"contextcore/pkg/tier"
)

// TierOverride mirrors the non-zero-override subset of tier.Budget that
// NewControllerWithOverrides accepts — a config file only needs to name the
// fields it wants to change from the frozen defaults.
type TierOverride struct {
	HardCap             int     `yaml:"hard_cap,omitempty"`
	SoftCap             int     `yaml:"soft_cap,omitempty"`
	RecentKeepMin       int     `yaml:"recent_keep_min,omitempty"`
	RecentKeepMax       int     `yaml:"recent_keep_max,omitempty"`
	CompressTargetRatio float64 `yaml:"compress_target_ratio,omitempty"`
	MaxCheckpoints      int     `yaml:"max_checkpoints,omitempty"`
}

// BatchPolicy is the YAML-facing shape of sessionhistory.BatchPolicy — a
// plain millisecond integer is friendlier in a config file than a
// time.Duration string encoding.
type BatchPolicy struct {
	MaxMessages int `yaml:"max_messages"`
	MaxWaitMS   int `yaml:"max_wait_ms"`
}

// ToSessionHistoryPolicy converts to the type sessionhistory.NewFileStore expects.
func (b BatchPolicy) ToSessionHistoryPolicy() sessionhistory.BatchPolicy {
	return sessionhistory.BatchPolicy{
		MaxMessages: b.MaxMessages,
		MaxWait:     time.Duration(b.MaxWaitMS) * time.Millisecond,
	}
}

// Config is the full set of environment/configuration this module
// recognizes, per spec.md §6.
type Config struct {
	StorageRoot          string                    `yaml:"storage_root"`
	MaxSnapshotsRetained int                        `yaml:"max_snapshots_retained"`
	SessionHistoryBatch  BatchPolicy                `yaml:"session_history_batch"`
	TierOverrides        map[tier.ID]TierOverride   `yaml:"tier_overrides,omitempty"`
}

const (
	envStorageRoot  = "CONTEXTCORE_STORAGE_ROOT"
	envMaxSnapshots = "CONTEXTCORE_MAX_SNAPSHOTS"
)

// Default returns the built-in configuration used when no config file is
// present: storage under the user's home directory, a snapshot retention of
// 5, and the session-history package's own default batching.
func Default() Config {
	root := filepath.Join(".", ".contextcore")
	if home, err := os.UserHomeDir(); err == nil {
		root = filepath.Join(home, ".contextcore")
	}
	return Config{
		StorageRoot:          root,
		MaxSnapshotsRetained: 5,
		SessionHistoryBatch: BatchPolicy{
			MaxMessages: sessionhistory.DefaultBatchPolicy.MaxMessages,
			MaxWaitMS:   int(sessionhistory.DefaultBatchPolicy.MaxWait / time.Millisecond),
		},
	}
}

// Load reads a YAML config file at path, falling back to Default() for any
// field the file leaves unset, then applies environment overrides (which
// take precedence over the file, matching the teacher's env-over-file
// precedence in GetSecret). A missing file is not an error; Load just
// returns Default() with env overrides applied.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return Config{}, fmt.Errorf("config: reading %s: %w", path, err)
			}
		} else {
			var fromFile Config
			if err := yaml.Unmarshal(data, &fromFile); err != nil {
				return Config{}, fmt.Errorf("config: parsing %s: %w", path, err)
			}
			cfg = mergeOverFile(cfg, fromFile)
		}
	}

	applyEnvOverrides(&cfg)

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// mergeOverFile overlays non-zero fields of fromFile onto defaults.
func mergeOverFile(defaults, fromFile Config) Config {
	merged := defaults
	if fromFile.StorageRoot != "" {
		merged.StorageRoot = fromFile.StorageRoot
	}
	if fromFile.MaxSnapshotsRetained != 0 {
		merged.MaxSnapshotsRetained = fromFile.MaxSnapshotsRetained
	}
	if fromFile.SessionHistoryBatch.MaxMessages != 0 {
		merged.SessionHistoryBatch.MaxMessages = fromFile.SessionHistoryBatch.MaxMessages
	}
	if fromFile.SessionHistoryBatch.MaxWaitMS != 0 {
		merged.SessionHistoryBatch.MaxWaitMS = fromFile.SessionHistoryBatch.MaxWaitMS
	}
	if len(fromFile.TierOverrides) > 0 {
		merged.TierOverrides = fromFile.TierOverrides
	}
	return merged
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(envStorageRoot); v != "" {
		cfg.StorageRoot = v
	}
	if v := os.Getenv(envMaxSnapshots); v != "" {
		var n int
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil && n > 0 {
			cfg.MaxSnapshotsRetained = n
		}
	}
}

func validate(cfg Config) error {
	if cfg.StorageRoot == "" {
		return fmt.Errorf("config: storage_root must not be empty")
	}
	if cfg.MaxSnapshotsRetained <= 0 {
		return fmt.Errorf("config: max_snapshots_retained must be > 0, got %d", cfg.MaxSnapshotsRetained)
	}
	if cfg.SessionHistoryBatch.MaxMessages <= 0 {
		return fmt.Errorf("config: session_history_batch.max_messages must be > 0, got %d", cfg.SessionHistoryBatch.MaxMessages)
	}
	return nil
}

// TierControllerOverrides converts the config's YAML-facing overrides into
// the map tier.NewControllerWithOverrides expects.
func (c Config) TierControllerOverrides() map[tier.ID]tier.Budget {
	if len(c.TierOverrides) == 0 {
		return nil
	}
	out := make(map[tier.ID]tier.Budget, len(c.TierOverrides))
	for id, o := range c.TierOverrides {
		out[id] = tier.Budget{
			HardCap:             o.HardCap,
			SoftCap:             o.SoftCap,
			RecentKeepMin:       o.RecentKeepMin,
			RecentKeepMax:       o.RecentKeepMax,
			CompressTargetRatio: o.CompressTargetRatio,
			MaxCheckpoints:      o.MaxCheckpoints,
		}
	}
	return out
}
