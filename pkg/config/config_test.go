package config

import (
	"os"
	"path/filepath"
	"testing"

	"contextcore/pkg/tier"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageRoot == "" {
		t.Error("expected a non-empty default storage_root")
	}
	if cfg.MaxSnapshotsRetained <= 0 {
		t.Error("expected a positive default max_snapshots_retained")
	}
}

func TestLoadParsesFileAndOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage_root: /tmp/custom-root
max_snapshots_retained: 5
session_history_batch:
  max_messages: 10
  max_wait_ms: 500
tier_overrides:
  1_minimal:
    hard_cap: 1000
`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageRoot != "/tmp/custom-root" {
		t.Errorf("StorageRoot = %q, want /tmp/custom-root", cfg.StorageRoot)
	}
	if cfg.MaxSnapshotsRetained != 5 {
		t.Errorf("MaxSnapshotsRetained = %d, want 5", cfg.MaxSnapshotsRetained)
	}
	if cfg.SessionHistoryBatch.MaxMessages != 10 {
		t.Errorf("MaxMessages = %d, want 10", cfg.SessionHistoryBatch.MaxMessages)
	}

	overrides := cfg.TierControllerOverrides()
	if overrides[tier.Tier1Minimal].HardCap != 1000 {
		t.Errorf("expected tier 1 hard_cap override of 1000, got %+v", overrides[tier.Tier1Minimal])
	}
}

func TestLoadAppliesEnvOverrideOverFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("storage_root: /tmp/from-file\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv(envStorageRoot, "/tmp/from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StorageRoot != "/tmp/from-env" {
		t.Errorf("StorageRoot = %q, want env override /tmp/from-env", cfg.StorageRoot)
	}
}

func TestLoadRejectsInvalidMaxSnapshots(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("max_snapshots_retained: -1\n"), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for a negative max_snapshots_retained")
	}
}

func TestCredentialStoreEnvFallback(t *testing.T) {
	store := NewCredentialStore()
	t.Setenv("TEST_PROVIDER_KEY", "from-env")

	key, err := store.Get("testprovider", "TEST_PROVIDER_KEY")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if key != "from-env" {
		t.Errorf("Get = %q, want from-env", key)
	}
}

func TestCredentialStoreRoundTripsThroughEncryptedFile(t *testing.T) {
	dir := t.TempDir()
	store := NewCredentialStore()
	store.Set("anthropic", "sk-ant-test-key")

	if err := store.Save(dir, "correct horse battery staple"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewCredentialStore()
	if err := reloaded.Load(dir, "correct horse battery staple"); err != nil {
		t.Fatalf("Load: %v", err)
	}

	key, err := reloaded.Get("anthropic", "ANTHROPIC_API_KEY")
	if err != nil {
		t.Fatalf("Get after reload: %v", err)
	}
	if key != "sk-ant-test-key" {
		t.Errorf("Get = %q, want sk-ant-test-key", key)
	}
}

func TestCredentialStoreWrongPasswordFails(t *testing.T) {
	dir := t.TempDir()
	store := NewCredentialStore()
	store.Set("openai", "sk-test")
	if err := store.Save(dir, "right-password"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reloaded := NewCredentialStore()
	if err := reloaded.Load(dir, "wrong-password"); err == nil {
		t.Fatal("expected decryption to fail with the wrong password")
	}
}
