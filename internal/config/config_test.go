package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider != DefaultProvider || cfg.Model != DefaultModel {
		t.Errorf("defaults = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.QueueSize != DefaultQueueSize {
		t.Errorf("queue size = %d, want %d", cfg.QueueSize, DefaultQueueSize)
	}
	if cfg.ApprovalTimeout() != 0 {
		t.Errorf("approval timeout = %v, want 0 (disabled)", cfg.ApprovalTimeout())
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"provider": "script",
		"model": "test-model",
		"approval_timeout_seconds": 90,
		"sensitive_tools": ["rm_*"],
		"ws_addr": "127.0.0.1:9100",
		"queue_size": 8,
		"history_limit": 10
	}`
	if err := os.WriteFile(path, []byte(body), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider != "script" || cfg.Model != "test-model" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.ApprovalTimeout() != 90*time.Second {
		t.Errorf("approval timeout = %v, want 90s", cfg.ApprovalTimeout())
	}
	if cfg.WSAddr != "127.0.0.1:9100" || cfg.QueueSize != 8 {
		t.Errorf("ws/queue = %s/%d", cfg.WSAddr, cfg.QueueSize)
	}
}

func TestLoadBadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should fail on malformed JSON")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("OVERSEER_PROVIDER", "script")
	t.Setenv("OVERSEER_MODEL", "env-model")
	t.Setenv("OVERSEER_APPROVAL_TIMEOUT", "30")
	t.Setenv("OVERSEER_QUEUE_SIZE", "16")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.json"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Provider != "script" || cfg.Model != "env-model" {
		t.Errorf("provider/model = %s/%s", cfg.Provider, cfg.Model)
	}
	if cfg.ApprovalTimeoutSeconds != 30 || cfg.QueueSize != 16 {
		t.Errorf("timeout/queue = %d/%d", cfg.ApprovalTimeoutSeconds, cfg.QueueSize)
	}
}

func TestValidation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"queue_size": -1}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject negative queue_size")
	}

	if err := os.WriteFile(path, []byte(`{"sensitive_tools": ["[bad"]}`), 0600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load() should reject malformed patterns")
	}
}

func TestIsSensitive(t *testing.T) {
	cfg := Default()
	cases := []struct {
		tool string
		want bool
	}{
		{"delete_file", true},
		{"delete_branch", true},
		{"run_command", true},
		{"write_file", true},
		{"read_file", false},
		{"search", false},
	}
	for _, tc := range cases {
		if got := cfg.IsSensitive(tc.tool); got != tc.want {
			t.Errorf("IsSensitive(%q) = %v, want %v", tc.tool, got, tc.want)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	cfg := Default()
	cfg.Model = "saved-model"
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if got.Model != "saved-model" {
		t.Errorf("model = %q, want saved-model", got.Model)
	}
}
