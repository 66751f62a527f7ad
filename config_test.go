package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pinpox/marmot-sync/groupsync"
	"github.com/pinpox/marmot-sync/inbox"
)

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if len(cfg.Relays) == 0 {
		t.Fatal("expected default relays, got empty")
	}
	if cfg.Relays[0] != "wss://relay.damus.io" {
		t.Errorf("first default relay = %q, want %q", cfg.Relays[0], "wss://relay.damus.io")
	}
	if cfg.ReconcileInterval.Duration != groupsync.DefaultReconcileInterval {
		t.Errorf("ReconcileInterval = %v, want %v", cfg.ReconcileInterval, groupsync.DefaultReconcileInterval)
	}
	if cfg.InviteRefreshInterval.Duration != inbox.DefaultRefreshInterval {
		t.Errorf("InviteRefreshInterval = %v, want %v", cfg.InviteRefreshInterval, inbox.DefaultRefreshInterval)
	}
	if cfg.MessageBufferSize != 200 {
		t.Errorf("MessageBufferSize = %d, want 200", cfg.MessageBufferSize)
	}
	if cfg.MetricsAddr != "" {
		t.Errorf("MetricsAddr = %q, want empty", cfg.MetricsAddr)
	}
}

func TestConfigPath(t *testing.T) {
	t.Run("flag takes priority", func(t *testing.T) {
		t.Setenv("MARMOT_SYNC_CONFIG", "/env/path.toml")
		got := configPath("/my/flag/path.toml")
		if got != "/my/flag/path.toml" {
			t.Errorf("configPath with flag = %q, want %q", got, "/my/flag/path.toml")
		}
	})

	t.Run("env var when no flag", func(t *testing.T) {
		t.Setenv("MARMOT_SYNC_CONFIG", "/env/path.toml")
		got := configPath("")
		if got != "/env/path.toml" {
			t.Errorf("configPath with env = %q, want %q", got, "/env/path.toml")
		}
	})

	t.Run("default when no flag or env", func(t *testing.T) {
		t.Setenv("MARMOT_SYNC_CONFIG", "")
		got := configPath("")
		home, err := os.UserHomeDir()
		if err != nil {
			t.Fatalf("os.UserHomeDir() failed: %v", err)
		}
		want := filepath.Join(home, ".config", "marmot-sync", "config.toml")
		if got != want {
			t.Errorf("configPath default = %q, want %q", got, want)
		}
	})
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	cfgFile := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(cfgFile, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return cfgFile
}

func TestLoadConfig(t *testing.T) {
	t.Run("missing file returns defaults", func(t *testing.T) {
		dir := t.TempDir()
		cfg, err := LoadConfig(filepath.Join(dir, "nonexistent.toml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.Relays) == 0 {
			t.Error("expected default relays")
		}
		if cfg.DataDir != filepath.Join(dir, "data") {
			t.Errorf("DataDir = %q, want %q", cfg.DataDir, filepath.Join(dir, "data"))
		}
	})

	t.Run("valid TOML parses", func(t *testing.T) {
		cfgFile := writeConfig(t, `
relays = ["wss://custom.relay"]
extra_inbox_relays = ["wss://inbox.relay"]
data_dir = "/var/lib/marmot"
reconcile_interval = "500ms"
invite_refresh_timeout = "3s"
invite_refresh_limit = 25
unwrap_workers = 8
metrics_addr = "127.0.0.1:9100"
`)
		cfg, err := LoadConfig(cfgFile)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(cfg.Relays) != 1 || cfg.Relays[0] != "wss://custom.relay" {
			t.Errorf("relays = %v, want [wss://custom.relay]", cfg.Relays)
		}
		if len(cfg.ExtraInboxRelays) != 1 || cfg.ExtraInboxRelays[0] != "wss://inbox.relay" {
			t.Errorf("extra_inbox_relays = %v, want [wss://inbox.relay]", cfg.ExtraInboxRelays)
		}
		if cfg.DataDir != "/var/lib/marmot" {
			t.Errorf("DataDir = %q, want %q", cfg.DataDir, "/var/lib/marmot")
		}
		if cfg.ReconcileInterval.Duration != 500*time.Millisecond {
			t.Errorf("ReconcileInterval = %v, want 500ms", cfg.ReconcileInterval)
		}
		if cfg.InviteRefreshTimeout.Duration != 3*time.Second {
			t.Errorf("InviteRefreshTimeout = %v, want 3s", cfg.InviteRefreshTimeout)
		}
		if cfg.InviteRefreshLimit != 25 {
			t.Errorf("InviteRefreshLimit = %d, want 25", cfg.InviteRefreshLimit)
		}
		if cfg.UnwrapWorkers != 8 {
			t.Errorf("UnwrapWorkers = %d, want 8", cfg.UnwrapWorkers)
		}
		if cfg.MetricsAddr != "127.0.0.1:9100" {
			t.Errorf("MetricsAddr = %q, want %q", cfg.MetricsAddr, "127.0.0.1:9100")
		}
		// untouched keys keep their defaults
		if cfg.InviteRefreshInterval.Duration != inbox.DefaultRefreshInterval {
			t.Errorf("InviteRefreshInterval = %v, want default", cfg.InviteRefreshInterval)
		}
	})

	t.Run("empty relays get defaults", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, `relays = []`))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defaults := defaultConfig()
		if len(cfg.Relays) != len(defaults.Relays) {
			t.Errorf("expected default relays when empty, got %d relays", len(cfg.Relays))
		}
	})

	t.Run("zero values get defaults", func(t *testing.T) {
		cfg, err := LoadConfig(writeConfig(t, "message_buffer_size = 0\nreconcile_interval = \"0s\"\n"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg.MessageBufferSize != groupsync.DefaultBufferSize {
			t.Errorf("MessageBufferSize = %d, want %d", cfg.MessageBufferSize, groupsync.DefaultBufferSize)
		}
		if cfg.ReconcileInterval.Duration != groupsync.DefaultReconcileInterval {
			t.Errorf("ReconcileInterval = %v, want default", cfg.ReconcileInterval)
		}
	})

	t.Run("invalid duration errors", func(t *testing.T) {
		if _, err := LoadConfig(writeConfig(t, `reconcile_interval = "soon"`)); err == nil {
			t.Error("expected error for invalid duration")
		}
	})

	t.Run("invalid TOML errors", func(t *testing.T) {
		if _, err := LoadConfig(writeConfig(t, `relays = [`)); err == nil {
			t.Error("expected error for invalid TOML")
		}
	})
}

func TestSessionConfig(t *testing.T) {
	cfg := defaultConfig()
	cfg.ExtraInboxRelays = []string{"wss://inbox.relay"}
	sc := cfg.sessionConfig()

	if len(sc.Relays) != len(cfg.Relays) {
		t.Errorf("Relays = %v, want %v", sc.Relays, cfg.Relays)
	}
	if len(sc.ExtraInboxRelays) != 1 {
		t.Errorf("ExtraInboxRelays = %v", sc.ExtraInboxRelays)
	}
	if sc.InviteRefreshTimeout != cfg.InviteRefreshTimeout.Duration {
		t.Errorf("InviteRefreshTimeout = %v, want %v", sc.InviteRefreshTimeout, cfg.InviteRefreshTimeout)
	}
	if sc.UnwrapWorkers != cfg.UnwrapWorkers {
		t.Errorf("UnwrapWorkers = %d, want %d", sc.UnwrapWorkers, cfg.UnwrapWorkers)
	}
}
