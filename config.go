package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/pinpox/marmot-sync/groupsync"
	"github.com/pinpox/marmot-sync/inbox"
	"github.com/pinpox/marmot-sync/session"
)

// Duration decodes TOML strings such as "2s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

type Config struct {
	Relays                []string `toml:"relays"`
	ExtraInboxRelays      []string `toml:"extra_inbox_relays"`
	DataDir               string   `toml:"data_dir"`
	PrivateKeyFile        string   `toml:"private_key_file"`
	ReconcileInterval     Duration `toml:"reconcile_interval"`
	InviteRefreshInterval Duration `toml:"invite_refresh_interval"`
	InviteRefreshTimeout  Duration `toml:"invite_refresh_timeout"`
	InviteRefreshLimit    int      `toml:"invite_refresh_limit"`
	MessageBufferSize     int      `toml:"message_buffer_size"`
	UnwrapWorkers         int      `toml:"unwrap_workers"`
	MetricsAddr           string   `toml:"metrics_addr"` // empty = no metrics endpoint
}

func defaultConfig() Config {
	return Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://relay.nostr.band",
			"wss://nos.lol",
		},
		ReconcileInterval:     Duration{groupsync.DefaultReconcileInterval},
		InviteRefreshInterval: Duration{inbox.DefaultRefreshInterval},
		InviteRefreshTimeout:  Duration{inbox.DefaultRefreshTimeout},
		InviteRefreshLimit:    inbox.DefaultRefreshLimit,
		MessageBufferSize:     groupsync.DefaultBufferSize,
		UnwrapWorkers:         inbox.DefaultWorkers,
	}
}

func configPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p := os.Getenv("MARMOT_SYNC_CONFIG"); p != "" {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "marmot-sync", "config.toml")
}

func LoadConfig(flagPath string) (Config, error) {
	cfg := defaultConfig()

	path := configPath(flagPath)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.DataDir = defaultDataDir(path)
			return cfg, nil
		}
		return cfg, err
	}

	if _, err := toml.Decode(string(data), &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}

	def := defaultConfig()
	if len(cfg.Relays) == 0 {
		cfg.Relays = def.Relays
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir(path)
	}
	if cfg.InviteRefreshLimit <= 0 {
		cfg.InviteRefreshLimit = def.InviteRefreshLimit
	}
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = def.MessageBufferSize
	}
	if cfg.UnwrapWorkers <= 0 {
		cfg.UnwrapWorkers = def.UnwrapWorkers
	}
	for _, d := range []struct {
		v   *Duration
		def Duration
	}{
		{&cfg.ReconcileInterval, def.ReconcileInterval},
		{&cfg.InviteRefreshInterval, def.InviteRefreshInterval},
		{&cfg.InviteRefreshTimeout, def.InviteRefreshTimeout},
	} {
		if d.v.Duration <= 0 {
			*d.v = d.def
		}
	}

	return cfg, nil
}

// defaultDataDir keeps state next to the config file.
func defaultDataDir(cfgPath string) string {
	return filepath.Join(filepath.Dir(cfgPath), "data")
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		Relays:                c.Relays,
		ExtraInboxRelays:      c.ExtraInboxRelays,
		ReconcileInterval:     c.ReconcileInterval.Duration,
		InviteRefreshInterval: c.InviteRefreshInterval.Duration,
		InviteRefreshTimeout:  c.InviteRefreshTimeout.Duration,
		InviteRefreshLimit:    c.InviteRefreshLimit,
		MessageBufferSize:     c.MessageBufferSize,
		UnwrapWorkers:         c.UnwrapWorkers,
	}
}
