package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "simpd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "absent.toml")

	cfg, resolved, exists, err := Load(path)
	require.NoError(t, err)
	require.False(t, exists)
	require.Equal(t, path, resolved)
	require.Equal(t, Default(), *cfg)
	require.Equal(t, 5*time.Second, cfg.RetransmitInterval())
}

func TestLoadOverridesAndNormalizes(t *testing.T) {
	path := writeConfig(t, `
[daemon]
bind = "  "
peer_port = 5000
client_port = 5001
ws_port = 8080

[transport]
retransmit_interval_ms = 250
max_retries = 4
backoff = 2.0
max_interval_ms = 1000

[session]
turn_policy = "legacy"

[logging]
level = "debug"
stats_interval_seconds = 0
`)

	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, cfg.Validate())

	require.Equal(t, "127.0.0.1", cfg.Daemon.Bind)
	require.Equal(t, "127.0.0.1:5000", cfg.PeerAddr())
	require.Equal(t, "127.0.0.1:5001", cfg.ClientAddr())
	require.Equal(t, "127.0.0.1:8080", cfg.WSAddr())
	require.Equal(t, 250*time.Millisecond, cfg.RetransmitInterval())
	require.Equal(t, time.Second, cfg.MaxInterval())
	require.Equal(t, 4, cfg.Transport.MaxRetries)
	require.Equal(t, "legacy", cfg.Session.TurnPolicy)
	require.Zero(t, cfg.StatsInterval())
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, "[daemon]\npeer_prot = 5000\n")

	_, _, _, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
}

func TestLoadRejectsDirectory(t *testing.T) {
	_, _, _, err := Load(t.TempDir())
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() Config {
		cfg := Default()
		cfg.Daemon.PeerPort = 5000
		cfg.Daemon.ClientPort = 5001
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"ok", func(*Config) {}, ""},
		{"unset ports", func(c *Config) { c.Daemon.PeerPort, c.Daemon.ClientPort = 0, 0 }, ""},
		{"port range", func(c *Config) { c.Daemon.PeerPort = 70000 }, "daemon.peer_port"},
		{"same ports", func(c *Config) { c.Daemon.ClientPort = 5000 }, "must differ"},
		{"bad bind", func(c *Config) { c.Daemon.Bind = "not an address" }, "daemon.bind"},
		{"interval", func(c *Config) { c.Transport.RetransmitIntervalMS = -1 }, "retransmit_interval_ms"},
		{"retries", func(c *Config) { c.Transport.MaxRetries = -1 }, "max_retries"},
		{"backoff", func(c *Config) { c.Transport.Backoff = 0.5 }, "backoff"},
		{"policy", func(c *Config) { c.Session.TurnPolicy = "coinflip" }, "turn_policy"},
		{"level", func(c *Config) { c.Logging.Level = "loud" }, "logging.level"},
		{"stats", func(c *Config) { c.Logging.StatsIntervalSeconds = -5 }, "stats_interval_seconds"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.want == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			require.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "simpd.toml")
	require.NoError(t, CreateSample(path))

	cfg, _, exists, err := Load(path)
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, cfg.Validate())
	require.Equal(t, 5000, cfg.Daemon.PeerPort)
	require.Equal(t, 5001, cfg.Daemon.ClientPort)

	// never overwrites
	require.Error(t, CreateSample(path))
}

func TestEncodeRoundTripsThroughLoad(t *testing.T) {
	cfg := Default()
	cfg.Daemon.PeerPort = 6000
	cfg.Daemon.ClientPort = 6001

	out, err := cfg.Encode()
	require.NoError(t, err)
	require.True(t, strings.Contains(out, "peer_port = 6000"))

	loaded, _, _, err := Load(writeConfig(t, out))
	require.NoError(t, err)
	require.Equal(t, cfg, *loaded)
}
