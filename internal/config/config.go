// Package config loads the daemon configuration from a TOML file and applies
// defaults and validation.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Daemon contains the bind address and the two listening ports.
type Daemon struct {
	Bind       string `toml:"bind"`
	PeerPort   int    `toml:"peer_port"`   // daemon-to-daemon datagrams
	ClientPort int    `toml:"client_port"` // local client control plane (UDP)
	WSPort     int    `toml:"ws_port"`     // optional WebSocket control plane; 0 disables
}

// Transport contains the stop-and-wait retransmission policy.
type Transport struct {
	RetransmitIntervalMS int     `toml:"retransmit_interval_ms"`
	MaxRetries           int     `toml:"max_retries"` // 0 = retry forever
	Backoff              float64 `toml:"backoff"`
	MaxIntervalMS        int     `toml:"max_interval_ms"`
}

// Session contains chat session settings.
type Session struct {
	TurnPolicy string `toml:"turn_policy"`
}

// Logging contains configuration for log output.
type Logging struct {
	Level                string `toml:"level"`
	StatsIntervalSeconds int    `toml:"stats_interval_seconds"` // 0 disables the reporter
}

// Config encapsulates all configuration values for simpd.
type Config struct {
	Daemon    Daemon    `toml:"daemon"`
	Transport Transport `toml:"transport"`
	Session   Session   `toml:"session"`
	Logging   Logging   `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return ExpandPath("~/.config/simp/simpd.toml")
}

// Load locates and parses a configuration file. A missing file is not an
// error; defaults are used instead. It returns the resolved path and whether
// the file existed. Validation is left to Validate so that callers can apply
// flag overrides first.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.normalize()
	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			return "", false, err
		}
		path = defaultPath
	}

	expanded, err := ExpandPath(path)
	if err != nil {
		return "", false, err
	}
	info, err := os.Stat(expanded)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return expanded, false, nil
		}
		return "", false, fmt.Errorf("stat config: %w", err)
	}
	if info.IsDir() {
		return "", false, fmt.Errorf("config path %s is a directory", expanded)
	}
	return expanded, true, nil
}

// CreateSample writes the embedded sample configuration to path. An existing
// file is never overwritten.
func CreateSample(path string) error {
	expanded, err := ExpandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	file, err := os.OpenFile(expanded, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create config: %w", err)
	}
	defer file.Close()
	if _, err := file.WriteString(sampleConfig); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() (string, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode config: %w", err)
	}
	return string(data), nil
}

// PeerAddr returns the host:port the peer socket binds to.
func (c *Config) PeerAddr() string {
	return net.JoinHostPort(c.Daemon.Bind, strconv.Itoa(c.Daemon.PeerPort))
}

// ClientAddr returns the host:port the client control socket binds to.
func (c *Config) ClientAddr() string {
	return net.JoinHostPort(c.Daemon.Bind, strconv.Itoa(c.Daemon.ClientPort))
}

// WSAddr returns the host:port of the WebSocket control listener, or "" when disabled.
func (c *Config) WSAddr() string {
	if c.Daemon.WSPort == 0 {
		return ""
	}
	return net.JoinHostPort(c.Daemon.Bind, strconv.Itoa(c.Daemon.WSPort))
}

// RetransmitInterval returns the configured retransmission wait.
func (c *Config) RetransmitInterval() time.Duration {
	return time.Duration(c.Transport.RetransmitIntervalMS) * time.Millisecond
}

// MaxInterval returns the configured backoff ceiling.
func (c *Config) MaxInterval() time.Duration {
	return time.Duration(c.Transport.MaxIntervalMS) * time.Millisecond
}

// StatsInterval returns the stats reporter period.
func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.Logging.StatsIntervalSeconds) * time.Second
}

// ExpandPath resolves a leading ~ and returns an absolute path.
func ExpandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
