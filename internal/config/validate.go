package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/1ureka/simp/internal/session"
	"github.com/1ureka/simp/internal/util"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateDaemon(); err != nil {
		return err
	}
	if err := c.validateTransport(); err != nil {
		return err
	}
	if _, err := session.ParseTurnPolicy(c.Session.TurnPolicy); err != nil {
		return fmt.Errorf("session.turn_policy: %w", err)
	}
	if _, err := util.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	if c.Logging.StatsIntervalSeconds < 0 {
		return errors.New("logging.stats_interval_seconds must be >= 0")
	}
	return nil
}

func (c *Config) validateDaemon() error {
	if net.ParseIP(c.Daemon.Bind) == nil && !isHostname(c.Daemon.Bind) {
		return fmt.Errorf("daemon.bind %q is not an IP address or host name", c.Daemon.Bind)
	}
	if err := validPort("daemon.peer_port", c.Daemon.PeerPort); err != nil {
		return err
	}
	if err := validPort("daemon.client_port", c.Daemon.ClientPort); err != nil {
		return err
	}
	if err := validPort("daemon.ws_port", c.Daemon.WSPort); err != nil {
		return err
	}
	if c.Daemon.PeerPort != 0 && c.Daemon.PeerPort == c.Daemon.ClientPort {
		return errors.New("daemon.peer_port and daemon.client_port must differ")
	}
	return nil
}

func (c *Config) validateTransport() error {
	if c.Transport.RetransmitIntervalMS <= 0 {
		return errors.New("transport.retransmit_interval_ms must be positive")
	}
	if c.Transport.MaxRetries < 0 {
		return errors.New("transport.max_retries must be >= 0 (0 retries forever)")
	}
	if c.Transport.Backoff < 1 {
		return errors.New("transport.backoff must be >= 1")
	}
	if c.Transport.MaxIntervalMS < 0 {
		return errors.New("transport.max_interval_ms must be >= 0")
	}
	return nil
}

// validPort accepts 0~65535. Zero means unset: simpd prompts for a missing
// peer or client port before validating, a daemon built directly from an
// unset port binds an ephemeral one, and ws_port 0 disables the listener.
func validPort(field string, port int) error {
	if port < 0 || port > 65535 {
		return fmt.Errorf("%s must be 0~65535, got %d", field, port)
	}
	return nil
}

func isHostname(s string) bool {
	return s != "" && !strings.ContainsAny(s, " /:")
}
