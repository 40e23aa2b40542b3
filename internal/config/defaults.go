package config

import "strings"

const (
	defaultBind                 = "127.0.0.1"
	defaultRetransmitIntervalMS = 5000
	defaultBackoff              = 1.0
	defaultTurnPolicy           = "handshake"
	defaultLogLevel             = "info"
	defaultStatsIntervalSeconds = 60
)

// Default returns a Config populated with repository defaults. Ports have no
// default; they come from the file, flags, or an interactive prompt.
func Default() Config {
	return Config{
		Daemon: Daemon{
			Bind: defaultBind,
		},
		Transport: Transport{
			RetransmitIntervalMS: defaultRetransmitIntervalMS,
			Backoff:              defaultBackoff,
		},
		Session: Session{
			TurnPolicy: defaultTurnPolicy,
		},
		Logging: Logging{
			Level:                defaultLogLevel,
			StatsIntervalSeconds: defaultStatsIntervalSeconds,
		},
	}
}

// normalize trims string fields and fills zero values that have defaults.
func (c *Config) normalize() {
	c.Daemon.Bind = trimOr(c.Daemon.Bind, defaultBind)
	c.Session.TurnPolicy = trimOr(c.Session.TurnPolicy, defaultTurnPolicy)
	c.Logging.Level = trimOr(c.Logging.Level, defaultLogLevel)
	if c.Transport.RetransmitIntervalMS == 0 {
		c.Transport.RetransmitIntervalMS = defaultRetransmitIntervalMS
	}
	if c.Transport.Backoff == 0 {
		c.Transport.Backoff = defaultBackoff
	}
}

func trimOr(s, fallback string) string {
	if s = strings.TrimSpace(s); s == "" {
		return fallback
	}
	return s
}
