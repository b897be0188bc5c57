package config

import "time"

// Config holds runtime settings for the chatline engine.
//
// Units: PendingGrace is a time.Duration (e.g., 10*time.Second); it bounds
// how long an echo suppression marker survives without resolution.
type Config struct {
	ServerAddr      string
	NatsURL         string
	PlaintextDBPath string
	PageSize        int
	PendingGrace    time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerAddr = "http://127.0.0.1:8080"
	c.NatsURL = "nats://127.0.0.1:4222"
	c.PlaintextDBPath = "chatline.db"
	c.PageSize = 50
	c.PendingGrace = 10 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
