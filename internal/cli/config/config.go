// Package config loads the CLI's runtime settings. Sources are layered:
// built-in defaults, then an optional JSON file, then command-line
// flags, with later sources overriding earlier ones.
package config

import "time"

// Config holds runtime settings for the picocash CLI.
type Config struct {
	// DataDir is the directory holding the local datastore.
	DataDir string
	// ServerScheme, ServerHostname and ServerPort locate the ledger
	// server.
	ServerScheme   string
	ServerHostname string
	ServerPort     int
	// RequestTimeout bounds each server call.
	RequestTimeout time.Duration
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.DataDir = "."
	c.ServerScheme = "https"
	c.ServerHostname = "api.pico.cash"
	c.ServerPort = 443
	c.RequestTimeout = 30 * time.Second
}

// LoadConfig constructs a Config, applies defaults, then overlays values
// from JSON (if present) and command-line flags (if present).
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
