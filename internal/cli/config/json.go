package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/picocash/picocash/internal/flagx"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling. Timeout
// values are integer seconds.
type JsonConfig struct {
	DataDir               string `json:"data_dir"`
	ServerScheme          string `json:"server_scheme"`
	ServerHostname        string `json:"server_hostname"`
	ServerPort            int    `json:"server_port"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds"`
}

// parseJson overlays cfg with values loaded from the JSON file named by
// the -c or -config flags. With no such flag the function is a no-op.
// Only fields present in the JSON override defaults. Panics on read or
// unmarshal errors.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.DataDir != "" {
		cfg.DataDir = jc.DataDir
	}
	if jc.ServerScheme != "" {
		cfg.ServerScheme = jc.ServerScheme
	}
	if jc.ServerHostname != "" {
		cfg.ServerHostname = jc.ServerHostname
	}
	if jc.ServerPort != 0 {
		cfg.ServerPort = jc.ServerPort
	}
	if jc.RequestTimeoutSeconds != 0 {
		cfg.RequestTimeout = time.Duration(jc.RequestTimeoutSeconds) * time.Second
	}
}
