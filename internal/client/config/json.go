package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/chatline/internal/flagx"
)

// duration accepts either a string like "10s" or integer nanoseconds in
// JSON, so config files stay readable.
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		d.Duration = time.Duration(value)
		return nil
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return err
		}
		d.Duration = parsed
		return nil
	default:
		return fmt.Errorf("invalid duration value %q", string(data))
	}
}

// jsonConfig is a DTO used exclusively for JSON unmarshalling. Values are
// copied into the runtime Config after parsing.
type jsonConfig struct {
	ServerAddr      string   `json:"server_addr"`
	NatsURL         string   `json:"nats_url"`
	PlaintextDBPath string   `json:"plaintext_db_path"`
	PageSize        int      `json:"page_size"`
	PendingGrace    duration `json:"pending_grace"`
}

// parseJson overlays Config with values loaded from a JSON file. The file
// path comes from the -c or -config flags; if neither is set, nothing is
// loaded. Panics on read or unmarshal errors (caller should recover if
// desired). Only fields present in the file override the current values.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc jsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerAddr != "" {
		cfg.ServerAddr = jc.ServerAddr
	}
	if jc.NatsURL != "" {
		cfg.NatsURL = jc.NatsURL
	}
	if jc.PlaintextDBPath != "" {
		cfg.PlaintextDBPath = jc.PlaintextDBPath
	}
	if jc.PageSize > 0 {
		cfg.PageSize = jc.PageSize
	}
	if jc.PendingGrace.Duration > 0 {
		cfg.PendingGrace = jc.PendingGrace.Duration
	}
}
