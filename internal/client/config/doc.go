// Package config loads runtime configuration for the chatline engine.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   base URL of the chat backend
//	-n string   NATS server URL for the push channel
//	-d string   path to the local plaintext cache database
//	-p int      page size for history fetches
//	-g int      echo suppression grace window (seconds)
//
// # JSON schema
//
// Durations in JSON can be either strings like "10s" or integer
// nanoseconds:
//
//	{
//	  "server_addr": "http://127.0.0.1:8080",
//	  "nats_url": "nats://127.0.0.1:4222",
//	  "plaintext_db_path": "chatline.db",
//	  "page_size": 50,
//	  "pending_grace": "10s"
//	}
//
// Note: This package does not read environment variables; use the
// JSON file or flags to configure values.
package config
