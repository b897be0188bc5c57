package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/chatline/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   base URL of the chat backend (default from Config)
//	-n string   NATS server URL (default from Config)
//	-d string   path to the local plaintext cache database
//	-p int      page size for history fetches
//	-g int      echo suppression grace window in seconds
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-n", "-d", "-p", "-g"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.ServerAddr, "a", cfg.ServerAddr, "base URL of the chat backend")
	fs.StringVar(&cfg.NatsURL, "n", cfg.NatsURL, "NATS server URL for the push channel")
	fs.StringVar(&cfg.PlaintextDBPath, "d", cfg.PlaintextDBPath, "path to the local plaintext cache database")
	fs.IntVar(&cfg.PageSize, "p", cfg.PageSize, "page size for history fetches")
	grace := fs.Int("g", int(cfg.PendingGrace.Seconds()), "echo suppression grace window (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.PendingGrace = time.Duration(*grace) * time.Second
}
