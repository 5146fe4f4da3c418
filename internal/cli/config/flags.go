package config

import (
	"flag"
	"os"
	"time"

	"github.com/picocash/picocash/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags:
//
//	-d string   data directory for the local datastore
//	-s string   server hostname
//	-p int      server port
//	-t int      request timeout in seconds
//
// os.Args is filtered to only the flags handled here so other
// components' flags do not interfere.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-s", "-p", "-t"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "d", cfg.DataDir, "data directory")
	fs.StringVar(&cfg.ServerHostname, "s", cfg.ServerHostname, "server hostname")
	fs.IntVar(&cfg.ServerPort, "p", cfg.ServerPort, "server port")
	timeoutSeconds := fs.Int("t", int(cfg.RequestTimeout.Seconds()), "request timeout (in seconds)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	cfg.RequestTimeout = time.Duration(*timeoutSeconds) * time.Second
}
