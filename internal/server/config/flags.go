package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/dropwire/internal/flagx"
)

// parseFlags populates selected server Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-a string   bind address (e.g., ":4000")
//	-d string   PostgreSQL DSN
//	-k string   metadata encryption key
//	-o string   allowed client origin
//	-t string   TURN server host
//	-s string   TURN shared secret
//	-l          enable TLS TURN entry
//	-e string   environment name
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-a", "-d", "-k", "-o", "-t", "-s", "-l", "-e"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.Addr, "a", config.Addr, "address and port to run server")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.MetadataEncryptionKey, "k", config.MetadataEncryptionKey, "metadata encryption key")
	fs.StringVar(&config.ClientURL, "o", config.ClientURL, "allowed client origin")
	fs.StringVar(&config.TurnServer, "t", config.TurnServer, "TURN server host")
	fs.StringVar(&config.TurnSecret, "s", config.TurnSecret, "TURN shared secret")
	fs.BoolVar(&config.TurnsEnabled, "l", config.TurnsEnabled, "advertise TLS TURN entry")
	fs.StringVar(&config.Environment, "e", config.Environment, "environment (development/production)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
