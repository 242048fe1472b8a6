// Package config handles configuration for the server component,
// including defaults, JSON overlay, environment variables, and
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"strconv"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config holds runtime settings for the dropwire signaling server.
//
// Fields:
//   - Addr: bind address for the HTTP/WebSocket endpoint.
//   - DatabaseDSN: PostgreSQL DSN (pgx).
//   - MetadataEncryptionKey: key material for metadata field encryption.
//     Either 64 hex characters (raw 32-byte key) or a passphrase to derive
//     a key from. Required in production.
//   - ClientURL: browser origin allowed by CORS.
//   - TurnServer / TurnSecret: external relay host and its shared secret.
//   - TurnsEnabled: additionally advertise a TLS relay entry.
//   - Environment: "development" or "production".
type Config struct {
	Addr                  string
	DatabaseDSN           string
	MetadataEncryptionKey string
	ClientURL             string
	TurnServer            string
	TurnSecret            string
	TurnsEnabled          bool
	Environment           string
}

// LoadDefaults populates Config with development defaults.
// NOTE: These values are insecure for production and should be overridden.
func (c *Config) LoadDefaults() {
	c.Addr = ":4000"
	c.DatabaseDSN = ""
	c.MetadataEncryptionKey = ""
	c.ClientURL = "http://localhost:3000"
	c.TurnServer = ""
	c.TurnSecret = ""
	c.TurnsEnabled = false
	c.Environment = EnvDevelopment
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file, environment variables, and finally
// command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseEnv(cfg)
	parseFlags(cfg)
	return cfg
}

// Validate checks that the configuration is usable. The server must not
// start on a partial configuration: a missing DSN or, in production, a
// missing encryption key is fatal.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseDSN == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.Environment != EnvDevelopment && c.Environment != EnvProduction {
		errs = append(errs, fmt.Errorf("unknown environment %q", c.Environment))
	}
	if c.Environment == EnvProduction && c.MetadataEncryptionKey == "" {
		errs = append(errs, errors.New("METADATA_ENCRYPTION_KEY is required in production"))
	}
	if c.TurnServer != "" && c.TurnSecret == "" {
		errs = append(errs, errors.New("TURN_SECRET is required when TURN_SERVER is set"))
	}
	if _, _, err := splitAddr(c.Addr); err != nil {
		errs = append(errs, fmt.Errorf("invalid bind address %q: %w", c.Addr, err))
	}

	return errors.Join(errs...)
}

func splitAddr(addr string) (host string, port int, err error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			p, err := strconv.Atoi(addr[i+1:])
			if err != nil || p < 1 || p > 65535 {
				return "", 0, errors.New("bad port")
			}
			return addr[:i], p, nil
		}
	}
	return "", 0, errors.New("missing port")
}
