package config

import (
	"os"
	"strconv"
)

// parseEnv overlays configuration values from environment variables.
//
// Supported variables:
//
//	DATABASE_URL             PostgreSQL DSN
//	METADATA_ENCRYPTION_KEY  metadata field-encryption key material
//	PORT                     listen port (bind address becomes ":<port>")
//	CLIENT_URL               allowed browser origin
//	TURN_SERVER              relay host, e.g. "turn.example.com"
//	TURN_SECRET              relay shared secret
//	TURNS_ENABLED            "true"/"1" to advertise a TLS relay entry
//	APP_ENV                  "development" or "production"
//
// Unset variables leave the current value untouched.
func parseEnv(config *Config) {
	if v, ok := os.LookupEnv("DATABASE_URL"); ok {
		config.DatabaseDSN = v
	}
	if v, ok := os.LookupEnv("METADATA_ENCRYPTION_KEY"); ok {
		config.MetadataEncryptionKey = v
	}
	if v, ok := os.LookupEnv("PORT"); ok {
		config.Addr = ":" + v
	}
	if v, ok := os.LookupEnv("CLIENT_URL"); ok {
		config.ClientURL = v
	}
	if v, ok := os.LookupEnv("TURN_SERVER"); ok {
		config.TurnServer = v
	}
	if v, ok := os.LookupEnv("TURN_SECRET"); ok {
		config.TurnSecret = v
	}
	if v, ok := os.LookupEnv("TURNS_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			config.TurnsEnabled = b
		}
	}
	if v, ok := os.LookupEnv("APP_ENV"); ok {
		config.Environment = v
	}
}
