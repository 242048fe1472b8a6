package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/dropwire/internal/flagx"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It is an intermediate DTO used only for reading JSON
// configuration files; after unmarshalling, its fields are copied into
// the runtime Config.
type JsonConfig struct {
	Addr                  *string `json:"addr"`
	DatabaseDSN           *string `json:"database_dsn"`
	MetadataEncryptionKey *string `json:"metadata_encryption_key"`
	ClientURL             *string `json:"client_url"`
	TurnServer            *string `json:"turn_server"`
	TurnSecret            *string `json:"turn_secret"`
	TurnsEnabled          *bool   `json:"turns_enabled"`
	Environment           *string `json:"environment"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c/-config command-line
// flags; when neither is set, no JSON file is loaded. Absent JSON keys
// leave the current value untouched. An unreadable or invalid file panics:
// a half-applied config file must not start a server.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	if c.Addr != nil {
		config.Addr = *c.Addr
	}
	if c.DatabaseDSN != nil {
		config.DatabaseDSN = *c.DatabaseDSN
	}
	if c.MetadataEncryptionKey != nil {
		config.MetadataEncryptionKey = *c.MetadataEncryptionKey
	}
	if c.ClientURL != nil {
		config.ClientURL = *c.ClientURL
	}
	if c.TurnServer != nil {
		config.TurnServer = *c.TurnServer
	}
	if c.TurnSecret != nil {
		config.TurnSecret = *c.TurnSecret
	}
	if c.TurnsEnabled != nil {
		config.TurnsEnabled = *c.TurnsEnabled
	}
	if c.Environment != nil {
		config.Environment = *c.Environment
	}
}
