package config

import (
	"os"

	"github.com/joho/godotenv"
)

// Environment variables
const (
	EnvConfigPath = "FLASHJIT_CONFIG"
	EnvAuthority  = "FLASHJIT_AUTHORITY"
	EnvDebug      = "FLASHJIT_DEBUG"
)

// LoadEnv loads environment variables from a .env file if present.
func LoadEnv() error {
	return godotenv.Load()
}

// GetEnvWithDefault gets an environment variable with a default value.
func GetEnvWithDefault(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// ApplyEnv overrides file settings with environment values.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvAuthority); v != "" {
		c.Authority = v
	}
}
