package config

import "os"

// parseEnv overlays secrets from the environment.
func parseEnv(config *Config) {
	if v, ok := os.LookupEnv(EnvRecordKey); ok && v != "" {
		config.RecordKey = v
	}
	if v, ok := os.LookupEnv(EnvJWTSecret); ok && v != "" {
		config.SecretKey = v
	}
	if v, ok := os.LookupEnv(EnvDatabaseDSN); ok && v != "" {
		config.DatabaseDSN = v
	}
}
