package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/counselkeeper/internal/flagx"
	"github.com/dmitrijs2005/counselkeeper/internal/timex"
)

// JsonConfig is the on-disk shape of the config file. Durations accept
// "15m" as well as integer nanoseconds.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	MetricsAddr                 string         `json:"metrics_addr"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	RecordKey                   string         `json:"record_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	ShutdownTimeout             timex.Duration `json:"shutdown_timeout"`
	MinContentLength            int            `json:"min_content_length"`
	MaxContentLength            int            `json:"max_content_length"`
	LogFormat                   string         `json:"log_format"`
	LogLevel                    string         `json:"log_level"`
	RateLimit                   float64        `json:"rate_limit"`
	RateBurst                   int            `json:"rate_burst"`
	S3RootUser                  string         `json:"s3_root_user"`
	S3RootPassword              string         `json:"s3_root_password"`
	S3Bucket                    string         `json:"s3_bucket"`
	S3Region                    string         `json:"s3_region"`
	S3BaseEndpoint              string         `json:"s3_base_endpoint"`
}

func overlay[T comparable](dst *T, v T) {
	var zero T
	if v != zero {
		*dst = v
	}
}

// parseJson overlays values from the file named by -c/-config (or
// COUNSELKEEPER_CONFIG). Keys missing from the file keep their current
// value. An unreadable or malformed file panics.
func parseJson(config *Config) {
	path := flagx.ConfigPath(EnvConfigFile)
	if path == "" {
		return
	}

	file, err := os.ReadFile(path)
	if err != nil {
		panic(err)
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	overlay(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	overlay(&config.MetricsAddr, c.MetricsAddr)
	overlay(&config.DatabaseDSN, c.DatabaseDSN)
	overlay(&config.SecretKey, c.SecretKey)
	overlay(&config.RecordKey, c.RecordKey)
	overlay(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration.Duration)
	overlay(&config.ShutdownTimeout, c.ShutdownTimeout.Duration)
	overlay(&config.MinContentLength, c.MinContentLength)
	overlay(&config.MaxContentLength, c.MaxContentLength)
	overlay(&config.LogFormat, c.LogFormat)
	overlay(&config.LogLevel, c.LogLevel)
	overlay(&config.RateLimit, c.RateLimit)
	overlay(&config.RateBurst, c.RateBurst)
	overlay(&config.S3RootUser, c.S3RootUser)
	overlay(&config.S3RootPassword, c.S3RootPassword)
	overlay(&config.S3Bucket, c.S3Bucket)
	overlay(&config.S3Region, c.S3Region)
	overlay(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}
