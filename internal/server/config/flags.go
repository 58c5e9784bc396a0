package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/counselkeeper/internal/flagx"
)

// parseFlags overlays command-line flags onto config.
//
//	-a string   gRPC bind address (e.g. ":50051")
//	-m string   metrics bind address, empty disables the endpoint
//	-d string   PostgreSQL DSN
//	-s string   JWT HMAC secret key
//	-k string   record key, base64 of 32 bytes
//	-t int      access token validity, minutes
//	-l string   log level
//	-f string   log format, json or text
//	-rate float requests per second per caller
//	-burst int  rate limiter burst
//	-u/-p/-b/-g/-e  S3 user, password, bucket, region, endpoint
//
// Only these flags are looked at; other arguments are left for other
// components.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{
		"-a", "-m", "-d", "-s", "-k", "-t", "-l", "-f", "-rate", "-burst",
		"-u", "-p", "-b", "-g", "-e",
	})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.EndpointAddrGRPC, "a", config.EndpointAddrGRPC, "address and port to run server")
	fs.StringVar(&config.MetricsAddr, "m", config.MetricsAddr, "address for the metrics endpoint")
	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "JWT secret key")
	fs.StringVar(&config.RecordKey, "k", config.RecordKey, "record encryption key (base64)")

	accessTokenValidity := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access token validity (in minutes)")

	fs.StringVar(&config.LogLevel, "l", config.LogLevel, "log level")
	fs.StringVar(&config.LogFormat, "f", config.LogFormat, "log format (json|text)")
	fs.Float64Var(&config.RateLimit, "rate", config.RateLimit, "requests per second per caller")
	fs.IntVar(&config.RateBurst, "burst", config.RateBurst, "rate limiter burst")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 audit archive bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidity) * time.Minute
}
