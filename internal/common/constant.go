// Package common contains shared constants and sentinel errors used across
// counselkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// RedactedValue replaces sensitive values in audit states.
const RedactedValue = "[REDACTED]"
