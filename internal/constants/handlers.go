// Package constants provides shared constants used across the codebase.
package constants

// File upload constants
const (
	// MaxUploadSize is the maximum multipart body accepted for enroll and identify (20MB)
	MaxUploadSize = 20 << 20

	// MaxDisplayNameLength bounds person labels
	MaxDisplayNameLength = 200
)

// Response header constants
const (
	// RetryAfterSeconds is advertised on 503 responses for transient failures
	RetryAfterSeconds = 5
)
