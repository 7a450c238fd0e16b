// Package constants provides shared constants used across the codebase.
// Centralizing these values ensures consistency and makes them easier to modify.
package constants

// Pagination constants
const (
	// DefaultAuditLimit is the default number of audit records returned per query
	DefaultAuditLimit = 100

	// MaxAuditLimit caps a single audit query
	MaxAuditLimit = 1000
)

// Identification constants
const (
	// DefaultMaxResults is the default number of ranked alternatives returned by identify
	DefaultMaxResults = 5

	// MaxResultsLimit caps the number of ranked alternatives
	MaxResultsLimit = 50

	// SnapshotRetryBackoffMs is the pause before the single retry of a failed gallery snapshot read (ms)
	SnapshotRetryBackoffMs = 200
)

// Processing constants
const (
	// EnrollWorkerPoolSize is the number of parallel workers for directory enrollment
	EnrollWorkerPoolSize = 4
)
