package database

import (
	"time"
)

// Person is an identity enrolled in the gallery.
type Person struct {
	ID          string
	DisplayName string
	ImageRef    string // Stored source image of the first enrollment, display only
	CreatedAt   time.Time

	DescriptorCount int
	Descriptors     []StoredDescriptor // Populated by GetPerson only
}

// StoredDescriptor is one enrollment's face descriptor.
type StoredDescriptor struct {
	ID        string
	PersonID  string
	Vector    []float32
	ImageRef  string
	CreatedAt time.Time
}

// GalleryEntry is the flattened unit the matcher searches over: one
// comparison per descriptor, regardless of how many a person owns.
type GalleryEntry struct {
	PersonID     string
	DescriptorID string
	Vector       []float32
}

// NearestPerson is a ranked candidate from a nearest-neighbour lookup.
type NearestPerson struct {
	PersonID string
	Distance float64
}

// GalleryStats summarizes the gallery size
type GalleryStats struct {
	People      int
	Descriptors int
}

// Outcome is the terminal state of an identification attempt.
type Outcome string

const (
	OutcomeMatched          Outcome = "matched"
	OutcomeUnmatched        Outcome = "unmatched"
	OutcomeExtractionFailed Outcome = "extractionFailed"
	OutcomeError            Outcome = "error"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	switch o {
	case OutcomeMatched, OutcomeUnmatched, OutcomeExtractionFailed, OutcomeError:
		return true
	}
	return false
}

// AuditRecord is an immutable record of one identification attempt.
type AuditRecord struct {
	RequestID        string
	DecidedAt        time.Time
	CallerID         string
	QueryFingerprint string
	Outcome          Outcome
	Reason           string  // Extraction error kind or error category, empty on matched/unmatched
	MatchedPersonID  string  // Empty unless Outcome is matched
	Distance         float64 // Best-candidate distance, +Inf when no candidate was compared
}

// AuditFilter narrows an audit listing. Zero values do not filter.
type AuditFilter struct {
	Outcome  Outcome
	CallerID string
	PersonID string
	Since    time.Time
	Until    time.Time
	Limit    int
}

// Matches reports whether rec passes the filter (limit is not applied).
func (f AuditFilter) Matches(rec AuditRecord) bool {
	if f.Outcome != "" && rec.Outcome != f.Outcome {
		return false
	}
	if f.CallerID != "" && rec.CallerID != f.CallerID {
		return false
	}
	if f.PersonID != "" && rec.MatchedPersonID != f.PersonID {
		return false
	}
	if !f.Since.IsZero() && rec.DecidedAt.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && !rec.DecidedAt.Before(f.Until) {
		return false
	}
	return true
}
