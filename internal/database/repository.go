package database

import (
	"context"
	"errors"
)

// ErrDescriptorLimit is returned by AddDescriptor when the person already owns
// the maximum number of descriptors.
var ErrDescriptorLimit = errors.New("descriptor limit reached for person")

// ErrDisplayNameRequired is returned by AddDescriptor when it has to create a
// person but no display name was given.
var ErrDisplayNameRequired = errors.New("display name is required to create a person")

// GalleryReader provides read-only access to the enrolled gallery
type GalleryReader interface {
	// ListPeople returns every person ordered by creation time, descriptor
	// vectors omitted and DescriptorCount set.
	ListPeople(ctx context.Context) ([]Person, error)
	// GetPerson returns a person with its descriptors, nil if not found
	GetPerson(ctx context.Context, id string) (*Person, error)
	// SnapshotEntries returns a point-in-time view of every gallery entry.
	// Entries of one person are never split across two snapshots.
	SnapshotEntries(ctx context.Context) ([]GalleryEntry, error)
	// FindEmptyPeople returns ids of people with zero descriptors
	FindEmptyPeople(ctx context.Context) ([]string, error)
	// Stats returns the gallery size
	Stats(ctx context.Context) (GalleryStats, error)
	// NearestPeople returns up to k people whose closest descriptor is within
	// maxDistance of the query, nearest first. It is advisory only and may use
	// an approximate index.
	NearestPeople(ctx context.Context, query []float32, k int, maxDistance float64) ([]NearestPerson, error)
}

// GalleryWriter provides write access to the gallery
type GalleryWriter interface {
	GalleryReader

	// AddDescriptor creates the person if absent and appends the descriptor.
	// The whole operation is atomic and serialized per person, so two
	// concurrent enrollments of the same person never lose an update.
	// Returns ErrDescriptorLimit once the person has limit descriptors.
	// The boolean reports whether the person was created by this call.
	AddDescriptor(ctx context.Context, person Person, desc StoredDescriptor, limit int) (bool, error)

	// RemovePerson deletes a person and all its descriptors atomically.
	// Removing an unknown id is not an error.
	RemovePerson(ctx context.Context, id string) error

	// RemovePersonIfEmpty deletes the person only if it owns no descriptor
	// at the moment of deletion, and reports whether it did. A descriptor
	// appended after FindEmptyPeople listed the person keeps it alive.
	RemovePersonIfEmpty(ctx context.Context, id string) (bool, error)
}

// AuditWriter appends identification records
type AuditWriter interface {
	// Append stores one record; records are never updated or deleted
	Append(ctx context.Context, rec AuditRecord) error
}

// AuditReader lists identification records for the operator view
type AuditReader interface {
	// List returns records passing the filter, newest first
	List(ctx context.Context, filter AuditFilter) ([]AuditRecord, error)
}

// AuditLog is the full append-only audit trail
type AuditLog interface {
	AuditWriter
	AuditReader
}
