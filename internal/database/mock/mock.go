// Package mock provides mock implementations of database interfaces for testing.
package mock

import (
	"context"
	"sync"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/database/memory"
)

// MockGallery is a database.GalleryWriter backed by the in-memory gallery,
// with error injection per method.
type MockGallery struct {
	*memory.Gallery

	mu sync.Mutex

	// Error injection
	AddDescriptorError   error
	RemovePersonError    error
	RemoveIfEmptyError   error
	ListPeopleError      error
	GetPersonError       error
	SnapshotError        error
	SnapshotFailures     int // Fail this many SnapshotEntries calls with SnapshotError, then succeed
	FindEmptyPeopleError error
	StatsError           error
	NearestPeopleError   error

	// Extra entries appended to every snapshot, for integrity tests
	ExtraEntries []database.GalleryEntry
	// Stored people without descriptors, reported by FindEmptyPeople in
	// addition to real ones and removable by RemovePersonIfEmpty. An id that
	// also owns descriptors in the gallery models a person that received one
	// after it was listed.
	EmptyPeople []string

	SnapshotCalls int
}

// NewMockGallery creates an empty mock gallery
func NewMockGallery() *MockGallery {
	return &MockGallery{Gallery: memory.NewGallery()}
}

// AddDescriptor adds a descriptor unless an error is injected
func (m *MockGallery) AddDescriptor(ctx context.Context, person database.Person, desc database.StoredDescriptor, limit int) (bool, error) {
	if m.AddDescriptorError != nil {
		return false, m.AddDescriptorError
	}
	return m.Gallery.AddDescriptor(ctx, person, desc, limit)
}

// RemovePerson removes a person unless an error is injected
func (m *MockGallery) RemovePerson(ctx context.Context, id string) error {
	if m.RemovePersonError != nil {
		return m.RemovePersonError
	}
	return m.Gallery.RemovePerson(ctx, id)
}

// RemovePersonIfEmpty removes an empty person unless an error is injected
func (m *MockGallery) RemovePersonIfEmpty(ctx context.Context, id string) (bool, error) {
	if m.RemoveIfEmptyError != nil {
		return false, m.RemoveIfEmptyError
	}
	p, err := m.Gallery.GetPerson(ctx, id)
	if err != nil {
		return false, err
	}
	if p != nil {
		return m.Gallery.RemovePersonIfEmpty(ctx, id)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	for i, empty := range m.EmptyPeople {
		if empty == id {
			m.EmptyPeople = append(m.EmptyPeople[:i:i], m.EmptyPeople[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// ListPeople lists people unless an error is injected
func (m *MockGallery) ListPeople(ctx context.Context) ([]database.Person, error) {
	if m.ListPeopleError != nil {
		return nil, m.ListPeopleError
	}
	return m.Gallery.ListPeople(ctx)
}

// GetPerson returns a person unless an error is injected
func (m *MockGallery) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	if m.GetPersonError != nil {
		return nil, m.GetPersonError
	}
	return m.Gallery.GetPerson(ctx, id)
}

// SnapshotEntries returns the snapshot plus ExtraEntries
func (m *MockGallery) SnapshotEntries(ctx context.Context) ([]database.GalleryEntry, error) {
	m.mu.Lock()
	m.SnapshotCalls++
	fail := m.SnapshotError != nil && (m.SnapshotFailures <= 0 || m.SnapshotCalls <= m.SnapshotFailures)
	m.mu.Unlock()

	if fail {
		return nil, m.SnapshotError
	}
	entries, err := m.Gallery.SnapshotEntries(ctx)
	if err != nil {
		return nil, err
	}
	return append(entries, m.ExtraEntries...), nil
}

// FindEmptyPeople unless an error is injected
func (m *MockGallery) FindEmptyPeople(ctx context.Context) ([]string, error) {
	if m.FindEmptyPeopleError != nil {
		return nil, m.FindEmptyPeopleError
	}
	ids, err := m.Gallery.FindEmptyPeople(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return append(ids, m.EmptyPeople...), nil
}

// Stats unless an error is injected
func (m *MockGallery) Stats(ctx context.Context) (database.GalleryStats, error) {
	if m.StatsError != nil {
		return database.GalleryStats{}, m.StatsError
	}
	return m.Gallery.Stats(ctx)
}

// NearestPeople unless an error is injected
func (m *MockGallery) NearestPeople(ctx context.Context, query []float32, k int, maxDistance float64) ([]database.NearestPerson, error) {
	if m.NearestPeopleError != nil {
		return nil, m.NearestPeopleError
	}
	return m.Gallery.NearestPeople(ctx, query, k, maxDistance)
}

// MockAuditLog is a database.AuditLog backed by the in-memory log
type MockAuditLog struct {
	*memory.AuditLog

	AppendError error
	ListError   error
}

// NewMockAuditLog creates an empty mock audit log
func NewMockAuditLog() *MockAuditLog {
	return &MockAuditLog{AuditLog: memory.NewAuditLog()}
}

// Append stores the record unless an error is injected
func (m *MockAuditLog) Append(ctx context.Context, rec database.AuditRecord) error {
	if m.AppendError != nil {
		return m.AppendError
	}
	return m.AuditLog.Append(ctx, rec)
}

// List lists records unless an error is injected
func (m *MockAuditLog) List(ctx context.Context, filter database.AuditFilter) ([]database.AuditRecord, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}
	return m.AuditLog.List(ctx, filter)
}
