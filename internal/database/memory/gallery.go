// Package memory provides in-process gallery and audit backends. They back
// the --memory server mode and the service tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/facematch"
)

// snapshot is an immutable view of the gallery. Writers build a new one and
// swap the pointer; readers never lock.
type snapshot struct {
	people map[string]*database.Person // Descriptors populated
}

// Gallery is an in-memory database.GalleryWriter.
type Gallery struct {
	current atomic.Pointer[snapshot]
	swapMu  sync.Mutex // Serializes pointer swaps
	locks   database.PersonLocks
}

// NewGallery creates an empty gallery.
func NewGallery() *Gallery {
	g := &Gallery{}
	g.current.Store(&snapshot{people: map[string]*database.Person{}})
	return g
}

// update applies fn to a shallow copy of the people map and publishes it.
func (g *Gallery) update(fn func(people map[string]*database.Person)) {
	g.swapMu.Lock()
	defer g.swapMu.Unlock()

	old := g.current.Load()
	people := make(map[string]*database.Person, len(old.people)+1)
	for id, p := range old.people {
		people[id] = p
	}
	fn(people)
	g.current.Store(&snapshot{people: people})
}

// AddDescriptor creates the person if absent and appends the descriptor.
// It reports whether the person was created.
func (g *Gallery) AddDescriptor(ctx context.Context, person database.Person, desc database.StoredDescriptor, limit int) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l := g.locks.For(person.ID)
	l.Lock()
	defer l.Unlock()

	existing := g.current.Load().people[person.ID]
	if existing == nil && person.DisplayName == "" {
		return false, database.ErrDisplayNameRequired
	}
	if existing != nil && limit > 0 && len(existing.Descriptors) >= limit {
		return false, database.ErrDescriptorLimit
	}

	desc.PersonID = person.ID
	desc.Vector = append([]float32(nil), desc.Vector...)

	var next database.Person
	if existing == nil {
		next = person
		next.Descriptors = []database.StoredDescriptor{desc}
	} else {
		next = *existing
		next.Descriptors = append(append([]database.StoredDescriptor(nil), existing.Descriptors...), desc)
	}
	next.DescriptorCount = len(next.Descriptors)

	g.update(func(people map[string]*database.Person) {
		people[person.ID] = &next
	})
	return existing == nil, nil
}

// RemovePerson deletes a person and all descriptors. Unknown ids are ignored.
func (g *Gallery) RemovePerson(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := g.locks.For(id)
	l.Lock()
	defer l.Unlock()

	if _, ok := g.current.Load().people[id]; !ok {
		return nil
	}
	g.update(func(people map[string]*database.Person) {
		delete(people, id)
	})
	return nil
}

// RemovePersonIfEmpty deletes the person only if it still owns no
// descriptor, and reports whether it did.
func (g *Gallery) RemovePersonIfEmpty(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l := g.locks.For(id)
	l.Lock()
	defer l.Unlock()

	p, ok := g.current.Load().people[id]
	if !ok || len(p.Descriptors) > 0 {
		return false, nil
	}
	g.update(func(people map[string]*database.Person) {
		delete(people, id)
	})
	return true, nil
}

// ListPeople returns every person ordered by creation time, then ID.
func (g *Gallery) ListPeople(ctx context.Context) ([]database.Person, error) {
	snap := g.current.Load()
	out := make([]database.Person, 0, len(snap.people))
	for _, p := range snap.people {
		c := *p
		c.Descriptors = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// GetPerson returns a copy of the person, nil if not found.
func (g *Gallery) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	p, ok := g.current.Load().people[id]
	if !ok {
		return nil, nil
	}
	c := *p
	c.Descriptors = append([]database.StoredDescriptor(nil), p.Descriptors...)
	return &c, nil
}

// SnapshotEntries flattens one published snapshot into gallery entries.
func (g *Gallery) SnapshotEntries(ctx context.Context) ([]database.GalleryEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := g.current.Load()
	var entries []database.GalleryEntry
	for _, p := range snap.people {
		for _, d := range p.Descriptors {
			entries = append(entries, database.GalleryEntry{
				PersonID:     p.ID,
				DescriptorID: d.ID,
				Vector:       d.Vector,
			})
		}
	}
	return entries, nil
}

// FindEmptyPeople returns ids of people without descriptors.
func (g *Gallery) FindEmptyPeople(ctx context.Context) ([]string, error) {
	var ids []string
	for id, p := range g.current.Load().people {
		if len(p.Descriptors) == 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Stats returns the gallery size
func (g *Gallery) Stats(ctx context.Context) (database.GalleryStats, error) {
	var stats database.GalleryStats
	for _, p := range g.current.Load().people {
		stats.People++
		stats.Descriptors += len(p.Descriptors)
	}
	return stats, nil
}

// NearestPeople ranks people exhaustively.
func (g *Gallery) NearestPeople(ctx context.Context, query []float32, k int, maxDistance float64) ([]database.NearestPerson, error) {
	entries, err := g.SnapshotEntries(ctx)
	if err != nil {
		return nil, err
	}
	ranked := facematch.TopK(query, entries, k)
	out := ranked[:0]
	for _, p := range ranked {
		if p.Distance <= maxDistance {
			out = append(out, p)
		}
	}
	return out, nil
}

// Register makes this gallery the registered gallery backend.
func (g *Gallery) Register() {
	database.RegisterGalleryBackend(func() database.GalleryWriter { return g })
}
