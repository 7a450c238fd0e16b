package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/pgvector/pgvector-go"

	"github.com/kozaktomas/face-gallery/internal/database"
)

// GalleryRepository provides PostgreSQL-backed gallery storage with an
// optional in-memory HNSW candidate index.
type GalleryRepository struct {
	pool          *Pool
	locks         database.PersonLocks // Orders index updates with the commits they follow
	hnswIndex     *database.HNSWIndex
	hnswEnabled   bool
	hnswDim       int
	hnswIndexPath string // Path to persist HNSW index (optional)
	hnswMu        sync.RWMutex

	journalMu sync.Mutex
	journal   []indexOp // Non-nil while RebuildHNSW runs
}

// indexOp is an index update made while a rebuild was reading the table.
// It is replayed onto the rebuilt index before that index is published.
type indexOp struct {
	add          *database.GalleryEntry
	deletePerson string
}

// record journals op if a rebuild is running. Callers hold hnswMu.RLock.
func (r *GalleryRepository) record(op indexOp) {
	r.journalMu.Lock()
	if r.journal != nil {
		r.journal = append(r.journal, op)
	}
	r.journalMu.Unlock()
}

// NewGalleryRepository creates a new PostgreSQL gallery repository
func NewGalleryRepository(pool *Pool) *GalleryRepository {
	return &GalleryRepository{pool: pool}
}

// AddDescriptor creates the person if absent and appends the descriptor in one
// transaction. The person row is locked FOR UPDATE, which serializes concurrent
// enrollments and deletes of the same person across processes. Within this
// process the person lock is held until the index is updated, so a delete of
// the same person can never slip between the commit and the index insert.
func (r *GalleryRepository) AddDescriptor(ctx context.Context, person database.Person, desc database.StoredDescriptor, limit int) (bool, error) {
	l := r.locks.For(person.ID)
	l.Lock()
	defer l.Unlock()

	tx, err := r.pool.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	created := false
	if person.DisplayName != "" {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO people (id, display_name, image_ref, created_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO NOTHING
		`, person.ID, person.DisplayName, person.ImageRef, person.CreatedAt)
		if err != nil {
			return false, fmt.Errorf("insert person: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return false, fmt.Errorf("insert person: %w", err)
		}
		created = n == 1
	}

	var locked string
	err = tx.QueryRowContext(ctx, "SELECT id FROM people WHERE id = $1 FOR UPDATE", person.ID).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return false, database.ErrDisplayNameRequired
	}
	if err != nil {
		return false, fmt.Errorf("lock person: %w", err)
	}

	if limit > 0 {
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM descriptors WHERE person_id = $1", person.ID).Scan(&count); err != nil {
			return false, fmt.Errorf("count descriptors: %w", err)
		}
		if count >= limit {
			return false, database.ErrDescriptorLimit
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO descriptors (person_id, id, vector, image_ref, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, person.ID, desc.ID, pgvector.NewVector(desc.Vector), desc.ImageRef, desc.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("insert descriptor: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit descriptor: %w", err)
	}

	r.hnswMu.RLock()
	if r.hnswEnabled && r.hnswIndex != nil {
		entry := database.GalleryEntry{PersonID: person.ID, DescriptorID: desc.ID, Vector: desc.Vector}
		if !r.hnswIndex.Add(entry) {
			fmt.Printf("Gallery index: descriptor %s has %d components, index expects %d (not indexed)\n",
				desc.ID, len(desc.Vector), r.hnswIndex.Dim())
		}
		r.record(indexOp{add: &entry})
	}
	r.hnswMu.RUnlock()
	return created, nil
}

// RemovePerson deletes a person; descriptors go with it through ON DELETE CASCADE.
func (r *GalleryRepository) RemovePerson(ctx context.Context, id string) error {
	l := r.locks.For(id)
	l.Lock()
	defer l.Unlock()

	if _, err := r.pool.Exec(ctx, "DELETE FROM people WHERE id = $1", id); err != nil {
		return fmt.Errorf("delete person: %w", err)
	}
	r.forgetIndexed(id)
	return nil
}

// RemovePersonIfEmpty deletes the person in the same statement that checks it
// owns no descriptor, so a concurrent append either commits first and keeps
// the person or blocks on the row lock until the delete is done.
func (r *GalleryRepository) RemovePersonIfEmpty(ctx context.Context, id string) (bool, error) {
	l := r.locks.For(id)
	l.Lock()
	defer l.Unlock()

	res, err := r.pool.Exec(ctx, `
		DELETE FROM people p
		WHERE p.id = $1
		AND NOT EXISTS (SELECT 1 FROM descriptors d WHERE d.person_id = p.id)
	`, id)
	if err != nil {
		return false, fmt.Errorf("delete empty person: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete empty person: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	r.forgetIndexed(id)
	return true, nil
}

func (r *GalleryRepository) forgetIndexed(id string) {
	r.hnswMu.RLock()
	if r.hnswEnabled && r.hnswIndex != nil {
		r.hnswIndex.DeletePerson(id)
		r.record(indexOp{deletePerson: id})
	}
	r.hnswMu.RUnlock()
}

// ListPeople returns every person with its descriptor count
func (r *GalleryRepository) ListPeople(ctx context.Context) ([]database.Person, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id, p.display_name, p.image_ref, p.created_at, COUNT(d.id)
		FROM people p
		LEFT JOIN descriptors d ON d.person_id = p.id
		GROUP BY p.id
		ORDER BY p.created_at, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("list people: %w", err)
	}
	defer rows.Close()

	var people []database.Person
	for rows.Next() {
		var p database.Person
		if err := rows.Scan(&p.ID, &p.DisplayName, &p.ImageRef, &p.CreatedAt, &p.DescriptorCount); err != nil {
			return nil, fmt.Errorf("scan person: %w", err)
		}
		people = append(people, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return people, nil
}

// GetPerson retrieves a person with descriptors, returns nil if not found
func (r *GalleryRepository) GetPerson(ctx context.Context, id string) (*database.Person, error) {
	var p database.Person
	err := r.pool.QueryRow(ctx, `
		SELECT id, display_name, image_ref, created_at FROM people WHERE id = $1
	`, id).Scan(&p.ID, &p.DisplayName, &p.ImageRef, &p.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get person: %w", err)
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, vector, image_ref, created_at FROM descriptors
		WHERE person_id = $1
		ORDER BY created_at, id
	`, id)
	if err != nil {
		return nil, fmt.Errorf("get descriptors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		d := database.StoredDescriptor{PersonID: id}
		var v pgvector.Vector
		if err := rows.Scan(&d.ID, &v, &d.ImageRef, &d.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		d.Vector = v.Slice()
		p.Descriptors = append(p.Descriptors, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	p.DescriptorCount = len(p.Descriptors)
	return &p, nil
}

// SnapshotEntries reads every descriptor in a single statement, which sees one
// committed state of the table.
func (r *GalleryRepository) SnapshotEntries(ctx context.Context) ([]database.GalleryEntry, error) {
	rows, err := r.pool.Query(ctx, "SELECT person_id, id, vector FROM descriptors")
	if err != nil {
		return nil, fmt.Errorf("snapshot descriptors: %w", err)
	}
	defer rows.Close()

	var entries []database.GalleryEntry
	for rows.Next() {
		var e database.GalleryEntry
		var v pgvector.Vector
		if err := rows.Scan(&e.PersonID, &e.DescriptorID, &v); err != nil {
			return nil, fmt.Errorf("scan descriptor: %w", err)
		}
		e.Vector = v.Slice()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate descriptors: %w", err)
	}
	return entries, nil
}

// FindEmptyPeople returns ids of people that own no descriptor
func (r *GalleryRepository) FindEmptyPeople(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT p.id FROM people p
		WHERE NOT EXISTS (SELECT 1 FROM descriptors d WHERE d.person_id = p.id)
		ORDER BY p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("find empty people: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan person id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate people: %w", err)
	}
	return ids, nil
}

// Stats returns people and descriptor counts
func (r *GalleryRepository) Stats(ctx context.Context) (database.GalleryStats, error) {
	var stats database.GalleryStats
	err := r.pool.QueryRow(ctx, `
		SELECT (SELECT COUNT(*) FROM people), (SELECT COUNT(*) FROM descriptors)
	`).Scan(&stats.People, &stats.Descriptors)
	if err != nil {
		return stats, fmt.Errorf("gallery stats: %w", err)
	}
	return stats, nil
}

// NearestPeople returns people near the query.
// Uses in-memory HNSW index if enabled, otherwise falls back to PostgreSQL.
func (r *GalleryRepository) NearestPeople(ctx context.Context, query []float32, k int, maxDistance float64) ([]database.NearestPerson, error) {
	r.hnswMu.RLock()
	if r.hnswEnabled && r.hnswIndex != nil {
		defer r.hnswMu.RUnlock()
		return r.hnswIndex.NearestPeople(query, k, maxDistance), nil
	}
	r.hnswMu.RUnlock()

	return r.nearestPeoplePostgres(ctx, query, k, maxDistance)
}

func (r *GalleryRepository) nearestPeoplePostgres(ctx context.Context, query []float32, k int, maxDistance float64) ([]database.NearestPerson, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT person_id, MIN(vector <-> $1) AS distance
		FROM descriptors
		WHERE vector_dims(vector) = $2
		GROUP BY person_id
		HAVING MIN(vector <-> $1) <= $3
		ORDER BY distance, person_id
		LIMIT $4
	`, pgvector.NewVector(query), len(query), maxDistance, k)
	if err != nil {
		return nil, fmt.Errorf("nearest people: %w", err)
	}
	defer rows.Close()

	var out []database.NearestPerson
	for rows.Next() {
		var p database.NearestPerson
		if err := rows.Scan(&p.PersonID, &p.Distance); err != nil {
			return nil, fmt.Errorf("scan nearest person: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate nearest people: %w", err)
	}
	return out, nil
}

// EnableHNSW loads or builds the in-memory HNSW index over dim-component
// descriptors. Descriptors of any other size stay out of the index.
// If indexPath is provided, it will try to load from disk first.
// This should be called once at startup.
func (r *GalleryRepository) EnableHNSW(ctx context.Context, indexPath string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("HNSW index needs a positive dimension, got %d", dim)
	}

	r.hnswMu.Lock()
	defer r.hnswMu.Unlock()

	r.hnswIndexPath = indexPath
	r.hnswDim = dim

	stats, err := r.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to get gallery stats: %w", err)
	}

	if indexPath != "" && r.tryLoadIndex(indexPath, dim, stats.Descriptors) {
		r.hnswEnabled = true
		return nil
	}

	entries, err := r.SnapshotEntries(ctx)
	if err != nil {
		return fmt.Errorf("failed to load descriptors: %w", err)
	}

	r.hnswIndex = database.NewHNSWIndex(dim)
	r.hnswIndex.SetPath(indexPath)
	skipped := r.hnswIndex.BuildFromEntries(entries)
	fmt.Printf("Gallery index: built from %d descriptors (%d skipped)\n", len(entries)-skipped, skipped)

	r.hnswEnabled = true
	return nil
}

// tryLoadIndex loads a persisted index when its entry count matches the database.
func (r *GalleryRepository) tryLoadIndex(indexPath string, dim, dbDescriptors int) bool {
	metadata, err := database.LoadHNSWMetadata(indexPath)
	if err != nil {
		fmt.Printf("Gallery index: metadata file error: %v (will rebuild)\n", err)
		return false
	}
	if metadata.EntryCount != dbDescriptors {
		fmt.Printf("Gallery index: stale (db: %d, cached: %d) (will rebuild)\n", dbDescriptors, metadata.EntryCount)
		return false
	}

	idx := database.NewHNSWIndex(dim)
	if err := idx.Load(indexPath); err != nil {
		fmt.Printf("Gallery index: failed to load: %v (will rebuild)\n", err)
		return false
	}
	if idx.IsEmpty() {
		fmt.Printf("Gallery index: loaded graph is empty (will rebuild)\n")
		return false
	}
	r.hnswIndex = idx
	fmt.Printf("Gallery index: loaded from disk (%d descriptors)\n", idx.Count())
	return true
}

// IsHNSWEnabled returns whether the in-memory HNSW index is enabled.
func (r *GalleryRepository) IsHNSWEnabled() bool {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	return r.hnswEnabled && r.hnswIndex != nil
}

// HNSWCount returns the number of descriptors in the HNSW index.
func (r *GalleryRepository) HNSWCount() int {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()
	if r.hnswIndex == nil {
		return 0
	}
	return r.hnswIndex.Count()
}

// RebuildHNSW rebuilds the HNSW index from PostgreSQL data, dropping the
// nodes of deleted people for good. It does nothing until EnableHNSW ran.
func (r *GalleryRepository) RebuildHNSW(ctx context.Context) error {
	r.hnswMu.RLock()
	enabled, indexPath, dim := r.hnswEnabled, r.hnswIndexPath, r.hnswDim
	r.hnswMu.RUnlock()
	if !enabled {
		return nil
	}

	r.journalMu.Lock()
	if r.journal != nil {
		r.journalMu.Unlock()
		return errors.New("gallery index rebuild already running")
	}
	r.journal = []indexOp{}
	r.journalMu.Unlock()

	entries, err := r.SnapshotEntries(ctx)
	if err != nil {
		r.journalMu.Lock()
		r.journal = nil
		r.journalMu.Unlock()
		return fmt.Errorf("failed to load descriptors: %w", err)
	}

	idx := database.NewHNSWIndex(dim)
	idx.SetPath(indexPath)
	if skipped := idx.BuildFromEntries(entries); skipped > 0 {
		fmt.Printf("Gallery index rebuild: skipped %d descriptors (not %d-d or not finite)\n", skipped, dim)
	}

	r.hnswMu.Lock()
	r.journalMu.Lock()
	for _, op := range r.journal {
		if op.add != nil {
			idx.Add(*op.add)
		} else {
			idx.DeletePerson(op.deletePerson)
		}
	}
	r.journal = nil
	r.journalMu.Unlock()
	r.hnswIndex = idx
	r.hnswMu.Unlock()
	return nil
}

// SaveHNSWIndex saves the current HNSW index to disk (if path configured).
func (r *GalleryRepository) SaveHNSWIndex() error {
	r.hnswMu.RLock()
	defer r.hnswMu.RUnlock()

	if r.hnswIndexPath == "" || r.hnswIndex == nil {
		return nil
	}
	if err := r.hnswIndex.Save(); err != nil {
		return fmt.Errorf("saving HNSW gallery index: %w", err)
	}
	fmt.Printf("Gallery index save: saved %d descriptors to %s\n", r.hnswIndex.Count(), r.hnswIndexPath)
	return nil
}
