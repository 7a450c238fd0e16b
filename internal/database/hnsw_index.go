package database

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
)

// HNSWIndexMetadata stores metadata for validating cached HNSW indexes.
type HNSWIndexMetadata struct {
	EntryCount int       `json:"entry_count"`
	Dim        int       `json:"dim"`
	BuildTime  time.Time `json:"build_time"`
	Version    int       `json:"version"`
}

const hnswMetadataVersion = 3

// HNSWIndex wraps an HNSW graph over gallery descriptors, keyed by descriptor ID.
// Every node has exactly dim components; the graph panics on anything else,
// so mismatched or non-finite vectors never reach it.
type HNSWIndex struct {
	graph     *hnsw.Graph[string]
	idToEntry map[string]GalleryEntry // Live descriptors; graph nodes missing here are deleted
	dim       int
	skipped   int // Entries refused since the last build
	mu        sync.RWMutex
	path      string // Path to save/load index
}

// NewHNSWIndex creates a new empty HNSW index for dim-component descriptors.
func NewHNSWIndex(dim int) *HNSWIndex {
	return &HNSWIndex{
		idToEntry: make(map[string]GalleryEntry),
		dim:       dim,
	}
}

// accepts reports whether v can be stored in the graph.
func (h *HNSWIndex) accepts(v []float32) bool {
	return h.dim > 0 && len(v) == h.dim && IsFinite(v)
}

func newEuclideanGraph() *hnsw.Graph[string] {
	g := hnsw.NewGraph[string]()
	g.M = HNSWMaxNeighbors
	g.Ml = 1.0 / float64(HNSWMaxNeighbors) // Standard HNSW formula
	g.EfSearch = HNSWEfSearch
	g.Distance = hnsw.EuclideanDistance
	return g
}

// BuildFromEntries replaces the index contents with entries and returns how
// many were skipped for a wrong dimension or non-finite components.
func (h *HNSWIndex) BuildFromEntries(entries []GalleryEntry) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.idToEntry = make(map[string]GalleryEntry, len(entries))
	h.skipped = 0
	h.graph = nil

	var g *hnsw.Graph[string]
	for _, e := range entries {
		if !h.accepts(e.Vector) {
			h.skipped++
			continue
		}
		if g == nil {
			g = newEuclideanGraph()
		}
		g.Add(hnsw.MakeNode(e.DescriptorID, e.Vector))
		h.idToEntry[e.DescriptorID] = e
	}
	h.graph = g
	return h.skipped
}

// Add adds a single descriptor to the index. It returns false, leaving the
// index unchanged, when the vector has the wrong dimension or is not finite.
func (h *HNSWIndex) Add(e GalleryEntry) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.accepts(e.Vector) {
		h.skipped++
		return false
	}
	if h.graph == nil {
		h.graph = newEuclideanGraph()
	}
	h.graph.Add(hnsw.MakeNode(e.DescriptorID, e.Vector))
	h.idToEntry[e.DescriptorID] = e
	return true
}

// DeletePerson removes every descriptor of a person from search results.
// HNSW doesn't support cheap deletion, so nodes stay in the graph and are
// filtered by the idToEntry lookup until the next rebuild.
func (h *HNSWIndex) DeletePerson(personID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for id, e := range h.idToEntry {
		if e.PersonID == personID {
			delete(h.idToEntry, id)
		}
	}
}

// NearestPeople returns up to k people whose closest indexed descriptor is
// within maxDistance of query, nearest first, ties by person ID.
func (h *HNSWIndex) NearestPeople(query []float32, k int, maxDistance float64) []NearestPerson {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.graph == nil || h.graph.Len() == 0 || k <= 0 {
		return nil
	}
	if len(query) != h.dim || h.graph.Dims() != h.dim || !IsFinite(query) {
		return nil
	}

	best := make(map[string]float64)
	for _, n := range h.graph.Search(query, k*HNSWSearchMultiplier) {
		e, ok := h.idToEntry[n.Key]
		if !ok {
			continue
		}
		d := EuclideanDistance(query, n.Value)
		if d > maxDistance {
			continue
		}
		if cur, seen := best[e.PersonID]; !seen || d < cur {
			best[e.PersonID] = d
		}
	}

	out := make([]NearestPerson, 0, len(best))
	for id, d := range best {
		out = append(out, NearestPerson{PersonID: id, Distance: d})
	}
	SortNearest(out)
	if len(out) > k {
		out = out[:k]
	}
	return out
}

// SortNearest orders candidates by distance, then person ID.
func SortNearest(people []NearestPerson) {
	sort.Slice(people, func(i, j int) bool {
		if people[i].Distance != people[j].Distance {
			return people[i].Distance < people[j].Distance
		}
		return people[i].PersonID < people[j].PersonID
	})
}

// Count returns the number of live indexed descriptors.
func (h *HNSWIndex) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.idToEntry)
}

// Skipped returns how many entries were refused since the last build.
func (h *HNSWIndex) Skipped() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.skipped
}

// Dim returns the descriptor dimension the index accepts.
func (h *HNSWIndex) Dim() int {
	return h.dim
}

// IsEmpty returns true if the index has no graph loaded.
func (h *HNSWIndex) IsEmpty() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.graph == nil
}

// SetPath sets the path for saving/loading the index.
func (h *HNSWIndex) SetPath(path string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.path = path
}

// Save persists the graph, metadata and entries next to the configured path.
func (h *HNSWIndex) Save() error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.path == "" {
		return nil // No path set
	}

	if h.graph == nil {
		// Remove existing files if index is empty (best-effort cleanup).
		_ = os.Remove(h.path)
		_ = os.Remove(h.path + ".meta")
		_ = os.Remove(h.path + ".entries")
		return nil
	}

	f, err := os.Create(h.path) //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to create HNSW index file: %w", err)
	}
	if err := h.graph.Export(f); err != nil {
		_ = f.Close()
		return fmt.Errorf("exporting HNSW graph: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("closing HNSW index file: %w", err)
	}

	metaData, err := json.Marshal(HNSWIndexMetadata{
		EntryCount: len(h.idToEntry),
		Dim:        h.dim,
		BuildTime:  time.Now(),
		Version:    hnswMetadataVersion,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(h.path+".meta", metaData, 0600); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}

	entries := make([]GalleryEntry, 0, len(h.idToEntry))
	for _, e := range h.idToEntry {
		entries = append(entries, e)
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(entries); err != nil {
		return fmt.Errorf("failed to encode entries: %w", err)
	}
	if err := os.WriteFile(h.path+".entries", buf.Bytes(), 0600); err != nil {
		return fmt.Errorf("failed to write entries file: %w", err)
	}
	return nil
}

// LoadHNSWMetadata loads metadata from a separate .meta file.
func LoadHNSWMetadata(path string) (HNSWIndexMetadata, error) {
	var metadata HNSWIndexMetadata

	data, err := os.ReadFile(path + ".meta") //nolint:gosec // path is from trusted config
	if err != nil {
		return metadata, fmt.Errorf("failed to read metadata file: %w", err)
	}
	if err := json.Unmarshal(data, &metadata); err != nil {
		return metadata, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	return metadata, nil
}

// Load reads a previously saved graph and its entries. A missing file is not
// an error; the index stays empty and must be built from the gallery.
func (h *HNSWIndex) Load(path string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.path = path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	meta, err := LoadHNSWMetadata(path)
	if err != nil {
		return err
	}
	if meta.Version != hnswMetadataVersion {
		return fmt.Errorf("HNSW index version %d is stale (want %d)", meta.Version, hnswMetadataVersion)
	}
	if meta.Dim != h.dim {
		return fmt.Errorf("HNSW index dimension %d does not match %d", meta.Dim, h.dim)
	}

	saved, err := hnsw.LoadSavedGraph[string](path)
	if err != nil {
		return fmt.Errorf("failed to load HNSW index: %w", err)
	}

	data, err := os.ReadFile(path + ".entries") //nolint:gosec // path is from trusted config
	if err != nil {
		return fmt.Errorf("failed to read entries file: %w", err)
	}
	var entries []GalleryEntry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&entries); err != nil {
		return fmt.Errorf("failed to decode entries: %w", err)
	}

	if saved.Graph.Len() > 0 && saved.Graph.Dims() != h.dim {
		return fmt.Errorf("HNSW graph dimension %d does not match %d", saved.Graph.Dims(), h.dim)
	}

	saved.Graph.Distance = hnsw.EuclideanDistance
	h.graph = saved.Graph
	h.skipped = 0
	h.idToEntry = make(map[string]GalleryEntry, len(entries))
	for _, e := range entries {
		h.idToEntry[e.DescriptorID] = e
	}
	return nil
}
