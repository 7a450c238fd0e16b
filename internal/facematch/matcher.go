// Package facematch decides whether a query face descriptor belongs to an
// enrolled person. Matching is an exhaustive Euclidean nearest-neighbour search
// over every gallery entry; it is meant for galleries of tens to low thousands
// of descriptors.
package facematch

import (
	"fmt"
	"math"
	"sync/atomic"

	"github.com/emirpasic/gods/trees/binaryheap"

	"github.com/kozaktomas/face-gallery/internal/database"
)

// DefaultThreshold is the maximum distance for a match with 128-d dlib
// ResNet descriptors.
const DefaultThreshold = 0.6

// Candidate is the best gallery entry found for a query.
type Candidate struct {
	PersonID     string // Empty when the gallery had no comparable entry
	DescriptorID string
	Distance     float64 // +Inf when nothing was compared
	Matched      bool    // Distance <= threshold
}

// Matcher applies the configured distance threshold. The threshold can be
// changed while matches are running.
type Matcher struct {
	threshold atomic.Uint64 // math.Float64bits
}

// NewMatcher creates a matcher; non-positive thresholds fall back to DefaultThreshold.
func NewMatcher(threshold float64) *Matcher {
	m := &Matcher{}
	if err := m.SetThreshold(threshold); err != nil {
		m.threshold.Store(math.Float64bits(DefaultThreshold))
	}
	return m
}

// Threshold returns the current decision threshold.
func (m *Matcher) Threshold() float64 {
	return math.Float64frombits(m.threshold.Load())
}

// SetThreshold replaces the decision threshold.
func (m *Matcher) SetThreshold(threshold float64) error {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) || threshold <= 0 {
		return fmt.Errorf("invalid distance threshold %v", threshold)
	}
	m.threshold.Store(math.Float64bits(threshold))
	return nil
}

// Match finds the nearest entry and decides with the current threshold.
func (m *Matcher) Match(query []float32, entries []database.GalleryEntry) Candidate {
	return MatchAt(query, entries, m.Threshold())
}

// MatchAt finds the entry nearest to query and reports whether it lies within
// threshold. Equal distances resolve to the lexicographically smaller person
// ID, then descriptor ID, so the result never depends on entry order.
// Entries whose length differs from the query are skipped.
func MatchAt(query []float32, entries []database.GalleryEntry, threshold float64) Candidate {
	best := Candidate{Distance: math.Inf(1)}

	for _, e := range entries {
		if len(e.Vector) != len(query) {
			continue
		}
		d := database.EuclideanDistance(query, e.Vector)
		if math.IsNaN(d) {
			continue
		}
		if best.PersonID == "" || closer(d, e, best) {
			best.PersonID = e.PersonID
			best.DescriptorID = e.DescriptorID
			best.Distance = d
		}
	}

	best.Matched = best.PersonID != "" && best.Distance <= threshold
	return best
}

// closer reports whether an entry at distance d beats the current best.
func closer(d float64, e database.GalleryEntry, best Candidate) bool {
	if d != best.Distance {
		return d < best.Distance
	}
	if e.PersonID != best.PersonID {
		return e.PersonID < best.PersonID
	}
	return e.DescriptorID < best.DescriptorID
}

// TopK ranks people by their closest descriptor and returns the k nearest,
// ascending by distance, ties by person ID.
func TopK(query []float32, entries []database.GalleryEntry, k int) []database.NearestPerson {
	if k <= 0 {
		return nil
	}

	best := make(map[string]float64)
	for _, e := range entries {
		if len(e.Vector) != len(query) {
			continue
		}
		d := database.EuclideanDistance(query, e.Vector)
		if math.IsNaN(d) {
			continue
		}
		if cur, ok := best[e.PersonID]; !ok || d < cur {
			best[e.PersonID] = d
		}
	}

	heap := binaryheap.NewWith(compareNearest)
	for id, d := range best {
		heap.Push(database.NearestPerson{PersonID: id, Distance: d})
	}

	out := make([]database.NearestPerson, 0, min(k, len(best)))
	for len(out) < k {
		v, ok := heap.Pop()
		if !ok {
			break
		}
		out = append(out, v.(database.NearestPerson))
	}
	return out
}

func compareNearest(a, b interface{}) int {
	x := a.(database.NearestPerson)
	y := b.(database.NearestPerson)
	switch {
	case x.Distance < y.Distance:
		return -1
	case x.Distance > y.Distance:
		return 1
	case x.PersonID < y.PersonID:
		return -1
	case x.PersonID > y.PersonID:
		return 1
	}
	return 0
}
