package facematch

import (
	"math"
	"math/rand"
	"sync"
	"testing"

	"github.com/kozaktomas/face-gallery/internal/database"
)

func vec(vals ...float32) []float32 { return vals }

func entry(personID, descID string, v []float32) database.GalleryEntry {
	return database.GalleryEntry{PersonID: personID, DescriptorID: descID, Vector: v}
}

func TestMatchAt_ExactMatchIsZero(t *testing.T) {
	v := vec(0.1, -0.2, 0.3, 0.4)
	got := MatchAt(v, []database.GalleryEntry{entry("alice", "d1", v)}, DefaultThreshold)

	if got.PersonID != "alice" || got.DescriptorID != "d1" {
		t.Errorf("expected alice/d1, got %s/%s", got.PersonID, got.DescriptorID)
	}
	if got.Distance != 0 {
		t.Errorf("expected distance 0, got %v", got.Distance)
	}
	if !got.Matched {
		t.Error("exact descriptor must match")
	}
}

func TestMatchAt_EmptyGallery(t *testing.T) {
	got := MatchAt(vec(1, 2, 3), nil, DefaultThreshold)

	if got.Matched {
		t.Error("empty gallery must not match")
	}
	if got.PersonID != "" {
		t.Errorf("expected no person, got %q", got.PersonID)
	}
	if !math.IsInf(got.Distance, 1) {
		t.Errorf("expected +Inf distance, got %v", got.Distance)
	}
}

func TestMatchAt_SingleEntryIsAlwaysCandidate(t *testing.T) {
	got := MatchAt(vec(0, 0), []database.GalleryEntry{entry("far", "d1", vec(30, 40))}, DefaultThreshold)

	if got.PersonID != "far" {
		t.Errorf("expected far as candidate, got %q", got.PersonID)
	}
	if got.Distance != 50 {
		t.Errorf("expected distance 50, got %v", got.Distance)
	}
	if got.Matched {
		t.Error("candidate beyond threshold must not match")
	}
}

func TestMatchAt_BoundaryIsInclusive(t *testing.T) {
	entries := []database.GalleryEntry{entry("p", "d", vec(0.5, 0))}

	if got := MatchAt(vec(0, 0), entries, 0.5); !got.Matched {
		t.Errorf("distance equal to threshold must match, got %v", got.Distance)
	}
	if got := MatchAt(vec(0, 0), entries, 0.4999); got.Matched {
		t.Errorf("distance above threshold must not match, got %v", got.Distance)
	}
}

func TestMatchAt_TieBreakByPersonID(t *testing.T) {
	q := vec(0, 0)
	entries := []database.GalleryEntry{
		entry("zed", "z1", vec(1, 0)),
		entry("bob", "b1", vec(0, 1)),
		entry("carl", "c1", vec(-1, 0)),
	}

	for i := 0; i < 20; i++ {
		shuffled := append([]database.GalleryEntry(nil), entries...)
		rand.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })

		got := MatchAt(q, shuffled, 2)
		if got.PersonID != "bob" {
			t.Fatalf("iteration %d: expected bob on tie, got %q", i, got.PersonID)
		}
	}
}

func TestMatchAt_TieBreakByDescriptorID(t *testing.T) {
	q := vec(0, 0)
	forward := []database.GalleryEntry{
		entry("alice", "a2", vec(0, 1)),
		entry("alice", "a1", vec(1, 0)),
		entry("bob", "b1", vec(0, 2)),
	}
	backward := []database.GalleryEntry{forward[2], forward[1], forward[0]}

	for _, entries := range [][]database.GalleryEntry{forward, backward} {
		got := MatchAt(q, entries, 2)
		if got.PersonID != "alice" || got.DescriptorID != "a1" {
			t.Errorf("expected alice/a1, got %s/%s", got.PersonID, got.DescriptorID)
		}
	}
}

func TestMatchAt_SkipsWrongDimension(t *testing.T) {
	entries := []database.GalleryEntry{
		entry("short", "s1", vec(0, 0)),
		entry("right", "r1", vec(0.1, 0, 0)),
	}

	got := MatchAt(vec(0, 0, 0), entries, DefaultThreshold)
	if got.PersonID != "right" {
		t.Errorf("expected right, got %q", got.PersonID)
	}
}

func TestMatchAt_ThresholdMonotonic(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	randVec := func() []float32 {
		v := make([]float32, 8)
		for i := range v {
			v[i] = r.Float32()
		}
		return v
	}

	entries := make([]database.GalleryEntry, 0, 30)
	for i := 0; i < 30; i++ {
		entries = append(entries, entry(string(rune('a'+i%10)), string(rune('A'+i)), randVec()))
	}

	for i := 0; i < 50; i++ {
		q := randVec()
		low := r.Float64()
		high := low + r.Float64()

		atLow := MatchAt(q, entries, low)
		atHigh := MatchAt(q, entries, high)

		if atLow.Matched && !atHigh.Matched {
			t.Fatalf("matched at %v but not at %v", low, high)
		}
		if atLow.PersonID != atHigh.PersonID || atLow.Distance != atHigh.Distance {
			t.Fatalf("candidate must not depend on threshold: %+v vs %+v", atLow, atHigh)
		}
	}
}

func TestMatchAt_AliceAndBob(t *testing.T) {
	alice := vec(0.1, 0.2, 0.3, 0.4)
	bob := vec(0.9, 0.8, 0.7, 0.6)
	entries := []database.GalleryEntry{
		entry("alice", "a1", alice),
		entry("bob", "b1", bob),
	}

	t.Run("alice variant", func(t *testing.T) {
		got := MatchAt(vec(0.12, 0.21, 0.29, 0.41), entries, DefaultThreshold)
		if !got.Matched || got.PersonID != "alice" {
			t.Errorf("expected alice match, got %+v", got)
		}
	})

	t.Run("stranger", func(t *testing.T) {
		got := MatchAt(vec(5, 5, 5, 5), entries, DefaultThreshold)
		if got.Matched {
			t.Errorf("expected no match, got %+v", got)
		}
		if got.PersonID != "bob" {
			t.Errorf("expected bob as nearest candidate, got %q", got.PersonID)
		}
	})
}

func TestMatcher_SetThreshold(t *testing.T) {
	m := NewMatcher(0.6)
	if m.Threshold() != 0.6 {
		t.Fatalf("expected 0.6, got %v", m.Threshold())
	}

	for _, bad := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		if err := m.SetThreshold(bad); err == nil {
			t.Errorf("expected error for threshold %v", bad)
		}
	}
	if m.Threshold() != 0.6 {
		t.Errorf("invalid threshold must not be applied, got %v", m.Threshold())
	}

	if NewMatcher(0).Threshold() != DefaultThreshold {
		t.Error("non-positive threshold must fall back to default")
	}

	entries := []database.GalleryEntry{entry("p", "d", vec(0.5, 0))}
	if !m.Match(vec(0, 0), entries).Matched {
		t.Error("expected match at 0.6")
	}
	if err := m.SetThreshold(0.25); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.Match(vec(0, 0), entries).Matched {
		t.Error("expected no match at 0.25")
	}
}

func TestMatcher_ConcurrentThresholdChanges(t *testing.T) {
	m := NewMatcher(0.6)
	entries := []database.GalleryEntry{entry("p", "d", vec(0.5, 0))}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			_ = m.SetThreshold(0.1 + float64(i)/10)
		}(i)
		go func() {
			defer wg.Done()
			got := m.Match(vec(0, 0), entries)
			if got.PersonID != "p" || got.Distance != 0.5 {
				t.Errorf("unexpected candidate %+v", got)
			}
		}()
	}
	wg.Wait()
}

func TestTopK(t *testing.T) {
	q := vec(0, 0)
	entries := []database.GalleryEntry{
		entry("alice", "a1", vec(3, 4)),
		entry("alice", "a2", vec(0.3, 0.4)),
		entry("bob", "b1", vec(0, 1)),
		entry("carl", "c1", vec(1, 0)),
		entry("dave", "d1", vec(0, 2)),
		entry("bad", "x1", vec(1, 1, 1)),
	}

	tests := []struct {
		name     string
		k        int
		expected []string
	}{
		{"top one", 1, []string{"alice"}},
		{"tie resolved by id", 3, []string{"alice", "bob", "carl"}},
		{"k beyond people", 10, []string{"alice", "bob", "carl", "dave"}},
		{"zero", 0, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TopK(q, entries, tt.k)
			if len(got) != len(tt.expected) {
				t.Fatalf("expected %d people, got %d: %+v", len(tt.expected), len(got), got)
			}
			for i, id := range tt.expected {
				if got[i].PersonID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].PersonID)
				}
			}
		})
	}

	got := TopK(q, entries, 1)
	if math.Abs(got[0].Distance-0.5) > 1e-6 {
		t.Errorf("expected alice's best descriptor distance 0.5, got %v", got[0].Distance)
	}
}
