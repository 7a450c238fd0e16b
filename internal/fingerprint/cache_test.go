package fingerprint

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*Descriptor
	getErr  error
	setErr  error
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*Descriptor)}
}

func (c *fakeCache) Get(_ context.Context, fp string) (*Descriptor, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.getErr != nil {
		return nil, c.getErr
	}
	return c.entries[fp], nil
}

func (c *fakeCache) Set(_ context.Context, fp string, d *Descriptor) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setErr != nil {
		return c.setErr
	}
	c.entries[fp] = d
	return nil
}

type countingExtractor struct {
	calls int
	desc  *Descriptor
	err   error
}

func (e *countingExtractor) Extract(context.Context, []byte) (*Descriptor, error) {
	e.calls++
	return e.desc, e.err
}

func TestCachingExtractor_HitAfterMiss(t *testing.T) {
	next := &countingExtractor{desc: &Descriptor{Vector: []float32{1, 2, 3}}}
	cache := newFakeCache()
	ext := NewCachingExtractor(next, cache, 3, nil)

	img := []byte("image-bytes")
	for i := 0; i < 3; i++ {
		d, err := ext.Extract(context.Background(), img)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if d.Vector[2] != 3 {
			t.Errorf("unexpected descriptor %v", d.Vector)
		}
	}

	if next.calls != 1 {
		t.Errorf("expected 1 extraction, got %d", next.calls)
	}
	if _, ok := cache.entries[QueryFingerprint(img)]; !ok {
		t.Error("expected descriptor cached under the query fingerprint")
	}
}

func TestCachingExtractor_FailuresNotCached(t *testing.T) {
	next := &countingExtractor{err: extractionError(KindNoFaceDetected, nil)}
	cache := newFakeCache()
	ext := NewCachingExtractor(next, cache, 3, nil)

	for i := 0; i < 2; i++ {
		if _, err := ext.Extract(context.Background(), []byte("x")); !errors.Is(err, ErrNoFaceDetected) {
			t.Fatalf("expected ErrNoFaceDetected, got %v", err)
		}
	}
	if next.calls != 2 {
		t.Errorf("failures must not be cached, got %d extractions", next.calls)
	}
	if len(cache.entries) != 0 {
		t.Errorf("expected empty cache, got %d entries", len(cache.entries))
	}
}

func TestCachingExtractor_CacheErrorsReported(t *testing.T) {
	next := &countingExtractor{desc: &Descriptor{Vector: []float32{1, 2, 3}}}
	cache := newFakeCache()
	cache.getErr = errors.New("connection refused")
	cache.setErr = errors.New("connection refused")

	var reported int
	ext := NewCachingExtractor(next, cache, 3, func(context.Context, error) { reported++ })

	if _, err := ext.Extract(context.Background(), []byte("x")); err != nil {
		t.Fatalf("cache failures must not fail extraction: %v", err)
	}
	if reported != 2 {
		t.Errorf("expected get and set failures reported, got %d", reported)
	}
}

func TestCachingExtractor_IgnoresWrongDimension(t *testing.T) {
	next := &countingExtractor{desc: &Descriptor{Vector: []float32{1, 2, 3}}}
	cache := newFakeCache()
	img := []byte("x")
	cache.entries[QueryFingerprint(img)] = &Descriptor{Vector: []float32{1, 2}}

	d, err := NewCachingExtractor(next, cache, 3, nil).Extract(context.Background(), img)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(d.Vector) != 3 || next.calls != 1 {
		t.Errorf("stale cache entry should be replaced, got %v after %d calls", d.Vector, next.calls)
	}
}
