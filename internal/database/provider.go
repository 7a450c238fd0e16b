package database

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// HNSWRebuilder is an interface for repositories that support HNSW index rebuilding
type HNSWRebuilder interface {
	// RebuildHNSW rebuilds the in-memory HNSW index
	RebuildHNSW(ctx context.Context) error
	// HNSWCount returns the number of items in the HNSW index
	HNSWCount() int
	// IsHNSWEnabled returns whether HNSW is enabled
	IsHNSWEnabled() bool
	// SaveHNSWIndex saves the current index to disk (if path configured)
	SaveHNSWIndex() error
}

var (
	providerMu    sync.RWMutex
	galleryWriter func() GalleryWriter
	auditBackends = map[string]func() AuditLog{}
	galleryHNSW   HNSWRebuilder // Singleton for gallery HNSW rebuilding
	initialized   bool
)

// RegisterGalleryBackend registers the gallery repository constructor.
// This is called by the storage packages to avoid import cycles.
func RegisterGalleryBackend(writer func() GalleryWriter) {
	providerMu.Lock()
	defer providerMu.Unlock()
	galleryWriter = writer
	initialized = true
}

// RegisterAuditBackend registers an audit log constructor under a backend
// name ("postgres", "mariadb", "memory").
func RegisterAuditBackend(name string, log func() AuditLog) {
	providerMu.Lock()
	defer providerMu.Unlock()
	auditBackends[name] = log
}

// RegisterGalleryHNSWRebuilder registers the HNSW rebuilder for the gallery repository.
// This allows rebuilding the in-memory HNSW index without knowing the concrete type.
func RegisterGalleryHNSWRebuilder(rebuilder HNSWRebuilder) {
	providerMu.Lock()
	defer providerMu.Unlock()
	galleryHNSW = rebuilder
}

// GetGalleryHNSWRebuilder returns the registered gallery HNSW rebuilder, or nil if not registered.
func GetGalleryHNSWRebuilder() HNSWRebuilder {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return galleryHNSW
}

// IsInitialized returns whether a gallery backend has been registered.
func IsInitialized() bool {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return initialized
}

// GetGalleryWriter returns the registered GalleryWriter
func GetGalleryWriter(ctx context.Context) (GalleryWriter, error) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	if !initialized || galleryWriter == nil {
		return nil, fmt.Errorf("gallery backend not initialized: DATABASE_URL is required")
	}
	return galleryWriter(), nil
}

// GetGalleryReader returns the registered gallery as a GalleryReader
func GetGalleryReader(ctx context.Context) (GalleryReader, error) {
	return GetGalleryWriter(ctx)
}

// GetAuditLog returns the audit log registered under backend
func GetAuditLog(ctx context.Context, backend string) (AuditLog, error) {
	providerMu.RLock()
	defer providerMu.RUnlock()
	log, ok := auditBackends[backend]
	if !ok {
		names := make([]string, 0, len(auditBackends))
		for name := range auditBackends {
			names = append(names, name)
		}
		sort.Strings(names)
		return nil, fmt.Errorf("audit backend %q not registered (available: %s)", backend, strings.Join(names, ", "))
	}
	return log(), nil
}

// ResetBackends clears every registration. Used by tests.
func ResetBackends() {
	providerMu.Lock()
	defer providerMu.Unlock()
	galleryWriter = nil
	auditBackends = map[string]func() AuditLog{}
	galleryHNSW = nil
	initialized = false
}
