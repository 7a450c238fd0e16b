package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/kozaktomas/face-gallery/internal/config"
	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/database/mariadb"
	"github.com/kozaktomas/face-gallery/internal/database/memory"
	"github.com/kozaktomas/face-gallery/internal/database/postgres"
	"github.com/kozaktomas/face-gallery/internal/facematch"
	"github.com/kozaktomas/face-gallery/internal/fingerprint"
	"github.com/kozaktomas/face-gallery/internal/identify"
	"github.com/kozaktomas/face-gallery/internal/ops"
)

// app is the wired identification service shared by every command.
type app struct {
	cfg     *config.Config
	service *identify.Service
	matcher *facematch.Matcher
	gallery database.GalleryWriter
	indexer database.HNSWRebuilder
	ops     *ops.Channel
	closers []io.Closer
}

// hnswEnabler is implemented by gallery repositories that can keep a
// candidate index.
type hnswEnabler interface {
	EnableHNSW(ctx context.Context, indexPath string, dim int) error
}

// loadConfig loads and validates the configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// newApp connects the storage backends, the extractor and the optional
// descriptor cache, and builds the service.
func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	opsCh, err := ops.New(cfg.Ops)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, ops: opsCh, closers: []io.Closer{opsCh}}

	if err := a.initStorage(ctx); err != nil {
		a.Close()
		return nil, err
	}

	gallery, err := database.GetGalleryWriter(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	audit, err := database.GetAuditLog(ctx, cfg.Audit.Backend)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.gallery = gallery
	a.indexer = database.GetGalleryHNSWRebuilder()

	images, err := fingerprint.NewImageStore(cfg.Images.Dir)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("opening image store: %w", err)
	}

	a.matcher = facematch.NewMatcher(cfg.Matcher.DistanceThreshold)
	a.service = identify.New(identify.Options{
		Extractor:               a.initExtractor(ctx),
		Gallery:                 gallery,
		Audit:                   audit,
		Matcher:                 a.matcher,
		Images:                  images,
		Ops:                     opsCh,
		Dim:                     cfg.Matcher.Dim,
		MaxDescriptorsPerPerson: cfg.Matcher.MaxDescriptorsPerPerson,
	})
	return a, nil
}

func (a *app) initStorage(ctx context.Context) error {
	cfg := a.cfg
	if inMemory {
		fmt.Println("Using in-memory storage, nothing will be persisted")
		memory.NewGallery().Register()
		memory.NewAuditLog().Register()
		cfg.Audit.Backend = "memory"
		return nil
	}

	if cfg.Database.URL == "" {
		return errors.New("DATABASE_URL environment variable is required (or use --memory)")
	}
	fmt.Printf("Connecting to PostgreSQL database...\n")
	if err := postgres.Initialize(&cfg.Database); err != nil {
		return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
	}
	a.closers = append(a.closers, postgres.GetGlobalPool())

	if cfg.Audit.Backend == "mariadb" {
		fmt.Printf("Connecting to MariaDB audit database...\n")
		pool, err := mariadb.Initialize(ctx, cfg.Audit.MariaDBURL)
		if err != nil {
			return fmt.Errorf("failed to initialize MariaDB: %w", err)
		}
		a.closers = append(a.closers, pool)
	}
	return nil
}

// initExtractor builds the HTTP extractor, cached in Redis when configured.
// A cache that cannot be reached is skipped with a warning.
func (a *app) initExtractor(ctx context.Context) fingerprint.Extractor {
	cfg := a.cfg
	extractor := fingerprint.NewHTTPExtractor(
		fingerprint.NewEmbeddingClient(cfg.Extractor.URL),
		cfg.Matcher.Dim,
		cfg.Extractor.Timeout(),
		fingerprint.MultiFacePolicy(cfg.Extractor.MultiFacePolicy),
	)
	if cfg.Cache.RedisURL == "" {
		return extractor
	}

	cache, err := fingerprint.NewRedisCache(ctx, cfg.Cache.RedisURL, cfg.Cache.TTL())
	if err != nil {
		fmt.Printf("Warning: descriptor cache disabled: %v\n", err)
		return extractor
	}
	a.closers = append(a.closers, cache)
	fmt.Printf("Descriptor cache enabled (TTL %s)\n", cfg.Cache.TTL())
	return fingerprint.NewCachingExtractor(extractor, cache, cfg.Matcher.Dim, func(ctx context.Context, err error) {
		a.ops.Report(ctx, ops.EventCacheFailure, err)
	})
}

// enableIndex builds or loads the candidate index when HNSW_ENABLED is set.
func (a *app) enableIndex(ctx context.Context) {
	if !a.cfg.Database.HNSWEnabled {
		return
	}
	enabler, ok := a.gallery.(hnswEnabler)
	if !ok {
		return
	}

	indexPath := a.cfg.Database.HNSWIndexPath
	if indexPath != "" {
		fmt.Printf("Loading HNSW candidate index from %s...\n", indexPath)
	} else {
		fmt.Printf("Building in-memory HNSW candidate index...\n")
	}
	if err := enabler.EnableHNSW(ctx, indexPath, a.cfg.Matcher.Dim); err != nil {
		fmt.Printf("Warning: Failed to build HNSW index: %v\n", err)
		fmt.Printf("Similar-people lookups will use PostgreSQL queries (slower)\n")
		return
	}
	if a.indexer != nil {
		fmt.Printf("HNSW index ready with %d descriptors\n", a.indexer.HNSWCount())
	}
}

// saveIndex persists the candidate index, if one is kept.
func (a *app) saveIndex() {
	if a.indexer == nil || !a.indexer.IsHNSWEnabled() {
		return
	}
	if err := a.indexer.SaveHNSWIndex(); err != nil {
		fmt.Printf("Warning: failed to save HNSW index: %v\n", err)
		return
	}
	fmt.Println("HNSW index saved to disk")
}

// Close releases every connection in reverse order of opening.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			fmt.Printf("Warning: %v\n", err)
		}
	}
	a.closers = nil
}
