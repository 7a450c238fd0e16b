// Package scheduler runs periodic gallery maintenance: the integrity sweep
// that removes people left without descriptors, and the rebuild and
// persistence of the candidate index.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/kozaktomas/face-gallery/internal/config"
	"github.com/kozaktomas/face-gallery/internal/database"
	"github.com/kozaktomas/face-gallery/internal/ops"
)

const jobTimeout = 5 * time.Minute

// Scheduler owns the maintenance jobs.
type Scheduler struct {
	cron    *gocron.Scheduler
	gallery database.GalleryWriter
	indexer database.HNSWRebuilder // nil when no candidate index is kept
	ops     *ops.Channel

	mu      sync.Mutex
	running bool
}

// New registers the maintenance jobs. The index jobs are only added when
// indexer is non-nil and enabled.
func New(cfg config.SchedulerConfig, gallery database.GalleryWriter, indexer database.HNSWRebuilder, opsCh *ops.Channel) (*Scheduler, error) {
	cron := gocron.NewScheduler(time.UTC)
	cron.SingletonModeAll()

	s := &Scheduler{cron: cron, gallery: gallery, indexer: indexer, ops: opsCh}

	if cfg.IntegritySweepCron != "" {
		if _, err := cron.Cron(cfg.IntegritySweepCron).Do(s.runSweep); err != nil {
			return nil, fmt.Errorf("invalid integrity sweep schedule %q: %w", cfg.IntegritySweepCron, err)
		}
	}
	if indexer == nil || !indexer.IsHNSWEnabled() {
		return s, nil
	}
	if cfg.IndexRebuildCron != "" {
		if _, err := cron.Cron(cfg.IndexRebuildCron).Do(s.runIndexRebuild); err != nil {
			return nil, fmt.Errorf("invalid index rebuild schedule %q: %w", cfg.IndexRebuildCron, err)
		}
	}
	if cfg.IndexSaveCron != "" {
		if _, err := cron.Cron(cfg.IndexSaveCron).Do(s.runIndexSave); err != nil {
			return nil, fmt.Errorf("invalid index save schedule %q: %w", cfg.IndexSaveCron, err)
		}
	}

	return s, nil
}

// Start runs the jobs in the background.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.cron.StartAsync()
	s.running = true
}

// Stop stops the scheduler, waiting for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.cron.Stop()
	s.running = false
}

// JobCount returns the number of registered jobs.
func (s *Scheduler) JobCount() int {
	return len(s.cron.Jobs())
}

// SweepEmptyPeople removes every person without descriptors and returns how
// many were removed. Each removal is reported as an integrity event. A person
// that received a descriptor after being listed is left alone.
func (s *Scheduler) SweepEmptyPeople(ctx context.Context) (int, error) {
	ids, err := s.gallery.FindEmptyPeople(ctx)
	if err != nil {
		return 0, fmt.Errorf("finding empty people: %w", err)
	}

	removed := 0
	for _, id := range ids {
		ok, err := s.gallery.RemovePersonIfEmpty(ctx, id)
		if err != nil {
			return removed, fmt.Errorf("removing empty person %s: %w", id, err)
		}
		if !ok {
			continue
		}
		s.ops.Report(ctx, ops.EventSweepRemoved, nil, "person_id", id)
		removed++
	}
	return removed, nil
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	removed, err := s.SweepEmptyPeople(ctx)
	if err != nil {
		s.ops.Report(ctx, ops.EventSchedulerFailure, err, "job", "integrity_sweep")
		return
	}
	if removed > 0 {
		log.Printf("Integrity sweep removed %d people without descriptors", removed)
	}
}

// runIndexRebuild rebuilds the candidate index from the store, dropping the
// nodes of removed people.
func (s *Scheduler) runIndexRebuild() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	if err := s.indexer.RebuildHNSW(ctx); err != nil {
		s.ops.Report(ctx, ops.EventSchedulerFailure, err, "job", "index_rebuild")
		return
	}
	log.Printf("Candidate index rebuilt with %d descriptors", s.indexer.HNSWCount())
}

func (s *Scheduler) runIndexSave() {
	if err := s.indexer.SaveHNSWIndex(); err != nil {
		s.ops.Report(context.Background(), ops.EventSchedulerFailure, err, "job", "index_save")
	}
}
