package scheduler

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/go-co-op/gocron"

	"go_market_ranking/services/cache"
	"go_market_ranking/services/pipeline"
)

// Scheduler manages the recurring jobs.
type Scheduler struct {
	cron       *gocron.Scheduler
	pipeline   *pipeline.Pipeline
	fetchCache *cache.Cache
	syncAt     string
}

// NewScheduler creates a scheduler that runs the sync pipeline daily at
// syncAt (HH:MM, UTC).
func NewScheduler(p *pipeline.Pipeline, c *cache.Cache, syncAt string) *Scheduler {
	return &Scheduler{
		cron:       gocron.NewScheduler(time.UTC),
		pipeline:   p,
		fetchCache: c,
		syncAt:     syncAt,
	}
}

// Start registers and starts all scheduled jobs.
func (s *Scheduler) Start() {
	log.Println("Starting scheduler...")

	// Daily scoring sync after market close
	if _, err := s.cron.Every(1).Day().At(s.syncAt).Do(s.runDailySync); err != nil {
		log.Printf("Error scheduling daily sync: %v", err)
	}

	// Drop expired cache entries hourly
	if _, err := s.cron.Every(1).Hour().Do(s.sweepCache); err != nil {
		log.Printf("Error scheduling cache sweep: %v", err)
	}

	s.cron.StartAsync()
	log.Println("Scheduler started successfully")
}

// Stop stops the scheduler.
func (s *Scheduler) Stop() {
	s.cron.Stop()
	log.Println("Scheduler stopped")
}

// runDailySync executes one full scoring cycle.
func (s *Scheduler) runDailySync() {
	log.Println("Running scheduled daily sync...")

	err := s.pipeline.RunOnce(context.Background())
	if errors.Is(err, pipeline.ErrRunInProgress) {
		log.Println("Skipping scheduled sync: a run is already in progress")
		return
	}
	if err != nil {
		log.Printf("Error running daily sync: %v", err)
	}
}

// sweepCache removes expired entries from both cache tiers.
func (s *Scheduler) sweepCache() {
	removed, err := s.fetchCache.SweepExpired()
	if err != nil {
		log.Printf("Error sweeping cache: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Cache sweep removed %d expired entries", removed)
	}
}
