package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Pruner removes day directories older than the retention window.
type Pruner struct {
	dir           string
	retentionDays int
	index         *Index
	now           func() time.Time
}

// NewPruner creates a pruner for dir. idx may be nil.
func NewPruner(dir string, retentionDays int, idx *Index) *Pruner {
	return &Pruner{dir: dir, retentionDays: retentionDays, index: idx, now: time.Now}
}

// Cutoff returns the oldest day (YYYYMMDD) that is kept.
func (p *Pruner) Cutoff() string {
	return p.now().AddDate(0, 0, -p.retentionDays).Format(DateLayout)
}

// Prune deletes every day directory before Cutoff and returns how many were
// removed. retentionDays <= 0 disables pruning.
func (p *Pruner) Prune(ctx context.Context) (int, error) {
	if p.retentionDays <= 0 {
		return 0, nil
	}
	cutoff := p.Cutoff()

	entries, err := os.ReadDir(p.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read capture dir: %w", err)
	}

	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if !e.IsDir() || !isDayDir(e.Name()) || e.Name() >= cutoff {
			continue
		}
		path := filepath.Join(p.dir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Error().Err(err).Str("path", path).Msg("retention: failed to remove day dir")
			continue
		}
		removed++
		log.Debug().Str("path", path).Msg("retention: removed day dir")
	}

	if p.index != nil {
		if _, err := p.index.DeleteBefore(ctx, cutoff); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

func isDayDir(name string) bool {
	if len(name) != len(DateLayout) {
		return false
	}
	_, err := time.ParseInLocation(DateLayout, name, time.Local)
	return err == nil
}

// =============================================================================
// SCHEDULER
// =============================================================================

// Scheduler runs a Pruner on a cron schedule.
type Scheduler struct {
	pruner   *Pruner
	schedule string
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
}

// NewScheduler creates a scheduler. An empty schedule disables it.
func NewScheduler(pruner *Pruner, schedule string) *Scheduler {
	return &Scheduler{
		pruner:   pruner,
		schedule: schedule,
		cron:     cron.New(),
	}
}

// Start registers the prune job and starts the cron loop. The scheduler
// stops on its own when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		log.Info().Msg("retention: prune schedule not configured, skipping scheduler")
		return nil
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}
	if _, err := s.cron.AddFunc(s.schedule, func() { s.run(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}

	s.cron.Start()
	s.running = true
	log.Info().
		Str("schedule", s.schedule).
		Int("retention_days", s.pruner.retentionDays).
		Msg("retention scheduler started")

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) run(ctx context.Context) {
	removed, err := s.pruner.Prune(ctx)
	if err != nil {
		log.Error().Err(err).Msg("retention: scheduled pruning failed")
		return
	}
	if removed > 0 {
		log.Info().Int("removed_days", removed).Msg("retention: scheduled pruning completed")
	}
}

// Stop stops the scheduler and waits for a running prune to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		<-s.cron.Stop().Done()
		s.running = false
		log.Info().Msg("retention scheduler stopped")
	}
}

// IsRunning reports whether the cron loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// NextRun returns the next scheduled prune, or nil when not scheduled.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}
