package service

import (
	"context"
	"sync"
	"time"

	"truckcount-api/internal/logger"
)

// SyncConfig holds configuration for the sync scheduler.
type SyncConfig struct {
	// Interval is how often today's totals are recomputed. Zero disables the scheduler.
	Interval time.Duration

	// Timeout bounds one sync run.
	// Default: 1 minute
	Timeout time.Duration
}

// SyncScheduler periodically recomputes today's daily summaries.
type SyncScheduler struct {
	summaries *SummaryService
	config    SyncConfig
	ticker    *time.Ticker
	stopCh    chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	isRunning bool
	mu        sync.Mutex
}

// NewSyncScheduler creates a new sync scheduler.
func NewSyncScheduler(summaries *SummaryService, config SyncConfig) *SyncScheduler {
	if config.Timeout <= 0 {
		config.Timeout = time.Minute
	}
	return &SyncScheduler{
		summaries: summaries,
		config:    config,
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start runs one sync immediately and then every interval. It is a no-op
// when the interval is zero or the scheduler is already running.
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.isRunning || s.config.Interval <= 0 {
		s.mu.Unlock()
		return
	}
	select {
	case <-s.stopCh:
		s.mu.Unlock()
		return
	default:
	}
	s.isRunning = true
	s.ticker = time.NewTicker(s.config.Interval)
	s.mu.Unlock()

	logger.Info("sync scheduler started", "component", "scheduler", "interval", s.config.Interval.String())
	go s.run()
}

func (s *SyncScheduler) run() {
	defer close(s.done)

	s.RunNow()
	for {
		select {
		case <-s.ticker.C:
			s.RunNow()
		case <-s.stopCh:
			logger.Info("sync scheduler stopped", "component", "scheduler")
			return
		}
	}
}

// RunNow performs one sync of today's totals and returns the number of rows.
func (s *SyncScheduler) RunNow() int {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Timeout)
	defer cancel()

	summaries, err := s.summaries.SyncToday(ctx)
	if err != nil {
		logger.Error("scheduled sync failed", "component", "scheduler", "error", err)
		return 0
	}
	return len(summaries)
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *SyncScheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		running := s.isRunning
		if s.ticker != nil {
			s.ticker.Stop()
		}
		close(s.stopCh)
		s.isRunning = false
		s.mu.Unlock()

		if running {
			<-s.done
		}
	})
}
