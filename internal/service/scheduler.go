package service

import (
	"context"
	"sync"
	"time"

	"wadispatch/internal/database"

	"github.com/sirupsen/logrus"
)

// Job is one periodic unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a job on a fixed interval until stopped.
type Scheduler struct {
	name     string
	interval time.Duration
	job      Job
	logger   *logrus.Logger
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewScheduler(name string, interval time.Duration, job Job, logger *logrus.Logger) *Scheduler {
	if interval <= 0 {
		interval = time.Minute
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Scheduler{
		name:     name,
		interval: interval,
		job:      job,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs the job once immediately, then on every tick. It blocks until ctx
// is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.WithFields(logrus.Fields{"scheduler": s.name, "interval": s.interval.String()}).Info("Starting scheduler")

	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.WithField("scheduler", s.name).Info("Scheduler context cancelled, stopping")
			return
		case <-s.stopCh:
			s.logger.WithField("scheduler", s.name).Info("Scheduler stop signal received, stopping")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce runs the job a single time and logs the outcome.
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()
	if err := s.job(ctx); err != nil {
		s.logger.WithError(err).WithField("scheduler", s.name).Error("Scheduled job failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"scheduler":      s.name,
		LogFieldDuration: time.Since(start).Milliseconds(),
	}).Debug("Scheduled job completed")
}

// Sweeper deletes expired items from every table.
type Sweeper struct {
	store  database.DocumentStore
	logger *logrus.Logger
	now    func() time.Time
}

func NewSweeper(store database.DocumentStore, logger *logrus.Logger) *Sweeper {
	if logger == nil {
		logger = logrus.New()
	}
	return &Sweeper{store: store, logger: logger, now: time.Now}
}

// Sweep removes items whose TTL attribute is in the past.
func (s *Sweeper) Sweep(ctx context.Context) (int64, error) {
	removed, err := s.store.DeleteExpired(ctx, s.now())
	if err != nil {
		return removed, err
	}
	if removed > 0 {
		s.logger.WithField(LogFieldCount, removed).Info("Expired items removed")
	}
	return removed, nil
}
