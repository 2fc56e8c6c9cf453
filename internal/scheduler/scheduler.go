// Package scheduler drives the periodic per-source refresh cycles. Each
// source gets its own job at its configured interval; a job that is still
// running when its next tick arrives is not run again concurrently.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/couchcryptid/disaster-feed-service/internal/aggregator"
)

// Scheduler owns the gocron instance and the per-source refresh jobs.
type Scheduler struct {
	scheduler *gocron.Scheduler
	service   *aggregator.Service
	logger    *slog.Logger
}

// New creates a Scheduler for the service's registered sources.
func New(service *aggregator.Service, logger *slog.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	return &Scheduler{
		scheduler: s,
		service:   service,
		logger:    logger,
	}
}

// Start registers one job per source and begins running them asynchronously.
// Every job also fires once immediately so feeds populate at startup instead
// of after the first interval.
func (s *Scheduler) Start() error {
	sources := s.service.Sources()
	if len(sources) == 0 {
		s.logger.Warn("no sources configured, nothing to schedule")
		return nil
	}

	for _, spec := range sources {
		name := spec.Name
		_, err := s.scheduler.Every(spec.Interval).StartImmediately().Do(func() {
			if err := s.service.RunSource(context.Background(), name); err != nil {
				s.logger.Error("scheduled refresh failed", "source", name, "error", err)
			}
		})
		if err != nil {
			return err
		}
		s.logger.Info("source scheduled", "source", name, "interval", spec.Interval)
	}

	s.scheduler.StartAsync()
	return nil
}

// Stop halts all jobs. Running jobs finish; no new ones start.
func (s *Scheduler) Stop() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
