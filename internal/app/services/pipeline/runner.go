package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/veritrace/platform/internal/app/domain/pipeline"
	"github.com/veritrace/platform/internal/app/system"
	"github.com/veritrace/platform/internal/config"
	"github.com/veritrace/platform/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

// scheduleRunTimeout bounds a single scheduled pipeline execution.
const scheduleRunTimeout = 10 * time.Minute

// Scheduler runs configured pipelines on cron schedules.
type Scheduler struct {
	service   *Service
	schedules []config.ScheduleConfig
	log       *logger.Logger

	mu      sync.Mutex
	cron    *cron.Cron
	running bool
}

// NewScheduler creates a lifecycle-managed pipeline scheduler.
func NewScheduler(service *Service, schedules []config.ScheduleConfig, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("pipeline-scheduler")
	}
	return &Scheduler{
		service:   service,
		schedules: schedules,
		log:       log,
	}
}

func (s *Scheduler) Name() string { return "pipeline-scheduler" }

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	c := cron.New()
	for _, sched := range s.schedules {
		sched := sched
		if _, err := c.AddFunc(sched.Spec, func() { s.fire(sched) }); err != nil {
			return fmt.Errorf("schedule %q: %w", sched.Name, err)
		}
	}
	c.Start()

	s.cron = c
	s.running = true
	s.log.WithField("schedules", len(s.schedules)).Info("pipeline scheduler started")
	return nil
}

func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c := s.cron
	s.cron = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("pipeline scheduler stopped")
	return nil
}

func (s *Scheduler) fire(sched config.ScheduleConfig) {
	ctx, cancel := context.WithTimeout(context.Background(), scheduleRunTimeout)
	defer cancel()

	run, err := s.service.Run(ctx, RunRequest{
		SourcePath: sched.Source,
		OutputPath: sched.Output,
		Branch:     sched.Branch,
		Trigger:    pipeline.TriggerSchedule,
	})
	if err != nil {
		s.log.WithError(err).
			WithField("schedule", sched.Name).
			Warn("scheduled pipeline run failed")
		return
	}
	s.log.WithField("schedule", sched.Name).
		WithField("run_id", run.ID).
		Info("scheduled pipeline run completed")
}
