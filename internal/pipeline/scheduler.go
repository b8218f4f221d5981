package pipeline

import (
	"context"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
)

// Scheduler triggers unattended acquisition runs on a cron expression.
// Ticks that arrive while a run is still in progress are dropped, so runs
// never overlap.
type Scheduler struct {
	pipeline *Pipeline
	spec     string
	logger   arbor.ILogger
	cron     *cron.Cron
	running  sync.Mutex
}

// NewScheduler creates a scheduler around the pipeline. The spec is a
// 6-field cron expression with a seconds column.
func NewScheduler(pipeline *Pipeline, spec string, logger arbor.ILogger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		spec:     spec,
		logger:   logger,
		cron:     cron.New(cron.WithSeconds()),
	}
}

// Start registers the job and runs the cron loop until the context is
// cancelled. The in-flight run is allowed to finish before Start returns.
func (s *Scheduler) Start(ctx context.Context) error {
	_, err := s.cron.AddFunc(s.spec, func() { s.tick(ctx) })
	if err != nil {
		return err
	}

	s.logger.Info().Str("cron", s.spec).Msg("Scheduler started")
	s.cron.Start()

	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	// Block until a run triggered just before shutdown has finished
	s.running.Lock()
	s.running.Unlock()

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

func (s *Scheduler) tick(ctx context.Context) {
	if !s.running.TryLock() {
		s.logger.Warn().Msg("Previous run still in progress, skipping tick")
		return
	}
	defer s.running.Unlock()

	if ctx.Err() != nil {
		return
	}
	if _, err := s.pipeline.Run(ctx); err != nil {
		s.logger.Error().Err(err).Msg("Scheduled run failed")
	}
}
