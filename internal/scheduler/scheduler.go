// Package scheduler runs configured commands periodically against their
// servers.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/energizer-project/rconsole/internal/config"
	"github.com/energizer-project/rconsole/internal/dispatch"
	"github.com/energizer-project/rconsole/internal/events"
	"github.com/energizer-project/rconsole/internal/util"
)

// Runner executes one-shot commands.
type Runner interface {
	Run(ctx context.Context, server, command string, opts dispatch.RunOptions) (dispatch.Result, error)
}

// Scheduler manages one loop per schedule. Every tick opens a fresh
// session, so a failing server does not affect other schedules.
type Scheduler struct {
	schedules []config.ScheduleConfig
	runner    Runner
	logger    zerolog.Logger
}

// NewScheduler creates a scheduler for the given schedules.
func NewScheduler(schedules []config.ScheduleConfig, runner Runner) *Scheduler {
	return &Scheduler{
		schedules: schedules,
		runner:    runner,
		logger:    util.ComponentLogger("scheduler"),
	}
}

// Start runs every schedule and blocks until ctx is cancelled and all
// in-flight commands have returned.
func (s *Scheduler) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for _, sc := range s.schedules {
		if sc.Interval() <= 0 {
			s.logger.Warn().Str("schedule", sc.Name).Msg("schedule has no interval, skipping")
			continue
		}
		wg.Add(1)
		go func(sc config.ScheduleConfig) {
			defer wg.Done()
			s.loop(ctx, sc)
		}(sc)
	}

	s.logger.Info().Int("schedules", len(s.schedules)).Msg("scheduler started")
	<-ctx.Done()
	wg.Wait()
	s.logger.Info().Msg("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, sc config.ScheduleConfig) {
	ticker := time.NewTicker(sc.Interval())
	defer ticker.Stop()

	s.logger.Debug().
		Str("schedule", sc.Name).
		Str("server", sc.Server).
		Dur("interval", sc.Interval()).
		Msg("schedule registered")

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runOnce(ctx, sc)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, sc config.ScheduleConfig) {
	segmented := sc.Segmented
	res, err := s.runner.Run(ctx, sc.Server, sc.Command, dispatch.RunOptions{
		Segmented: &segmented,
		Trigger:   events.TriggerScheduler,
	})
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn().Err(err).Str("schedule", sc.Name).Str("server", sc.Server).Msg("scheduled command failed")
		return
	}

	s.logger.Info().
		Str("schedule", sc.Name).
		Str("server", sc.Server).
		Int("bytes", len(res.Response.Body)).
		Dur("took", res.Duration).
		Msg("scheduled command executed")
}
