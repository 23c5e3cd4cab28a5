package scheduler

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/darkodi/terabox-bot/internal/logger"
)

// Scheduler runs the periodic maintenance jobs
type Scheduler struct {
	cron *cron.Cron
	log  *logger.Logger
}

// New creates a scheduler with panic recovery and per-run logging
func New(log *logger.Logger) *Scheduler {
	c := cron.New(
		cron.WithLogger(cronLogger{log}),
		cron.WithChain(
			recoverWrapper(log),
			cron.SkipIfStillRunning(cronLogger{log}),
		),
	)
	return &Scheduler{cron: c, log: log}
}

// Add registers job under a cron schedule, e.g. "@every 30m"
func (s *Scheduler) Add(name, schedule string, job func(ctx context.Context) error) error {
	_, err := s.cron.AddFunc(schedule, func() {
		runID := uuid.NewString()
		log := s.log.With().Str("job", name).Str("run_id", runID).Logger()

		start := time.Now()
		if err := job(context.Background()); err != nil {
			log.Warn().Err(err).Dur("duration", time.Since(start)).Msg("job failed")
			return
		}
		log.Debug().Dur("duration", time.Since(start)).Msg("job finished")
	})
	if err != nil {
		return fmt.Errorf("schedule %s (%q): %w", name, schedule, err)
	}

	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("job registered")
	return nil
}

// Start runs the scheduler in the background
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop waits for running jobs to finish
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info().Msg("scheduler stopped")
}

func recoverWrapper(log *logger.Logger) cron.JobWrapper {
	return func(j cron.Job) cron.Job {
		return cron.FuncJob(func() {
			defer func() {
				if r := recover(); r != nil {
					log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("job panicked")
				}
			}()
			j.Run()
		})
	}
}

// cronLogger adapts the zerolog logger to cron.Logger
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
