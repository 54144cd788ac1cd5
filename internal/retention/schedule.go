package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the sweeper daily at a configured UTC hour. Runs never
// overlap: a tick that arrives while a sweep is in flight is skipped.
type Scheduler struct {
	cron    *cron.Cron
	sweeper *Sweeper
	logger  *zap.Logger
}

// NewScheduler builds the daily schedule. dryRun is forwarded to every
// scheduled sweep.
func NewScheduler(sweeper *Sweeper, hourUTC int, dryRun bool, logger *zap.Logger) (*Scheduler, error) {
	s := &Scheduler{sweeper: sweeper, logger: logger}
	s.cron = cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	expr := fmt.Sprintf("0 %d * * *", hourUTC)
	_, err := s.cron.AddFunc(expr, func() {
		if _, err := s.sweeper.RunSweep(context.Background(), dryRun); err != nil {
			s.logger.Error("scheduled retention sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule retention sweep: %w", err)
	}
	return s, nil
}

// Start begins firing scheduled sweeps.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the schedule and waits for an in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}
