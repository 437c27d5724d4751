package scheduler

import (
	"context"
	"fmt"
	"time"

	"ledger-service/internal/services"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

const runTimeout = 30 * time.Minute

// Dispatcher starts accrual runs. A catch-up run credits missed days and
// then today's reward.
type Dispatcher interface {
	DispatchDailyRewards(ctx context.Context) error
	DispatchCatchUp(ctx context.Context) error
}

// InlineDispatcher runs accruals in the calling goroutine. It is used when
// no queue is configured.
type InlineDispatcher struct {
	Earnings *services.EarningsService
}

func (d InlineDispatcher) DispatchDailyRewards(ctx context.Context) error {
	_, err := d.Earnings.EnsureDailyRewardsForToday(ctx)
	return err
}

func (d InlineDispatcher) DispatchCatchUp(ctx context.Context) error {
	if _, err := d.Earnings.ProcessDailyEarnings(ctx); err != nil {
		return err
	}
	_, err := d.Earnings.EnsureDailyRewardsForToday(ctx)
	return err
}

type Scheduler struct {
	cron       *cron.Cron
	dispatcher Dispatcher
	log        zerolog.Logger
}

// New registers the nightly accrual on schedule, a standard five field cron
// expression evaluated in loc. Each run credits missed days before today's
// reward, so a night that fails is recovered by the next one.
func New(schedule string, loc *time.Location, d Dispatcher, log zerolog.Logger) (*Scheduler, error) {
	cl := cronLogger{log: log}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		dispatcher: d,
		log:        log,
	}
	if _, err := s.cron.AddFunc(schedule, s.runDaily); err != nil {
		return nil, fmt.Errorf("schedule daily accrual %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Scheduler) runDaily() {
	ctx, cancel := context.WithTimeout(context.Background(), runTimeout)
	defer cancel()

	s.log.Info().Msg("running scheduled daily accrual")
	if err := s.dispatcher.DispatchCatchUp(ctx); err != nil {
		s.log.Error().Err(err).Msg("scheduled daily accrual failed")
	}
}

// CatchUp is run once at startup so days missed while the service was down
// are credited before the first scheduled run.
func (s *Scheduler) CatchUp(ctx context.Context) error {
	s.log.Info().Msg("running startup catch-up accrual")
	if err := s.dispatcher.DispatchCatchUp(ctx); err != nil {
		s.log.Error().Err(err).Msg("startup catch-up accrual failed")
		return err
	}
	return nil
}

// Start runs the startup catch-up in the background and starts the cron.
func (s *Scheduler) Start(ctx context.Context) {
	go func() {
		ctx, cancel := context.WithTimeout(ctx, runTimeout)
		defer cancel()
		_ = s.CatchUp(ctx)
	}()
	s.cron.Start()
	s.log.Info().Int("entries", len(s.cron.Entries())).Msg("accrual scheduler started")
}

// Stop stops the cron and returns a context that is done once a running job
// has finished.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Next is the time of the next scheduled run.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
