package worker

import (
	"context"
	"encoding/json"
	"fmt"

	"ledger-service/internal/services"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

type Worker struct {
	Earnings *services.EarningsService
	Ledger   *services.LedgerService
	Log      zerolog.Logger
}

func NewWorker(earnings *services.EarningsService, ledger *services.LedgerService, log zerolog.Logger) *Worker {
	return &Worker{
		Earnings: earnings,
		Ledger:   ledger,
		Log:      log,
	}
}

func (w *Worker) logReport(run, day string, report *services.AccrualReport) {
	w.Log.Debug().
		Str("run", run).
		Str("day", day).
		Int("users", report.Users).
		Int("credited", report.Credited).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Str("total", report.Total.String()).
		Msg("accrual task finished")
}

// HandleDailyRewards credits today's daily reward. Credits already made
// today are skipped, so a retried task is harmless.
func (w *Worker) HandleDailyRewards(ctx context.Context, t *asynq.Task) error {
	var p AccrualPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	report, err := w.Earnings.EnsureDailyRewardsForToday(ctx)
	if err != nil {
		return err
	}
	w.logReport("daily-rewards", p.Day, report)
	return nil
}

// HandleCatchUp credits missed days and then today's reward for users the
// catch-up did not reach. Both steps run in this order in one task.
func (w *Worker) HandleCatchUp(ctx context.Context, t *asynq.Task) error {
	var p AccrualPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	report, err := w.Earnings.ProcessDailyEarnings(ctx)
	if err != nil {
		return err
	}
	w.logReport("catch-up", p.Day, report)

	report, err = w.Earnings.EnsureDailyRewardsForToday(ctx)
	if err != nil {
		return err
	}
	w.logReport("daily-rewards", p.Day, report)
	return nil
}

func (w *Worker) HandleRecompute(ctx context.Context, t *asynq.Task) error {
	var p RecomputePayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json.Unmarshal failed: %v: %w", err, asynq.SkipRetry)
	}
	if p.UserID == "" {
		return fmt.Errorf("recompute task without user id: %w", asynq.SkipRetry)
	}
	_, err := w.Ledger.Recompute(ctx, p.UserID)
	return err
}

func NewServeMux(w *Worker) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeDailyRewards, w.HandleDailyRewards)
	mux.HandleFunc(TypeCatchUp, w.HandleCatchUp)
	mux.HandleFunc(TypeRecompute, w.HandleRecompute)
	return mux
}

func NewServer(redisOpt asynq.RedisConnOpt, log zerolog.Logger) *asynq.Server {
	return asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				QueueCritical: 6,
				QueueDefault:  3,
				QueueLow:      1,
			},
			Logger: asynqLogger{log: log},
		},
	)
}

// StartWorker blocks until the server receives a shutdown signal.
func StartWorker(redisOpt asynq.RedisConnOpt, w *Worker) error {
	srv := NewServer(redisOpt, w.Log)
	if err := srv.Run(NewServeMux(w)); err != nil {
		return fmt.Errorf("could not run worker: %w", err)
	}
	return nil
}

// asynqLogger routes asynq's own logging through zerolog.
type asynqLogger struct {
	log zerolog.Logger
}

func (l asynqLogger) Debug(args ...interface{}) { l.log.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...interface{})  { l.log.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...interface{})  { l.log.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...interface{}) { l.log.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...interface{}) { l.log.Fatal().Msg(fmt.Sprint(args...)) }
