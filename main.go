package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ledger-service/internal/app"
	"ledger-service/internal/config"
	"ledger-service/internal/handlers"
	"ledger-service/internal/middleware"
	"ledger-service/internal/scheduler"
	"ledger-service/internal/worker"
	"ledger-service/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/hibiken/asynq"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	log := logger.NewWithConfig(cfg.Log)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialise ledger")
	}
	defer a.Close()

	// Accruals run through the queue when redis is configured, otherwise in process.
	var dispatcher scheduler.Dispatcher = scheduler.InlineDispatcher{Earnings: a.Earnings}
	if cfg.Redis.Addr != "" {
		redisOpt, err := worker.RedisOpt(cfg.Redis.Addr)
		if err != nil {
			log.Fatal().Err(err).Msg("invalid redis address")
		}
		client := asynq.NewClient(redisOpt)
		defer client.Close()
		queue := worker.NewQueueDispatcher(client, a.Location, log)
		a.Approvals.Retry = queue
		dispatcher = queue
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sched, err := scheduler.New(cfg.Ledger.AccrualSchedule, a.Location, dispatcher, log.With().Str("component", "scheduler").Logger())
	if err != nil {
		log.Fatal().Err(err).Msg("failed to schedule accruals")
	}
	sched.Start(ctx)

	if err := a.FeedBrokerFromAMQP(ctx); err != nil {
		log.Warn().Err(err).Msg("streams will only see balance changes made by this process")
	}

	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger(log))

	h := &handlers.Handler{
		Transactions:  a.Transactions,
		Ledger:        a.Ledger,
		Approvals:     a.Approvals,
		Summary:       a.Summary,
		Broker:        a.Broker,
		Accrual:       dispatcher,
		MinWithdrawal: a.MinWithdrawal,
		Log:           log,
	}
	h.RegisterRoutes(r, cfg.JWT)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("port", cfg.Server.Port).Str("next_accrual", sched.Next().String()).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	// streams hold their connections until the broker closes them
	a.Broker.Close()
	<-sched.Stop().Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
}
