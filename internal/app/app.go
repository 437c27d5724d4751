package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ledger-service/internal/config"
	"ledger-service/internal/database"
	"ledger-service/internal/notify"
	"ledger-service/internal/services"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// App holds the services shared by the server, the worker and the CLI.
type App struct {
	Config        *config.Config
	Log           zerolog.Logger
	DB            *gorm.DB
	Location      *time.Location
	MinWithdrawal decimal.Decimal

	// Origin identifies this process on published balance events.
	Origin string

	Hub    *notify.Hub
	Broker *notify.Broker

	Transactions *services.TransactionService
	Ledger       *services.LedgerService
	Approvals    *services.ApprovalService
	Earnings     *services.EarningsService
	Summary      *services.SummaryService

	closers []func() error
}

// New connects to the database, migrates it and builds the services. A
// configured but unreachable broker is logged and skipped.
func New(cfg *config.Config, log zerolog.Logger) (*App, error) {
	rate, err := cfg.Ledger.Rate()
	if err != nil {
		return nil, err
	}
	minWithdrawal, err := cfg.Ledger.MinWithdrawal()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Ledger.Location()
	if err != nil {
		return nil, err
	}

	db, err := database.Connect(cfg.Database)
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(db); err != nil {
		database.Close(db)
		return nil, err
	}

	a := &App{
		Config:        cfg,
		Log:           log,
		DB:            db,
		Location:      loc,
		MinWithdrawal: minWithdrawal,
		Origin:        uuid.NewString(),
		Broker:        notify.NewBroker(0),
		closers:       []func() error{func() error { return database.Close(db) }},
	}
	a.Hub = notify.NewHub(log.With().Str("component", "notify").Logger(), a.Broker)

	if cfg.AMQP.URI != "" {
		pub, err := notify.DialAMQP(cfg.AMQP.URI, cfg.AMQP.Exchange)
		if err != nil {
			log.Warn().Err(err).Msg("balance events will not be published to the broker")
		} else {
			pub.Origin = a.Origin
			a.Hub.Register(pub)
			a.closers = append(a.closers, func() error { pub.Close(); return nil })
			log.Info().Str("exchange", cfg.AMQP.Exchange).Msg("publishing balance events")
		}
	}

	a.Transactions = services.NewTransactionService(db)
	a.Ledger = services.NewLedgerService(db, a.Hub, log.With().Str("component", "ledger").Logger())

	a.Approvals = services.NewApprovalService(a.Ledger, a.Transactions, log.With().Str("component", "approvals").Logger())
	a.Approvals.Location = loc

	a.Earnings = services.NewEarningsService(a.Ledger, a.Transactions, rate, log.With().Str("component", "earnings").Logger())
	a.Earnings.Location = loc

	a.Summary = services.NewSummaryService(db, a.Ledger)
	a.Summary.Location = loc
	return a, nil
}

// FeedBrokerFromAMQP forwards balance events published by other processes to
// the local broker, so streams also see credits made by the queue worker.
// It does nothing when no broker URI is configured.
func (a *App) FeedBrokerFromAMQP(ctx context.Context) error {
	if a.Config.AMQP.URI == "" {
		return nil
	}
	c, err := notify.DialAMQPConsumer(a.Config.AMQP.URI, a.Config.AMQP.Exchange, a.Origin, a.Broker,
		a.Log.With().Str("component", "notify").Logger())
	if err != nil {
		return fmt.Errorf("consume balance events: %w", err)
	}
	a.closers = append(a.closers, func() error { c.Close(); return nil })
	c.Start(ctx)
	a.Log.Info().Str("exchange", a.Config.AMQP.Exchange).Msg("consuming balance events")
	return nil
}

// Close ends broker subscriptions and releases connections in reverse order.
func (a *App) Close() error {
	a.Broker.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close app: %w", errors.Join(errs...))
	}
	return nil
}
