package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const EventBalanceUpdate = "balance:update"

type RecentEntry struct {
	Date    time.Time       `json:"date"`
	Action  string          `json:"action"`
	Amount  decimal.Decimal `json:"amount"`
	Balance decimal.Decimal `json:"balance"`
}

// BalanceEvent is emitted after every committed balance mutation.
type BalanceEvent struct {
	UserID         string          `json:"userId"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	LastUpdated    time.Time       `json:"lastUpdated"`
	RecentEntry    *RecentEntry    `json:"recentEntry,omitempty"`
}

type Observer interface {
	Notify(ctx context.Context, ev BalanceEvent) error
}

type ObserverFunc func(ctx context.Context, ev BalanceEvent) error

func (f ObserverFunc) Notify(ctx context.Context, ev BalanceEvent) error {
	return f(ctx, ev)
}

// Hub fans an event out to every registered observer in registration order.
// A failing or panicking observer does not stop the others.
type Hub struct {
	mu        sync.RWMutex
	observers []Observer
	log       zerolog.Logger
}

func NewHub(log zerolog.Logger, observers ...Observer) *Hub {
	return &Hub{observers: observers, log: log}
}

func (h *Hub) Register(o Observer) {
	h.mu.Lock()
	h.observers = append(h.observers, o)
	h.mu.Unlock()
}

func (h *Hub) Notify(ctx context.Context, ev BalanceEvent) error {
	h.mu.RLock()
	observers := make([]Observer, len(h.observers))
	copy(observers, h.observers)
	h.mu.RUnlock()

	var errs []error
	for _, o := range observers {
		if err := h.deliver(ctx, o, ev); err != nil {
			h.log.Warn().Err(err).Str("user_id", ev.UserID).Msg("balance observer failed")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (h *Hub) deliver(ctx context.Context, o Observer, ev BalanceEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("observer panic: %v", r)
		}
	}()
	return o.Notify(ctx, ev)
}
