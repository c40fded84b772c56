// internal/store/breaker.go
package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
)

// BreakerSettings tunes the circuit breaker around a store.
type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker.
	ConsecutiveFailures uint32
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration
}

// Breaker fails fast with gobreaker.ErrOpenState while the wrapped store
// keeps failing, so lending calls are not held up by a dead database.
type Breaker struct {
	next circulation.Store
	cb   *gobreaker.CircuitBreaker
}

// NewBreaker wraps next with a circuit breaker named name.
func NewBreaker(name string, next circulation.Store, settings BreakerSettings, logger *slog.Logger) *Breaker {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 3
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("store breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	return &Breaker{next: next, cb: cb}
}

// State reports the current breaker state.
func (b *Breaker) State() gobreaker.State {
	return b.cb.State()
}

func (b *Breaker) LoadCatalog(ctx context.Context) ([]catalog.Book, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.LoadCatalog(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]catalog.Book), nil
}

func (b *Breaker) LoadLoans(ctx context.Context) ([]circulation.Loan, error) {
	v, err := b.cb.Execute(func() (interface{}, error) {
		return b.next.LoadLoans(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]circulation.Loan), nil
}

func (b *Breaker) SaveSnapshot(ctx context.Context, books []catalog.Book, loans []circulation.Loan) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.next.SaveSnapshot(ctx, books, loans)
	})
	return err
}
