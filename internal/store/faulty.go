// internal/store/faulty.go
package store

import (
	"context"
	"errors"
	"sync/atomic"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
)

var ErrInjected = errors.New("injected store failure")

// Faulty wraps a store and fails every call while failures are switched on.
// It backs the persistence outage experiment.
type Faulty struct {
	next    circulation.Store
	failing atomic.Bool
	calls   atomic.Int64
}

func NewFaulty(next circulation.Store) *Faulty {
	return &Faulty{next: next}
}

// SetFailing switches injected failures on or off.
func (f *Faulty) SetFailing(on bool) {
	f.failing.Store(on)
}

// Calls returns how many calls reached this store.
func (f *Faulty) Calls() int64 {
	return f.calls.Load()
}

func (f *Faulty) check() error {
	f.calls.Add(1)
	if f.failing.Load() {
		return ErrInjected
	}
	return nil
}

func (f *Faulty) LoadCatalog(ctx context.Context) ([]catalog.Book, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.next.LoadCatalog(ctx)
}

func (f *Faulty) LoadLoans(ctx context.Context) ([]circulation.Loan, error) {
	if err := f.check(); err != nil {
		return nil, err
	}
	return f.next.LoadLoans(ctx)
}

func (f *Faulty) SaveSnapshot(ctx context.Context, books []catalog.Book, loans []circulation.Loan) error {
	if err := f.check(); err != nil {
		return err
	}
	return f.next.SaveSnapshot(ctx, books, loans)
}
