// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
	"lendingdesk/internal/notification"
	"lendingdesk/internal/store"
	"lendingdesk/internal/waitlist"
)

// Desk is an in-memory lending desk wired the way cmd/api wires a real one,
// with a fault injector between the service and its store.
type Desk struct {
	Service circulation.Service
	Coord   *circulation.Coordinator
	Saved   *store.MemoryStore
	Faulty  *store.Faulty
	Breaker *store.Breaker
}

// NewDesk builds a desk whose store breaker reopens after openTimeout.
func NewDesk(logger *slog.Logger, openTimeout time.Duration) *Desk {
	if logger == nil {
		logger = slog.Default()
	}
	saved := store.NewMemoryStore()
	faulty := store.NewFaulty(saved)
	breaker := store.NewBreaker("chaos-store", faulty, store.BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: openTimeout}, logger)
	coord := circulation.NewCoordinator(catalog.New(), waitlist.NewRegistry(), notification.NewBus(), circulation.WithLogger(logger))
	return &Desk{
		Service: circulation.NewService(coord, breaker, circulation.WithServiceLogger(logger)),
		Coord:   coord,
		Saved:   saved,
		Faulty:  faulty,
		Breaker: breaker,
	}
}

// RegisterExperiments registers all predefined experiments against desk.
func (e *Engine) RegisterExperiments(desk *Desk) {
	e.Register(ConcurrentLoanRace(desk, 100, 3))
	e.Register(ReturnStorm(desk, 10, 25))
	e.Register(PersistenceOutage(desk, 20))
}

func reader(prefix string, i int) string {
	return fmt.Sprintf("%s-%03d", prefix, i)
}

func seed(ctx context.Context, desk *Desk, title string, copies int) error {
	_, err := desk.Service.AddBook(ctx, catalog.Book{Title: title, Author: "Chaos Monkey", Genre: "Test", Year: 2024, TotalCopies: copies})
	return err
}

// invariantViolations counts the problems reported by Coordinator.Audit.
func invariantViolations(desk *Desk) Metric {
	return Metric{
		Name: "invariant_violations",
		Query: func(ctx context.Context) (float64, error) {
			return float64(len(desk.Coord.Audit())), nil
		},
		Threshold: Threshold{Operator: "==", Value: 0},
	}
}

// ConcurrentLoanRace fires concurrency loans at one title with copies
// copies and checks that exactly copies of them are lent while everyone
// else is queued once.
func ConcurrentLoanRace(desk *Desk, concurrency, copies int) Experiment {
	title := fmt.Sprintf("Race Condition %d", concurrency)

	return Experiment{
		Name:       "concurrent-loan-race",
		Hypothesis: "No title is ever lent beyond its copies when many readers borrow it at once",
		SteadyState: []Metric{
			invariantViolations(desk),
		},
		Method: []Action{
			{
				Type:    "seed",
				Target:  "catalog",
				Execute: func(ctx context.Context) error { return seed(ctx, desk, title, copies) },
			},
			{
				Type:   "concurrent-requests",
				Target: "lending-coordinator",
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					errs := make(chan error, concurrency)
					for i := 0; i < concurrency; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							_, err := desk.Service.Loan(ctx, title, reader("racer", i))
							var waited *circulation.WaitlistedError
							if err != nil && !errors.As(err, &waited) {
								errs <- err
							}
						}(i)
					}
					wg.Wait()
					close(errs)

					var all []error
					for err := range errs {
						all = append(all, err)
					}
					return errors.Join(all...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "invariant_violations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Copy counts must match the readers holding the title",
			},
			{
				Metric:    "lent_copies",
				Condition: func(v float64) bool { return int(v) == copies },
				Message:   "Every copy should be lent and none beyond",
			},
			{
				Metric:    "queued_readers",
				Condition: func(v float64) bool { return int(v) == concurrency-copies },
				Message:   "Every reader who missed out should be queued exactly once",
			},
		},
		Duration:    200 * time.Millisecond,
		SampleEvery: 50 * time.Millisecond,
	}.withMetrics(
		Metric{
			Name: "lent_copies",
			Query: func(ctx context.Context) (float64, error) {
				book, err := desk.Coord.GetBook(title)
				if errors.Is(err, catalog.ErrNotFound) {
					return 0, nil
				}
				return float64(book.LoanedCopies), err
			},
			Threshold: Threshold{Operator: "<=", Value: float64(copies)},
		},
		Metric{
			Name: "queued_readers",
			Query: func(ctx context.Context) (float64, error) {
				return float64(len(desk.Coord.Waitlist(title))), nil
			},
			Threshold: Threshold{Operator: "<=", Value: float64(concurrency - copies)},
		},
	)
}

// ReturnStorm lends every copy of a title, queues waiters behind it and then
// returns all copies at once. Each return hands the title to exactly one
// waiter.
func ReturnStorm(desk *Desk, copies, waiters int) Experiment {
	title := fmt.Sprintf("Return Storm %d", copies)
	expectQueued := max(0, waiters-copies)

	return Experiment{
		Name:       "return-storm",
		Hypothesis: "Concurrent returns each notify one distinct waiter in line order",
		SteadyState: []Metric{
			invariantViolations(desk),
		},
		Method: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					if err := seed(ctx, desk, title, copies); err != nil {
						return err
					}
					for i := 0; i < copies; i++ {
						if _, err := desk.Service.Loan(ctx, title, reader("holder", i)); err != nil {
							return err
						}
					}
					for i := 0; i < waiters; i++ {
						if _, err := desk.Service.JoinWaitlist(ctx, title, reader("waiter", i)); err != nil {
							return err
						}
					}
					return nil
				},
			},
			{
				Type:   "concurrent-returns",
				Target: "lending-coordinator",
				Execute: func(ctx context.Context) error {
					var wg sync.WaitGroup
					errs := make([]error, copies)
					for i := 0; i < copies; i++ {
						wg.Add(1)
						go func(i int) {
							defer wg.Done()
							errs[i] = desk.Service.Return(ctx, title, reader("holder", i))
						}(i)
					}
					wg.Wait()
					return errors.Join(errs...)
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "invariant_violations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Copy counts must match the readers holding the title",
			},
			{
				Metric:    "notified_waiters",
				Condition: func(v float64) bool { return int(v) == min(copies, waiters) },
				Message:   "Each return should notify exactly one waiter",
			},
			{
				Metric:    "queued_readers",
				Condition: func(v float64) bool { return int(v) == expectQueued },
				Message:   "Notified waiters should leave the queue",
			},
		},
		Duration:    200 * time.Millisecond,
		SampleEvery: 50 * time.Millisecond,
	}.withMetrics(
		Metric{
			Name: "notified_waiters",
			Query: func(ctx context.Context) (float64, error) {
				notified := 0
				for i := 0; i < waiters; i++ {
					for _, n := range desk.Coord.Notifications().Inbox(reader("waiter", i)) {
						if n.Kind == notification.KindAvailable && n.BookTitle == title {
							notified++
						}
					}
				}
				return float64(notified), nil
			},
			Threshold: Threshold{Operator: "<=", Value: float64(min(copies, waiters))},
		},
		Metric{
			Name: "queued_readers",
			Query: func(ctx context.Context) (float64, error) {
				return float64(len(desk.Coord.Waitlist(title))), nil
			},
			Threshold: Threshold{Operator: "<=", Value: float64(waiters)},
		},
	)
}

// PersistenceOutage fails the store while loans keep arriving. In-memory
// state must stay consistent, the breaker must stop hammering the store and
// the first commit after recovery must bring the store back in line.
func PersistenceOutage(desk *Desk, loans int) Experiment {
	title := fmt.Sprintf("Outage %d", loans)
	var callsDuringOutage int64

	return Experiment{
		Name:       "persistence-outage",
		Hypothesis: "Lending stays consistent through a store outage and storage catches up once it recovers",
		SteadyState: []Metric{
			invariantViolations(desk),
			{
				Name: "store_in_sync",
				Query: func(ctx context.Context) (float64, error) {
					return storeInSync(ctx, desk)
				},
				Threshold: Threshold{Operator: "==", Value: 1},
			},
		},
		Method: []Action{
			{
				Type:    "seed",
				Target:  "catalog",
				Execute: func(ctx context.Context) error { return seed(ctx, desk, title, loans+1) },
			},
			{
				Type:   "fail-store",
				Target: "store",
				Execute: func(ctx context.Context) error {
					desk.Faulty.SetFailing(true)
					before := desk.Faulty.Calls()
					for i := 0; i < loans; i++ {
						_, err := desk.Service.Loan(ctx, title, reader("outage", i))
						if !errors.Is(err, circulation.ErrPersistence) {
							return fmt.Errorf("loan during outage: want persistence error, got %v", err)
						}
					}
					callsDuringOutage = desk.Faulty.Calls() - before
					return nil
				},
			},
		},
		Rollback: []Action{
			{
				Type:   "restore-store",
				Target: "store",
				Execute: func(ctx context.Context) error {
					desk.Faulty.SetFailing(false)
					return nil
				},
			},
			{
				Type:   "probe",
				Target: "lending-coordinator",
				Execute: func(ctx context.Context) error {
					// Retry until the breaker lets a commit through.
					deadline := time.Now().Add(5 * time.Second)
					for {
						_, err := desk.Service.Loan(ctx, title, "probe")
						if err == nil {
							return desk.Service.Return(ctx, title, "probe")
						}
						if !errors.Is(err, circulation.ErrPersistence) || time.Now().After(deadline) {
							return err
						}
						if err := desk.Service.Return(ctx, title, "probe"); err != nil && !errors.Is(err, circulation.ErrPersistence) {
							return err
						}
						time.Sleep(20 * time.Millisecond)
					}
				},
			},
		},
		Validation: []Assertion{
			{
				Metric:    "invariant_violations",
				Condition: func(v float64) bool { return v == 0 },
				Message:   "Copy counts must match the readers holding the title",
			},
			{
				Metric:    "store_in_sync",
				Condition: func(v float64) bool { return v == 1 },
				Message:   "The store should match memory after recovery",
			},
			{
				Metric:    "store_calls_during_outage",
				Condition: func(v float64) bool { return v < float64(2*loans) },
				Message:   "The breaker should keep most commits away from a failing store",
			},
		},
		Duration:    200 * time.Millisecond,
		SampleEvery: 50 * time.Millisecond,
	}.withMetrics(
		Metric{
			Name: "store_calls_during_outage",
			Query: func(ctx context.Context) (float64, error) {
				return float64(callsDuringOutage), nil
			},
			Threshold: Threshold{Operator: ">=", Value: 0},
		},
	)
}

// storeInSync is 1 when the saved catalog and loans equal the live ones.
func storeInSync(ctx context.Context, desk *Desk) (float64, error) {
	books, loans := desk.Coord.Snapshot()
	savedBooks, err := desk.Saved.LoadCatalog(ctx)
	if err != nil {
		return 0, err
	}
	savedLoans, err := desk.Saved.LoadLoans(ctx)
	if err != nil {
		return 0, err
	}
	if len(books) != len(savedBooks) || len(loans) != len(savedLoans) {
		return 0, nil
	}
	for i := range books {
		if books[i] != savedBooks[i] {
			return 0, nil
		}
	}
	for i := range loans {
		a, b := loans[i], savedLoans[i]
		if a.Title != b.Title || a.User != b.User || !a.LentAt.Equal(b.LentAt) || !a.DueAt.Equal(b.DueAt) || a.DueNotified != b.DueNotified {
			return 0, nil
		}
	}
	return 1, nil
}

func (exp Experiment) withMetrics(metrics ...Metric) Experiment {
	exp.SteadyState = append(exp.SteadyState, metrics...)
	return exp
}
