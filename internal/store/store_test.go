// internal/store/store_test.go
package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
	"lendingdesk/internal/notification"
	"lendingdesk/internal/waitlist"
)

func sampleBooks() []catalog.Book {
	return []catalog.Book{
		{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1965, TotalCopies: 2, LoanedCopies: 1, TotalBorrows: 4},
		{Title: "Emma", Author: "Jane Austen", Genre: "Romance", Year: 1815, TotalCopies: 1},
	}
}

func sampleLoans() []circulation.Loan {
	lent := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	return []circulation.Loan{
		{Title: "Dune", User: "alice", LentAt: lent, DueAt: lent.Add(14 * 24 * time.Hour), DueNotified: true},
	}
}

func openSQLite(t *testing.T) *SQLStore {
	t.Helper()

	s, err := Open(context.Background(), DriverSQLite, filepath.Join(t.TempDir(), "lendingdesk.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLiteRoundTrip(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	books, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Empty(t, books)

	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))

	books, err = s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleBooks(), books)

	loans, err := s.LoadLoans(ctx)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	want := sampleLoans()[0]
	assert.Equal(t, want.Title, loans[0].Title)
	assert.Equal(t, want.User, loans[0].User)
	assert.True(t, want.LentAt.Equal(loans[0].LentAt))
	assert.True(t, want.DueAt.Equal(loans[0].DueAt))
	assert.True(t, loans[0].DueNotified)
}

func TestSQLiteSaveReplaces(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))
	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks()[1:], nil))

	books, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	require.Len(t, books, 1)
	assert.Equal(t, "Emma", books[0].Title)

	loans, err := s.LoadLoans(ctx)
	require.NoError(t, err)
	assert.Empty(t, loans)
}

func TestSQLiteRejectsBrokenCounts(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()

	broken := []catalog.Book{{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", TotalCopies: 1, LoanedCopies: 2}}
	assert.Error(t, s.SaveSnapshot(ctx, broken, nil))

	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))
	assert.Error(t, s.SaveSnapshot(ctx, broken, nil))

	books, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 2, "a failed save rolls back")
	loans, err := s.LoadLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, loans, 1, "a failed save rolls back")
}

func TestSQLiteSnapshotFailsAsOneUnit(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))

	// The books write succeeds; the loans write hits the primary key.
	books := sampleBooks()
	books[0].LoanedCopies = 2
	dup := sampleLoans()[0]
	err := s.SaveSnapshot(ctx, books, []circulation.Loan{dup, dup})
	require.Error(t, err)

	stored, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleBooks(), stored, "the catalog write is rolled back with the loans write")

	coord := circulation.NewCoordinator(catalog.New(), waitlist.NewRegistry(), notification.NewBus())
	require.NoError(t, circulation.Restore(ctx, coord, s))
	assert.Len(t, coord.CurrentLoans("alice"), 1)
	assert.Empty(t, coord.Audit())
}

func TestSQLiteReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "lendingdesk.db")
	ctx := context.Background()

	s, err := Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))
	require.NoError(t, s.Close())

	s, err = Open(ctx, DriverSQLite, path)
	require.NoError(t, err)
	defer s.Close()

	books, err := s.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 2)
}

func TestMemoryStoreCopies(t *testing.T) {
	m := NewMemoryStore(sampleBooks()...)
	ctx := context.Background()

	books, err := m.LoadCatalog(ctx)
	require.NoError(t, err)
	books[0].TotalCopies = 99

	again, _ := m.LoadCatalog(ctx)
	assert.Equal(t, 2, again[0].TotalCopies)

	require.NoError(t, m.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))
	loans, _ := m.LoadLoans(ctx)
	assert.Len(t, loans, 1)
}

func TestBreakerOpensAfterFailures(t *testing.T) {
	faulty := NewFaulty(NewMemoryStore())
	b := NewBreaker("test", faulty, BreakerSettings{ConsecutiveFailures: 2, OpenTimeout: time.Hour}, nil)
	ctx := context.Background()

	require.NoError(t, b.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))

	faulty.SetFailing(true)
	assert.ErrorIs(t, b.SaveSnapshot(ctx, nil, nil), ErrInjected)
	_, err := b.LoadLoans(ctx)
	assert.ErrorIs(t, err, ErrInjected)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	calls := faulty.Calls()
	faulty.SetFailing(false)
	_, err = b.LoadCatalog(ctx)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, calls, faulty.Calls(), "an open breaker does not reach the store")
}

func TestBreakerPassesResults(t *testing.T) {
	b := NewBreaker("test", NewMemoryStore(sampleBooks()...), BreakerSettings{}, nil)
	ctx := context.Background()

	books, err := b.LoadCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, books, 2)

	require.NoError(t, b.SaveSnapshot(ctx, sampleBooks(), sampleLoans()))
	loans, err := b.LoadLoans(ctx)
	require.NoError(t, err)
	assert.Len(t, loans, 1)
}

func TestStoreBacksLendingService(t *testing.T) {
	s := openSQLite(t)
	ctx := context.Background()
	require.NoError(t, s.SaveSnapshot(ctx, sampleBooks()[1:], nil))

	coord := circulation.NewCoordinator(catalog.New(), waitlist.NewRegistry(), notification.NewBus())
	require.NoError(t, circulation.Restore(ctx, coord, s))
	book, err := coord.GetBook("emma")
	require.NoError(t, err)
	assert.Equal(t, "Emma", book.Title)
}
