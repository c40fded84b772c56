// internal/circulation/implementation_test.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/notification"
)

type recordingStore struct {
	mu      sync.Mutex
	books   []catalog.Book
	loans   []Loan
	saves   int
	failing error
}

func (s *recordingStore) LoadCatalog(ctx context.Context) ([]catalog.Book, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.books, nil
}

func (s *recordingStore) LoadLoans(ctx context.Context) ([]Loan, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loans, nil
}

func (s *recordingStore) SaveSnapshot(ctx context.Context, books []catalog.Book, loans []Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failing != nil {
		return s.failing
	}
	s.books = books
	s.loans = loans
	s.saves++
	return nil
}

func (s *recordingStore) fail(err error) {
	s.mu.Lock()
	s.failing = err
	s.mu.Unlock()
}

type recordingJournal struct {
	mu     sync.Mutex
	calls  int
	delay  time.Duration
	events []Event
}

// Record stalls the first call by delay so that later commits catch up.
func (j *recordingJournal) Record(ctx context.Context, events []Event) error {
	j.mu.Lock()
	j.calls++
	first := j.calls == 1
	j.mu.Unlock()
	if first {
		time.Sleep(j.delay)
	}

	j.mu.Lock()
	j.events = append(j.events, events...)
	j.mu.Unlock()
	return nil
}

type failingRelay struct {
	calls int
}

func (r *failingRelay) Forward(ctx context.Context, notes []notification.Notification) error {
	r.calls++
	return errors.New("relay down")
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.Type
	}
	return out
}

func TestServicePersistsAfterCommit(t *testing.T) {
	f := newFixture(t, book("Dune", 1))
	store := &recordingStore{}
	journal := &recordingJournal{}
	svc := NewService(f.coord, store, WithJournal(journal))
	ctx := context.Background()

	loan, err := svc.Loan(ctx, "Dune", "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", loan.User)
	require.Len(t, store.loans, 1)
	assert.Equal(t, 1, store.books[0].LoanedCopies)

	_, err = svc.Loan(ctx, "Dune", "bob")
	var waitErr *WaitlistedError
	require.ErrorAs(t, err, &waitErr)
	assert.Equal(t, 1, store.saves, "joining a queue does not rewrite the catalog")

	require.NoError(t, svc.Return(ctx, "Dune", "alice"))
	assert.Empty(t, store.loans)
	assert.Equal(t, 0, store.books[0].LoanedCopies)

	assert.Equal(t, []string{EventBookLent, EventWaitlistJoined, EventCopyReturned, EventAvailabilityNotified}, eventTypes(journal.events))
}

func TestServiceReportsPersistenceFailure(t *testing.T) {
	f := newFixture(t, book("Dune", 1))
	store := &recordingStore{failing: errors.New("disk full")}
	svc := NewService(f.coord, store)
	ctx := context.Background()

	_, err := svc.Loan(ctx, "Dune", "alice")
	assert.ErrorIs(t, err, ErrPersistence)

	loans, err := svc.CurrentLoans(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, loans, 1, "committed state is kept")

	_, err = svc.Loan(ctx, "Dune", "bob")
	var waitErr *WaitlistedError
	assert.ErrorAs(t, err, &waitErr, "queueing does not touch the store")
	assert.NotErrorIs(t, err, ErrPersistence)
}

func TestServiceFailedSaveLeavesStoreRestorable(t *testing.T) {
	f := newFixture(t, book("Dune", 2))
	store := &recordingStore{}
	svc := NewService(f.coord, store)
	ctx := context.Background()

	_, err := svc.Loan(ctx, "Dune", "alice")
	require.NoError(t, err)

	store.fail(errors.New("db blip"))
	_, err = svc.Loan(ctx, "Dune", "bob")
	require.ErrorIs(t, err, ErrPersistence)

	restored := newFixture(t)
	require.NoError(t, Restore(ctx, restored.coord, store), "the stored catalog and loans still agree")
	assert.Len(t, restored.coord.CurrentLoans("alice"), 1)
	assert.Empty(t, restored.coord.CurrentLoans("bob"))
	assert.Empty(t, restored.coord.Audit())

	store.fail(nil)
	require.NoError(t, svc.Return(ctx, "Dune", "alice"))
	restored = newFixture(t)
	require.NoError(t, Restore(ctx, restored.coord, store))
	assert.Len(t, restored.coord.CurrentLoans("bob"), 1, "the next save carries the whole state")
}

func TestJournalFollowsCommitOrder(t *testing.T) {
	const readers = 8
	f := newFixture(t, book("Dune", 1))
	journal := &recordingJournal{delay: 20 * time.Millisecond}
	svc := NewService(f.coord, nil, WithJournal(journal))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _ = svc.Loan(ctx, "Dune", fmt.Sprintf("reader-%d", i))
		}(i)
	}
	wg.Wait()

	journal.mu.Lock()
	defer journal.mu.Unlock()
	require.Len(t, journal.events, readers)
	assert.Equal(t, EventBookLent, journal.events[0].Type, "the copy is lent before anyone queues")
	for i, e := range journal.events[1:] {
		require.Equal(t, EventWaitlistJoined, e.Type)
		joined, ok := e.Data.(WaitlistJoinedEvent)
		require.True(t, ok)
		assert.Equal(t, i+1, joined.Position, "queue positions are journaled in order")
	}
}

func TestServiceIgnoresRelayFailure(t *testing.T) {
	f := newFixture(t, book("Dune", 0))
	relay := &failingRelay{}
	svc := NewService(f.coord, nil, WithRelay(relay))

	pos, err := svc.JoinWaitlist(context.Background(), "Dune", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.Equal(t, 1, relay.calls)
}

func TestServiceRestore(t *testing.T) {
	source := newFixture(t, book("Dune", 2))
	store := &recordingStore{}
	svc := NewService(source.coord, store)
	ctx := context.Background()

	_, err := svc.Loan(ctx, "Dune", "alice")
	require.NoError(t, err)

	target := newFixture(t)
	require.NoError(t, Restore(ctx, target.coord, store))

	loans := target.coord.CurrentLoans("alice")
	require.Len(t, loans, 1)
	b, err := target.cat.Get("Dune")
	require.NoError(t, err)
	assert.Equal(t, 1, b.LoanedCopies)
}

func TestServiceNotificationsFlow(t *testing.T) {
	f := newFixture(t, book("Dune", 1))
	svc := NewService(f.coord, nil)
	ctx := context.Background()

	created, err := svc.Subscribe(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, created)

	_, _ = svc.Loan(ctx, "Dune", "alice")
	_, _ = svc.Loan(ctx, "Dune", "bob")

	unread, err := svc.UnreadNotifications(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, unread, 1)
	assert.Equal(t, "You are number 1 in line for 'Dune'", unread[0].Message)

	positions, err := svc.WaitlistPositions(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"Dune": 1}, positions)

	require.NoError(t, svc.ClearInbox(ctx, "bob"))
	inbox, err := svc.Inbox(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, inbox)

	removed, err := svc.Unsubscribe(ctx, "bob")
	require.NoError(t, err)
	assert.True(t, removed)

	_, err = svc.Inbox(ctx, "")
	assert.ErrorIs(t, err, ErrInvalidUser)
}
