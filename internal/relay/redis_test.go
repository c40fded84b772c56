// internal/relay/redis_test.go
package relay

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
	"lendingdesk/internal/notification"
	"lendingdesk/internal/store"
	"lendingdesk/internal/waitlist"
)

func newRelay(t *testing.T) (*RedisRelay, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	r, err := NewRedisRelay(RedisConfig{Addr: srv.Addr(), Stream: "test:notifications"})
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r, srv
}

func TestNewRedisRelayRequiresAddr(t *testing.T) {
	_, err := NewRedisRelay(RedisConfig{Addr: "  "})
	assert.Error(t, err)
}

func TestForwardAppendsToStream(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	notes := []notification.Notification{
		notification.Queued("bob", "Dune", 1, at),
		notification.Available("bob", "Dune", at.Add(time.Minute)),
	}
	require.NoError(t, r.Forward(ctx, notes))

	n, err := r.client.XLen(ctx, r.Stream()).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, notes[1].ID, recent[0].ID)
	assert.Equal(t, notification.KindAvailable, recent[0].Kind)
	assert.Equal(t, notes[0].Message, recent[1].Message)
	assert.True(t, notes[0].Timestamp.Equal(recent[1].Timestamp))
	assert.Equal(t, "Dune", recent[1].BookTitle)
	assert.Equal(t, "bob", recent[1].Recipient)
}

func TestForwardNothingIsNoop(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()

	require.NoError(t, r.Forward(ctx, nil))
	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestForwardFailsWhenRedisIsDown(t *testing.T) {
	r, srv := newRelay(t)
	srv.Close()

	err := r.Forward(context.Background(), []notification.Notification{
		notification.Available("bob", "Dune", time.Now()),
	})
	assert.Error(t, err)
}

func TestLendingServiceRelaysNotifications(t *testing.T) {
	r, _ := newRelay(t)
	ctx := context.Background()

	coord := circulation.NewCoordinator(catalog.New(), waitlist.NewRegistry(), notification.NewBus())
	svc := circulation.NewService(coord, store.NewMemoryStore(), circulation.WithRelay(r))

	_, err := svc.AddBook(ctx, catalog.Book{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1965, TotalCopies: 1})
	require.NoError(t, err)
	_, err = svc.Loan(ctx, "Dune", "alice")
	require.NoError(t, err)
	_, err = svc.Loan(ctx, "Dune", "bob")
	var waited *circulation.WaitlistedError
	require.ErrorAs(t, err, &waited)
	require.NoError(t, svc.Return(ctx, "Dune", "alice"))

	recent, err := r.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, notification.KindAvailable, recent[0].Kind)
	assert.Equal(t, notification.KindQueued, recent[1].Kind)
	assert.Equal(t, "bob", recent[0].Recipient)
}
