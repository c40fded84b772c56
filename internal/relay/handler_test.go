// internal/relay/handler_test.go
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendingdesk/internal/notification"
)

func TestHandleRecent(t *testing.T) {
	relay, srv := newRelay(t)
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, relay.Forward(context.Background(), []notification.Notification{
		notification.Queued("bob", "Dune", 1, at),
		notification.Available("bob", "Dune", at.Add(time.Minute)),
		notification.Queued("carol", "Emma", 2, at.Add(2*time.Minute)),
	}))

	r := chi.NewRouter()
	NewHandler(relay).Routes(r)
	api := httptest.NewServer(r)
	defer api.Close()

	resp, err := http.Get(api.URL + "/notifications/recent?count=2")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var notes []notification.Notification
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&notes))
	require.Len(t, notes, 2)
	assert.Equal(t, "carol", notes[0].Recipient)
	assert.Equal(t, notification.KindAvailable, notes[1].Kind)

	bad, err := http.Get(api.URL + "/notifications/recent?count=0")
	require.NoError(t, err)
	bad.Body.Close()
	assert.Equal(t, http.StatusBadRequest, bad.StatusCode)

	srv.Close()
	down, err := http.Get(api.URL + "/notifications/recent")
	require.NoError(t, err)
	down.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, down.StatusCode)
}

func TestPingFollowsServer(t *testing.T) {
	relay, srv := newRelay(t)
	ctx := context.Background()

	require.NoError(t, relay.Ping(ctx))
	srv.Close()
	assert.Error(t, relay.Ping(ctx))
}
