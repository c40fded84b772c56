// internal/relay/handler.go
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lendingdesk/internal/notification"
)

// Reader reads back relayed notifications.
type Reader interface {
	Recent(ctx context.Context, count int64) ([]notification.Notification, error)
}

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// Routes mounts the relay endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/notifications/recent", h.HandleRecent)
}

// HandleRecent returns the newest relayed notifications: ?count=<n>, default 20.
func (h *Handler) HandleRecent(w http.ResponseWriter, r *http.Request) {
	count := int64(20)
	if v := r.URL.Query().Get("count"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n <= 0 {
			http.Error(w, "invalid count", http.StatusBadRequest)
			return
		}
		count = min(n, 1000)
	}

	notes, err := h.reader.Recent(r.Context(), count)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if notes == nil {
		notes = []notification.Notification{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(notes)
}
