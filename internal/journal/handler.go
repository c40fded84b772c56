// internal/journal/handler.go
package journal

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lendingdesk/internal/catalog"
)

const (
	defaultBatch = 100
	maxBatch     = 1000
)

// Reader is the read side of the journal served over HTTP.
type Reader interface {
	History(ctx context.Context, title string) ([]Event, error)
	StreamEvents(ctx context.Context, fromID int64, batchSize int) ([]Event, error)
}

type Handler struct {
	reader Reader
}

func NewHandler(reader Reader) *Handler {
	return &Handler{reader: reader}
}

// Routes mounts the history endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{title}/history", h.HandleHistory)
	r.Get("/events", h.HandleEvents)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	title, err := catalog.TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	events, err := h.reader.History(r.Context(), title)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeEvents(w, events)
}

// HandleEvents pages through every title's events by id: ?after=<id>&limit=<n>.
func (h *Handler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			http.Error(w, "invalid after", http.StatusBadRequest)
			return
		}
		after = n
	}
	limit := defaultBatch
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxBatch)
	}

	events, err := h.reader.StreamEvents(r.Context(), after, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeEvents(w, events)
}

func writeEvents(w http.ResponseWriter, events []Event) {
	if events == nil {
		events = []Event{}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(events)
}
