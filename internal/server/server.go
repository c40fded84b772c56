// internal/server/server.go
package server

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
	"lendingdesk/internal/journal"
	"lendingdesk/internal/relay"
	"lendingdesk/internal/util"
)

// Options configures the HTTP surface.
type Options struct {
	Service   string
	Logger    *slog.Logger
	RateLimit float64
	RateBurst int
	// Ready reports whether dependencies are reachable. Nil means always ready.
	Ready func(ctx context.Context) error
	// History serves /books/{title}/history and /events when set.
	History journal.Reader
	// Relayed serves /notifications/recent when set.
	Relayed relay.Reader
}

// NewRouter mounts the catalog and lending endpoints, and the history and
// relay endpoints when configured, behind the request id, access log,
// recovery and rate limit middleware.
func NewRouter(svc circulation.Service, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(util.WithRequestID)
	r.Use(util.WithRequestLog(opts.Logger, opts.Service))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if opts.Ready != nil {
			if err := opts.Ready(r.Context()); err != nil {
				http.Error(w, err.Error(), http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
	})

	r.Group(func(r chi.Router) {
		r.Use(util.RateLimit(opts.RateLimit, opts.RateBurst))
		catalog.NewHandler(svc, catalog.WithStatusMapper(circulation.HTTPStatus)).Routes(r)
		circulation.NewHandler(svc).Routes(r)
		if opts.History != nil {
			journal.NewHandler(opts.History).Routes(r)
		}
		if opts.Relayed != nil {
			relay.NewHandler(opts.Relayed).Routes(r)
		}
	})
	return r
}
