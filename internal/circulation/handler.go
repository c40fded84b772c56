// internal/circulation/handler.go
package circulation

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/waitlist"
)

type Handler struct {
	service Service
}

func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Routes mounts the lending, waitlist and user endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books/{title}/status", h.HandleStatus)
	r.Get("/books/{title}/waitlist", h.HandleWaitlist)
	r.Post("/books/{title}/notify-next", h.HandleNotifyNext)

	r.Post("/loans", h.HandleLoan)
	r.Post("/returns", h.HandleReturn)
	r.Post("/waitlist", h.HandleJoinWaitlist)
	r.Delete("/waitlist/{title}/{user}", h.HandleLeaveWaitlist)
	r.Post("/due-reminders", h.HandleDueReminders)

	r.Route("/users/{user}", func(r chi.Router) {
		r.Get("/loans", h.HandleUserLoans)
		r.Get("/waitlist", h.HandleUserWaitlist)
		r.Get("/notifications", h.HandleUnread)
		r.Get("/inbox", h.HandleInbox)
		r.Delete("/inbox", h.HandleClearInbox)
		r.Put("/subscription", h.HandleSubscribe)
		r.Delete("/subscription", h.HandleUnsubscribe)
	})
}

// HTTPStatus maps lending errors to response codes.
func HTTPStatus(err error) int {
	var waitErr *WaitlistedError
	switch {
	case errors.Is(err, ErrPersistence):
		return http.StatusServiceUnavailable
	case errors.As(err, &waitErr):
		return http.StatusAccepted
	case errors.Is(err, ErrInvalidUser):
		return http.StatusBadRequest
	case errors.Is(err, waitlist.ErrNotQueued), errors.Is(err, ErrEmptyWaitlist):
		return http.StatusNotFound
	case errors.Is(err, waitlist.ErrAlreadyQueued), errors.Is(err, ErrAlreadyBorrowed), errors.Is(err, ErrNotLoanedByUser):
		return http.StatusConflict
	default:
		return catalog.HTTPStatus(err)
	}
}

type lendingRequest struct {
	Title string `json:"title"`
	User  string `json:"user"`
}

func decodeLendingRequest(r *http.Request) (lendingRequest, error) {
	var req lendingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, err
	}
	if req.Title == "" || req.User == "" {
		return req, errors.New("title and user are required")
	}
	return req, nil
}

func userParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "user"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) HandleLoan(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLendingRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	loan, err := h.service.Loan(r.Context(), req.Title, req.User)
	if err != nil {
		var waitErr *WaitlistedError
		if errors.As(err, &waitErr) && !errors.Is(err, ErrPersistence) {
			writeJSON(w, http.StatusAccepted, map[string]interface{}{
				"status":   "waitlisted",
				"title":    waitErr.Title,
				"position": waitErr.Position,
			})
			return
		}
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, loan)
}

func (h *Handler) HandleReturn(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLendingRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.Return(r.Context(), req.Title, req.User); err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handler) HandleJoinWaitlist(w http.ResponseWriter, r *http.Request) {
	req, err := decodeLendingRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	pos, err := h.service.JoinWaitlist(r.Context(), req.Title, req.User)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{"title": req.Title, "position": pos})
}

func (h *Handler) HandleLeaveWaitlist(w http.ResponseWriter, r *http.Request) {
	title, err := catalog.TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	if err := h.service.LeaveWaitlist(r.Context(), title, user); err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	title, err := catalog.TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	st, err := h.service.Status(r.Context(), title)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) HandleWaitlist(w http.ResponseWriter, r *http.Request) {
	title, err := catalog.TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	queue, err := h.service.Waitlist(r.Context(), title)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) HandleNotifyNext(w http.ResponseWriter, r *http.Request) {
	title, err := catalog.TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	n, err := h.service.NotifyNextInLine(r.Context(), title)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, n)
}

func (h *Handler) HandleDueReminders(w http.ResponseWriter, r *http.Request) {
	notes, err := h.service.NotifyDueSoon(r.Context())
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) HandleUserLoans(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	loans, err := h.service.CurrentLoans(r.Context(), user)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, loans)
}

func (h *Handler) HandleUserWaitlist(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	positions, err := h.service.WaitlistPositions(r.Context(), user)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, positions)
}

func (h *Handler) HandleUnread(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	notes, err := h.service.UnreadNotifications(r.Context(), user)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) HandleInbox(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	notes, err := h.service.Inbox(r.Context(), user)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, notes)
}

func (h *Handler) HandleClearInbox(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	if err := h.service.ClearInbox(r.Context(), user); err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleSubscribe(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	created, err := h.service.Subscribe(r.Context(), user)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, map[string]bool{"subscribed": true, "created": created})
}

func (h *Handler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	user, err := userParam(r)
	if err != nil {
		http.Error(w, "invalid user", http.StatusBadRequest)
		return
	}

	removed, err := h.service.Unsubscribe(r.Context(), user)
	if err != nil {
		http.Error(w, err.Error(), HTTPStatus(err))
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"subscribed": false, "removed": removed})
}
