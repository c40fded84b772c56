// internal/catalog/handler.go
package catalog

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

type Handler struct {
	service Service
	status  func(error) int
}

// HandlerOption customises a Handler.
type HandlerOption func(*Handler)

// WithStatusMapper replaces HTTPStatus for callers whose service returns
// errors outside this package.
func WithStatusMapper(status func(error) int) HandlerOption {
	return func(h *Handler) { h.status = status }
}

func NewHandler(service Service, opts ...HandlerOption) *Handler {
	h := &Handler{service: service, status: HTTPStatus}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes mounts the book endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/books", h.HandleList)
	r.Post("/books", h.HandleAdd)
	r.Get("/books/search", h.HandleSearch)
	r.Get("/books/{title}", h.HandleGet)
	r.Patch("/books/{title}", h.HandleUpdate)
	r.Post("/books/{title}/copies", h.HandleAddCopies)
	r.Delete("/books/{title}", h.HandleRemove)
}

// HTTPStatus maps catalog errors to response codes.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidBook), errors.Is(err, ErrInvalidCount):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotAvailable), errors.Is(err, ErrNothingToReturn), errors.Is(err, ErrStillOnLoan):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// TitleParam returns the unescaped {title} URL parameter.
func TitleParam(r *http.Request) (string, error) {
	return url.PathUnescape(chi.URLParam(r, "title"))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	order, err := ParseOrder(r.URL.Query().Get("order"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	books, err := h.service.ListBooks(r.Context(), order)
	if err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	field, err := ParseField(r.URL.Query().Get("by"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		http.Error(w, "missing search query", http.StatusBadRequest)
		return
	}

	books, err := h.service.SearchBooks(r.Context(), field, query)
	if err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	writeJSON(w, http.StatusOK, books)
}

func (h *Handler) HandleAdd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		Genre  string `json:"genre"`
		Year   int    `json:"year"`
		Copies int    `json:"copies"`
	}

	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	book, err := h.service.AddBook(r.Context(), Book{
		Title:       req.Title,
		Author:      req.Author,
		Genre:       req.Genre,
		Year:        req.Year,
		TotalCopies: req.Copies,
	})
	if err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	writeJSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	title, err := TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	book, err := h.service.GetBook(r.Context(), title)
	if err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	title, err := TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	var req struct {
		Update
		TotalCopies *int `json:"total_copies,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if req.TotalCopies != nil {
		if err := h.service.SetTotalCopies(r.Context(), title, *req.TotalCopies); err != nil {
			http.Error(w, err.Error(), h.status(err))
			return
		}
	}

	book, err := h.service.UpdateBook(r.Context(), title, req.Update)
	if err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleAddCopies(w http.ResponseWriter, r *http.Request) {
	title, err := TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	var req struct {
		Delta int `json:"delta"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.service.AddCopies(r.Context(), title, req.Delta); err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	book, err := h.service.GetBook(r.Context(), title)
	if err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	writeJSON(w, http.StatusOK, book)
}

func (h *Handler) HandleRemove(w http.ResponseWriter, r *http.Request) {
	title, err := TitleParam(r)
	if err != nil {
		http.Error(w, "invalid title", http.StatusBadRequest)
		return
	}

	if err := h.service.RemoveBook(r.Context(), title); err != nil {
		http.Error(w, err.Error(), h.status(err))
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
