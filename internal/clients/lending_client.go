// internal/clients/lending_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
	"lendingdesk/internal/journal"
	"lendingdesk/internal/notification"
)

// StatusError is returned for any non-2xx response.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status code: %d", e.Code)
	}
	return fmt.Sprintf("unexpected status code %d: %s", e.Code, e.Message)
}

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}

// LoanResult is the outcome of a loan request: either a loan or a place in line.
type LoanResult struct {
	Loan       *circulation.Loan
	Waitlisted bool
	Position   int
}

// BookPatch carries the optional fields of a book update.
type BookPatch struct {
	catalog.Update
	TotalCopies *int `json:"total_copies,omitempty"`
}

// LendingClient talks to the lending desk HTTP API.
type LendingClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewLendingClient(baseURL string, httpClient *http.Client) *LendingClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &LendingClient{baseURL: strings.TrimRight(baseURL, "/"), httpClient: httpClient}
}

func (c *LendingClient) do(ctx context.Context, method, path string, in, out interface{}, accept ...int) (int, error) {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return 0, err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if !accepted(resp.StatusCode, accept) {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, &StatusError{Code: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func accepted(code int, accept []int) bool {
	if len(accept) == 0 {
		return code >= 200 && code < 300
	}
	for _, a := range accept {
		if code == a {
			return true
		}
	}
	return false
}

func bookPath(title string, suffix ...string) string {
	return "/books/" + url.PathEscape(title) + strings.Join(suffix, "")
}

func userPath(user, suffix string) string {
	return "/users/" + url.PathEscape(user) + suffix
}

func (c *LendingClient) ListBooks(ctx context.Context, order string) ([]catalog.Book, error) {
	path := "/books"
	if order != "" {
		path += "?order=" + url.QueryEscape(order)
	}
	var books []catalog.Book
	_, err := c.do(ctx, http.MethodGet, path, nil, &books)
	return books, err
}

func (c *LendingClient) SearchBooks(ctx context.Context, by, query string) ([]catalog.Book, error) {
	q := url.Values{"by": {by}, "q": {query}}
	var books []catalog.Book
	_, err := c.do(ctx, http.MethodGet, "/books/search?"+q.Encode(), nil, &books)
	return books, err
}

func (c *LendingClient) AddBook(ctx context.Context, book catalog.Book) (catalog.Book, error) {
	req := struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		Genre  string `json:"genre"`
		Year   int    `json:"year"`
		Copies int    `json:"copies"`
	}{book.Title, book.Author, book.Genre, book.Year, book.TotalCopies}

	var added catalog.Book
	_, err := c.do(ctx, http.MethodPost, "/books", req, &added)
	return added, err
}

func (c *LendingClient) GetBook(ctx context.Context, title string) (catalog.Book, error) {
	var book catalog.Book
	_, err := c.do(ctx, http.MethodGet, bookPath(title), nil, &book)
	return book, err
}

func (c *LendingClient) UpdateBook(ctx context.Context, title string, patch BookPatch) (catalog.Book, error) {
	var book catalog.Book
	_, err := c.do(ctx, http.MethodPatch, bookPath(title), patch, &book)
	return book, err
}

func (c *LendingClient) AddCopies(ctx context.Context, title string, delta int) (catalog.Book, error) {
	req := struct {
		Delta int `json:"delta"`
	}{delta}
	var book catalog.Book
	_, err := c.do(ctx, http.MethodPost, bookPath(title, "/copies"), req, &book)
	return book, err
}

func (c *LendingClient) RemoveBook(ctx context.Context, title string) error {
	_, err := c.do(ctx, http.MethodDelete, bookPath(title), nil, nil)
	return err
}

func (c *LendingClient) Status(ctx context.Context, title string) (circulation.Status, error) {
	var st circulation.Status
	_, err := c.do(ctx, http.MethodGet, bookPath(title, "/status"), nil, &st)
	return st, err
}

func (c *LendingClient) Waitlist(ctx context.Context, title string) ([]string, error) {
	var queue []string
	_, err := c.do(ctx, http.MethodGet, bookPath(title, "/waitlist"), nil, &queue)
	return queue, err
}

func (c *LendingClient) NotifyNextInLine(ctx context.Context, title string) (notification.Notification, error) {
	var n notification.Notification
	_, err := c.do(ctx, http.MethodPost, bookPath(title, "/notify-next"), nil, &n)
	return n, err
}

// Loan asks for a copy of title. A 202 answer is not an error: the result
// carries the user's place in line instead of a loan.
func (c *LendingClient) Loan(ctx context.Context, title, user string) (LoanResult, error) {
	var raw json.RawMessage
	code, err := c.do(ctx, http.MethodPost, "/loans", lendingRequest{title, user}, &raw, http.StatusCreated, http.StatusAccepted)
	if err != nil {
		return LoanResult{}, err
	}
	if code == http.StatusAccepted {
		var waited struct {
			Position int `json:"position"`
		}
		if err := json.Unmarshal(raw, &waited); err != nil {
			return LoanResult{}, fmt.Errorf("decode response: %w", err)
		}
		return LoanResult{Waitlisted: true, Position: waited.Position}, nil
	}
	var loan circulation.Loan
	if err := json.Unmarshal(raw, &loan); err != nil {
		return LoanResult{}, fmt.Errorf("decode response: %w", err)
	}
	return LoanResult{Loan: &loan}, nil
}

type lendingRequest struct {
	Title string `json:"title"`
	User  string `json:"user"`
}

func (c *LendingClient) Return(ctx context.Context, title, user string) error {
	_, err := c.do(ctx, http.MethodPost, "/returns", lendingRequest{title, user}, nil)
	return err
}

func (c *LendingClient) JoinWaitlist(ctx context.Context, title, user string) (int, error) {
	var resp struct {
		Position int `json:"position"`
	}
	_, err := c.do(ctx, http.MethodPost, "/waitlist", lendingRequest{title, user}, &resp)
	return resp.Position, err
}

func (c *LendingClient) LeaveWaitlist(ctx context.Context, title, user string) error {
	path := "/waitlist/" + url.PathEscape(title) + "/" + url.PathEscape(user)
	_, err := c.do(ctx, http.MethodDelete, path, nil, nil)
	return err
}

func (c *LendingClient) SendDueReminders(ctx context.Context) ([]notification.Notification, error) {
	var notes []notification.Notification
	_, err := c.do(ctx, http.MethodPost, "/due-reminders", nil, &notes)
	return notes, err
}

func (c *LendingClient) CurrentLoans(ctx context.Context, user string) ([]circulation.Loan, error) {
	var loans []circulation.Loan
	_, err := c.do(ctx, http.MethodGet, userPath(user, "/loans"), nil, &loans)
	return loans, err
}

func (c *LendingClient) WaitlistPositions(ctx context.Context, user string) (map[string]int, error) {
	var positions map[string]int
	_, err := c.do(ctx, http.MethodGet, userPath(user, "/waitlist"), nil, &positions)
	return positions, err
}

// UnreadNotifications drains the user's undelivered notifications.
func (c *LendingClient) UnreadNotifications(ctx context.Context, user string) ([]notification.Notification, error) {
	var notes []notification.Notification
	_, err := c.do(ctx, http.MethodGet, userPath(user, "/notifications"), nil, &notes)
	return notes, err
}

func (c *LendingClient) Inbox(ctx context.Context, user string) ([]notification.Notification, error) {
	var notes []notification.Notification
	_, err := c.do(ctx, http.MethodGet, userPath(user, "/inbox"), nil, &notes)
	return notes, err
}

func (c *LendingClient) ClearInbox(ctx context.Context, user string) error {
	_, err := c.do(ctx, http.MethodDelete, userPath(user, "/inbox"), nil, nil)
	return err
}

func (c *LendingClient) Subscribe(ctx context.Context, user string) (bool, error) {
	var resp struct {
		Created bool `json:"created"`
	}
	_, err := c.do(ctx, http.MethodPut, userPath(user, "/subscription"), nil, &resp)
	return resp.Created, err
}

func (c *LendingClient) Unsubscribe(ctx context.Context, user string) (bool, error) {
	var resp struct {
		Removed bool `json:"removed"`
	}
	_, err := c.do(ctx, http.MethodDelete, userPath(user, "/subscription"), nil, &resp)
	return resp.Removed, err
}

// History returns the journaled events of title, oldest first. The server
// answers 404 when no journal is configured.
func (c *LendingClient) History(ctx context.Context, title string) ([]journal.Event, error) {
	var events []journal.Event
	_, err := c.do(ctx, http.MethodGet, bookPath(title, "/history"), nil, &events)
	return events, err
}

// Events pages through the journal of every title by event id.
func (c *LendingClient) Events(ctx context.Context, after int64, limit int) ([]journal.Event, error) {
	q := url.Values{"after": {strconv.FormatInt(after, 10)}}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var events []journal.Event
	_, err := c.do(ctx, http.MethodGet, "/events?"+q.Encode(), nil, &events)
	return events, err
}

// RecentNotifications returns the newest notifications relayed to Redis.
func (c *LendingClient) RecentNotifications(ctx context.Context, count int) ([]notification.Notification, error) {
	path := "/notifications/recent"
	if count > 0 {
		path += "?count=" + strconv.Itoa(count)
	}
	var notes []notification.Notification
	_, err := c.do(ctx, http.MethodGet, path, nil, &notes)
	return notes, err
}
