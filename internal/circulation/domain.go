// internal/circulation/domain.go
package circulation

import (
	"errors"
	"fmt"
	"time"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/notification"
)

var (
	ErrNotLoanedByUser = errors.New("user does not hold a loan of this title")
	ErrAlreadyBorrowed = errors.New("user already holds a copy of this title")
	ErrInvalidUser     = errors.New("invalid user")
	ErrEmptyWaitlist   = errors.New("nobody is waiting for this title")
	ErrCorruptState    = errors.New("stored loans do not match the catalog")
	ErrPersistence     = errors.New("persistence failed")
)

// WaitlistedError reports that a loan could not be made and the user was
// put in line instead. It matches catalog.ErrNotAvailable.
type WaitlistedError struct {
	Title    string
	Position int
}

func (e *WaitlistedError) Error() string {
	return fmt.Sprintf("%q has no copies available: queued at position %d", e.Title, e.Position)
}

func (e *WaitlistedError) Unwrap() error {
	return catalog.ErrNotAvailable
}

// Loan records that a user currently holds one copy of a title.
type Loan struct {
	Title       string    `json:"title" db:"title"`
	User        string    `json:"user" db:"username"`
	LentAt      time.Time `json:"lent_at" db:"lent_at"`
	DueAt       time.Time `json:"due_at" db:"due_at"`
	DueNotified bool      `json:"due_notified" db:"due_notified"`
}

// State is the lending state of a title.
type State string

const (
	StateAvailable State = "AVAILABLE"
	StateExhausted State = "EXHAUSTED"
)

// Status is a consistent view of one title: its copy counts and its queue.
type Status struct {
	Book  catalog.Book `json:"book"`
	State State        `json:"state"`
	Queue []string     `json:"queue"`
}

const (
	EventBookLent             = "BookLent"
	EventCopyReturned         = "CopyReturned"
	EventWaitlistJoined       = "WaitlistJoined"
	EventWaitlistLeft         = "WaitlistLeft"
	EventAvailabilityNotified = "AvailabilityNotified"
	EventDueSoonNotified      = "DueSoonNotified"
	EventBookAdded            = "BookAdded"
	EventBookUpdated          = "BookUpdated"
	EventCopiesChanged        = "CopiesChanged"
	EventBookRemoved          = "BookRemoved"
)

// Event represents a committed change to one title.
type Event struct {
	Type  string      `json:"type"`
	Title string      `json:"title"`
	Data  interface{} `json:"data"`
}

// BookLentEvent is recorded when a copy leaves the shelf.
type BookLentEvent struct {
	User   string    `json:"user"`
	LentAt time.Time `json:"lent_at"`
	DueAt  time.Time `json:"due_at"`
}

// CopyReturnedEvent is recorded when a copy comes back.
type CopyReturnedEvent struct {
	User       string    `json:"user"`
	ReturnedAt time.Time `json:"returned_at"`
}

// WaitlistJoinedEvent is recorded when a user is queued for a title.
type WaitlistJoinedEvent struct {
	User     string `json:"user"`
	Position int    `json:"position"`
}

// WaitlistLeftEvent is recorded when a user leaves a queue. Reason is
// "lent" when a loan took the user off the queue.
type WaitlistLeftEvent struct {
	User   string `json:"user"`
	Reason string `json:"reason,omitempty"`
}

// NotifiedEvent is recorded for AVAILABLE and DUE_SOON notifications.
type NotifiedEvent struct {
	User           string    `json:"user"`
	NotificationID string    `json:"notification_id"`
	At             time.Time `json:"at"`
}

// CopiesChangedEvent is recorded when the owned copy count changes.
type CopiesChangedEvent struct {
	TotalCopies int `json:"total_copies"`
}

// Outcome lists what a committed operation changed, for the layers that
// persist, journal and relay it.
type Outcome struct {
	Events        []Event
	Notifications []notification.Notification
	// Persist is set when the catalog or the loan relation changed.
	Persist bool
	Loan    *Loan
	Book    *catalog.Book
	// Position is the queue position after a join.
	Position int
}

func (o *Outcome) record(typ, title string, data interface{}) {
	o.Events = append(o.Events, Event{Type: typ, Title: title, Data: data})
}

func (o *Outcome) notify(n notification.Notification) {
	o.Notifications = append(o.Notifications, n)
}

func (o *Outcome) merge(other Outcome) {
	o.Events = append(o.Events, other.Events...)
	o.Notifications = append(o.Notifications, other.Notifications...)
	o.Persist = o.Persist || other.Persist
}
