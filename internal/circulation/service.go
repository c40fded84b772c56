// internal/circulation/service.go
package circulation

import (
	"context"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/notification"
)

// Service defines the interface for the lending desk.
type Service interface {
	catalog.Service

	// Loan lends a copy of title to user. When the title is exhausted the
	// error is a *WaitlistedError carrying the user's queue position.
	Loan(ctx context.Context, title, user string) (Loan, error)
	Return(ctx context.Context, title, user string) error
	JoinWaitlist(ctx context.Context, title, user string) (int, error)
	LeaveWaitlist(ctx context.Context, title, user string) error
	NotifyNextInLine(ctx context.Context, title string) (notification.Notification, error)
	NotifyDueSoon(ctx context.Context) ([]notification.Notification, error)

	Status(ctx context.Context, title string) (Status, error)
	Waitlist(ctx context.Context, title string) ([]string, error)
	WaitlistPositions(ctx context.Context, user string) (map[string]int, error)
	CurrentLoans(ctx context.Context, user string) ([]Loan, error)

	UnreadNotifications(ctx context.Context, user string) ([]notification.Notification, error)
	Inbox(ctx context.Context, user string) ([]notification.Notification, error)
	ClearInbox(ctx context.Context, user string) error
	Subscribe(ctx context.Context, user string) (bool, error)
	Unsubscribe(ctx context.Context, user string) (bool, error)
}

// Store persists the catalog and the loan relation.
type Store interface {
	LoadCatalog(ctx context.Context) ([]catalog.Book, error)
	LoadLoans(ctx context.Context) ([]Loan, error)
	// SaveSnapshot replaces the stored catalog and loans as one unit.
	SaveSnapshot(ctx context.Context, books []catalog.Book, loans []Loan) error
}

// Journal records committed events. Calls are serialized and carry the
// events in commit order.
type Journal interface {
	Record(ctx context.Context, events []Event) error
}

// Relay forwards published notifications to other processes.
type Relay interface {
	Forward(ctx context.Context, notes []notification.Notification) error
}
