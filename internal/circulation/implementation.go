// internal/circulation/implementation.go
package circulation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/notification"
)

// service implements the Service interface.
type service struct {
	coord   *Coordinator
	store   Store
	journal Journal
	relay   Relay
	logger  *slog.Logger

	persistMu sync.Mutex
	journalMu sync.Mutex
}

// ServiceOption configures the collaborators of a Service.
type ServiceOption func(*service)

// WithJournal records the events of every commit to j.
func WithJournal(j Journal) ServiceOption {
	return func(s *service) { s.journal = j }
}

func WithRelay(r Relay) ServiceOption {
	return func(s *service) { s.relay = r }
}

func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *service) { s.logger = logger }
}

// NewService creates a lending service. store may be nil to keep state in
// memory only.
func NewService(coord *Coordinator, store Store, opts ...ServiceOption) Service {
	s := &service{
		coord:  coord,
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.journal != nil {
		coord.events.enable()
	}
	return s
}

// Restore loads the catalog and loans held by store into coord.
func Restore(ctx context.Context, coord *Coordinator, store Store) error {
	books, err := store.LoadCatalog(ctx)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	loans, err := store.LoadLoans(ctx)
	if err != nil {
		return fmt.Errorf("load loans: %w", err)
	}
	if err := coord.Restore(books, loans); err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	return nil
}

// commit hands a committed outcome to storage, the journal and the relay.
// In-memory state is already final; failures are reported, never undone.
func (s *service) commit(ctx context.Context, out Outcome) error {
	var errs []error

	if out.Persist && s.store != nil {
		if err := s.persist(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if s.journal != nil && len(out.Events) > 0 {
		if err := s.flushJournal(ctx); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	if s.relay != nil && len(out.Notifications) > 0 {
		if err := s.relay.Forward(ctx, out.Notifications); err != nil {
			s.logger.Warn("notification relay failed", "count", len(out.Notifications), "error", err)
		}
	}

	if len(errs) > 0 {
		err := fmt.Errorf("%w: %w", ErrPersistence, errors.Join(errs...))
		s.logger.Error("commit not persisted", "events", len(out.Events), "error", err)
		return err
	}
	return nil
}

func (s *service) persist(ctx context.Context) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	books, loans := s.coord.Snapshot()
	if err := s.store.SaveSnapshot(ctx, books, loans); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// flushJournal records every event committed so far. Commits that arrive
// while a flush is running wait for it; the next flush picks up their
// events in the order the titles committed them.
func (s *service) flushJournal(ctx context.Context) error {
	s.journalMu.Lock()
	defer s.journalMu.Unlock()

	events := s.coord.takeEvents()
	if len(events) == 0 {
		return nil
	}
	if err := s.journal.Record(ctx, events); err != nil {
		return fmt.Errorf("record %d events: %w", len(events), err)
	}
	return nil
}

func (s *service) Loan(ctx context.Context, title, user string) (Loan, error) {
	out, err := s.coord.Loan(ctx, title, user)
	var waitErr *WaitlistedError
	if err != nil && !errors.As(err, &waitErr) {
		return Loan{}, err
	}

	if cerr := s.commit(ctx, out); cerr != nil {
		return Loan{}, errors.Join(err, cerr)
	}
	if err != nil {
		return Loan{}, err
	}
	return *out.Loan, nil
}

func (s *service) Return(ctx context.Context, title, user string) error {
	out, err := s.coord.Return(ctx, title, user)
	if err != nil {
		return err
	}
	return s.commit(ctx, out)
}

func (s *service) JoinWaitlist(ctx context.Context, title, user string) (int, error) {
	out, err := s.coord.JoinWaitlist(ctx, title, user)
	if err != nil {
		return 0, err
	}
	return out.Position, s.commit(ctx, out)
}

func (s *service) LeaveWaitlist(ctx context.Context, title, user string) error {
	out, err := s.coord.LeaveWaitlist(ctx, title, user)
	if err != nil {
		return err
	}
	return s.commit(ctx, out)
}

func (s *service) NotifyNextInLine(ctx context.Context, title string) (notification.Notification, error) {
	out, err := s.coord.NotifyNextInLine(ctx, title)
	if err != nil {
		return notification.Notification{}, err
	}
	return out.Notifications[0], s.commit(ctx, out)
}

func (s *service) NotifyDueSoon(ctx context.Context) ([]notification.Notification, error) {
	out, err := s.coord.NotifyDueSoon(ctx)
	if err != nil {
		return nil, err
	}
	notes := out.Notifications
	if notes == nil {
		notes = []notification.Notification{}
	}
	return notes, s.commit(ctx, out)
}

func (s *service) AddBook(ctx context.Context, book catalog.Book) (catalog.Book, error) {
	out, err := s.coord.AddBook(ctx, book)
	if err != nil {
		return catalog.Book{}, err
	}
	return *out.Book, s.commit(ctx, out)
}

func (s *service) GetBook(ctx context.Context, title string) (catalog.Book, error) {
	return s.coord.GetBook(title)
}

func (s *service) UpdateBook(ctx context.Context, title string, update catalog.Update) (catalog.Book, error) {
	out, err := s.coord.UpdateBook(ctx, title, update)
	if err != nil {
		return catalog.Book{}, err
	}
	return *out.Book, s.commit(ctx, out)
}

func (s *service) SetTotalCopies(ctx context.Context, title string, n int) error {
	out, err := s.coord.SetTotalCopies(ctx, title, n)
	if err != nil {
		return err
	}
	return s.commit(ctx, out)
}

func (s *service) AddCopies(ctx context.Context, title string, delta int) error {
	out, err := s.coord.AddCopies(ctx, title, delta)
	if err != nil {
		return err
	}
	return s.commit(ctx, out)
}

func (s *service) RemoveBook(ctx context.Context, title string) error {
	out, err := s.coord.RemoveBook(ctx, title)
	if err != nil {
		return err
	}
	return s.commit(ctx, out)
}

func (s *service) ListBooks(ctx context.Context, order catalog.Order) ([]catalog.Book, error) {
	return s.coord.Books(order), nil
}

func (s *service) SearchBooks(ctx context.Context, field catalog.Field, query string) ([]catalog.Book, error) {
	return s.coord.Search(field, query), nil
}

func (s *service) Status(ctx context.Context, title string) (Status, error) {
	return s.coord.Status(title)
}

func (s *service) Waitlist(ctx context.Context, title string) ([]string, error) {
	return s.coord.Waitlist(title), nil
}

func (s *service) WaitlistPositions(ctx context.Context, user string) (map[string]int, error) {
	user, err := normaliseUser(user)
	if err != nil {
		return nil, err
	}
	return s.coord.WaitlistPositions(user), nil
}

func (s *service) CurrentLoans(ctx context.Context, user string) ([]Loan, error) {
	user, err := normaliseUser(user)
	if err != nil {
		return nil, err
	}
	return s.coord.CurrentLoans(user), nil
}

func (s *service) UnreadNotifications(ctx context.Context, user string) ([]notification.Notification, error) {
	user, err := normaliseUser(user)
	if err != nil {
		return nil, err
	}
	return s.coord.Notifications().DrainUnread(user), nil
}

func (s *service) Inbox(ctx context.Context, user string) ([]notification.Notification, error) {
	user, err := normaliseUser(user)
	if err != nil {
		return nil, err
	}
	return s.coord.Notifications().Inbox(user), nil
}

func (s *service) ClearInbox(ctx context.Context, user string) error {
	user, err := normaliseUser(user)
	if err != nil {
		return err
	}
	s.coord.Notifications().ClearInbox(user)
	return nil
}

func (s *service) Subscribe(ctx context.Context, user string) (bool, error) {
	user, err := normaliseUser(user)
	if err != nil {
		return false, err
	}
	return s.coord.Notifications().Subscribe(user), nil
}

func (s *service) Unsubscribe(ctx context.Context, user string) (bool, error) {
	user, err := normaliseUser(user)
	if err != nil {
		return false, err
	}
	return s.coord.Notifications().Unsubscribe(user), nil
}
