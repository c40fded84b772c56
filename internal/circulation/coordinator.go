// internal/circulation/coordinator.go
package circulation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/notification"
	"lendingdesk/internal/waitlist"
)

const (
	DefaultLoanPeriod    = 14 * 24 * time.Hour
	DefaultDueSoonWindow = 3 * 24 * time.Hour
)

// Coordinator sequences the catalog, the waiting lists and the notification
// bus so that every lending operation commits as one unit.
//
// Mutations of a title hold that title's lock for the whole operation.
// They also share commitMu, which Snapshot takes exclusively to read the
// catalog and the loan relation without a torn view.
type Coordinator struct {
	catalog   *catalog.Catalog
	waitlists *waitlist.Registry
	bus       *notification.Bus

	commitMu sync.RWMutex

	locksMu    sync.Mutex
	titleLocks map[string]*titleLock

	loansMu sync.RWMutex
	loans   map[string]map[string]*Loan

	events eventLog

	now           func() time.Time
	loanPeriod    time.Duration
	dueSoonWindow time.Duration

	tracer  trace.Tracer
	logger  *slog.Logger
	metrics coordinatorMetrics
}

// titleLock is the lock of one title. refs counts the holders and waiters;
// the entry is dropped when it falls to zero.
type titleLock struct {
	sync.RWMutex
	refs int
}

// eventLog keeps committed events in commit order until they are taken for
// the journal. It records nothing until enabled.
type eventLog struct {
	mu      sync.Mutex
	on      bool
	pending []Event
}

func (l *eventLog) enable() {
	l.mu.Lock()
	l.on = true
	l.mu.Unlock()
}

func (l *eventLog) append(events []Event) {
	if len(events) == 0 {
		return
	}
	l.mu.Lock()
	if l.on {
		l.pending = append(l.pending, events...)
	}
	l.mu.Unlock()
}

func (l *eventLog) take() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	events := l.pending
	l.pending = nil
	return events
}

type coordinatorMetrics struct {
	loans         metric.Int64Counter
	waitlisted    metric.Int64Counter
	returns       metric.Int64Counter
	notifications metric.Int64Counter
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLoanPeriod sets how long a loan runs before it is due.
func WithLoanPeriod(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.loanPeriod = d
		}
	}
}

// WithDueSoonWindow sets how close to its due date a loan must be before
// NotifyDueSoon reminds the borrower.
func WithDueSoonWindow(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.dueSoonWindow = d
		}
	}
}

// WithTracer replaces the otel global tracer.
func WithTracer(tracer trace.Tracer) Option {
	return func(c *Coordinator) { c.tracer = tracer }
}

// WithLogger replaces slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = logger }
}

// WithMeter registers the lending counters on meter.
func WithMeter(meter metric.Meter) Option {
	return func(c *Coordinator) { c.metrics = newCoordinatorMetrics(meter) }
}

// NewCoordinator wires the three state owners together.
func NewCoordinator(cat *catalog.Catalog, waitlists *waitlist.Registry, bus *notification.Bus, opts ...Option) *Coordinator {
	c := &Coordinator{
		catalog:       cat,
		waitlists:     waitlists,
		bus:           bus,
		titleLocks:    make(map[string]*titleLock),
		loans:         make(map[string]map[string]*Loan),
		now:           time.Now,
		loanPeriod:    DefaultLoanPeriod,
		dueSoonWindow: DefaultDueSoonWindow,
		tracer:        otel.Tracer("lendingdesk/circulation"),
		logger:        slog.Default(),
	}
	c.metrics = newCoordinatorMetrics(otel.Meter("lendingdesk/circulation"))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func newCoordinatorMetrics(meter metric.Meter) coordinatorMetrics {
	fallback := noop.NewMeterProvider().Meter("lendingdesk/circulation")
	counter := func(name, desc string) metric.Int64Counter {
		ctr, err := meter.Int64Counter(name, metric.WithDescription(desc))
		if err != nil {
			ctr, _ = fallback.Int64Counter(name)
		}
		return ctr
	}
	return coordinatorMetrics{
		loans:         counter("lendingdesk.loans", "Copies lent"),
		waitlisted:    counter("lendingdesk.waitlisted", "Users queued for an exhausted title"),
		returns:       counter("lendingdesk.returns", "Copies returned"),
		notifications: counter("lendingdesk.notifications", "Notifications published"),
	}
}

// acquireLock returns the lock of key and counts the caller until
// releaseLock. Locks exist only while someone holds or waits on them, so
// lookups of unknown titles leave nothing behind.
func (c *Coordinator) acquireLock(key string) *titleLock {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	l, ok := c.titleLocks[key]
	if !ok {
		l = &titleLock{}
		c.titleLocks[key] = l
	}
	l.refs++
	return l
}

func (c *Coordinator) releaseLock(key string, l *titleLock) {
	c.locksMu.Lock()
	defer c.locksMu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(c.titleLocks, key)
	}
}

// lockTitle takes the shared commit lock and the exclusive title lock.
// The returned unlock appends the events of out to the event log before
// the title is released, so the log follows the commit order of the title.
func (c *Coordinator) lockTitle(title string, out *Outcome) func() {
	c.commitMu.RLock()
	key := catalog.Key(title)
	l := c.acquireLock(key)
	l.Lock()
	return func() {
		c.events.append(out.Events)
		l.Unlock()
		c.releaseLock(key, l)
		c.commitMu.RUnlock()
	}
}

func (c *Coordinator) rlockTitle(title string) func() {
	key := catalog.Key(title)
	l := c.acquireLock(key)
	l.RLock()
	return func() {
		l.RUnlock()
		c.releaseLock(key, l)
	}
}

// takeEvents returns the events committed since the last call, oldest first.
func (c *Coordinator) takeEvents() []Event {
	return c.events.take()
}

func (c *Coordinator) startSpan(ctx context.Context, name, title, user string) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{attribute.String("book.title", title)}
	if user != "" {
		attrs = append(attrs, attribute.String("user", user))
	}
	return c.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func normaliseUser(user string) (string, error) {
	user = strings.TrimSpace(user)
	if user == "" {
		return "", fmt.Errorf("%w: username must not be empty", ErrInvalidUser)
	}
	return user, nil
}

func (c *Coordinator) heldLoan(user, key string) (*Loan, bool) {
	c.loansMu.RLock()
	defer c.loansMu.RUnlock()
	l, ok := c.loans[user][key]
	return l, ok
}

func (c *Coordinator) publish(ctx context.Context, out *Outcome, n notification.Notification) {
	live := c.bus.Publish(n)
	out.notify(n)
	c.metrics.notifications.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", n.Kind.String())))
	c.logger.Debug("notification published",
		"kind", n.Kind.String(),
		"recipient", n.Recipient,
		"book_title", n.BookTitle,
		"live", live,
	)
}

// Loan lends a copy of title to user. When no copy is on the shelf the user
// is queued, notified of their position and subscribed, and the returned
// error is a *WaitlistedError. A user already in the queue gets
// waitlist.ErrAlreadyQueued and keeps their position.
//
// A user holds at most one copy of a title: a second loan of a title the
// user already holds fails with ErrAlreadyBorrowed even when copies are on
// the shelf. A user who was queued and gets a copy leaves the queue.
func (c *Coordinator) Loan(ctx context.Context, title, user string) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "circulation.loan", title, user)
	defer func() { endSpan(span, err) }()

	if user, err = normaliseUser(user); err != nil {
		return Outcome{}, err
	}

	unlock := c.lockTitle(title, &out)
	defer unlock()

	book, err := c.catalog.Get(title)
	if err != nil {
		return Outcome{}, err
	}
	key := catalog.Key(book.Title)
	if _, held := c.heldLoan(user, key); held {
		return Outcome{}, fmt.Errorf("%s, %q: %w", user, book.Title, ErrAlreadyBorrowed)
	}

	if !book.IsAvailable() {
		if pos, queued := c.waitlists.PositionOf(book.Title, user); queued {
			span.SetAttributes(attribute.Int("waitlist.position", pos))
			return Outcome{}, fmt.Errorf("%s, %q at position %d: %w", user, book.Title, pos, waitlist.ErrAlreadyQueued)
		}
		out, err = c.enqueue(ctx, book.Title, user)
		if err != nil {
			return Outcome{}, err
		}
		c.metrics.waitlisted.Add(ctx, 1)
		span.SetAttributes(attribute.Int("waitlist.position", out.Position))
		return out, &WaitlistedError{Title: book.Title, Position: out.Position}
	}

	_, queued := c.waitlists.PositionOf(book.Title, user)
	if err := c.catalog.Loan(book.Title); err != nil {
		return Outcome{}, err
	}
	now := c.now().UTC()
	loan := &Loan{Title: book.Title, User: user, LentAt: now, DueAt: now.Add(c.loanPeriod)}

	c.loansMu.Lock()
	if c.loans[user] == nil {
		c.loans[user] = make(map[string]*Loan)
	}
	c.loans[user][key] = loan
	c.loansMu.Unlock()

	c.metrics.loans.Add(ctx, 1)
	c.logger.Info("book lent", "book_title", book.Title, "user", user, "due_at", loan.DueAt)

	lent := *loan
	out.Loan = &lent
	out.Persist = true
	out.record(EventBookLent, book.Title, BookLentEvent{User: user, LentAt: loan.LentAt, DueAt: loan.DueAt})
	if queued && c.waitlists.Remove(book.Title, user) == nil {
		out.record(EventWaitlistLeft, book.Title, WaitlistLeftEvent{User: user, Reason: "lent"})
		c.logger.Info("user left waitlist", "book_title", book.Title, "user", user, "reason", "lent")
	}
	return out, nil
}

// enqueue must be called with the title lock held.
func (c *Coordinator) enqueue(ctx context.Context, title, user string) (Outcome, error) {
	pos, err := c.waitlists.Enqueue(title, user)
	if err != nil {
		return Outcome{}, err
	}

	var out Outcome
	out.Position = pos
	out.record(EventWaitlistJoined, title, WaitlistJoinedEvent{User: user, Position: pos})
	c.publish(ctx, &out, notification.Queued(user, title, pos, c.now()))
	c.bus.Subscribe(user)

	c.logger.Info("user queued", "book_title", title, "user", user, "position", pos)
	return out, nil
}

// Return takes back the copy of title held by user and hands the title to
// the head of its queue: the head is dequeued and receives one AVAILABLE
// notification. No copy is reserved for it.
func (c *Coordinator) Return(ctx context.Context, title, user string) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "circulation.return", title, user)
	defer func() { endSpan(span, err) }()

	if user, err = normaliseUser(user); err != nil {
		return Outcome{}, err
	}

	unlock := c.lockTitle(title, &out)
	defer unlock()

	book, err := c.catalog.Get(title)
	if err != nil {
		return Outcome{}, err
	}
	key := catalog.Key(book.Title)
	if _, held := c.heldLoan(user, key); !held {
		return Outcome{}, fmt.Errorf("%s, %q: %w", user, book.Title, ErrNotLoanedByUser)
	}

	if err := c.catalog.ReturnCopy(book.Title); err != nil {
		return Outcome{}, err
	}

	c.loansMu.Lock()
	delete(c.loans[user], key)
	if len(c.loans[user]) == 0 {
		delete(c.loans, user)
	}
	c.loansMu.Unlock()

	now := c.now()
	c.metrics.returns.Add(ctx, 1)
	out.Persist = true
	out.record(EventCopyReturned, book.Title, CopyReturnedEvent{User: user, ReturnedAt: now.UTC()})

	if head, ok := c.waitlists.DequeueHead(book.Title); ok {
		n := notification.Available(head, book.Title, now)
		c.publish(ctx, &out, n)
		out.record(EventAvailabilityNotified, book.Title, NotifiedEvent{User: head, NotificationID: n.ID.String(), At: n.Timestamp})
		span.SetAttributes(attribute.String("waitlist.notified", head))
	}

	c.logger.Info("book returned", "book_title", book.Title, "user", user)
	return out, nil
}

// JoinWaitlist queues user for title whether or not copies are on the shelf.
func (c *Coordinator) JoinWaitlist(ctx context.Context, title, user string) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "circulation.join_waitlist", title, user)
	defer func() { endSpan(span, err) }()

	if user, err = normaliseUser(user); err != nil {
		return Outcome{}, err
	}

	unlock := c.lockTitle(title, &out)
	defer unlock()

	book, err := c.catalog.Get(title)
	if err != nil {
		return Outcome{}, err
	}
	if _, held := c.heldLoan(user, catalog.Key(book.Title)); held {
		return Outcome{}, fmt.Errorf("%s, %q: %w", user, book.Title, ErrAlreadyBorrowed)
	}
	if _, queued := c.waitlists.PositionOf(book.Title, user); queued {
		return Outcome{}, fmt.Errorf("%s, %q: %w", user, book.Title, waitlist.ErrAlreadyQueued)
	}

	out, err = c.enqueue(ctx, book.Title, user)
	if err != nil {
		return Outcome{}, err
	}
	span.SetAttributes(attribute.Int("waitlist.position", out.Position))
	return out, nil
}

// LeaveWaitlist removes user from the queue for title. It works for titles
// that have since been removed from the catalog.
func (c *Coordinator) LeaveWaitlist(ctx context.Context, title, user string) (out Outcome, err error) {
	_, span := c.startSpan(ctx, "circulation.leave_waitlist", title, user)
	defer func() { endSpan(span, err) }()

	if user, err = normaliseUser(user); err != nil {
		return Outcome{}, err
	}

	unlock := c.lockTitle(title, &out)
	defer unlock()

	canonical := strings.TrimSpace(title)
	if book, err := c.catalog.Get(title); err == nil {
		canonical = book.Title
	}
	if err := c.waitlists.Remove(canonical, user); err != nil {
		return Outcome{}, err
	}

	out.record(EventWaitlistLeft, canonical, WaitlistLeftEvent{User: user})
	c.logger.Info("user left waitlist", "book_title", canonical, "user", user)
	return out, nil
}

// NotifyNextInLine sends the head of the queue for title another AVAILABLE
// notification without dequeuing it.
func (c *Coordinator) NotifyNextInLine(ctx context.Context, title string) (out Outcome, err error) {
	ctx, span := c.startSpan(ctx, "circulation.notify_next", title, "")
	defer func() { endSpan(span, err) }()

	unlock := c.lockTitle(title, &out)
	defer unlock()

	book, err := c.catalog.Get(title)
	if err != nil {
		return Outcome{}, err
	}
	head, ok := c.waitlists.Head(book.Title)
	if !ok {
		return Outcome{}, fmt.Errorf("%q: %w", book.Title, ErrEmptyWaitlist)
	}

	n := notification.Available(head, book.Title, c.now())
	c.publish(ctx, &out, n)
	out.record(EventAvailabilityNotified, book.Title, NotifiedEvent{User: head, NotificationID: n.ID.String(), At: n.Timestamp})
	return out, nil
}

// NotifyDueSoon reminds every borrower whose loan falls due within the
// due-soon window. Each loan is reminded at most once.
func (c *Coordinator) NotifyDueSoon(ctx context.Context) (out Outcome, err error) {
	ctx, span := c.tracer.Start(ctx, "circulation.notify_due_soon")
	defer func() { endSpan(span, err) }()

	now := c.now()
	var candidates []Loan
	c.loansMu.RLock()
	for _, held := range c.loans {
		for _, l := range held {
			if !l.DueNotified && !now.Before(l.DueAt.Add(-c.dueSoonWindow)) {
				candidates = append(candidates, *l)
			}
		}
	}
	c.loansMu.RUnlock()

	slices.SortFunc(candidates, func(a, b Loan) int { return a.DueAt.Compare(b.DueAt) })

	for _, cand := range candidates {
		out.merge(c.remindDue(ctx, cand, now))
	}
	span.SetAttributes(attribute.Int("notifications.sent", len(out.Notifications)))
	return out, nil
}

func (c *Coordinator) remindDue(ctx context.Context, cand Loan, now time.Time) (out Outcome) {
	unlock := c.lockTitle(cand.Title, &out)
	defer unlock()

	key := catalog.Key(cand.Title)
	c.loansMu.Lock()
	l, ok := c.loans[cand.User][key]
	if !ok || l.DueNotified || !l.LentAt.Equal(cand.LentAt) {
		c.loansMu.Unlock()
		return Outcome{}
	}
	l.DueNotified = true
	c.loansMu.Unlock()

	days := int(math.Ceil(l.DueAt.Sub(now).Hours() / 24))
	if days < 0 {
		days = 0
	}

	out = Outcome{Persist: true}
	n := notification.DueSoon(cand.User, cand.Title, days, now)
	c.publish(ctx, &out, n)
	out.record(EventDueSoonNotified, cand.Title, NotifiedEvent{User: cand.User, NotificationID: n.ID.String(), At: n.Timestamp})
	return out
}

// AddBook adds a title or merges its copies into an existing one.
func (c *Coordinator) AddBook(ctx context.Context, b catalog.Book) (out Outcome, err error) {
	_, span := c.startSpan(ctx, "circulation.add_book", b.Title, "")
	defer func() { endSpan(span, err) }()

	unlock := c.lockTitle(b.Title, &out)
	defer unlock()

	book, err := c.catalog.Add(b)
	if err != nil {
		return Outcome{}, err
	}
	out.Book = &book
	out.Persist = true
	out.record(EventBookAdded, book.Title, CopiesChangedEvent{TotalCopies: book.TotalCopies})
	return out, nil
}

// UpdateBook changes the descriptive fields of a title.
func (c *Coordinator) UpdateBook(ctx context.Context, title string, u catalog.Update) (out Outcome, err error) {
	_, span := c.startSpan(ctx, "circulation.update_book", title, "")
	defer func() { endSpan(span, err) }()

	unlock := c.lockTitle(title, &out)
	defer unlock()

	book, err := c.catalog.Update(title, u)
	if err != nil {
		return Outcome{}, err
	}
	out.Book = &book
	out.Persist = true
	out.record(EventBookUpdated, book.Title, u)
	return out, nil
}

// SetTotalCopies changes the number of owned copies of title.
func (c *Coordinator) SetTotalCopies(ctx context.Context, title string, n int) (Outcome, error) {
	return c.changeCopies(ctx, "circulation.set_total_copies", title, func() error {
		return c.catalog.SetTotalCopies(title, n)
	})
}

// AddCopies adjusts the number of owned copies of title by delta.
func (c *Coordinator) AddCopies(ctx context.Context, title string, delta int) (Outcome, error) {
	return c.changeCopies(ctx, "circulation.add_copies", title, func() error {
		return c.catalog.AddCopies(title, delta)
	})
}

func (c *Coordinator) changeCopies(ctx context.Context, name, title string, change func() error) (out Outcome, err error) {
	_, span := c.startSpan(ctx, name, title, "")
	defer func() { endSpan(span, err) }()

	unlock := c.lockTitle(title, &out)
	defer unlock()

	if err := change(); err != nil {
		return Outcome{}, err
	}
	book, err := c.catalog.Get(title)
	if err != nil {
		return Outcome{}, err
	}
	out.Book = &book
	out.Persist = true
	out.record(EventCopiesChanged, book.Title, CopiesChangedEvent{TotalCopies: book.TotalCopies})
	return out, nil
}

// RemoveBook deletes a title with no copies on loan. Its queue is kept.
func (c *Coordinator) RemoveBook(ctx context.Context, title string) (out Outcome, err error) {
	_, span := c.startSpan(ctx, "circulation.remove_book", title, "")
	defer func() { endSpan(span, err) }()

	unlock := c.lockTitle(title, &out)
	defer unlock()

	book, err := c.catalog.Get(title)
	if err != nil {
		return Outcome{}, err
	}
	if err := c.catalog.Remove(book.Title); err != nil {
		return Outcome{}, err
	}
	out.Persist = true
	out.record(EventBookRemoved, book.Title, nil)
	return out, nil
}

// Status returns the copy counts and queue of title as of one instant.
func (c *Coordinator) Status(title string) (Status, error) {
	unlock := c.rlockTitle(title)
	defer unlock()

	book, err := c.catalog.Get(title)
	if err != nil {
		return Status{}, err
	}
	st := Status{Book: book, State: StateAvailable, Queue: c.waitlists.Queue(book.Title)}
	if !book.IsAvailable() {
		st.State = StateExhausted
	}
	return st, nil
}

// Waitlist returns the users queued for title, head first.
func (c *Coordinator) Waitlist(title string) []string {
	unlock := c.rlockTitle(title)
	defer unlock()
	return c.waitlists.Queue(title)
}

// GetBook returns the record for title.
func (c *Coordinator) GetBook(title string) (catalog.Book, error) {
	return c.catalog.Get(title)
}

// Books returns a catalog view in the given order.
func (c *Coordinator) Books(order catalog.Order) []catalog.Book {
	return catalog.Sorted(c.catalog.All(), order, c.waitlists.Len)
}

// Search returns the titles matching query on field.
func (c *Coordinator) Search(field catalog.Field, query string) []catalog.Book {
	return catalog.Search(c.catalog.All(), field, query)
}

// WaitlistPositions maps every title user is queued for to its position.
func (c *Coordinator) WaitlistPositions(user string) map[string]int {
	return c.waitlists.PositionsFor(strings.TrimSpace(user))
}

// CurrentLoans returns the loans held by user, ordered by title.
func (c *Coordinator) CurrentLoans(user string) []Loan {
	c.loansMu.RLock()
	defer c.loansMu.RUnlock()

	held := c.loans[strings.TrimSpace(user)]
	out := make([]Loan, 0, len(held))
	for _, l := range held {
		out = append(out, *l)
	}
	slices.SortFunc(out, func(a, b Loan) int { return strings.Compare(catalog.Key(a.Title), catalog.Key(b.Title)) })
	return out
}

// Notifications exposes the bus for subscription and inbox queries.
func (c *Coordinator) Notifications() *notification.Bus {
	return c.bus
}

// Snapshot returns the catalog and every loan, consistent with each other.
func (c *Coordinator) Snapshot() ([]catalog.Book, []Loan) {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	return c.snapshotLocked()
}

// snapshotLocked must be called with commitMu held exclusively.
func (c *Coordinator) snapshotLocked() ([]catalog.Book, []Loan) {
	books := c.catalog.All()
	slices.SortFunc(books, func(a, b catalog.Book) int { return strings.Compare(catalog.Key(a.Title), catalog.Key(b.Title)) })
	return books, c.allLoans()
}

func (c *Coordinator) allLoans() []Loan {
	c.loansMu.RLock()
	defer c.loansMu.RUnlock()

	var out []Loan
	for _, held := range c.loans {
		for _, l := range held {
			out = append(out, *l)
		}
	}
	slices.SortFunc(out, func(a, b Loan) int {
		if n := strings.Compare(catalog.Key(a.Title), catalog.Key(b.Title)); n != 0 {
			return n
		}
		return strings.Compare(a.User, b.User)
	})
	return out
}

// Restore loads the catalog and the loan relation from storage. Every loan
// must name a known title and the loans of each title must account for
// exactly its loaned copies.
func (c *Coordinator) Restore(books []catalog.Book, loans []Loan) error {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()

	restored := catalog.New()
	if err := restored.Load(books); err != nil {
		return err
	}

	held := make(map[string]map[string]*Loan)
	perTitle := make(map[string]int)
	for _, l := range loans {
		book, err := restored.Get(l.Title)
		if err != nil {
			return fmt.Errorf("%w: loan of %q by %s: %w", ErrCorruptState, l.Title, l.User, err)
		}
		key := catalog.Key(book.Title)
		if held[l.User] == nil {
			held[l.User] = make(map[string]*Loan)
		}
		if _, dup := held[l.User][key]; dup {
			return fmt.Errorf("%w: %s holds %q twice", ErrCorruptState, l.User, book.Title)
		}
		loan := l
		loan.Title = book.Title
		held[l.User][key] = &loan
		perTitle[key]++
	}
	for _, b := range restored.All() {
		if got := perTitle[catalog.Key(b.Title)]; got != b.LoanedCopies {
			return fmt.Errorf("%w: %q has %d loaned copies but %d loans", ErrCorruptState, b.Title, b.LoanedCopies, got)
		}
	}

	if err := c.catalog.Load(books); err != nil {
		return err
	}
	c.loansMu.Lock()
	c.loans = held
	c.loansMu.Unlock()
	return nil
}

// Audit checks the cross-component invariants and describes each violation.
func (c *Coordinator) Audit() []string {
	c.commitMu.Lock()
	defer c.commitMu.Unlock()
	books, loans := c.snapshotLocked()

	var problems []string
	perTitle := make(map[string]int)
	holders := make(map[string]bool, len(loans))
	known := make(map[string]bool, len(books))
	for _, b := range books {
		known[catalog.Key(b.Title)] = true
	}
	for _, l := range loans {
		key := catalog.Key(l.Title)
		perTitle[key]++
		holders[key+"\x00"+l.User] = true
		if !known[key] {
			problems = append(problems, fmt.Sprintf("%s holds %q which is not in the catalog", l.User, l.Title))
		}
	}
	for _, b := range books {
		if b.LoanedCopies < 0 || b.LoanedCopies > b.TotalCopies {
			problems = append(problems, fmt.Sprintf("%q has %d of %d copies on loan", b.Title, b.LoanedCopies, b.TotalCopies))
		}
		if got := perTitle[catalog.Key(b.Title)]; got != b.LoanedCopies {
			problems = append(problems, fmt.Sprintf("%q counts %d loaned copies but %d users hold it", b.Title, b.LoanedCopies, got))
		}
	}
	for _, title := range c.waitlists.Titles() {
		seen := make(map[string]bool)
		for _, u := range c.waitlists.Queue(title) {
			if seen[u] {
				problems = append(problems, fmt.Sprintf("%s is queued twice for %q", u, title))
			}
			if holders[catalog.Key(title)+"\x00"+u] {
				problems = append(problems, fmt.Sprintf("%s holds %q and is queued for it", u, title))
			}
			seen[u] = true
		}
	}
	return problems
}
