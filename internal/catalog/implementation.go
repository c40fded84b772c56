// internal/catalog/implementation.go
package catalog

import (
	"fmt"
	"strings"
	"sync"
)

type record struct {
	mu   sync.Mutex
	book Book
}

// Catalog is the authoritative in-memory store of book records.
// The map lock guards structure (add/remove); each record has its own lock
// for copy counters, so loans of unrelated titles never contend.
type Catalog struct {
	mu    sync.RWMutex
	books map[string]*record
}

// New creates an empty catalog.
func New() *Catalog {
	return &Catalog{books: make(map[string]*record)}
}

// Load replaces the catalog content with the given records.
// Nothing is replaced if any record is invalid or two records share a title.
func (c *Catalog) Load(books []Book) error {
	loaded := make(map[string]*record, len(books))
	for _, b := range books {
		b.Title = strings.TrimSpace(b.Title)
		if err := b.Validate(); err != nil {
			return fmt.Errorf("load %q: %w", b.Title, err)
		}
		key := Key(b.Title)
		if _, dup := loaded[key]; dup {
			return fmt.Errorf("load %q: %w: duplicate title", b.Title, ErrInvalidBook)
		}
		loaded[key] = &record{book: b}
	}

	c.mu.Lock()
	c.books = loaded
	c.mu.Unlock()
	return nil
}

// Add inserts a new title. Adding a title that already exists merges the
// copies into the existing record and keeps its descriptive fields.
func (c *Catalog) Add(b Book) (Book, error) {
	b.Title = strings.TrimSpace(b.Title)
	b.LoanedCopies = 0
	b.TotalBorrows = 0
	if err := b.Validate(); err != nil {
		return Book{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(b.Title)
	if rec, ok := c.books[key]; ok {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.book.TotalCopies += b.TotalCopies
		return rec.book, nil
	}
	c.books[key] = &record{book: b}
	return b, nil
}

func (c *Catalog) lookup(title string) (*record, error) {
	c.mu.RLock()
	rec, ok := c.books[Key(title)]
	c.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%q: %w", title, ErrNotFound)
	}
	return rec, nil
}

// Get returns a copy of the record for title.
func (c *Catalog) Get(title string) (Book, error) {
	rec, err := c.lookup(title)
	if err != nil {
		return Book{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.book, nil
}

// Loan takes one copy off the shelf.
func (c *Catalog) Loan(title string) error {
	rec, err := c.lookup(title)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if !rec.book.IsAvailable() {
		return fmt.Errorf("%q: %w", rec.book.Title, ErrNotAvailable)
	}
	rec.book.LoanedCopies++
	rec.book.TotalBorrows++
	return nil
}

// ReturnCopy puts one loaned copy back on the shelf.
func (c *Catalog) ReturnCopy(title string) error {
	rec, err := c.lookup(title)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	if rec.book.LoanedCopies == 0 {
		return fmt.Errorf("%q: %w", rec.book.Title, ErrNothingToReturn)
	}
	rec.book.LoanedCopies--
	return nil
}

// SetTotalCopies changes the number of owned copies. It cannot go below the
// number of copies currently on loan.
func (c *Catalog) SetTotalCopies(title string, n int) error {
	rec, err := c.lookup(title)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.setTotal(n)
}

// AddCopies adjusts the total by delta, which may be negative.
func (c *Catalog) AddCopies(title string, delta int) error {
	rec, err := c.lookup(title)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.setTotal(rec.book.TotalCopies + delta)
}

func (r *record) setTotal(n int) error {
	if n < 0 {
		return fmt.Errorf("%q: %w: %d is negative", r.book.Title, ErrInvalidCount, n)
	}
	if n < r.book.LoanedCopies {
		return fmt.Errorf("%q: %w: %d is below %d on loan", r.book.Title, ErrInvalidCount, n, r.book.LoanedCopies)
	}
	r.book.TotalCopies = n
	return nil
}

// Update applies descriptive changes and returns the updated record.
func (c *Catalog) Update(title string, u Update) (Book, error) {
	rec, err := c.lookup(title)
	if err != nil {
		return Book{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()

	next := rec.book
	if u.Author != nil {
		next.Author = strings.TrimSpace(*u.Author)
	}
	if u.Genre != nil {
		next.Genre = strings.TrimSpace(*u.Genre)
	}
	if u.Year != nil {
		next.Year = *u.Year
	}
	if err := next.Validate(); err != nil {
		return Book{}, err
	}
	rec.book = next
	return next, nil
}

// Remove deletes a title that has no copies on loan.
func (c *Catalog) Remove(title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(title)
	rec, ok := c.books[key]
	if !ok {
		return fmt.Errorf("%q: %w", title, ErrNotFound)
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.book.LoanedCopies > 0 {
		return fmt.Errorf("%q: %w", rec.book.Title, ErrStillOnLoan)
	}
	delete(c.books, key)
	return nil
}

// All returns copies of every record, in no particular order.
func (c *Catalog) All() []Book {
	c.mu.RLock()
	defer c.mu.RUnlock()

	books := make([]Book, 0, len(c.books))
	for _, rec := range c.books {
		rec.mu.Lock()
		books = append(books, rec.book)
		rec.mu.Unlock()
	}
	return books
}

// Len returns the number of titles.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.books)
}
