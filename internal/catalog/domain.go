// internal/catalog/domain.go
package catalog

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound        = errors.New("book not found")
	ErrNotAvailable    = errors.New("no copies available")
	ErrNothingToReturn = errors.New("no copies on loan")
	ErrInvalidCount    = errors.New("invalid copy count")
	ErrStillOnLoan     = errors.New("copies are still on loan")
	ErrInvalidBook     = errors.New("invalid book")
)

// Book represents a title in the catalog together with its copy counters.
type Book struct {
	Title        string `json:"title" db:"title"`
	Author       string `json:"author" db:"author"`
	Genre        string `json:"genre" db:"genre"`
	Year         int    `json:"year" db:"year"`
	TotalCopies  int    `json:"total_copies" db:"total_copies"`
	LoanedCopies int    `json:"loaned_copies" db:"loaned_copies"`
	TotalBorrows int    `json:"total_borrows" db:"total_borrows"`
}

// AvailableCopies is the number of copies that can be lent right now.
func (b Book) AvailableCopies() int {
	return b.TotalCopies - b.LoanedCopies
}

// IsAvailable reports whether at least one copy is on the shelf.
func (b Book) IsAvailable() bool {
	return b.AvailableCopies() > 0
}

// Validate checks the record fields and the copy-count invariant.
func (b Book) Validate() error {
	switch {
	case strings.TrimSpace(b.Title) == "":
		return fmt.Errorf("%w: title must not be empty", ErrInvalidBook)
	case strings.TrimSpace(b.Author) == "":
		return fmt.Errorf("%w: author must not be empty", ErrInvalidBook)
	case strings.TrimSpace(b.Genre) == "":
		return fmt.Errorf("%w: genre must not be empty", ErrInvalidBook)
	case b.TotalCopies < 0:
		return fmt.Errorf("%w: total copies must not be negative", ErrInvalidCount)
	case b.LoanedCopies < 0 || b.LoanedCopies > b.TotalCopies:
		return fmt.Errorf("%w: %d loaned of %d total", ErrInvalidCount, b.LoanedCopies, b.TotalCopies)
	case b.TotalBorrows < 0:
		return fmt.Errorf("%w: total borrows must not be negative", ErrInvalidBook)
	}
	return nil
}

// Update carries the descriptive fields that may change after a book is added.
// Nil fields are left untouched. The title is the catalog key and never changes.
type Update struct {
	Author *string `json:"author,omitempty"`
	Genre  *string `json:"genre,omitempty"`
	Year   *int    `json:"year,omitempty"`
}

// Key normalises a title for case-insensitive lookups.
func Key(title string) string {
	return strings.ToLower(strings.TrimSpace(title))
}
