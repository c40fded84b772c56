// internal/catalog/implementation_test.go
package catalog

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func dune(copies int) Book {
	return Book{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1965, TotalCopies: copies}
}

func TestCatalogLoanAndReturn(t *testing.T) {
	c := New()
	_, err := c.Add(dune(1))
	require.NoError(t, err)

	require.NoError(t, c.Loan("dune"))
	b, err := c.Get("DUNE")
	require.NoError(t, err)
	assert.Equal(t, "Dune", b.Title, "stored title keeps its canonical case")
	assert.Equal(t, 0, b.AvailableCopies())
	assert.Equal(t, 1, b.TotalBorrows)

	assert.ErrorIs(t, c.Loan("Dune"), ErrNotAvailable)

	require.NoError(t, c.ReturnCopy("Dune"))
	assert.ErrorIs(t, c.ReturnCopy("Dune"), ErrNothingToReturn)

	b, _ = c.Get("Dune")
	assert.Equal(t, 1, b.AvailableCopies())
	assert.Equal(t, 1, b.TotalBorrows, "returns never decrement the borrow counter")
}

func TestCatalogUnknownTitle(t *testing.T) {
	c := New()

	_, err := c.Get("Missing")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, c.Loan("Missing"), ErrNotFound)
	assert.ErrorIs(t, c.ReturnCopy("Missing"), ErrNotFound)
	assert.ErrorIs(t, c.SetTotalCopies("Missing", 1), ErrNotFound)
	assert.ErrorIs(t, c.AddCopies("Missing", 1), ErrNotFound)
	assert.ErrorIs(t, c.Remove("Missing"), ErrNotFound)
}

func TestCatalogSetTotalCopies(t *testing.T) {
	c := New()
	_, err := c.Add(dune(2))
	require.NoError(t, err)
	require.NoError(t, c.Loan("Dune"))

	assert.ErrorIs(t, c.SetTotalCopies("Dune", -1), ErrInvalidCount)
	assert.ErrorIs(t, c.SetTotalCopies("Dune", 0), ErrInvalidCount)
	assert.ErrorIs(t, c.AddCopies("Dune", -2), ErrInvalidCount)

	b, _ := c.Get("Dune")
	assert.Equal(t, 2, b.TotalCopies, "failed updates leave the count unchanged")

	require.NoError(t, c.SetTotalCopies("Dune", 1))
	require.NoError(t, c.AddCopies("Dune", 3))
	b, _ = c.Get("Dune")
	assert.Equal(t, 4, b.TotalCopies)
	assert.Equal(t, 3, b.AvailableCopies())
}

func TestCatalogAddMergesCopies(t *testing.T) {
	c := New()
	_, err := c.Add(dune(1))
	require.NoError(t, err)

	merged, err := c.Add(Book{Title: "dune", Author: "Someone Else", Genre: "Other", Year: 2000, TotalCopies: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, merged.TotalCopies)
	assert.Equal(t, "Frank Herbert", merged.Author)
	assert.Equal(t, 1, c.Len())
}

func TestCatalogAddValidates(t *testing.T) {
	c := New()

	_, err := c.Add(Book{Title: " ", Author: "A", Genre: "G"})
	assert.ErrorIs(t, err, ErrInvalidBook)

	_, err = c.Add(Book{Title: "T", Author: "A", Genre: "G", TotalCopies: -1})
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestCatalogRemove(t *testing.T) {
	c := New()
	_, err := c.Add(dune(1))
	require.NoError(t, err)
	require.NoError(t, c.Loan("Dune"))

	assert.ErrorIs(t, c.Remove("Dune"), ErrStillOnLoan)

	require.NoError(t, c.ReturnCopy("Dune"))
	require.NoError(t, c.Remove("dune"))
	assert.Equal(t, 0, c.Len())
}

func TestCatalogUpdate(t *testing.T) {
	c := New()
	_, err := c.Add(dune(1))
	require.NoError(t, err)

	year := 1966
	genre := "Classic"
	b, err := c.Update("Dune", Update{Genre: &genre, Year: &year})
	require.NoError(t, err)
	assert.Equal(t, "Classic", b.Genre)
	assert.Equal(t, 1966, b.Year)
	assert.Equal(t, "Frank Herbert", b.Author)

	empty := ""
	_, err = c.Update("Dune", Update{Author: &empty})
	assert.ErrorIs(t, err, ErrInvalidBook)
}

func TestCatalogLoadRejectsBrokenRecords(t *testing.T) {
	c := New()
	_, err := c.Add(dune(1))
	require.NoError(t, err)

	err = c.Load([]Book{
		{Title: "A", Author: "X", Genre: "G", TotalCopies: 1, LoanedCopies: 2},
	})
	assert.ErrorIs(t, err, ErrInvalidCount)

	err = c.Load([]Book{
		{Title: "A", Author: "X", Genre: "G", TotalCopies: 1},
		{Title: "a", Author: "Y", Genre: "G", TotalCopies: 1},
	})
	assert.ErrorIs(t, err, ErrInvalidBook)

	_, err = c.Get("Dune")
	assert.NoError(t, err, "a failed load keeps the previous content")
}

func TestCatalogConcurrentLoansNeverOverbook(t *testing.T) {
	c := New()
	_, err := c.Add(dune(5))
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.Loan("Dune") == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	b, _ := c.Get("Dune")
	assert.Equal(t, 5, successes)
	assert.Equal(t, 5, b.LoanedCopies)
	assert.Equal(t, 5, b.TotalBorrows)
}

func TestCatalogCopyInvariantProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		c := New()
		initial := rapid.IntRange(0, 5).Draw(t, "copies")
		if _, err := c.Add(dune(initial)); err != nil {
			t.Fatalf("add: %v", err)
		}

		borrows := 0
		for i := rapid.IntRange(1, 40).Draw(t, "steps"); i > 0; i-- {
			before, _ := c.Get("Dune")
			switch rapid.IntRange(0, 3).Draw(t, "op") {
			case 0:
				if err := c.Loan("Dune"); err == nil {
					borrows++
					after, _ := c.Get("Dune")
					if after.AvailableCopies() != before.AvailableCopies()-1 {
						t.Fatalf("available went from %d to %d", before.AvailableCopies(), after.AvailableCopies())
					}
				}
			case 1:
				_ = c.ReturnCopy("Dune")
			case 2:
				_ = c.SetTotalCopies("Dune", rapid.IntRange(-2, 6).Draw(t, "total"))
			case 3:
				_ = c.AddCopies("Dune", rapid.IntRange(-3, 3).Draw(t, "delta"))
			}

			b, _ := c.Get("Dune")
			if b.LoanedCopies < 0 || b.LoanedCopies > b.TotalCopies {
				t.Fatalf("invariant broken: %d loaned of %d", b.LoanedCopies, b.TotalCopies)
			}
			if b.TotalBorrows != borrows {
				t.Fatalf("total borrows %d, want %d", b.TotalBorrows, borrows)
			}
		}
	})
}
