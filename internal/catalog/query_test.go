// internal/catalog/query_test.go
package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shelf() []Book {
	return []Book{
		{Title: "Neuromancer", Author: "William Gibson", Genre: "Cyberpunk", Year: 1984, TotalCopies: 1, LoanedCopies: 1},
		{Title: "Dune", Author: "Frank Herbert", Genre: "Science Fiction", Year: 1965, TotalCopies: 2, LoanedCopies: 1},
		{Title: "Emma", Author: "Jane Austen", Genre: "Romance", Year: 1815, TotalCopies: 3},
		{Title: "Hyperion", Author: "Dan Simmons", Genre: "Science Fiction", Year: 1989, TotalCopies: 0},
	}
}

func titles(books []Book) []string {
	out := make([]string, len(books))
	for i, b := range books {
		out[i] = b.Title
	}
	return out
}

func TestSorted(t *testing.T) {
	waiting := map[string]int{"Neuromancer": 3, "Hyperion": 1}
	popularity := func(title string) int { return waiting[title] }

	tests := []struct {
		order Order
		want  []string
	}{
		{OrderTitle, []string{"Dune", "Emma", "Hyperion", "Neuromancer"}},
		{OrderAuthor, []string{"Hyperion", "Dune", "Emma", "Neuromancer"}},
		{OrderYear, []string{"Emma", "Dune", "Neuromancer", "Hyperion"}},
		{OrderYearDesc, []string{"Hyperion", "Neuromancer", "Dune", "Emma"}},
		{OrderGenre, []string{"Neuromancer", "Emma", "Dune", "Hyperion"}},
		{OrderPopularity, []string{"Neuromancer", "Hyperion", "Dune", "Emma"}},
		{OrderAvailable, []string{"Dune", "Emma"}},
		{OrderUnavailable, []string{"Hyperion", "Neuromancer"}},
		{OrderLoaned, []string{"Dune", "Neuromancer"}},
	}

	for _, tt := range tests {
		t.Run(tt.order.String(), func(t *testing.T) {
			books := shelf()
			assert.Equal(t, tt.want, titles(Sorted(books, tt.order, popularity)))
			assert.Equal(t, "Neuromancer", books[0].Title, "input slice is not reordered")
		})
	}
}

func TestSortedPopularityWithoutCounter(t *testing.T) {
	assert.Equal(t, []string{"Dune", "Emma", "Hyperion", "Neuromancer"}, titles(Sorted(shelf(), OrderPopularity, nil)))
}

func TestParseOrder(t *testing.T) {
	o, err := ParseOrder("")
	require.NoError(t, err)
	assert.Equal(t, OrderTitle, o)

	o, err = ParseOrder("Year_Desc")
	require.NoError(t, err)
	assert.Equal(t, OrderYearDesc, o)

	_, err = ParseOrder("random")
	assert.Error(t, err)
}

func TestSearch(t *testing.T) {
	books := shelf()

	assert.Equal(t, []string{"Dune", "Hyperion"}, titles(Search(books, FieldGenre, "science")))
	assert.Equal(t, []string{"Neuromancer"}, titles(Search(books, FieldAuthor, "GIBSON")))
	assert.Equal(t, []string{"Emma", "Neuromancer"}, titles(Search(books, FieldTitle, "m")))
	assert.Equal(t, []string{"Dune"}, titles(Search(books, FieldYear, " 1965 ")))
	assert.Empty(t, Search(books, FieldYear, "nineteen"))
	assert.NotNil(t, Search(books, FieldTitle, "zzz"))
}

func TestParseField(t *testing.T) {
	f, err := ParseField("author")
	require.NoError(t, err)
	assert.Equal(t, FieldAuthor, f)

	_, err = ParseField("isbn")
	assert.Error(t, err)
}
