// internal/catalog/query.go
package catalog

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// Order selects a listing view over a catalog snapshot.
type Order int

const (
	OrderTitle Order = iota
	OrderAuthor
	OrderYear
	OrderYearDesc
	OrderGenre
	OrderPopularity
	OrderAvailable
	OrderUnavailable
	OrderLoaned
)

var orderNames = map[Order]string{
	OrderTitle:       "title",
	OrderAuthor:      "author",
	OrderYear:        "year",
	OrderYearDesc:    "year_desc",
	OrderGenre:       "genre",
	OrderPopularity:  "popularity",
	OrderAvailable:   "available",
	OrderUnavailable: "unavailable",
	OrderLoaned:      "loaned",
}

func (o Order) String() string {
	if name, ok := orderNames[o]; ok {
		return name
	}
	return "order(" + strconv.Itoa(int(o)) + ")"
}

// ParseOrder maps a view name to an Order. The empty string means OrderTitle.
func ParseOrder(s string) (Order, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return OrderTitle, nil
	}
	for o, name := range orderNames {
		if name == s {
			return o, nil
		}
	}
	return 0, fmt.Errorf("unknown order %q", s)
}

func byTitle(a, b Book) int {
	return cmp.Compare(Key(a.Title), Key(b.Title))
}

// Sorted returns a new slice holding the view of books selected by order.
// popularity reports the waiting-list length of a title and is only
// consulted for OrderPopularity; a nil func counts every title as zero.
func Sorted(books []Book, order Order, popularity func(title string) int) []Book {
	out := slices.Clone(books)

	switch order {
	case OrderAuthor:
		slices.SortStableFunc(out, func(a, b Book) int {
			return cmp.Or(cmp.Compare(strings.ToLower(a.Author), strings.ToLower(b.Author)), byTitle(a, b))
		})
	case OrderYear:
		slices.SortStableFunc(out, func(a, b Book) int {
			return cmp.Or(cmp.Compare(a.Year, b.Year), byTitle(a, b))
		})
	case OrderYearDesc:
		slices.SortStableFunc(out, func(a, b Book) int {
			return cmp.Or(cmp.Compare(b.Year, a.Year), byTitle(a, b))
		})
	case OrderGenre:
		slices.SortStableFunc(out, func(a, b Book) int {
			return cmp.Or(cmp.Compare(strings.ToLower(a.Genre), strings.ToLower(b.Genre)), byTitle(a, b))
		})
	case OrderPopularity:
		if popularity == nil {
			popularity = func(string) int { return 0 }
		}
		waiting := make(map[string]int, len(out))
		for _, b := range out {
			waiting[b.Title] = popularity(b.Title)
		}
		slices.SortStableFunc(out, func(a, b Book) int {
			return cmp.Or(cmp.Compare(waiting[b.Title], waiting[a.Title]), byTitle(a, b))
		})
	case OrderAvailable:
		out = slices.DeleteFunc(out, func(b Book) bool { return !b.IsAvailable() })
		slices.SortStableFunc(out, byTitle)
	case OrderUnavailable:
		out = slices.DeleteFunc(out, Book.IsAvailable)
		slices.SortStableFunc(out, byTitle)
	case OrderLoaned:
		out = slices.DeleteFunc(out, func(b Book) bool { return b.LoanedCopies == 0 })
		slices.SortStableFunc(out, byTitle)
	default:
		slices.SortStableFunc(out, byTitle)
	}
	return out
}

// Field selects the attribute a search matches against.
type Field int

const (
	FieldTitle Field = iota
	FieldAuthor
	FieldGenre
	FieldYear
)

var fieldNames = map[Field]string{
	FieldTitle:  "title",
	FieldAuthor: "author",
	FieldGenre:  "genre",
	FieldYear:   "year",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return "field(" + strconv.Itoa(int(f)) + ")"
}

// ParseField maps a field name to a Field. The empty string means FieldTitle.
func ParseField(s string) (Field, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return FieldTitle, nil
	}
	for f, name := range fieldNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown search field %q", s)
}

// Search returns the books matching query on field, ordered by title.
// Text fields match case-insensitive substrings; FieldYear needs an exact
// integer and yields nothing for a query that is not one.
func Search(books []Book, field Field, query string) []Book {
	var match func(Book) bool

	switch field {
	case FieldYear:
		year, err := strconv.Atoi(strings.TrimSpace(query))
		if err != nil {
			return []Book{}
		}
		match = func(b Book) bool { return b.Year == year }
	default:
		q := strings.ToLower(query)
		pick := func(b Book) string { return b.Title }
		switch field {
		case FieldAuthor:
			pick = func(b Book) string { return b.Author }
		case FieldGenre:
			pick = func(b Book) string { return b.Genre }
		}
		match = func(b Book) bool { return strings.Contains(strings.ToLower(pick(b)), q) }
	}

	out := make([]Book, 0)
	for _, b := range books {
		if match(b) {
			out = append(out, b)
		}
	}
	slices.SortStableFunc(out, byTitle)
	return out
}
