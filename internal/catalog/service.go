// internal/catalog/service.go
package catalog

import (
	"context"
)

// Service defines the catalog administration operations exposed over HTTP.
// Mutations must go through the lending coordinator so they serialize with
// loans and returns of the same title.
type Service interface {
	AddBook(ctx context.Context, book Book) (Book, error)
	GetBook(ctx context.Context, title string) (Book, error)
	UpdateBook(ctx context.Context, title string, update Update) (Book, error)
	SetTotalCopies(ctx context.Context, title string, n int) error
	AddCopies(ctx context.Context, title string, delta int) error
	RemoveBook(ctx context.Context, title string) error
	ListBooks(ctx context.Context, order Order) ([]Book, error)
	SearchBooks(ctx context.Context, field Field, query string) ([]Book, error)
}
