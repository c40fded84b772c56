// internal/store/memory.go
package store

import (
	"context"
	"slices"
	"sync"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
)

// MemoryStore keeps saved state in process memory. Loads return copies.
type MemoryStore struct {
	mu    sync.RWMutex
	books []catalog.Book
	loans []circulation.Loan
}

// NewMemoryStore creates a store preloaded with books.
func NewMemoryStore(books ...catalog.Book) *MemoryStore {
	return &MemoryStore{books: slices.Clone(books)}
}

func (m *MemoryStore) LoadCatalog(ctx context.Context) ([]catalog.Book, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]catalog.Book{}, m.books...), nil
}

func (m *MemoryStore) LoadLoans(ctx context.Context) ([]circulation.Loan, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]circulation.Loan{}, m.loans...), nil
}

func (m *MemoryStore) SaveSnapshot(ctx context.Context, books []catalog.Book, loans []circulation.Loan) error {
	m.mu.Lock()
	m.books = slices.Clone(books)
	m.loans = slices.Clone(loans)
	m.mu.Unlock()
	return nil
}
