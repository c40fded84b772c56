// internal/store/sql.go
package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"lendingdesk/internal/catalog"
	"lendingdesk/internal/circulation"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite3"

	tableBooks = "books"
	tableLoans = "loans"
)

var ErrUnsupportedDriver = errors.New("unsupported database driver")

var schema = map[string][]string{
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS books (
			title TEXT PRIMARY KEY,
			author TEXT NOT NULL,
			genre TEXT NOT NULL,
			year INTEGER NOT NULL,
			total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
			loaned_copies INTEGER NOT NULL CHECK (loaned_copies BETWEEN 0 AND total_copies),
			total_borrows INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			title TEXT NOT NULL,
			username TEXT NOT NULL,
			lent_at TIMESTAMPTZ NOT NULL,
			due_at TIMESTAMPTZ NOT NULL,
			due_notified BOOLEAN NOT NULL DEFAULT FALSE,
			PRIMARY KEY (title, username)
		)`,
	},
	DriverSQLite: {
		`PRAGMA journal_mode=WAL`,
		`CREATE TABLE IF NOT EXISTS books (
			title TEXT PRIMARY KEY,
			author TEXT NOT NULL,
			genre TEXT NOT NULL,
			year INTEGER NOT NULL,
			total_copies INTEGER NOT NULL CHECK (total_copies >= 0),
			loaned_copies INTEGER NOT NULL CHECK (loaned_copies BETWEEN 0 AND total_copies),
			total_borrows INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS loans (
			title TEXT NOT NULL,
			username TEXT NOT NULL,
			lent_at TIMESTAMP NOT NULL,
			due_at TIMESTAMP NOT NULL,
			due_notified BOOLEAN NOT NULL DEFAULT 0,
			PRIMARY KEY (title, username)
		)`,
	},
}

// SQLStore keeps the catalog and the loans in a SQL database. Every save
// replaces both tables inside one transaction.
type SQLStore struct {
	db      *sqlx.DB
	dialect goqu.DialectWrapper
}

// Open connects to a postgres or sqlite3 database and applies the schema.
func Open(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == DriverSQLite {
		if dir := filepath.Dir(dsn); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create db dir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_busy_timeout=5000", dsn)
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	s, err := NewSQLStore(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an open connection and applies the schema.
func NewSQLStore(ctx context.Context, db *sqlx.DB) (*SQLStore, error) {
	stmts, ok := schema[db.DriverName()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDriver, db.DriverName())
	}
	if db.DriverName() == DriverSQLite {
		// One writer at a time avoids SQLITE_BUSY between save transactions.
		db.SetMaxOpenConns(1)
	}
	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("apply schema: %w", err)
		}
	}
	return &SQLStore{db: db, dialect: goqu.Dialect(db.DriverName())}, nil
}

// Close closes the underlying connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Ping checks the connection.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLStore) LoadCatalog(ctx context.Context) ([]catalog.Book, error) {
	query, args, err := s.dialect.From(tableBooks).
		Select("title", "author", "genre", "year", "total_copies", "loaned_copies", "total_borrows").
		Order(goqu.I("title").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select books: %w", err)
	}

	books := []catalog.Book{}
	if err := s.db.SelectContext(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("select books: %w", err)
	}
	return books, nil
}

func (s *SQLStore) LoadLoans(ctx context.Context) ([]circulation.Loan, error) {
	query, args, err := s.dialect.From(tableLoans).
		Select("title", "username", "lent_at", "due_at", "due_notified").
		Order(goqu.I("title").Asc(), goqu.I("username").Asc()).
		Prepared(true).
		ToSQL()
	if err != nil {
		return nil, fmt.Errorf("build select loans: %w", err)
	}

	loans := []circulation.Loan{}
	if err := s.db.SelectContext(ctx, &loans, query, args...); err != nil {
		return nil, fmt.Errorf("select loans: %w", err)
	}
	for i := range loans {
		loans[i].LentAt = loans[i].LentAt.UTC()
		loans[i].DueAt = loans[i].DueAt.UTC()
	}
	return loans, nil
}

// SaveSnapshot replaces the books and the loans in one transaction, so the
// stored loans always match the stored copy counts.
func (s *SQLStore) SaveSnapshot(ctx context.Context, books []catalog.Book, loans []circulation.Loan) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	bookRows := make([]interface{}, len(books))
	for i, b := range books {
		bookRows[i] = b
	}
	loanRows := make([]interface{}, len(loans))
	for i, l := range loans {
		loanRows[i] = l
	}
	if err := s.replace(ctx, tx, tableBooks, bookRows); err != nil {
		return err
	}
	if err := s.replace(ctx, tx, tableLoans, loanRows); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) replace(ctx context.Context, tx *sqlx.Tx, table string, rows []interface{}) error {
	del, args, err := s.dialect.Delete(table).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build delete %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	if len(rows) == 0 {
		return nil
	}

	ins, args, err := s.dialect.Insert(table).Rows(rows...).Prepared(true).ToSQL()
	if err != nil {
		return fmt.Errorf("build insert %s: %w", table, err)
	}
	if _, err := tx.ExecContext(ctx, ins, args...); err != nil {
		return fmt.Errorf("insert %s: %w", table, err)
	}
	return nil
}
