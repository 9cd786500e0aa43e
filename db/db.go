// ABOUTME: Warehouse connection management and initialization
// ABOUTME: Opens SQLite (WAL, single connection) or Postgres via pgx and rebinds placeholders per dialect
package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

// Dialect selects SQL variations between the supported warehouses.
type Dialect int

const (
	DialectSQLite Dialect = iota
	DialectPostgres
)

func (d Dialect) String() string {
	if d == DialectPostgres {
		return "postgres"
	}
	return "sqlite"
}

// Rebind rewrites ? placeholders into the dialect's form. Question marks
// inside single-quoted literals are left alone.
func (d Dialect) Rebind(query string) string {
	if d != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	inQuote := false
	for i := 0; i < len(query); i++ {
		ch := query[i]
		switch {
		case ch == '\'':
			inQuote = !inQuote
			b.WriteByte(ch)
		case ch == '?' && !inQuote:
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(ch)
		}
	}
	return b.String()
}

// Querier is implemented by *Warehouse and *Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Warehouse is a database handle that knows its dialect.
type Warehouse struct {
	db      *sql.DB
	dialect Dialect
}

// NewWarehouse wraps an already open database.
func NewWarehouse(database *sql.DB, dialect Dialect) *Warehouse {
	return &Warehouse{db: database, dialect: dialect}
}

// OpenDatabase opens the warehouse named by dsn and initializes the schema.
// postgres:// and postgresql:// DSNs use pgx; sqlite://path, file: URIs, bare
// paths and :memory: use SQLite.
func OpenDatabase(ctx context.Context, dsn string) (*Warehouse, error) {
	var (
		w   *Warehouse
		err error
	)
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		w, err = openPostgres(ctx, dsn)
	default:
		w, err = openSQLite(strings.TrimPrefix(dsn, "sqlite://"))
	}
	if err != nil {
		return nil, err
	}

	if err := InitSchema(ctx, w); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func openPostgres(ctx context.Context, dsn string) (*Warehouse, error) {
	database, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open postgres")
	}
	if err := database.PingContext(ctx); err != nil {
		_ = database.Close()
		return nil, eris.Wrap(err, "failed to ping postgres")
	}
	return NewWarehouse(database, DialectPostgres), nil
}

func openSQLite(path string) (*Warehouse, error) {
	source := path
	if path != ":memory:" && !strings.HasPrefix(path, "file:") {
		// Ensure directory exists
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, eris.Wrapf(err, "failed to create directory for %s", path)
		}
		source = path + "?_journal_mode=WAL"
	}

	database, err := sql.Open("sqlite3", source)
	if err != nil {
		return nil, eris.Wrap(err, "failed to open sqlite")
	}

	// One connection avoids "database is locked" and keeps temp tables and
	// :memory: databases on a single session.
	database.SetMaxOpenConns(1)

	return NewWarehouse(database, DialectSQLite), nil
}

// DB exposes the underlying handle.
func (w *Warehouse) DB() *sql.DB { return w.db }

// Dialect reports the warehouse dialect.
func (w *Warehouse) Dialect() Dialect { return w.dialect }

// Close closes the underlying handle.
func (w *Warehouse) Close() error { return w.db.Close() }

func (w *Warehouse) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return w.db.ExecContext(ctx, w.dialect.Rebind(query), args...)
}

func (w *Warehouse) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return w.db.QueryContext(ctx, w.dialect.Rebind(query), args...)
}

func (w *Warehouse) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return w.db.QueryRowContext(ctx, w.dialect.Rebind(query), args...)
}

// BeginTx starts a transaction.
func (w *Warehouse) BeginTx(ctx context.Context) (*Tx, error) {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, eris.Wrap(err, "failed to begin transaction")
	}
	return &Tx{tx: tx, dialect: w.dialect}, nil
}

// Tx is a transaction that knows its dialect.
type Tx struct {
	tx      *sql.Tx
	dialect Dialect
}

func (t *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return t.tx.ExecContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return t.tx.QueryContext(ctx, t.dialect.Rebind(query), args...)
}

func (t *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return t.tx.QueryRowContext(ctx, t.dialect.Rebind(query), args...)
}

// PrepareContext prepares a statement inside the transaction.
func (t *Tx) PrepareContext(ctx context.Context, query string) (*sql.Stmt, error) {
	return t.tx.PrepareContext(ctx, t.dialect.Rebind(query))
}

func (t *Tx) Commit() error   { return t.tx.Commit() }
func (t *Tx) Rollback() error { return t.tx.Rollback() }
