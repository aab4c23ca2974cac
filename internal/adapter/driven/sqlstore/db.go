// Package sqlstore implements credential persistence on a relational
// database. The backing engine is selected from the DSN: postgres:// URLs
// use lib/pq, anything else is treated as a SQLite database path.
package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// Dialect names accepted throughout the package.
const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// DB provides reader/writer database handles plus the resolved dialect.
// For SQLite the writer is limited to a single connection to avoid
// "database is locked" errors and the reader pool allows 4 concurrent
// readers; for Postgres both fields share one pool.
type DB struct {
	Writer  *sql.DB
	Reader  *sql.DB
	dialect string
}

// DialectFor resolves the dialect for a DSN. postgres:// and postgresql://
// schemes select Postgres; every other value is a SQLite path.
func DialectFor(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// NewDB opens database handles for the given DSN and verifies connectivity.
func NewDB(dsn string) (*DB, error) {
	if DialectFor(dsn) == DialectPostgres {
		return newPostgresDB(dsn)
	}
	return newSQLiteDB(dsn)
}

func newPostgresDB(dsn string) (*DB, error) {
	pool, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool.SetMaxOpenConns(8)

	if err := pool.Ping(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &DB{Writer: pool, Reader: pool, dialect: DialectPostgres}, nil
}

func newSQLiteDB(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=cache_size(-64000)",
		dbPath,
	)

	writer, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	if err := writer.Ping(); err != nil {
		writer.Close()
		return nil, fmt.Errorf("ping writer: %w", err)
	}

	reader, err := sql.Open("sqlite", dsn)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("open reader: %w", err)
	}
	reader.SetMaxOpenConns(4)

	if err := reader.Ping(); err != nil {
		reader.Close()
		writer.Close()
		return nil, fmt.Errorf("ping reader: %w", err)
	}

	return &DB{Writer: writer, Reader: reader, dialect: DialectSQLite}, nil
}

// Dialect returns the resolved dialect name.
func (db *DB) Dialect() string {
	return db.dialect
}

// Close closes the underlying connections. Returns the first error encountered.
func (db *DB) Close() error {
	var firstErr error

	if err := db.Reader.Close(); err != nil {
		firstErr = fmt.Errorf("close reader: %w", err)
	}

	// Postgres shares one pool between reader and writer; closing twice is
	// harmless but skip the duplicate to keep errors meaningful.
	if db.Writer != db.Reader {
		if err := db.Writer.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close writer: %w", err)
		}
	}

	return firstErr
}

// rebind converts ?-style placeholders to the dialect's native form.
// SQLite queries pass through unchanged; Postgres queries get $1..$n.
func (db *DB) rebind(query string) string {
	if db.dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
