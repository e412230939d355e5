package db

import (
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect identifies the SQL flavour of the backing store.
type Dialect string

// Supported dialects.
const (
	SQLite   Dialect = "sqlite"
	Postgres Dialect = "postgres"
)

// DB is a database handle that knows which dialect it speaks. Queries are
// written with ? placeholders and passed through Rebind.
type DB struct {
	*sql.DB
	Dialect Dialect
}

// sqlitePragmas are applied to every pooled connection through the DSN.
// BEGIN IMMEDIATE makes every transaction take the write lock up front.
var sqlitePragmas = []string{
	"_pragma=journal_mode(WAL)",
	"_pragma=busy_timeout(5000)",
	"_pragma=foreign_keys(1)",
	"_pragma=synchronous(NORMAL)",
	"_txlock=immediate",
}

// Open opens the backing store. For SQLite dsn is a file path; for
// Postgres it is a pgx connection string.
func Open(dialect Dialect, dsn string) (*DB, error) {
	var (
		conn *sql.DB
		err  error
	)
	switch dialect {
	case SQLite, "":
		dialect = SQLite
		conn, err = sql.Open("sqlite", sqliteDSN(dsn))
	case Postgres:
		conn, err = sql.Open("pgx", dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dialect)
	}
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &DB{DB: conn, Dialect: dialect}, nil
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	if !strings.HasPrefix(path, "file:") {
		path = "file:" + path
	}
	return path + sep + strings.Join(sqlitePragmas, "&")
}

// Rebind rewrites ? placeholders into the dialect's native form.
func (d *DB) Rebind(query string) string {
	if d.Dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// LockRowsClause is appended to a row-selecting subquery that feeds a claim.
// Postgres skips rows another claimant is already updating; SQLite
// serializes writers, so it needs nothing.
func (d *DB) LockRowsClause() string {
	if d.Dialect == Postgres {
		return " FOR UPDATE SKIP LOCKED"
	}
	return ""
}
