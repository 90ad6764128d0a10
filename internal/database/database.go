// Package database opens the registry and results database and applies
// its migrations. SQLite is the default; PostgreSQL is supported for
// shared deployments.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

type Config struct {
	// Driver is "sqlite" or "postgres".
	Driver string `mapstructure:"driver" yaml:"driver"`
	// DSN is a file path for sqlite (":memory:" for a private in-memory
	// database) or a connection string for postgres.
	DSN string `mapstructure:"dsn" yaml:"dsn"`
}

func DefaultConfig() Config {
	return Config{Driver: DriverSQLite, DSN: "data/site-scanner.db"}
}

// DB is a *sql.DB that remembers its driver so queries written with ?
// placeholders can be rebound.
type DB struct {
	*sql.DB
	Driver string
}

// Open opens the database described by cfg and pings it.
func Open(ctx context.Context, cfg Config) (*DB, error) {
	switch cfg.Driver {
	case "", DriverSQLite:
		return openSQLite(ctx, cfg.DSN)
	case DriverPostgres:
		db, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("opening database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("pinging database: %w", err)
		}
		return &DB{DB: db, Driver: DriverPostgres}, nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, path string) (*DB, error) {
	var dsn string
	switch {
	case path == ":memory:":
		dsn = "file::memory:"
	case strings.HasPrefix(path, "file:"):
		dsn = path
	default:
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		dsn = path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// Single writer connection for SQLite. It also keeps an in-memory
	// database alive and shared for the life of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{DB: db, Driver: DriverSQLite}, nil
}

// Rebind rewrites ? placeholders to $1, $2, ... for postgres.
func (db *DB) Rebind(query string) string {
	if db.Driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
