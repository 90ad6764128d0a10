package database_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/danielnaab/site-scanning-engine/internal/database"
)

func TestOpenAndMigrate_SQLiteFile(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "scan.db")

	db, err := database.Open(ctx, database.Config{Driver: database.DriverSQLite, DSN: path})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	// Running again is a no-op.
	if err := database.Migrate(ctx, db); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}

	for _, table := range []string{"websites", "scan_results"} {
		var n int
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			t.Errorf("table %s: %v", table, err)
		}
	}
}

func TestOpen_UnsupportedDriver(t *testing.T) {
	t.Parallel()
	if _, err := database.Open(context.Background(), database.Config{Driver: "oracle"}); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	t.Parallel()
	pg := &database.DB{Driver: database.DriverPostgres}
	if got := pg.Rebind("SELECT * FROM t WHERE a = ? AND b = ?"); got != "SELECT * FROM t WHERE a = $1 AND b = $2" {
		t.Errorf("unexpected rebind %q", got)
	}
	lite := &database.DB{Driver: database.DriverSQLite}
	if got := lite.Rebind("a = ?"); got != "a = ?" {
		t.Errorf("sqlite query must be unchanged, got %q", got)
	}
}
