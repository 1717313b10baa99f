package store

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"
)

var migrationsDir = filepath.Join("..", "..", "db", "migrations")

// TestMigrationsUpDownUp applies the schema, verifies reapplying is a no-op,
// drops it with the down files and applies it again from scratch.
func TestMigrationsUpDownUp(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping postgres migration test in short mode")
	}
	dsn := strings.TrimSpace(os.Getenv("DOCFLOW_TEST_DATABASE_URL"))
	if dsn == "" {
		t.Skip("DOCFLOW_TEST_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	db, err := Open(ctx, dsn, PoolOptions{MaxOpenConns: 2, ApplicationName: "docflow-migrate-test"})
	if err != nil {
		t.Fatalf("open postgres: %v", err)
	}
	defer db.Close()

	if err := resetPublicSchema(ctx, db); err != nil {
		t.Fatalf("reset schema: %v", err)
	}

	first, err := ApplyMigrations(ctx, db, migrationsDir)
	if err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	if len(first) == 0 {
		t.Fatal("no migrations applied on an empty schema")
	}
	for _, table := range []string{"participants", "document_categories", "document_types", "documents", "uploaded_text_files"} {
		if !tableExists(t, ctx, db, table) {
			t.Fatalf("table %s missing after migrate up", table)
		}
	}

	if again, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("migrate up again: %v", err)
	} else if len(again) != 0 {
		t.Fatalf("reapplied migrations %v", again)
	}

	downs, err := downFiles(migrationsDir)
	if err != nil {
		t.Fatalf("list down migrations: %v", err)
	}
	for _, file := range downs {
		contents, err := os.ReadFile(file)
		if err != nil {
			t.Fatalf("read %s: %v", file, err)
		}
		if _, err := db.ExecContext(ctx, string(contents)); err != nil {
			t.Fatalf("migrate down %s: %v", filepath.Base(file), err)
		}
	}
	if tableExists(t, ctx, db, "documents") {
		t.Fatal("documents survived migrate down")
	}

	if _, err := db.ExecContext(ctx, `TRUNCATE schema_migrations`); err != nil {
		t.Fatalf("forget applied versions: %v", err)
	}
	if _, err := ApplyMigrations(ctx, db, migrationsDir); err != nil {
		t.Fatalf("migrate up after down: %v", err)
	}
}

func tableExists(t *testing.T, ctx context.Context, db *sql.DB, name string) bool {
	t.Helper()
	var found sql.NullString
	if err := db.QueryRowContext(ctx, `SELECT to_regclass($1)::text`, "public."+name).Scan(&found); err != nil {
		t.Fatalf("lookup %s: %v", name, err)
	}
	return found.Valid
}

// downFiles lists *.down.sql files newest first.
func downFiles(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "*.down.sql"))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(files)))
	return files, nil
}

func resetPublicSchema(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `DROP SCHEMA IF EXISTS public CASCADE; CREATE SCHEMA public;`)
	return err
}
