// Package testutil prepares a disposable Postgres schema for tests.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/johndosdos/dmchat/internal/database"
)

func ProjectRoot() string {
	_, file, _, _ := runtime.Caller(0)
	root := filepath.Join(filepath.Dir(file), "../../")
	return root
}

// DbInit connects to TEST_DB_URL and resets the schema to the latest
// migration. The test is skipped when no test database is configured; the
// schema is torn down again when the test finishes.
func DbInit(t testing.TB) *pgxpool.Pool {
	t.Helper()

	_ = godotenv.Load(filepath.Join(ProjectRoot(), ".env"))

	testURL := os.Getenv("TEST_DB_URL")
	if testURL == "" {
		t.Skip("TEST_DB_URL environment variable is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, testURL)
	if err != nil {
		t.Fatalf("could not connect to the postgresql database: %v", err)
	}

	if err := database.Migrate(ctx, pool, "reset"); err != nil {
		pool.Close()
		t.Fatalf("goose reset error = %+v", err)
	}
	if err := database.Migrate(ctx, pool, "up"); err != nil {
		pool.Close()
		t.Fatalf("goose up error = %+v", err)
	}

	t.Cleanup(func() { DbCleanup(t, pool) })
	return pool
}

// DbCleanup rolls every migration back and closes the pool.
func DbCleanup(t testing.TB, pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := database.Migrate(ctx, pool, "reset"); err != nil {
		t.Errorf("goose reset error = %+v", err)
	}
	pool.Close()
}
