package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
)

// setupTestDB returns a migrated in-memory sqlite database. A single
// connection keeps every query on the same in-memory schema.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("Failed to open test database: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	if err := Migrate(context.Background(), db, "sqlite3"); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	return db
}

func insertPrincipal(t *testing.T, db *sql.DB, username string) int64 {
	t.Helper()

	res, err := db.Exec(`INSERT INTO users (username) VALUES ($1)`, username)
	if err != nil {
		t.Fatalf("Failed to insert principal: %v", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		t.Fatalf("Failed to read principal id: %v", err)
	}
	return id
}

// recordingInvalidator counts invalidations per principal
type recordingInvalidator struct {
	mu    sync.Mutex
	calls map[int64]int
	err   error
}

func newRecordingInvalidator() *recordingInvalidator {
	return &recordingInvalidator{calls: make(map[int64]int)}
}

func (r *recordingInvalidator) Invalidate(ctx context.Context, principalID int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls[principalID]++
	return r.err
}

func (r *recordingInvalidator) count(principalID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[principalID]
}
