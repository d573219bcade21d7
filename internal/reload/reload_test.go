package reload

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

func testDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatal(err)
	}
	// Force single connection so PRAGMA changes are visible to all callers.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func setUserVersion(t *testing.T, db *sql.DB, v int) {
	t.Helper()
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", v)); err != nil {
		t.Fatal(err)
	}
}

// userVersionDetector reads PRAGMA user_version, a caller-controlled
// integer, so tests can bump the version deterministically without
// needing a separate connection the way PragmaDataVersion does.
func userVersionDetector(ctx context.Context, db *sql.DB) (int64, error) {
	var v int64
	err := db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&v)
	return v, err
}

func TestPragmaDataVersion(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	v, err := PragmaDataVersion(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v < 0 {
		t.Fatalf("expected non-negative version, got %d", v)
	}
}

func TestGlobalConfigDetector(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()

	if _, err := db.Exec(`CREATE TABLE global_config (key TEXT PRIMARY KEY, value TEXT NOT NULL)`); err != nil {
		t.Fatal(err)
	}

	v0, err := GlobalConfigDetector(ctx, db)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.Exec(`INSERT INTO global_config (key, value) VALUES ('webhook_url', 'https://example.com/hook')`); err != nil {
		t.Fatal(err)
	}
	v1, err := GlobalConfigDetector(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v1 == v0 {
		t.Fatalf("expected detector to change after insert, both %d", v0)
	}

	if _, err := db.Exec(`UPDATE global_config SET value = 'https://example.com/other' WHERE key = 'webhook_url'`); err != nil {
		t.Fatal(err)
	}
	v2, err := GlobalConfigDetector(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v2 == v1 {
		t.Fatalf("expected detector to change after update, both %d", v1)
	}

	// Re-reading with no writes in between is stable.
	v2Again, err := GlobalConfigDetector(ctx, db)
	if err != nil {
		t.Fatal(err)
	}
	if v2Again != v2 {
		t.Fatalf("expected stable detector value across reads with no writes, got %d then %d", v2, v2Again)
	}
}

func TestOnChange_FiresOnVersionChange(t *testing.T) {
	db := testDB(t)

	// Use user_version as detector so we can control it.
	var reloadCount atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Detector: userVersionDetector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.OnChange(ctx, func() error {
		reloadCount.Add(1)
		return nil
	})

	// Wait for initial version to be read.
	time.Sleep(50 * time.Millisecond)

	// Bump version → should trigger reload.
	setUserVersion(t, db, 1)
	time.Sleep(80 * time.Millisecond)

	if got := reloadCount.Load(); got != 1 {
		t.Fatalf("expected 1 reload, got %d", got)
	}

	// Bump again.
	setUserVersion(t, db, 2)
	time.Sleep(80 * time.Millisecond)

	if got := reloadCount.Load(); got != 2 {
		t.Fatalf("expected 2 reloads, got %d", got)
	}

	// No bump → no extra reload.
	time.Sleep(80 * time.Millisecond)
	if got := reloadCount.Load(); got != 2 {
		t.Fatalf("expected still 2, got %d", got)
	}
}

func TestOnChange_Debounce(t *testing.T) {
	db := testDB(t)

	var reloadCount atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Debounce: 100 * time.Millisecond,
		Detector: userVersionDetector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.OnChange(ctx, func() error {
		reloadCount.Add(1)
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	// Rapid-fire 5 version bumps within 100ms window.
	for i := 1; i <= 5; i++ {
		setUserVersion(t, db, i)
		time.Sleep(15 * time.Millisecond)
	}

	// Should NOT have fired yet (debounce window still open).
	if got := reloadCount.Load(); got != 0 {
		t.Fatalf("expected 0 reloads during debounce, got %d", got)
	}

	// Wait for debounce to settle.
	time.Sleep(200 * time.Millisecond)

	if got := reloadCount.Load(); got != 1 {
		t.Fatalf("expected exactly 1 debounced reload, got %d", got)
	}
}

func TestOnChange_ErrorDoesNotAdvanceVersion(t *testing.T) {
	db := testDB(t)

	var callCount atomic.Int32
	w := New(db, Options{
		Interval: 20 * time.Millisecond,
		Detector: userVersionDetector,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go w.OnChange(ctx, func() error {
		n := callCount.Add(1)
		if n == 1 {
			return context.DeadlineExceeded // simulate failure
		}
		return nil
	})

	time.Sleep(50 * time.Millisecond)

	setUserVersion(t, db, 1)

	// First attempt: fail. Second attempt (next poll): succeed.
	time.Sleep(120 * time.Millisecond)

	if got := callCount.Load(); got < 2 {
		t.Fatalf("expected at least 2 calls (1 fail + 1 success), got %d", got)
	}

	// Version should now be advanced.
	if v := w.Version(); v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
}
