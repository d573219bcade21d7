package store

import (
	"context"
	"database/sql"
	"fmt"
)

// TargetRecord is the Config Store's on-disk shape of a Target (spec §3).
// It is a plain data record — internal/core.Target is the domain type the
// rest of the engine works with; Store only knows how to round-trip this
// shape.
type TargetRecord struct {
	ID              string
	PageRef         string
	InitialURL      string
	Selector        string
	ContentMode     string
	IntervalMs      int64
	ChangeDetection bool
	WebhookOverride string
	ProfileName     string
	Enabled         bool
	LastHash        string
	LastCheckAt     int64
}

// Store is the Config Store façade: target configs, global defaults,
// opaque UI profiles, and the Activity Log persistence snapshot. All
// writes serialize per call (the underlying *sql.DB already serializes
// writers; Store adds no extra locking, matching the teacher's dbopen
// pattern of trusting SQLite's own write serialization under WAL).
type Store struct {
	db *sql.DB
}

// New wraps an already-opened, schema-applied database handle.
func New(db *sql.DB) *Store { return &Store{db: db} }

// SaveTarget upserts a target record.
func (s *Store) SaveTarget(ctx context.Context, t TargetRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO targets (id, page_ref, initial_url, selector, content_mode,
			interval_ms, change_detection, webhook_override, profile_name,
			enabled, last_hash, last_check_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			page_ref=excluded.page_ref, initial_url=excluded.initial_url,
			selector=excluded.selector, content_mode=excluded.content_mode,
			interval_ms=excluded.interval_ms, change_detection=excluded.change_detection,
			webhook_override=excluded.webhook_override, profile_name=excluded.profile_name,
			enabled=excluded.enabled, last_hash=excluded.last_hash,
			last_check_at=excluded.last_check_at`,
		t.ID, t.PageRef, t.InitialURL, t.Selector, t.ContentMode,
		t.IntervalMs, boolToInt(t.ChangeDetection), t.WebhookOverride, t.ProfileName,
		boolToInt(t.Enabled), t.LastHash, t.LastCheckAt)
	if err != nil {
		return fmt.Errorf("store: save target: %w", err)
	}
	return nil
}

// DeleteTarget removes a target record entirely.
func (s *Store) DeleteTarget(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM targets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("store: delete target: %w", err)
	}
	return nil
}

// LoadTarget returns a single target by id. ok is false if not found.
func (s *Store) LoadTarget(ctx context.Context, id string) (rec TargetRecord, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, page_ref, initial_url, selector, content_mode, interval_ms,
			change_detection, webhook_override, profile_name, enabled, last_hash, last_check_at
		FROM targets WHERE id = ?`, id)
	rec, err = scanTarget(row)
	if err == sql.ErrNoRows {
		return TargetRecord{}, false, nil
	}
	if err != nil {
		return TargetRecord{}, false, fmt.Errorf("store: load target: %w", err)
	}
	return rec, true, nil
}

// LoadEnabledTargets returns every target with enabled=true, used by
// restore_from_store on process start.
func (s *Store) LoadEnabledTargets(ctx context.Context) ([]TargetRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, page_ref, initial_url, selector, content_mode, interval_ms,
			change_detection, webhook_override, profile_name, enabled, last_hash, last_check_at
		FROM targets WHERE enabled = 1`)
	if err != nil {
		return nil, fmt.Errorf("store: load enabled targets: %w", err)
	}
	defer rows.Close()

	var out []TargetRecord
	for rows.Next() {
		rec, err := scanTarget(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan target: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...any) error
}

func scanTarget(row scannable) (TargetRecord, error) {
	var rec TargetRecord
	var changeDetection, enabled int
	err := row.Scan(&rec.ID, &rec.PageRef, &rec.InitialURL, &rec.Selector, &rec.ContentMode,
		&rec.IntervalMs, &changeDetection, &rec.WebhookOverride, &rec.ProfileName,
		&enabled, &rec.LastHash, &rec.LastCheckAt)
	if err != nil {
		return TargetRecord{}, err
	}
	rec.ChangeDetection = changeDetection != 0
	rec.Enabled = enabled != 0
	return rec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Global config keys.
const (
	GlobalWebhookURL       = "webhook_url"
	GlobalRefreshIntervalMs = "refresh_interval_ms"
	GlobalChangeDetection  = "change_detection"
)

// SetGlobal upserts a single global config key/value pair.
func (s *Store) SetGlobal(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO global_config (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("store: set global %s: %w", key, err)
	}
	return nil
}

// Global returns the value for key, or "" with ok=false if unset.
func (s *Store) Global(ctx context.Context, key string) (value string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM global_config WHERE key = ?`, key)
	err = row.Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get global %s: %w", key, err)
	}
	return value, true, nil
}

// SaveProfile stores an opaque UI preset under name. The core never
// interprets data — it is pass-through storage (spec §6).
func (s *Store) SaveProfile(ctx context.Context, name, data string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (name, data) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data`, name, data)
	if err != nil {
		return fmt.Errorf("store: save profile: %w", err)
	}
	return nil
}

// LoadProfile returns the opaque data for a named profile.
func (s *Store) LoadProfile(ctx context.Context, name string) (data string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `SELECT data FROM profiles WHERE name = ?`, name)
	err = row.Scan(&data)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: load profile: %w", err)
	}
	return data, true, nil
}

// ReplaceActivityLogSnapshot atomically replaces the persisted snapshot
// with entries (JSON-encoded LogEntry records, oldest first).
func (s *Store) ReplaceActivityLogSnapshot(ctx context.Context, entries []string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM activity_log_snapshot`); err != nil {
		return fmt.Errorf("store: clear snapshot: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO activity_log_snapshot (entry) VALUES (?)`)
	if err != nil {
		return fmt.Errorf("store: prepare snapshot insert: %w", err)
	}
	defer stmt.Close()
	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, e); err != nil {
			return fmt.Errorf("store: insert snapshot entry: %w", err)
		}
	}
	return tx.Commit()
}

// LoadActivityLogSnapshot returns the persisted entries, oldest first.
func (s *Store) LoadActivityLogSnapshot(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT entry FROM activity_log_snapshot ORDER BY seq ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: load snapshot: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var e string
		if err := rows.Scan(&e); err != nil {
			return nil, fmt.Errorf("store: scan snapshot entry: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// ClearActivityLogSnapshot removes the persisted snapshot entirely.
func (s *Store) ClearActivityLogSnapshot(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM activity_log_snapshot`)
	if err != nil {
		return fmt.Errorf("store: clear snapshot: %w", err)
	}
	return nil
}
