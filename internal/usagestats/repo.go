// Package usagestats persists periodic snapshots of the proxy's aggregate
// request counters so totals survive proxy restarts and trends can be read
// back over time.
package usagestats

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Snapshot is one reading of the proxy's cumulative counters.
type Snapshot struct {
	TakenAt       time.Time
	TotalRequests int64
	SuccessCount  int64
	FailureCount  int64
	TotalTokens   int64
}

// SuccessRate is the fraction of answered requests that succeeded. The
// second return is false when no requests were counted yet.
func (s Snapshot) SuccessRate() (float64, bool) {
	answered := s.SuccessCount + s.FailureCount
	if answered == 0 {
		return 0, false
	}
	return float64(s.SuccessCount) / float64(answered), true
}

// Repo is the SQLite-backed snapshot store.
type Repo struct {
	db *sql.DB
}

// Open opens (or creates) the snapshot database at path and applies
// migrations. Single writer, WAL journal.
func Open(path string) (*Repo, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("usagestats: open db %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("usagestats: exec %q: %w", p, err)
		}
	}

	if err := migrateDB(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func migrateDB(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("usagestats: init migration source: %w", err)
	}
	dbDriver, err := migratesqlite.WithInstance(db, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("usagestats: init migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", dbDriver)
	if err != nil {
		return fmt.Errorf("usagestats: init migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("usagestats: migrate up: %w", err)
	}
	return nil
}

// Close closes the database.
func (r *Repo) Close() error {
	return r.db.Close()
}

// Record appends a snapshot.
func (r *Repo) Record(snap Snapshot) error {
	_, err := r.db.Exec(
		`INSERT INTO usage_snapshots
			(taken_at_ns, total_requests, success_count, failure_count, total_tokens)
		 VALUES (?, ?, ?, ?, ?)`,
		snap.TakenAt.UnixNano(), snap.TotalRequests, snap.SuccessCount,
		snap.FailureCount, snap.TotalTokens,
	)
	if err != nil {
		return fmt.Errorf("usagestats: record snapshot: %w", err)
	}
	return nil
}

// Latest returns the most recent snapshot, or false when none exist.
func (r *Repo) Latest() (Snapshot, bool, error) {
	row := r.db.QueryRow(
		`SELECT taken_at_ns, total_requests, success_count, failure_count, total_tokens
		 FROM usage_snapshots ORDER BY taken_at_ns DESC, id DESC LIMIT 1`)
	snap, err := scanSnapshot(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("usagestats: latest snapshot: %w", err)
	}
	return snap, true, nil
}

// Since returns the snapshots taken at or after t, oldest first.
func (r *Repo) Since(t time.Time) ([]Snapshot, error) {
	rows, err := r.db.Query(
		`SELECT taken_at_ns, total_requests, success_count, failure_count, total_tokens
		 FROM usage_snapshots WHERE taken_at_ns >= ? ORDER BY taken_at_ns ASC, id ASC`,
		t.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("usagestats: query snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("usagestats: scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("usagestats: iterate snapshots: %w", err)
	}
	return out, nil
}

// Prune deletes snapshots older than t.
func (r *Repo) Prune(t time.Time) error {
	if _, err := r.db.Exec(
		`DELETE FROM usage_snapshots WHERE taken_at_ns < ?`, t.UnixNano()); err != nil {
		return fmt.Errorf("usagestats: prune snapshots: %w", err)
	}
	return nil
}

func scanSnapshot(scan func(dest ...any) error) (Snapshot, error) {
	var snap Snapshot
	var takenAtNS int64
	if err := scan(&takenAtNS, &snap.TotalRequests, &snap.SuccessCount,
		&snap.FailureCount, &snap.TotalTokens); err != nil {
		return Snapshot{}, err
	}
	snap.TakenAt = time.Unix(0, takenAtNS)
	return snap, nil
}
