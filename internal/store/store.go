// Package store persists verification runs, gap-closure plans, and
// execution reports to SQLite so past runs can be audited after the
// fact. The store is an audit trail, never a cache: verification
// results are recomputed on every pass regardless of what is stored.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"goalgate/internal/gap"
	"goalgate/internal/logging"
	"goalgate/internal/schedule"
	"goalgate/internal/verify"
)

// Store wraps the SQLite run history database.
type Store struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
}

// RunRecord is one row of run history.
type RunRecord struct {
	ID          string
	SpecName    string
	Kind        string // verify, run, loop
	Passed      bool
	FailedCount int
	GapCount    int
	StartedAt   time.Time
	Duration    time.Duration
}

// New opens (and if necessary creates) the database at path.
func New(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("run history opened at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		spec_name TEXT NOT NULL,
		kind TEXT NOT NULL,
		passed INTEGER NOT NULL,
		failed_count INTEGER NOT NULL DEFAULT 0,
		gap_count INTEGER NOT NULL DEFAULT 0,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

	CREATE TABLE IF NOT EXISTS verification_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		item TEXT NOT NULL,
		passed INTEGER NOT NULL,
		evidence TEXT,
		error TEXT,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_items_run ON verification_items(run_id);

	CREATE TABLE IF NOT EXISTS gap_tasks (
		id TEXT PRIMARY KEY,
		run_id TEXT NOT NULL,
		gap_type TEXT NOT NULL,
		target TEXT NOT NULL,
		title TEXT,
		fix TEXT,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);
	CREATE INDEX IF NOT EXISTS idx_gaps_run ON gap_tasks(run_id);

	CREATE TABLE IF NOT EXISTS reports (
		run_id TEXT PRIMARY KEY,
		passed INTEGER NOT NULL,
		failed_at INTEGER,
		parallel_ms INTEGER NOT NULL,
		sequential_ms INTEGER NOT NULL,
		savings_percent REAL NOT NULL,
		report_json TEXT NOT NULL,
		FOREIGN KEY(run_id) REFERENCES runs(id)
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSummary records a verification pass and its per-item results.
// It returns the generated run ID for later linkage.
func (s *Store) SaveSummary(kind string, summary *verify.Summary) (string, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SaveSummary")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	runID := uuid.NewString()
	tx, err := s.db.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO runs (id, spec_name, kind, passed, failed_count, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, summary.SpecName, kind, summary.Passed, summary.FailedCount(),
		summary.StartedAt, summary.Duration.Milliseconds(),
	)
	if err != nil {
		logging.StoreError("failed to insert run: %v", err)
		return "", err
	}

	insert := func(kind, item string, r verify.Result) error {
		_, err := tx.Exec(
			`INSERT INTO verification_items (run_id, kind, item, passed, evidence, error)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			runID, kind, item, r.Passed, strings.Join(r.Evidence, "\n"), r.Error,
		)
		return err
	}
	for _, tr := range summary.Truths {
		if err := insert("truth", tr.Truth.Statement, tr.Result); err != nil {
			return "", err
		}
	}
	for _, ar := range summary.Artifacts {
		if err := insert("artifact", ar.Artifact.Path, ar.Result); err != nil {
			return "", err
		}
	}
	for _, kr := range summary.KeyLinks {
		item := fmt.Sprintf("%s -> %s", kr.Link.From, kr.Link.To)
		if err := insert("key_link", item, kr.Result); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", err
	}
	return runID, nil
}

// SavePlan records the gap-closure tasks derived from a run.
func (s *Store) SavePlan(runID string, plan *gap.ClosurePlan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, task := range plan.Tasks {
		_, err := tx.Exec(
			`INSERT INTO gap_tasks (id, run_id, gap_type, target, title, fix)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			task.ID, runID, string(task.Gap.Type), task.Target, task.Title, task.Fix,
		)
		if err != nil {
			return err
		}
	}

	if _, err := tx.Exec(`UPDATE runs SET gap_count = ? WHERE id = ?`, len(plan.Tasks), runID); err != nil {
		return err
	}

	return tx.Commit()
}

// SaveReport attaches an execution report to a run.
func (s *Store) SaveReport(runID string, report *schedule.ValidationReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	var failedAt interface{}
	if report.FailedAt != nil {
		failedAt = *report.FailedAt
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO reports (run_id, passed, failed_at, parallel_ms, sequential_ms, savings_percent, report_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		runID, report.Passed, failedAt,
		report.ParallelDuration.Milliseconds(), report.SequentialEstimate.Milliseconds(),
		report.SavingsPercent, string(blob),
	)
	if err != nil {
		logging.StoreError("failed to save report for run %s: %v", runID, err)
	}
	return err
}

// History returns the most recent runs, newest first.
func (s *Store) History(limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(
		`SELECT id, spec_name, kind, passed, failed_count, gap_count, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		var r RunRecord
		var durationMS int64
		if err := rows.Scan(&r.ID, &r.SpecName, &r.Kind, &r.Passed, &r.FailedCount, &r.GapCount, &r.StartedAt, &durationMS); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, r)
	}
	return out, rows.Err()
}

// FailedItems returns the failed verification items of a run.
func (s *Store) FailedItems(runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(
		`SELECT kind, item, error FROM verification_items
		 WHERE run_id = ? AND passed = 0 ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var kind, item string
		var errMsg sql.NullString
		if err := rows.Scan(&kind, &item, &errMsg); err != nil {
			return nil, err
		}
		line := fmt.Sprintf("%s: %s", kind, item)
		if errMsg.Valid && errMsg.String != "" {
			line += " (" + errMsg.String + ")"
		}
		out = append(out, line)
	}
	return out, rows.Err()
}
