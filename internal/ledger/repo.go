package ledger

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/rewriter"
)

// RunRow represents a row in the runs table.
type RunRow struct {
	ID         int64     `json:"id"`
	Root       string    `json:"root"`
	DryRun     bool      `json:"dry_run"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Scanned    int       `json:"scanned"`
	Changed    int       `json:"changed"`
	Written    int       `json:"written"`
	Links      int       `json:"links"`
	Failures   int       `json:"failures"`
}

// DocumentRow represents one document outcome within a run.
type DocumentRow struct {
	RunID          int64  `json:"run_id"`
	Path           string `json:"path"`
	Links          int    `json:"links"`
	Changed        bool   `json:"changed"`
	Written        bool   `json:"written"`
	ChecksumBefore string `json:"checksum_before"`
	ChecksumAfter  string `json:"checksum_after"`
	FailureKind    string `json:"failure_kind,omitempty"`
	Error          string `json:"error,omitempty"`
}

// RecordRun stores a report and its per-document rows within a transaction
// and returns the new run id. Unchanged documents are not stored
// individually; they only count towards the run totals.
func (db *DB) RecordRun(report *rewriter.Report) (int64, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("ledger: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	res, err := tx.Exec(`
		INSERT INTO runs (root, dry_run, started_at, finished_at, scanned, changed, written, links, failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, report.Root, report.DryRun, report.StartedAt.UTC(), report.FinishedAt.UTC(),
		report.Scanned, report.Changed, report.Written, report.Links, len(report.Failures))
	if err != nil {
		return 0, fmt.Errorf("ledger: insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ledger: run id: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT INTO documents (run_id, path, links, changed, written, checksum_before, checksum_after, failure_kind, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("ledger: prepare document insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range report.Results {
		if !r.Changed {
			continue
		}
		if _, err := stmt.Exec(runID, r.Path, r.Links, r.Changed, r.Written, r.ChecksumBefore, r.ChecksumAfter, "", ""); err != nil {
			return 0, fmt.Errorf("ledger: insert document: %w", err)
		}
	}
	for _, f := range report.Failures {
		if _, err := stmt.Exec(runID, f.Path, 0, false, false, "", "", string(f.Kind), f.Message); err != nil {
			return 0, fmt.Errorf("ledger: insert failure: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("ledger: commit: %w", err)
	}
	return runID, nil
}

const runColumns = `id, root, dry_run, started_at, finished_at, scanned, changed, written, links, failures`

func scanRun(s interface{ Scan(...any) error }) (RunRow, error) {
	var r RunRow
	err := s.Scan(&r.ID, &r.Root, &r.DryRun, &r.StartedAt, &r.FinishedAt,
		&r.Scanned, &r.Changed, &r.Written, &r.Links, &r.Failures)
	return r, err
}

// Runs returns the most recent runs, newest first.
func (db *DB) Runs(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`SELECT `+runColumns+` FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Run returns a single run by id.
func (db *DB) Run(id int64) (*RunRow, error) {
	r, err := scanRun(db.conn.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: run %d: %w", id, err)
	}
	return &r, nil
}

const documentColumns = `run_id, path, links, changed, written, checksum_before, checksum_after, failure_kind, error`

func scanDocument(s interface{ Scan(...any) error }) (DocumentRow, error) {
	var d DocumentRow
	err := s.Scan(&d.RunID, &d.Path, &d.Links, &d.Changed, &d.Written,
		&d.ChecksumBefore, &d.ChecksumAfter, &d.FailureKind, &d.Error)
	return d, err
}

// Documents returns the changed and failed documents of a run, by path.
func (db *DB) Documents(runID int64) ([]DocumentRow, error) {
	rows, err := db.conn.Query(`SELECT `+documentColumns+` FROM documents WHERE run_id = ? ORDER BY path`, runID)
	if err != nil {
		return nil, fmt.Errorf("ledger: documents: %w", err)
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan document: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// LastWritten returns the most recent successful write of path.
func (db *DB) LastWritten(path string) (*DocumentRow, error) {
	d, err := scanDocument(db.conn.QueryRow(`
		SELECT `+documentColumns+` FROM documents
		WHERE path = ? AND written = 1
		ORDER BY run_id DESC LIMIT 1
	`, path))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: last written %s: %w", path, err)
	}
	return &d, nil
}
