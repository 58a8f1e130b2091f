package ledger

import "github.com/starford/linkfix/internal/rewriter"

// Ledger defines the interface for run history operations.
type Ledger interface {
	RecordRun(report *rewriter.Report) (int64, error)
	Runs(limit int) ([]RunRow, error)
	Run(id int64) (*RunRow, error)
	Documents(runID int64) ([]DocumentRow, error)
	LastWritten(path string) (*DocumentRow, error)
	Close() error
}

// Verify *DB satisfies Ledger at compile time.
var _ Ledger = (*DB)(nil)
