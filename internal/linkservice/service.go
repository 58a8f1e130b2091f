// Package linkservice coordinates rewrites, run history and notifications
// for the long-running surfaces (HTTP, MCP, watcher).
package linkservice

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/ledger"
	"github.com/starford/linkfix/internal/rewriter"
)

// RunHook is called after a run has been recorded. runID is zero when no
// ledger is configured.
type RunHook func(report *rewriter.Report, runID int64)

// Option configures a Service.
type Option func(*Service)

// WithLedger records every run in l.
func WithLedger(l ledger.Ledger) Option {
	return func(s *Service) {
		s.ledger = l
	}
}

// WithRunHook registers a callback for finished runs.
func WithRunHook(fn RunHook) Option {
	return func(s *Service) {
		s.onRun = fn
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// Service serialises writing runs over one document tree. A tree run and a
// single-document rewrite never write concurrently.
type Service struct {
	rw     *rewriter.Rewriter
	ledger ledger.Ledger
	onRun  RunHook
	logger *slog.Logger

	mu sync.Mutex
}

// NewService creates a service around a configured rewriter.
func NewService(rw *rewriter.Rewriter, opts ...Option) *Service {
	s := &Service{rw: rw, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Root returns the absolute tree root.
func (s *Service) Root() string {
	return s.rw.Store().Root()
}

// DefaultDryRun reports the configured dry-run mode.
func (s *Service) DefaultDryRun() bool {
	return s.rw.DryRun()
}

// Extension returns the suffix that selects documents.
func (s *Service) Extension() string {
	return s.rw.Store().Extension()
}

// LinkSuffix returns the suffix appended to rewritten link targets.
func (s *Service) LinkSuffix() string {
	return s.rw.LinkSuffix()
}

// Transform rewrites content in memory.
func (s *Service) Transform(content string) string {
	return s.rw.Transform(content)
}

// ListDocuments returns the sorted relative paths of every document and
// the discovery errors met on the way.
func (s *Service) ListDocuments(ctx context.Context) ([]string, []error) {
	var paths []string
	var errs []error
	for p, err := range s.rw.Store().Discover(ctx) {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, errs
}

// RewriteTree runs the whole tree and records the report.
func (s *Service) RewriteTree(ctx context.Context, dryRun bool) (*rewriter.Report, int64, error) {
	rw := s.rw.Clone(rewriter.WithDryRun(dryRun))
	if !dryRun {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	report, err := rw.Run(ctx)
	if err != nil {
		return report, 0, err
	}
	return report, s.record(report), nil
}

// RewriteDocument rewrites a single document. Changed or failed documents
// are recorded as a one-document run.
func (s *Service) RewriteDocument(ctx context.Context, path string, dryRun bool) (rewriter.Result, error) {
	rw := s.rw.Clone(rewriter.WithDryRun(dryRun))
	if !dryRun {
		s.mu.Lock()
		defer s.mu.Unlock()
	}
	start := time.Now()
	res, err := rw.Persist(ctx, path)
	if ctx.Err() != nil {
		return res, err
	}
	if res.Changed || (err != nil && !refused(err)) {
		s.record(rewriter.ReportOf(s.Root(), dryRun, start, res, err))
	}
	return res, err
}

// refused reports a path that is not a document of the tree. Such
// requests never touch a file and are not recorded.
func refused(err error) bool {
	return errors.Is(err, apperr.ErrNotDocument) || errors.Is(err, apperr.ErrOutsideRoot)
}

// record stores the report and fires the run hook. Ledger failures are
// logged, never returned: history is not part of the rewrite outcome.
func (s *Service) record(report *rewriter.Report) int64 {
	var id int64
	if s.ledger != nil {
		var err error
		id, err = s.ledger.RecordRun(report)
		if err != nil {
			s.logger.Warn("ledger: record run failed", slog.String("error", err.Error()))
		}
	}
	if s.onRun != nil {
		s.onRun(report, id)
	}
	return id
}

// Runs returns recent recorded runs. It returns nil without a ledger.
func (s *Service) Runs(limit int) ([]ledger.RunRow, error) {
	if s.ledger == nil {
		return nil, nil
	}
	return s.ledger.Runs(limit)
}

// Run returns one recorded run.
func (s *Service) Run(id int64) (*ledger.RunRow, error) {
	if s.ledger == nil {
		return nil, apperr.ErrLedgerDisabled
	}
	return s.ledger.Run(id)
}

// Documents returns the recorded documents of a run.
func (s *Service) Documents(runID int64) ([]ledger.DocumentRow, error) {
	if s.ledger == nil {
		return nil, apperr.ErrLedgerDisabled
	}
	return s.ledger.Documents(runID)
}

// LastWritten returns the most recent recorded write of path.
func (s *Service) LastWritten(path string) (*ledger.DocumentRow, error) {
	if s.ledger == nil {
		return nil, apperr.ErrLedgerDisabled
	}
	return s.ledger.LastWritten(path)
}
