package rewriter

import (
	"errors"
	"fmt"
	"sort"
	"time"
)

// FailureKind classifies a per-document failure.
type FailureKind string

// Failure kinds.
const (
	KindDiscover FailureKind = "discover"
	KindPath     FailureKind = "path"
	KindRead     FailureKind = "read"
	KindDecode   FailureKind = "decode"
	KindEncode   FailureKind = "encode"
	KindWrite    FailureKind = "write"
)

// Failure is a per-document error. It never stops the batch.
type Failure struct {
	Path    string      `json:"path"`
	Kind    FailureKind `json:"kind"`
	Message string      `json:"error"`
	Err     error       `json:"-"`
}

func newFailure(path string, kind FailureKind, err error) *Failure {
	return &Failure{Path: path, Kind: kind, Message: err.Error(), Err: err}
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s %s: %v", f.Kind, f.Path, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// Result describes one processed document.
type Result struct {
	Path           string `json:"path"`
	Links          int    `json:"links"`
	Changed        bool   `json:"changed"`
	Written        bool   `json:"written"`
	ChecksumBefore string `json:"checksum_before"`
	ChecksumAfter  string `json:"checksum_after"`
}

// Report summarises a batch run. Counters are derived from the results
// once the batch has finished.
type Report struct {
	Root       string     `json:"root"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Scanned    int        `json:"scanned"`
	Changed    int        `json:"changed"`
	Written    int        `json:"written"`
	Links      int        `json:"links"`
	Results    []Result   `json:"results"`
	Failures   []*Failure `json:"failures"`
}

// finalize sorts results and failures by path and fills the counters.
func (r *Report) finalize() {
	sort.Slice(r.Results, func(i, j int) bool { return r.Results[i].Path < r.Results[j].Path })
	sort.Slice(r.Failures, func(i, j int) bool { return r.Failures[i].Path < r.Failures[j].Path })
	r.Scanned, r.Changed, r.Written, r.Links = 0, 0, 0, 0
	for _, res := range r.Results {
		r.Scanned++
		r.Links += res.Links
		if res.Changed {
			r.Changed++
		}
		if res.Written {
			r.Written++
		}
	}
	for _, f := range r.Failures {
		if f.Kind != KindDiscover {
			r.Scanned++
		}
	}
}

// ReportOf builds the report of a single-document run.
func ReportOf(root string, dryRun bool, startedAt time.Time, res Result, err error) *Report {
	r := &Report{
		Root:       root,
		DryRun:     dryRun,
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}
	var f *Failure
	switch {
	case err == nil:
		r.Results = []Result{res}
	case errors.As(err, &f):
		r.Failures = []*Failure{f}
	}
	r.finalize()
	return r
}

// Err returns nil when every document was processed, otherwise an error
// joining all failures.
func (r *Report) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return fmt.Errorf("rewriter: %d document(s) failed: %w", len(r.Failures), errors.Join(errs...))
}

// Duration returns how long the batch took.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
