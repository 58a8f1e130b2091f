// Package rewriter reads documents, rewrites their wikilinks and writes
// back the ones that changed.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/checksum"
	"github.com/starford/linkfix/internal/storage"
	"github.com/starford/linkfix/internal/textenc"
	"github.com/starford/linkfix/internal/wikilink"
)

// EventFunc is called once per processed document. err is a *Failure when
// the document could not be rewritten. With more than one worker it is
// called concurrently.
type EventFunc func(res Result, err error)

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithCodec sets the text encoding used to read and write documents.
func WithCodec(c textenc.Codec) Option {
	return func(rw *Rewriter) {
		if c != nil {
			rw.codec = c
		}
	}
}

// WithLinks sets the link rewriter, e.g. one with a custom suffix.
func WithLinks(l wikilink.Rewriter) Option {
	return func(rw *Rewriter) {
		rw.links = l
	}
}

// WithWorkers bounds how many documents are processed at once.
func WithWorkers(n int) Option {
	return func(rw *Rewriter) {
		if n > 0 {
			rw.workers = n
		}
	}
}

// WithDryRun reports changes without writing them.
func WithDryRun(dryRun bool) Option {
	return func(rw *Rewriter) {
		rw.dryRun = dryRun
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(rw *Rewriter) {
		if l != nil {
			rw.logger = l
		}
	}
}

// WithEventFunc registers a per-document callback.
func WithEventFunc(fn EventFunc) Option {
	return func(rw *Rewriter) {
		rw.onEvent = fn
	}
}

// Rewriter applies the wikilink transform to a document tree.
type Rewriter struct {
	store   storage.Provider
	codec   textenc.Codec
	links   wikilink.Rewriter
	workers int
	dryRun  bool
	logger  *slog.Logger
	onEvent EventFunc
}

// New creates a Rewriter over store. Defaults: UTF-8, ".md" suffix, one
// worker, writes enabled.
func New(store storage.Provider, opts ...Option) *Rewriter {
	codec, _ := textenc.Lookup(textenc.Default)
	rw := &Rewriter{
		store:   store,
		codec:   codec,
		links:   wikilink.New(wikilink.DefaultSuffix),
		workers: 1,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(rw)
	}
	return rw
}

// Clone returns a copy of rw with opts applied on top of its settings.
func (rw *Rewriter) Clone(opts ...Option) *Rewriter {
	c := *rw
	for _, opt := range opts {
		opt(&c)
	}
	return &c
}

// DryRun reports whether writes are disabled.
func (rw *Rewriter) DryRun() bool {
	return rw.dryRun
}

// Transform rewrites content in memory with the configured suffix.
func (rw *Rewriter) Transform(content string) string {
	return rw.links.Transform(content)
}

// LinkSuffix returns the suffix appended to rewritten link targets.
func (rw *Rewriter) LinkSuffix() string {
	return rw.links.Suffix()
}

// Store returns the underlying document store.
func (rw *Rewriter) Store() storage.Provider {
	return rw.store
}

// Persist reads one document, rewrites it and writes it back only if the
// content changed. Paths without the document extension are refused
// before anything is opened. A returned error other than a context error
// is a *Failure.
func (rw *Rewriter) Persist(ctx context.Context, path string) (Result, error) {
	res := Result{Path: path}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	if ext := rw.store.Extension(); !strings.HasSuffix(path, ext) {
		return res, rw.fail(res, KindPath, fmt.Errorf("rewriter: %s: want extension %s: %w", path, ext, apperr.ErrNotDocument))
	}

	raw, err := rw.store.Read(path)
	if err != nil {
		return res, rw.fail(res, KindRead, err)
	}
	res.ChecksumBefore = checksum.Sum(raw)
	res.ChecksumAfter = res.ChecksumBefore

	text, err := rw.codec.Decode(raw)
	if err != nil {
		return res, rw.fail(res, KindDecode, err)
	}

	out := rw.links.Transform(text)
	if out == text {
		rw.logger.Debug("document unchanged", slog.String("path", path))
		rw.emit(res, nil)
		return res, nil
	}
	res.Changed = true
	res.Links = wikilink.Count(text)

	data, err := rw.codec.Encode(out)
	if err != nil {
		return res, rw.fail(res, KindEncode, err)
	}
	res.ChecksumAfter = checksum.Sum(data)

	if !rw.dryRun {
		if err := rw.store.Write(path, data); err != nil {
			res.ChecksumAfter = res.ChecksumBefore
			return res, rw.fail(res, KindWrite, err)
		}
		res.Written = true
	}

	rw.logger.Info("document rewritten",
		slog.String("path", path),
		slog.Int("links", res.Links),
		slog.Bool("written", res.Written),
		slog.String("checksum", checksum.Short(res.ChecksumAfter)))
	rw.emit(res, nil)
	return res, nil
}

func (rw *Rewriter) fail(res Result, kind FailureKind, err error) error {
	f := newFailure(res.Path, kind, err)
	rw.logger.Warn("document skipped",
		slog.String("path", res.Path),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))
	rw.emit(res, f)
	return f
}

func (rw *Rewriter) emit(res Result, err error) {
	if rw.onEvent != nil {
		rw.onEvent(res, err)
	}
}

// Run discovers every document under the store root and persists each
// one. Per-document failures are collected in the report; only context
// cancellation ends the batch early, in which case the partial report is
// returned with the context error.
func (rw *Rewriter) Run(ctx context.Context) (*Report, error) {
	report := &Report{
		Root:      rw.store.Root(),
		DryRun:    rw.dryRun,
		StartedAt: time.Now(),
	}

	var mu sync.Mutex
	record := func(res Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		var f *Failure
		switch {
		case err == nil:
			report.Results = append(report.Results, res)
		case errors.As(err, &f):
			report.Failures = append(report.Failures, f)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(rw.workers)

	for path, err := range rw.store.Discover(ctx) {
		if ctx.Err() != nil {
			break
		}
		if err != nil {
			f := newFailure(discoveryPath(err), KindDiscover, err)
			rw.logger.Warn("discovery error",
				slog.String("path", f.Path),
				slog.String("error", err.Error()))
			record(Result{}, f)
			continue
		}
		g.Go(func() error {
			res, err := rw.Persist(gCtx, path)
			record(res, err)
			return nil
		})
	}
	_ = g.Wait()

	report.FinishedAt = time.Now()
	report.finalize()

	rw.logger.Info("rewrite finished",
		slog.String("root", report.Root),
		slog.Bool("dry_run", report.DryRun),
		slog.Int("scanned", report.Scanned),
		slog.Int("changed", report.Changed),
		slog.Int("written", report.Written),
		slog.Int("links", report.Links),
		slog.Int("failures", len(report.Failures)),
		slog.Duration("duration", report.Duration()))

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func discoveryPath(err error) string {
	var de *storage.DiscoveryError
	if errors.As(err, &de) {
		return de.Path
	}
	return ""
}

// IsDecodeFailure reports whether err is a document skipped because its
// bytes were not valid under the configured encoding.
func IsDecodeFailure(err error) bool {
	return errors.Is(err, apperr.ErrDecode)
}
