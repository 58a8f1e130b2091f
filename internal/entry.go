// Package internal provides the application initialization and runtime logic
// behind each linkfix command.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/starford/linkfix/internal/api"
	"github.com/starford/linkfix/internal/ledger"
	"github.com/starford/linkfix/internal/linkservice"
	"github.com/starford/linkfix/internal/mcpserver"
	"github.com/starford/linkfix/internal/rewriter"
	"github.com/starford/linkfix/internal/sse"
	"github.com/starford/linkfix/internal/storage"
	"github.com/starford/linkfix/internal/textenc"
	"github.com/starford/linkfix/internal/watch"
	"github.com/starford/linkfix/internal/wikilink"
)

// env holds the components shared by every command.
type env struct {
	cfg    *Config
	logger *slog.Logger
	out    io.Writer
	store  *storage.FS
	db     *ledger.DB
	opts   []rewriter.Option
}

func (rt *env) close() {
	if rt.db != nil {
		if err := rt.db.Close(); err != nil {
			rt.logger.Warn("ledger close failed", slog.String("error", err.Error()))
		}
	}
}

// service builds the link service with the ledger (when enabled) and any
// extra rewriter options.
func (rt *env) service(extra []rewriter.Option, opts ...linkservice.Option) *linkservice.Service {
	rw := rewriter.New(rt.store, append(append([]rewriter.Option{}, rt.opts...), extra...)...)
	opts = append([]linkservice.Option{linkservice.WithLogger(rt.logger)}, opts...)
	if rt.db != nil {
		opts = append(opts, linkservice.WithLedger(rt.db))
	}
	return linkservice.NewService(rw, opts...)
}

// setup validates the configuration and opens the tree and the ledger.
// A missing tree root is the only fatal input error.
func setup(opts []Option) (*application, *env, error) {
	app := &application{out: os.Stdout, version: "dev"}
	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, nil, fmt.Errorf("config is required")
	}
	cfg := app.config
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("config validation failed: %w", err)
	}

	logger := app.logger
	if logger == nil {
		// stdout carries summaries and the MCP stdio stream.
		logger = newLogger(cfg.App, os.Stderr)
		slog.SetDefault(logger)
	}

	logger.Info("Configuration loaded",
		slog.String("root", cfg.Rewriter.Root),
		slog.String("extension", cfg.Rewriter.Extension),
		slog.String("encoding", cfg.Rewriter.Encoding),
		slog.Int("workers", cfg.Rewriter.Workers),
		slog.Bool("dry_run", cfg.Rewriter.DryRun),
		slog.Bool("ledger", cfg.Ledger.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	store, err := storage.NewFS(cfg.Rewriter.Root, cfg.Rewriter.Extension)
	if err != nil {
		return nil, nil, fmt.Errorf("init storage: %w", err)
	}

	codec, err := textenc.Lookup(cfg.Rewriter.Encoding)
	if err != nil {
		return nil, nil, fmt.Errorf("init encoding: %w", err)
	}

	rt := &env{
		cfg:    cfg,
		logger: logger,
		out:    app.out,
		store:  store,
		opts: []rewriter.Option{
			rewriter.WithLogger(logger),
			rewriter.WithCodec(codec),
			rewriter.WithLinks(wikilink.New(cfg.Rewriter.LinkSuffix)),
			rewriter.WithWorkers(cfg.Rewriter.Workers),
			rewriter.WithDryRun(cfg.Rewriter.DryRun),
		},
	}

	if cfg.Ledger.Enabled {
		db, err := ledger.Open(cfg.Ledger.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("init ledger: %w", err)
		}
		rt.db = db
	}

	return app, rt, nil
}

// Rewrite runs one batch over the tree and prints a summary. It returns an
// error when any document failed so the process exits non-zero.
func Rewrite(ctx context.Context, opts ...Option) error {
	_, rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	svc := rt.service(nil)
	report, runID, err := svc.RewriteTree(ctx, rt.cfg.Rewriter.DryRun)
	if report != nil {
		printReport(rt.out, report, runID)
	}
	if err != nil {
		return fmt.Errorf("rewrite interrupted: %w", err)
	}
	return report.Err()
}

// Watch rewrites the whole tree once, then rewrites documents as they
// change until ctx is cancelled or a shutdown signal arrives.
func Watch(ctx context.Context, opts ...Option) error {
	_, rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc := rt.service(nil)
	dryRun := rt.cfg.Rewriter.DryRun
	report, runID, err := svc.RewriteTree(ctx, dryRun)
	if err != nil {
		return fmt.Errorf("initial rewrite: %w", err)
	}
	printReport(rt.out, report, runID)

	return watch.Watch(ctx, svc, rt.store, dryRun, rt.logger)
}

// Serve starts the HTTP API, the SSE event stream and the file watcher.
func Serve(ctx context.Context, opts ...Option) error {
	_, rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	cfg := rt.cfg
	logger := rt.logger

	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	onDocument := func(res rewriter.Result, err error) {
		var f *rewriter.Failure
		switch {
		case errors.As(err, &f):
			broker.PublishDocumentEvent(sse.KindFailed, f.Path, f.Message)
		case err == nil && res.Written:
			broker.PublishDocumentEvent(sse.KindRewritten, res.Path, "")
		}
	}
	onRun := func(report *rewriter.Report, runID int64) {
		broker.Publish(sse.Event{Type: "run.finished", Data: map[string]any{
			"run_id":   runID,
			"scanned":  report.Scanned,
			"written":  report.Written,
			"failures": len(report.Failures),
		}})
	}
	svc := rt.service(
		[]rewriter.Option{rewriter.WithEventFunc(onDocument)},
		linkservice.WithRunHook(onRun),
	)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if _, statErr := os.Stat(rt.store.Root()); statErr != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"root unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Mount("/api", api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watch.Watch(gCtx, svc, rt.store, cfg.Rewriter.DryRun, logger)
	})

	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}
		return context.Canceled
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// MCP serves the linkfix tools over stdio.
func MCP(_ context.Context, opts ...Option) error {
	app, rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	srv := mcpserver.New(rt.service(nil), app.version)
	rt.logger.Info("MCP server starting on stdio")
	if err := srv.ServeStdio(); err != nil {
		return fmt.Errorf("mcp: %w", err)
	}
	return nil
}

// History prints the most recent recorded runs.
func History(_ context.Context, limit int, opts ...Option) error {
	_, rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.db == nil {
		return fmt.Errorf("history: ledger is disabled (set ledger.enabled)")
	}
	runs, err := rt.db.Runs(limit)
	if err != nil {
		return err
	}
	printRuns(rt.out, runs)
	return nil
}

// summary groups digits in the counts of large trees.
var summary = message.NewPrinter(language.English)

func printReport(w io.Writer, report *rewriter.Report, runID int64) {
	verb := "rewrote"
	if report.DryRun {
		verb = "would rewrite"
	}
	summary.Fprintf(w, "%s: scanned %d documents, %s %d (%d links), %d failed in %s\n",
		report.Root, report.Scanned, verb, report.Changed, report.Links,
		len(report.Failures), report.Duration().Round(time.Millisecond))
	for _, res := range report.Results {
		if res.Changed {
			fmt.Fprintf(w, "  %s %s (%d links)\n", verb, res.Path, res.Links)
		}
	}
	for _, f := range report.Failures {
		fmt.Fprintf(w, "  failed  %s [%s]: %s\n", f.Path, f.Kind, f.Message)
	}
	if runID > 0 {
		fmt.Fprintf(w, "recorded as run %d\n", runID)
	}
}

func printRuns(w io.Writer, runs []ledger.RunRow) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no runs recorded")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTARTED\tROOT\tDRY RUN\tSCANNED\tCHANGED\tWRITTEN\tLINKS\tFAILED")
	for _, r := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%d\t%d\t%d\t%d\t%d\n",
			r.ID, r.StartedAt.Local().Format(time.DateTime), r.Root, r.DryRun,
			r.Scanned, r.Changed, r.Written, r.Links, r.Failures)
	}
	_ = tw.Flush()
}
