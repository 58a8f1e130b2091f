package linkservice

import (
	"context"
	"errors"
	"testing"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/rewriter"
	"github.com/starford/linkfix/internal/testutil"
)

func testService(t *testing.T, files map[string]string, withLedger bool) (*Service, string) {
	t.Helper()
	root, store := testutil.TestTree(t, files)
	logger := testutil.QuietLogger()
	opts := []Option{WithLogger(logger)}
	if withLedger {
		opts = append(opts, WithLedger(testutil.TestLedger(t)))
	}
	return NewService(rewriter.New(store, rewriter.WithLogger(logger)), opts...), root
}

func TestRewriteTree_RecordsRun(t *testing.T) {
	var hooked *rewriter.Report
	svc, root := testService(t, map[string]string{"a.md": "[[A]]", "b.md": "b"}, true)
	svc.onRun = func(r *rewriter.Report, _ int64) { hooked = r }

	report, id, err := svc.RewriteTree(context.Background(), false)
	if err != nil {
		t.Fatalf("RewriteTree: %v", err)
	}
	if id == 0 {
		t.Error("expected a recorded run id")
	}
	if hooked != report {
		t.Error("run hook not called with the report")
	}
	if testutil.ReadFile(t, root, "a.md") != "[A](A.md)" {
		t.Error("a.md not rewritten")
	}

	runs, err := svc.Runs(10)
	if err != nil || len(runs) != 1 || runs[0].Written != 1 {
		t.Fatalf("runs = %+v, err = %v", runs, err)
	}
	docs, err := svc.Documents(id)
	if err != nil || len(docs) != 1 || docs[0].Path != "a.md" {
		t.Errorf("docs = %+v, err = %v", docs, err)
	}
}

func TestRewriteTree_DryRun(t *testing.T) {
	svc, root := testService(t, map[string]string{"a.md": "[[A]]"}, false)
	report, id, err := svc.RewriteTree(context.Background(), true)
	if err != nil {
		t.Fatal(err)
	}
	if id != 0 || report.Changed != 1 || report.Written != 0 {
		t.Errorf("id = %d report = %+v", id, report)
	}
	if testutil.ReadFile(t, root, "a.md") != "[[A]]" {
		t.Error("dry run wrote to disk")
	}
	if svc.DefaultDryRun() {
		t.Error("dry run option leaked into the service rewriter")
	}
}

func TestRewriteDocument_RecordsOnlyChanges(t *testing.T) {
	svc, _ := testService(t, map[string]string{"a.md": "[[A]]", "plain.md": "plain"}, true)
	ctx := context.Background()

	if _, err := svc.RewriteDocument(ctx, "plain.md", false); err != nil {
		t.Fatal(err)
	}
	res, err := svc.RewriteDocument(ctx, "a.md", false)
	if err != nil || !res.Written {
		t.Fatalf("res = %+v, err = %v", res, err)
	}
	if _, err := svc.RewriteDocument(ctx, "missing.md", false); err == nil {
		t.Error("expected read failure for missing document")
	}

	runs, _ := svc.Runs(10)
	if len(runs) != 2 {
		t.Errorf("runs = %d, want 2 (rewrite and failure)", len(runs))
	}
}

func TestListDocumentsAndTransform(t *testing.T) {
	svc, _ := testService(t, map[string]string{"b.md": "", "a/c.md": "", "x.txt": ""}, false)
	paths, errs := svc.ListDocuments(context.Background())
	if len(errs) != 0 || len(paths) != 2 {
		t.Fatalf("paths = %v errs = %v", paths, errs)
	}
	if got := svc.Transform("[[A]]"); got != "[A](A.md)" {
		t.Errorf("Transform = %q", got)
	}
}

func TestHistoryWithoutLedger(t *testing.T) {
	svc, _ := testService(t, nil, false)
	runs, err := svc.Runs(5)
	if err != nil || runs != nil {
		t.Errorf("runs = %v err = %v", runs, err)
	}
	if _, err := svc.Run(1); !errors.Is(err, apperr.ErrLedgerDisabled) {
		t.Errorf("err = %v", err)
	}
}

func TestRewriteDocument_RefusesNonDocuments(t *testing.T) {
	svc, root := testService(t, map[string]string{"notes.txt": "[[T]]"}, true)
	ctx := context.Background()

	_, err := svc.RewriteDocument(ctx, "notes.txt", false)
	if !errors.Is(err, apperr.ErrNotDocument) {
		t.Fatalf("err = %v, want ErrNotDocument", err)
	}
	if testutil.ReadFile(t, root, "notes.txt") != "[[T]]" {
		t.Error("notes.txt rewritten")
	}
	if runs, _ := svc.Runs(10); len(runs) != 0 {
		t.Errorf("refused request recorded: %+v", runs)
	}
}

func TestLastWrittenAndSettings(t *testing.T) {
	svc, _ := testService(t, map[string]string{"a.md": "[[A]]"}, true)
	ctx := context.Background()

	if _, err := svc.LastWritten("a.md"); !errors.Is(err, apperr.ErrNotFound) {
		t.Fatalf("before write: err = %v, want ErrNotFound", err)
	}
	if _, err := svc.RewriteDocument(ctx, "a.md", false); err != nil {
		t.Fatal(err)
	}
	d, err := svc.LastWritten("a.md")
	if err != nil || !d.Written || d.Links != 1 {
		t.Fatalf("d = %+v, err = %v", d, err)
	}
	if svc.Extension() != ".md" || svc.LinkSuffix() != ".md" {
		t.Errorf("extension = %q suffix = %q", svc.Extension(), svc.LinkSuffix())
	}

	noLedger, _ := testService(t, nil, false)
	if _, err := noLedger.LastWritten("a.md"); !errors.Is(err, apperr.ErrLedgerDisabled) {
		t.Errorf("err = %v, want ErrLedgerDisabled", err)
	}
}
