package internal

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/starford/linkfix/internal/apperr"
	"github.com/starford/linkfix/internal/testutil"
)

func treeConfig(t *testing.T, files map[string]string) (*Config, string) {
	t.Helper()
	dir := t.TempDir()
	for rel, content := range files {
		testutil.WriteFile(t, dir, rel, content)
	}
	cfg := NewDefaultConfig()
	cfg.Rewriter.Root = dir
	return cfg, dir
}

func TestRewrite_WritesAndSummarises(t *testing.T) {
	cfg, dir := treeConfig(t, map[string]string{
		"a.md":     "see [[b]]",
		"sub/b.md": "plain",
	})
	var out bytes.Buffer
	err := Rewrite(context.Background(),
		WithConfig(cfg), WithLogger(testutil.QuietLogger()), WithOutput(&out))
	if err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got := testutil.ReadFile(t, dir, "a.md"); got != "see [b](b.md)" {
		t.Errorf("a.md = %q", got)
	}
	if !strings.Contains(out.String(), "scanned 2 documents") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestRewrite_DryRunLeavesFiles(t *testing.T) {
	cfg, dir := treeConfig(t, map[string]string{"a.md": "[[x]]"})
	cfg.Rewriter.DryRun = true
	var out bytes.Buffer
	if err := Rewrite(context.Background(),
		WithConfig(cfg), WithLogger(testutil.QuietLogger()), WithOutput(&out)); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if got := testutil.ReadFile(t, dir, "a.md"); got != "[[x]]" {
		t.Errorf("dry run modified file: %q", got)
	}
	if !strings.Contains(out.String(), "would rewrite") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestRewrite_FailureExitsNonZero(t *testing.T) {
	cfg, dir := treeConfig(t, map[string]string{"good.md": "[[ok]]"})
	if err := os.WriteFile(filepath.Join(dir, "bad.md"), []byte{0xff, 0xfe, '[', '['}, 0o644); err != nil {
		t.Fatal(err)
	}
	var out bytes.Buffer
	err := Rewrite(context.Background(),
		WithConfig(cfg), WithLogger(testutil.QuietLogger()), WithOutput(&out))
	if err == nil {
		t.Fatal("expected error for undecodable document")
	}
	if !errors.Is(err, apperr.ErrDecode) {
		t.Errorf("error should wrap ErrDecode: %v", err)
	}
	if got := testutil.ReadFile(t, dir, "good.md"); got != "[ok](ok.md)" {
		t.Errorf("good.md = %q", got)
	}
}

func TestRewrite_MissingRoot(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Rewriter.Root = filepath.Join(t.TempDir(), "missing")
	err := Rewrite(context.Background(), WithConfig(cfg), WithLogger(testutil.QuietLogger()))
	if !errors.Is(err, apperr.ErrRootNotFound) {
		t.Fatalf("expected ErrRootNotFound, got %v", err)
	}
}

func TestRewrite_RequiresConfig(t *testing.T) {
	if err := Rewrite(context.Background()); err == nil {
		t.Fatal("expected error without config")
	}
}

func TestHistory(t *testing.T) {
	cfg, _ := treeConfig(t, map[string]string{"a.md": "[[x]]"})
	cfg.Ledger.Enabled = true
	cfg.Ledger.Path = filepath.Join(t.TempDir(), "ledger.db")
	quiet := WithLogger(testutil.QuietLogger())

	var out bytes.Buffer
	if err := Rewrite(context.Background(), WithConfig(cfg), quiet, WithOutput(&out)); err != nil {
		t.Fatalf("Rewrite: %v", err)
	}
	if !strings.Contains(out.String(), "recorded as run 1") {
		t.Errorf("summary = %q", out.String())
	}

	out.Reset()
	if err := History(context.Background(), 10, WithConfig(cfg), quiet, WithOutput(&out)); err != nil {
		t.Fatalf("History: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 2 || !strings.HasPrefix(lines[0], "ID") || !strings.HasPrefix(lines[1], "1 ") {
		t.Errorf("history output = %q", out.String())
	}
}

func TestHistory_LedgerDisabled(t *testing.T) {
	cfg, _ := treeConfig(t, nil)
	if err := History(context.Background(), 10, WithConfig(cfg), WithLogger(testutil.QuietLogger())); err == nil {
		t.Fatal("expected error when ledger is disabled")
	}
}

func TestNewLogger_Format(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(ApplicationConfig{LogLevel: slog.LevelInfo, LogFormat: LogFormatAuto}, &buf)
	logger.Info("hello", slog.String("path", "a.md"))
	if !strings.HasPrefix(buf.String(), "{") {
		t.Errorf("auto format on a non-terminal should be JSON, got %q", buf.String())
	}

	buf.Reset()
	logger = newLogger(ApplicationConfig{LogLevel: slog.LevelInfo, LogFormat: LogFormatText}, &buf)
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Errorf("text format output = %q", buf.String())
	}

	buf.Reset()
	logger = newLogger(ApplicationConfig{LogLevel: slog.LevelWarn, LogFormat: LogFormatJSON}, &buf)
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level: %q", buf.String())
	}
}
