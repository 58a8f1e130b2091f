package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

type sample struct {
	Root    string `yaml:"root"`
	Workers int    `yaml:"workers"`
}

func (s *sample) Validate() error {
	if s.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	return nil
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoad_ExpandsEnv(t *testing.T) {
	t.Setenv("LINKFIX_TEST_ROOT", "/srv/notes")
	path := writeConfig(t, "root: ${LINKFIX_TEST_ROOT}\nworkers: 4\n")

	var s sample
	if err := Load(path, &s); err != nil {
		t.Fatalf("Load: %v", err)
	}
	if s.Root != "/srv/notes" || s.Workers != 4 {
		t.Errorf("got %+v", s)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	var s sample
	if err := Load(filepath.Join(t.TempDir(), "nope.yaml"), &s); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoad_Validation(t *testing.T) {
	path := writeConfig(t, "workers: -1\n")
	var s sample
	err := Load(path, &s)
	if err == nil || !strings.Contains(err.Error(), "validation") {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestLoadOptional_KeepsDefaults(t *testing.T) {
	s := sample{Root: ".", Workers: 1}
	if err := LoadOptional(filepath.Join(t.TempDir(), "nope.yaml"), &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Root != "." || s.Workers != 1 {
		t.Errorf("defaults changed: %+v", s)
	}

	if err := LoadOptional("", &s); err != nil {
		t.Fatalf("LoadOptional empty name: %v", err)
	}
}

func TestLoadOptional_OverridesDefaults(t *testing.T) {
	s := sample{Root: ".", Workers: 1}
	path := writeConfig(t, "workers: 8\n")
	if err := LoadOptional(path, &s); err != nil {
		t.Fatalf("LoadOptional: %v", err)
	}
	if s.Root != "." || s.Workers != 8 {
		t.Errorf("got %+v", s)
	}
}

func TestLoadOptional_ValidatesDefaults(t *testing.T) {
	s := sample{Workers: -3}
	if err := LoadOptional("", &s); err == nil {
		t.Fatal("expected validation error")
	}
}
