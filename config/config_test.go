package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
)

func TestLoadBundledDefault(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") failed: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("bundled config is incomplete: %v", err)
	}
	dir, err := cfg.GetString(KeyDir)
	if err != nil || dir == "" {
		t.Fatalf("expected a non-empty %s, got %q (err=%v)", KeyDir, dir, err)
	}
}

func TestMarshalSortedAndIndented(t *testing.T) {
	cfg := New(map[string]any{
		"n_prefetch":   3,
		"cholec80_dir": "/data/cholec80",
		"a<b":          "x&y",
	})
	got, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := "{\n  \"a<b\": \"x&y\",\n  \"cholec80_dir\": \"/data/cholec80\",\n  \"n_prefetch\": 3\n}"
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Fatalf("unexpected JSON (-want +got):\n%s", diff)
	}
}

func TestSaveRoundTripIsByteStable(t *testing.T) {
	tmp := t.TempDir()
	src := filepath.Join(tmp, "src.json")
	// Unsorted keys, odd spacing, large integer.
	raw := `{"n_prefetch": 2, "cholec80_dir": "c80",
	  "n_file_shuffle": 9007199254740993, "n_batch_shuffle": 16}`
	if err := os.WriteFile(src, []byte(raw), 0o644); err != nil {
		t.Fatalf("failed to write source config: %v", err)
	}

	cfg, err := LoadFile(src)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	first := filepath.Join(tmp, "first.json")
	if err := cfg.Save(first); err != nil {
		t.Fatalf("first Save failed: %v", err)
	}

	reloaded, err := LoadFile(first)
	if err != nil {
		t.Fatalf("reloading saved config failed: %v", err)
	}
	if err := reloaded.Save(first); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	b1, err := cfg.Marshal()
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	b2, err := os.ReadFile(first)
	if err != nil {
		t.Fatalf("failed to read saved config: %v", err)
	}
	if diff := cmp.Diff(string(b1), string(b2)); diff != "" {
		t.Fatalf("second save changed bytes (-first +second):\n%s", diff)
	}

	n, err := reloaded.GetInt(KeyFileShuffle)
	if err != nil {
		t.Fatalf("GetInt failed: %v", err)
	}
	if n != 9007199254740993 {
		t.Fatalf("large integer lost precision: got %d", n)
	}

	// No temp files left behind.
	entries, err := os.ReadDir(tmp)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected exactly src.json and first.json, got %d entries", len(entries))
	}
}

func TestWithReturnsCopy(t *testing.T) {
	base := New(map[string]any{KeyDir: "old"})
	next := base.With(KeyDir, "new")

	got, _ := base.GetString(KeyDir)
	if got != "old" {
		t.Fatalf("With mutated the receiver: %q", got)
	}
	got, _ = next.GetString(KeyDir)
	if got != "new" {
		t.Fatalf("With did not set the value: %q", got)
	}
}

func TestLookupErrors(t *testing.T) {
	cfg := New(map[string]any{
		"text":     "hello",
		"fraction": 1.5,
		KeyDir:     42,
	})

	tests := []struct {
		name string
		call func() error
		want error
	}{
		{"missing int", func() error { _, err := cfg.GetInt(KeyPrefetch); return err }, ErrMissingKey},
		{"missing string", func() error { _, err := cfg.GetString("nope"); return err }, ErrMissingKey},
		{"string as int", func() error { _, err := cfg.GetInt("text"); return err }, ErrInvalidValue},
		{"fraction as int", func() error { _, err := cfg.GetInt("fraction"); return err }, ErrInvalidValue},
		{"int as string", func() error { _, err := cfg.GetString(KeyDir); return err }, ErrInvalidValue},
		{"validate", cfg.Validate, ErrInvalidValue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.call()
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestLoadFileErrors(t *testing.T) {
	tmp := t.TempDir()

	if _, err := LoadFile(filepath.Join(tmp, "absent.json")); err == nil {
		t.Fatalf("expected error for a missing file")
	}

	bad := filepath.Join(tmp, "bad.json")
	if err := os.WriteFile(bad, []byte(`{"cholec80_dir": `), 0o644); err != nil {
		t.Fatalf("failed to write bad config: %v", err)
	}
	if _, err := LoadFile(bad); err == nil {
		t.Fatalf("expected error for malformed JSON")
	}
}
