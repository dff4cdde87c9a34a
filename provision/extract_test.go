package provision

import (
	"archive/tar"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
)

func writeArchive(t *testing.T, members []member) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ArchiveName)
	if err := os.WriteFile(path, makeTarGz(t, members), 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	return path
}

// TestExtractRejectsTraversal checks that hostile archives fail closed:
// nothing is written inside or outside the destination.
func TestExtractRejectsTraversal(t *testing.T) {
	for _, tc := range []struct {
		name    string
		members []member
	}{
		{"parent", []member{
			{name: "ok.txt", typeflag: tar.TypeReg, body: "fine"},
			{name: "../evil", typeflag: tar.TypeReg, body: "pwned"},
		}},
		{"nested parent", []member{{name: "a/../../evil", typeflag: tar.TypeReg, body: "pwned"}}},
		{"absolute", []member{{name: "/tmp/evil", typeflag: tar.TypeReg, body: "pwned"}}},
		{"absolute symlink", []member{{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc"}}},
		{"escaping symlink", []member{{name: "a/link", typeflag: tar.TypeSymlink, linkname: "../../evil"}}},
		{"write through symlink", []member{
			{name: "link", typeflag: tar.TypeSymlink, linkname: "."},
			{name: "link/evil", typeflag: tar.TypeReg, body: "pwned"},
		}},
		{"chained symlinks", []member{
			{name: "c", typeflag: tar.TypeSymlink, linkname: "x/.."},
			{name: "a", typeflag: tar.TypeSymlink, linkname: "c/d/../.."},
		}},
		{"escaping hard link", []member{{name: "h", typeflag: tar.TypeLink, linkname: "../outside"}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			archive := writeArchive(t, tc.members)
			parent := t.TempDir()
			dest := filepath.Join(parent, "out")

			err := ExtractTarGz(archive, dest)
			if !errors.Is(err, ErrPathTraversal) {
				t.Fatalf("got %v, want ErrPathTraversal", err)
			}
			if _, err := os.Stat(filepath.Join(parent, "evil")); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("file written outside the destination: %v", err)
			}
			if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
				t.Fatalf("destination created for a rejected archive: %v", err)
			}
		})
	}
}

func TestExtractTarGz(t *testing.T) {
	archive := writeArchive(t, []member{
		{name: "./", typeflag: tar.TypeDir},
		{name: "./data/a.bin", typeflag: tar.TypeReg, body: "aaa"},
		{name: "data/sub/b.bin", typeflag: tar.TypeReg, body: "b"},
		{name: "data/hard", typeflag: tar.TypeLink, linkname: "data/a.bin"},
		{name: "data/sub/up", typeflag: tar.TypeSymlink, linkname: "../a.bin"},
	})
	dest := filepath.Join(t.TempDir(), "out")
	if err := ExtractTarGz(archive, dest); err != nil {
		t.Fatalf("ExtractTarGz failed: %v", err)
	}
	for name, want := range map[string]string{
		"data/a.bin":     "aaa",
		"data/sub/b.bin": "b",
		"data/hard":      "aaa",
		"data/sub/up":    "aaa",
	} {
		got, err := os.ReadFile(filepath.Join(dest, name))
		if err != nil || string(got) != want {
			t.Fatalf("%s = %q, %v; want %q", name, got, err, want)
		}
	}
}

func TestExtractCorruptArchive(t *testing.T) {
	path := filepath.Join(t.TempDir(), ArchiveName)
	if err := os.WriteFile(path, []byte("not gzip"), 0o644); err != nil {
		t.Fatalf("failed to write archive: %v", err)
	}
	if err := ExtractTarGz(path, t.TempDir()); err == nil {
		t.Fatalf("expected an error for a corrupt archive")
	}
}
