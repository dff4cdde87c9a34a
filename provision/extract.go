package provision

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// ErrPathTraversal is returned when an archive member would land outside
// the extraction directory.
var ErrPathTraversal = errors.New("archive member escapes destination")

// ExtractTarGz extracts the gzip-compressed tar archive into dest.
//
// The archive is read twice. The first pass checks every member name and
// link target and returns ErrPathTraversal before anything is written; the
// second pass extracts directories, regular files and links. Members nested
// under a symbolic link from the same archive are rejected too.
func ExtractTarGz(archive, dest string) error {
	var headers []*tar.Header
	err := eachMember(archive, func(hdr *tar.Header, _ io.Reader) error {
		headers = append(headers, hdr)
		return nil
	})
	if err != nil {
		return err
	}
	if err := validateMembers(headers); err != nil {
		return err
	}
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", dest)
	}
	return extractTarGz(archive, dest)
}

func eachMember(archive string, fn func(*tar.Header, io.Reader) error) error {
	f, err := os.Open(archive)
	if err != nil {
		return errors.Wrapf(err, "failed to open %s", archive)
	}
	defer f.Close()
	zr, err := gzip.NewReader(f)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", archive)
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "corrupt archive %s", archive)
		}
		if err := fn(hdr, tr); err != nil {
			return err
		}
	}
}

// memberName is the slash-separated cleaned form of a member name.
func memberName(name string) string {
	return path.Clean(strings.ReplaceAll(name, `\`, "/"))
}

// inside reports whether the cleaned relative name stays under the root.
func inside(name string) bool {
	return !path.IsAbs(name) && name != ".." && !strings.HasPrefix(name, "../")
}

func validateMembers(headers []*tar.Header) error {
	links := make(map[string]bool)
	for _, hdr := range headers {
		if hdr.Typeflag == tar.TypeSymlink {
			links[memberName(hdr.Name)] = true
		}
	}
	for _, hdr := range headers {
		name := memberName(hdr.Name)
		if !inside(name) {
			return errors.Wrapf(ErrPathTraversal, "member %q", hdr.Name)
		}
		for dir := path.Dir(name); dir != "." && dir != "/"; dir = path.Dir(dir) {
			if links[dir] {
				return errors.Wrapf(ErrPathTraversal, "member %q is below symlink %q", hdr.Name, dir)
			}
		}
		switch hdr.Typeflag {
		case tar.TypeSymlink:
			if path.IsAbs(hdr.Linkname) || !resolvesInside(links, path.Dir(name)+"/"+hdr.Linkname) {
				return errors.Wrapf(ErrPathTraversal, "symlink %q -> %q", hdr.Name, hdr.Linkname)
			}
		case tar.TypeLink:
			if path.IsAbs(hdr.Linkname) || !resolvesInside(links, hdr.Linkname) {
				return errors.Wrapf(ErrPathTraversal, "hard link %q -> %q", hdr.Name, hdr.Linkname)
			}
		}
	}
	return nil
}

// resolvesInside walks the relative path p component by component and
// reports whether it stays under the root without passing through one of
// the archive's own symlinks.
func resolvesInside(links map[string]bool, p string) bool {
	var stack []string
	for _, part := range strings.Split(strings.ReplaceAll(p, `\`, "/"), "/") {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(stack) == 0 {
				return false
			}
			stack = stack[:len(stack)-1]
		default:
			stack = append(stack, part)
		}
		if links[strings.Join(stack, "/")] {
			return false
		}
	}
	return true
}

func extractTarGz(archive, dest string) error {
	return eachMember(archive, func(hdr *tar.Header, r io.Reader) error {
		name := memberName(hdr.Name)
		target := filepath.Join(dest, filepath.FromSlash(name))
		switch hdr.Typeflag {
		case tar.TypeDir:
			return errors.Wrapf(os.MkdirAll(target, 0o755), "failed to create %s", target)
		case tar.TypeReg:
			return writeMember(target, r, hdr.FileInfo().Mode().Perm())
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %s", filepath.Dir(target))
			}
			return errors.Wrapf(os.Symlink(hdr.Linkname, target), "failed to link %s", target)
		case tar.TypeLink:
			src := filepath.Join(dest, filepath.FromSlash(memberName(hdr.Linkname)))
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.Wrapf(err, "failed to create %s", filepath.Dir(target))
			}
			return errors.Wrapf(os.Link(src, target), "failed to link %s", target)
		}
		// Devices, FIFOs and the like have no place in a dataset.
		return nil
	})
}

func writeMember(target string, r io.Reader, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "failed to create %s", filepath.Dir(target))
	}
	if perm&0o200 == 0 {
		perm |= 0o200
	}
	f, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return errors.Wrapf(err, "failed to create %s", target)
	}
	if _, err := io.CopyBuffer(f, r, make([]byte, ChunkSize)); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "failed to extract %s", target)
	}
	return errors.Wrapf(f.Close(), "failed to close %s", target)
}
