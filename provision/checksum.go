package provision

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

var (
	// ErrChecksumMismatch is returned when the archive digest differs from
	// the reference digest.
	ErrChecksumMismatch = errors.New("checksum mismatch")

	// ErrNoChecksum is returned when verification is requested without a
	// reference digest.
	ErrNoChecksum = errors.New("no reference checksum")
)

// FileMD5 returns the hex MD5 digest of the file at path.
func FileMD5(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()
	h := md5.New()
	if _, err := io.CopyBuffer(h, f, make([]byte, ChunkSize)); err != nil {
		return "", errors.Wrapf(err, "failed to read %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// VerifyMD5 compares the digest of path with want (hex, any case) and
// returns the computed digest.
func VerifyMD5(path, want string) (string, error) {
	got, err := FileMD5(path)
	if err != nil {
		return "", err
	}
	if !strings.EqualFold(got, strings.TrimSpace(want)) {
		return got, errors.Wrapf(ErrChecksumMismatch, "%s: got %s, want %s", path, got, want)
	}
	return got, nil
}

// ReadChecksumFile returns the first whitespace-separated token of path,
// which accepts both a bare digest and md5sum output.
func ReadChecksumFile(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", errors.Wrapf(err, "failed to read checksum file %s", path)
	}
	fields := bytes.Fields(b)
	if len(fields) == 0 {
		return "", errors.Wrapf(ErrNoChecksum, "%s is empty", path)
	}
	return string(fields[0]), nil
}
