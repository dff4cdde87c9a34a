package config

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/pkg/errors"
)

// Save writes c to path, replacing any existing file. The bytes are written
// to a temporary file in the same directory and renamed into place, so a
// reader never sees a half-written configuration.
func (c Config) Save(path string) error {
	b, err := c.Marshal()
	if err != nil {
		return err
	}
	return writeFileAtomic(path, b, 0o644)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create config dir %s", dir)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp config")
	}
	tmpName := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Wrap(err, "failed to write temp config")
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.Wrap(err, "failed to chmod temp config")
	}
	if err := tmp.Sync(); err != nil {
		return errors.Wrap(err, "failed to sync temp config")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "failed to close temp config")
	}
	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "failed to move config into place at %s", path)
	}

	// Directory sync is best effort; semantics vary across platforms.
	if runtime.GOOS != "windows" {
		if d, err := os.Open(dir); err == nil {
			_ = d.Sync()
			_ = d.Close()
		}
	}
	return nil
}
