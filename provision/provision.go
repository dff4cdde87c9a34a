// Package provision downloads, verifies and unpacks the Cholec80 archive
// and records its location in the dataset configuration.
//
// Every step is fatal on failure: there are no retries, no resumed
// downloads and no partial extraction after a failed check.
package provision

import (
	"context"
	"net/http"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"
	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cholec80/config"
)

const (
	// DefaultURL is the public location of the Cholec80 archive.
	DefaultURL = "https://s3.unistra.fr/camma_public/datasets/cholec80/cholec80.tar.gz"

	// ArchiveName is the file name the archive is downloaded to under the
	// root directory.
	ArchiveName = "cholec80.tar.gz"

	// DirName is the directory the archive is extracted into under the root
	// directory.
	DirName = "cholec80"
)

// Options configures Run.
type Options struct {
	// URL of the archive; DefaultURL when empty.
	URL string

	// RootDir receives the archive and the extracted corpus. Required.
	RootDir string

	// VerifyChecksum compares the archive's MD5 with Checksum, or with the
	// first token of ChecksumFile when Checksum is empty.
	VerifyChecksum bool
	Checksum       string
	ChecksumFile   string

	// KeepArchive leaves the downloaded archive in place after extraction.
	KeepArchive bool

	// ConfigPath is the configuration file to update. When it does not
	// exist yet, the bundled default is used as the starting point. Required.
	ConfigPath string

	Client   *http.Client
	Progress Progress
	Logger   logr.Logger
}

// Result describes what Run produced.
type Result struct {
	Archive    string
	Dir        string
	ConfigPath string
	Bytes      int64

	// Checksum is the archive's MD5, set when it was verified.
	Checksum string
}

// Run downloads the archive, optionally verifies it, extracts it, removes
// it unless asked to keep it, and saves a configuration pointing at the
// extracted corpus.
func Run(ctx context.Context, opts Options) (Result, error) {
	log := opts.Logger
	if log.GetSink() == nil {
		log = logr.Discard()
	}
	if opts.RootDir == "" {
		return Result{}, errors.New("root directory is required")
	}
	if opts.ConfigPath == "" {
		return Result{}, errors.New("config path is required")
	}
	url := opts.URL
	if url == "" {
		url = DefaultURL
	}

	want := opts.Checksum
	if opts.VerifyChecksum && want == "" {
		if opts.ChecksumFile == "" {
			return Result{}, errors.Wrap(ErrNoChecksum, "checksum verification needs a checksum or a checksum file")
		}
		var err error
		if want, err = ReadChecksumFile(opts.ChecksumFile); err != nil {
			return Result{}, err
		}
	}

	root, err := filepath.Abs(opts.RootDir)
	if err != nil {
		return Result{}, errors.Wrapf(err, "invalid root directory %s", opts.RootDir)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return Result{}, errors.Wrapf(err, "failed to create %s", root)
	}
	res := Result{
		Archive:    filepath.Join(root, ArchiveName),
		Dir:        filepath.Join(root, DirName),
		ConfigPath: opts.ConfigPath,
	}

	log.Info("downloading archive", "url", url, "path", res.Archive)
	progress := opts.Progress
	if progress == nil {
		progress = LogProgress(log)
	}
	if res.Bytes, err = Download(ctx, opts.Client, url, res.Archive, progress); err != nil {
		return res, err
	}
	log.Info("download complete", "size", humanize.Bytes(uint64(res.Bytes)))

	if opts.VerifyChecksum {
		log.Info("verifying checksum")
		if res.Checksum, err = VerifyMD5(res.Archive, want); err != nil {
			return res, err
		}
		log.Info("checksum verified", "md5", res.Checksum)
	}

	log.Info("extracting archive", "dir", res.Dir)
	if err := ExtractTarGz(res.Archive, res.Dir); err != nil {
		return res, err
	}

	if !opts.KeepArchive {
		if err := os.Remove(res.Archive); err != nil {
			return res, errors.Wrapf(err, "failed to remove %s", res.Archive)
		}
		log.V(1).Info("archive removed", "path", res.Archive)
	}

	if err := UpdateConfig(opts.ConfigPath, res.Dir); err != nil {
		return res, err
	}
	log.Info("config saved", "path", opts.ConfigPath, "cholec80_dir", res.Dir)
	return res, nil
}

// UpdateConfig saves the configuration at path with cholec80_dir set to
// dir. A missing file starts from the bundled default; every other key is
// kept as is.
func UpdateConfig(path, dir string) error {
	cfg, err := config.LoadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg, err = config.Load("")
	}
	if err != nil {
		return err
	}
	return cfg.With(config.KeyDir, dir).Save(path)
}

// LogProgress returns a Progress that logs at every tenth of the expected
// size, or every 256 MiB when the size is unknown.
func LogProgress(log logr.Logger) Progress {
	var next int64
	return func(written, total int64) {
		step := int64(256 << 20)
		if total > 0 {
			step = max(total/10, ChunkSize)
		}
		if written < next && written != total {
			return
		}
		next = (written/step + 1) * step
		if total > 0 {
			log.Info("downloading", "written", humanize.Bytes(uint64(written)), "total", humanize.Bytes(uint64(total)))
			return
		}
		log.Info("downloading", "written", humanize.Bytes(uint64(written)))
	}
}
