package provision

import (
	"context"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
)

// ChunkSize is the unit the archive is streamed to disk in.
const ChunkSize = 1 << 20

// ErrHTTPStatus is returned when the server answers with a non-2xx status.
var ErrHTTPStatus = errors.New("unexpected HTTP status")

// Progress receives the bytes written so far and the expected total, or -1
// when the server did not announce a length.
type Progress func(written, total int64)

// NewClient returns the HTTP client used for the archive download. The
// archive is several gigabytes, so there is no overall deadline; only the
// connection setup and the wait for response headers are bounded.
func NewClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			TLSHandshakeTimeout:   10 * time.Second,
			ResponseHeaderTimeout: 30 * time.Second,
			IdleConnTimeout:       90 * time.Second,
		},
	}
}

// Download streams url into dst, replacing it. Any transport error or
// non-2xx status aborts the download; nothing is retried or resumed.
func Download(ctx context.Context, client *http.Client, url, dst string, progress Progress) (int64, error) {
	if client == nil {
		client = NewClient()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid archive URL %q", url)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to fetch %s", url)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, errors.Wrapf(ErrHTTPStatus, "%s: %s", url, resp.Status)
	}

	f, err := os.Create(dst)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to create %s", dst)
	}
	n, err := copyChunks(f, resp.Body, resp.ContentLength, progress)
	if err != nil {
		_ = f.Close()
		return n, errors.Wrapf(err, "failed to download %s", url)
	}
	if err := f.Close(); err != nil {
		return n, errors.Wrapf(err, "failed to close %s", dst)
	}
	return n, nil
}

func copyChunks(w io.Writer, r io.Reader, total int64, progress Progress) (int64, error) {
	buf := make([]byte, ChunkSize)
	var written int64
	for {
		n, rerr := io.ReadFull(r, buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return written, err
			}
			written += int64(n)
			if progress != nil {
				progress(written, total)
			}
		}
		switch rerr {
		case nil:
		case io.EOF, io.ErrUnexpectedEOF:
			if total >= 0 && written != total {
				return written, errors.Errorf("short body: got %d of %d bytes", written, total)
			}
			return written, nil
		default:
			return written, rerr
		}
	}
}
