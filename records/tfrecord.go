// Package records reads and writes the per-video record containers of the
// Cholec80 corpus: TFRecord framing around serialized tf.train.Example
// messages.
//
// A container is a sequence of frames laid out as
//
//	uint64 length (little endian)
//	uint32 masked CRC-32C of the length bytes
//	[length]byte payload
//	uint32 masked CRC-32C of the payload
package records

import (
	"bufio"
	"encoding/binary"
	"hash/crc32"
	"io"
	"os"

	"github.com/pkg/errors"
)

// ErrCorrupt is returned when a container frame fails its checksum or is
// truncated.
var ErrCorrupt = errors.New("corrupt record container")

// maxRecordLen guards against allocating absurd buffers for a corrupt header
// that happened to pass its checksum.
const maxRecordLen = 1 << 30

const crcMaskDelta = 0xa282ead8

var castagnoli = crc32.MakeTable(crc32.Castagnoli)

func maskedCRC(b []byte) uint32 {
	c := crc32.Checksum(b, castagnoli)
	return ((c >> 15) | (c << 17)) + crcMaskDelta
}

// Reader yields the raw payloads of a record container in file order.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	name   string
	n      int
}

// NewReader wraps r. name only appears in error messages.
func NewReader(r io.Reader, name string) *Reader {
	rd := &Reader{r: bufio.NewReaderSize(r, 1<<20), name: name}
	if c, ok := r.(io.Closer); ok {
		rd.closer = c
	}
	return rd
}

// Open opens the container at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open record container %s", path)
	}
	return NewReader(f, path), nil
}

// Next returns the next payload, or io.EOF after the last one. The returned
// slice is owned by the caller.
func (r *Reader) Next() ([]byte, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrapf(ErrCorrupt, "%s: record %d: truncated header: %v", r.name, r.n, err)
	}
	if maskedCRC(header[:8]) != binary.LittleEndian.Uint32(header[8:]) {
		return nil, errors.Wrapf(ErrCorrupt, "%s: record %d: length checksum mismatch", r.name, r.n)
	}
	length := binary.LittleEndian.Uint64(header[:8])
	if length > maxRecordLen {
		return nil, errors.Wrapf(ErrCorrupt, "%s: record %d: length %d too large", r.name, r.n, length)
	}

	buf := make([]byte, length+4)
	if _, err := io.ReadFull(r.r, buf); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "%s: record %d: truncated payload: %v", r.name, r.n, err)
	}
	payload := buf[:length]
	if maskedCRC(payload) != binary.LittleEndian.Uint32(buf[length:]) {
		return nil, errors.Wrapf(ErrCorrupt, "%s: record %d: payload checksum mismatch", r.name, r.n)
	}
	r.n++
	return payload, nil
}

// Close closes the underlying file, if any.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// Writer appends framed payloads to an io.Writer.
type Writer struct {
	w *bufio.Writer
}

// NewWriter returns a Writer on w. Call Flush when done.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: bufio.NewWriter(w)}
}

// Write frames payload and appends it.
func (w *Writer) Write(payload []byte) error {
	var header [12]byte
	binary.LittleEndian.PutUint64(header[:8], uint64(len(payload)))
	binary.LittleEndian.PutUint32(header[8:], maskedCRC(header[:8]))
	var footer [4]byte
	binary.LittleEndian.PutUint32(footer[:], maskedCRC(payload))

	for _, b := range [][]byte{header[:], payload, footer[:]} {
		if _, err := w.w.Write(b); err != nil {
			return errors.Wrap(err, "failed to write record")
		}
	}
	return nil
}

// Flush writes any buffered data.
func (w *Writer) Flush() error {
	return errors.Wrap(w.w.Flush(), "failed to flush records")
}

// WriteFile writes payloads as a new container at path.
func WriteFile(path string, payloads [][]byte) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "failed to create record container %s", path)
	}
	w := NewWriter(f)
	for _, p := range payloads {
		if err := w.Write(p); err != nil {
			_ = f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return err
	}
	return errors.Wrapf(f.Close(), "failed to close record container %s", path)
}
