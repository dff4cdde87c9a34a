package datasets

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/Noofbiz/cholec80/config"
	"github.com/Noofbiz/cholec80/records"
)

// videoColor is the fill color of every frame of video v in the fixtures.
func videoColor(v int) color.NRGBA {
	return color.NRGBA{R: uint8(10 * (v + 1)), G: uint8(200 - v), B: 7, A: 255}
}

// encodeFrame returns a full-size PNG filled with c.
func encodeFrame(t *testing.T, c color.NRGBA) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, FrameWidth, FrameHeight))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = c.R, c.G, c.B, c.A
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}
	return buf.Bytes()
}

// fixtureKey identifies one record of the fixture corpus.
type fixtureKey struct {
	VideoID string
	FrameID int64
}

// writeCorpus writes one container per entry of lengths under a fresh
// directory, video v holding lengths[v] frames with ids 0..lengths[v]-1.
// It returns the directory and the keys of every record written.
func writeCorpus(t *testing.T, lengths []int) (string, []fixtureKey) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "cholec80")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("failed to create corpus dir: %v", err)
	}
	var keys []fixtureKey
	for v, n := range lengths {
		frame := encodeFrame(t, videoColor(v))
		videoID := fmt.Sprintf("video%02d", v+1)
		payloads := make([][]byte, n)
		for i := range n {
			ex := records.Example{
				Frame:       frame,
				VideoID:     videoID,
				FrameID:     int64(i),
				TotalFrames: int64(n),
				Phase:       int64(i % 7),
			}
			ex.Instruments[0] = 1
			ex.Instruments[i%records.NumInstruments] = 1
			payloads[i] = ex.Marshal()
			keys = append(keys, fixtureKey{VideoID: videoID, FrameID: int64(i)})
		}
		path := filepath.Join(dir, videoID+".tfrecord")
		if err := records.WriteFile(path, payloads); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
	return dir, keys
}

// testConfig returns a complete configuration pointing at dir with small
// buffers, so the shuffle and interleave stages actually reorder records.
func testConfig(dir string) config.Config {
	return config.New(map[string]any{
		config.KeyDir:                     dir,
		config.KeyFileShuffle:             4,
		config.KeyParallelInterleaveCalls: 2,
		config.KeyInterleaveCycle:         2,
		config.KeyInterleaveBlock:         2,
		config.KeyBatchShuffle:            3,
		config.KeyParallelParseCalls:      3,
		config.KeyPrefetch:                2,
	})
}

// drain reads every batch of a stream and closes it.
func drain(t *testing.T, s Stream[*Batch]) []*Batch {
	t.Helper()
	batches, err := collect(s)
	if err != nil {
		t.Fatalf("stream failed: %v", err)
	}
	return batches
}

// batchKeys flattens batches into their record keys, in emission order.
func batchKeys(batches []*Batch) []fixtureKey {
	var keys []fixtureKey
	for _, b := range batches {
		for _, r := range b.Records {
			keys = append(keys, fixtureKey{VideoID: r.VideoID, FrameID: r.FrameID})
		}
	}
	return keys
}
