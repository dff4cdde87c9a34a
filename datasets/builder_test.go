package datasets

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cholec80/config"
)

var corpusLengths = []int{5, 3, 4}

func sortKeys(keys []fixtureKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].VideoID != keys[j].VideoID {
			return keys[i].VideoID < keys[j].VideoID
		}
		return keys[i].FrameID < keys[j].FrameID
	})
}

// checkPerVideoBatches verifies the VIDEO/INFER contract: a batch never
// spans two videos, frame ids increase within and across the batches of a
// video, and only the last batch of each video carries EndFlag.
func checkPerVideoBatches(t *testing.T, batches []*Batch, minibatch int) {
	t.Helper()
	type run struct {
		video   string
		batches []*Batch
	}
	var runs []run
	for i, b := range batches {
		if b.Len() == 0 || b.Len() > minibatch {
			t.Fatalf("batch %d has %d records, want 1..%d", i, b.Len(), minibatch)
		}
		video := b.Records[0].VideoID
		for _, r := range b.Records {
			if r.VideoID != video {
				t.Fatalf("batch %d mixes videos: %v", i, b.VideoIDs())
			}
		}
		if len(runs) == 0 || runs[len(runs)-1].video != video {
			runs = append(runs, run{video: video})
		}
		runs[len(runs)-1].batches = append(runs[len(runs)-1].batches, b)
	}

	seen := make(map[string]bool)
	for _, r := range runs {
		if seen[r.video] {
			t.Fatalf("video %s emitted in two separate runs", r.video)
		}
		seen[r.video] = true

		next := int64(0)
		for i, b := range r.batches {
			for _, id := range b.FrameIDs() {
				if id != next {
					t.Fatalf("video %s: got frame %d, want %d", r.video, id, next)
				}
				next++
			}
			last := i == len(r.batches)-1
			if b.EndFlag != last {
				t.Fatalf("video %s batch %d/%d: EndFlag=%v", r.video, i+1, len(r.batches), b.EndFlag)
			}
		}
	}
}

// TestVideoModeBuilder checks per-video batching and end flags, and that
// every record is emitted exactly once.
func TestVideoModeBuilder(t *testing.T) {
	dir, want := writeCorpus(t, corpusLengths)
	b, err := NewVideoModeBuilder(2, testConfig(dir), []int{0, 1, 2})
	if err != nil {
		t.Fatalf("NewVideoModeBuilder failed: %v", err)
	}
	s, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	batches := drain(t, s)

	// 5 frames -> 3 batches, 3 -> 2, 4 -> 2.
	if len(batches) != 7 {
		t.Fatalf("got %d batches, want 7", len(batches))
	}
	checkPerVideoBatches(t, batches, 2)

	got := batchKeys(batches)
	sortKeys(got)
	sortKeys(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records differ (-want +got):\n%s", diff)
	}
}

// TestInferenceModeBuilder checks that INFER keeps the requested video
// order and that two builds emit identical batches.
func TestInferenceModeBuilder(t *testing.T) {
	dir, _ := writeCorpus(t, corpusLengths)
	ids := []int{2, 0}
	b, err := NewInferenceModeBuilder(3, testConfig(dir), ids)
	if err != nil {
		t.Fatalf("NewInferenceModeBuilder failed: %v", err)
	}

	var runs [][]fixtureKey
	for range 2 {
		s, err := b.Build(context.Background())
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		batches := drain(t, s)
		checkPerVideoBatches(t, batches, 3)
		runs = append(runs, batchKeys(batches))
	}

	want := []fixtureKey{
		{"video03", 0}, {"video03", 1}, {"video03", 2}, {"video03", 3},
		{"video01", 0}, {"video01", 1}, {"video01", 2}, {"video01", 3}, {"video01", 4},
	}
	for i, got := range runs {
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("build %d order differs (-want +got):\n%s", i, diff)
		}
	}
}

// TestFrameModeBuilder checks that FRAME emits every record exactly once,
// never sets EndFlag and keeps batches at the requested size except for
// one short tail.
func TestFrameModeBuilder(t *testing.T) {
	dir, want := writeCorpus(t, corpusLengths)
	b, err := NewFrameModeBuilder(5, testConfig(dir), []int{0, 1, 2}, WithSeed(7))
	if err != nil {
		t.Fatalf("NewFrameModeBuilder failed: %v", err)
	}
	s, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	batches := drain(t, s)

	short := 0
	for i, batch := range batches {
		if batch.EndFlag {
			t.Fatalf("batch %d has EndFlag set", i)
		}
		if batch.Len() != 5 {
			short++
		}
	}
	// 12 records in batches of 5: one batch of 2.
	if len(batches) != 3 || short != 1 {
		t.Fatalf("got %d batches with %d short, want 3 with 1 short", len(batches), short)
	}

	got := batchKeys(batches)
	sortKeys(got)
	sortKeys(want)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("records differ (-want +got):\n%s", diff)
	}
}

// TestFrameModeSeed checks that a fixed seed reproduces the FRAME order.
func TestFrameModeSeed(t *testing.T) {
	dir, _ := writeCorpus(t, corpusLengths)
	build := func() []fixtureKey {
		b, err := NewFrameModeBuilder(2, testConfig(dir), []int{0, 1, 2}, WithSeed(42))
		if err != nil {
			t.Fatalf("NewFrameModeBuilder failed: %v", err)
		}
		s, err := b.Build(context.Background())
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		return batchKeys(drain(t, s))
	}
	if diff := cmp.Diff(build(), build()); diff != "" {
		t.Fatalf("seeded builds differ (-first +second):\n%s", diff)
	}
}

// TestParseExampleDecodesFrames checks that records come out with the
// frame pixels and labels that were written.
func TestParseExampleDecodesFrames(t *testing.T) {
	dir, _ := writeCorpus(t, []int{2, 2})
	b, err := NewInferenceModeBuilder(2, testConfig(dir), []int{1})
	if err != nil {
		t.Fatalf("NewInferenceModeBuilder failed: %v", err)
	}
	s, err := b.Build(context.Background())
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	batches := drain(t, s)
	if len(batches) != 1 || batches[0].Len() != 2 || !batches[0].EndFlag {
		t.Fatalf("unexpected batches: %d", len(batches))
	}
	want := videoColor(1)
	for _, r := range batches[0].Records {
		red, green, blue := r.Frame.At(FrameHeight-1, FrameWidth-1)
		if red != want.R || green != want.G || blue != want.B {
			t.Fatalf("frame %d pixel = (%d,%d,%d), want (%d,%d,%d)", r.FrameID, red, green, blue, want.R, want.G, want.B)
		}
		if r.Instruments[0] != 1 || r.Phase != r.FrameID%7 || r.TotalFrames != 2 {
			t.Fatalf("unexpected labels for frame %d: %+v %d %d", r.FrameID, r.Instruments, r.Phase, r.TotalFrames)
		}
	}
}

func TestBuilderErrors(t *testing.T) {
	dir, _ := writeCorpus(t, corpusLengths)
	ctx := context.Background()

	if _, err := NewVideoModeBuilder(0, testConfig(dir), nil); !errors.Is(err, ErrInvalidBatchSize) {
		t.Fatalf("minibatch 0: got %v, want ErrInvalidBatchSize", err)
	}

	// Construction never reads the configuration; Build does.
	incomplete := config.New(map[string]any{config.KeyDir: dir})
	for _, mode := range Modes {
		b, err := NewBuilder(mode, 2, incomplete, []int{0})
		if err != nil {
			t.Fatalf("NewBuilder(%s) failed: %v", mode, err)
		}
		if _, err := b.Build(ctx); !errors.Is(err, config.ErrMissingKey) {
			t.Fatalf("%s Build: got %v, want ErrMissingKey", mode, err)
		}
	}

	b, err := NewBuilder(ModeInfer, 2, testConfig(dir), []int{3})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if _, err := b.Build(ctx); !errors.Is(err, ErrVideoIndexOutOfRange) {
		t.Fatalf("index 3 of 3 files: got %v, want ErrVideoIndexOutOfRange", err)
	}

	missing := testConfig(filepath.Join(dir, "nope"))
	b, err = NewBuilder(ModeVideo, 2, missing, []int{0})
	if err != nil {
		t.Fatalf("NewBuilder failed: %v", err)
	}
	if _, err := b.Build(ctx); err == nil {
		t.Fatalf("Build over a missing directory succeeded")
	}
}

func TestParseModeAndNewBuilder(t *testing.T) {
	for _, m := range Modes {
		got, err := ParseMode(string(m))
		if err != nil || got != m {
			t.Fatalf("ParseMode(%q) = %q, %v", m, got, err)
		}
	}
	for _, s := range []string{"", "frame", "TRAIN", "VIDEO "} {
		if _, err := ParseMode(s); !errors.Is(err, ErrInvalidMode) {
			t.Fatalf("ParseMode(%q): got %v, want ErrInvalidMode", s, err)
		}
	}
	b, err := NewBuilder("EVAL", 1, config.Config{}, nil)
	if !errors.Is(err, ErrInvalidMode) || b != nil {
		t.Fatalf("NewBuilder(EVAL) = %v, %v", b, err)
	}

	for mode, want := range map[Mode]any{
		ModeFrame: &FrameModeBuilder{},
		ModeVideo: &VideoModeBuilder{},
		ModeInfer: &InferenceModeBuilder{},
	} {
		b, err := NewBuilder(mode, 1, config.Config{}, nil)
		if err != nil {
			t.Fatalf("NewBuilder(%s) failed: %v", mode, err)
		}
		if gotT, wantT := typeName(b), typeName(want); gotT != wantT {
			t.Fatalf("NewBuilder(%s) returned %s, want %s", mode, gotT, wantT)
		}
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *FrameModeBuilder:
		return "frame"
	case *VideoModeBuilder:
		return "video"
	case *InferenceModeBuilder:
		return "infer"
	}
	return "unknown"
}
