package datasets

import (
	"context"
	"io"
	"sort"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/Noofbiz/cholec80/records"
)

// VideoStats summarizes the labels of one video container.
type VideoStats struct {
	Path    string
	VideoID string

	// Frames is the number of records read; TotalFrames is the count the
	// records themselves claim.
	Frames      int
	TotalFrames int64

	PhaseCounts      map[int64]int
	InstrumentCounts [records.NumInstruments]int

	// Contiguous is true when frame ids run 0, 1, ..., Frames-1 in storage
	// order, which VIDEO and INFER end flags rely on.
	Contiguous bool
}

// CorpusStats aggregates VideoStats over a selection of videos.
type CorpusStats struct {
	Videos           []VideoStats
	Frames           int
	PhaseCounts      map[int64]int
	InstrumentCounts [records.NumInstruments]int
}

// Phases returns the phase labels seen, in increasing order.
func (c *CorpusStats) Phases() []int64 {
	out := make([]int64, 0, len(c.PhaseCounts))
	for p := range c.PhaseCounts {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ScanCorpus reads the label features of every record in the selected
// containers, with up to workers containers scanned at once. Frames are not
// decoded. Results follow the selection order.
func ScanCorpus(ctx context.Context, dir string, videoIDs []int, workers int) (*CorpusStats, error) {
	files, err := SelectFiles(dir, videoIDs)
	if err != nil {
		return nil, err
	}
	if workers < 1 {
		workers = 1
	}

	videos := make([]VideoStats, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			vs, err := scanVideo(gctx, path)
			if err != nil {
				return err
			}
			videos[i] = vs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	stats := &CorpusStats{Videos: videos, PhaseCounts: make(map[int64]int)}
	for _, v := range videos {
		stats.Frames += v.Frames
		for p, n := range v.PhaseCounts {
			stats.PhaseCounts[p] += n
		}
		for i, n := range v.InstrumentCounts {
			stats.InstrumentCounts[i] += n
		}
	}
	return stats, nil
}

func scanVideo(ctx context.Context, path string) (VideoStats, error) {
	vs := VideoStats{Path: path, PhaseCounts: make(map[int64]int), Contiguous: true}
	r, err := records.Open(path)
	if err != nil {
		return vs, err
	}
	defer r.Close()

	for {
		if err := ctx.Err(); err != nil {
			return vs, err
		}
		raw, err := r.Next()
		if err == io.EOF {
			return vs, nil
		}
		if err != nil {
			return vs, err
		}
		ex, err := records.Unmarshal(raw)
		if err != nil {
			return vs, errors.Wrapf(err, "%s record %d", path, vs.Frames)
		}
		if vs.Frames == 0 {
			vs.VideoID = ex.VideoID
		}
		if ex.FrameID != int64(vs.Frames) {
			vs.Contiguous = false
		}
		vs.TotalFrames = ex.TotalFrames
		vs.PhaseCounts[ex.Phase]++
		for i, present := range ex.Instruments {
			if present != 0 {
				vs.InstrumentCounts[i]++
			}
		}
		vs.Frames++
	}
}
