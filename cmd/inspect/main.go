// Command inspect summarizes a Cholec80 corpus: frames per video, phase and
// instrument label counts, and bar charts of both. With --batches it also
// dry-runs a dataset pipeline and reports the tensors it yields.
//
// Usage:
//
//	go run ./cmd/inspect --config configs/config.json --videos 0-39 --out plots
package main

import (
	"context"
	"flag"
	"fmt"
	"image/color"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	gomlxdatasets "github.com/gomlx/gomlx/pkg/ml/datasets"
	"github.com/pkg/errors"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"k8s.io/klog/v2"

	"github.com/Noofbiz/cholec80/config"
	"github.com/Noofbiz/cholec80/datasets"
)

func main() {
	klog.InitFlags(nil)
	configPath := flag.String("config", "", "configuration file (bundled default when empty)")
	videos := flag.String("videos", "", "video indices, e.g. '0-39' or '1,5,7'; all videos when empty")
	workers := flag.Int("workers", runtime.NumCPU(), "number of containers scanned concurrently")
	outDir := flag.String("out", "plots", "output directory for the charts; empty disables plotting")
	mode := flag.String("mode", string(datasets.ModeInfer), "pipeline mode for the dry run: FRAME, VIDEO or INFER")
	batchSize := flag.Int("batch-size", 8, "minibatch size for the dry run")
	batches := flag.Int("batches", 0, "number of batches to dry-run; 0 skips the dry run")
	seed := flag.Int64("seed", time.Now().UnixNano(), "shuffle seed for the dry run")
	flag.Parse()
	defer klog.Flush()

	ids, err := parseVideoIDs(*videos)
	if err != nil {
		klog.Fatalf("invalid --videos: %v", err)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		klog.Fatalf("failed to load config: %v", err)
	}
	dir, err := cfg.GetString(config.KeyDir)
	if err != nil {
		klog.Fatalf("config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	start := time.Now()
	stats, err := datasets.ScanCorpus(ctx, dir, ids, *workers)
	if err != nil {
		klog.Fatalf("scan failed: %v", err)
	}
	klog.Infof("scanned %d videos in %s", len(stats.Videos), time.Since(start).Round(time.Millisecond))
	printSummary(os.Stdout, stats)

	if *outDir != "" {
		if err := os.MkdirAll(*outDir, 0o755); err != nil {
			klog.Fatalf("failed to create %s: %v", *outDir, err)
		}
		if err := plotPhases(*outDir, stats); err != nil {
			klog.Fatalf("phase chart: %v", err)
		}
		if err := plotInstruments(*outDir, stats); err != nil {
			klog.Fatalf("instrument chart: %v", err)
		}
		klog.Infof("charts written to %s", *outDir)
	}

	if *batches > 0 {
		m, err := datasets.ParseMode(*mode)
		if err != nil {
			klog.Fatalf("%v", err)
		}
		if err := dryRun(ctx, *configPath, ids, m, *batchSize, *batches, *seed); err != nil {
			klog.Fatalf("dry run failed: %v", err)
		}
	}
}

// parseVideoIDs accepts comma-separated indices and inclusive ranges.
func parseVideoIDs(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	var ids []int
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		lo, hi, isRange := strings.Cut(part, "-")
		a, err := strconv.Atoi(lo)
		if err != nil {
			return nil, errors.Wrapf(err, "bad index %q", part)
		}
		if !isRange {
			ids = append(ids, a)
			continue
		}
		b, err := strconv.Atoi(hi)
		if err != nil || b < a {
			return nil, errors.Errorf("bad range %q", part)
		}
		for i := a; i <= b; i++ {
			ids = append(ids, i)
		}
	}
	return ids, nil
}

func printSummary(w io.Writer, stats *datasets.CorpusStats) {
	fmt.Fprintf(w, "%-10s %8s %8s  %s\n", "video", "frames", "claimed", "ordered")
	for _, v := range stats.Videos {
		fmt.Fprintf(w, "%-10s %8d %8d  %v\n", v.VideoID, v.Frames, v.TotalFrames, v.Contiguous)
	}
	fmt.Fprintf(w, "\n%d frames in %d videos\n\nphases:\n", stats.Frames, len(stats.Videos))
	for _, p := range stats.Phases() {
		n := stats.PhaseCounts[p]
		fmt.Fprintf(w, "  %-24s %8d  %5.1f%%\n", datasets.PhaseName(p), n, percent(n, stats.Frames))
	}
	fmt.Fprintln(w, "instruments:")
	for i, n := range stats.InstrumentCounts {
		fmt.Fprintf(w, "  %-24s %8d  %5.1f%%\n", datasets.InstrumentNames[i], n, percent(n, stats.Frames))
	}
}

func percent(n, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(n) / float64(total)
}

func plotPhases(outDir string, stats *datasets.CorpusStats) error {
	phases := stats.Phases()
	values := make(plotter.Values, len(phases))
	names := make([]string, len(phases))
	for i, p := range phases {
		values[i] = float64(stats.PhaseCounts[p])
		names[i] = datasets.PhaseName(p)
	}
	return saveBarChart(outDir, "phases.png", "Frames per surgical phase", names, values,
		color.RGBA{R: 20, G: 80, B: 200, A: 255})
}

func plotInstruments(outDir string, stats *datasets.CorpusStats) error {
	values := make(plotter.Values, len(stats.InstrumentCounts))
	for i, n := range stats.InstrumentCounts {
		values[i] = float64(n)
	}
	return saveBarChart(outDir, "instruments.png", "Frames with instrument present", datasets.InstrumentNames[:], values,
		color.RGBA{R: 200, G: 30, B: 30, A: 255})
}

func saveBarChart(outDir, name, title string, labels []string, values plotter.Values, fill color.Color) error {
	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "frames"

	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return err
	}
	bars.Color = fill
	bars.LineStyle.Width = vg.Length(0)
	p.Add(bars, plotter.NewGrid())
	p.NominalX(labels...)
	p.X.Tick.Label.Rotation = 0.6
	p.X.Tick.Label.XAlign = -0.9

	return p.Save(10*vg.Inch, 6*vg.Inch, filepath.Join(outDir, name))
}

// dryRun pulls n batches through a freshly built pipeline and reports their
// shapes and end flags.
func dryRun(ctx context.Context, configPath string, ids []int, mode datasets.Mode, batchSize, n int, seed int64) error {
	d, err := datasets.Make(ctx, batchSize, configPath, ids, mode,
		datasets.WithSeed(seed), datasets.WithLogger(klog.Background()))
	if err != nil {
		return err
	}
	defer d.Close()

	ds := gomlxdatasets.Take(d, n)
	klog.Infof("dry run: %s", ds.Name())
	start := time.Now()
	for i := 0; ; i++ {
		spec, inputs, labels, err := ds.Yield()
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
		b := spec.(*datasets.Batch)
		fmt.Printf("batch %3d: frames %v phases %v instruments %v videos %v end=%v\n",
			i, inputs[0].Shape().Dimensions, labels[0].Shape().Dimensions, labels[1].Shape().Dimensions,
			uniq(b.VideoIDs()), b.EndFlag)
	}
	klog.Infof("dry run took %s", time.Since(start).Round(time.Millisecond))
	return nil
}

func uniq(ids []string) []string {
	var out []string
	for _, id := range ids {
		if len(out) == 0 || out[len(out)-1] != id {
			out = append(out, id)
		}
	}
	return out
}
