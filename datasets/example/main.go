package main

// Example command that builds a Cholec80 dataset in each mode and converts a
// few batches into gomlx tensors.
//
// Usage:
//   go run ./datasets/example -config configs/config.json -videos 3
//
// The configuration's cholec80_dir must point at an extracted corpus (see
// cmd/prepare). Frames are decoded, so each batch of 8 holds roughly 10 MB
// of pixels.

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"

	"github.com/Noofbiz/cholec80/datasets"
)

func main() {
	configPath := flag.String("config", "", "configuration file (bundled default when empty)")
	numVideos := flag.Int("videos", 2, "number of videos to read, starting at index 0")
	batchSize := flag.Int("batch-size", 8, "minibatch size")
	maxBatches := flag.Int("batches", 4, "batches to read per mode")
	flag.Parse()

	ids := make([]int, *numVideos)
	for i := range ids {
		ids[i] = i
	}

	for _, mode := range datasets.Modes {
		ds, err := datasets.Make(context.Background(), *batchSize, *configPath, ids, mode, datasets.WithSeed(1))
		if err != nil {
			log.Fatalf("failed to build %s dataset: %v", mode, err)
		}
		fmt.Printf("%s\n", ds.Name())

		for i := 0; i < *maxBatches; i++ {
			spec, inputs, labels, err := ds.Yield()
			if err == io.EOF {
				break
			}
			if err != nil {
				log.Fatalf("failed to read batch: %v", err)
			}
			b := spec.(*datasets.Batch)
			first := b.Records[0]
			fmt.Printf("  batch %d: %d records, first %s/%d (%s), end=%v\n",
				i, b.Len(), first.VideoID, first.FrameID, datasets.PhaseName(first.Phase), b.EndFlag)
			fmt.Printf("    frames %v  phases %v  instruments %v\n",
				inputs[0].Shape().Dimensions, labels[0].Shape().Dimensions, labels[1].Shape().Dimensions)
		}
		if err := ds.Close(); err != nil {
			log.Fatalf("failed to close dataset: %v", err)
		}
		fmt.Println()
	}
}
