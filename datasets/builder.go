package datasets

import (
	"context"

	"github.com/go-logr/logr"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cholec80/config"
	"github.com/Noofbiz/cholec80/records"
)

// ErrInvalidBatchSize is returned when a builder is asked for batches with
// fewer than one record.
var ErrInvalidBatchSize = errors.New("minibatch size must be positive")

// Builder assembles one lazy pipeline over the Cholec80 record containers.
//
// Prebuild resolves the file list, ParseExample decodes one group of
// serialized examples into a Batch, and Build composes the full pipeline.
// Each Build call returns an independent stream.
type Builder interface {
	Prebuild() (Stream[string], error)
	ParseExample(raw [][]byte) (*Batch, error)
	Build(ctx context.Context) (Stream[*Batch], error)
}

// base holds what every builder shares: the configuration, the requested
// videos and the minibatch size.
type base struct {
	cfg       config.Config
	videoIDs  []int
	minibatch int
	opts      options
	log       logr.Logger
}

func newBase(minibatch int, cfg config.Config, videoIDs []int, opts []Option) (base, error) {
	if minibatch < 1 {
		return base{}, errors.Wrapf(ErrInvalidBatchSize, "got %d", minibatch)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	var ids []int
	if videoIDs != nil {
		ids = append([]int{}, videoIDs...)
	}
	return base{
		cfg:       cfg,
		videoIDs:  ids,
		minibatch: minibatch,
		opts:      o,
		log:       o.logger,
	}, nil
}

// Prebuild returns the selected container paths as a stream, in selection
// order.
func (b *base) Prebuild() (Stream[string], error) {
	dir, err := b.cfg.GetString(config.KeyDir)
	if err != nil {
		return nil, err
	}
	files, err := SelectFiles(dir, b.videoIDs)
	if err != nil {
		return nil, err
	}
	b.log.V(1).Info("selected video containers", "dir", dir, "count", len(files))
	return fromSlice(files), nil
}

// openContainer expands a path into its stream of serialized examples.
func (b *base) openContainer(path string) (Stream[[]byte], error) {
	b.log.V(1).Info("opening video container", "path", path)
	r, err := records.Open(path)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// knobs reads the named integer keys. Lookups happen at build time so a
// missing key fails the build, not the construction.
func (b *base) knobs(keys ...string) (map[string]int, error) {
	out := make(map[string]int, len(keys))
	for _, k := range keys {
		v, err := b.cfg.GetInt(k)
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

// FrameModeBuilder serves frame-level training: records from many videos
// are interleaved, batched, and the batches shuffled, so consecutive frames
// of one video rarely land together. Video boundaries are not tracked.
type FrameModeBuilder struct {
	base
}

// NewFrameModeBuilder returns a FRAME mode builder.
func NewFrameModeBuilder(minibatch int, cfg config.Config, videoIDs []int, opts ...Option) (*FrameModeBuilder, error) {
	b, err := newBase(minibatch, cfg, videoIDs, opts)
	if err != nil {
		return nil, err
	}
	return &FrameModeBuilder{base: b}, nil
}

// ParseExample decodes a batch of examples; EndFlag is always false.
func (b *FrameModeBuilder) ParseExample(raw [][]byte) (*Batch, error) {
	recs, err := parseRecords(raw)
	if err != nil {
		return nil, err
	}
	return &Batch{Records: recs}, nil
}

// Build shuffles files, interleaves their records, batches, shuffles the
// batches, parses them in parallel and prefetches.
func (b *FrameModeBuilder) Build(ctx context.Context) (Stream[*Batch], error) {
	k, err := b.knobs(
		config.KeyFileShuffle,
		config.KeyParallelInterleaveCalls,
		config.KeyInterleaveCycle,
		config.KeyInterleaveBlock,
		config.KeyBatchShuffle,
		config.KeyParallelParseCalls,
		config.KeyPrefetch,
	)
	if err != nil {
		return nil, err
	}
	files, err := b.Prebuild()
	if err != nil {
		return nil, err
	}
	b.log.Info("building dataset", "mode", ModeFrame, "minibatch", b.minibatch, "knobs", k)

	rngs := b.opts.rngs(2)
	files = shuffle(files, k[config.KeyFileShuffle], rngs[0])
	examples := interleave(ctx, files, b.openContainer,
		k[config.KeyInterleaveCycle],
		k[config.KeyInterleaveBlock],
		k[config.KeyParallelInterleaveCalls],
	)
	raw := shuffle(batch(examples, b.minibatch), k[config.KeyBatchShuffle], rngs[1])
	parsed := parallelMap(ctx, raw, b.ParseExample, k[config.KeyParallelParseCalls])
	return prefetch(ctx, parsed, k[config.KeyPrefetch]), nil
}

// VideoModeBuilder serves sequential training: the order of videos is
// shuffled but each video is batched in frame order, and its last batch
// carries EndFlag.
type VideoModeBuilder struct {
	base
}

// NewVideoModeBuilder returns a VIDEO mode builder.
func NewVideoModeBuilder(minibatch int, cfg config.Config, videoIDs []int, opts ...Option) (*VideoModeBuilder, error) {
	b, err := newBase(minibatch, cfg, videoIDs, opts)
	if err != nil {
		return nil, err
	}
	return &VideoModeBuilder{base: b}, nil
}

// ParseExample decodes a batch of examples from one video and sets EndFlag
// when it holds the video's last frame.
func (b *VideoModeBuilder) ParseExample(raw [][]byte) (*Batch, error) {
	return parseVideoBatch(raw)
}

// Build shuffles the file order, expands each file into its own batches and
// concatenates them, then prefetches.
func (b *VideoModeBuilder) Build(ctx context.Context) (Stream[*Batch], error) {
	k, err := b.knobs(config.KeyFileShuffle, config.KeyPrefetch)
	if err != nil {
		return nil, err
	}
	files, err := b.Prebuild()
	if err != nil {
		return nil, err
	}
	b.log.Info("building dataset", "mode", ModeVideo, "minibatch", b.minibatch, "knobs", k)

	files = shuffle(files, k[config.KeyFileShuffle], b.opts.rngs(1)[0])
	return prefetch(ctx, flatMap(files, b.expandVideo), k[config.KeyPrefetch]), nil
}

// InferenceModeBuilder is VideoModeBuilder without the file shuffle: videos
// come out in selection order, so two builds over the same inputs emit the
// same batches.
type InferenceModeBuilder struct {
	base
}

// NewInferenceModeBuilder returns an INFER mode builder.
func NewInferenceModeBuilder(minibatch int, cfg config.Config, videoIDs []int, opts ...Option) (*InferenceModeBuilder, error) {
	b, err := newBase(minibatch, cfg, videoIDs, opts)
	if err != nil {
		return nil, err
	}
	return &InferenceModeBuilder{base: b}, nil
}

// ParseExample behaves as VideoModeBuilder.ParseExample.
func (b *InferenceModeBuilder) ParseExample(raw [][]byte) (*Batch, error) {
	return parseVideoBatch(raw)
}

// Build expands each file, in order, into its batches and prefetches.
func (b *InferenceModeBuilder) Build(ctx context.Context) (Stream[*Batch], error) {
	k, err := b.knobs(config.KeyPrefetch)
	if err != nil {
		return nil, err
	}
	files, err := b.Prebuild()
	if err != nil {
		return nil, err
	}
	b.log.Info("building dataset", "mode", ModeInfer, "minibatch", b.minibatch, "knobs", k)

	return prefetch(ctx, flatMap(files, b.expandVideo), k[config.KeyPrefetch]), nil
}

// expandVideo turns one container into its parsed batches. Batches never
// span two videos; the last one may be short.
func (b *base) expandVideo(path string) (Stream[*Batch], error) {
	examples, err := b.openContainer(path)
	if err != nil {
		return nil, err
	}
	return mapped(batch(examples, b.minibatch), parseVideoBatch), nil
}

func parseVideoBatch(raw [][]byte) (*Batch, error) {
	recs, err := parseRecords(raw)
	if err != nil {
		return nil, err
	}
	return &Batch{Records: recs, EndFlag: isVideoEnd(recs)}, nil
}
