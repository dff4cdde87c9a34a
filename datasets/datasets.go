// Package datasets builds lazy input pipelines over the Cholec80 surgical
// video corpus.
//
// The corpus is stored as one record container per video. Each record holds
// one PNG frame with its video id, frame id, total frame count, seven tool
// presence labels and a surgical phase label. Three modes read it:
//
//   - FRAME: frames from many videos are interleaved and shuffled; batch
//     boundaries ignore videos.
//   - VIDEO: the video order is shuffled, but each video is batched in frame
//     order and its last batch carries EndFlag.
//   - INFER: as VIDEO without any shuffling, for deterministic evaluation.
//
// Pipelines are pull based: nothing is read until the consumer asks for the
// next batch, and prefetch buffers are bounded by the configuration.
//
// Dataset adapts a pipeline to GoMLX's train.Dataset, so it can be handed
// directly to a training loop.
package datasets

import (
	"context"
	"fmt"

	"github.com/gomlx/gomlx/pkg/core/tensors"
	"github.com/gomlx/gomlx/pkg/ml/train"
	"github.com/pkg/errors"

	"github.com/Noofbiz/cholec80/config"
)

// Dataset is a built Cholec80 pipeline. It yields one *Batch per call and
// returns io.EOF at the end of an epoch; Reset starts a new epoch with a
// freshly built pipeline.
//
// A Dataset is not safe for concurrent use.
type Dataset struct {
	mode    Mode
	builder Builder

	parent context.Context
	cancel context.CancelFunc
	stream Stream[*Batch]
}

var _ train.Dataset = (*Dataset)(nil)

// Make loads the configuration at configPath (the bundled default when
// empty), builds the pipeline for mode and returns it ready to read.
// A nil videoIDs selects every video.
func Make(ctx context.Context, minibatch int, configPath string, videoIDs []int, mode Mode, opts ...Option) (*Dataset, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	b, err := NewBuilder(mode, minibatch, cfg, videoIDs, opts...)
	if err != nil {
		return nil, err
	}
	return NewDataset(ctx, mode, b)
}

// NewDataset builds b under ctx.
func NewDataset(ctx context.Context, mode Mode, b Builder) (*Dataset, error) {
	d := &Dataset{mode: mode, builder: b, parent: ctx}
	if err := d.build(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) build() error {
	ctx, cancel := context.WithCancel(d.parent)
	s, err := d.builder.Build(ctx)
	if err != nil {
		cancel()
		return errors.Wrapf(err, "failed to build %s dataset", d.mode)
	}
	d.cancel, d.stream = cancel, s
	return nil
}

// Mode returns the mode the dataset was built with.
func (d *Dataset) Mode() Mode { return d.mode }

// Next returns the next batch, or io.EOF at the end of the epoch.
func (d *Dataset) Next() (*Batch, error) {
	if d.stream == nil {
		return nil, errors.New("dataset is closed")
	}
	return d.stream.Next()
}

// Close stops the pipeline's goroutines and closes open files.
func (d *Dataset) Close() error {
	if d.stream == nil {
		return nil
	}
	d.cancel()
	err := d.stream.Close()
	d.stream, d.cancel = nil, nil
	return err
}

// Name implements train.Dataset.
func (d *Dataset) Name() string {
	return fmt.Sprintf("cholec80 [%s]", d.mode)
}

// Reset implements train.Dataset. The current pipeline is abandoned and a
// new one built; with shuffling modes the new epoch draws a new order
// unless a seed was given. A build failure is reported by the next Yield.
func (d *Dataset) Reset() {
	_ = d.Close()
	if err := d.build(); err != nil {
		d.stream = errStream[*Batch]{err: err}
		d.cancel = func() {}
	}
}

// Yield implements train.Dataset. spec is the *Batch itself; inputs hold the
// frames and labels hold the phases followed by the instrument labels.
func (d *Dataset) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	b, err := d.Next()
	if err != nil {
		return
	}
	frames, phases, instruments, err := b.ToGomlxTensors()
	if err != nil {
		return
	}
	return b, []*tensors.Tensor{frames}, []*tensors.Tensor{phases, instruments}, nil
}

// errStream fails every Next with err.
type errStream[T any] struct{ err error }

func (s errStream[T]) Next() (T, error) {
	var zero T
	return zero, s.err
}

func (s errStream[T]) Close() error { return nil }
