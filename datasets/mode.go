package datasets

import (
	"github.com/pkg/errors"

	"github.com/Noofbiz/cholec80/config"
)

// Mode selects the pipeline a dataset is built with.
type Mode string

const (
	// ModeFrame shuffles frames across videos.
	ModeFrame Mode = "FRAME"
	// ModeVideo keeps per-video frame order and shuffles the video order.
	ModeVideo Mode = "VIDEO"
	// ModeInfer keeps per-video frame order and the requested video order.
	ModeInfer Mode = "INFER"
)

// Modes lists the accepted modes.
var Modes = []Mode{ModeFrame, ModeVideo, ModeInfer}

// ErrInvalidMode is returned for a mode name outside Modes.
var ErrInvalidMode = errors.New("invalid dataset mode")

// ParseMode converts a mode name. Matching is exact: "frame" is rejected.
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", errors.Wrapf(ErrInvalidMode, "%q, want one of %v", s, Modes)
}

// NewBuilder returns the builder for mode.
func NewBuilder(mode Mode, minibatch int, cfg config.Config, videoIDs []int, opts ...Option) (Builder, error) {
	var (
		b   Builder
		err error
	)
	switch mode {
	case ModeFrame:
		b, err = asBuilder(NewFrameModeBuilder(minibatch, cfg, videoIDs, opts...))
	case ModeVideo:
		b, err = asBuilder(NewVideoModeBuilder(minibatch, cfg, videoIDs, opts...))
	case ModeInfer:
		b, err = asBuilder(NewInferenceModeBuilder(minibatch, cfg, videoIDs, opts...))
	default:
		err = errors.Wrapf(ErrInvalidMode, "%q, want one of %v", string(mode), Modes)
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

// asBuilder keeps a typed nil pointer out of the Builder interface.
func asBuilder[B Builder](b B, err error) (Builder, error) {
	if err != nil {
		return nil, err
	}
	return b, nil
}
