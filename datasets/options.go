package datasets

import (
	"math/rand"
	"time"

	"github.com/go-logr/logr"
)

// Option configures a builder.
type Option func(*options)

type options struct {
	seed   int64
	seeded bool
	logger logr.Logger
}

func defaultOptions() options {
	return options{logger: logr.Discard()}
}

// WithSeed fixes the random seed used by the shuffle stages, making FRAME
// and VIDEO builds reproducible. Without it every build draws a new seed.
func WithSeed(seed int64) Option {
	return func(o *options) {
		o.seed = seed
		o.seeded = true
	}
}

// WithLogger sets the logger used for build and file events.
func WithLogger(l logr.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// rngs returns n independent generators for one build.
func (o options) rngs(n int) []*rand.Rand {
	seed := o.seed
	if !o.seeded {
		seed = time.Now().UnixNano()
	}
	out := make([]*rand.Rand, n)
	for i := range out {
		out[i] = rand.New(rand.NewSource(seed + int64(i)))
	}
	return out
}
