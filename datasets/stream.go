package datasets

import (
	"context"
	"io"
	"math/rand"

	"golang.org/x/sync/errgroup"
)

// Stream is a lazy, pull-based, single-pass sequence. Next returns io.EOF
// once the sequence is exhausted; any other error is fatal for the stream.
// Close releases files and goroutines and may be called at any point.
//
// Streams are driven by one consumer; they are not safe for concurrent Next
// calls.
type Stream[T any] interface {
	Next() (T, error)
	Close() error
}

// collect drains s and closes it.
func collect[T any](s Stream[T]) ([]T, error) {
	defer s.Close()
	var out []T
	for {
		v, err := s.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, v)
	}
}

// item carries a value or a terminal error across a channel.
type item[T any] struct {
	v   T
	err error
}

type sliceStream[T any] struct {
	items []T
	i     int
}

func fromSlice[T any](items []T) Stream[T] {
	return &sliceStream[T]{items: items}
}

func (s *sliceStream[T]) Next() (T, error) {
	if s.i >= len(s.items) {
		var zero T
		return zero, io.EOF
	}
	v := s.items[s.i]
	s.i++
	return v, nil
}

func (s *sliceStream[T]) Close() error { return nil }

// shuffleStream keeps a buffer of up to size elements and emits one drawn
// uniformly from it, refilling from the source before every draw.
type shuffleStream[T any] struct {
	src     Stream[T]
	size    int
	rng     *rand.Rand
	buf     []T
	srcDone bool
}

func shuffle[T any](src Stream[T], size int, rng *rand.Rand) Stream[T] {
	if size < 1 {
		size = 1
	}
	return &shuffleStream[T]{src: src, size: size, rng: rng, buf: make([]T, 0, size)}
}

func (s *shuffleStream[T]) Next() (T, error) {
	var zero T
	for !s.srcDone && len(s.buf) < s.size {
		v, err := s.src.Next()
		if err == io.EOF {
			s.srcDone = true
			break
		}
		if err != nil {
			return zero, err
		}
		s.buf = append(s.buf, v)
	}
	if len(s.buf) == 0 {
		return zero, io.EOF
	}
	i := s.rng.Intn(len(s.buf))
	v := s.buf[i]
	last := len(s.buf) - 1
	s.buf[i] = s.buf[last]
	s.buf[last] = zero
	s.buf = s.buf[:last]
	return v, nil
}

func (s *shuffleStream[T]) Close() error {
	s.buf = nil
	return s.src.Close()
}

// batchStream groups consecutive elements; the final group may be short.
type batchStream[T any] struct {
	src  Stream[T]
	n    int
	done bool
}

func batch[T any](src Stream[T], n int) Stream[[]T] {
	return &batchStream[T]{src: src, n: n}
}

func (s *batchStream[T]) Next() ([]T, error) {
	if s.done {
		return nil, io.EOF
	}
	out := make([]T, 0, s.n)
	for len(out) < s.n {
		v, err := s.src.Next()
		if err == io.EOF {
			s.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return nil, io.EOF
	}
	return out, nil
}

func (s *batchStream[T]) Close() error { return s.src.Close() }

type mapStream[S, T any] struct {
	src Stream[S]
	fn  func(S) (T, error)
}

func mapped[S, T any](src Stream[S], fn func(S) (T, error)) Stream[T] {
	return &mapStream[S, T]{src: src, fn: fn}
}

func (s *mapStream[S, T]) Next() (T, error) {
	v, err := s.src.Next()
	if err != nil {
		var zero T
		return zero, err
	}
	return s.fn(v)
}

func (s *mapStream[S, T]) Close() error { return s.src.Close() }

// flatMapStream drains each expanded stream completely before pulling the
// next source element.
type flatMapStream[S, T any] struct {
	src    Stream[S]
	expand func(S) (Stream[T], error)
	cur    Stream[T]
}

func flatMap[S, T any](src Stream[S], expand func(S) (Stream[T], error)) Stream[T] {
	return &flatMapStream[S, T]{src: src, expand: expand}
}

func (s *flatMapStream[S, T]) Next() (T, error) {
	var zero T
	for {
		if s.cur == nil {
			v, err := s.src.Next()
			if err != nil {
				return zero, err
			}
			if s.cur, err = s.expand(v); err != nil {
				return zero, err
			}
		}
		v, err := s.cur.Next()
		if err == io.EOF {
			if err := s.cur.Close(); err != nil {
				return zero, err
			}
			s.cur = nil
			continue
		}
		return v, err
	}
}

func (s *flatMapStream[S, T]) Close() error {
	var err error
	if s.cur != nil {
		err = s.cur.Close()
		s.cur = nil
	}
	if serr := s.src.Close(); err == nil {
		err = serr
	}
	return err
}

// interleaveStream keeps up to cycle expanded streams open and takes block
// consecutive elements from each in turn. When a stream ends its slot is
// refilled from the source, so the output order is deterministic for a
// given source order. Up to parallel slots are read ahead in the background.
type interleaveStream[S, T any] struct {
	ctx      context.Context
	src      Stream[S]
	expand   func(S) (Stream[T], error)
	block    int
	parallel int

	slots      []Stream[T]
	background []bool
	nOpen      int
	nBg        int
	cur        int
	taken      int
	srcDone    bool
}

func interleave[S, T any](ctx context.Context, src Stream[S], expand func(S) (Stream[T], error), cycle, block, parallel int) Stream[T] {
	if cycle < 1 {
		cycle = 1
	}
	if block < 1 {
		block = 1
	}
	return &interleaveStream[S, T]{
		ctx:        ctx,
		src:        src,
		expand:     expand,
		block:      block,
		parallel:   parallel,
		slots:      make([]Stream[T], cycle),
		background: make([]bool, cycle),
	}
}

func (s *interleaveStream[S, T]) advance() {
	s.taken = 0
	s.cur = (s.cur + 1) % len(s.slots)
}

func (s *interleaveStream[S, T]) Next() (T, error) {
	var zero T
	for !s.srcDone || s.nOpen > 0 {
		slot := s.slots[s.cur]
		switch {
		case slot != nil:
			v, err := slot.Next()
			if err == nil {
				s.taken++
				if s.taken == s.block {
					s.advance()
				}
				return v, nil
			}
			if err != io.EOF {
				return zero, err
			}
			if err := s.closeSlot(s.cur); err != nil {
				return zero, err
			}
			s.advance()
		case !s.srcDone:
			v, err := s.src.Next()
			if err == io.EOF {
				s.srcDone = true
				continue
			}
			if err != nil {
				return zero, err
			}
			if err := s.openSlot(s.cur, v); err != nil {
				return zero, err
			}
		default:
			s.advance()
		}
	}
	return zero, io.EOF
}

func (s *interleaveStream[S, T]) openSlot(i int, v S) error {
	st, err := s.expand(v)
	if err != nil {
		return err
	}
	if s.nBg < s.parallel {
		st = prefetch(s.ctx, st, s.block)
		s.background[i] = true
		s.nBg++
	}
	s.slots[i] = st
	s.nOpen++
	return nil
}

func (s *interleaveStream[S, T]) closeSlot(i int) error {
	err := s.slots[i].Close()
	s.slots[i] = nil
	s.nOpen--
	if s.background[i] {
		s.background[i] = false
		s.nBg--
	}
	return err
}

func (s *interleaveStream[S, T]) Close() error {
	var err error
	for i, slot := range s.slots {
		if slot == nil {
			continue
		}
		if cerr := s.closeSlot(i); err == nil {
			err = cerr
		}
	}
	if serr := s.src.Close(); err == nil {
		err = serr
	}
	return err
}

// prefetchStream runs the source in a goroutine and keeps up to n elements
// ready ahead of the consumer.
type prefetchStream[T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	src    Stream[T]
	ch     chan item[T]
	done   chan struct{}
	err    error
	closed bool
}

func prefetch[T any](ctx context.Context, src Stream[T], n int) Stream[T] {
	if n <= 0 {
		return src
	}
	ctx, cancel := context.WithCancel(ctx)
	// The producer holds one element while blocked on send, hence n-1.
	p := &prefetchStream[T]{
		ctx:    ctx,
		cancel: cancel,
		src:    src,
		ch:     make(chan item[T], n-1),
		done:   make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *prefetchStream[T]) run() {
	defer close(p.done)
	defer close(p.ch)
	for {
		v, err := p.src.Next()
		select {
		case p.ch <- item[T]{v: v, err: err}:
		case <-p.ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (p *prefetchStream[T]) Next() (T, error) {
	var zero T
	if p.err != nil {
		return zero, p.err
	}
	select {
	case it, ok := <-p.ch:
		if !ok {
			if err := p.ctx.Err(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}
		if it.err != nil {
			p.err = it.err
		}
		return it.v, it.err
	case <-p.ctx.Done():
		return zero, p.ctx.Err()
	}
}

func (p *prefetchStream[T]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	<-p.done
	return p.src.Close()
}

// parallelMapStream applies fn with up to workers goroutines while keeping
// the source order.
type parallelMapStream[S, T any] struct {
	ctx    context.Context
	cancel context.CancelFunc
	src    Stream[S]
	group  *errgroup.Group
	order  chan chan item[T]
	err    error
	closed bool
}

type mapJob[S, T any] struct {
	in  S
	out chan item[T]
}

func parallelMap[S, T any](ctx context.Context, src Stream[S], fn func(S) (T, error), workers int) Stream[T] {
	if workers <= 1 {
		return mapped(src, fn)
	}
	ctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(ctx)
	p := &parallelMapStream[S, T]{
		ctx:    ctx,
		cancel: cancel,
		src:    src,
		group:  g,
		order:  make(chan chan item[T], workers),
	}
	jobs := make(chan mapJob[S, T])

	g.Go(func() error {
		defer close(jobs)
		defer close(p.order)
		for {
			v, err := src.Next()
			out := make(chan item[T], 1)
			if err != nil {
				out <- item[T]{err: err}
				select {
				case p.order <- out:
				case <-gctx.Done():
				}
				return nil
			}
			select {
			case p.order <- out:
			case <-gctx.Done():
				return nil
			}
			select {
			case jobs <- mapJob[S, T]{in: v, out: out}:
			case <-gctx.Done():
				return nil
			}
		}
	})
	for range workers {
		g.Go(func() error {
			for j := range jobs {
				v, err := fn(j.in)
				j.out <- item[T]{v: v, err: err}
			}
			return nil
		})
	}
	return p
}

func (p *parallelMapStream[S, T]) Next() (T, error) {
	var zero T
	if p.err != nil {
		return zero, p.err
	}
	var out chan item[T]
	select {
	case o, ok := <-p.order:
		if !ok {
			if err := p.ctx.Err(); err != nil {
				return zero, err
			}
			return zero, io.EOF
		}
		out = o
	case <-p.ctx.Done():
		return zero, p.ctx.Err()
	}
	select {
	case it := <-out:
		if it.err != nil {
			p.err = it.err
		}
		return it.v, it.err
	case <-p.ctx.Done():
		return zero, p.ctx.Err()
	}
}

func (p *parallelMapStream[S, T]) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	p.cancel()
	_ = p.group.Wait()
	return p.src.Close()
}
