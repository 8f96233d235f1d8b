package dataset

import (
	"iter"
	"math/rand"
	"sync"
	"sync/atomic"
)

// Pipeline is a lazy, restartable, finite sequence. Every call to All starts
// a fresh pass over the source, so one Pipeline serves every epoch.
//
//	train := dataset.Map(raw, preprocess).
//		Shuffle(10000, seed)
//	batches := dataset.Batch(train, 128, false).Prefetch(2)
//	for batch := range batches.All() { ... }
//	if err := batches.Err(); err != nil { ... }
type Pipeline[T any] struct {
	seq  func(yield func(T) bool)
	errs *errSink
}

// errSink records the first error raised by a fallible stage. Derived
// pipelines share the sink of their source.
type errSink struct {
	mu  sync.Mutex
	err error
}

func (s *errSink) set(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == nil {
		s.err = err
	}
}

func (s *errSink) get() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// FromSlice returns a pipeline over items in order.
func FromSlice[T any](items []T) Pipeline[T] {
	return Pipeline[T]{
		seq: func(yield func(T) bool) {
			for _, it := range items {
				if !yield(it) {
					return
				}
			}
		},
		errs: &errSink{},
	}
}

// All returns an iterator over one pass of the pipeline.
func (p Pipeline[T]) All() iter.Seq[T] {
	if p.seq == nil {
		return func(func(T) bool) {}
	}
	return p.seq
}

// Err returns the first error raised by a fallible stage, if any. A stage
// error ends the pass that raised it.
func (p Pipeline[T]) Err() error {
	if p.errs == nil {
		return nil
	}
	return p.errs.get()
}

// Collect drains one pass into a slice.
func (p Pipeline[T]) Collect() ([]T, error) {
	var out []T
	for v := range p.All() {
		out = append(out, v)
	}
	return out, p.Err()
}

// Count drains one pass and returns its length.
func (p Pipeline[T]) Count() int {
	n := 0
	for range p.All() {
		n++
	}
	return n
}

// Map applies f to every element.
func Map[T, U any](p Pipeline[T], f func(T) U) Pipeline[U] {
	return Pipeline[U]{
		seq: func(yield func(U) bool) {
			for v := range p.All() {
				if !yield(f(v)) {
					return
				}
			}
		},
		errs: p.errs,
	}
}

// MapErr applies a fallible f. The first error stops the pass and is
// reported by Err.
func MapErr[T, U any](p Pipeline[T], f func(T) (U, error)) Pipeline[U] {
	return Pipeline[U]{
		seq: func(yield func(U) bool) {
			for v := range p.All() {
				u, err := f(v)
				if err != nil {
					p.errs.set(err)
					return
				}
				if !yield(u) {
					return
				}
			}
		},
		errs: p.errs,
	}
}

// Shuffle randomizes order with a lookahead buffer of the given size: each
// output is drawn uniformly from the next buffer elements. A buffer at least
// as large as the pipeline gives a full shuffle.
//
// Pass k uses seed+k, so epochs see different but reproducible orders.
func (p Pipeline[T]) Shuffle(buffer int, seed int64) Pipeline[T] {
	buffer = max(buffer, 1)
	var pass atomic.Int64
	return Pipeline[T]{
		seq: func(yield func(T) bool) {
			//nolint:gosec // Data order, not security-critical
			rng := rand.New(rand.NewSource(seed + pass.Add(1) - 1))
			buf := make([]T, 0, buffer)
			for v := range p.All() {
				if len(buf) < buffer {
					buf = append(buf, v)
					continue
				}
				i := rng.Intn(len(buf))
				out := buf[i]
				buf[i] = v
				if !yield(out) {
					return
				}
			}
			rng.Shuffle(len(buf), func(i, j int) { buf[i], buf[j] = buf[j], buf[i] })
			for _, v := range buf {
				if !yield(v) {
					return
				}
			}
		},
		errs: p.errs,
	}
}

// Take limits a pass to the first n elements.
func (p Pipeline[T]) Take(n int) Pipeline[T] {
	return Pipeline[T]{
		seq: func(yield func(T) bool) {
			if n <= 0 {
				return
			}
			i := 0
			for v := range p.All() {
				if !yield(v) {
					return
				}
				i++
				if i == n {
					return
				}
			}
		},
		errs: p.errs,
	}
}

// Batch groups consecutive elements into slices of size. The last batch may
// be short unless dropRemainder is set.
func Batch[T any](p Pipeline[T], size int, dropRemainder bool) Pipeline[[]T] {
	size = max(size, 1)
	return Pipeline[[]T]{
		seq: func(yield func([]T) bool) {
			batch := make([]T, 0, size)
			for v := range p.All() {
				batch = append(batch, v)
				if len(batch) == size {
					if !yield(batch) {
						return
					}
					batch = make([]T, 0, size)
				}
			}
			if len(batch) > 0 && !dropRemainder {
				yield(batch)
			}
		},
		errs: p.errs,
	}
}

// Prefetch produces up to n elements ahead of the consumer on a separate
// goroutine. Order is preserved. Breaking out of the loop stops the
// producer and waits for it to exit.
func (p Pipeline[T]) Prefetch(n int) Pipeline[T] {
	n = max(n, 1)
	return Pipeline[T]{
		seq: func(yield func(T) bool) {
			ch := make(chan T, n)
			done := make(chan struct{})
			var wg sync.WaitGroup
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer close(ch)
				for v := range p.All() {
					select {
					case ch <- v:
					case <-done:
						return
					}
				}
			}()
			defer wg.Wait()
			defer close(done)

			for v := range ch {
				if !yield(v) {
					return
				}
			}
		},
		errs: p.errs,
	}
}
