// Package progressive implements a chunked, cancellable merge sort that
// periodically hands control back to its caller so very large job lists can
// be ordered without stalling the consumer.
package progressive

import (
	"context"
	"errors"
	"slices"
)

// ErrCancelled is returned when IsCancelled or the context stops a run
var ErrCancelled = errors.New("progressive sort cancelled")

const (
	DefaultChunkSize        = 250
	DefaultInitialBatchSize = 100
	DefaultYieldEveryItems  = 2000
)

// Options controls one progressive run
type Options[T any] struct {
	// Compare must be a strict total order for the result to match a
	// synchronous sort exactly.
	Compare func(a, b T) int

	ChunkSize        int
	InitialBatchSize int
	YieldEveryItems  int

	// Yield is the cooperative suspension point. Nil means no suspension.
	Yield func(ctx context.Context) error

	// IsCancelled is polled before and after every yield and before
	// every OnPartial emission.
	IsCancelled func() bool

	// OnPartial receives a fresh copy of the best prefix known so far.
	// done is true exactly once, with the complete result.
	OnPartial func(prefix []T, done bool)
}

func (o *Options[T]) defaults() {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.InitialBatchSize <= 0 {
		o.InitialBatchSize = DefaultInitialBatchSize
	}
	if o.YieldEveryItems <= 0 {
		o.YieldEveryItems = DefaultYieldEveryItems
	}
}

type runner[T any] struct {
	ctx       context.Context
	opts      Options[T]
	sinceLast int
}

func (r *runner[T]) cancelled() bool {
	if r.ctx.Err() != nil {
		return true
	}
	return r.opts.IsCancelled != nil && r.opts.IsCancelled()
}

// tick counts merged elements and yields once every YieldEveryItems
func (r *runner[T]) tick(n int) error {
	r.sinceLast += n
	if r.sinceLast < r.opts.YieldEveryItems {
		return nil
	}
	r.sinceLast = 0
	return r.yield()
}

func (r *runner[T]) yield() error {
	if r.cancelled() {
		return ErrCancelled
	}
	if r.opts.Yield != nil {
		if err := r.opts.Yield(r.ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ErrCancelled
			}
			return err
		}
	}
	if r.cancelled() {
		return ErrCancelled
	}
	return nil
}

func (r *runner[T]) publish(acc []T, limit int, done bool) error {
	if r.opts.OnPartial == nil {
		return nil
	}
	if r.cancelled() {
		return ErrCancelled
	}
	limit = max(0, min(limit, len(acc)))
	r.opts.OnPartial(slices.Clone(acc[:limit]), done)
	return nil
}

// Sort orders items without modifying the input slice. On cancellation it
// returns the partial accumulation alongside ErrCancelled; callers are
// expected to discard it.
func Sort[T any](ctx context.Context, items []T, opts Options[T]) ([]T, error) {
	opts.defaults()
	r := &runner[T]{ctx: ctx, opts: opts}

	if len(items) == 0 {
		if err := r.publish(nil, 0, true); err != nil {
			return nil, err
		}
		return []T{}, nil
	}

	first := min(opts.ChunkSize, len(items))
	acc := slices.Clone(items[:first])
	slices.SortStableFunc(acc, opts.Compare)

	if first == len(items) {
		if err := r.publish(acc, len(acc), true); err != nil {
			return acc, err
		}
		return acc, nil
	}
	if err := r.publish(acc, opts.InitialBatchSize, false); err != nil {
		return acc, err
	}

	limit := opts.InitialBatchSize
	for start := first; start < len(items); start += opts.ChunkSize {
		if err := r.yield(); err != nil {
			return acc, err
		}

		end := min(start+opts.ChunkSize, len(items))
		chunk := slices.Clone(items[start:end])
		slices.SortStableFunc(chunk, opts.Compare)

		merged, err := r.merge(acc, chunk)
		if err != nil {
			return acc, err
		}
		acc = merged

		if end == len(items) {
			break
		}
		limit = min(limit*2, len(items))
		if err := r.publish(acc, limit, false); err != nil {
			return acc, err
		}
	}

	if err := r.publish(acc, len(acc), true); err != nil {
		return acc, err
	}
	return acc, nil
}

// merge is a two-pointer merge; ties keep the left (earlier) element first
func (r *runner[T]) merge(left, right []T) ([]T, error) {
	out := make([]T, 0, len(left)+len(right))
	i, j := 0, 0
	for i < len(left) && j < len(right) {
		if r.opts.Compare(left[i], right[j]) <= 0 {
			out = append(out, left[i])
			i++
		} else {
			out = append(out, right[j])
			j++
		}
		if err := r.tick(1); err != nil {
			return left, err
		}
	}
	out = append(out, left[i:]...)
	out = append(out, right[j:]...)
	if err := r.tick(len(left) - i + len(right) - j); err != nil {
		return left, err
	}
	return out, nil
}
