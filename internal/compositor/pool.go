package compositor

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool limits how many compositions run at once. Callers run the work on
// their own goroutine; Pool only gates entry.
type Pool struct {
	sem *semaphore.Weighted
}

func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(workers))}
}

// Do waits for a free slot and runs fn in it. It returns ctx.Err() without
// calling fn if the context ends while waiting.
func (p *Pool) Do(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	fn()
	return nil
}

// Compose runs Compose inside a pool slot.
func (p *Pool) Compose(ctx context.Context, raw []byte, ov *Overlay, lim Limits) ([]byte, error) {
	var (
		out  []byte
		cerr error
	)
	if err := p.Do(ctx, func() { out, cerr = Compose(raw, ov, lim) }); err != nil {
		return nil, err
	}
	return out, cerr
}
