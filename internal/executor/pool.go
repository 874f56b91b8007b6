package executor

import (
	"context"
	"runtime"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// Pool bounds how many tasks run at once across every session of the process.
type Pool struct {
	sem  *semaphore.Weighted
	size int

	inFlight  atomic.Int64
	peak      atomic.Int64
	completed atomic.Int64
}

func NewPool(size int) *Pool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Go waits for a free slot and runs fn on its own goroutine. It fails only when ctx ends
// before a slot frees up; fn is not run then.
func (p *Pool) Go(ctx context.Context, fn func()) error {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	n := p.inFlight.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	go func() {
		defer func() {
			p.inFlight.Add(-1)
			p.completed.Add(1)
			p.sem.Release(1)
		}()
		fn()
	}()
	return nil
}

func (p *Pool) Size() int { return p.size }

func (p *Pool) InFlight() int { return int(p.inFlight.Load()) }

// Peak is the highest number of tasks that ran at once.
func (p *Pool) Peak() int { return int(p.peak.Load()) }

func (p *Pool) Completed() int64 { return p.completed.Load() }
