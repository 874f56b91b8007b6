package master

import (
	"context"
	"sync"

	"github.com/gammazero/deque"

	"compute-grid/pkg/model"
)

// taskQueue holds the tasks of a job that no slave is working on. Tasks taken by a slave
// are outstanding until they are completed or put back.
type taskQueue struct {
	mu          sync.Mutex
	pending     deque.Deque[model.TaskDescriptor]
	outstanding int
	done        map[int64]struct{}
	total       int
	wake        chan struct{}
}

func newTaskQueue(tasks []model.TaskDescriptor) *taskQueue {
	q := &taskQueue{
		done:  make(map[int64]struct{}, len(tasks)),
		total: len(tasks),
		wake:  make(chan struct{}),
	}
	for _, t := range tasks {
		q.pending.PushBack(t)
	}
	return q
}

// broadcast must be called with mu held.
func (q *taskQueue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// take removes up to n tasks. It blocks while the queue is empty but other slaves still
// hold tasks that may come back, and returns false once every task is done.
func (q *taskQueue) take(ctx context.Context, n int) ([]model.TaskDescriptor, bool) {
	for {
		q.mu.Lock()
		if q.pending.Len() > 0 {
			if n > q.pending.Len() {
				n = q.pending.Len()
			}
			batch := make([]model.TaskDescriptor, 0, n)
			for range n {
				batch = append(batch, q.pending.PopFront())
			}
			q.outstanding += n
			q.mu.Unlock()
			return batch, true
		}
		if q.outstanding == 0 {
			q.mu.Unlock()
			return nil, false
		}
		wake := q.wake
		q.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
			return nil, false
		}
	}
}

// complete settles a batch taken earlier against the trajectories a slave returned.
// It returns the trajectories of tasks that were not done before; tasks of the batch
// without a trajectory go back to the queue.
func (q *taskQueue) complete(batch []model.TaskDescriptor, trajectories []model.Trajectory) []model.Trajectory {
	q.mu.Lock()
	defer q.mu.Unlock()

	inBatch := make(map[int64]struct{}, len(batch))
	for _, t := range batch {
		inBatch[t.ID] = struct{}{}
	}

	fresh := make([]model.Trajectory, 0, len(trajectories))
	for _, t := range trajectories {
		if _, ok := inBatch[t.TaskID]; !ok {
			continue
		}
		delete(inBatch, t.TaskID)
		if _, ok := q.done[t.TaskID]; ok {
			continue
		}
		q.done[t.TaskID] = struct{}{}
		fresh = append(fresh, t)
	}
	for _, t := range batch {
		if _, missing := inBatch[t.ID]; missing {
			q.pending.PushBack(t)
		}
	}
	q.outstanding -= len(batch)
	q.broadcast()
	return fresh
}

// requeue puts a whole batch back.
func (q *taskQueue) requeue(batch []model.TaskDescriptor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range batch {
		q.pending.PushBack(t)
	}
	q.outstanding -= len(batch)
	q.broadcast()
}

func (q *taskQueue) finished() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.done) == q.total
}

func (q *taskQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.total - len(q.done)
}
