package master

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"compute-grid/internal/logger"
	"compute-grid/pkg/model"
)

// Aggregator keeps running statistics over every trajectory of a job: success counts and
// the mean of the first state variable at each sample index.
type Aggregator struct {
	log *zap.Logger

	mu         sync.Mutex
	successful int
	failed     int
	sums       []float64
	counts     []int
	taskIDs    map[int64]struct{}
	done       bool
	err        error
}

func NewAggregator(log *zap.Logger) *Aggregator {
	return &Aggregator{
		log:     logger.OrNop(log).Named("aggregator"),
		taskIDs: make(map[int64]struct{}),
	}
}

func (a *Aggregator) HandleTrajectories(trajectories []model.Trajectory) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := range trajectories {
		t := &trajectories[i]
		a.taskIDs[t.TaskID] = struct{}{}
		if !t.Successful {
			a.failed++
			a.log.Debug("failed trajectory", zap.Int64("task", t.TaskID), zap.String("error", t.Error))
			continue
		}
		a.successful++
		for j, s := range t.Samples {
			if len(s.State) == 0 {
				continue
			}
			if j >= len(a.sums) {
				a.sums = append(a.sums, make([]float64, j+1-len(a.sums))...)
				a.counts = append(a.counts, make([]int, j+1-len(a.counts))...)
			}
			a.sums[j] += s.State[0]
			a.counts[j]++
		}
	}
}

func (a *Aggregator) Done() {
	a.mu.Lock()
	a.done = true
	successful, failed := a.successful, a.failed
	a.mu.Unlock()

	a.log.Info("[AGGREGATOR][DONE]", zap.Int("successful", successful), zap.Int("failed", failed))
}

func (a *Aggregator) Error(err error) {
	a.mu.Lock()
	a.err = err
	a.mu.Unlock()

	a.log.Error("[AGGREGATOR][ERROR]", zap.Error(err))
}

// Summary is a snapshot of the aggregate.
type Summary struct {
	Successful int       `json:"Successful"`
	Failed     int       `json:"Failed"`
	Mean       []float64 `json:"Mean"`
	TaskIDs    []int64   `json:"TaskIDs"`
	Done       bool      `json:"Done"`
	Error      string    `json:"Error,omitempty"`
}

func (a *Aggregator) Summary() Summary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := Summary{
		Successful: a.successful,
		Failed:     a.failed,
		Mean:       make([]float64, len(a.sums)),
		TaskIDs:    make([]int64, 0, len(a.taskIDs)),
		Done:       a.done,
	}
	for i := range a.sums {
		if a.counts[i] > 0 {
			s.Mean[i] = a.sums[i] / float64(a.counts[i])
		}
	}
	for id := range a.taskIDs {
		s.TaskIDs = append(s.TaskIDs, id)
	}
	sort.Slice(s.TaskIDs, func(i, j int) bool { return s.TaskIDs[i] < s.TaskIDs[j] })
	if a.err != nil {
		s.Error = a.err.Error()
	}
	return s
}
