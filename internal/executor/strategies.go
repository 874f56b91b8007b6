package executor

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"compute-grid/internal/logger"
	"compute-grid/internal/provision"
	"compute-grid/pkg/model"
)

// Sequential runs the tasks in order on the calling goroutine and emits one result.
type Sequential struct {
	Log *zap.Logger
}

func (s *Sequential) Type() Type { return SEQUENTIAL }

func (s *Sequential) Run(ctx context.Context, task model.NetworkTask, m provision.Model, emit Emit) error {
	log := logger.OrNop(s.Log)
	trajectories := make([]model.Trajectory, 0, len(task.Tasks))
	for _, d := range task.Tasks {
		trajectories = append(trajectories, execute(ctx, m, task.Unit, d, log))
	}
	return emit(model.NewComputationResult(trajectories...))
}

// Multithreaded submits every task to the pool, waits for all of them and emits one result
// in completion order.
type Multithreaded struct {
	Pool *Pool
	Log  *zap.Logger
}

func (s *Multithreaded) Type() Type { return MULTITHREADED }

func (s *Multithreaded) Run(ctx context.Context, task model.NetworkTask, m provision.Model, emit Emit) error {
	log := logger.OrNop(s.Log)
	var (
		mu           sync.Mutex
		wg           sync.WaitGroup
		trajectories = make([]model.Trajectory, 0, len(task.Tasks))
	)
	collect := func(tr model.Trajectory) {
		mu.Lock()
		trajectories = append(trajectories, tr)
		mu.Unlock()
	}

	for _, d := range task.Tasks {
		d := d
		wg.Add(1)
		err := s.Pool.Go(ctx, func() {
			defer wg.Done()
			collect(execute(ctx, m, task.Unit, d, log))
		})
		if err != nil {
			wg.Done()
			collect(model.FailedTrajectory(d.ID, err))
		}
	}
	wg.Wait()

	return emit(model.NewComputationResult(trajectories...))
}

// Streaming runs a producer that pushes finished trajectories into a bounded queue while the
// consumer emits whatever has accumulated, one result per non-empty drain. The consumer
// stops once the producer closed the queue and the queue is empty. With a Pool the producer
// runs tasks concurrently, otherwise in order.
type Streaming struct {
	Pool      *Pool
	QueueSize int
	Log       *zap.Logger
}

func (s *Streaming) Type() Type { return STREAMING }

func (s *Streaming) Run(ctx context.Context, task model.NetworkTask, m provision.Model, emit Emit) error {
	log := logger.OrNop(s.Log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	size := s.QueueSize
	if size <= 0 {
		size = 1
	}
	queue := make(chan model.Trajectory, size)

	go func() {
		defer close(queue)
		if s.Pool == nil {
			for _, d := range task.Tasks {
				queue <- execute(ctx, m, task.Unit, d, log)
			}
			return
		}
		var wg sync.WaitGroup
		for _, d := range task.Tasks {
			d := d
			wg.Add(1)
			err := s.Pool.Go(ctx, func() {
				defer wg.Done()
				queue <- execute(ctx, m, task.Unit, d, log)
			})
			if err != nil {
				wg.Done()
				queue <- model.FailedTrajectory(d.ID, err)
			}
		}
		wg.Wait()
	}()

	var emitErr error
	for {
		tr, ok := <-queue
		if !ok {
			return emitErr
		}
		batch := []model.Trajectory{tr}
		closed := false
	drain:
		for {
			select {
			case tr, ok := <-queue:
				if !ok {
					closed = true
					break drain
				}
				batch = append(batch, tr)
			default:
				break drain
			}
		}

		if emitErr == nil {
			if err := emit(model.NewComputationResult(batch...)); err != nil {
				// keep draining so the producer can finish, but stop scheduling work
				emitErr = err
				cancel()
				log.Warn("emit failed, cancelling batch", zap.Error(err))
			}
		}
		if closed {
			return emitErr
		}
	}
}

// SingleTrajectorySequential emits one result per task, in order.
type SingleTrajectorySequential struct {
	Log *zap.Logger
}

func (s *SingleTrajectorySequential) Type() Type { return SINGLE_TRAJECTORY_SEQUENTIAL }

func (s *SingleTrajectorySequential) Run(ctx context.Context, task model.NetworkTask, m provision.Model, emit Emit) error {
	log := logger.OrNop(s.Log)
	for _, d := range task.Tasks {
		if err := emit(model.NewComputationResult(execute(ctx, m, task.Unit, d, log))); err != nil {
			return err
		}
	}
	return nil
}

// SingleTrajectoryMultithreaded runs tasks on the pool and emits one result per task as
// each one completes. Emission happens on the calling goroutine only.
type SingleTrajectoryMultithreaded struct {
	Pool *Pool
	Log  *zap.Logger
}

func (s *SingleTrajectoryMultithreaded) Type() Type { return SINGLE_TRAJECTORY_MULTITHREADED }

func (s *SingleTrajectoryMultithreaded) Run(ctx context.Context, task model.NetworkTask, m provision.Model, emit Emit) error {
	log := logger.OrNop(s.Log)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan model.Trajectory, len(task.Tasks))
	go func() {
		for _, d := range task.Tasks {
			d := d
			err := s.Pool.Go(ctx, func() {
				done <- execute(ctx, m, task.Unit, d, log)
			})
			if err != nil {
				done <- model.FailedTrajectory(d.ID, err)
			}
		}
	}()

	var emitErr error
	for range task.Tasks {
		tr := <-done
		if emitErr != nil {
			continue
		}
		if err := emit(model.NewComputationResult(tr)); err != nil {
			emitErr = err
			cancel()
			log.Warn("emit failed, cancelling batch", zap.Error(err))
		}
	}
	return emitErr
}
