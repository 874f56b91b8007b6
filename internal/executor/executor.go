package executor

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"compute-grid/internal/provision"
	"compute-grid/pkg/model"
)

// Emit delivers a result to the peer. An error means the peer is gone.
type Emit func(*model.ComputationResult) error

// Strategy runs every task of a batch and hands results to emit. Whatever the strategy,
// the emitted trajectories together hold exactly one trajectory per task.
type Strategy interface {
	Type() Type
	Run(ctx context.Context, task model.NetworkTask, m provision.Model, emit Emit) error
}

type Type uint8

const (
	SEQUENTIAL Type = iota
	MULTITHREADED
	STREAMING
	SINGLE_TRAJECTORY_SEQUENTIAL
	SINGLE_TRAJECTORY_MULTITHREADED
)

var typeStr = []string{
	"SEQUENTIAL",
	"MULTITHREADED",
	"STREAMING",
	"SINGLE_TRAJECTORY_SEQUENTIAL",
	"SINGLE_TRAJECTORY_MULTITHREADED",
}

func (t Type) String() string {
	if int(t) < len(typeStr) {
		return typeStr[t]
	}
	return fmt.Sprintf("executor.Type(%d)", uint8(t))
}

func ParseType(s string) (Type, error) {
	for i, name := range typeStr {
		if strings.EqualFold(name, s) {
			return Type(i), nil
		}
	}
	return 0, fmt.Errorf("unknown executor %q", s)
}

func Types() []Type {
	return []Type{SEQUENTIAL, MULTITHREADED, STREAMING, SINGLE_TRAJECTORY_SEQUENTIAL, SINGLE_TRAJECTORY_MULTITHREADED}
}

// New builds a strategy. pool is required by the multithreaded ones and used by STREAMING
// when present; queueSize bounds the STREAMING hand-off queue.
func New(t Type, pool *Pool, queueSize int, log *zap.Logger) (Strategy, error) {
	switch t {
	case SEQUENTIAL:
		return &Sequential{Log: log}, nil
	case MULTITHREADED:
		if pool == nil {
			return nil, fmt.Errorf("%s needs a task pool", t)
		}
		return &Multithreaded{Pool: pool, Log: log}, nil
	case STREAMING:
		return &Streaming{Pool: pool, QueueSize: queueSize, Log: log}, nil
	case SINGLE_TRAJECTORY_SEQUENTIAL:
		return &SingleTrajectorySequential{Log: log}, nil
	case SINGLE_TRAJECTORY_MULTITHREADED:
		if pool == nil {
			return nil, fmt.Errorf("%s needs a task pool", t)
		}
		return &SingleTrajectoryMultithreaded{Pool: pool, Log: log}, nil
	default:
		return nil, fmt.Errorf("unknown executor %s", t)
	}
}

// execute runs one task. Errors and panics inside the model become a failed trajectory.
func execute(ctx context.Context, m provision.Model, unit model.SimulationUnit, d model.TaskDescriptor, log *zap.Logger) (tr model.Trajectory) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.Error("model panicked",
					zap.String("model", unit.Model),
					zap.Int64("task", d.ID),
					zap.Any("panic", r),
					zap.ByteString("stack", debug.Stack()),
				)
			}
			tr = model.FailedTrajectory(d.ID, fmt.Errorf("panic: %v", r))
			tr.GenerationTime = time.Since(start).Nanoseconds()
		}
	}()

	if err := ctx.Err(); err != nil {
		return model.FailedTrajectory(d.ID, err)
	}
	tr, err := m.Execute(ctx, unit, d)
	if err != nil {
		tr = model.FailedTrajectory(d.ID, err)
		tr.GenerationTime = time.Since(start).Nanoseconds()
		return tr
	}
	tr.TaskID = d.ID
	return tr
}
