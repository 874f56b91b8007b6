package master

import (
	"go.uber.org/zap"

	"compute-grid/pkg/model"
)

// ResultHandler receives the outcome of a job. The manager calls it from a single
// goroutine, so implementations need no locking of their own.
type ResultHandler interface {
	HandleTrajectories(trajectories []model.Trajectory)
	Done()
	Error(err error)
}

// LogHandler only logs what it receives.
type LogHandler struct {
	Log *zap.Logger
}

func (h LogHandler) HandleTrajectories(trajectories []model.Trajectory) {
	h.Log.Debug("trajectories received", zap.Int("count", len(trajectories)))
}

func (h LogHandler) Done() {
	h.Log.Info("job done")
}

func (h LogHandler) Error(err error) {
	h.Log.Error("job failed", zap.Error(err))
}
