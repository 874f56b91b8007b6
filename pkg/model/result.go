package model

// Sample is the state of the system at one instant.
type Sample struct {
	Time  float64   `json:"Time" msgpack:"time"`
	State []float64 `json:"State" msgpack:"state"`
}

// Trajectory is the output of one task. A failed task still produces a trajectory,
// with Successful unset and Error filled, so that a batch always accounts for every task.
type Trajectory struct {
	TaskID         int64    `json:"TaskID" msgpack:"task_id"`
	Samples        []Sample `json:"Samples" msgpack:"samples"`
	Start          float64  `json:"Start" msgpack:"start"`
	End            float64  `json:"End" msgpack:"end"`
	Successful     bool     `json:"Successful" msgpack:"successful"`
	GenerationTime int64    `json:"GenerationTime" msgpack:"generation_time"` // ns
	Error          string   `json:"Error,omitempty" msgpack:"error"`
}

func (t *Trajectory) Size() int {
	return len(t.Samples)
}

func FailedTrajectory(taskID int64, err error) Trajectory {
	return Trajectory{TaskID: taskID, Successful: false, Error: err.Error()}
}

// ComputationResult carries the trajectories of a NetworkTask or of part of one.
type ComputationResult struct {
	Trajectories []Trajectory `json:"Trajectories" msgpack:"trajectories"`
}

func NewComputationResult(trajectories ...Trajectory) *ComputationResult {
	return &ComputationResult{Trajectories: trajectories}
}

func (r *ComputationResult) Size() int {
	return len(r.Trajectories)
}

// Merge appends the trajectories of other.
func (r *ComputationResult) Merge(other *ComputationResult) {
	if other == nil {
		return
	}
	r.Trajectories = append(r.Trajectories, other.Trajectories...)
}

func (r *ComputationResult) Failed() int {
	n := 0
	for i := range r.Trajectories {
		if !r.Trajectories[i].Successful {
			n++
		}
	}
	return n
}
