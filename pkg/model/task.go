package model

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyTask   = errors.New("network task has no task descriptors")
	ErrNoModelName = errors.New("simulation unit has no model name")
)

// SimulationUnit is shared by every descriptor of a NetworkTask: which model to run
// and how long to simulate.
type SimulationUnit struct {
	Model    string             `json:"Model" msgpack:"model"`
	Deadline float64            `json:"Deadline" msgpack:"deadline"`
	Params   map[string]float64 `json:"Params,omitempty" msgpack:"params"`
}

// TaskDescriptor is one independent work unit.
type TaskDescriptor struct {
	ID   int64 `json:"ID" msgpack:"id"`
	Seed int64 `json:"Seed" msgpack:"seed"`
}

// NetworkTask is a batch of work units dispatched together to one slave.
type NetworkTask struct {
	Unit  SimulationUnit   `json:"Unit" msgpack:"unit"`
	Tasks []TaskDescriptor `json:"Tasks" msgpack:"tasks"`
}

func (t *NetworkTask) Size() int {
	return len(t.Tasks)
}

// Validate checks the batch invariants: non-empty and ids unique within the batch.
func (t *NetworkTask) Validate() error {
	if t.Unit.Model == "" {
		return ErrNoModelName
	}
	if len(t.Tasks) == 0 {
		return ErrEmptyTask
	}
	seen := make(map[int64]struct{}, len(t.Tasks))
	for _, d := range t.Tasks {
		if _, ok := seen[d.ID]; ok {
			return fmt.Errorf("duplicate task id %d in batch", d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	return nil
}
