package provision

import (
	"context"

	"compute-grid/pkg/model"
)

// Model is an executable model definition: given the shared unit and one task descriptor it
// produces that task's trajectory. Implementations must be safe for concurrent use.
type Model interface {
	Name() string
	Execute(ctx context.Context, unit model.SimulationUnit, task model.TaskDescriptor) (model.Trajectory, error)
}

// Compiler turns provisioned code into a Model.
type Compiler interface {
	Compile(name string, code []byte) (Model, error)
}

// FuncModel adapts a plain function to Model.
type FuncModel struct {
	ModelName string
	Fn        func(ctx context.Context, unit model.SimulationUnit, task model.TaskDescriptor) (model.Trajectory, error)
}

func (m FuncModel) Name() string { return m.ModelName }

func (m FuncModel) Execute(ctx context.Context, unit model.SimulationUnit, task model.TaskDescriptor) (model.Trajectory, error) {
	return m.Fn(ctx, unit, task)
}
