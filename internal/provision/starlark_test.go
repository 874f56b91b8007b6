package provision

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-grid/pkg/model"
)

const walkModel = `
def simulate(rng, deadline, params):
    step = params.get("step", 1.0)
    x = 0.0
    t = 0.0
    out = [(t, x)]
    while t < deadline:
        t += 1
        if rng.uniform() < 0.5:
            x -= step
        else:
            x += step
        out.append((t, [x, rng.randint(1, 6), rng.normal(0, 1)]))
    return out
`

func compile(t *testing.T, code string) Model {
	t.Helper()
	m, err := NewStarlarkCompiler(nil).Compile("test", []byte(code))
	require.NoError(t, err)
	return m
}

func TestStarlarkExecute(t *testing.T) {
	m := compile(t, walkModel)
	unit := model.SimulationUnit{Model: "test", Deadline: 10, Params: map[string]float64{"step": 2}}

	tr, err := m.Execute(context.Background(), unit, model.TaskDescriptor{ID: 3, Seed: 42})
	require.NoError(t, err)
	assert.Equal(t, int64(3), tr.TaskID)
	assert.True(t, tr.Successful)
	require.Len(t, tr.Samples, 11)
	assert.Equal(t, []float64{0}, tr.Samples[0].State)
	assert.Len(t, tr.Samples[1].State, 3)
	assert.Equal(t, 0.0, tr.Start)
	assert.Equal(t, 10.0, tr.End)
	assert.Positive(t, tr.GenerationTime)

	for _, s := range tr.Samples[1:] {
		assert.Zero(t, math.Mod(s.State[0], 2))
		assert.GreaterOrEqual(t, s.State[1], 1.0)
		assert.LessOrEqual(t, s.State[1], 6.0)
	}
}

func TestStarlarkDeterministicPerSeed(t *testing.T) {
	m := compile(t, walkModel)
	unit := model.SimulationUnit{Deadline: 50}

	a, err := m.Execute(context.Background(), unit, model.TaskDescriptor{ID: 1, Seed: 7})
	require.NoError(t, err)
	b, err := m.Execute(context.Background(), unit, model.TaskDescriptor{ID: 1, Seed: 7})
	require.NoError(t, err)
	c, err := m.Execute(context.Background(), unit, model.TaskDescriptor{ID: 1, Seed: 8})
	require.NoError(t, err)

	assert.Equal(t, a.Samples, b.Samples)
	assert.NotEqual(t, a.Samples, c.Samples)
}

func TestStarlarkCompileErrors(t *testing.T) {
	c := NewStarlarkCompiler(nil)

	_, err := c.Compile("syntax", []byte("def simulate(:\n"))
	assert.Error(t, err)

	_, err = c.Compile("nosim", []byte("def other(rng, deadline, params):\n    return []\n"))
	assert.ErrorContains(t, err, "simulate")

	_, err = c.Compile("notfunc", []byte("simulate = 3\n"))
	assert.Error(t, err)
}

func TestStarlarkBadResults(t *testing.T) {
	cases := map[string]string{
		"not a list":   "def simulate(rng, deadline, params):\n    return 3\n",
		"not a pair":   "def simulate(rng, deadline, params):\n    return [(1, 2, 3)]\n",
		"bad time":     "def simulate(rng, deadline, params):\n    return [('a', 2)]\n",
		"bad state":    "def simulate(rng, deadline, params):\n    return [(1, 'x')]\n",
		"bad element":  "def simulate(rng, deadline, params):\n    return [(1, [1, 'x'])]\n",
		"script fails": "def simulate(rng, deadline, params):\n    return 1 // 0\n",
		"bad rate":     "def simulate(rng, deadline, params):\n    return [(rng.expovariate(0), 1)]\n",
		"bad randint":  "def simulate(rng, deadline, params):\n    return [(rng.randint(5, 1), 1)]\n",
	}
	for name, code := range cases {
		m := compile(t, code)
		_, err := m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{})
		assert.Error(t, err, name)
	}
}

func TestStarlarkRandintBounds(t *testing.T) {
	for name, bounds := range map[string]string{
		"whole int64": "-9223372036854775807 - 1, 9223372036854775807",
		"max span":    "0, 9223372036854775807",
		"too big":     "0, 9223372036854775808",
	} {
		m := compile(t, "def simulate(rng, deadline, params):\n    return [(0, rng.randint("+bounds+"))]\n")
		_, err := m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{Seed: 1})
		assert.Error(t, err, name)
	}

	m := compile(t, "def simulate(rng, deadline, params):\n    return [(0, rng.randint(9223372036854775806, 9223372036854775807)), (1, rng.randint(-3, -3))]\n")
	tr, err := m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{Seed: 1})
	require.NoError(t, err)
	require.Len(t, tr.Samples, 2)
	assert.GreaterOrEqual(t, tr.Samples[0].State[0], float64(math.MaxInt64-1))
	assert.Equal(t, []float64{-3}, tr.Samples[1].State)
}

func TestStarlarkParamsAreFloats(t *testing.T) {
	m := compile(t, "def simulate(rng, deadline, params):\n    return [(0, [params['a'], params['b'], len(params)])]\n")
	unit := model.SimulationUnit{Params: map[string]float64{"b": 2.5, "a": -1}}
	tr, err := m.Execute(context.Background(), unit, model.TaskDescriptor{})
	require.NoError(t, err)
	assert.Equal(t, []float64{-1, 2.5, 2}, tr.Samples[0].State)

	tr, err = m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{})
	assert.Error(t, err)
	assert.Empty(t, tr.Samples)
}

func TestStarlarkEmptyResult(t *testing.T) {
	m := compile(t, "def simulate(rng, deadline, params):\n    return []\n")
	tr, err := m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{ID: 9})
	require.NoError(t, err)
	assert.True(t, tr.Successful)
	assert.Empty(t, tr.Samples)
}

const spinModel = `
def simulate(rng, deadline, params):
    x = 0
    while True:
        x += 1
    return []
`

func TestStarlarkCancel(t *testing.T) {
	m := compile(t, spinModel)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Execute(ctx, model.SimulationUnit{}, model.TaskDescriptor{})
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStarlarkStepBudget(t *testing.T) {
	c := NewStarlarkCompiler(nil)
	c.MaxSteps = 10_000
	m, err := c.Compile("spin", []byte(spinModel))
	require.NoError(t, err)

	_, err = m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{})
	assert.Error(t, err)
}

func TestStarlarkFrozenGlobals(t *testing.T) {
	m := compile(t, "acc = []\ndef simulate(rng, deadline, params):\n    acc.append(1)\n    return []\n")
	_, err := m.Execute(context.Background(), model.SimulationUnit{}, model.TaskDescriptor{})
	assert.Error(t, err)
}

func TestShippedModels(t *testing.T) {
	for _, path := range []string{"../../scripts/models/birth_death.star", "../../scripts/models/sir.star"} {
		code, err := os.ReadFile(path)
		require.NoError(t, err)
		m, err := NewStarlarkCompiler(nil).Compile("shipped", code)
		require.NoError(t, err, path)

		tr, err := m.Execute(context.Background(), model.SimulationUnit{Deadline: 20}, model.TaskDescriptor{ID: 1, Seed: 1})
		require.NoError(t, err, path)
		assert.True(t, tr.Successful)
		assert.NotEmpty(t, tr.Samples)
		assert.LessOrEqual(t, tr.End, 20.0)
	}
}
