package provision

import (
	"context"
	"fmt"
	stdmath "math"
	"math/rand"
	"sort"
	"time"

	"github.com/pkg/errors"
	"go.starlark.net/lib/math"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
	"go.uber.org/zap"

	"compute-grid/internal/logger"
	"compute-grid/pkg/model"
)

const (
	SimulateFunc = "simulate"

	defaultMaxSteps = 50_000_000
)

var fileOptions = &syntax.FileOptions{
	While:           true,
	Set:             true,
	GlobalReassign:  true,
	TopLevelControl: true,
}

// StarlarkCompiler compiles model modules written in Starlark. A module must define
//
//	def simulate(rng, deadline, params): ...
//
// returning a list of (time, state) pairs, state being a number or a list of numbers.
type StarlarkCompiler struct {
	// MaxSteps bounds every execution; zero means the default budget.
	MaxSteps uint64
	Log      *zap.Logger
}

func NewStarlarkCompiler(log *zap.Logger) *StarlarkCompiler {
	return &StarlarkCompiler{MaxSteps: defaultMaxSteps, Log: logger.OrNop(log).Named("starlark")}
}

func (c *StarlarkCompiler) Compile(name string, code []byte) (Model, error) {
	log := logger.OrNop(c.Log)
	thread := &starlark.Thread{
		Name: "provision:" + name,
		Print: func(_ *starlark.Thread, msg string) {
			log.Debug("[SCRIPT][INIT]", zap.String("model", name), zap.String("msg", msg))
		},
	}
	thread.SetMaxExecutionSteps(c.maxSteps())

	predeclared := starlark.StringDict{
		"math": math.Module,
	}
	globals, err := starlark.ExecFileOptions(fileOptions, thread, name+".star", code, predeclared)
	if err != nil {
		return nil, errors.Wrap(err, "script error")
	}

	fn, ok := globals[SimulateFunc].(starlark.Callable)
	if !ok {
		return nil, fmt.Errorf("module %q does not define %s(rng, deadline, params)", name, SimulateFunc)
	}
	globals.Freeze()

	return &starlarkModel{name: name, simulate: fn, maxSteps: c.maxSteps(), log: log}, nil
}

func (c *StarlarkCompiler) maxSteps() uint64 {
	if c.MaxSteps == 0 {
		return defaultMaxSteps
	}
	return c.MaxSteps
}

type starlarkModel struct {
	name     string
	simulate starlark.Callable
	maxSteps uint64
	log      *zap.Logger
}

func (m *starlarkModel) Name() string { return m.name }

func (m *starlarkModel) Execute(ctx context.Context, unit model.SimulationUnit, task model.TaskDescriptor) (model.Trajectory, error) {
	start := time.Now()

	thread := &starlark.Thread{
		Name: fmt.Sprintf("%s#%d", m.name, task.ID),
		Print: func(_ *starlark.Thread, msg string) {
			m.log.Debug("[SCRIPT][SIMULATE]", zap.String("model", m.name), zap.Int64("task", task.ID), zap.String("msg", msg))
		},
	}
	thread.SetMaxExecutionSteps(m.maxSteps)
	stop := context.AfterFunc(ctx, func() { thread.Cancel(ctx.Err().Error()) })
	defer stop()

	args := starlark.Tuple{
		newRNG(task.Seed),
		starlark.Float(unit.Deadline),
		paramsDict(unit.Params),
	}
	result, err := starlark.Call(thread, m.simulate, args, nil)
	if err != nil {
		return model.Trajectory{}, errors.Wrap(err, "script error while calling")
	}

	samples, err := toSamples(result)
	if err != nil {
		return model.Trajectory{}, err
	}

	tr := model.Trajectory{
		TaskID:         task.ID,
		Samples:        samples,
		Successful:     true,
		GenerationTime: time.Since(start).Nanoseconds(),
	}
	if len(samples) > 0 {
		tr.Start = samples[0].Time
		tr.End = samples[len(samples)-1].Time
	}
	return tr, nil
}

// paramsDict exposes the unit parameters to simulate as a dict of floats.
func paramsDict(params map[string]float64) *starlark.Dict {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	dict := starlark.NewDict(len(params))
	for _, k := range keys {
		_ = dict.SetKey(starlark.String(k), starlark.Float(params[k]))
	}
	return dict
}

// toSamples reads the list of (time, state) pairs returned by simulate.
func toSamples(v starlark.Value) ([]model.Sample, error) {
	raw, err := convertToGoType(v)
	if err != nil {
		return nil, err
	}
	points, ok := raw.([]interface{})
	if !ok {
		if raw == nil {
			return nil, nil
		}
		return nil, fmt.Errorf("%s must return a list, got %s", SimulateFunc, v.Type())
	}

	samples := make([]model.Sample, 0, len(points))
	for i, p := range points {
		pair, ok := p.([]interface{})
		if !ok || len(pair) != 2 {
			return nil, fmt.Errorf("sample %d is not a (time, state) pair", i)
		}
		t, ok := toFloat(pair[0])
		if !ok {
			return nil, fmt.Errorf("sample %d: time is not a number", i)
		}
		state, err := toState(pair[1])
		if err != nil {
			return nil, fmt.Errorf("sample %d: %v", i, err)
		}
		samples = append(samples, model.Sample{Time: t, State: state})
	}
	return samples, nil
}

func toState(v interface{}) ([]float64, error) {
	if f, ok := toFloat(v); ok {
		return []float64{f}, nil
	}
	list, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("state must be a number or a list of numbers")
	}
	state := make([]float64, len(list))
	for i, x := range list {
		f, ok := toFloat(x)
		if !ok {
			return nil, fmt.Errorf("state[%d] is not a number", i)
		}
		state[i] = f
	}
	return state, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch v := v.(type) {
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}

func convertToGoType(v starlark.Value) (interface{}, error) {
	switch v := v.(type) {
	case starlark.NoneType:
		return nil, nil
	case starlark.Bool:
		return bool(v), nil
	case starlark.Int:
		if i, ok := v.Int64(); ok {
			return i, nil
		}
		return nil, fmt.Errorf("integer out of range")
	case starlark.Float:
		return float64(v), nil
	case starlark.String:
		return string(v), nil
	case starlark.Tuple:
		result := make([]interface{}, 0, len(v))
		for _, elem := range v {
			goVal, err := convertToGoType(elem)
			if err != nil {
				return nil, err
			}
			result = append(result, goVal)
		}
		return result, nil
	case *starlark.List:
		result := make([]interface{}, 0, v.Len())
		iter := v.Iterate()
		defer iter.Done()
		var elem starlark.Value
		for iter.Next(&elem) {
			goVal, err := convertToGoType(elem)
			if err != nil {
				return nil, err
			}
			result = append(result, goVal)
		}
		return result, nil
	case *starlark.Dict:
		result := make(map[string]interface{})
		for _, key := range v.Keys() {
			keyStr, ok := key.(starlark.String)
			if !ok {
				return nil, fmt.Errorf("non-string key in dict")
			}
			val, _, _ := v.Get(key)
			goVal, err := convertToGoType(val)
			if err != nil {
				return nil, err
			}
			result[string(keyStr)] = goVal
		}
		return result, nil
	default:
		return nil, fmt.Errorf("unsupported Starlark type: %T", v)
	}
}

// rng is the random source handed to simulate. One per task, seeded with the task seed.
type rng struct {
	r *rand.Rand
}

var _ starlark.HasAttrs = (*rng)(nil)

func newRNG(seed int64) *rng {
	return &rng{r: rand.New(rand.NewSource(seed))}
}

func (g *rng) String() string        { return "<rng>" }
func (g *rng) Type() string          { return "rng" }
func (g *rng) Freeze()               {}
func (g *rng) Truth() starlark.Bool  { return starlark.True }
func (g *rng) Hash() (uint32, error) { return 0, fmt.Errorf("unhashable type: rng") }

var rngMethods = []string{"expovariate", "normal", "randint", "uniform"}

func (g *rng) AttrNames() []string { return rngMethods }

func (g *rng) Attr(name string) (starlark.Value, error) {
	switch name {
	case "uniform":
		return starlark.NewBuiltin("uniform", g.uniform), nil
	case "expovariate":
		return starlark.NewBuiltin("expovariate", g.expovariate), nil
	case "randint":
		return starlark.NewBuiltin("randint", g.randint), nil
	case "normal":
		return starlark.NewBuiltin("normal", g.normal), nil
	}
	return nil, nil
}

func (g *rng) uniform(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 0); err != nil {
		return nil, err
	}
	return starlark.Float(g.r.Float64()), nil
}

func (g *rng) expovariate(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var rate starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 1, &rate); err != nil {
		return nil, err
	}
	r, ok := starlark.AsFloat(rate)
	if !ok || r <= 0 {
		return nil, fmt.Errorf("%s: rate must be a positive number", b.Name())
	}
	return starlark.Float(g.r.ExpFloat64() / r), nil
}

func (g *rng) randint(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var loV, hiV starlark.Int
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &loV, &hiV); err != nil {
		return nil, err
	}
	lo, ok1 := loV.Int64()
	hi, ok2 := hiV.Int64()
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: bounds out of range", b.Name())
	}
	if hi < lo {
		return nil, fmt.Errorf("%s: empty range [%d, %d]", b.Name(), lo, hi)
	}
	span := hi - lo
	if span < 0 || span == stdmath.MaxInt64 {
		return nil, fmt.Errorf("%s: range [%d, %d] is too wide", b.Name(), lo, hi)
	}
	return starlark.MakeInt64(lo + g.r.Int63n(span+1)), nil
}

func (g *rng) normal(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var mu, sigma starlark.Value
	if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &mu, &sigma); err != nil {
		return nil, err
	}
	m, ok1 := starlark.AsFloat(mu)
	s, ok2 := starlark.AsFloat(sigma)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("%s: arguments must be numbers", b.Name())
	}
	return starlark.Float(m + s*g.r.NormFloat64()), nil
}
