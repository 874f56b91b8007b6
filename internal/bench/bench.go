// Package bench measures batch latency and payload size of every executor, codec and
// compression combination over a loopback grid.
package bench

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/executor"
	"compute-grid/internal/logger"
	"compute-grid/internal/master"
	"compute-grid/internal/provision"
	"compute-grid/internal/server"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

// SyntheticModel is a random walk sampled at exponential times.
const SyntheticModel = `
def simulate(rng, deadline, params):
    x = params.get("x0", 0.0)
    t = 0.0
    out = [(t, x)]
    while t < deadline:
        t += rng.expovariate(params.get("rate", 1.0))
        x += rng.normal(0, 1)
        out.append((t, x))
    return out
`

type Config struct {
	Executors    []executor.Type
	Codecs       []string
	Compressions []string

	Batches   int
	BatchSize int
	Deadline  float64
	Params    map[string]float64

	ModelName string
	Code      []byte
	PoolSize  int
	QueueSize int
	Timeout   time.Duration

	Log *zap.Logger
}

func DefaultConfig() Config {
	return Config{
		Executors:    executor.Types(),
		Codecs:       []string{codec.DEFAULT.String(), codec.FST.String(), codec.CUSTOM.String()},
		Compressions: []string{"none", "zstd", "brotli"},
		Batches:      20,
		BatchSize:    50,
		Deadline:     50,
		ModelName:    "synthetic",
		Code:         []byte(SyntheticModel),
		QueueSize:    64,
		Timeout:      time.Minute,
	}
}

// Result is one row of the matrix.
type Result struct {
	Executor     string        `json:"executor"`
	Codec        string        `json:"codec"`
	Compression  string        `json:"compression"`
	Batches      int           `json:"batches"`
	Trajectories int           `json:"trajectories"`
	Failed       int           `json:"failed"`
	Bytes        int64         `json:"bytes"`
	Elapsed      time.Duration `json:"elapsed"`
	P50          time.Duration `json:"p50"`
	P90          time.Duration `json:"p90"`
	P99          time.Duration `json:"p99"`
	Max          time.Duration `json:"max"`
	Throughput   float64       `json:"throughput"` // trajectories/s
}

// Run benchmarks every combination in turn.
func Run(ctx context.Context, cfg Config) ([]Result, error) {
	log := logger.OrNop(cfg.Log).Named("bench")
	results := make([]Result, 0, len(cfg.Executors)*len(cfg.Codecs)*len(cfg.Compressions))

	for _, et := range cfg.Executors {
		for _, c := range cfg.Codecs {
			for _, comp := range cfg.Compressions {
				if err := ctx.Err(); err != nil {
					return results, err
				}
				pipe, err := codec.NewPipelineByName(c, comp)
				if err != nil {
					return results, err
				}
				r, err := runOne(ctx, cfg, et, pipe, log)
				if err != nil {
					return results, fmt.Errorf("%s %s: %w", et, pipe, err)
				}
				log.Info("[BENCH] combination done",
					zap.Stringer("executor", et),
					zap.Stringer("pipeline", pipe),
					zap.Duration("p50", r.P50),
					zap.Float64("throughput", r.Throughput),
				)
				results = append(results, r)
			}
		}
	}
	return results, nil
}

func runOne(ctx context.Context, cfg Config, et executor.Type, pipe *codec.Pipeline, log *zap.Logger) (Result, error) {
	pool := executor.NewPool(cfg.PoolSize)
	strategy, err := executor.New(et, pool, cfg.QueueSize, log)
	if err != nil {
		return Result{}, err
	}
	tm := transport.NewManager(model.TRANSPORT_DEFAULT)
	srv := server.New(server.Options{
		Manager:  tm,
		Pipeline: pipe,
		Registry: provision.NewRegistry(provision.NewStarlarkCompiler(log), log),
		Strategy: strategy,
		Pool:     pool,
		Log:      log,
	})
	if err := srv.Start(0); err != nil {
		return Result{}, err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Stop(sctx)
	}()

	client, err := master.Dial(ctx, tm, model.NewEndpointInfo("127.0.0.1", srv.Port(), model.TRANSPORT_DEFAULT), pipe, log)
	if err != nil {
		return Result{}, err
	}
	defer client.Close()
	if err := client.Init(cfg.ModelName, cfg.Code); err != nil {
		return Result{}, err
	}

	hist := hdrhistogram.New(1, int64(time.Hour), 3)
	res := Result{Executor: et.String(), Codec: pipe.Codec.Type().String(), Compression: pipe.Compressor.Name()}
	unit := model.SimulationUnit{Model: cfg.ModelName, Deadline: cfg.Deadline, Params: cfg.Params}

	start := time.Now()
	for b := range cfg.Batches {
		task := model.NetworkTask{Unit: unit, Tasks: make([]model.TaskDescriptor, cfg.BatchSize)}
		for i := range task.Tasks {
			id := int64(b*cfg.BatchSize + i)
			task.Tasks[i] = model.TaskDescriptor{ID: id, Seed: id + 1}
		}

		sent := time.Now()
		out, err := client.Submit(task, cfg.Timeout)
		if err != nil {
			return res, err
		}
		_ = hist.RecordValue(int64(time.Since(sent)))

		encoded, err := pipe.Encode(out)
		if err != nil {
			return res, err
		}
		res.Bytes += int64(len(encoded))
		res.Batches++
		res.Trajectories += out.Size()
		res.Failed += out.Failed()
	}
	res.Elapsed = time.Since(start)

	res.P50 = time.Duration(hist.ValueAtQuantile(50))
	res.P90 = time.Duration(hist.ValueAtQuantile(90))
	res.P99 = time.Duration(hist.ValueAtQuantile(99))
	res.Max = time.Duration(hist.Max())
	if res.Elapsed > 0 {
		res.Throughput = float64(res.Trajectories) / res.Elapsed.Seconds()
	}
	return res, nil
}

// WriteTable prints results as aligned columns.
func WriteTable(w io.Writer, results []Result) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EXECUTOR\tCODEC\tCOMPRESSION\tTRAJ\tFAILED\tBYTES\tP50\tP90\tP99\tMAX\tTRAJ/S")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\t%s\t%.1f\n",
			r.Executor, r.Codec, r.Compression, r.Trajectories, r.Failed, r.Bytes,
			r.P50.Round(time.Microsecond), r.P90.Round(time.Microsecond),
			r.P99.Round(time.Microsecond), r.Max.Round(time.Microsecond), r.Throughput)
	}
	return tw.Flush()
}
