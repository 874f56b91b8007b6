package master

import (
	"context"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"compute-grid/internal/codec"
	"compute-grid/internal/logger"
	"compute-grid/internal/transport"
	"compute-grid/internal/utils"
	"compute-grid/pkg/model"
)

const (
	STATUS_IDLE uint8 = iota
	STATUS_SOLVING
	STATUS_DONE
	STATUS_CLOSED
	STATUS_ERROR
)

var statusStr = []string{
	"idle",
	"solving",
	"done",
	"close",
	"error",
}

const (
	defaultConnectTimeout = 5 * time.Second
	defaultPingTimeout    = 5 * time.Second
	defaultMinTimeout     = time.Second
	defaultFirstTimeout   = time.Minute
	// consecutive failed batches after which a slave is dropped even if it still answers PING
	errBatchThreshold = 3
)

// Job is one simulation run: Replicas independent trajectories of one model.
type Job struct {
	ModelName string
	Code      []byte
	Replicas  int
	Deadline  float64
	Seed      int64
	Params    map[string]float64
}

func (j Job) Validate() error {
	if j.ModelName == "" {
		return model.ErrNoModelName
	}
	if len(j.Code) == 0 {
		return fmt.Errorf("job %q has no model code", j.ModelName)
	}
	if j.Replicas <= 0 {
		return fmt.Errorf("job %q: replicas must be positive, got %d", j.ModelName, j.Replicas)
	}
	return nil
}

func (j Job) Unit() model.SimulationUnit {
	return model.SimulationUnit{Model: j.ModelName, Deadline: j.Deadline, Params: j.Params}
}

// Tasks numbers the replicas 0..N-1; per-task seeds derive from the job seed.
func (j Job) Tasks() []model.TaskDescriptor {
	rng := rand.New(rand.NewSource(j.Seed))
	tasks := make([]model.TaskDescriptor, j.Replicas)
	for i := range tasks {
		tasks[i] = model.TaskDescriptor{ID: int64(i), Seed: rng.Int63()}
	}
	return tasks
}

type ManagerOptions struct {
	Transport      *transport.Manager
	Pipeline       *codec.Pipeline
	Registry       *Registry
	Handler        ResultHandler
	ConnectTimeout time.Duration
	PingTimeout    time.Duration
	// MinTimeout is the floor of the per-batch reply timeout derived from the slave state.
	MinTimeout time.Duration
	// FirstTimeout bounds a batch sent before the slave state has any estimate.
	FirstTimeout time.Duration
	Log          *zap.Logger
}

// Manager dispatches jobs over the slaves of a registry.
type Manager struct {
	transport      *transport.Manager
	pipeline       *codec.Pipeline
	registry       *Registry
	handler        ResultHandler
	connectTimeout time.Duration
	pingTimeout    time.Duration
	minTimeout     time.Duration
	firstTimeout   time.Duration
	log            *zap.Logger

	status atomic.Uint32
}

func NewManager(opts ManagerOptions) *Manager {
	m := &Manager{
		transport:      opts.Transport,
		pipeline:       opts.Pipeline,
		registry:       opts.Registry,
		handler:        opts.Handler,
		connectTimeout: opts.ConnectTimeout,
		pingTimeout:    opts.PingTimeout,
		minTimeout:     opts.MinTimeout,
		firstTimeout:   opts.FirstTimeout,
		log:            logger.OrNop(opts.Log).Named("manager"),
	}
	if m.connectTimeout <= 0 {
		m.connectTimeout = defaultConnectTimeout
	}
	if m.pingTimeout <= 0 {
		m.pingTimeout = defaultPingTimeout
	}
	if m.minTimeout <= 0 {
		m.minTimeout = defaultMinTimeout
	}
	if m.firstTimeout <= 0 {
		m.firstTimeout = defaultFirstTimeout
	}
	if m.handler == nil {
		m.handler = LogHandler{Log: m.log}
	}
	return m
}

func (m *Manager) GetStatus() string {
	return statusStr[m.status.Load()]
}

func (m *Manager) setStatus(s uint8) {
	m.status.Store(uint32(s))
}

// Ping is a Pinger over the manager's transport.
func (m *Manager) Ping(ctx context.Context, info model.EndpointInfo) error {
	return Probe(ctx, m.transport, info, m.pipeline, m.pingTimeout)
}

// Run executes job on every slave currently in the registry and returns once each task
// has a trajectory. Tasks of a failing slave are put back for the others; if no slave is
// left before the job is complete Run returns ErrNoSlaves.
func (m *Manager) Run(ctx context.Context, job Job) error {
	if err := job.Validate(); err != nil {
		return err
	}
	slaves := m.registry.Endpoints()
	if len(slaves) == 0 {
		return ErrNoSlaves
	}

	m.setStatus(STATUS_SOLVING)
	m.log.Info("[MANAGER] job started",
		zap.String("model", job.ModelName),
		zap.Int("replicas", job.Replicas),
		zap.Int("slaves", len(slaves)),
		zap.String("pipeline", m.pipeline.String()),
	)
	start := time.Now()

	q := newTaskQueue(job.Tasks())
	chResult := make(chan []model.Trajectory)
	workerDone := make(chan struct{})
	go m.worker(chResult, workerDone)

	g, gctx := errgroup.WithContext(ctx)
	for _, info := range slaves {
		g.Go(func() error {
			defer utils.Recovery(m.log, "slave "+info.HostPort())
			return m.serveSlave(gctx, info, job, q, chResult)
		})
	}
	err := g.Wait()
	close(chResult)
	<-workerDone

	switch {
	case err == nil && !q.finished():
		err = pkgerrors.Wrapf(ErrNoSlaves, "%d of %d tasks left", q.remaining(), job.Replicas)
	case err != nil && ctx.Err() != nil:
		m.setStatus(STATUS_CLOSED)
		m.handler.Error(err)
		return err
	}
	if err != nil {
		m.setStatus(STATUS_ERROR)
		m.handler.Error(err)
		return err
	}

	m.setStatus(STATUS_DONE)
	m.log.Info("[MANAGER] job done", zap.Duration("elapsed", time.Since(start)))
	m.handler.Done()
	return nil
}

func (m *Manager) worker(chResult <-chan []model.Trajectory, done chan<- struct{}) {
	defer close(done)
	for trajectories := range chResult {
		m.handler.HandleTrajectories(trajectories)
	}
}

// connect dials info and provisions the job's model on it.
func (m *Manager) connect(ctx context.Context, info model.EndpointInfo, job Job) (*Client, error) {
	dctx, cancel := context.WithTimeout(ctx, m.connectTimeout)
	defer cancel()

	c, err := Dial(dctx, m.transport, info, m.pipeline, m.log)
	if err != nil {
		return nil, err
	}
	if err := c.Init(job.ModelName, job.Code); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// reconnect replaces a broken connection and checks the new one with PING.
func (m *Manager) reconnect(ctx context.Context, info model.EndpointInfo, job Job) (*Client, error) {
	c, err := m.connect(ctx, info, job)
	if err != nil {
		return nil, err
	}
	if err := c.Ping(m.pingTimeout); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// batchTimeout is the reply timeout for the next batch; it is never zero, so a slave that
// accepts and then stays silent cannot hold its tasks forever.
func (m *Manager) batchTimeout(state *SlaveState) time.Duration {
	timeout := state.Timeout()
	switch {
	case timeout == 0:
		return m.firstTimeout
	case timeout < m.minTimeout:
		return m.minTimeout
	}
	return timeout
}

// serveSlave feeds one slave until the queue is exhausted or the slave is dropped. Only
// a cancelled ctx is returned as an error; losing the slave is not.
func (m *Manager) serveSlave(ctx context.Context, info model.EndpointInfo, job Job, q *taskQueue, chResult chan<- []model.Trajectory) error {
	log := m.log.With(zap.String("slave", info.HostPort()))

	client, err := m.connect(ctx, info, job)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn("[MANAGER] slave unreachable, dropped", zap.Error(err))
		m.registry.Remove(info)
		return nil
	}
	defer func() {
		if client != nil {
			_ = client.Close()
		}
	}()

	state := NewSlaveState()
	unit := job.Unit()
	failures := 0

	for {
		n := state.Window()
		for n > 1 && !state.CanComplete(n) {
			n /= 2
		}
		batch, ok := q.take(ctx, n)
		if !ok {
			return ctx.Err()
		}

		timeout := m.batchTimeout(state)

		sent := time.Now()
		c := client
		stop := context.AfterFunc(ctx, func() { _ = c.ch.Close() })
		res, err := c.Submit(model.NetworkTask{Unit: unit, Tasks: batch}, timeout)
		stop()
		if err == nil {
			state.Update(time.Since(sent), len(batch))
			failures = 0
			fresh := q.complete(batch, res.Trajectories)
			log.Debug("[MANAGER] batch done", zap.Int("tasks", len(batch)), zap.Stringer("state", state))
			if len(fresh) > 0 {
				select {
				case chResult <- fresh:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			continue
		}

		q.requeue(batch)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		failures++
		log.Warn("[MANAGER] batch failed", zap.Int("tasks", len(batch)), zap.Int("failures", failures), zap.Error(err))

		_ = client.Close()
		client = nil
		if failures >= errBatchThreshold {
			log.Warn("[MANAGER] too many failed batches, slave dropped")
			m.registry.Remove(info)
			return nil
		}

		client, err = m.reconnect(ctx, info, job)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warn("[MANAGER] slave did not recover, dropped", zap.Error(err))
			m.registry.Remove(info)
			return nil
		}
		state.Expire()
	}
}
