package server

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/executor"
	"compute-grid/internal/logger"
	"compute-grid/internal/provision"
	"compute-grid/internal/transport"
	"compute-grid/internal/utils"
	"compute-grid/pkg/model"
)

var statusStr = []string{
	"waiting task",
	"solving",
	"stopped",
}

const (
	STATUS_WAIT_TASK uint8 = iota
	STATUS_SOLVING
	STATUS_STOPPED
)

type Options struct {
	UUID        string
	Manager     *transport.Manager
	Pipeline    *codec.Pipeline
	Registry    *provision.Registry
	Strategy    executor.Strategy
	Pool        *executor.Pool
	IdleTimeout time.Duration
	Log         *zap.Logger
}

// Server is the slave grid endpoint: it accepts master connections and serves each one on
// its own session goroutine.
type Server struct {
	uuid        string
	manager     *transport.Manager
	pipeline    *codec.Pipeline
	registry    *provision.Registry
	strategy    executor.Strategy
	pool        *executor.Pool
	idleTimeout time.Duration
	log         *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	listener transport.Listener
	wg       sync.WaitGroup

	mu       sync.Mutex
	sessions map[string]*Session

	stopped      atomic.Bool
	trajectories atomic.Int64
}

func New(opts Options) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	id := opts.UUID
	if id == "" {
		id = uuid.NewString()
	}
	return &Server{
		uuid:        id,
		manager:     opts.Manager,
		pipeline:    opts.Pipeline,
		registry:    opts.Registry,
		strategy:    opts.Strategy,
		pool:        opts.Pool,
		idleTimeout: opts.IdleTimeout,
		log:         logger.OrNop(opts.Log).Named("grid"),
		ctx:         ctx,
		cancel:      cancel,
		sessions:    make(map[string]*Session),
	}
}

// Start listens on port (0 picks a free one) and accepts in the background.
func (s *Server) Start(port int) error {
	ln, err := s.manager.Listen(port)
	if err != nil {
		return err
	}
	s.listener = ln
	s.log.Info("[SERVER] Start",
		zap.Int("port", ln.Port()),
		zap.Stringer("transport", s.manager.Type()),
		zap.Stringer("pipeline", s.pipeline),
		zap.Stringer("executor", s.strategy.Type()),
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer utils.Recovery(s.log, "ACCEPT")
		s.acceptLoop()
	}()
	return nil
}

func (s *Server) Port() int {
	if s.listener == nil {
		return 0
	}
	return s.listener.Port()
}

func (s *Server) acceptLoop() {
	for {
		ch, err := s.listener.Accept()
		if err != nil {
			switch {
			case errors.Is(err, transport.ErrClosed):
				return
			default:
				s.log.Error("accept failed", zap.Error(err))
				time.Sleep(10 * time.Millisecond)
			}
			continue
		}
		if s.stopped.Load() {
			_ = ch.Close()
			return
		}

		sess := newSession(uuid.NewString(), ch, s)
		s.mu.Lock()
		s.sessions[sess.ID] = sess
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.sessions, sess.ID)
				s.mu.Unlock()
			}()
			defer utils.Recovery(s.log, "SESSION")
			if err := ch.Handshake(s.ctx); err != nil {
				s.log.Warn("rejected connection", zap.Error(err))
				return
			}
			sess.Serve(s.ctx)
		}()
	}
}

// Stop closes the listener, cancels running batches, closes live sessions and waits for
// their goroutines until ctx ends.
func (s *Server) Stop(ctx context.Context) error {
	if !s.stopped.CompareAndSwap(false, true) {
		return nil
	}
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.mu.Lock()
	for _, sess := range s.sessions {
		_ = sess.ch.Close()
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("[SERVER][STOP] grid server stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) SessionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *Server) status() uint8 {
	if s.stopped.Load() {
		return STATUS_STOPPED
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sess := range s.sessions {
		if sess.state.Load() == uint32(STATE_DISPATCH) {
			return STATUS_SOLVING
		}
	}
	return STATUS_WAIT_TASK
}

func (s *Server) Status() model.SlaveStatus {
	st := model.SlaveStatus{
		UUID:      s.uuid,
		Status:    statusStr[s.status()],
		Executor:  s.strategy.Type().String(),
		Codec:     s.pipeline.String(),
		Sessions:  s.SessionCount(),
		Models:    s.registry.Names(),
		TasksDone: s.trajectories.Load(),
	}
	if s.pool != nil {
		st.PoolSize = s.pool.Size()
		st.PoolPeak = s.pool.Peak()
	}
	return st
}

// Sessions maps live session ids to their state.
func (s *Server) Sessions() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.sessions))
	for id, sess := range s.sessions {
		out[id] = sess.State()
	}
	return out
}
