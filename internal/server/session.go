package server

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/executor"
	"compute-grid/internal/provision"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

const (
	STATE_AWAIT_COMMAND uint8 = iota
	STATE_DISPATCH
	STATE_CLOSED
)

var stateStr = []string{
	"await command",
	"dispatch",
	"closed",
}

// errSessionClosed ends the loop after CLOSE.
var errSessionClosed = errors.New("session closed by peer")

var errUndecodableName = errors.New("undecodable model name")

type handler func(ctx context.Context) error

type inbound struct {
	frame []byte
	err   error
}

// Session serves one master connection: it reads a command, runs it to completion and only
// then reads the next one. It owns its channel.
type Session struct {
	ID string

	ch          transport.Channel
	pipeline    *codec.Pipeline
	registry    *provision.Registry
	strategy    executor.Strategy
	idleTimeout time.Duration
	log         *zap.Logger

	state    atomic.Uint32
	handlers map[model.Command]handler
	frames   chan inbound

	trajectories *atomic.Int64
}

func newSession(id string, ch transport.Channel, s *Server) *Session {
	sess := &Session{
		ID:           id,
		ch:           ch,
		pipeline:     s.pipeline,
		registry:     s.registry,
		strategy:     s.strategy,
		idleTimeout:  s.idleTimeout,
		log:          s.log.Named("session").With(zap.String("session", id), zap.String("peer", ch.Info().HostPort())),
		trajectories: &s.trajectories,
		frames:       make(chan inbound),
	}
	sess.handlers = map[model.Command]handler{
		model.PING:  sess.handlePing,
		model.INIT:  sess.handleInit,
		model.TASK:  sess.handleTask,
		model.CLOSE: sess.handleClose,
	}
	return sess
}

func (s *Session) State() string {
	return stateStr[s.state.Load()]
}

func (s *Session) setState(st uint8) {
	s.state.Store(uint32(st))
}

// Serve runs the command loop until CLOSE, a transport failure or ctx end. The channel is
// closed on return. A reader goroutine owns Receive, so a peer that goes away cancels the
// batch that is running for it.
func (s *Session) Serve(parent context.Context) {
	ctx, cancel := context.WithCancelCause(parent)
	readerDone := make(chan struct{})
	defer func() {
		s.setState(STATE_CLOSED)
		cancel(nil)
		_ = s.ch.Close()
		<-readerDone
		s.log.Info("session closed")
	}()
	s.log.Info("session opened")
	s.ch.SetTimeout(0)
	go func() {
		defer close(readerDone)
		s.readLoop(ctx, cancel)
	}()

	for ctx.Err() == nil {
		s.setState(STATE_AWAIT_COMMAND)
		frame, err := s.next(ctx)
		if err != nil {
			s.logTransportError(err)
			return
		}

		cmd, err := s.pipeline.DecodeCommand(frame)
		if err != nil {
			s.log.Warn("undecodable command frame", zap.Int("bytes", len(frame)), zap.Error(err))
			continue
		}

		h, ok := s.handlers[cmd]
		if !ok {
			if cmd.Known() {
				s.log.Warn("unexpected command, ignored", zap.Stringer("command", cmd))
			} else {
				s.log.Warn("unknown command, ignored", zap.Stringer("command", cmd))
			}
			continue
		}

		s.setState(STATE_DISPATCH)
		if err := h(ctx); err != nil {
			if errors.Is(err, errSessionClosed) {
				return
			}
			if cause := context.Cause(ctx); cause != nil {
				err = cause
			}
			s.logTransportError(err)
			return
		}
	}
}

// readLoop hands frames to the command loop in order. A receive error cancels ctx with the
// error as cause before it is delivered.
func (s *Session) readLoop(ctx context.Context, cancel context.CancelCauseFunc) {
	for {
		b, err := s.ch.Receive()
		if err != nil {
			cancel(err)
		}
		select {
		case s.frames <- inbound{frame: b, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

// next waits for the next frame from the peer, bounded by the idle timeout.
func (s *Session) next(ctx context.Context) ([]byte, error) {
	var idle <-chan time.Time
	if s.idleTimeout > 0 {
		timer := time.NewTimer(s.idleTimeout)
		defer timer.Stop()
		idle = timer.C
	}
	select {
	case in := <-s.frames:
		return in.frame, in.err
	case <-idle:
		return nil, transport.ErrTimeout
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	}
}

func (s *Session) logTransportError(err error) {
	switch {
	case errors.Is(err, transport.ErrClosed):
		s.log.Debug("peer closed the channel")
	case errors.Is(err, context.Canceled):
		s.log.Debug("session cancelled")
	case errors.Is(err, transport.ErrTimeout):
		s.log.Info("session idle timeout", zap.Duration("timeout", s.idleTimeout))
	default:
		s.log.Error("transport failure", zap.Error(err))
	}
}

func (s *Session) sendCommand(cmd model.Command) error {
	b, err := s.pipeline.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return s.ch.Send(b)
}

func (s *Session) handlePing(_ context.Context) error {
	s.log.Debug("PING")
	return s.sendCommand(model.PONG)
}

// readProvision reads the model name and code frames that follow INIT.
func (s *Session) readProvision(ctx context.Context) (model.ModelProvision, error) {
	nameFrame, err := s.next(ctx)
	if err != nil {
		return model.ModelProvision{}, err
	}
	code, err := s.next(ctx)
	if err != nil {
		return model.ModelProvision{}, err
	}
	name, err := s.pipeline.DecodeString(nameFrame)
	if err != nil {
		return model.ModelProvision{}, errors.Join(errUndecodableName, err)
	}
	return model.ModelProvision{Name: name, Code: code}, nil
}

// handleInit provisions the model that follows. Provisioning problems are logged only; the
// master learns about them when a TASK for that model fails to resolve.
func (s *Session) handleInit(ctx context.Context) error {
	p, err := s.readProvision(ctx)
	if errors.Is(err, errUndecodableName) {
		s.log.Warn("INIT with undecodable model name", zap.Error(err))
		return nil
	}
	if err != nil {
		return err
	}
	if err := s.registry.Provision(p.Name, p.Code); err != nil {
		s.log.Warn("INIT failed", zap.String("model", p.Name), zap.Error(err))
		return nil
	}
	s.log.Info("INIT", zap.String("model", p.Name), zap.Int("bytes", len(p.Code)))
	return nil
}

func (s *Session) fail(msg string) error {
	if err := s.sendCommand(model.FAIL); err != nil {
		return err
	}
	b, err := s.pipeline.EncodeString(msg)
	if err != nil {
		return err
	}
	return s.ch.Send(b)
}

func (s *Session) handleTask(ctx context.Context) error {
	frame, err := s.next(ctx)
	if err != nil {
		return err
	}

	var task model.NetworkTask
	if err := s.pipeline.Decode(frame, &task); err != nil {
		s.log.Warn("TASK with undecodable payload", zap.Error(err))
		return s.fail(err.Error())
	}
	if err := task.Validate(); err != nil {
		s.log.Warn("TASK rejected", zap.Error(err))
		return s.fail(err.Error())
	}

	m, err := s.registry.Resolve(task.Unit.Model)
	if err != nil {
		s.log.Warn("TASK for unknown model", zap.String("model", task.Unit.Model))
		return s.fail(err.Error())
	}

	start := time.Now()
	emitted := 0
	emit := func(res *model.ComputationResult) error {
		payload, err := s.pipeline.Encode(res)
		if err != nil {
			return err
		}
		if err := s.sendCommand(model.RESULT); err != nil {
			return err
		}
		if err := s.ch.Send(payload); err != nil {
			return err
		}
		emitted++
		s.trajectories.Add(int64(res.Size()))
		return nil
	}

	if err := s.strategy.Run(ctx, task, m, emit); err != nil {
		return err
	}
	s.log.Debug("TASK done",
		zap.String("model", task.Unit.Model),
		zap.Int("tasks", task.Size()),
		zap.Int("results", emitted),
		zap.Duration("elapsed", time.Since(start)),
	)
	return s.sendCommand(model.DONE)
}

func (s *Session) handleClose(_ context.Context) error {
	s.log.Debug("CLOSE")
	return errSessionClosed
}
