package master

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/logger"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

var (
	ErrRemoteFailure = errors.New("master: slave reported failure")
	ErrProtocol      = errors.New("master: unexpected reply")
	ErrNoSlaves      = errors.New("master: no slave available")
)

// Client is the master end of one slave session. Calls must not overlap.
type Client struct {
	ch       transport.Channel
	pipeline *codec.Pipeline
	info     model.EndpointInfo
	log      *zap.Logger

	provisioned map[string]struct{}
}

func Dial(ctx context.Context, m *transport.Manager, info model.EndpointInfo, pipeline *codec.Pipeline, log *zap.Logger) (*Client, error) {
	ch, err := m.Open(ctx, info)
	if err != nil {
		return nil, err
	}
	return &Client{
		ch:          ch,
		pipeline:    pipeline,
		info:        info,
		log:         logger.OrNop(log).Named("client").With(zap.String("slave", info.HostPort())),
		provisioned: make(map[string]struct{}),
	}, nil
}

func (c *Client) Info() model.EndpointInfo {
	return c.info
}

func (c *Client) sendCommand(cmd model.Command) error {
	b, err := c.pipeline.EncodeCommand(cmd)
	if err != nil {
		return err
	}
	return c.ch.Send(b)
}

func (c *Client) receiveCommand() (model.Command, error) {
	b, err := c.ch.Receive()
	if err != nil {
		return 0, err
	}
	return c.pipeline.DecodeCommand(b)
}

// Ping checks the slave answers within timeout.
func (c *Client) Ping(timeout time.Duration) error {
	c.ch.SetTimeout(timeout)
	if err := c.sendCommand(model.PING); err != nil {
		return err
	}
	cmd, err := c.receiveCommand()
	if err != nil {
		return err
	}
	if cmd != model.PONG {
		return pkgerrors.Wrapf(ErrProtocol, "PING answered with %s", cmd)
	}
	return nil
}

// Init ships a model definition. The slave does not answer INIT.
func (c *Client) Init(name string, code []byte) error {
	nameFrame, err := c.pipeline.EncodeString(name)
	if err != nil {
		return err
	}
	if err := c.sendCommand(model.INIT); err != nil {
		return err
	}
	if err := c.ch.Send(nameFrame); err != nil {
		return err
	}
	if err := c.ch.Send(code); err != nil {
		return err
	}
	c.provisioned[name] = struct{}{}
	c.log.Debug("INIT sent", zap.String("model", name), zap.Int("bytes", len(code)))
	return nil
}

// Provisioned reports whether Init was sent for name on this connection.
func (c *Client) Provisioned(name string) bool {
	_, ok := c.provisioned[name]
	return ok
}

// Submit sends a batch and collects the streamed results until DONE. timeout bounds every
// wait for the next frame; zero waits forever. A FAIL reply is ErrRemoteFailure.
func (c *Client) Submit(task model.NetworkTask, timeout time.Duration) (*model.ComputationResult, error) {
	payload, err := c.pipeline.Encode(&task)
	if err != nil {
		return nil, err
	}
	c.ch.SetTimeout(timeout)
	if err := c.sendCommand(model.TASK); err != nil {
		return nil, err
	}
	if err := c.ch.Send(payload); err != nil {
		return nil, err
	}

	result := model.NewComputationResult()
	for {
		cmd, err := c.receiveCommand()
		if err != nil {
			return nil, err
		}
		switch cmd {
		case model.RESULT:
			b, err := c.ch.Receive()
			if err != nil {
				return nil, err
			}
			var part model.ComputationResult
			if err := c.pipeline.Decode(b, &part); err != nil {
				return nil, err
			}
			result.Merge(&part)
		case model.DONE:
			return result, nil
		case model.FAIL:
			b, err := c.ch.Receive()
			if err != nil {
				return nil, err
			}
			msg, err := c.pipeline.DecodeString(b)
			if err != nil {
				return nil, err
			}
			return nil, pkgerrors.Wrap(ErrRemoteFailure, msg)
		default:
			return nil, pkgerrors.Wrapf(ErrProtocol, "TASK answered with %s", cmd)
		}
	}
}

// Close sends CLOSE and releases the connection.
func (c *Client) Close() error {
	err := c.sendCommand(model.CLOSE)
	if cerr := c.ch.Close(); err == nil {
		err = cerr
	}
	return err
}

// Probe opens a fresh connection to info, pings it and closes it again.
func Probe(ctx context.Context, m *transport.Manager, info model.EndpointInfo, pipeline *codec.Pipeline, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	c, err := Dial(ctx, m, info, pipeline, nil)
	if err != nil {
		return err
	}
	defer c.Close()
	return c.Ping(timeout)
}
