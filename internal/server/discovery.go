package server

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/logger"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

// Discovery answers master broadcasts: a datagram carrying the master endpoint is answered
// with the endpoint of this slave's grid server.
type Discovery struct {
	dg    *transport.Datagram
	codec codec.Codec
	self  model.EndpointInfo
	log   *zap.Logger

	master atomic.Pointer[model.EndpointInfo]
}

func ListenDiscovery(port int, c codec.Codec, self model.EndpointInfo, log *zap.Logger) (*Discovery, error) {
	dg, err := transport.ListenUDP(port, true)
	if err != nil {
		return nil, err
	}
	return &Discovery{dg: dg, codec: c, self: self, log: logger.OrNop(log).Named("discovery")}, nil
}

func (d *Discovery) Port() int {
	return d.dg.LocalPort()
}

// Master is the last master that probed this slave.
func (d *Discovery) Master() (model.EndpointInfo, bool) {
	m := d.master.Load()
	if m == nil {
		return model.EndpointInfo{}, false
	}
	return *m, true
}

// Serve answers probes until ctx ends.
func (d *Discovery) Serve(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { _ = d.dg.Close() })
	defer stop()

	reply, err := d.codec.Marshal(&d.self)
	if err != nil {
		d.log.Error("can't encode own endpoint", zap.Error(err))
		return
	}

	d.log.Info("[DISCOVERY] listening", zap.Int("port", d.Port()))
	for {
		b, from, err := d.dg.ReceiveFrom()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return
			}
			d.log.Warn("receive failed", zap.Error(err))
			continue
		}

		var master model.EndpointInfo
		if err := d.codec.Unmarshal(b, &master); err != nil {
			d.log.Debug("ignored datagram", zap.Stringer("from", from), zap.Error(err))
			continue
		}
		if prev := d.master.Swap(&master); prev == nil || !prev.Equal(master) {
			d.log.Info("master discovered", zap.Stringer("master", master), zap.Stringer("from", from))
		}
		if err := d.dg.SendTo(reply, from); err != nil {
			d.log.Warn("reply failed", zap.Stringer("to", from), zap.Error(err))
		}
	}
}

func (d *Discovery) Close() error {
	return d.dg.Close()
}
