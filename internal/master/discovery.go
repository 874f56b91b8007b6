package master

import (
	"context"
	"errors"
	"net"
	"strconv"
	"time"

	"go.uber.org/zap"

	"compute-grid/internal/codec"
	"compute-grid/internal/logger"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

// Broadcaster finds slaves on the local networks: it sends the master endpoint to every
// broadcast address (and to explicit targets) and registers whoever answers.
type Broadcaster struct {
	dg        *transport.Datagram
	codec     codec.Codec
	self      model.EndpointInfo
	slavePort int
	targets   []*net.UDPAddr
	registry  *Registry
	log       *zap.Logger
}

// NewBroadcaster binds port (0 picks one). targets are host or host:port; a bare host
// is probed on slavePort.
func NewBroadcaster(port, slavePort int, targets []string, c codec.Codec, reg *Registry, log *zap.Logger) (*Broadcaster, error) {
	resolved := make([]*net.UDPAddr, 0, len(targets))
	for _, t := range targets {
		if _, _, err := net.SplitHostPort(t); err != nil {
			t = net.JoinHostPort(t, strconv.Itoa(slavePort))
		}
		addr, err := net.ResolveUDPAddr("udp4", t)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, addr)
	}

	dg, err := transport.ListenUDP(port, true)
	if err != nil {
		return nil, err
	}
	return &Broadcaster{
		dg:        dg,
		codec:     c,
		self:      model.NewEndpointInfo("", dg.LocalPort(), model.TRANSPORT_UDP),
		slavePort: slavePort,
		targets:   resolved,
		registry:  reg,
		log:       logger.OrNop(log).Named("discovery"),
	}, nil
}

func (b *Broadcaster) Port() int {
	return b.dg.LocalPort()
}

// Probe sends one discovery round.
func (b *Broadcaster) Probe() error {
	payload, err := b.codec.Marshal(&b.self)
	if err != nil {
		return err
	}

	dests := make([]*net.UDPAddr, 0, len(b.targets)+4)
	dests = append(dests, b.targets...)
	for _, ip := range transport.BroadcastAddrs() {
		dests = append(dests, &net.UDPAddr{IP: ip, Port: b.slavePort})
	}

	var sent int
	var lastErr error
	for _, d := range dests {
		if err := b.dg.SendTo(payload, d); err != nil {
			lastErr = err
			b.log.Debug("probe failed", zap.Stringer("to", d), zap.Error(err))
			continue
		}
		sent++
	}
	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// Serve probes every interval and registers replies until ctx ends.
func (b *Broadcaster) Serve(ctx context.Context, interval time.Duration) {
	stop := context.AfterFunc(ctx, func() { _ = b.dg.Close() })
	defer stop()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			if err := b.Probe(); err != nil {
				b.log.Warn("[DISCOVERY] probe round failed", zap.Error(err))
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	for {
		data, from, err := b.dg.ReceiveFrom()
		if err != nil {
			if errors.Is(err, transport.ErrClosed) || ctx.Err() != nil {
				return
			}
			b.log.Warn("receive failed", zap.Error(err))
			continue
		}
		b.handleReply(data, from)
	}
}

func (b *Broadcaster) handleReply(data []byte, from *net.UDPAddr) {
	var info model.EndpointInfo
	if err := b.codec.Unmarshal(data, &info); err != nil {
		b.log.Debug("ignored datagram", zap.Stringer("from", from), zap.Error(err))
		return
	}
	if info.Port <= 0 || info.Transport == model.TRANSPORT_UDP {
		b.log.Debug("ignored endpoint", zap.Stringer("from", from), zap.Stringer("endpoint", info))
		return
	}
	if ip := net.ParseIP(info.Address); ip == nil || ip.IsUnspecified() {
		info.Address = from.IP.String()
	}
	b.registry.Register(model.Node{Endpoint: info}, SOURCE_DISCOVERY)
}

func (b *Broadcaster) Close() error {
	return b.dg.Close()
}
