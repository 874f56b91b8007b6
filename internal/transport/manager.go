package transport

import (
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"compute-grid/pkg/model"
)

const (
	defaultDialTimeout      = 5 * time.Second
	defaultHandshakeTimeout = 10 * time.Second
)

type Option func(*Manager)

func WithMaxFrameSize(n int) Option {
	return func(m *Manager) { m.maxFrame = n }
}

func WithTLS(material *TLSMaterial) Option {
	return func(m *Manager) { m.tls = material }
}

func WithDialTimeout(d time.Duration) Option {
	return func(m *Manager) { m.dialTimeout = d }
}

func WithHandshakeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.handshakeTimeout = d }
}

// Manager opens channels to peers and listens for peers. It has one transport type for
// listening; Open follows the tag of the endpoint it dials.
type Manager struct {
	transport        model.TransportType
	maxFrame         int
	tls              *TLSMaterial
	dialTimeout      time.Duration
	handshakeTimeout time.Duration
}

func NewManager(transport model.TransportType, opts ...Option) *Manager {
	m := &Manager{
		transport:        transport,
		maxFrame:         DefaultMaxFrameSize,
		dialTimeout:      defaultDialTimeout,
		handshakeTimeout: defaultHandshakeTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Type() model.TransportType {
	return m.transport
}

func (m *Manager) MaxFrameSize() int {
	return m.maxFrame
}

// Open connects to a peer. For SECURE endpoints the TLS handshake is completed here, so a
// certificate problem is reported as ErrHandshake and never later as a framing error.
func (m *Manager) Open(ctx context.Context, info model.EndpointInfo) (Channel, error) {
	dialer := &net.Dialer{Timeout: m.dialTimeout}
	addr := info.HostPort()

	switch info.Transport {
	case model.TRANSPORT_DEFAULT:
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", addr)
		}
		return newConnChannel(conn, info, m.maxFrame), nil

	case model.TRANSPORT_SECURE:
		if m.tls == nil {
			return nil, errors.Wrapf(ErrHandshake, "no TLS material to reach %s", addr)
		}
		raw, err := dialer.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, errors.Wrapf(err, "dial %s", addr)
		}
		conn := tls.Client(raw, m.tls.ClientConfig(info.Address))
		hsCtx, cancel := context.WithTimeout(ctx, m.handshakeTimeout)
		defer cancel()
		if err := conn.HandshakeContext(hsCtx); err != nil {
			_ = raw.Close()
			return nil, errors.Wrapf(ErrHandshake, "%s: %v", addr, err)
		}
		return newConnChannel(conn, info, m.maxFrame), nil

	default:
		return nil, errors.Errorf("transport %s does not open channels", info.Transport)
	}
}

// Listener accepts channels from peers.
type Listener interface {
	Accept() (Channel, error)
	Close() error
	Port() int
}

func (m *Manager) Listen(port int) (Listener, error) {
	if m.transport != model.TRANSPORT_DEFAULT && m.transport != model.TRANSPORT_SECURE {
		return nil, errors.Errorf("transport %s does not accept channels", m.transport)
	}
	if m.transport == model.TRANSPORT_SECURE && m.tls == nil {
		return nil, errors.New("SECURE transport needs TLS material")
	}
	ln, err := net.Listen("tcp", net.JoinHostPort("", strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "listen :%d", port)
	}
	return &listener{ln: ln, m: m}, nil
}

type listener struct {
	ln net.Listener
	m  *Manager
}

// Accept returns ErrClosed once the listener is closed. SECURE channels come back before
// the TLS handshake; the caller runs Handshake off the accept loop so a stalled peer
// cannot hold up the next one.
func (l *listener) Accept() (Channel, error) {
	conn, err := l.ln.Accept()
	if err != nil {
		return nil, classify(err, "accept")
	}
	info := endpointOf(conn.RemoteAddr(), l.m.transport)
	if l.m.transport != model.TRANSPORT_SECURE {
		return newConnChannel(conn, info, l.m.maxFrame), nil
	}
	ch := newConnChannel(tls.Server(conn, l.m.tls.ServerConfig()), info, l.m.maxFrame)
	ch.handshakeTimeout = l.m.handshakeTimeout
	return ch, nil
}

func (l *listener) Close() error {
	return l.ln.Close()
}

func (l *listener) Port() int {
	return l.ln.Addr().(*net.TCPAddr).Port
}
