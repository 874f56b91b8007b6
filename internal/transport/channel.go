package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"compute-grid/pkg/model"
)

// Channel is a bidirectional, ordered, framed byte pipe between two peers.
type Channel interface {
	Send(b []byte) error
	Receive() ([]byte, error)
	// SetTimeout bounds every following Receive; zero blocks forever.
	SetTimeout(d time.Duration)
	// Handshake completes the TLS handshake of an accepted SECURE channel. It is a no-op
	// for plain channels and for channels that already finished it.
	Handshake(ctx context.Context) error
	Close() error
	Info() model.EndpointInfo
}

type connChannel struct {
	conn     net.Conn
	info     model.EndpointInfo
	maxFrame int

	reader *bufio.Reader

	wmu    sync.Mutex
	writer *bufio.Writer

	timeout          atomic.Int64
	handshakeTimeout time.Duration
	closeOnce        sync.Once
	closeErr         error
}

func newConnChannel(conn net.Conn, info model.EndpointInfo, maxFrame int) *connChannel {
	return &connChannel{
		conn:     conn,
		info:     info,
		maxFrame: maxFrame,
		reader:   bufio.NewReader(conn),
		writer:   bufio.NewWriter(conn),
	}
}

func (c *connChannel) Send(b []byte) error {
	if c.maxFrame > 0 && len(b) > c.maxFrame {
		return errors.Wrapf(ErrFrameTooLarge, "send %d bytes, max %d", len(b), c.maxFrame)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()

	if d := c.ioTimeout(); d > 0 {
		_ = c.conn.SetWriteDeadline(time.Now().Add(d))
	} else {
		_ = c.conn.SetWriteDeadline(time.Time{})
	}
	if err := WriteFrame(c.writer, b); err != nil {
		return classify(err, "send")
	}
	return classify(c.writer.Flush(), "send")
}

func (c *connChannel) Receive() ([]byte, error) {
	if d := c.ioTimeout(); d > 0 {
		_ = c.conn.SetReadDeadline(time.Now().Add(d))
	} else {
		_ = c.conn.SetReadDeadline(time.Time{})
	}
	b, err := ReadFrame(c.reader, c.maxFrame)
	if err != nil {
		return nil, classify(err, "receive")
	}
	return b, nil
}

func (c *connChannel) SetTimeout(d time.Duration) {
	c.timeout.Store(int64(d))
}

func (c *connChannel) ioTimeout() time.Duration {
	return time.Duration(c.timeout.Load())
}

func (c *connChannel) Handshake(ctx context.Context) error {
	tlsConn, ok := c.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	if c.handshakeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.handshakeTimeout)
		defer cancel()
	}
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = c.Close()
		return errors.Wrapf(ErrHandshake, "%s: %v", c.info.HostPort(), err)
	}
	return nil
}

func (c *connChannel) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close()
	})
	return c.closeErr
}

func (c *connChannel) Info() model.EndpointInfo {
	return c.info
}

func endpointOf(addr net.Addr, tt model.TransportType) model.EndpointInfo {
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return model.NewEndpointInfo(addr.String(), 0, tt)
	}
	port, _ := strconv.Atoi(portStr)
	return model.NewEndpointInfo(host, port, tt)
}
