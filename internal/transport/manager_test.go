package transport

import (
	"context"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-grid/internal/testutil"
	"compute-grid/pkg/model"
)

type accepted struct {
	ch  Channel
	err error
}

func acceptOne(ln Listener) <-chan accepted {
	out := make(chan accepted, 1)
	go func() {
		ch, err := ln.Accept()
		if err == nil {
			err = ch.Handshake(context.Background())
		}
		out <- accepted{ch, err}
	}()
	return out
}

func openPair(t *testing.T, server, client *Manager, tt model.TransportType) (Channel, Channel) {
	t.Helper()
	ln, err := server.Listen(0)
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	res := acceptOne(ln)
	c, err := client.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", ln.Port(), tt))
	require.NoError(t, err)
	a := <-res
	require.NoError(t, a.err)
	t.Cleanup(func() {
		_ = c.Close()
		_ = a.ch.Close()
	})
	return c, a.ch
}

func TestTCPSendReceive(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	client, server := openPair(t, m, m, model.TRANSPORT_DEFAULT)

	require.NoError(t, client.Send([]byte("ping")))
	require.NoError(t, client.Send(nil))
	require.NoError(t, client.Send([]byte("after empty")))

	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))
	got, err = server.Receive()
	require.NoError(t, err)
	assert.Empty(t, got)
	got, err = server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "after empty", string(got))

	assert.Equal(t, "127.0.0.1", server.Info().Address)
	assert.Equal(t, model.TRANSPORT_DEFAULT, server.Info().Transport)
}

func TestReceiveTimeout(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	_, server := openPair(t, m, m, model.TRANSPORT_DEFAULT)

	server.SetTimeout(50 * time.Millisecond)
	start := time.Now()
	_, err := server.Receive()
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestPeerClose(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	client, server := openPair(t, m, m, model.TRANSPORT_DEFAULT)

	require.NoError(t, client.Close())
	_, err := server.Receive()
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSendOverMaxFrame(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT, WithMaxFrameSize(8))
	client, server := openPair(t, m, m, model.TRANSPORT_DEFAULT)

	assert.ErrorIs(t, client.Send(make([]byte, 9)), ErrFrameTooLarge)

	big := NewManager(model.TRANSPORT_DEFAULT)
	bigClient, smallServer := openPair(t, m, big, model.TRANSPORT_DEFAULT)
	require.NoError(t, bigClient.Send(make([]byte, 64)))
	_, err := smallServer.Receive()
	assert.ErrorIs(t, err, ErrFrameTooLarge)

	require.NoError(t, client.Send([]byte("ok")))
	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "ok", string(got))
}

func TestAcceptAfterClose(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	ln, err := m.Listen(0)
	require.NoError(t, err)
	res := acceptOne(ln)
	require.NoError(t, ln.Close())
	a := <-res
	assert.ErrorIs(t, a.err, ErrClosed)
}

func TestOpenRefused(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	ln, err := m.Listen(0)
	require.NoError(t, err)
	port := ln.Port()
	require.NoError(t, ln.Close())

	_, err = m.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", port, model.TRANSPORT_DEFAULT))
	assert.Error(t, err)
}

func tlsManager(t *testing.T, pki *testutil.PKI, name string) *Manager {
	t.Helper()
	cert, _, _ := pki.Issue(t, name, time.Now().Add(time.Hour))
	material, err := NewTLSMaterial(cert, pki.CAPEM)
	require.NoError(t, err)
	return NewManager(model.TRANSPORT_SECURE, WithTLS(material), WithHandshakeTimeout(2*time.Second))
}

func TestSecureMutualAuth(t *testing.T) {
	pki := testutil.NewPKI(t)
	server := tlsManager(t, pki, "slave")
	client := tlsManager(t, pki, "master")

	c, s := openPair(t, server, client, model.TRANSPORT_SECURE)
	require.NoError(t, c.Send([]byte("secret")))
	got, err := s.Receive()
	require.NoError(t, err)
	assert.Equal(t, "secret", string(got))
	assert.Equal(t, model.TRANSPORT_SECURE, s.Info().Transport)
}

func TestSecureUnknownServerCA(t *testing.T) {
	server := tlsManager(t, testutil.NewPKI(t), "slave")
	client := tlsManager(t, testutil.NewPKI(t), "master")

	ln, err := server.Listen(0)
	require.NoError(t, err)
	defer ln.Close()
	res := acceptOne(ln)

	_, err = client.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", ln.Port(), model.TRANSPORT_SECURE))
	assert.ErrorIs(t, err, ErrHandshake)
	a := <-res
	assert.ErrorIs(t, a.err, ErrHandshake)
}

func TestSecureRequiresClientCert(t *testing.T) {
	pki := testutil.NewPKI(t)
	server := tlsManager(t, pki, "slave")

	ln, err := server.Listen(0)
	require.NoError(t, err)
	defer ln.Close()
	res := acceptOne(ln)

	// plain TCP client: the server side sees garbage instead of a ClientHello
	plain := NewManager(model.TRANSPORT_DEFAULT)
	c, err := plain.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", ln.Port(), model.TRANSPORT_DEFAULT))
	require.NoError(t, err)
	require.NoError(t, c.Send([]byte("not a handshake")))
	a := <-res
	assert.ErrorIs(t, a.err, ErrHandshake)
	_ = c.Close()

	// the listener survives a failed handshake
	res = acceptOne(ln)
	client := tlsManager(t, pki, "master")
	c, err = client.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", ln.Port(), model.TRANSPORT_SECURE))
	require.NoError(t, err)
	defer c.Close()
	a = <-res
	require.NoError(t, a.err)
	_ = a.ch.Close()
}

func TestSecureAcceptDoesNotWaitForHandshake(t *testing.T) {
	pki := testutil.NewPKI(t)
	server := tlsManager(t, pki, "slave")

	ln, err := server.Listen(0)
	require.NoError(t, err)
	defer ln.Close()

	// a peer that connects and never speaks
	stalled, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(ln.Port())))
	require.NoError(t, err)
	defer stalled.Close()

	start := time.Now()
	ch, err := ln.Accept()
	require.NoError(t, err)
	defer ch.Close()
	assert.Less(t, time.Since(start), time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, ch.Handshake(ctx), ErrHandshake)

	// a real client behind the stalled one is served right away
	res := acceptOne(ln)
	client := tlsManager(t, pki, "master")
	c, err := client.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", ln.Port(), model.TRANSPORT_SECURE))
	require.NoError(t, err)
	defer c.Close()
	a := <-res
	require.NoError(t, a.err)
	defer a.ch.Close()

	require.NoError(t, c.Send([]byte("hello")))
	got, err := a.ch.Receive()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
}

func TestPlainHandshakeIsNoop(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	client, server := openPair(t, m, m, model.TRANSPORT_DEFAULT)
	assert.NoError(t, server.Handshake(context.Background()))
	assert.NoError(t, client.Handshake(context.Background()))
}

func TestSetTimeoutWhileReceiving(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	client, server := openPair(t, m, m, model.TRANSPORT_DEFAULT)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			server.SetTimeout(time.Duration(i+1) * time.Second)
		}
	}()
	require.NoError(t, client.Send([]byte("x")))
	got, err := server.Receive()
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))
	<-done
}

func TestSecureOpenWithoutMaterial(t *testing.T) {
	m := NewManager(model.TRANSPORT_DEFAULT)
	_, err := m.Open(context.Background(), model.NewEndpointInfo("127.0.0.1", 1, model.TRANSPORT_SECURE))
	assert.ErrorIs(t, err, ErrHandshake)

	_, err = NewManager(model.TRANSPORT_SECURE).Listen(0)
	assert.Error(t, err)
}
