package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatagramRoundTrip(t *testing.T) {
	a, err := ListenUDP(0, false)
	require.NoError(t, err)
	defer a.Close()
	b, err := ListenUDP(0, false)
	require.NoError(t, err)
	defer b.Close()

	b.SetTimeout(2 * time.Second)
	to := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: b.LocalPort()}
	require.NoError(t, a.SendTo([]byte("hello"), to))

	got, from, err := b.ReceiveFrom()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.Equal(t, a.LocalPort(), from.Port)
}

func TestDatagramTooLarge(t *testing.T) {
	a, err := ListenUDP(0, false)
	require.NoError(t, err)
	defer a.Close()

	to := &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: a.LocalPort()}
	assert.ErrorIs(t, a.SendTo(make([]byte, MaxDatagramSize+1), to), ErrDatagramTooLarge)
	assert.NoError(t, a.SendTo(make([]byte, MaxDatagramSize), to))
}

func TestDatagramTimeout(t *testing.T) {
	a, err := ListenUDP(0, false)
	require.NoError(t, err)
	defer a.Close()

	a.SetTimeout(30 * time.Millisecond)
	_, _, err = a.ReceiveFrom()
	assert.ErrorIs(t, err, ErrTimeout)
}
