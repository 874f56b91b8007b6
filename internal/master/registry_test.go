package master

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-grid/pkg/model"
)

func node(port int) model.Node {
	return model.Node{Endpoint: model.NewEndpointInfo("127.0.0.1", port, model.TRANSPORT_DEFAULT)}
}

func TestRegistryRegister(t *testing.T) {
	r := NewRegistry(nil)

	assert.True(t, r.Register(node(2), SOURCE_STATIC))
	assert.True(t, r.Register(node(1), SOURCE_HTTP))
	assert.False(t, r.Register(model.Node{UUID: "abc", Endpoint: node(1).Endpoint}, SOURCE_DISCOVERY))

	require.Equal(t, 2, r.Len())
	eps := r.Endpoints()
	assert.Equal(t, 1, eps[0].Port)
	assert.Equal(t, 2, eps[1].Port)

	nodes := r.Nodes()
	assert.Equal(t, "abc", nodes[0].UUID)
	assert.Equal(t, "http", nodes[0].Source, "source is kept from the first registration")
	assert.Equal(t, "static", nodes[1].Source)

	assert.True(t, r.Remove(node(1).Endpoint))
	assert.False(t, r.Remove(node(1).Endpoint))
	assert.Equal(t, 1, r.Len())
}

func TestRegistryWait(t *testing.T) {
	r := NewRegistry(nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, r.Wait(ctx, 1), context.DeadlineExceeded)

	done := make(chan error, 1)
	go func() { done <- r.Wait(context.Background(), 2) }()

	r.Register(node(1), SOURCE_STATIC)
	r.Register(node(2), SOURCE_STATIC)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Wait did not return")
	}
}

func TestRegistryCheckHealth(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(node(1), SOURCE_STATIC)
	r.Register(node(2), SOURCE_STATIC)

	r.CheckHealth(context.Background(), func(_ context.Context, info model.EndpointInfo) error {
		if info.Port == 2 {
			return errors.New("connection refused")
		}
		return nil
	})

	eps := r.Endpoints()
	require.Len(t, eps, 1)
	assert.Equal(t, 1, eps[0].Port)
}

func TestRegistryHealthWorker(t *testing.T) {
	r := NewRegistry(nil)
	r.Register(node(1), SOURCE_STATIC)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.HealthWorker(ctx, 10*time.Millisecond, func(context.Context, model.EndpointInfo) error {
		return errors.New("down")
	})

	assert.Eventually(t, func() bool { return r.Len() == 0 }, time.Second, 5*time.Millisecond)
}
