package master

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-grid/internal/executor"
	"compute-grid/internal/transport"
	"compute-grid/pkg/model"
)

func dialSlave(t *testing.T, port int, pipe string) *Client {
	t.Helper()
	p := mustPipeline(t, pipe, "none")
	c, err := Dial(context.Background(), transport.NewManager(model.TRANSPORT_DEFAULT), endpoint(port), p, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func batchOf(name string, n int) model.NetworkTask {
	task := model.NetworkTask{Unit: model.SimulationUnit{Model: name, Deadline: 3}}
	for i := range n {
		task.Tasks = append(task.Tasks, model.TaskDescriptor{ID: int64(i), Seed: int64(i + 1)})
	}
	return task
}

func TestClientPing(t *testing.T) {
	slave := startSlave(t, executor.SEQUENTIAL, mustPipeline(t, "DEFAULT", "none"))
	c := dialSlave(t, slave.Port(), "DEFAULT")
	assert.NoError(t, c.Ping(time.Second))
	assert.Equal(t, slave.Port(), c.Info().Port)
}

func TestClientInitAndSubmit(t *testing.T) {
	for _, et := range executor.Types() {
		t.Run(et.String(), func(t *testing.T) {
			slave := startSlave(t, et, mustPipeline(t, "CUSTOM", "none"))
			c := dialSlave(t, slave.Port(), "CUSTOM")

			require.NoError(t, c.Init("walk", []byte(walkModel)))
			assert.True(t, c.Provisioned("walk"))
			assert.False(t, c.Provisioned("other"))

			res, err := c.Submit(batchOf("walk", 5), 5*time.Second)
			require.NoError(t, err)
			require.Equal(t, 5, res.Size())
			assert.Zero(t, res.Failed())

			// the session stays usable after a batch
			assert.NoError(t, c.Ping(time.Second))
		})
	}
}

func TestClientSubmitUnknownModel(t *testing.T) {
	slave := startSlave(t, executor.SEQUENTIAL, mustPipeline(t, "FST", "none"))
	c := dialSlave(t, slave.Port(), "FST")

	_, err := c.Submit(batchOf("missing", 2), 5*time.Second)
	require.ErrorIs(t, err, ErrRemoteFailure)
	assert.Contains(t, err.Error(), "missing")
}

func TestClientSubmitTimeout(t *testing.T) {
	slave := startSlave(t, executor.SEQUENTIAL, mustPipeline(t, "DEFAULT", "none"))
	c := dialSlave(t, slave.Port(), "DEFAULT")
	require.NoError(t, c.Init("spin", []byte(spinModel)))

	_, err := c.Submit(batchOf("spin", 1), 100*time.Millisecond)
	assert.ErrorIs(t, err, transport.ErrTimeout)
}

func TestProbe(t *testing.T) {
	pipe := mustPipeline(t, "DEFAULT", "none")
	slave := startSlave(t, executor.SEQUENTIAL, pipe)
	m := transport.NewManager(model.TRANSPORT_DEFAULT)

	assert.NoError(t, Probe(context.Background(), m, endpoint(slave.Port()), pipe, time.Second))
	assert.Error(t, Probe(context.Background(), m, endpoint(deadPort(t)), pipe, time.Second))
}
