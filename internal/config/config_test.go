package config

import (
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"compute-grid/internal/executor"
	"compute-grid/internal/testutil"
	"compute-grid/pkg/model"
)

func TestProcessSlaveDefaults(t *testing.T) {
	cfg, err := ProcessSlave("CGT1")
	require.NoError(t, err)

	assert.NotEmpty(t, cfg.UUID)
	assert.Equal(t, 10000, cfg.Port)
	assert.Equal(t, ":8081", cfg.StatusPort)
	assert.Equal(t, executor.MULTITHREADED, cfg.ExecutorType())
	assert.Equal(t, runtime.NumCPU(), cfg.TaskPoolSize)
	assert.Equal(t, 64, cfg.StreamQueueSize)
	assert.Equal(t, 64<<20, cfg.MaxFrameSize)

	tt, err := cfg.TransportType()
	require.NoError(t, err)
	assert.Equal(t, model.TRANSPORT_DEFAULT, tt)

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, "DEFAULT+none", p.String())
}

func TestProcessSlaveFromEnv(t *testing.T) {
	t.Setenv("CGT2_SLAVE_PORT", "12000")
	t.Setenv("CGT2_EXECUTOR", "STREAMING")
	t.Setenv("CGT2_TASK_POOL_SIZE", "3")
	t.Setenv("CGT2_SESSION_IDLE_TIMEOUT", "30s")
	t.Setenv("CGT2_CODEC", "CUSTOM")
	t.Setenv("CGT2_COMPRESSION", "zstd")
	t.Setenv("CGT2_LOG_LEVEL", "debug")

	cfg, err := ProcessSlave("CGT2")
	require.NoError(t, err)
	assert.Equal(t, 12000, cfg.Port)
	assert.Equal(t, executor.STREAMING, cfg.ExecutorType())
	assert.Equal(t, 3, cfg.TaskPoolSize)
	assert.Equal(t, 30*time.Second, cfg.SessionIdleTimeout)
	assert.Equal(t, "debug", cfg.LoggerConfig().Level)

	p, err := cfg.Pipeline()
	require.NoError(t, err)
	assert.Equal(t, "CUSTOM+zstd", p.String())
}

func TestProcessSlaveRejects(t *testing.T) {
	for name, env := range map[string][2]string{
		"executor":    {"CGT3_EXECUTOR", "QUANTUM"},
		"codec":       {"CGT3_CODEC", "XML"},
		"compression": {"CGT3_COMPRESSION", "lzma"},
		"transport":   {"CGT3_TRANSPORT", "UDP"},
		"frame":       {"CGT3_MAX_FRAME_SIZE", "0"},
		"secure":      {"CGT3_TRANSPORT", "SECURE"},
		"port":        {"CGT3_SLAVE_PORT", "abc"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := ProcessSlave("CGT3")
			assert.Error(t, err)
		})
	}
}

func TestSecureWireManager(t *testing.T) {
	pki := testutil.NewPKI(t)
	cert, key, ca := pki.Files(t, t.TempDir(), "slave", time.Now().Add(time.Hour))

	w := Wire{Transport: "SECURE", Codec: "DEFAULT", Compression: "none", MaxFrameSize: 1024,
		TLSCertFile: cert, TLSKeyFile: key, TLSCAFile: ca}
	require.NoError(t, w.validate())

	m, err := w.Manager()
	require.NoError(t, err)
	assert.Equal(t, model.TRANSPORT_SECURE, m.Type())
	assert.Equal(t, 1024, m.MaxFrameSize())

	w.TLSCAFile = filepath.Join(t.TempDir(), "missing.pem")
	_, err = w.Manager()
	assert.Error(t, err)
}

func TestProcessMaster(t *testing.T) {
	t.Setenv("CGT4_MODEL_NAME", "sir")
	t.Setenv("CGT4_MODEL_SCRIPT_PATH", "scripts/models/sir.star")
	t.Setenv("CGT4_SLAVES", "10.0.0.1:10000,10.0.0.2:10000")
	t.Setenv("CGT4_PARAMS", "beta=0.3, gamma=0.1")
	t.Setenv("CGT4_SEED", "7")
	t.Setenv("CGT4_DISCOVERY_INTERVAL", "2s")
	t.Setenv("CGT4_FIRST_BATCH_TIMEOUT", "30s")

	cfg, err := ProcessMaster("CGT4")
	require.NoError(t, err)
	assert.Equal(t, "sir", cfg.ModelName)
	assert.Equal(t, []string{"10.0.0.1:10000", "10.0.0.2:10000"}, cfg.Slaves)
	assert.Equal(t, map[string]float64{"beta": 0.3, "gamma": 0.1}, cfg.Params)
	assert.Equal(t, int64(7), cfg.Seed)
	assert.Equal(t, 2*time.Second, cfg.DiscoveryInterval)
	assert.Equal(t, 100, cfg.Replicas)
	assert.Equal(t, 10001, cfg.SlaveDiscoveryPort)
	assert.Equal(t, 30*time.Second, cfg.FirstBatchTimeout)
	assert.Equal(t, time.Second, cfg.MinBatchTimeout)
}

func TestProcessMasterRequiresModel(t *testing.T) {
	t.Setenv("CGT5_MODEL_SCRIPT_PATH", "x.star")
	_, err := ProcessMaster("CGT5")
	assert.Error(t, err)
}

func TestProcessMasterRejects(t *testing.T) {
	t.Setenv("CGT6_MODEL_NAME", "m")
	t.Setenv("CGT6_MODEL_SCRIPT_PATH", "m.star")
	t.Setenv("CGT6_REPLICAS", "0")
	_, err := ProcessMaster("CGT6")
	assert.Error(t, err)
}

func TestProcessMasterTimeSeed(t *testing.T) {
	t.Setenv("CGT7_MODEL_NAME", "m")
	t.Setenv("CGT7_MODEL_SCRIPT_PATH", "m.star")
	cfg, err := ProcessMaster("CGT7")
	require.NoError(t, err)
	assert.NotZero(t, cfg.Seed)
}

func TestParseParams(t *testing.T) {
	p, err := ParseParams("")
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = ParseParams("a=1, b = -2.5,c=1e3")
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{"a": 1, "b": -2.5, "c": 1000}, p)

	_, err = ParseParams("a")
	assert.Error(t, err)
	_, err = ParseParams("a=x")
	assert.Error(t, err)
}

func TestPrintConfig(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)

	cfg, err := ProcessSlave("CGT8")
	require.NoError(t, err)
	cfg.PrintConfig(log)

	var found bool
	for _, e := range logs.All() {
		if e.Message == "EXECUTOR...................... MULTITHREADED" {
			found = true
		}
	}
	assert.True(t, found)
}
