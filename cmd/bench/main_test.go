package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"compute-grid/internal/bench"
)

func TestBenchCommandJSON(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{
		"--executors", "SEQUENTIAL",
		"--codecs", "CUSTOM",
		"--compressions", "none,brotli",
		"--batches", "2",
		"--batch-size", "3",
		"--deadline", "2",
		"--params", "rate=2",
		"--json",
	})
	require.NoError(t, cmd.Execute())

	var results []bench.Result
	require.NoError(t, json.Unmarshal(out.Bytes(), &results))
	require.Len(t, results, 2)
	assert.Equal(t, "brotli", results[1].Compression)
	assert.Equal(t, 6, results[0].Trajectories)
}

func TestBenchCommandRejectsUnknownExecutor(t *testing.T) {
	cmd := newRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--executors", "QUANTUM"})
	assert.Error(t, cmd.Execute())
}
