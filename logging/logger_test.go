package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturingLoggerDump(t *testing.T) {
	var l CapturingLogger
	prefixed := WithPrefix(&l, "[session 3001] ")
	prefixed.Printf("login as %q", "operator1")
	l.Printf("done")

	output := l.Output()
	require.Len(t, output, 2)
	assert.Equal(t, `[session 3001] login as "operator1"`, output[0].Message)

	var b bytes.Buffer
	output.Dump(&b, ">> ")
	lines := strings.Split(strings.TrimSuffix(b.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], ">> ["))
	assert.True(t, strings.HasSuffix(lines[1], "] done"))
}

func TestWithPrefixOfNilIsNull(t *testing.T) {
	assert.NotPanics(t, func() { WithPrefix(nil, "x").Printf("ignored") })
}

func TestRunLoggerConsole(t *testing.T) {
	var console bytes.Buffer
	r, err := NewRunLogger(&console, WithRunID(" run-1 "))
	require.NoError(t, err)
	defer r.Close() //nolint:errcheck

	r.Debug("hidden")
	r.Info("service started", "pid", 42)
	r.Printf("via %s", "Printf")

	s := console.String()
	assert.NotContains(t, s, "hidden")
	assert.Contains(t, s, "service started")
	assert.Contains(t, s, "pid=42")
	assert.Contains(t, s, "run_id=run-1")
	assert.Contains(t, s, "via Printf")
	assert.Equal(t, "", r.Path())
}

func TestRunLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.jsonl")
	var console bytes.Buffer
	r, err := NewRunLogger(&console, WithFile(path), WithDebug(true), WithRunID("run-2"))
	require.NoError(t, err)
	assert.Equal(t, path, r.Path())

	r.Debug("deployed", "dir", "/tmp/work")
	require.NoError(t, r.Close())
	assert.Empty(t, console.String())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var record map[string]interface{}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "deployed", record["msg"])
	assert.Equal(t, "/tmp/work", record["dir"])
	assert.Equal(t, "run-2", record["run_id"])
	assert.Equal(t, "debug", record["level"])
}
