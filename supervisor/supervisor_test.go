//go:build !windows

package supervisor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"

	helpers "github.com/launchdarkly/go-test-helpers/v2"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	helperEnvVar   = "AUTH_CONTRACT_TESTS_HELPER_MODE"
	helperParamKey = "-test.run=^TestHelperProcess$"
	floodLines     = 20000
)

// TestHelperProcess is not a real test: it is the fake service launched by the tests below.
func TestHelperProcess(t *testing.T) {
	mode := os.Getenv(helperEnvVar)
	if mode == "" {
		return
	}
	switch mode {
	case "echo":
		fmt.Println("hello stdout")
		fmt.Fprintln(os.Stderr, "hello stderr")
		fmt.Println("config " + os.Args[len(os.Args)-1])
	case "ignore-term":
		signal.Ignore(syscall.SIGTERM)
		fmt.Println("ready")
	case "exit":
		fmt.Println("bye")
		os.Exit(3)
	case "flood":
		line := strings.Repeat("x", 100)
		for i := 0; i < floodLines; i++ {
			fmt.Println(line)
		}
	case "listen":
		listener, err := net.Listen("tcp", os.Getenv("AUTH_CONTRACT_TESTS_HELPER_ADDR"))
		if err != nil {
			os.Exit(2)
		}
		defer listener.Close()
		fmt.Println("listening")
	}
	time.Sleep(time.Hour)
	os.Exit(0)
}

func newTestSupervisor(t *testing.T, mode string, extraEnv ...string) *Supervisor {
	exe, err := os.Executable()
	require.NoError(t, err)

	src := t.TempDir()
	dataFile := filepath.Join(src, "auth.db")
	require.NoError(t, os.WriteFile(dataFile, []byte("db"), 0o600))
	configFile := filepath.Join(src, "service.json")
	require.NoError(t, os.WriteFile(configFile, []byte(sampleServiceConfig), 0o600))

	s, err := New(Params{
		Executable:     exe,
		DataFile:       dataFile,
		ConfigTemplate: configFile,
		WorkDir:        filepath.Join(t.TempDir(), "work"),
		ParamKey:       helperParamKey,
		Port:           23456,
		SettleDelay:    time.Millisecond * 10,
		Env:            append([]string{helperEnvVar + "=" + mode}, extraEnv...),
		Logger:         &logging.CapturingLogger{},
	})
	require.NoError(t, err)
	require.NoError(t, s.Deploy())
	return s
}

func requireLogContent(t *testing.T, path string, expected string) {
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), expected)
}

func TestDeployCopiesArtifactsAndKeepsExecutableMode(t *testing.T) {
	s := newTestSupervisor(t, "echo")

	exe, _ := os.Executable()
	assert.True(t, helpers.FilePathExists(filepath.Join(s.WorkDir(), "auth.db")))
	assert.True(t, helpers.FilePathExists(s.ConfigPath()))
	info, err := os.Stat(filepath.Join(s.WorkDir(), filepath.Base(exe)))
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100)
}

func TestDeployFailsOnMissingArtifact(t *testing.T) {
	s, err := New(Params{
		Executable:     filepath.Join(t.TempDir(), "nope"),
		DataFile:       "x",
		ConfigTemplate: "y",
		WorkDir:        t.TempDir(),
	})
	require.NoError(t, err)
	assert.ErrorIs(t, s.Deploy(), ErrMissingArtifact)
}

func TestPatchConfigRewritesDeployedCopy(t *testing.T) {
	s := newTestSupervisor(t, "echo")
	require.NoError(t, s.PatchConfig())

	cfg, err := s.ServiceConfig()
	require.NoError(t, err)
	assert.Equal(t, 23456, cfg.Port)
	assert.Equal(t, []int{17, 18}, cfg.TrustedSessions)

	data, err := os.ReadFile(s.ConfigPath())
	require.NoError(t, err)
	assert.Contains(t, string(data), filepath.Join(s.WorkDir(), "auth.db"))
}

func TestStartDrainsBothStreamsIntoLogFiles(t *testing.T) {
	s := newTestSupervisor(t, "echo")
	require.NoError(t, s.Start())
	assert.Equal(t, Running, s.State())
	assert.True(t, s.Process().Running)

	assert.Eventually(t, func() bool { return s.drains[0].Lines() >= 2 && s.drains[1].Lines() >= 1 },
		time.Second*5, time.Millisecond*10)
	require.NoError(t, s.Stop(time.Second*5))

	stdoutPath, stderrPath := s.LogPaths()
	requireLogContent(t, stdoutPath, "hello stdout\n")
	requireLogContent(t, stdoutPath, "config service.json\n")
	requireLogContent(t, stderrPath, "hello stderr\n")
}

func TestStartTwiceFails(t *testing.T) {
	s := newTestSupervisor(t, "echo")
	require.NoError(t, s.Start())
	defer s.Stop(time.Second)
	assert.Error(t, s.Start())
}

func TestStopTerminatesGracefully(t *testing.T) {
	s := newTestSupervisor(t, "echo")
	require.NoError(t, s.Start())

	require.NoError(t, s.Stop(time.Second*5))
	p := s.Process()
	assert.False(t, p.Running)
	assert.True(t, p.ExitCode.IsDefined())
	assert.Equal(t, Stopped, s.State())
}

func TestStopKillsProcessIgnoringTermination(t *testing.T) {
	s := newTestSupervisor(t, "ignore-term")
	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return s.drains[0].Lines() >= 1 }, time.Second*5, time.Millisecond*10)

	started := time.Now()
	require.NoError(t, s.Stop(time.Millisecond*200))
	assert.GreaterOrEqual(t, time.Since(started), time.Millisecond*200)
	assert.False(t, s.Process().Running)
	assert.Equal(t, -1, s.Process().ExitCode.IntValue())
}

func TestStopAfterProcessAlreadyExited(t *testing.T) {
	s := newTestSupervisor(t, "exit")
	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return !s.Process().Running }, time.Second*5, time.Millisecond*10)

	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, 3, s.Process().ExitCode.IntValue())
	stdoutPath, _ := s.LogPaths()
	requireLogContent(t, stdoutPath, "bye\n")
}

func TestStopIsIdempotentAndAllowedBeforeStart(t *testing.T) {
	s := newTestSupervisor(t, "echo")
	require.NoError(t, s.Stop(time.Second))
	assert.Equal(t, Stopped, s.State())
	require.NoError(t, s.Stop(time.Second))
	assert.Error(t, s.Start())
}

func TestDrainsKeepUpWithHeavyOutput(t *testing.T) {
	s := newTestSupervisor(t, "flood")
	require.NoError(t, s.Start())
	assert.Eventually(t, func() bool { return s.drains[0].Lines() == floodLines }, time.Second*20, time.Millisecond*20)
	require.NoError(t, s.Stop(time.Second*5))
}

func TestAwaitReady(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	require.NoError(t, listener.Close())

	s := newTestSupervisor(t, "listen", "AUTH_CONTRACT_TESTS_HELPER_ADDR="+addr)
	require.NoError(t, s.Start())
	defer s.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	assert.NoError(t, s.AwaitReady(ctx, addr))
}

func TestAwaitReadyFailsWhenServiceExits(t *testing.T) {
	s := newTestSupervisor(t, "exit")
	require.NoError(t, s.Start())
	defer s.Stop(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()
	err := s.AwaitReady(ctx, "127.0.0.1:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exited")
}

func TestResourceUsage(t *testing.T) {
	s := newTestSupervisor(t, "echo")
	_, err := s.ResourceUsage()
	assert.ErrorIs(t, err, ErrNotRunning)

	require.NoError(t, s.Start())
	defer s.Stop(time.Second)
	usage, err := s.ResourceUsage()
	require.NoError(t, err)
	assert.NotZero(t, usage.RSS)
}
