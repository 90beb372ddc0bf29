package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/jsonrpc-itest/auth-contract-tests/logging"

	"github.com/alessio/shellescape"
	"gopkg.in/launchdarkly/go-sdk-common.v2/ldvalue"
)

const (
	logDirName         = "log"
	stdoutLogName      = "log_stdout.txt"
	stderrLogName      = "log_stderr.txt"
	killWaitTimeout    = time.Second * 10
	drainWaitTimeout   = time.Second * 5
	readyPollInterval  = time.Millisecond * 50
	readyDialTimeout   = time.Millisecond * 200
	defaultSettleDelay = time.Second
)

// ErrMissingArtifact is returned by Deploy when a file it must copy does not exist.
var ErrMissingArtifact = errors.New("missing artifact")

// State is the lifecycle state of a Supervisor.
type State int

const (
	NotStarted State = iota
	Running
	Stopping
	Stopped
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NotStarted"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	case Stopped:
		return "Stopped"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Params describes what to deploy and how to launch it.
type Params struct {
	// Executable, DataFile and ConfigTemplate are copied into WorkDir by Deploy.
	Executable     string
	DataFile       string
	ConfigTemplate string
	WorkDir        string
	// ParamKey is the command-line switch that precedes the config file name.
	ParamKey string
	Port     int
	// SettleDelay is how long Stop waits before doing anything. Zero means one second.
	SettleDelay time.Duration
	// OutputEncoding is passed to NewLineDecoder.
	OutputEncoding string
	// Env is added to the inherited environment of the service.
	Env    []string
	Logger logging.Logger
}

// ServiceProcess is a snapshot of the launched service.
type ServiceProcess struct {
	PID      int
	Running  bool
	ExitCode ldvalue.OptionalInt
	WorkDir  string
}

// Supervisor deploys and runs one instance of the service under test. Only the Supervisor
// signals or waits on the process.
type Supervisor struct {
	params   Params
	workDir  string
	logger   logging.Logger
	state    State
	cmd      *exec.Cmd
	exited   chan struct{}
	exitCode ldvalue.OptionalInt
	drains   []*OutputDrain
	closers  []io.Closer
	lock     sync.Mutex
	stopLock sync.Mutex
}

// New creates a Supervisor. Nothing is touched on disk until Deploy is called.
func New(params Params) (*Supervisor, error) {
	workDir, err := filepath.Abs(params.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("invalid working directory %q: %w", params.WorkDir, err)
	}
	if params.SettleDelay <= 0 {
		params.SettleDelay = defaultSettleDelay
	}
	logger := params.Logger
	if logger == nil {
		logger = logging.NullLogger()
	}
	return &Supervisor{params: params, workDir: workDir, logger: logger}, nil
}

// WorkDir returns the absolute deployment directory.
func (s *Supervisor) WorkDir() string {
	return s.workDir
}

// ConfigPath returns the path of the deployed service config.
func (s *Supervisor) ConfigPath() string {
	return s.deployed(s.params.ConfigTemplate)
}

// LogPaths returns the paths of the stdout and stderr log files.
func (s *Supervisor) LogPaths() (stdout, stderr string) {
	dir := filepath.Join(s.workDir, logDirName)
	return filepath.Join(dir, stdoutLogName), filepath.Join(dir, stderrLogName)
}

func (s *Supervisor) deployed(artifact string) string {
	return filepath.Join(s.workDir, filepath.Base(artifact))
}

// Deploy copies the executable, the data file and the config template into the working
// directory, creating it if necessary. A missing artifact is reported as ErrMissingArtifact.
func (s *Supervisor) Deploy() error {
	artifacts := []struct{ kind, path string }{
		{"executable", s.params.Executable},
		{"data file", s.params.DataFile},
		{"config", s.params.ConfigTemplate},
	}
	for _, a := range artifacts {
		if a.path == "" {
			return fmt.Errorf("%w: no %s configured", ErrMissingArtifact, a.kind)
		}
		if info, err := os.Stat(a.path); err != nil || info.IsDir() {
			return fmt.Errorf("%w: %s %s", ErrMissingArtifact, a.kind, a.path)
		}
	}
	if err := os.MkdirAll(s.workDir, 0o755); err != nil {
		return fmt.Errorf("cannot create working directory: %w", err)
	}
	for _, a := range artifacts {
		dest := s.deployed(a.path)
		if err := copyFile(a.path, dest); err != nil {
			return fmt.Errorf("cannot deploy %s: %w", a.kind, err)
		}
		s.logger.Printf("Deployed %s to %s", a.path, dest)
	}
	return nil
}

func copyFile(src, dest string) error {
	srcAbs, _ := filepath.Abs(src)
	if srcAbs == dest {
		return nil
	}
	in, err := os.Open(src) // #nosec G304 -- artifact paths come from the run configuration
	if err != nil {
		return err
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Chmod(dest, info.Mode().Perm())
}

// PatchConfig rewrites the deployed config so that the service logs into the working
// directory, uses the deployed data file, and listens on the configured port.
func (s *Supervisor) PatchConfig() error {
	path := s.ConfigPath()
	data, err := os.ReadFile(path) // #nosec G304 -- path is inside the working directory
	if err != nil {
		return fmt.Errorf("cannot read deployed config: %w", err)
	}
	patched, err := patchServiceConfig(data, s.deployed(s.params.DataFile), s.params.Port)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, patched, 0o644); err != nil { // #nosec G306
		return fmt.Errorf("cannot write deployed config: %w", err)
	}
	return nil
}

// ServiceConfig reads the deployed service config.
func (s *Supervisor) ServiceConfig() (ServiceConfig, error) {
	return ReadServiceConfig(s.ConfigPath())
}

// Start launches the deployed executable as "<exe> <ParamKey> <config file name>" in the
// working directory and starts draining its output.
func (s *Supervisor) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.state != NotStarted {
		return fmt.Errorf("cannot start service in state %s", s.state)
	}

	decode, err := NewLineDecoder(s.params.OutputEncoding)
	if err != nil {
		return err
	}
	stdoutPath, stderrPath := s.LogPaths()
	if err := os.MkdirAll(filepath.Dir(stdoutPath), 0o755); err != nil {
		return fmt.Errorf("cannot create log directory: %w", err)
	}

	var closers []io.Closer
	fail := func(err error) error {
		for _, c := range closers {
			_ = c.Close()
		}
		return err
	}
	openLog := func(path string) (*os.File, error) {
		// #nosec G304 -- path is inside the working directory
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err == nil {
			closers = append(closers, f)
		}
		return f, err
	}
	stdoutLog, err := openLog(stdoutPath)
	if err != nil {
		return fail(err)
	}
	stderrLog, err := openLog(stderrPath)
	if err != nil {
		return fail(err)
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, stdoutR, stdoutW)
	stderrR, stderrW, err := os.Pipe()
	if err != nil {
		return fail(err)
	}
	closers = append(closers, stderrR, stderrW)

	cmd := exec.Command(s.deployed(s.params.Executable), s.params.ParamKey, filepath.Base(s.params.ConfigTemplate)) // #nosec G204
	cmd.Dir = s.workDir
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW
	if len(s.params.Env) > 0 {
		cmd.Env = append(os.Environ(), s.params.Env...)
	}
	s.logger.Printf("Starting service: %s", shellescape.QuoteCommand(cmd.Args))
	if err := cmd.Start(); err != nil {
		return fail(fmt.Errorf("cannot start service: %w", err))
	}
	// the child has its own copies; ours must go so the drains see end of stream
	_ = stdoutW.Close()
	_ = stderrW.Close()

	s.cmd = cmd
	s.exited = make(chan struct{})
	s.closers = []io.Closer{stdoutR, stderrR, stdoutLog, stderrLog}
	s.drains = []*OutputDrain{
		NewOutputDrain("stdout", stdoutR, stdoutLog, decode, s.logger),
		NewOutputDrain("stderr", stderrR, stderrLog, decode, s.logger),
	}
	for _, d := range s.drains {
		d.Start()
	}
	go s.waitForExit(cmd, s.exited)
	s.state = Running
	s.logger.Printf("Service started with PID %d", cmd.Process.Pid)
	return nil
}

func (s *Supervisor) waitForExit(cmd *exec.Cmd, exited chan struct{}) {
	err := cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	s.lock.Lock()
	s.exitCode = ldvalue.NewOptionalInt(code)
	s.lock.Unlock()
	if err != nil {
		s.logger.Printf("Service exited: %s", err)
	} else {
		s.logger.Printf("Service exited with code %d", code)
	}
	close(exited)
}

// AwaitReady polls the service's RPC address until it accepts a TCP connection. It fails if
// the process exits first, or if ctx is done.
func (s *Supervisor) AwaitReady(ctx context.Context, addr string) error {
	s.lock.Lock()
	exited := s.exited
	s.lock.Unlock()
	if exited == nil {
		return ErrNotRunning
	}
	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()
	for {
		conn, err := net.DialTimeout("tcp", addr, readyDialTimeout)
		if err == nil {
			_ = conn.Close()
			s.logger.Printf("Service is accepting connections at %s", addr)
			return nil
		}
		select {
		case <-exited:
			return fmt.Errorf("service exited before accepting connections (exit code %d)", s.Process().ExitCode.IntValue())
		case <-ctx.Done():
			return fmt.Errorf("service did not accept connections at %s: %w", addr, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stop shuts the service down: it waits for the settle delay, then, if the process is still
// running, requests termination and waits up to gracePeriod before killing it. When Stop
// returns without error the process is not running and the output logs are closed.
func (s *Supervisor) Stop(gracePeriod time.Duration) error {
	s.stopLock.Lock()
	defer s.stopLock.Unlock()

	s.lock.Lock()
	switch s.state {
	case NotStarted:
		s.state = Stopped
		s.lock.Unlock()
		return nil
	case Stopped:
		s.lock.Unlock()
		return nil
	}
	s.state = Stopping
	cmd, exited := s.cmd, s.exited
	s.lock.Unlock()

	time.Sleep(s.params.SettleDelay)

	err := s.terminate(cmd, exited, gracePeriod)

	for _, d := range s.drains {
		if werr := d.Wait(drainWaitTimeout); werr != nil {
			// something else still holds the pipe open; closing our end ends the drain
			s.logger.Printf("%s", werr)
		}
	}
	for _, c := range s.closers {
		_ = c.Close()
	}
	for _, d := range s.drains {
		<-d.Done()
	}

	s.lock.Lock()
	s.state = Stopped
	s.lock.Unlock()
	return err
}

func (s *Supervisor) terminate(cmd *exec.Cmd, exited <-chan struct{}, gracePeriod time.Duration) error {
	select {
	case <-exited:
		return nil
	default:
	}

	s.logger.Printf("Requesting service shutdown")
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil {
		s.logger.Printf("Could not signal service: %s", err)
	} else {
		deadline := time.NewTimer(gracePeriod)
		defer deadline.Stop()
		select {
		case <-exited:
			return nil
		case <-deadline.C:
		}
	}

	s.logger.Printf("Service did not exit within %s, killing it", gracePeriod)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Printf("Could not kill service: %s", err)
	}
	killDeadline := time.NewTimer(killWaitTimeout)
	defer killDeadline.Stop()
	select {
	case <-exited:
		return nil
	case <-killDeadline.C:
		return fmt.Errorf("service with PID %d is still running after kill", cmd.Process.Pid)
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.state
}

// Process returns a snapshot of the service process.
func (s *Supervisor) Process() ServiceProcess {
	s.lock.Lock()
	defer s.lock.Unlock()
	p := ServiceProcess{WorkDir: s.workDir, ExitCode: s.exitCode}
	if s.cmd != nil && s.cmd.Process != nil {
		p.PID = s.cmd.Process.Pid
		select {
		case <-s.exited:
		default:
			p.Running = true
		}
	}
	return p
}
