// Package process owns the game server process and the short-lived helper
// commands run around it.
package process

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
)

var ErrRunning = errors.New("game process already running")
var ErrNotRunning = errors.New("no game process running")

// Exit describes how a process ended.
type Exit struct {
	PID        int
	Code       int
	Signal     string
	CoreDumped bool
	Err        error
	Runtime    time.Duration

	// Requested is set when the process ended after Stop was called.
	Requested bool
}

// Clean reports a zero exit without signal.
func (e Exit) Clean() bool {
	return e.Err == nil && e.Code == 0 && e.Signal == "" && !e.CoreDumped
}

func (e Exit) String() string {
	switch {
	case e.Signal != "" && e.CoreDumped:
		return fmt.Sprintf("killed by %s (core dumped)", e.Signal)
	case e.Signal != "":
		return "killed by " + e.Signal
	case e.Err != nil:
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.Code)
}

type Config struct {
	// Binary is run with the path of the written start script as its only
	// argument.
	Binary     string
	ScriptName string
	StopGrace  time.Duration
}

type handle struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stdout  io.ReadCloser
	started time.Time
	done    chan struct{}
	stopped atomic.Bool
}

// Callbacks are invoked from the supervisor's goroutines, never concurrently
// for the same process.
type Callbacks struct {
	OnTelemetry func(Telemetry)
	OnExit      func(Exit)
}

// Supervisor runs at most one game process. Telemetry lines on its stdout
// and its exit are reported through Callbacks.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
	cb     Callbacks

	mu  sync.Mutex
	cur *handle
}

func NewSupervisor(cfg Config, logger *zap.Logger, cb Callbacks) *Supervisor {
	if cfg.ScriptName == "" {
		cfg.ScriptName = "_autohost_script.txt"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 10 * time.Second
	}
	return &Supervisor{cfg: cfg, logger: logger, cb: cb}
}

// Launch writes the start script into workDir and starts the game binary.
func (s *Supervisor) Launch(script, workDir string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil {
		return 0, ErrRunning
	}

	path := filepath.Join(workDir, s.cfg.ScriptName)
	if err := os.WriteFile(path, []byte(script), 0o644); err != nil {
		return 0, fmt.Errorf("write start script: %w", err)
	}

	cmd := exec.Command(s.cfg.Binary, path)
	cmd.Dir = workDir
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return 0, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return 0, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", s.cfg.Binary, err)
	}

	h := &handle{cmd: cmd, stdin: stdin, stdout: stdout, started: time.Now(), done: make(chan struct{})}
	s.cur = h
	pid := cmd.Process.Pid
	s.logger.Info("game process started", zap.Int("pid", pid), zap.String("dir", workDir))

	go s.wait(h)
	return pid, nil
}

// maxTelemetryLine bounds one stdout line; longer output stops parsing and
// the rest is discarded so the process never blocks on a full pipe.
const maxTelemetryLine = 1 << 20

func (s *Supervisor) wait(h *handle) {
	sc := bufio.NewScanner(h.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxTelemetryLine)
	for sc.Scan() {
		t, err := ParseTelemetry(sc.Text())
		if errors.Is(err, ErrNotTelemetry) {
			continue
		}
		if err != nil {
			s.logger.Warn("bad telemetry line", zap.String("line", sc.Text()), zap.Error(err))
			continue
		}
		if s.cb.OnTelemetry != nil {
			s.cb.OnTelemetry(t)
		}
	}
	if err := sc.Err(); err != nil {
		s.logger.Warn("game output no longer parsed", zap.Int("pid", h.cmd.Process.Pid), zap.Error(err))
		_, _ = io.Copy(io.Discard, h.stdout)
	}
	err := h.cmd.Wait()
	exit := classify(h.cmd, err)
	exit.Runtime = time.Since(h.started)
	exit.Requested = h.stopped.Load()

	s.mu.Lock()
	if s.cur == h {
		s.cur = nil
	}
	s.mu.Unlock()
	close(h.done)

	switch {
	case exit.Clean():
		s.logger.Info("game process exited", zap.Int("pid", exit.PID), zap.Duration("runtime", exit.Runtime))
	case exit.Requested:
		s.logger.Info("game process stopped", zap.Int("pid", exit.PID), zap.String("exit", exit.String()))
	default:
		s.logger.Error("game process died", zap.Int("pid", exit.PID), zap.String("exit", exit.String()))
	}
	if s.cb.OnExit != nil {
		s.cb.OnExit(exit)
	}
}

func classify(cmd *exec.Cmd, err error) Exit {
	exit := Exit{}
	if cmd.Process != nil {
		exit.PID = cmd.Process.Pid
	}
	state := cmd.ProcessState
	if state == nil {
		exit.Err = err
		return exit
	}
	exit.Code = state.ExitCode()
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if ws.Signaled() {
			exit.Signal = ws.Signal().String()
			exit.CoreDumped = ws.CoreDump()
		}
	}
	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}
	return exit
}

func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur != nil
}

// Send writes one operator message line to the game process.
func (s *Supervisor) Send(text string) error {
	s.mu.Lock()
	h := s.cur
	s.mu.Unlock()
	if h == nil {
		return ErrNotRunning
	}
	if _, err := io.WriteString(h.stdin, text+"\n"); err != nil {
		return fmt.Errorf("send to game: %w", err)
	}
	return nil
}

// Stop asks the process to terminate and kills it after the grace period.
// It does not wait for the exit; the exit callback fires as usual.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	h := s.cur
	s.mu.Unlock()
	if h == nil {
		return ErrNotRunning
	}
	h.stopped.Store(true)
	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return h.cmd.Process.Kill()
	}
	go func() {
		select {
		case <-h.done:
		case <-time.After(s.cfg.StopGrace):
			s.logger.Warn("game process ignored SIGTERM, killing", zap.Int("pid", h.cmd.Process.Pid))
			_ = h.cmd.Process.Kill()
		}
	}()
	return nil
}
