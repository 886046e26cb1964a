package process

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// Status represents the current state of a managed process.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusFailed   Status = "failed"
)

// Stream identifies which pipe a line of output came from.
type Stream string

const (
	Stdout Stream = "stdout"
	Stderr Stream = "stderr"
)

// maxLineSize bounds one line of captured output. Longer lines are split.
const maxLineSize = 64 * 1024

// Config holds configuration for a managed subprocess.
type Config struct {
	// Name is a human-readable identifier for logging.
	Name string

	// Binary is the path to the executable.
	Binary string

	// Args are command-line arguments to pass to the binary.
	Args []string

	// Env are additional environment variables (key=value format).
	Env []string

	// WorkDir is the working directory for the process.
	WorkDir string

	// RestartOnFailure restarts the process when it exits without Stop.
	RestartOnFailure bool

	// RestartDelay is the wait before each restart.
	RestartDelay time.Duration

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	MaxRestartAttempts int

	// GracefulTimeout is how long to wait after SIGTERM before SIGKILL.
	GracefulTimeout time.Duration

	// OnOutput receives every line the process writes, without the newline.
	// It is called from the capture goroutines, one per stream, so calls
	// for the same stream are ordered.
	OnOutput func(stream Stream, line string)

	// OnStart is called when the process starts successfully.
	OnStart func(pid int)

	// OnStop is called when the process exits; err is nil after Stop.
	OnStop func(err error)
}

// DefaultConfig returns a Config with restart enabled and stock timings.
func DefaultConfig(name, binary string, args []string) Config {
	return Config{
		Name:               name,
		Binary:             binary,
		Args:               args,
		RestartOnFailure:   true,
		RestartDelay:       5 * time.Second,
		MaxRestartAttempts: 10,
		GracefulTimeout:    10 * time.Second,
	}
}

// Logger defines the logging interface for the process manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Manager supervises one subprocess.
type Manager struct {
	config Config
	logger Logger

	mu            sync.RWMutex
	cmd           *exec.Cmd
	status        Status
	restartCount  int
	lastError     error
	startTime     time.Time
	stopRequested bool
	done          chan struct{}

	// output is closed by the capture goroutines of the current cmd.
	output *sync.WaitGroup
}

// NewManager creates a new process manager with the given configuration.
func NewManager(cfg Config) *Manager {
	if cfg.RestartDelay == 0 {
		cfg.RestartDelay = 5 * time.Second
	}
	if cfg.GracefulTimeout == 0 {
		cfg.GracefulTimeout = 10 * time.Second
	}

	return &Manager{
		config: cfg,
		logger: noopLogger{},
		status: StatusStopped,
	}
}

// SetLogger sets the logger for the manager.
func (m *Manager) SetLogger(logger Logger) {
	m.logger = logger
}

// Start launches the subprocess and supervises it until ctx is cancelled
// or Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.status == StatusRunning || m.status == StatusStarting {
		m.mu.Unlock()
		return fmt.Errorf("process %s is already running", m.config.Name)
	}
	m.status = StatusStarting
	m.stopRequested = false
	done := make(chan struct{})
	m.done = done
	m.mu.Unlock()

	if err := m.startProcess(ctx); err != nil {
		m.setStatus(StatusFailed, err)
		close(done)
		return err
	}

	go m.monitor(ctx, done)
	return nil
}

func (m *Manager) startProcess(ctx context.Context) error {
	m.logger.Info("starting process",
		"name", m.config.Name,
		"binary", m.config.Binary,
		"args", m.config.Args,
	)

	cmd := exec.CommandContext(ctx, m.config.Binary, m.config.Args...) //nolint:gosec // binary comes from trusted config
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		// The whole group, so grandchildren release the output pipes.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	if m.config.Env != nil {
		cmd.Env = append(os.Environ(), m.config.Env...)
	}
	if m.config.WorkDir != "" {
		cmd.Dir = m.config.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting %s: %w", m.config.Name, err)
	}

	output := &sync.WaitGroup{}
	output.Add(2)
	go m.captureLines(Stdout, stdout, output)
	go m.captureLines(Stderr, stderr, output)

	m.mu.Lock()
	m.cmd = cmd
	m.output = output
	m.status = StatusRunning
	m.startTime = time.Now()
	m.mu.Unlock()

	m.logger.Info("process started", "name", m.config.Name, "pid", cmd.Process.Pid)

	if m.config.OnStart != nil {
		m.config.OnStart(cmd.Process.Pid)
	}
	return nil
}

// captureLines forwards r line by line to OnOutput until EOF.
func (m *Manager) captureLines(stream Stream, r io.Reader, wg *sync.WaitGroup) {
	defer wg.Done()

	br := bufio.NewReaderSize(r, maxLineSize)
	for {
		// A line longer than the buffer arrives as several calls.
		line, _, err := br.ReadLine()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				m.logger.Debug("output stream closed", "name", m.config.Name, "stream", stream, "error", err)
			}
			return
		}
		if m.config.OnOutput != nil {
			m.config.OnOutput(stream, string(line))
		} else {
			m.logger.Debug("process output", "name", m.config.Name, "stream", stream, "line", string(line))
		}
	}
}

// wait drains the output pipes before reaping the process, as exec.Cmd requires.
func (m *Manager) wait() error {
	m.mu.RLock()
	cmd, output := m.cmd, m.output
	m.mu.RUnlock()

	output.Wait()
	return cmd.Wait()
}

func (m *Manager) monitor(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		err := m.wait()

		m.mu.Lock()
		stopRequested := m.stopRequested
		m.mu.Unlock()

		if stopRequested || ctx.Err() != nil {
			m.logger.Info("process stopped", "name", m.config.Name)
			m.setStatus(StatusStopped, nil)
			if m.config.OnStop != nil {
				m.config.OnStop(nil)
			}
			return
		}

		if err == nil {
			err = errors.New("exited with status 0")
		}
		m.logger.Warn("process exited unexpectedly", "name", m.config.Name, "error", err)
		m.setStatus(StatusFailed, err)
		if m.config.OnStop != nil {
			m.config.OnStop(err)
		}

		if !m.nextRestart(ctx) {
			return
		}
	}
}

// nextRestart waits out the restart delay and starts the process again,
// retrying failed starts. It returns false when supervision should end.
func (m *Manager) nextRestart(ctx context.Context) bool {
	for {
		if !m.config.RestartOnFailure {
			m.logger.Info("restart disabled, not restarting", "name", m.config.Name)
			return false
		}

		m.mu.Lock()
		if m.config.MaxRestartAttempts > 0 && m.restartCount >= m.config.MaxRestartAttempts {
			m.mu.Unlock()
			m.logger.Error("max restart attempts reached", "name", m.config.Name, "attempts", m.config.MaxRestartAttempts)
			return false
		}
		m.restartCount++
		attempt := m.restartCount
		m.mu.Unlock()

		m.logger.Info("restarting process", "name", m.config.Name, "attempt", attempt, "delay", m.config.RestartDelay)

		select {
		case <-ctx.Done():
			return false
		case <-time.After(m.config.RestartDelay):
		}

		m.mu.RLock()
		stopRequested := m.stopRequested
		m.mu.RUnlock()
		if stopRequested {
			m.setStatus(StatusStopped, nil)
			return false
		}

		err := m.startProcess(ctx)
		if err == nil {
			return true
		}
		m.logger.Error("failed to restart process", "name", m.config.Name, "error", err)
		m.setStatus(StatusFailed, err)
	}
}

func (m *Manager) setStatus(s Status, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = s
	if err != nil {
		m.lastError = err
	}
}

// Stop sends SIGTERM to the process group, waits up to GracefulTimeout,
// then sends SIGKILL. It returns once supervision has ended.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.done == nil {
		m.mu.Unlock()
		return nil
	}
	m.stopRequested = true
	cmd := m.cmd
	done := m.done
	running := m.status == StatusRunning
	m.mu.Unlock()

	if !running || cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	m.logger.Info("stopping process", "name", m.config.Name, "pid", pid)

	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		m.logger.Warn("failed to send SIGTERM to process group", "name", m.config.Name, "error", err)
	}

	select {
	case <-done:
		return nil
	case <-time.After(m.config.GracefulTimeout):
		m.logger.Warn("graceful shutdown timeout, sending SIGKILL", "name", m.config.Name, "timeout", m.config.GracefulTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing process group %s: %w", m.config.Name, err)
	}
	<-done
	return nil
}

// Done is closed when supervision ends. It is nil before Start.
func (m *Manager) Done() <-chan struct{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.done
}

// Status returns the current status of the managed process.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

// IsRunning returns true if the process is currently running.
func (m *Manager) IsRunning() bool {
	return m.Status() == StatusRunning
}

// LastError returns the last error that caused the process to exit.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastError
}

// RestartCount returns the number of restart attempts so far.
func (m *Manager) RestartCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.restartCount
}

// PID returns the process ID, or 0 if not running.
func (m *Manager) PID() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.status == StatusRunning && m.cmd != nil && m.cmd.Process != nil {
		return m.cmd.Process.Pid
	}
	return 0
}

// Stats is a point-in-time view of the managed process.
type Stats struct {
	Name          string `json:"name"`
	Status        Status `json:"status"`
	PID           int    `json:"pid,omitempty"`
	UptimeSeconds int64  `json:"uptime_seconds,omitempty"`
	RestartCount  int    `json:"restart_count"`
	LastError     string `json:"last_error,omitempty"`
}

// Stats returns current statistics for the process.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		Name:         m.config.Name,
		Status:       m.status,
		RestartCount: m.restartCount,
	}
	if m.status == StatusRunning {
		if m.cmd != nil && m.cmd.Process != nil {
			stats.PID = m.cmd.Process.Pid
		}
		stats.UptimeSeconds = int64(time.Since(m.startTime).Seconds())
	}
	if m.lastError != nil {
		stats.LastError = m.lastError.Error()
	}
	return stats
}
