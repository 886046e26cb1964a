package host

import (
	"context"
	"sync"
	"time"

	"github.com/thaeryn/httpgateway/internal/process"
)

// DefaultRecentLines is the snapshot line buffer size when none is set.
const DefaultRecentLines = 100

// Process supervises the host server binary and forwards its output.
//
// Each output line becomes an Event. A leading "[Level]" tag sets the
// level; otherwise stdout lines are Notification and stderr lines Error.
type Process struct {
	manager *process.Manager
	logger  Logger

	mu      sync.Mutex
	sink    Sink
	ctx     context.Context
	recent  []Line
	next    int
	full    bool
	started bool
}

// Line is one captured output line.
type Line struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

// ProcessSnapshot is the /api/server payload in process mode.
type ProcessSnapshot struct {
	Host    string        `json:"host"`
	Process process.Stats `json:"process"`
	Recent  []Line        `json:"recent"`
}

// NewProcess creates an adapter for the binary described by cfg.
// cfg.OnOutput is replaced. recentLines <= 0 uses DefaultRecentLines.
func NewProcess(cfg process.Config, recentLines int, logger Logger) *Process {
	if recentLines <= 0 {
		recentLines = DefaultRecentLines
	}
	if logger == nil {
		logger = noopLogger{}
	}

	p := &Process{
		logger: logger,
		recent: make([]Line, recentLines),
	}
	cfg.OnOutput = p.handleLine
	p.manager = process.NewManager(cfg)
	p.manager.SetLogger(logger)
	return p
}

// Name returns "process".
func (p *Process) Name() string { return "process" }

// Start launches the host binary and begins forwarding its output.
func (p *Process) Start(ctx context.Context, sink Sink) error {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return ErrAlreadyStarted
	}
	p.started = true
	p.sink = sink
	p.ctx = ctx
	p.mu.Unlock()

	if err := p.manager.Start(ctx); err != nil {
		p.mu.Lock()
		p.started = false
		p.sink = nil
		p.mu.Unlock()
		return err
	}
	return nil
}

func (p *Process) handleLine(stream process.Stream, line string) {
	fallback := LevelNotification
	if stream == process.Stderr {
		fallback = LevelError
	}
	level, msg := ParseTagged(line, fallback)

	p.mu.Lock()
	p.recent[p.next] = Line{Time: time.Now().UTC(), Level: level, Message: msg}
	p.next = (p.next + 1) % len(p.recent)
	if p.next == 0 {
		p.full = true
	}
	sink, ctx := p.sink, p.ctx
	p.mu.Unlock()

	if sink == nil {
		return
	}
	if err := sink.Publish(ctx, Event{Level: level, Message: msg}); err != nil {
		p.logger.Debug("host event dropped", "error", err)
	}
}

// Recent returns captured lines, oldest first.
func (p *Process) Recent() []Line {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.full {
		return append([]Line(nil), p.recent[:p.next]...)
	}
	out := make([]Line, 0, len(p.recent))
	out = append(out, p.recent[p.next:]...)
	return append(out, p.recent[:p.next]...)
}

// Snapshot returns a ProcessSnapshot.
func (p *Process) Snapshot(_ context.Context) (any, error) {
	return ProcessSnapshot{
		Host:    p.Name(),
		Process: p.manager.Stats(),
		Recent:  p.Recent(),
	}, nil
}

// Announce writes msg to the gateway log at warn level. The host binary
// has no input channel.
func (p *Process) Announce(_ context.Context, msg string) error {
	p.logger.Warn(msg, "host", p.Name())
	return nil
}

// Done is closed once supervision of the host binary ends, either after
// Close or when restarts are exhausted. It is nil before Start.
func (p *Process) Done() <-chan struct{} {
	return p.manager.Done()
}

// Close stops the host binary.
func (p *Process) Close() error {
	p.mu.Lock()
	p.sink = nil
	p.mu.Unlock()
	return p.manager.Stop()
}
