package host

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"time"
)

// Local treats the gateway process itself as the host.
//
// Events come from Emit and from the gateway's own log through Log.
// Snapshot reports Go runtime statistics.
type Local struct {
	version string
	started time.Time
	logger  Logger
	logs    chan Event

	mu       sync.RWMutex
	sink     Sink
	sessions func() int
}

// LocalSnapshot is the /api/server payload in local mode.
type LocalSnapshot struct {
	Host           string    `json:"host"`
	Version        string    `json:"version"`
	GoVersion      string    `json:"go_version"`
	StartedAt      time.Time `json:"started_at"`
	UptimeSeconds  int64     `json:"uptime_seconds"`
	Goroutines     int       `json:"goroutines"`
	HeapAllocBytes uint64    `json:"heap_alloc_bytes"`
	NumGC          uint32    `json:"num_gc"`
	Sessions       int       `json:"sessions"`
}

// NewLocal creates a local adapter. A nil logger discards output.
func NewLocal(version string, logger Logger) *Local {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Local{
		version: version,
		started: time.Now().UTC(),
		logger:  logger,
		logs:    make(chan Event, logQueueSize),
	}
}

// logQueueSize bounds log records waiting for the sink.
const logQueueSize = 256

// SetSessionCounter supplies the live session count for snapshots.
func (l *Local) SetSessionCounter(fn func() int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sessions = fn
}

// Name returns "local".
func (l *Local) Name() string { return "local" }

// Start records sink as the destination for Emit.
func (l *Local) Start(ctx context.Context, sink Sink) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sink != nil {
		return ErrAlreadyStarted
	}
	l.sink = sink

	go l.forwardLogs(ctx, sink)
	return nil
}

// forwardLogs publishes queued log records until ctx is cancelled.
func (l *Local) forwardLogs(ctx context.Context, sink Sink) {
	for {
		select {
		case <-ctx.Done():
			l.detach()
			return
		case ev := <-l.logs:
			if !l.attached() {
				continue
			}
			sink.Publish(ctx, ev) //nolint:errcheck // logging the error would feed this loop
		}
	}
}

// Log queues a gateway log record for the sink. It never blocks; records
// are dropped before Start, after Close and while the queue is full.
// Its signature matches logging.ForwardFunc.
func (l *Local) Log(level slog.Level, message string) {
	if !l.attached() {
		return
	}
	select {
	case l.logs <- Event{Level: FromSlog(level), Message: message}:
	default:
	}
}

func (l *Local) attached() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sink != nil
}

// Emit forwards one event to the sink.
func (l *Local) Emit(ctx context.Context, level, message string) error {
	l.mu.RLock()
	sink := l.sink
	l.mu.RUnlock()

	if sink == nil {
		return ErrNotStarted
	}
	return sink.Publish(ctx, Event{Level: level, Message: message})
}

// Snapshot returns a LocalSnapshot.
func (l *Local) Snapshot(_ context.Context) (any, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	l.mu.RLock()
	sessions := l.sessions
	l.mu.RUnlock()

	snap := LocalSnapshot{
		Host:           l.Name(),
		Version:        l.version,
		GoVersion:      runtime.Version(),
		StartedAt:      l.started,
		UptimeSeconds:  int64(time.Since(l.started).Seconds()),
		Goroutines:     runtime.NumGoroutine(),
		HeapAllocBytes: mem.HeapAlloc,
		NumGC:          mem.NumGC,
	}
	if sessions != nil {
		snap.Sessions = sessions()
	}
	return snap, nil
}

// Announce writes msg to the gateway log at warn level.
func (l *Local) Announce(_ context.Context, msg string) error {
	l.logger.Warn(msg, "host", l.Name())
	return nil
}

// Close detaches the sink.
func (l *Local) Close() error {
	l.detach()
	return nil
}

func (l *Local) detach() {
	l.mu.Lock()
	l.sink = nil
	l.mu.Unlock()
}
