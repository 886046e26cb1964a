package host

import (
	"context"
	"errors"
)

// Event is one host log line or notice. The Broadcast Hub sends it to
// every session as {"type": Level, "data": Message}.
type Event struct {
	Level   string
	Message string
}

// Sink receives host events. The Broadcast Hub implements it.
type Sink interface {
	Publish(ctx context.Context, ev Event) error
}

// Adapter connects the gateway to the process whose state it reports.
//
// Start begins forwarding events to sink and returns once forwarding is
// set up; forwarding stops when ctx is cancelled or Close is called.
// Snapshot returns a JSON-serialisable view of host state. Announce shows
// msg to the host operator (used for the bootstrap enrollment code).
type Adapter interface {
	Name() string
	Start(ctx context.Context, sink Sink) error
	Snapshot(ctx context.Context) (any, error)
	Announce(ctx context.Context, msg string) error
	Close() error
}

// Logger is the logging interface used by adapters.
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

var (
	// ErrNotStarted is returned when an adapter is used before Start.
	ErrNotStarted = errors.New("host: adapter not started")

	// ErrAlreadyStarted is returned by a second Start call.
	ErrAlreadyStarted = errors.New("host: adapter already started")

	// ErrNoSnapshot is returned when the host has not reported state yet.
	ErrNoSnapshot = errors.New("host: no snapshot available")
)

// Filtered wraps sink so events ranked below threshold are dropped.
func Filtered(sink Sink, threshold string) Sink {
	return &filterSink{next: sink, min: Rank(threshold)}
}

type filterSink struct {
	next Sink
	min  int
}

func (f *filterSink) Publish(ctx context.Context, ev Event) error {
	if Rank(ev.Level) < f.min {
		return nil
	}
	return f.next.Publish(ctx, ev)
}
