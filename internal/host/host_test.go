package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingSink collects published events.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
	notify chan struct{}
	err    error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{notify: make(chan struct{}, 64)}
}

func (s *recordingSink) Publish(_ context.Context, ev Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	err := s.err
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return err
}

func (s *recordingSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Event(nil), s.events...)
}

// waitFor blocks until the sink holds n events or the timeout elapses.
func (s *recordingSink) waitFor(t *testing.T, n int, timeout time.Duration) []Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		if events := s.Events(); len(events) >= n {
			return events
		}
		select {
		case <-s.notify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, got %v", n, s.Events())
		}
	}
}

func TestRank_Ordering(t *testing.T) {
	order := []string{LevelVerboseDebug, LevelDebug, LevelNotification, LevelWarning, LevelError, LevelFatal}
	for i := 1; i < len(order); i++ {
		if Rank(order[i-1]) >= Rank(order[i]) {
			t.Errorf("Rank(%s) >= Rank(%s)", order[i-1], order[i])
		}
	}

	for _, peer := range []string{LevelChat, LevelEvent, LevelStoryEvent, LevelBuild, LevelAudit, "SomethingNew"} {
		if Rank(peer) != Rank(LevelNotification) {
			t.Errorf("Rank(%s) = %d, want Notification rank", peer, Rank(peer))
		}
	}

	if Rank("warning") != Rank(LevelWarning) {
		t.Error("Rank should be case-insensitive")
	}
}

func TestParseTagged(t *testing.T) {
	tests := []struct {
		name      string
		line      string
		fallback  string
		wantLevel string
		wantMsg   string
	}{
		{"no tag", "server started", LevelNotification, LevelNotification, "server started"},
		{"known tag", "[Warning] disk almost full", LevelNotification, LevelWarning, "disk almost full"},
		{"lowercase tag", "[error] crashed", LevelNotification, LevelError, "crashed"},
		{"unknown tag kept", "[12:00:01] tick", LevelError, LevelError, "[12:00:01] tick"},
		{"unterminated tag", "[Warning oops", LevelNotification, LevelNotification, "[Warning oops"},
		{"tag only", "[Chat]", LevelNotification, LevelChat, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			level, msg := ParseTagged(tt.line, tt.fallback)
			if level != tt.wantLevel || msg != tt.wantMsg {
				t.Errorf("ParseTagged(%q) = (%q, %q), want (%q, %q)", tt.line, level, msg, tt.wantLevel, tt.wantMsg)
			}
		})
	}
}

func TestFiltered(t *testing.T) {
	sink := newRecordingSink()
	filtered := Filtered(sink, LevelDebug)
	ctx := context.Background()

	for _, level := range []string{LevelVerboseDebug, LevelDebug, LevelChat, LevelFatal} {
		if err := filtered.Publish(ctx, Event{Level: level, Message: level}); err != nil {
			t.Fatalf("Publish(%s) error = %v", level, err)
		}
	}

	got := sink.Events()
	if len(got) != 3 {
		t.Fatalf("forwarded %d events, want 3: %v", len(got), got)
	}
	if got[0].Level != LevelDebug {
		t.Errorf("first forwarded level = %s, want Debug", got[0].Level)
	}
}

func TestLocal_EmitBeforeStart(t *testing.T) {
	l := NewLocal("test", nil)
	if err := l.Emit(context.Background(), LevelChat, "hi"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Emit() before Start error = %v, want ErrNotStarted", err)
	}
}

func TestLocal_Lifecycle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLocal("1.2.3", nil)
	l.SetSessionCounter(func() int { return 7 })
	sink := newRecordingSink()

	if err := l.Start(ctx, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := l.Start(ctx, sink); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}

	if err := l.Emit(ctx, LevelWarning, "low memory"); err != nil {
		t.Fatalf("Emit() error = %v", err)
	}
	got := sink.Events()
	if len(got) != 1 || got[0] != (Event{Level: LevelWarning, Message: "low memory"}) {
		t.Errorf("events = %v", got)
	}

	raw, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}
	snap, ok := raw.(LocalSnapshot)
	if !ok {
		t.Fatalf("Snapshot() type = %T, want LocalSnapshot", raw)
	}
	if snap.Version != "1.2.3" || snap.Sessions != 7 || snap.Goroutines == 0 {
		t.Errorf("snapshot = %+v", snap)
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := l.Emit(ctx, LevelChat, "late"); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Emit() after Close error = %v, want ErrNotStarted", err)
	}
}

func TestLocal_LogForwarding(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	l := NewLocal("test", nil)
	sink := newRecordingSink()

	l.Log(slog.LevelWarn, "before start")

	if err := l.Start(ctx, sink); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	l.Log(slog.LevelWarn, "disk low free=3")
	l.Log(slog.LevelInfo, "session opened")
	l.Log(slog.LevelError, "listener failed")

	want := []Event{
		{Level: LevelWarning, Message: "disk low free=3"},
		{Level: LevelNotification, Message: "session opened"},
		{Level: LevelError, Message: "listener failed"},
	}
	got := sink.waitFor(t, len(want), 2*time.Second)
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %+v, want %+v", i, got[i], want[i])
		}
	}

	if err := l.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	l.Log(slog.LevelError, "after close")
	time.Sleep(20 * time.Millisecond)
	if n := len(sink.Events()); n != len(want) {
		t.Errorf("events after Close = %d, want %d", n, len(want))
	}
}

func TestFromSlog(t *testing.T) {
	tests := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, LevelDebug},
		{slog.LevelInfo, LevelNotification},
		{slog.LevelWarn, LevelWarning},
		{slog.LevelError, LevelError},
		{slog.LevelError + 4, LevelError},
	}
	for _, tt := range tests {
		if got := FromSlog(tt.level); got != tt.want {
			t.Errorf("FromSlog(%v) = %q, want %q", tt.level, got, tt.want)
		}
	}
}

func TestLocal_Announce(t *testing.T) {
	logger := &capturingLogger{}
	l := NewLocal("test", logger)

	if err := l.Announce(context.Background(), "enrollment code: Ab3dE9"); err != nil {
		t.Fatalf("Announce() error = %v", err)
	}
	if len(logger.warnings) != 1 || logger.warnings[0] != "enrollment code: Ab3dE9" {
		t.Errorf("warnings = %v", logger.warnings)
	}
}

type capturingLogger struct {
	noopLogger
	mu       sync.Mutex
	warnings []string
}

func (c *capturingLogger) Warn(msg string, _ ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, msg)
}
