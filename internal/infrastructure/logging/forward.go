package logging

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// ForwardFunc receives one formatted log record.
type ForwardFunc func(level slog.Level, message string)

// Forward returns a Logger that writes like l and also passes every record
// at or above minLevel to fn, formatted as "message key=value ...".
// Attributes attached with With are included; the service and version
// attributes added by New are not. fn is called synchronously and must not
// block or log through the returned Logger.
func (l *Logger) Forward(minLevel slog.Level, fn ForwardFunc) *Logger {
	return &Logger{
		Logger: slog.New(&forwardHandler{
			inner: l.Handler(),
			min:   minLevel,
			fn:    fn,
		}),
	}
}

type forwardHandler struct {
	inner  slog.Handler
	min    slog.Level
	fn     ForwardFunc
	attrs  []slog.Attr
	prefix string
}

func (h *forwardHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.min || h.inner.Enabled(ctx, level)
}

func (h *forwardHandler) Handle(ctx context.Context, r slog.Record) error {
	var err error
	if h.inner.Enabled(ctx, r.Level) {
		err = h.inner.Handle(ctx, r)
	}
	if r.Level < h.min {
		return err
	}

	var b strings.Builder
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, "", a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(&b, h.prefix, a)
		return true
	})
	h.fn(r.Level, b.String())
	return err
}

func (h *forwardHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	clone.inner = h.inner.WithAttrs(attrs)
	clone.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		if h.prefix != "" {
			a.Key = h.prefix + a.Key
		}
		clone.attrs = append(clone.attrs, a)
	}
	return &clone
}

func (h *forwardHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.inner = h.inner.WithGroup(name)
	clone.prefix = h.prefix + name + "."
	return &clone
}

func writeAttr(b *strings.Builder, prefix string, a slog.Attr) {
	v := a.Value.Resolve()
	if v.Kind() == slog.KindGroup {
		p := prefix
		if a.Key != "" {
			p = prefix + a.Key + "."
		}
		for _, ga := range v.Group() {
			writeAttr(b, p, ga)
		}
		return
	}
	if a.Key == "" {
		return
	}
	fmt.Fprintf(b, " %s%s=%v", prefix, a.Key, v.Any())
}
