package logging

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// swapHandler forwards records to whichever handler was installed last.
// Handlers derived with WithAttrs or WithGroup share the installed handler and
// replay their attrs and groups onto it.
type swapHandler struct {
	current *atomic.Pointer[slog.Handler]
	ops     []handlerOp
}

type handlerOp struct {
	group string
	attrs []slog.Attr
}

func newSwapHandler(h slog.Handler) *swapHandler {
	s := &swapHandler{current: &atomic.Pointer[slog.Handler]{}}
	s.swap(h)

	return s
}

func (s *swapHandler) swap(h slog.Handler) {
	s.current.Store(&h)
}

func (s *swapHandler) resolve() slog.Handler {
	h := *s.current.Load()
	for _, op := range s.ops {
		if op.group != "" {
			h = h.WithGroup(op.group)
		} else {
			h = h.WithAttrs(op.attrs)
		}
	}

	return h
}

func (s *swapHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return (*s.current.Load()).Enabled(ctx, level)
}

func (s *swapHandler) Handle(ctx context.Context, r slog.Record) error {
	return s.resolve().Handle(ctx, r)
}

func (s *swapHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return s
	}

	return s.with(handlerOp{attrs: attrs})
}

func (s *swapHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return s
	}

	return s.with(handlerOp{group: name})
}

func (s *swapHandler) with(op handlerOp) *swapHandler {
	ops := make([]handlerOp, 0, len(s.ops)+1)
	ops = append(ops, s.ops...)
	ops = append(ops, op)

	return &swapHandler{current: s.current, ops: ops}
}
