package tracing

import (
	"context"
	"log/slog"
)

// A LogHook writes every walk event to a structured logger.
type LogHook struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogHook creates a LogHook that logs at debug level. A nil logger means
// slog.Default().
func NewLogHook(logger *slog.Logger) *LogHook {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogHook{
		logger: logger,
		level:  slog.LevelDebug,
	}
}

// WithLevel sets the level the events are logged at.
func (h *LogHook) WithLevel(level slog.Level) *LogHook {
	h.level = level
	return h
}

// Func logs the event carried by the context.
func (h *LogHook) Func(ctx HookCtx) {
	e, ok := ctx.Item.(Event)
	if !ok {
		return
	}

	level := h.level
	if e.Kind == EventFault && level < slog.LevelInfo {
		level = slog.LevelInfo
	}

	if !h.logger.Enabled(context.Background(), level) {
		return
	}

	attrs := []slog.Attr{
		slog.Uint64("walk", ctx.Walk),
		slog.Int("seq", e.Seq),
		slog.Int("pt_level", e.Level),
	}

	switch e.Kind {
	case EventWalkStart:
		attrs = append(attrs,
			slog.String("mode", e.Mode),
			slog.String("va", hex(e.VAddr)),
			slog.String("root", hex(e.PAddr)))
	case EventDecode:
		attrs = append(attrs, slog.String("vpn", hex(e.Index)))
	case EventTableBase:
		attrs = append(attrs, slog.String("base", hex(e.PAddr)))
	case EventPTEFetch:
		attrs = append(attrs,
			slog.String("index", hex(e.Index)),
			slog.String("addr", hex(e.PAddr)),
			slog.String("ppn", hex(e.PPN)),
			slog.String("flags", FormatFlags(e.Flags)))
	case EventDecision:
		attrs = append(attrs, slog.String("decision", e.Decision.String()))
	case EventFault:
		attrs = append(attrs, slog.String("fault", e.Fault))
	case EventResult:
		attrs = append(attrs, slog.String("pa", hex(e.PAddr)))
	}

	h.logger.LogAttrs(context.Background(), level, e.Kind.String(), attrs...)
}
