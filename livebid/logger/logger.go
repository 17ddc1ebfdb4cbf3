package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorPurple = "\033[35m"
	colorCyan   = "\033[36m"
)

// Handler is a compact colored console handler for the bidding service.
// JSON output for log shippers can be had by configuring format = "json",
// which falls back to slog's stock JSON handler in New.
type Handler struct {
	opts      *slog.HandlerOptions
	name      string
	startTime time.Time
	attrs     []slog.Attr
	groups    []string
	mu        sync.Mutex
}

// New builds the default slog handler for the given component name.
func New(name string, level slog.Level, format string) slog.Handler {
	if strings.EqualFold(format, "json") {
		return slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return &Handler{
		opts:      &slog.HandlerOptions{Level: level},
		name:      name,
		startTime: time.Now(),
		attrs:     make([]slog.Attr, 0),
		groups:    make([]string, 0),
	}
}

func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.opts.Level.Level()
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{
		opts:      h.opts,
		name:      h.name,
		startTime: h.startTime,
		attrs:     append(h.attrs[:len(h.attrs):len(h.attrs)], attrs...),
		groups:    h.groups,
	}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{
		opts:      h.opts,
		name:      h.name,
		startTime: h.startTime,
		attrs:     h.attrs,
		groups:    append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}

func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	var levelColor, levelText string
	switch r.Level {
	case slog.LevelDebug:
		levelColor = colorPurple
		levelText = "DEBUG"
	case slog.LevelInfo:
		levelColor = colorGreen
		levelText = "INFO"
	case slog.LevelWarn:
		levelColor = colorYellow
		levelText = "WARN"
	default:
		levelColor = colorRed
		levelText = "ERROR"
	}

	var b strings.Builder
	b.WriteString(fmt.Sprintf("%s[%s]%s ", colorCyan, h.name, colorReset))
	b.WriteString(r.Time.Format("15:04:05.000"))
	b.WriteString(fmt.Sprintf(" %s%-5s%s ", levelColor, levelText, colorReset))
	b.WriteString(r.Message)

	prefix := strings.Join(h.groups, ".")
	writeAttr := func(a slog.Attr) {
		key := a.Key
		if prefix != "" {
			key = prefix + "." + key
		}
		b.WriteString(fmt.Sprintf(" %s%s%s=%v", colorYellow, key, colorReset, a.Value))
	}
	for _, a := range h.attrs {
		writeAttr(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		writeAttr(a)
		return true
	})
	b.WriteByte('\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := os.Stdout.WriteString(b.String())
	return err
}
