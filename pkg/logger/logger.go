// Package logger builds the process *slog.Logger on a zerolog backend.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Formats.
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Options configures New.
type Options struct {
	Level  string // debug, info, warn, error; default info
	Format string // json or console; default json
	Writer io.Writer
}

// New returns a slog.Logger writing through zerolog.
//
// Example:
//
//	log, err := logger.New(logger.Options{Level: "debug", Format: "console"})
//	if err != nil {
//		return err
//	}
//	ctx = smartchat.WithLogger(ctx, log)
func New(opts Options) (*slog.Logger, error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, err
	}
	w := opts.Writer
	if w == nil {
		w = os.Stdout
	}
	switch opts.Format {
	case "", FormatJSON:
	case FormatConsole:
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return slog.New(NewHandler(zerolog.New(w), level)), nil
}

// ParseLevel parses a slog level name. Empty means info.
func ParseLevel(s string) (slog.Level, error) {
	if s == "" {
		return slog.LevelInfo, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

// Handler is a slog.Handler that emits records as zerolog events.
// Groups are flattened into dotted keys.
type Handler struct {
	logger zerolog.Logger
	level  slog.Leveler
	attrs  []prefixedAttr
	prefix string
}

type prefixedAttr struct {
	prefix string
	attr   slog.Attr
}

// NewHandler wraps l. Filtering happens against level, not the zerolog level.
func NewHandler(l zerolog.Logger, level slog.Leveler) *Handler {
	if level == nil {
		level = slog.LevelInfo
	}
	return &Handler{logger: l, level: level}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	evt := h.logger.WithLevel(zerologLevel(r.Level))
	if evt == nil {
		return nil
	}
	if !r.Time.IsZero() {
		evt = evt.Time(zerolog.TimestampFieldName, r.Time)
	}
	for _, pa := range h.attrs {
		addAttr(evt, pa.prefix, pa.attr)
	}
	r.Attrs(func(a slog.Attr) bool {
		addAttr(evt, h.prefix, a)
		return true
	})
	evt.Msg(r.Message)
	return nil
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := *h
	clone.attrs = make([]prefixedAttr, 0, len(h.attrs)+len(attrs))
	clone.attrs = append(clone.attrs, h.attrs...)
	for _, a := range attrs {
		clone.attrs = append(clone.attrs, prefixedAttr{prefix: h.prefix, attr: a})
	}
	return &clone
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := *h
	clone.prefix = h.prefix + name + "."
	return &clone
}

func addAttr(evt *zerolog.Event, prefix string, a slog.Attr) {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return
	}
	key := prefix + a.Key

	switch a.Value.Kind() {
	case slog.KindGroup:
		groupPrefix := prefix
		if a.Key != "" {
			groupPrefix = key + "."
		}
		for _, ga := range a.Value.Group() {
			addAttr(evt, groupPrefix, ga)
		}
	case slog.KindString:
		evt.Str(key, a.Value.String())
	case slog.KindInt64:
		evt.Int64(key, a.Value.Int64())
	case slog.KindUint64:
		evt.Uint64(key, a.Value.Uint64())
	case slog.KindFloat64:
		evt.Float64(key, a.Value.Float64())
	case slog.KindBool:
		evt.Bool(key, a.Value.Bool())
	case slog.KindDuration:
		evt.Str(key, a.Value.Duration().String())
	case slog.KindTime:
		evt.Time(key, a.Value.Time())
	default:
		v := a.Value.Any()
		if err, ok := v.(error); ok {
			evt.Str(key, err.Error())
			return
		}
		evt.Interface(key, v)
	}
}

func zerologLevel(l slog.Level) zerolog.Level {
	switch {
	case l >= slog.LevelError:
		return zerolog.ErrorLevel
	case l >= slog.LevelWarn:
		return zerolog.WarnLevel
	case l >= slog.LevelInfo:
		return zerolog.InfoLevel
	case l >= slog.LevelDebug:
		return zerolog.DebugLevel
	}
	return zerolog.TraceLevel
}
