package obs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	phlog "github.com/oarkflow/log"
)

// Logger is the structured logger every component receives. keyvals are
// alternating key/value pairs.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}

// Log backends accepted by NewLogger.
const (
	BackendSlog  = "slog"
	BackendPhlog = "phlog"
)

var (
	defaultOnce sync.Once
	defaultLog  Logger
)

// Default returns a JSON slog logger on stdout at info level.
func Default() Logger {
	defaultOnce.Do(func() {
		defaultLog = NewSlogLogger(os.Stdout, slog.LevelInfo)
	})
	return defaultLog
}

// NewLogger builds a logger for the configured backend and level.
func NewLogger(backend, level string) (Logger, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSlog:
		return NewSlogLogger(os.Stdout, lvl), nil
	case BackendPhlog:
		return &PhLogger{min: lvl}, nil
	default:
		return nil, fmt.Errorf("obs: unknown log backend %q", backend)
	}
}

// ParseLevel maps debug/info/warn/error to a slog level; empty means info.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("obs: unknown log level %q", level)
	}
}

// SlogLogger writes JSON lines through log/slog.
type SlogLogger struct {
	l *slog.Logger
}

func NewSlogLogger(w io.Writer, level slog.Level) *SlogLogger {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &SlogLogger{l: slog.New(h)}
}

func (s *SlogLogger) Debug(msg string, keyvals ...any) { s.log(slog.LevelDebug, msg, keyvals) }
func (s *SlogLogger) Info(msg string, keyvals ...any)  { s.log(slog.LevelInfo, msg, keyvals) }
func (s *SlogLogger) Warn(msg string, keyvals ...any)  { s.log(slog.LevelWarn, msg, keyvals) }
func (s *SlogLogger) Error(msg string, keyvals ...any) { s.log(slog.LevelError, msg, keyvals) }

func (s *SlogLogger) log(level slog.Level, msg string, keyvals []any) {
	ctx := context.Background()
	if !s.l.Enabled(ctx, level) {
		return
	}
	attrs := make([]slog.Attr, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		attrs = append(attrs, slogAttr(keyvals[i], keyvals[i+1]))
	}
	s.l.LogAttrs(ctx, level, msg, attrs...)
}

func slogAttr(k, v any) slog.Attr {
	key := fmt.Sprint(k)
	switch vv := v.(type) {
	case string:
		return slog.String(key, vv)
	case bool:
		return slog.Bool(key, vv)
	case int:
		return slog.Int(key, vv)
	case int64:
		return slog.Int64(key, vv)
	case time.Duration:
		return slog.Duration(key, vv)
	case error:
		return slog.String(key, vv.Error())
	case fmt.Stringer:
		return slog.String(key, vv.String())
	default:
		return slog.Any(key, vv)
	}
}

// PhLogger logs through the phuslu-style global logger of oarkflow/log.
// Warnings go out at info level with warn=true.
type PhLogger struct {
	min slog.Level
}

func (p *PhLogger) Debug(msg string, keyvals ...any) {
	if p.min > slog.LevelDebug {
		return
	}
	emit(phlog.Debug(), msg, keyvals)
}

func (p *PhLogger) Info(msg string, keyvals ...any) {
	if p.min > slog.LevelInfo {
		return
	}
	emit(phlog.Info(), msg, keyvals)
}

func (p *PhLogger) Warn(msg string, keyvals ...any) {
	if p.min > slog.LevelWarn {
		return
	}
	emit(phlog.Info().Bool("warn", true), msg, keyvals)
}

func (p *PhLogger) Error(msg string, keyvals ...any) {
	emit(phlog.Error(), msg, keyvals)
}

type phEntry[E any] interface {
	Str(key, val string) E
	Bool(key string, b bool) E
	Int(key string, i int) E
	Any(key string, i any) E
	Msg(msg string)
}

func emit[E phEntry[E]](e E, msg string, keyvals []any) {
	for i := 0; i+1 < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		switch vv := keyvals[i+1].(type) {
		case string:
			e = e.Str(key, vv)
		case bool:
			e = e.Bool(key, vv)
		case int:
			e = e.Int(key, vv)
		case error:
			e = e.Str(key, vv.Error())
		case fmt.Stringer:
			e = e.Str(key, vv.String())
		default:
			e = e.Any(key, vv)
		}
	}
	e.Msg(msg)
}

// Nop discards everything.
type Nop struct{}

func (Nop) Debug(string, ...any) {}
func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
