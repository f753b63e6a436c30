// ABOUTME: Structured logging over charmbracelet/log with a user-visible channel
// ABOUTME: Records tagged user_visible=true are mirrored to the user writer
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	charmlog "github.com/charmbracelet/log"
)

// Keys understood by every Logger
const (
	TagKey         = "tag"
	DetailKey      = "detail"
	UserVisibleKey = "user_visible"

	DefaultTag = "paperchat"
)

type LogLevel string

const (
	DebugLevel    LogLevel = "debug"
	InfoLevel     LogLevel = "info"
	WarnLevel     LogLevel = "warn"
	ErrorLevel    LogLevel = "error"
	DisabledLevel LogLevel = "disabled"
)

// ToCharmlogLevel maps a LogLevel to charm's level, defaulting to info
func (l LogLevel) ToCharmlogLevel() charmlog.Level {
	switch l {
	case DebugLevel:
		return charmlog.DebugLevel
	case InfoLevel:
		return charmlog.InfoLevel
	case WarnLevel:
		return charmlog.WarnLevel
	case ErrorLevel:
		return charmlog.ErrorLevel
	case DisabledLevel:
		return charmlog.Level(1000)
	default:
		return charmlog.InfoLevel
	}
}

// Logger is the structured logging interface used across the module
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
	With(keyvals ...any) Logger
}

// Config controls logger construction
type Config struct {
	Level      LogLevel
	Output     io.Writer
	UserOutput io.Writer
	JSON       bool
	TimeFormat string
	Tag        string
}

// DefaultConfig logs text at info level to stderr
func DefaultConfig() *Config {
	return &Config{
		Level:      InfoLevel,
		Output:     os.Stderr,
		TimeFormat: "15:04:05",
		Tag:        DefaultTag,
	}
}

type loggerImpl struct {
	charmLogger *charmlog.Logger
	user        io.Writer
	userMu      *sync.Mutex
}

// NewLogger builds a Logger from cfg; nil cfg means DefaultConfig
func NewLogger(cfg *Config) Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	timeFormat := cfg.TimeFormat
	if timeFormat == "" {
		timeFormat = "15:04:05"
	}
	charmLogger := charmlog.NewWithOptions(out, charmlog.Options{
		ReportTimestamp: true,
		TimeFormat:      timeFormat,
		Level:           cfg.Level.ToCharmlogLevel(),
	})
	if cfg.JSON {
		charmLogger.SetFormatter(charmlog.JSONFormatter)
	} else {
		charmLogger.SetFormatter(charmlog.TextFormatter)
	}
	tag := cfg.Tag
	if tag == "" {
		tag = DefaultTag
	}
	return &loggerImpl{
		charmLogger: charmLogger.With(TagKey, tag),
		user:        cfg.UserOutput,
		userMu:      &sync.Mutex{},
	}
}

func (l *loggerImpl) Debug(msg string, keyvals ...any) {
	l.charmLogger.Debug(msg, keyvals...)
	l.mirror(msg, keyvals)
}

func (l *loggerImpl) Info(msg string, keyvals ...any) {
	l.charmLogger.Info(msg, keyvals...)
	l.mirror(msg, keyvals)
}

func (l *loggerImpl) Warn(msg string, keyvals ...any) {
	l.charmLogger.Warn(msg, keyvals...)
	l.mirror(msg, keyvals)
}

func (l *loggerImpl) Error(msg string, keyvals ...any) {
	l.charmLogger.Error(msg, keyvals...)
	l.mirror(msg, keyvals)
}

func (l *loggerImpl) With(keyvals ...any) Logger {
	return &loggerImpl{
		charmLogger: l.charmLogger.With(keyvals...),
		user:        l.user,
		userMu:      l.userMu,
	}
}

// mirror writes user-visible records as one plain line
func (l *loggerImpl) mirror(msg string, keyvals []any) {
	if l.user == nil || !isUserVisible(keyvals) {
		return
	}
	line := msg
	if detail := lookup(keyvals, DetailKey); detail != "" {
		line = fmt.Sprintf("%s: %s", msg, detail)
	}
	l.userMu.Lock()
	defer l.userMu.Unlock()
	_, _ = fmt.Fprintln(l.user, line)
}

func isUserVisible(keyvals []any) bool {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok && k == UserVisibleKey {
			v, ok := keyvals[i+1].(bool)
			return ok && v
		}
	}
	return false
}

func lookup(keyvals []any, key string) string {
	for i := 0; i+1 < len(keyvals); i += 2 {
		if k, ok := keyvals[i].(string); ok && k == key {
			return strings.TrimSpace(fmt.Sprint(keyvals[i+1]))
		}
	}
	return ""
}

// Notify emits a user-visible record at level, the equivalent of the host sink
// (message, detail, userVisible=true, tag).
func Notify(l Logger, level LogLevel, msg string, detail any) {
	keyvals := []any{UserVisibleKey, true}
	if detail != nil {
		if s := fmt.Sprint(detail); s != "" {
			keyvals = append(keyvals, DetailKey, s)
		}
	}
	switch level {
	case DebugLevel:
		l.Debug(msg, keyvals...)
	case WarnLevel:
		l.Warn(msg, keyvals...)
	case ErrorLevel:
		l.Error(msg, keyvals...)
	default:
		l.Info(msg, keyvals...)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

func (n nopLogger) With(...any) Logger { return n }

// Nop returns a Logger that discards everything
func Nop() Logger {
	return nopLogger{}
}

type ctxKey struct{}

// LoggerCtxKey is the context key holding a Logger
var LoggerCtxKey = ctxKey{}

var (
	defaultLogger Logger = NewLogger(DefaultConfig())
	defaultMu     sync.RWMutex
)

// Init replaces the process-wide default logger
func Init(cfg *Config) {
	l := NewLogger(cfg)
	defaultMu.Lock()
	defaultLogger = l
	defaultMu.Unlock()
}

// GetDefault returns the process-wide default logger
func GetDefault() Logger {
	defaultMu.RLock()
	defer defaultMu.RUnlock()
	return defaultLogger
}

// ContextWithLogger stores l in ctx
func ContextWithLogger(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, LoggerCtxKey, l)
}

// FromContext returns the logger stored in ctx or the default
func FromContext(ctx context.Context) Logger {
	if ctx != nil {
		if l, ok := ctx.Value(LoggerCtxKey).(Logger); ok && l != nil {
			return l
		}
	}
	return GetDefault()
}
