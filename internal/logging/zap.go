package logging

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

// Config controls how the production logger is built.
type Config struct {
	Level  string // trace, debug, info, warn, error
	Format string // console, json; empty picks console on a terminal
	File   string // optional path; rotated daily
}

// ZapLogger implements Logger on top of zap.
type ZapLogger struct {
	log   *zap.Logger
	trace bool
}

var _ Logger = (*ZapLogger)(nil)

// NewZapLogger wraps an existing zap logger. Trace entries are emitted at
// debug level only when trace is set.
func NewZapLogger(log *zap.Logger, trace bool) *ZapLogger {
	return &ZapLogger{log: log, trace: trace}
}

// New builds the production logger writing to stderr and, optionally, a
// rotated log file.
func New(cfg Config) (*ZapLogger, error) {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg Config, stderr io.Writer) (*ZapLogger, error) {
	level, trace, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	format := strings.ToLower(strings.TrimSpace(cfg.Format))
	if format == "" {
		format = "json"
		if f, ok := stderr.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
			format = "console"
		}
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch format {
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	case "json":
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	default:
		return nil, fmt.Errorf("unsupported log format %q (valid: console, json)", format)
	}

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.AddSync(stderr), level),
	}

	if cfg.File != "" {
		rotated, err := rotatelogs.New(
			cfg.File+".%Y%m%d",
			rotatelogs.WithLinkName(cfg.File),
			rotatelogs.WithRotationTime(24*time.Hour),
			rotatelogs.WithMaxAge(14*24*time.Hour),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file %s: %w", cfg.File, err)
		}
		fileEncoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
		cores = append(cores, zapcore.NewCore(fileEncoder, zapcore.AddSync(rotated), level))
	}

	log := zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddCallerSkip(1), zap.AddStacktrace(zapcore.FatalLevel))
	return NewZapLogger(log, trace), nil
}

// ParseLevel maps a level name onto a zap level. "trace" is debug with trace
// entries enabled.
func ParseLevel(l string) (zapcore.Level, bool, error) {
	switch strings.ToLower(strings.TrimSpace(l)) {
	case "trace":
		return zapcore.DebugLevel, true, nil
	case "debug":
		return zapcore.DebugLevel, false, nil
	case "", "info":
		return zapcore.InfoLevel, false, nil
	case "warn", "warning":
		return zapcore.WarnLevel, false, nil
	case "error":
		return zapcore.ErrorLevel, false, nil
	default:
		return zapcore.InfoLevel, false, fmt.Errorf("unsupported log level %q", l)
	}
}

func (l *ZapLogger) Trace(msg string, fields map[string]any) {
	if !l.trace {
		return
	}
	l.log.Debug(msg, append(toZapFields(fields), zap.Bool("trace", true))...)
}

func (l *ZapLogger) Debug(msg string, fields map[string]any) {
	l.log.Debug(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Info(msg string, fields map[string]any) {
	l.log.Info(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Warn(msg string, fields map[string]any) {
	l.log.Warn(msg, toZapFields(fields)...)
}

func (l *ZapLogger) Error(msg string, fields map[string]any) {
	l.log.Error(msg, toZapFields(fields)...)
}

func (l *ZapLogger) With(fields map[string]any) Logger {
	return &ZapLogger{log: l.log.With(toZapFields(fields)...), trace: l.trace}
}

// Sync flushes buffered entries.
func (l *ZapLogger) Sync() error {
	return l.log.Sync()
}

// toZapFields converts a field map in key order so output is stable.
func toZapFields(fields map[string]any) []zap.Field {
	if len(fields) == 0 {
		return nil
	}

	sanitized := SanitizeFields(fields)
	keys := make([]string, 0, len(sanitized))
	for k := range sanitized {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]zap.Field, 0, len(keys))
	for _, k := range keys {
		out = append(out, zap.Any(k, sanitized[k]))
	}
	return out
}
