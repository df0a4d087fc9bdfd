package logging

import (
	"maps"
	"strings"
	"time"
)

// Logger is the structured logger used across groupsync.
// Fields are passed as a map in the same shape for every level.
type Logger interface {
	Trace(msg string, fields map[string]any)
	Debug(msg string, fields map[string]any)
	Info(msg string, fields map[string]any)
	Warn(msg string, fields map[string]any)
	Error(msg string, fields map[string]any)

	// With returns a logger that adds fields to every entry.
	With(fields map[string]any) Logger
}

// NopLogger discards everything.
type NopLogger struct{}

func (NopLogger) Trace(string, map[string]any) {}
func (NopLogger) Debug(string, map[string]any) {}
func (NopLogger) Info(string, map[string]any)  {}
func (NopLogger) Warn(string, map[string]any)  {}
func (NopLogger) Error(string, map[string]any) {}

func (n NopLogger) With(map[string]any) Logger { return n }

// LogOperation logs the start, duration and outcome of fn.
func LogOperation(logger Logger, operation string, fields map[string]any, fn func() error) error {
	start := time.Now()

	entry := make(map[string]any, len(fields)+3)
	maps.Copy(entry, fields)
	entry["operation"] = operation

	logger.Debug("Starting operation", entry)

	err := fn()

	entry["duration_ms"] = time.Since(start).Milliseconds()

	if err != nil {
		entry["error"] = err.Error()
		logger.Error("Operation failed", entry)
	} else {
		logger.Debug("Operation completed successfully", entry)
	}

	return err
}

var sensitiveKeys = map[string]bool{
	"password":      true,
	"passwd":        true,
	"bind_password": true,
	"secret":        true,
	"token":         true,
	"key":           true,
	"private_key":   true,
	"credential":    true,
	"credentials":   true,
}

var sensitivePatterns = []string{
	"password=",
	"passwd=",
	"secret=",
	"token=",
	"key=",
}

// SanitizeFields returns a copy of fields with sensitive values redacted.
func SanitizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}

	sanitized := make(map[string]any, len(fields))
	for k, v := range fields {
		if sensitiveKeys[strings.ToLower(k)] {
			sanitized[k] = "[REDACTED]"
			continue
		}
		if str, ok := v.(string); ok && containsSensitivePattern(str) {
			sanitized[k] = "[REDACTED]"
			continue
		}
		sanitized[k] = v
	}

	return sanitized
}

func containsSensitivePattern(s string) bool {
	lower := strings.ToLower(s)
	for _, pattern := range sensitivePatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}
