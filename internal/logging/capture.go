package logging

import (
	"maps"
	"sync"
)

// Entry is one record held by CaptureLogger.
type Entry struct {
	Level   string
	Message string
	Fields  map[string]any
}

// CaptureLogger records entries in memory. It is meant for tests.
type CaptureLogger struct {
	mu      *sync.Mutex
	entries *[]Entry
	base    map[string]any
}

var _ Logger = (*CaptureLogger)(nil)

// NewCaptureLogger returns an empty capturing logger.
func NewCaptureLogger() *CaptureLogger {
	return &CaptureLogger{
		mu:      &sync.Mutex{},
		entries: &[]Entry{},
	}
}

func (c *CaptureLogger) record(level, msg string, fields map[string]any) {
	merged := make(map[string]any, len(c.base)+len(fields))
	maps.Copy(merged, c.base)
	maps.Copy(merged, fields)

	c.mu.Lock()
	defer c.mu.Unlock()
	*c.entries = append(*c.entries, Entry{Level: level, Message: msg, Fields: merged})
}

func (c *CaptureLogger) Trace(msg string, fields map[string]any) { c.record("trace", msg, fields) }
func (c *CaptureLogger) Debug(msg string, fields map[string]any) { c.record("debug", msg, fields) }
func (c *CaptureLogger) Info(msg string, fields map[string]any)  { c.record("info", msg, fields) }
func (c *CaptureLogger) Warn(msg string, fields map[string]any)  { c.record("warn", msg, fields) }
func (c *CaptureLogger) Error(msg string, fields map[string]any) { c.record("error", msg, fields) }

// With shares the underlying entry buffer with the parent.
func (c *CaptureLogger) With(fields map[string]any) Logger {
	base := make(map[string]any, len(c.base)+len(fields))
	maps.Copy(base, c.base)
	maps.Copy(base, fields)
	return &CaptureLogger{mu: c.mu, entries: c.entries, base: base}
}

// Entries returns a copy of everything recorded so far.
func (c *CaptureLogger) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Entry, len(*c.entries))
	copy(out, *c.entries)
	return out
}

// Filter returns the recorded entries at the given level.
func (c *CaptureLogger) Filter(level string) []Entry {
	var out []Entry
	for _, e := range c.Entries() {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Contains reports whether any entry carries msg.
func (c *CaptureLogger) Contains(msg string) bool {
	for _, e := range c.Entries() {
		if e.Message == msg {
			return true
		}
	}
	return false
}
