package testutils

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conneroisu/siteroll/internal/logging"
)

// CreateTempProject creates a temporary project structure for testing and
// returns its root.
func CreateTempProject(t *testing.T) string {
	t.Helper()
	tempDir := t.TempDir()

	for _, dir := range []string{"src", "scripts", "_site"} {
		require.NoError(t, os.MkdirAll(filepath.Join(tempDir, dir), 0o755))
	}

	return tempDir
}

// WriteFile writes content to root/rel, creating parent directories.
func WriteFile(t *testing.T, root, rel, content string) string {
	t.Helper()
	full := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o644))
	return full
}

// Chdir switches the working directory for the duration of the test.
func Chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() {
		_ = os.Chdir(prev)
	})
}

// LogEntry is one call captured by RecordingLogger.
type LogEntry struct {
	Level   string
	Message string
	Err     error
	Fields  map[string]interface{}
}

// RecordingLogger captures log calls for assertions.
type RecordingLogger struct {
	mu      *sync.Mutex
	entries *[]LogEntry
	fields  map[string]interface{}
}

// NewRecordingLogger creates an empty RecordingLogger.
func NewRecordingLogger() *RecordingLogger {
	return &RecordingLogger{
		mu:      &sync.Mutex{},
		entries: &[]LogEntry{},
		fields:  map[string]interface{}{},
	}
}

func (l *RecordingLogger) record(level string, err error, msg string, fields []interface{}) {
	merged := make(map[string]interface{}, len(l.fields)+len(fields)/2)
	for k, v := range l.fields {
		merged[k] = v
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			merged[key] = fields[i+1]
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, LogEntry{Level: level, Message: msg, Err: err, Fields: merged})
}

func (l *RecordingLogger) Debug(_ context.Context, msg string, fields ...interface{}) {
	l.record("debug", nil, msg, fields)
}

func (l *RecordingLogger) Info(_ context.Context, msg string, fields ...interface{}) {
	l.record("info", nil, msg, fields)
}

func (l *RecordingLogger) Warn(_ context.Context, err error, msg string, fields ...interface{}) {
	l.record("warn", err, msg, fields)
}

func (l *RecordingLogger) Error(_ context.Context, err error, msg string, fields ...interface{}) {
	l.record("error", err, msg, fields)
}

func (l *RecordingLogger) With(fields ...interface{}) logging.Logger {
	next := &RecordingLogger{mu: l.mu, entries: l.entries, fields: map[string]interface{}{}}
	for k, v := range l.fields {
		next.fields[k] = v
	}
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			next.fields[key] = fields[i+1]
		}
	}
	return next
}

func (l *RecordingLogger) WithComponent(component string) logging.Logger {
	return l.With("component", component)
}

// Entries returns every captured entry at the given level, or all entries
// when level is empty.
func (l *RecordingLogger) Entries(level string) []LogEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []LogEntry
	for _, e := range *l.entries {
		if level == "" || e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
