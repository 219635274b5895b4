package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlogLoggerLevels(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)

	log.Debug("hidden")
	log.Info("visible", String("session_id", "abc"), Int("samples", 100))

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "visible")
	assert.Contains(t, out, "session_id=abc")
	assert.Contains(t, out, "samples=100")
}

func TestTraceLevelLabel(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelTrace, time.UTC)
	log.Trace("tick")

	assert.Contains(t, buf.String(), "level=TRACE")
}

func TestModuleNamesAreJoined(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("sync").Module("engine")
	log.Info("started")

	assert.Contains(t, buf.String(), "module=sync.engine")
}

func TestWithDoesNotMutateParent(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	parent := NewSlogLogger(buf, LogLevelDebug, time.UTC).Module("session")
	child := parent.With(String("session_id", "s-1"))

	parent.Info("parent")
	child.Info("child")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.NotContains(t, lines[0], "session_id")
	assert.Contains(t, lines[1], "session_id=s-1")
}

func TestWithContextTraceID(t *testing.T) {
	t.Parallel()

	buf := &bytes.Buffer{}
	log := NewSlogLogger(buf, LogLevelInfo, time.UTC)
	log.WithContext(WithTraceID(context.Background(), "trace-9")).Info("request")

	assert.Contains(t, buf.String(), "trace_id=trace-9")
}

func TestFieldConversion(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 1.235, fieldToAttr(Float64("x", 1.23456)).Value.Float64())
	assert.Equal(t, "1.5s", fieldToAttr(Duration("d", 1500*time.Millisecond)).Value.String())
	assert.Equal(t, "boom", Error(errors.New("boom")).Value)
	assert.Nil(t, Error(nil).Value)
}

func TestCentralLoggerModuleFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "sync.log")

	cl, err := NewCentralLogger(&LoggingConfig{
		DefaultLevel: "info",
		Timezone:     "UTC",
		Console:      &ConsoleOutput{Enabled: false},
		ModuleOutputs: map[string]ModuleOutput{
			"sync": {Enabled: true, FilePath: path, Level: "debug"},
		},
	})
	require.NoError(t, err)

	cl.Module("sync").Debug("queued", Int("pending", 3))
	require.NoError(t, cl.Flush())
	require.NoError(t, cl.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var record map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &record))
	assert.Equal(t, "queued", record["msg"])
	assert.Equal(t, "sync", record["module"])
	assert.InDelta(t, 3, record["pending"], 0)
}

func TestCentralLoggerRejectsBadTimezone(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(&LoggingConfig{Timezone: "Mars/Olympus"})
	require.Error(t, err)
}

func TestNilConfig(t *testing.T) {
	t.Parallel()

	_, err := NewCentralLogger(nil)
	require.Error(t, err)
}
