package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemory_RecordsAndForwards(t *testing.T) {
	inner := NewMemory(nil)
	m := NewMemory(inner)

	m.Information("task %s started", "copy")
	m.Warning("slow")
	m.Error("failed: %v", "boom")
	m.Verbose("detail")

	assert.Len(t, m.Entries(), 4)
	assert.Len(t, inner.Entries(), 4)
	assert.True(t, m.Contains(LevelError, "boom"))
	assert.False(t, m.Contains(LevelWarning, "boom"))
	assert.Contains(t, m.String(), "[information] task copy started")
}

func TestSlog_VerboseRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewSlog(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))

	l.Verbose("hidden")
	l.Information("shown %d", 1)

	out := buf.String()
	assert.False(t, strings.Contains(out, "hidden"))
	assert.Contains(t, out, "shown 1")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("verbose"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("unknown"))
}
