package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComponentLoggerFormatsBracketedLine(t *testing.T) {
	buf := &bytes.Buffer{}
	Configure(buf, "debug")
	defer Configure(nil, "info")

	l := NewComponentLogger("QUEUE", "visit-queue")
	l.Info("enqueued visit %s at position %d", "abc123", 2)

	line := buf.String()
	require.NotEmpty(t, line)
	assert.Contains(t, line, "[INFO]")
	assert.Contains(t, line, "[QUEUE]")
	assert.Contains(t, line, "[visit-queue]")
	assert.Contains(t, line, "enqueued visit abc123 at position 2")
}

func TestWithVisitTagsLogID(t *testing.T) {
	buf := &bytes.Buffer{}
	Configure(buf, "debug")
	defer Configure(nil, "info")

	l := NewComponentLogger("WORKFLOW", "reconcile").WithVisit("visit-42")
	l.Warn("filter rejected page")

	assert.True(t, strings.Contains(buf.String(), "[log_id=visit-42]"))
}

func TestLevelFiltering(t *testing.T) {
	buf := &bytes.Buffer{}
	Configure(buf, "warn")
	defer Configure(nil, "info")

	l := NewComponentLogger("STORE", "relational")
	l.Debug("should not appear")
	l.Info("should not appear either")
	l.Warn("should appear")

	out := buf.String()
	assert.NotContains(t, out, "should not appear")
	assert.Contains(t, out, "should appear")
}

func TestOrNopHandlesNil(t *testing.T) {
	var l Logger
	safe := OrNop(l)
	require.NotNil(t, safe)
	assert.NotPanics(t, func() {
		safe.Info("hello %s", "world")
	})
}
