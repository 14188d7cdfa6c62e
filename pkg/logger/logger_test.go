package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newTestLogger(buf *bytes.Buffer, level LogLevel) *Logger {
	return New(Config{Level: level, Output: buf})
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, WARN)

	l.Infof("hidden %d", 1)
	l.Warnf("shown %d", 2)
	l.Errorf("also shown")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN] shown 2")
	assert.Contains(t, out, "[ERROR] also shown")
}

func TestWithPrefixSharesSink(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, INFO)
	child := l.WithPrefix("[ica]")

	child.Infof("fitted %d components", 12)
	l.SetLevel(ERROR)
	child.Infof("suppressed")

	out := buf.String()
	assert.Contains(t, out, "[ica] fitted 12 components")
	assert.NotContains(t, out, "suppressed")
	assert.Equal(t, ERROR, child.Level())
}

func TestNestedPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, DEBUG).WithPrefix("[sub01]").WithPrefix("[filter]")
	l.Debugf("ok")
	assert.True(t, strings.Contains(buf.String(), "[sub01] [filter] ok"))
}

func TestFatalCallsExit(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(&buf, INFO)
	code := -1
	l.exit = func(c int) { code = c }

	l.Fatalf("boom")
	assert.Equal(t, 1, code)
	assert.Contains(t, buf.String(), "[FATAL] boom")
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want LogLevel
		ok   bool
	}{
		{"debug", DEBUG, true},
		{" Warning ", WARN, true},
		{"ERROR", ERROR, true},
		{"nope", INFO, false},
	}
	for _, tt := range tests {
		got, ok := ParseLevel(tt.in)
		assert.Equal(t, tt.want, got, tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
	}
}
