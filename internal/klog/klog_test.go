package klog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type lines struct{ got []string }

func (l *lines) WriteLineString(s string) { l.got = append(l.got, s) }
func (l *lines) WriteLineBytes(b []byte)  { l.got = append(l.got, string(b)) }

func TestSinkReceivesFilteredLines(t *testing.T) {
	sink := &lines{}
	log, err := New(Config{Level: "warn"}, sink, nil)
	require.NoError(t, err)

	log.Named("kernel").Info("quiet")
	log.Named("kernel").Warn("queue full", zap.Int("depth", 8))
	require.NoError(t, log.Sync())

	require.Len(t, sink.got, 1)
	line := sink.got[0]
	assert.True(t, strings.HasPrefix(line, "WARN kernel queue full"), line)
	assert.Contains(t, line, `"depth": 8`)
}

func TestBadLevel(t *testing.T) {
	_, err := New(Config{Level: "chatty"})
	assert.Error(t, err)
}

func TestEmptyLevelMeansInfo(t *testing.T) {
	l, err := parseLevel("")
	require.NoError(t, err)
	assert.Equal(t, "info", l.String())
}

func TestLineWriterBuffersPartialLines(t *testing.T) {
	sink := &lines{}
	w := &lineWriter{sink: sink}
	_, _ = w.Write([]byte("one\ntw"))
	assert.Equal(t, []string{"one"}, sink.got)
	_, _ = w.Write([]byte("o\n"))
	assert.Equal(t, []string{"one", "two"}, sink.got)
}
