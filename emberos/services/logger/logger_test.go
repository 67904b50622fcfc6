package logger_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	logclient "ember/emberos/client/logger"
	"ember/emberos/hosted"
	"ember/emberos/kernel"
	"ember/emberos/services/logger"
)

type lines struct {
	mu  sync.Mutex
	got []string
}

func (l *lines) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.got = append(l.got, s)
}

func (l *lines) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *lines) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.got...)
}

func TestLinesReachSinkAndLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	sink := &lines{}

	m, err := hosted.New(hosted.Config{Kernel: kernel.DefaultConfig()})
	require.NoError(t, err)
	t.Cleanup(m.Stop)
	_, err = m.Spawn("logger", logger.New(zap.New(core), sink).Run, 0)
	require.NoError(t, err)

	done := make(chan struct{})
	pid, err := m.Spawn("app", func(th *hosted.Thread, _ [4]uintptr) {
		defer close(done)
		c, err := logclient.Connect(th)
		if !assert.NoError(t, err) {
			return
		}
		assert.NoError(t, c.Log("hello"))
		assert.NoError(t, c.Logf("n=%d", 7))
		assert.NoError(t, c.Post("posted"))
		assert.NoError(t, c.Close())
	}, 0)
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("client never finished")
	}
	require.Eventually(t, func() bool { return len(sink.snapshot()) == 3 }, 5*time.Second, time.Millisecond)

	prefix := fmt.Sprintf("[%d] ", pid)
	assert.Equal(t, []string{prefix + "hello", prefix + "n=7", prefix + "posted"}, sink.snapshot())
	assert.Equal(t, 1, logs.FilterMessage("hello").Len())
	assert.Equal(t, 1, logs.FilterMessage("posted").Len())
}
