package app

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"ember/emberos/hosted"
	"ember/emberos/kernel"
	"ember/hal"
	"ember/internal/config"
)

const wait = 5 * time.Second

type testHAL struct {
	log   *lineLog
	fb    hal.Framebuffer
	ticks chan uint64
	seq   uint64
}

func newTestHAL() *testHAL {
	return &testHAL{
		log:   &lineLog{},
		fb:    hal.NewFramebuffer(160, 120),
		ticks: make(chan uint64, 4096),
	}
}

func (h *testHAL) Logger() hal.Logger   { return h.log }
func (h *testHAL) Display() hal.Display { return h }
func (h *testHAL) Time() hal.Time       { return h }

func (h *testHAL) Framebuffer() hal.Framebuffer { return h.fb }
func (h *testHAL) Ticks() <-chan uint64         { return h.ticks }

func (h *testHAL) advance(ms int) {
	for i := 0; i < ms; i++ {
		h.seq++
		h.ticks <- h.seq
	}
}

type lineLog struct {
	mu    sync.Mutex
	lines []string
}

func (l *lineLog) WriteLineString(s string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, s)
}

func (l *lineLog) WriteLineBytes(b []byte) { l.WriteLineString(string(b)) }

func (l *lineLog) has(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range l.lines {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func boot(t *testing.T, h hal.HAL, opts Options) *System {
	t.Helper()
	if opts.Config.Log.Level == "" {
		opts.Config = config.Default()
	}
	opts.Logger = zaptest.NewLogger(t)
	s, err := New(h, opts)
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return s
}

func TestBootRunsInitAndUptime(t *testing.T) {
	h := newTestHAL()
	s := boot(t, h, Options{})

	require.Eventually(t, func() bool { return h.log.has("echo 41 -> 42") }, wait, time.Millisecond)

	require.Eventually(t, func() bool {
		h.advance(100)
		if err := s.Step(); err != nil {
			return false
		}
		return h.log.has("] uptime ")
	}, wait, 5*time.Millisecond)
}

func TestStepReportsHalt(t *testing.T) {
	h := newTestHAL()
	s := boot(t, h, Options{Init: func(th *hosted.Thread, _ [4]uintptr) {
		_ = th.Shutdown()
	}})

	require.Eventually(t, func() bool {
		return s.Step() == ErrHalted
	}, wait, time.Millisecond)
}

func TestStepReportsKernelPanic(t *testing.T) {
	h := newTestHAL()
	s := boot(t, h, Options{})
	require.Eventually(t, func() bool { return h.log.has("echo 41 -> 42") }, wait, time.Millisecond)

	err := s.Machine().Inspect(func(*kernel.Kernel) {
		panic(kernel.PanicInfo{Value: "page table corrupt"})
	})
	require.ErrorIs(t, err, hosted.ErrKernelPanic)

	err = s.Step()
	require.ErrorIs(t, err, hosted.ErrKernelPanic)
	assert.False(t, errors.Is(err, ErrHalted))
}

func TestMetricsAreRegistered(t *testing.T) {
	reg := prometheus.NewRegistry()
	h := newTestHAL()
	boot(t, h, Options{Registry: reg})

	require.Eventually(t, func() bool { return h.log.has("echo 41 -> 42") }, wait, time.Millisecond)
	families, err := reg.Gather()
	require.NoError(t, err)
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "ember_kernel_processes")
	assert.Contains(t, names, "ember_kernel_syscalls_total")
}

func TestStepFuncSurfacesBootError(t *testing.T) {
	cfg := config.Default()
	cfg.Kernel.Cores = 0
	step := StepFunc(Options{Config: cfg}, nil)(newTestHAL())
	assert.Error(t, step())
}
