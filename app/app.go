// Package app boots Ember on a HAL: it builds the hosted machine, starts the
// system services and an init process, and turns host frames into kernel
// ticks.
package app

import (
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"ember/emberos/console"
	"ember/emberos/hosted"
	"ember/emberos/services/logger"
	"ember/emberos/services/names"
	"ember/emberos/services/ticktimer"
	"ember/hal"
	"ember/internal/buildinfo"
	"ember/internal/config"
	"ember/internal/metrics"
)

// ErrHalted is returned by Step once every process has exited or one asked
// for shutdown.
var ErrHalted = errors.New("ember: halted")

type Options struct {
	Config config.Config
	Logger *zap.Logger
	// Registry receives kernel metrics; nil disables them.
	Registry prometheus.Registerer
	// Init replaces the default init process.
	Init hosted.Entry
}

// System is one booted machine bound to a HAL.
type System struct {
	m     *hosted.Machine
	log   *zap.Logger
	con   *console.Console
	clock *ticktimer.Clock
	ticks <-chan uint64
	last  uint64
}

// New boots the machine and its services.
func New(h hal.HAL, opts Options) (*System, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cfg := opts.Config

	var fb hal.Framebuffer
	if d := h.Display(); d != nil {
		fb = d.Framebuffer()
	}
	var con *console.Console
	if cfg.Services.Console && fb != nil {
		con = console.New(fb)
	}

	hcfg := hosted.Config{Kernel: cfg.KernelConfig(), Logger: log}
	if opts.Registry != nil {
		hcfg.Observer = metrics.New(opts.Registry)
	}
	m, err := hosted.New(hcfg)
	if err != nil {
		return nil, err
	}
	s := &System{m: m, log: log, con: con, clock: ticktimer.NewClock(m)}
	if t := h.Time(); t != nil {
		s.ticks = t.Ticks()
	}
	installPanicHandler(m, h.Logger(), fb)

	var sink hal.Logger = h.Logger()
	if con != nil {
		sink = teeLogger{h.Logger(), con}
	}
	initEntry := opts.Init
	if initEntry == nil {
		initEntry = initProcess
	}
	boot := []struct {
		name string
		fn   hosted.Entry
	}{
		{"names", names.New(log.Named("names"), cfg.Services.NamesCapacity).Run},
		{"logger", logger.New(log.Named("logger"), sink).Run},
		{"ticktimer", ticktimer.New(log.Named("ticktimer")).Run},
		{"init", initEntry},
	}

	for _, b := range boot {
		if _, err := m.Spawn(b.name, b.fn, 0); err != nil {
			m.Stop()
			return nil, fmt.Errorf("boot: %w", err)
		}
	}
	log.Info("ember booted", append(buildinfo.Fields(), zap.Int("cores", cfg.Kernel.Cores))...)
	return s, nil
}

// Machine returns the running machine.
func (s *System) Machine() *hosted.Machine { return s.m }

// Step forwards the host time elapsed since the last call and repaints the
// console. It returns ErrHalted when the machine has stopped, or an error
// wrapping hosted.ErrKernelPanic when the kernel panicked.
func (s *System) Step() error {
	select {
	case <-s.m.Done():
		if err := s.m.Err(); err != nil {
			return fmt.Errorf("ember: %w", err)
		}
		return ErrHalted
	default:
	}

	var ms uint64
	for drained := false; !drained; {
		select {
		case seq, ok := <-s.ticks:
			if !ok {
				drained = true
				break
			}
			if seq > s.last {
				ms += seq - s.last
				s.last = seq
			}
		default:
			drained = true
		}
	}
	if ms > 0 {
		s.m.Tick(int(ms))
		if err := s.clock.Advance(uintptr(ms)); err != nil {
			s.log.Warn("clock", zap.Error(err))
		}
	}
	if s.con != nil {
		if err := s.con.Flush(); err != nil {
			return fmt.Errorf("console: %w", err)
		}
	}
	return nil
}

// Close stops every process.
func (s *System) Close() {
	s.m.Stop()
	if s.con != nil {
		_ = s.con.Flush()
	}
}

// StepFunc adapts New to the HAL runners. A boot error is returned by the
// first step.
func StepFunc(opts Options, onBoot func(*System)) func(hal.HAL) func() error {
	return func(h hal.HAL) func() error {
		s, err := New(h, opts)
		if err != nil {
			return func() error { return err }
		}
		if onBoot != nil {
			onBoot(s)
		}
		return s.Step
	}
}

type teeLogger []hal.Logger

func (t teeLogger) WriteLineString(s string) {
	for _, l := range t {
		if l != nil {
			l.WriteLineString(s)
		}
	}
}

func (t teeLogger) WriteLineBytes(b []byte) {
	for _, l := range t {
		if l != nil {
			l.WriteLineBytes(b)
		}
	}
}
