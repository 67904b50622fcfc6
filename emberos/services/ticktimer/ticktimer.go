// Package ticktimer keeps time in milliseconds since boot and answers sleep
// requests with deferred replies. Time only moves when the kernel posts a
// tick message, normally from the host tick stream through a Clock.
package ticktimer

import (
	"errors"
	"slices"

	"go.uber.org/zap"

	"ember/emberos/abi"
	"ember/emberos/hosted"
	"ember/emberos/proto"
)

const maxSleepers = 32

type sleeper struct {
	inUse bool
	due   uint64
	reply abi.MessageSender
}

type Service struct {
	log *zap.Logger

	now      uint64
	sleepers [maxSleepers]sleeper
}

func New(log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log}
}

func (s *Service) Run(th *hosted.Thread, _ [4]uintptr) {
	if err := th.CreateServerWithAddress(proto.TicktimerSID); err != nil {
		s.log.Error("create server", zap.Error(err))
		return
	}
	for {
		env, err := th.Receive(proto.TicktimerSID)
		if err != nil {
			return
		}
		s.handle(th, env)
	}
}

func (s *Service) handle(th *hosted.Thread, env abi.Envelope) {
	msg := env.Body
	switch op := proto.TimerOp(msg.ID); {
	case op == proto.TimerTick && msg.Kind == abi.KindScalar && env.Sender.PID() == 0:
		s.now += uint64(msg.Args[0])
		s.wakeReady(th)

	case op == proto.TimerSleep && msg.Kind == abi.KindBlockingScalar:
		if msg.Args[0] == 0 {
			s.answer(th, env.Sender, abi.ErrNone)
			return
		}
		if !s.schedule(s.now+uint64(msg.Args[0]), env.Sender) {
			s.answer(th, env.Sender, abi.ErrOutOfMemory)
		}

	case op == proto.TimerElapsed && msg.Kind == abi.KindBlockingScalar:
		if err := th.ReturnScalar2(env.Sender, uintptr(uint32(s.now)), uintptr(s.now>>32)); err != nil {
			s.log.Debug("elapsed reply", zap.Error(err))
		}

	case msg.Kind.Blocks():
		s.answer(th, env.Sender, abi.ErrInvalidSyscall)
	}
}

func (s *Service) answer(th *hosted.Thread, to abi.MessageSender, status abi.Error) {
	err := th.ReturnScalar1(to, uintptr(status))
	if err != nil && !errors.Is(err, abi.ErrProcessTerminated) {
		s.log.Warn("reply", zap.Error(err))
	}
}

func (s *Service) schedule(due uint64, reply abi.MessageSender) bool {
	for i := range s.sleepers {
		if s.sleepers[i].inUse {
			continue
		}
		s.sleepers[i] = sleeper{inUse: true, due: due, reply: reply}
		return true
	}
	return false
}

// wakeReady answers every sleeper that is due, earliest first.
func (s *Service) wakeReady(th *hosted.Thread) {
	var ready []sleeper
	for i := range s.sleepers {
		sl := &s.sleepers[i]
		if !sl.inUse || sl.due > s.now {
			continue
		}
		ready = append(ready, *sl)
		*sl = sleeper{}
	}
	slices.SortStableFunc(ready, func(a, b sleeper) int {
		switch {
		case a.due < b.due:
			return -1
		case a.due > b.due:
			return 1
		}
		return 0
	})
	for _, sl := range ready {
		s.answer(th, sl.reply, abi.ErrNone)
	}
}
