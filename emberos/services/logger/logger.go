// Package logger is the log service. Clients lend or move a page holding one
// UTF-8 line; the service writes it to the system logger and, when present,
// to a line sink such as the kernel console.
package logger

import (
	"fmt"

	"go.uber.org/zap"

	"ember/emberos/abi"
	"ember/emberos/hosted"
	"ember/emberos/proto"
	"ember/hal"
)

type Service struct {
	log  *zap.Logger
	sink hal.Logger
}

// New returns a service writing to log and, if sink is not nil, to sink.
func New(log *zap.Logger, sink hal.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{log: log, sink: sink}
}

func (s *Service) Run(th *hosted.Thread, _ [4]uintptr) {
	if err := th.CreateServerWithAddress(proto.LoggerSID); err != nil {
		s.log.Error("create server", zap.Error(err))
		return
	}
	env, err := th.Receive(proto.LoggerSID)
	for err == nil {
		env, err = s.handle(th, env)
	}
}

func (s *Service) handle(th *hosted.Thread, env abi.Envelope) (abi.Envelope, error) {
	msg := env.Body
	switch {
	case msg.Kind == abi.KindBorrow && proto.LogOp(msg.ID) == proto.LogLine:
		status := abi.ErrNone
		if err := s.emit(th, env.Sender.PID(), msg); err != nil {
			status = abi.ErrBadAddress
		}
		return th.ReplyAndReceiveNext(env.Sender, abi.ReplyScalar1, [5]uintptr{uintptr(status)})
	case msg.Kind == abi.KindMove && proto.LogOp(msg.ID) == proto.LogPost:
		_ = s.emit(th, env.Sender.PID(), msg)
		if err := th.UnmapMemory(msg.Buf()); err != nil {
			s.log.Warn("unmap posted line", zap.Error(err))
		}
	case msg.Kind == abi.KindMove:
		_ = th.UnmapMemory(msg.Buf())
	case msg.Kind.Blocks():
		return th.ReplyAndReceiveNext(env.Sender, abi.ReplyScalar1, [5]uintptr{uintptr(abi.ErrInvalidSyscall)})
	}
	return th.Receive(proto.LoggerSID)
}

func (s *Service) emit(th *hosted.Thread, from abi.PID, msg abi.Message) error {
	buf := msg.Buf()
	off, n := msg.Offset(), msg.ValidLen()
	if off > buf.Size || n > buf.Size-off {
		return abi.ErrBadAddress
	}
	line := make([]byte, n)
	if err := th.Load(buf.Base+off, line); err != nil {
		return err
	}
	s.log.Info(string(line), zap.Uint8("pid", uint8(from)))
	if s.sink != nil {
		s.sink.WriteLineString(fmt.Sprintf("[%d] %s", from, line))
	}
	return nil
}
