// Package names is the name registry: it maps short names to server IDs so
// that processes can find each other without sharing unguessable SIDs out of
// band.
package names

import (
	"go.uber.org/zap"

	"ember/emberos/abi"
	"ember/emberos/hosted"
	"ember/emberos/proto"
)

// DefaultCapacity bounds the registry when New is given zero.
const DefaultCapacity = 128

type Service struct {
	log    *zap.Logger
	limit  int
	byName map[string]abi.SID
}

func New(log *zap.Logger, capacity int) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Service{log: log, limit: capacity, byName: make(map[string]abi.SID)}
}

// Run is the service's main thread.
func (s *Service) Run(th *hosted.Thread, _ [4]uintptr) {
	if err := th.CreateServerWithAddress(proto.NamesSID); err != nil {
		s.log.Error("create server", zap.Error(err))
		return
	}
	env, err := th.Receive(proto.NamesSID)
	for err == nil {
		env, err = s.handle(th, env)
	}
	s.log.Info("name registry stopped", zap.Error(err))
}

// handle answers env and returns the next message.
func (s *Service) handle(th *hosted.Thread, env abi.Envelope) (abi.Envelope, error) {
	msg := env.Body
	switch msg.Kind {
	case abi.KindMutableBorrow:
		buf := msg.Buf()
		s.transact(th, env.Sender.PID(), proto.NameOp(msg.ID), buf, msg.ValidLen())
		return th.ReplyAndReceiveNext(env.Sender, abi.ReplyMemory,
			[5]uintptr{buf.Base, buf.Size, msg.Offset(), msg.ValidLen()})
	case abi.KindBlockingScalar, abi.KindBorrow:
		return th.ReplyAndReceiveNext(env.Sender, abi.ReplyScalar1, [5]uintptr{uintptr(abi.ErrInvalidSyscall)})
	case abi.KindMove:
		_ = th.UnmapMemory(msg.Buf())
	}
	return th.Receive(proto.NamesSID)
}

// transact decodes the record in buf, applies op and writes the answer back
// in place. Malformed records are answered with ErrInvalidString.
func (s *Service) transact(th *hosted.Thread, from abi.PID, op proto.NameOp, buf abi.Range, valid uintptr) {
	if valid > buf.Size || valid > proto.NameRecordSize {
		valid = min(buf.Size, proto.NameRecordSize)
	}
	raw := make([]byte, valid)
	var rec proto.NameRecord
	if err := th.Load(buf.Base, raw); err != nil || rec.UnmarshalBinary(raw) != nil {
		s.reply(th, buf, proto.NameRecord{Status: abi.ErrInvalidString, Name: "?"})
		return
	}

	switch op {
	case proto.NameRegister:
		rec.Status = s.register(rec.Name, rec.SID)
	case proto.NameLookup:
		rec.SID, rec.Status = s.lookup(rec.Name)
	default:
		rec.Status = abi.ErrInvalidSyscall
	}
	s.log.Debug("name request",
		zap.Uint8("pid", uint8(from)),
		zap.Stringer("op", op),
		zap.String("name", rec.Name),
		zap.Stringer("status", rec.Status),
	)
	s.reply(th, buf, rec)
}

func (s *Service) reply(th *hosted.Thread, buf abi.Range, rec proto.NameRecord) {
	b, err := rec.MarshalBinary()
	if err == nil {
		err = th.Store(buf.Base, b)
	}
	if err != nil {
		s.log.Warn("write reply", zap.Error(err))
	}
}

func (s *Service) register(name string, sid abi.SID) abi.Error {
	if sid.IsZero() {
		return abi.ErrInvalidString
	}
	if _, taken := s.byName[name]; taken {
		return abi.ErrServerExists
	}
	if len(s.byName) >= s.limit {
		return abi.ErrOutOfMemory
	}
	s.byName[name] = sid
	return abi.ErrNone
}

func (s *Service) lookup(name string) (abi.SID, abi.Error) {
	sid, ok := s.byName[name]
	if !ok {
		return abi.SID{}, abi.ErrServerNotFound
	}
	return sid, abi.ErrNone
}
