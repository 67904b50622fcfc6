package kernel

import (
	"errors"

	"ember/emberos/abi"
)

// blockedResult is returned by handlers that suspended the caller. The real
// result is attached when the thread is woken.
var blockedResult = abi.Result{Kind: abi.ResultBlockedProcess}

func lendFlags(kind abi.MessageKind) abi.MemoryFlags {
	switch kind {
	case abi.KindBorrow:
		return abi.FlagR
	case abi.KindMutableBorrow:
		return abi.FlagR | abi.FlagW
	}
	return 0
}

// send resolves cid and hands msg to the server behind it.
func (k *Kernel) send(p *Process, t *Thread, cid abi.CID, msg abi.Message, try bool) abi.Result {
	sid, err := p.conns.lookup(cid)
	if err != nil {
		return abi.ErrorResult(err)
	}
	idx, ok := k.bySID[sid]
	if !ok {
		p.conns.markDead(sid)
		return abi.ErrorResult(abi.ErrServerNotFound)
	}
	if msg.Kind.IsMemory() {
		if err := k.mem.Check(p.space, msg.Buf(), lendFlags(msg.Kind)); err != nil {
			return abi.ErrorResult(err)
		}
	}
	s := k.servers[idx]

	res, accepted := k.accept(s, t, msg)
	if accepted || res.Kind == abi.ResultError {
		return res
	}
	k.obs.QueueFull(try)
	if try {
		return abi.ErrorResult(abi.ErrServerQueueFull)
	}
	t.send = &queuedSend{server: s.index, msg: msg}
	s.blocked = append(s.blocked, t)
	k.block(t, ThreadBlockedOnQueue)
	return blockedResult
}

// accept delivers msg from t to s, either straight to the oldest sleeping
// receiver or into a free queue slot. Memory is lent or moved at this point,
// so the receiver sees the range in its own address space. accepted is false
// when no slot is free; nothing is changed in that case.
func (k *Kernel) accept(s *server, t *Thread, msg abi.Message) (res abi.Result, accepted bool) {
	blocking := msg.Kind.Blocks()
	idx := s.freeSlot()
	direct := len(s.receivers) > 0
	if idx < 0 && (blocking || !direct) {
		return abi.Result{}, false
	}

	owner := k.procs[s.owner-1]
	recv, err := k.transfer(k.procs[t.ref.pid-1], owner, msg)
	if err != nil {
		return abi.ErrorResult(err), true
	}

	sl := uint8(noSlot)
	if blocking || !direct {
		sl = uint8(idx)
		state := slotAwaitingReply
		if !direct {
			state = slotQueued
			s.queue.push(sl)
		}
		s.slots[idx] = slot{state: state, from: t.ref, msg: msg, recv: recv}
	}
	if direct {
		r := s.takeReceiver()
		env := abi.Envelope{Sender: abi.MakeSender(sl, s.index, t.ref.pid, t.ref.tid), Body: recv}
		k.wake(r, abi.MessageResult(env))
	}
	k.obs.Delivered(msg.Kind, direct)

	if blocking {
		k.block(t, ThreadBlockedOnReturn)
		return blockedResult, true
	}
	return abi.Ok(), true
}

// transfer maps msg's memory into dst and returns msg as dst sees it.
func (k *Kernel) transfer(src, dst *Process, msg abi.Message) (abi.Message, error) {
	switch msg.Kind {
	case abi.KindBorrow, abi.KindMutableBorrow:
		r, err := k.mem.Lend(src.space, dst.space, msg.Buf(), msg.Kind == abi.KindMutableBorrow)
		if err != nil {
			return abi.Message{}, err
		}
		return msg.WithBuf(r), nil
	case abi.KindMove:
		r, err := k.mem.Move(src.space, dst.space, msg.Buf())
		if err != nil {
			return abi.Message{}, err
		}
		return msg.WithBuf(r), nil
	}
	return msg, nil
}

// retryBlocked moves senders waiting on a full queue into freed slots, in
// the order they blocked.
func (k *Kernel) retryBlocked(s *server) {
	for len(s.blocked) > 0 && s.freeSlot() >= 0 {
		t := s.blocked[0]
		s.blocked = s.blocked[1:]
		if k.thread(t.ref) != t || t.state != ThreadBlockedOnQueue || t.send == nil {
			continue
		}
		msg := t.send.msg
		t.send = nil

		res, _ := k.accept(s, t, msg)
		switch {
		case res.Kind == abi.ResultBlockedProcess:
			// accept re-blocked t waiting for the reply.
		default:
			k.wake(t, res)
		}
	}
}

func (k *Kernel) receive(p *Process, t *Thread, sid abi.SID, try bool) abi.Result {
	s, err := k.ownedServer(p, sid)
	if err != nil {
		return abi.ErrorResult(err)
	}
	return k.receiveOn(s, t, try)
}

func (k *Kernel) receiveOn(s *server, t *Thread, try bool) abi.Result {
	if idx, ok := s.queue.pop(); ok {
		sl := &s.slots[idx]
		env := abi.Envelope{
			Sender: abi.MakeSender(idx, s.index, sl.from.pid, sl.from.tid),
			Body:   sl.recv,
		}
		if sl.msg.Kind.Blocks() {
			sl.state = slotAwaitingReply
		} else {
			env.Sender = abi.MakeSender(noSlot, s.index, sl.from.pid, sl.from.tid)
			*sl = slot{}
			k.retryBlocked(s)
		}
		return abi.MessageResult(env)
	}
	if try {
		return abi.Ok()
	}
	t.waitServer = s.index
	s.receivers = append(s.receivers, t)
	k.block(t, ThreadSleepingOnServer)
	return blockedResult
}

// replySlot finds the slot a reply addresses. The caller must own the server.
func (k *Kernel) replySlot(p *Process, sender abi.MessageSender) (*server, *slot, error) {
	si := int(sender.Server())
	if si >= len(k.servers) || k.servers[si] == nil || k.servers[si].owner != p.pid {
		return nil, nil, abi.ErrServerNotFound
	}
	s := k.servers[si]
	idx := int(sender.Slot())
	if idx >= len(s.slots) {
		return nil, nil, abi.ErrInvalidSyscall
	}
	sl := &s.slots[idx]
	if sl.state != slotAwaitingReply || sl.from != (threadRef{pid: sender.PID(), tid: sender.TID()}) {
		return nil, nil, abi.ErrInvalidSyscall
	}
	return s, sl, nil
}

// complete frees a replied slot and resumes its sender with res.
func (k *Kernel) complete(s *server, sl *slot, res abi.Result) error {
	gone := sl.gone
	from := sl.from
	*sl = slot{}
	if !gone {
		t := k.thread(from)
		if t == nil {
			k.fatal(from, "reply to vanished thread")
		}
		k.wake(t, res)
	}
	k.retryBlocked(s)
	if gone {
		return abi.ErrProcessTerminated
	}
	return nil
}

// returnScalar answers a BlockingScalar, or a lend whose memory the server
// gives back without metadata.
func (k *Kernel) returnScalar(p *Process, sender abi.MessageSender, res abi.Result) error {
	s, sl, err := k.replySlot(p, sender)
	if err != nil {
		return err
	}
	if sl.msg.Kind.IsLend() && !sl.gone {
		k.unlend(sl, p)
	}
	return k.complete(s, sl, res)
}

func (k *Kernel) returnMemory(p *Process, sender abi.MessageSender, r abi.Range, offset, valid uintptr) error {
	s, sl, err := k.replySlot(p, sender)
	if err != nil {
		return err
	}
	if !sl.msg.Kind.IsLend() {
		return abi.ErrInvalidSyscall
	}
	if sl.recv.Buf() != r {
		return abi.ErrBadAddress
	}
	if !sl.gone {
		k.unlend(sl, p)
	}
	return k.complete(s, sl, abi.MemoryReturnedResult(offset, valid))
}

func (k *Kernel) reply(p *Process, c abi.ReplyAndReceiveNext) error {
	switch c.Reply {
	case abi.ReplyScalar1:
		return k.returnScalar(p, c.Sender, abi.Scalar1Result(c.Args[0]))
	case abi.ReplyScalar2:
		return k.returnScalar(p, c.Sender, abi.Scalar2Result(c.Args[0], c.Args[1]))
	case abi.ReplyScalar5:
		return k.returnScalar(p, c.Sender, abi.Scalar5Result(c.Args))
	default:
		r := abi.Range{Base: c.Args[0], Size: c.Args[1]}
		return k.returnMemory(p, c.Sender, r, c.Args[2], c.Args[3])
	}
}

// replyAndReceiveNext answers the current sender and receives the next
// message on the same server in one step, so no other sender can be served
// between the reply and the receive. The replying thread is the one that
// receives.
func (k *Kernel) replyAndReceiveNext(p *Process, t *Thread, c abi.ReplyAndReceiveNext) abi.Result {
	si := int(c.Sender.Server())
	if si >= len(k.servers) || k.servers[si] == nil || k.servers[si].owner != p.pid {
		return abi.ErrorResult(abi.ErrServerNotFound)
	}
	s := k.servers[si]
	if err := k.reply(p, c); err != nil && !errors.Is(err, abi.ErrProcessTerminated) {
		return abi.ErrorResult(err)
	}
	return k.receiveOn(s, t, false)
}

func (k *Kernel) returnResult(err error) abi.Result {
	if err != nil {
		return abi.ErrorResult(err)
	}
	return abi.Ok()
}
