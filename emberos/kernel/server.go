package kernel

import (
	"go.uber.org/zap"

	"ember/emberos/abi"
)

// noSlot marks an envelope that holds no queue slot: a non-blocking message
// handed straight to a receiver. Such a sender cannot be replied to.
const noSlot = 0xff

type slotState uint8

const (
	slotFree slotState = iota
	slotQueued
	slotAwaitingReply
)

type slot struct {
	state slotState
	from  threadRef
	// msg is the message as sent; recv is the same message rewritten into
	// the receiver's address space.
	msg  abi.Message
	recv abi.Message
	// gone marks a slot whose sender died while the receiver held it.
	gone bool
}

// fifo is a bounded ring of slot indices, oldest first.
type fifo struct {
	head, tail int
	buf        []uint8
}

func newFIFO(n int) fifo { return fifo{buf: make([]uint8, n)} }

func (q *fifo) len() int { return q.head - q.tail }

func (q *fifo) push(v uint8) bool {
	if q.len() >= len(q.buf) {
		return false
	}
	q.buf[q.head%len(q.buf)] = v
	q.head++
	return true
}

func (q *fifo) pop() (uint8, bool) {
	if q.tail == q.head {
		return 0, false
	}
	v := q.buf[q.tail%len(q.buf)]
	q.tail++
	return v, true
}

// remove drops v and keeps the order of the rest.
func (q *fifo) remove(v uint8) {
	n := q.len()
	for i := 0; i < n; i++ {
		x, _ := q.pop()
		if x != v {
			q.push(x)
		}
	}
}

type server struct {
	index uint8
	sid   abi.SID
	owner abi.PID

	slots []slot
	queue fifo
	// receivers are the owner's threads sleeping on this server, oldest first.
	receivers []*Thread
	// preferred is woken ahead of older receivers when it is one of them.
	preferred abi.TID
	// blocked are senders waiting for a free slot, oldest first.
	blocked []*Thread
}

// takeReceiver removes and returns the receiver to wake next. The caller
// checks that receivers is not empty.
func (s *server) takeReceiver() *Thread {
	i := 0
	if s.preferred != 0 {
		for j, t := range s.receivers {
			if t.ref.tid == s.preferred {
				i = j
				break
			}
		}
	}
	t := s.receivers[i]
	s.receivers = append(s.receivers[:i:i], s.receivers[i+1:]...)
	return t
}

func (s *server) freeSlot() int {
	for i := range s.slots {
		if s.slots[i].state == slotFree {
			return i
		}
	}
	return -1
}

// ServerInfo is a read-only view of a server.
type ServerInfo struct {
	SID            abi.SID
	Owner          abi.PID
	Queued         int
	AwaitingReply  int
	Receivers      int
	BlockedSenders int
}

func (s *server) info() ServerInfo {
	in := ServerInfo{
		SID:            s.sid,
		Owner:          s.owner,
		Queued:         s.queue.len(),
		Receivers:      len(s.receivers),
		BlockedSenders: len(s.blocked),
	}
	for _, sl := range s.slots {
		if sl.state == slotAwaitingReply {
			in.AwaitingReply++
		}
	}
	return in
}

func (k *Kernel) createServer(p *Process, sid abi.SID) abi.Result {
	if sid.IsZero() {
		return abi.ErrorResult(abi.ErrInvalidString)
	}
	if _, taken := k.bySID[sid]; taken {
		return abi.ErrorResult(abi.ErrServerExists)
	}
	idx := -1
	for i, s := range k.servers {
		if s == nil {
			idx = i
			break
		}
	}
	if idx < 0 {
		return abi.ErrorResult(abi.ErrOutOfMemory)
	}
	k.servers[idx] = &server{
		index: uint8(idx),
		sid:   sid,
		owner: p.pid,
		slots: make([]slot, k.cfg.QueueDepth),
		queue: newFIFO(k.cfg.QueueDepth),
	}
	k.bySID[sid] = uint8(idx)
	k.log.Debug("server created", zap.Uint8("pid", uint8(p.pid)), zap.Stringer("sid", sid))
	return abi.ServerIDResult(sid)
}

func (k *Kernel) ownedServer(p *Process, sid abi.SID) (*server, error) {
	idx, ok := k.bySID[sid]
	if !ok {
		return nil, abi.ErrServerNotFound
	}
	s := k.servers[idx]
	if s.owner != p.pid {
		return nil, abi.ErrAccessDenied
	}
	return s, nil
}

// preferReceiver makes tid the first owner thread woken for sid. Zero clears
// the preference.
func (k *Kernel) preferReceiver(p *Process, sid abi.SID, tid abi.TID) abi.Result {
	s, err := k.ownedServer(p, sid)
	if err != nil {
		return abi.ErrorResult(err)
	}
	if tid != 0 && (int(tid) > len(p.threads) || p.threads[tid-1] == nil) {
		return abi.ErrorResult(abi.ErrInvalidThread)
	}
	s.preferred = tid
	return abi.Ok()
}

func (k *Kernel) destroyServerSyscall(p *Process, sid abi.SID) abi.Result {
	s, err := k.ownedServer(p, sid)
	if err != nil {
		return abi.ErrorResult(err)
	}
	k.destroyServer(s)
	return abi.Ok()
}

// destroyServer removes s. Every sender still waiting on it, queued or
// awaiting a reply, gets its memory back and ServerNotFound. Connections to
// it in every process go dead.
func (k *Kernel) destroyServer(s *server) {
	delete(k.bySID, s.sid)
	k.servers[s.index] = nil
	owner := k.procs[s.owner-1]

	for i := range s.slots {
		sl := &s.slots[i]
		if sl.state == slotFree || sl.gone {
			continue
		}
		if sl.msg.Kind.IsLend() {
			k.unlend(sl, owner)
		}
		if sl.msg.Kind.Blocks() {
			k.wake(k.sender(sl), abi.ErrorResult(abi.ErrServerNotFound))
		}
	}
	for _, t := range s.blocked {
		if k.thread(t.ref) == t && t.state == ThreadBlockedOnQueue {
			t.send = nil
			k.wake(t, abi.ErrorResult(abi.ErrServerNotFound))
		}
	}
	if !owner.dying {
		for _, t := range s.receivers {
			k.wake(t, abi.ErrorResult(abi.ErrServerNotFound))
		}
	}
	for _, p := range k.procs {
		if p != nil && !p.zombie {
			p.conns.markDead(s.sid)
		}
	}
	k.log.Debug("server destroyed", zap.Uint8("pid", uint8(s.owner)), zap.Stringer("sid", s.sid))
}

// dropSender forgets every message p has pending on s. Queued messages that
// expect a reply are withdrawn; messages already received are marked gone.
// Lent memory is unmapped from the receiver in both cases.
func (k *Kernel) dropSender(s *server, p *Process) {
	owner := k.procs[s.owner-1]
	freed := false
	for i := range s.slots {
		sl := &s.slots[i]
		if sl.state == slotFree || sl.gone || sl.from.pid != p.pid {
			continue
		}
		if sl.msg.Kind.IsLend() {
			k.unlend(sl, owner)
		}
		switch {
		case sl.state == slotAwaitingReply:
			sl.gone = true
		case sl.msg.Kind.Blocks():
			s.queue.remove(uint8(i))
			*sl = slot{}
			freed = true
		}
	}
	kept := s.blocked[:0]
	for _, t := range s.blocked {
		if t.ref.pid != p.pid {
			kept = append(kept, t)
		}
	}
	s.blocked = kept
	if freed {
		k.retryBlocked(s)
	}
}

func (k *Kernel) sender(sl *slot) *Thread {
	t := k.thread(sl.from)
	if t == nil {
		k.fatal(sl.from, "slot sender %d:%d vanished", sl.from.pid, sl.from.tid)
	}
	return t
}

// unlend returns a slot's lent pages to the sender.
func (k *Kernel) unlend(sl *slot, owner *Process) {
	src := k.procs[sl.from.pid-1].space
	if err := k.mem.Unlend(src, owner.space, sl.msg.Buf(), sl.recv.Buf()); err != nil {
		k.fatal(sl.from, "unlend %s: %v", sl.msg.Buf(), err)
	}
}
