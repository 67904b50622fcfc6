package kernel

import "ember/emberos/abi"

// Post delivers a non-blocking scalar to sid on behalf of the kernel, the
// way an interrupt handler would. The receiver sees sender PID and TID zero
// and must not reply. Post never blocks: a full queue is ErrServerQueueFull.
func (k *Kernel) Post(sid abi.SID, msg abi.Message) error {
	if msg.Kind != abi.KindScalar {
		return abi.ErrInvalidSyscall
	}
	idx, ok := k.bySID[sid]
	if !ok {
		return abi.ErrServerNotFound
	}
	s := k.servers[idx]

	direct := len(s.receivers) > 0
	if direct {
		r := s.takeReceiver()
		env := abi.Envelope{Sender: abi.MakeSender(noSlot, s.index, 0, 0), Body: msg}
		k.wake(r, abi.MessageResult(env))
	} else {
		i := s.freeSlot()
		if i < 0 {
			k.obs.QueueFull(true)
			return abi.ErrServerQueueFull
		}
		s.slots[i] = slot{state: slotQueued, msg: msg, recv: msg}
		s.queue.push(uint8(i))
	}
	k.obs.Delivered(msg.Kind, direct)
	k.scheduleIdle()
	return nil
}
