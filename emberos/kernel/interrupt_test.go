package kernel

import (
	"testing"

	"ember/emberos/abi"
)

func TestPostFromKernel(t *testing.T) {
	r := newRig(t, func(c *Config) { c.QueueDepth = 1 })
	a := r.spawn("a", 0x1000)
	expect(t, r.call(a, abi.CreateServerWithAddress{SID: testSID}), abi.ResultServerID)

	if err := r.k.Post(testSID, abi.BlockingScalar(1, 0, 0, 0, 0)); err != abi.ErrInvalidSyscall {
		t.Fatalf("Post(blocking) err = %v, want %v", err, abi.ErrInvalidSyscall)
	}
	if err := r.k.Post(abi.SIDFromWords(9, 9, 9, 9), abi.Scalar(1, 0, 0, 0, 0)); err != abi.ErrServerNotFound {
		t.Fatalf("Post(unknown) err = %v, want %v", err, abi.ErrServerNotFound)
	}

	if err := r.k.Post(testSID, abi.Scalar(7, 3, 0, 0, 0)); err != nil {
		t.Fatalf("Post() err = %v", err)
	}
	if err := r.k.Post(testSID, abi.Scalar(8, 0, 0, 0, 0)); err != abi.ErrServerQueueFull {
		t.Fatalf("Post(full) err = %v, want %v", err, abi.ErrServerQueueFull)
	}

	res := r.call(a, abi.ReceiveMessage{SID: testSID})
	expect(t, res, abi.ResultMessage)
	env := res.Envelope()
	if env.Body.ID != 7 || env.Body.Args[0] != 3 {
		t.Fatalf("Receive() body = %s, want id 7 arg 3", env.Body)
	}
	if env.Sender.PID() != 0 || env.Sender.Slot() != noSlot {
		t.Fatalf("Receive() sender = pid %d slot %d, want kernel", env.Sender.PID(), env.Sender.Slot())
	}

	// A waiting receiver is woken directly.
	r.call(a, abi.ReceiveMessage{SID: testSID})
	if got := r.k.ThreadState(a, 1); got != ThreadSleepingOnServer {
		t.Fatalf("ThreadState(a) = %s, want %s", got, ThreadSleepingOnServer)
	}
	if err := r.k.Post(testSID, abi.Scalar(9, 0, 0, 0, 0)); err != nil {
		t.Fatalf("Post() err = %v", err)
	}
	r.running(a)
	expect(t, r.result(a, 1), abi.ResultMessage)
	if id := r.result(a, 1).Envelope().Body.ID; id != 9 {
		t.Fatalf("woken with id %d, want 9", id)
	}
}
