package hal

import "time"

// tickBuffer bounds the ticks a slow consumer can fall behind by.
const tickBuffer = 1024

// hostTime turns wall-clock time into the 1ms tick stream. Ticks that do
// not fit in the channel are counted and dropped.
type hostTime struct {
	ch      chan uint64
	seq     uint64
	dropped uint64

	now  func() time.Time
	last time.Time
	acc  time.Duration
}

func newHostTime() *hostTime {
	return &hostTime{ch: make(chan uint64, tickBuffer), now: time.Now}
}

func (t *hostTime) Ticks() <-chan uint64 { return t.ch }

// sync emits one tick per whole millisecond since the previous call. The
// first call emits a single tick to start the stream.
func (t *hostTime) sync() {
	now := t.now()
	if t.last.IsZero() {
		t.last = now
		t.emit(1)
		return
	}
	t.acc += now.Sub(t.last)
	t.last = now
	if n := uint64(t.acc / time.Millisecond); n > 0 {
		t.acc %= time.Millisecond
		t.emit(n)
	}
}

func (t *hostTime) emit(n uint64) {
	for ; n > 0; n-- {
		t.seq++
		select {
		case t.ch <- t.seq:
		default:
			t.dropped++
		}
	}
}
