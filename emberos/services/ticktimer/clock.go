package ticktimer

import (
	"errors"

	"ember/emberos/abi"
	"ember/emberos/proto"
)

// Poster delivers kernel messages; *hosted.Machine is one.
type Poster interface {
	Post(sid abi.SID, msg abi.Message) error
}

// Clock forwards host milliseconds to the tick timer. Time that cannot be
// posted because the timer is missing or busy is carried to the next call.
type Clock struct {
	p     Poster
	carry uintptr
}

func NewClock(p Poster) *Clock { return &Clock{p: p} }

// Advance adds ms milliseconds.
func (c *Clock) Advance(ms uintptr) error {
	c.carry += ms
	if c.carry == 0 {
		return nil
	}
	err := c.p.Post(proto.TicktimerSID, abi.Scalar(uintptr(proto.TimerTick), c.carry, 0, 0, 0))
	switch {
	case err == nil:
		c.carry = 0
		return nil
	case errors.Is(err, abi.ErrServerQueueFull), errors.Is(err, abi.ErrServerNotFound):
		return nil
	}
	return err
}

// Pending returns milliseconds not yet delivered.
func (c *Clock) Pending() uintptr { return c.carry }
