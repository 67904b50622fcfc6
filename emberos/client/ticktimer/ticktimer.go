// Package ticktimer is the client side of the tick timer.
package ticktimer

import (
	"fmt"
	"time"

	"ember/emberos/abi"
	"ember/emberos/hosted"
	"ember/emberos/proto"
)

type Client struct {
	th  *hosted.Thread
	cid abi.CID
}

func Connect(th *hosted.Thread) (*Client, error) {
	cid, err := th.Connect(proto.TicktimerSID)
	if err != nil {
		return nil, fmt.Errorf("ticktimer connect: %w", err)
	}
	return &Client{th: th, cid: cid}, nil
}

// Sleep blocks the calling thread for at least d of timer time.
func (c *Client) Sleep(d time.Duration) error {
	reply, err := c.th.BlockingScalar(c.cid, uintptr(proto.TimerSleep), uintptr(d.Milliseconds()))
	if err != nil {
		return fmt.Errorf("ticktimer sleep: %w", err)
	}
	if reply[0] != 0 {
		return fmt.Errorf("ticktimer sleep: %w", abi.Error(reply[0]))
	}
	return nil
}

// Elapsed returns timer time since boot.
func (c *Client) Elapsed() (time.Duration, error) {
	reply, err := c.th.BlockingScalar(c.cid, uintptr(proto.TimerElapsed))
	if err != nil {
		return 0, fmt.Errorf("ticktimer elapsed: %w", err)
	}
	ms := uint64(reply[0]) | uint64(reply[1])<<32
	return time.Duration(ms) * time.Millisecond, nil
}

func (c *Client) Close() error { return c.th.Disconnect(c.cid) }
