// Package logger is the client side of the log service.
package logger

import (
	"fmt"

	"ember/emberos/abi"
	"ember/emberos/hosted"
	"ember/emberos/proto"
)

// Client writes lines to the log service.
type Client struct {
	th   *hosted.Thread
	cid  abi.CID
	page abi.Range
}

// Connect waits for the log service and maps the line buffer.
func Connect(th *hosted.Thread) (*Client, error) {
	cid, err := th.Connect(proto.LoggerSID)
	if err != nil {
		return nil, fmt.Errorf("logger connect: %w", err)
	}
	page, err := th.MapMemory(0, abi.PageSize, abi.FlagR|abi.FlagW)
	if err != nil {
		return nil, fmt.Errorf("logger map: %w", err)
	}
	return &Client{th: th, cid: cid, page: page}, nil
}

func clip(line string) []byte {
	b := []byte(line)
	if len(b) > abi.PageSize {
		b = b[:abi.PageSize]
	}
	return b
}

// Log lends line to the service and waits until it is written.
func (c *Client) Log(line string) error {
	b := clip(line)
	if err := c.th.Store(c.page.Base, b); err != nil {
		return err
	}
	res, err := c.th.Lend(c.cid, uintptr(proto.LogLine), c.page, 0, uintptr(len(b)))
	if err != nil {
		return fmt.Errorf("logger line: %w", err)
	}
	if res.Kind == abi.ResultScalar1 && res.Words[0] != 0 {
		return fmt.Errorf("logger line: %w", abi.Error(res.Words[0]))
	}
	return nil
}

// Logf formats and logs one line.
func (c *Client) Logf(format string, args ...any) error {
	return c.Log(fmt.Sprintf(format, args...))
}

// Post gives a fresh page holding line to the service and returns at once.
func (c *Client) Post(line string) error {
	b := clip(line)
	page, err := c.th.MapMemory(0, abi.PageSize, abi.FlagR|abi.FlagW)
	if err != nil {
		return fmt.Errorf("logger post: %w", err)
	}
	if err := c.th.Store(page.Base, b); err != nil {
		_ = c.th.UnmapMemory(page)
		return err
	}
	if err := c.th.Move(c.cid, uintptr(proto.LogPost), page, 0, uintptr(len(b))); err != nil {
		_ = c.th.UnmapMemory(page)
		return fmt.Errorf("logger post: %w", err)
	}
	return nil
}

func (c *Client) Close() error {
	if err := c.th.UnmapMemory(c.page); err != nil {
		return err
	}
	return c.th.Disconnect(c.cid)
}
