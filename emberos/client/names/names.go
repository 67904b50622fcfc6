// Package names is the client side of the name registry.
package names

import (
	"fmt"

	"ember/emberos/abi"
	"ember/emberos/hosted"
	"ember/emberos/proto"
)

// Client holds a connection to the registry and one page used as the
// request buffer.
type Client struct {
	th   *hosted.Thread
	cid  abi.CID
	page abi.Range
}

// Connect waits for the registry and maps the request page.
func Connect(th *hosted.Thread) (*Client, error) {
	cid, err := th.Connect(proto.NamesSID)
	if err != nil {
		return nil, fmt.Errorf("names connect: %w", err)
	}
	page, err := th.MapMemory(0, abi.PageSize, abi.FlagR|abi.FlagW)
	if err != nil {
		return nil, fmt.Errorf("names map: %w", err)
	}
	return &Client{th: th, cid: cid, page: page}, nil
}

// Register publishes sid under name. A taken name is ErrServerExists.
func (c *Client) Register(name string, sid abi.SID) error {
	_, err := c.transact(proto.NameRegister, proto.NameRecord{Name: name, SID: sid})
	if err != nil {
		return fmt.Errorf("names register %q: %w", name, err)
	}
	return nil
}

// Lookup resolves name. An unknown name is ErrServerNotFound.
func (c *Client) Lookup(name string) (abi.SID, error) {
	rec, err := c.transact(proto.NameLookup, proto.NameRecord{Name: name})
	if err != nil {
		return abi.SID{}, fmt.Errorf("names lookup %q: %w", name, err)
	}
	return rec.SID, nil
}

// Dial resolves name and connects to the server behind it.
func (c *Client) Dial(name string) (abi.CID, error) {
	sid, err := c.Lookup(name)
	if err != nil {
		return 0, err
	}
	return c.th.Connect(sid)
}

// Close releases the page and the connection.
func (c *Client) Close() error {
	if err := c.th.UnmapMemory(c.page); err != nil {
		return err
	}
	return c.th.Disconnect(c.cid)
}

func (c *Client) transact(op proto.NameOp, req proto.NameRecord) (proto.NameRecord, error) {
	b, err := req.MarshalBinary()
	if err != nil {
		return proto.NameRecord{}, err
	}
	if err := c.th.Store(c.page.Base, b); err != nil {
		return proto.NameRecord{}, err
	}
	res, err := c.th.LendMut(c.cid, uintptr(op), c.page, 0, uintptr(len(b)))
	if err != nil {
		return proto.NameRecord{}, err
	}
	if err := res.Expect(abi.ResultMemoryReturned); err != nil {
		if res.Kind == abi.ResultScalar1 {
			return proto.NameRecord{}, abi.Error(res.Words[0])
		}
		return proto.NameRecord{}, err
	}

	raw := make([]byte, proto.NameRecordSize)
	if err := c.th.Load(c.page.Base, raw); err != nil {
		return proto.NameRecord{}, err
	}
	var rec proto.NameRecord
	if err := rec.UnmarshalBinary(raw); err != nil {
		return proto.NameRecord{}, err
	}
	if rec.Status != abi.ErrNone {
		return rec, rec.Status
	}
	return rec, nil
}
