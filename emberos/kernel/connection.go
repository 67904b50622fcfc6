package kernel

import "ember/emberos/abi"

const genMask = 1<<24 - 1

type connEntry struct {
	sid  abi.SID
	gen  uint32
	used bool
	// dead marks a connection whose server was destroyed.
	dead bool
}

// connTable is a process's generational connection arena. Index 0 is never
// handed out so a zero CID is always invalid.
type connTable struct {
	entries []connEntry
}

func newConnTable(n int) connTable {
	return connTable{entries: make([]connEntry, n)}
}

func (ct *connTable) connect(sid abi.SID) (abi.CID, error) {
	free := -1
	for i := 1; i < len(ct.entries); i++ {
		e := &ct.entries[i]
		if e.used && !e.dead && e.sid == sid {
			return abi.MakeCID(uint8(i), e.gen), nil
		}
		if !e.used && free < 0 {
			free = i
		}
	}
	if free < 0 {
		return 0, abi.ErrOutOfMemory
	}
	e := &ct.entries[free]
	e.sid = sid
	e.used = true
	e.dead = false
	return abi.MakeCID(uint8(free), e.gen), nil
}

func (ct *connTable) entry(cid abi.CID) *connEntry {
	i := int(cid.Index())
	if i == 0 || i >= len(ct.entries) {
		return nil
	}
	e := &ct.entries[i]
	if !e.used || e.gen != cid.Generation() {
		return nil
	}
	return e
}

func (ct *connTable) lookup(cid abi.CID) (abi.SID, error) {
	e := ct.entry(cid)
	if e == nil || e.dead {
		return abi.SID{}, abi.ErrServerNotFound
	}
	return e.sid, nil
}

// disconnect frees the slot and bumps its generation so cid goes stale.
func (ct *connTable) disconnect(cid abi.CID) error {
	e := ct.entry(cid)
	if e == nil {
		return abi.ErrServerNotFound
	}
	*e = connEntry{gen: (e.gen + 1) & genMask}
	return nil
}

func (ct *connTable) markDead(sid abi.SID) {
	for i := range ct.entries {
		if e := &ct.entries[i]; e.used && e.sid == sid {
			e.dead = true
		}
	}
}

func (ct *connTable) live() int {
	n := 0
	for _, e := range ct.entries {
		if e.used && !e.dead {
			n++
		}
	}
	return n
}

func (k *Kernel) connect(p *Process, sid abi.SID) abi.Result {
	if _, ok := k.bySID[sid]; !ok {
		return abi.ErrorResult(abi.ErrServerNotFound)
	}
	cid, err := p.conns.connect(sid)
	if err != nil {
		return abi.ErrorResult(err)
	}
	return abi.ConnectionIDResult(cid)
}

func (k *Kernel) disconnect(p *Process, cid abi.CID) abi.Result {
	if err := p.conns.disconnect(cid); err != nil {
		return abi.ErrorResult(err)
	}
	return abi.Ok()
}
