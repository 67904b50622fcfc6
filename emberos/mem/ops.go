package mem

import "ember/emberos/abi"

// Map allocates size bytes of fresh zeroed pages in s's map region. A zero
// virt lets Map choose the address.
func (m *Memory) Map(s *Space, virt, size uintptr, flags abi.MemoryFlags) (abi.Range, error) {
	return m.mapPages(s, virt, size, flags, false)
}

// MapStack maps a read-write thread stack that only UnmapStack can free.
func (m *Memory) MapStack(s *Space, size uintptr) (abi.Range, error) {
	return m.mapPages(s, 0, size, abi.FlagR|abi.FlagW, true)
}

// UnmapStack frees a range mapped by MapStack.
func (m *Memory) UnmapStack(s *Space, r abi.Range) error {
	if err := s.owned(r, 0); err != nil {
		return err
	}
	for va := r.Base; va < r.End(); va += abi.PageSize {
		if !s.pages[va/abi.PageSize].reserved {
			return abi.ErrBadAddress
		}
	}
	m.unmapPages(s, r)
	return nil
}

func (m *Memory) mapPages(s *Space, virt, size uintptr, flags abi.MemoryFlags, reserved bool) (abi.Range, error) {
	if size == 0 || size%abi.PageSize != 0 || virt%abi.PageSize != 0 {
		return abi.Range{}, abi.ErrBadAlignment
	}
	n := int(size / abi.PageSize)
	if virt == 0 {
		va, ok := s.findFree(s.layout.MapBase, s.layout.MapTop, s.mapHint, n)
		if !ok {
			return abi.Range{}, abi.ErrOutOfMemory
		}
		virt = va
	}
	r := abi.Range{Base: virt, Size: size}
	if r.Base < s.layout.MapBase || r.End() > s.layout.MapTop || r.End() < r.Base {
		return abi.Range{}, abi.ErrBadAddress
	}
	if !s.rangeFree(r) {
		return abi.Range{}, abi.ErrMemoryInUse
	}
	if len(m.free) < n {
		return abi.Range{}, abi.ErrOutOfMemory
	}

	for va := r.Base; va < r.End(); va += abi.PageSize {
		ppn := m.free[len(m.free)-1]
		m.free = m.free[:len(m.free)-1]
		clear(m.page(ppn))
		m.owner[ppn] = s.pid
		s.pages[va/abi.PageSize] = pte{ppn: ppn, flags: flags, reserved: reserved}
	}
	s.mapHint = r.End()
	return r, nil
}

// Unmap frees an owned range. Lent, borrowed and reserved pages cannot be
// unmapped.
func (m *Memory) Unmap(s *Space, r abi.Range) error {
	if err := s.disposable(r); err != nil {
		return err
	}
	m.unmapPages(s, r)
	return nil
}

func (m *Memory) unmapPages(s *Space, r abi.Range) {
	for va := r.Base; va < r.End(); va += abi.PageSize {
		vpn := va / abi.PageSize
		m.freePage(s.pages[vpn].ppn)
		delete(s.pages, vpn)
	}
}

// Protect replaces the flags of an owned range.
func (m *Memory) Protect(s *Space, r abi.Range, flags abi.MemoryFlags) error {
	if err := s.disposable(r); err != nil {
		return err
	}
	for va := r.Base; va < r.End(); va += abi.PageSize {
		vpn := va / abi.PageSize
		e := s.pages[vpn]
		e.flags = flags
		s.pages[vpn] = e
	}
	return nil
}

// Lend maps src's range r into dst's lend region. The borrower gets read
// access, plus write access when mutable. The pages stay owned by src and are
// marked lent until Unlend.
func (m *Memory) Lend(src, dst *Space, r abi.Range, mutable bool) (abi.Range, error) {
	want := abi.FlagR
	if mutable {
		want |= abi.FlagW
	}
	if err := src.owned(r, want); err != nil {
		return abi.Range{}, err
	}
	va, ok := dst.findFree(dst.layout.LendBase, dst.layout.LendTop, dst.lendHint, r.Pages())
	if !ok {
		return abi.Range{}, abi.ErrOutOfMemory
	}

	out := abi.Range{Base: va, Size: r.Size}
	for i := uintptr(0); i < r.Size; i += abi.PageSize {
		svpn := (r.Base + i) / abi.PageSize
		e := src.pages[svpn]
		e.lent = true
		src.pages[svpn] = e
		dst.pages[(out.Base+i)/abi.PageSize] = pte{ppn: e.ppn, flags: want, borrowed: true}
	}
	dst.lendHint = out.End()
	return out, nil
}

// Unlend ends a lend: the borrower mapping at dr is removed and src's range sr
// becomes usable again. Either space may be nil when its process is gone.
func (m *Memory) Unlend(src, dst *Space, sr, dr abi.Range) error {
	if sr.Size != dr.Size {
		return abi.ErrBadAddress
	}
	if dst != nil {
		for va := dr.Base; va < dr.End(); va += abi.PageSize {
			e, ok := dst.pages[va/abi.PageSize]
			if !ok || !e.borrowed {
				return abi.ErrBadAddress
			}
		}
	}
	if src != nil {
		for va := sr.Base; va < sr.End(); va += abi.PageSize {
			e, ok := src.pages[va/abi.PageSize]
			if !ok || !e.lent {
				return abi.ErrBadAddress
			}
		}
	}

	if dst != nil {
		for va := dr.Base; va < dr.End(); va += abi.PageSize {
			delete(dst.pages, va/abi.PageSize)
		}
	}
	if src != nil {
		for va := sr.Base; va < sr.End(); va += abi.PageSize {
			vpn := va / abi.PageSize
			e := src.pages[vpn]
			e.lent = false
			src.pages[vpn] = e
		}
	}
	return nil
}

// Move transfers ownership of r from src to dst. The pages keep their
// contents and flags and appear in dst's lend region.
func (m *Memory) Move(src, dst *Space, r abi.Range) (abi.Range, error) {
	if err := src.disposable(r); err != nil {
		return abi.Range{}, err
	}
	va, ok := dst.findFree(dst.layout.LendBase, dst.layout.LendTop, dst.lendHint, r.Pages())
	if !ok {
		return abi.Range{}, abi.ErrOutOfMemory
	}

	out := abi.Range{Base: va, Size: r.Size}
	for i := uintptr(0); i < r.Size; i += abi.PageSize {
		svpn := (r.Base + i) / abi.PageSize
		e := src.pages[svpn]
		delete(src.pages, svpn)
		m.owner[e.ppn] = dst.pid
		dst.pages[(out.Base+i)/abi.PageSize] = pte{ppn: e.ppn, flags: e.flags}
	}
	dst.lendHint = out.End()
	return out, nil
}

// Release tears down s: owned pages return to the pool and borrowed mappings
// are dropped. Callers must end outstanding lends from s first; pages still
// marked lent are reported back so the caller can treat them as a leak.
func (m *Memory) Release(s *Space) (stillLent int) {
	for vpn, e := range s.pages {
		if !e.borrowed {
			if e.lent {
				stillLent++
			}
			m.freePage(e.ppn)
		}
		delete(s.pages, vpn)
	}
	return stillLent
}

func (m *Memory) freePage(ppn int) {
	m.owner[ppn] = 0
	m.free = append(m.free, ppn)
}

// Read copies memory at addr in s into p. The whole span must be readable.
func (m *Memory) Read(s *Space, addr uintptr, p []byte) error {
	if err := s.accessible(addr, uintptr(len(p)), abi.FlagR); err != nil {
		return err
	}
	m.walk(s, addr, len(p), func(page []byte, off int) {
		copy(p[off:], page)
	})
	return nil
}

// Write copies p into s at addr. The whole span must be writable.
func (m *Memory) Write(s *Space, addr uintptr, p []byte) error {
	if err := s.accessible(addr, uintptr(len(p)), abi.FlagW); err != nil {
		return err
	}
	m.walk(s, addr, len(p), func(page []byte, off int) {
		copy(page, p[off:])
	})
	return nil
}

func (s *Space) accessible(addr, n uintptr, want abi.MemoryFlags) error {
	if n == 0 {
		return nil
	}
	if addr+n < addr {
		return abi.ErrBadAddress
	}
	first := addr / abi.PageSize
	last := (addr + n - 1) / abi.PageSize
	for vpn := first; vpn <= last; vpn++ {
		e, ok := s.pages[vpn]
		if !ok {
			return abi.ErrBadAddress
		}
		if !e.flags.Has(want) {
			return abi.ErrAccessDenied
		}
	}
	return nil
}

// walk calls fn with the slice of each physical page touched by [addr, addr+n)
// and the offset of that slice within the caller's buffer.
func (m *Memory) walk(s *Space, addr uintptr, n int, fn func(page []byte, off int)) {
	off := 0
	for off < n {
		va := addr + uintptr(off)
		e := s.pages[va/abi.PageSize]
		in := int(va % abi.PageSize)
		chunk := min(abi.PageSize-in, n-off)
		fn(m.page(e.ppn)[in:in+chunk], off)
		off += chunk
	}
}

// Check reports whether s could lend or move r with want access, without
// changing anything.
func (m *Memory) Check(s *Space, r abi.Range, want abi.MemoryFlags) error {
	return s.owned(r, want)
}
