package abi

import "fmt"

// PageSize is the granularity of every mapping and lend.
const PageSize = 4096

// MemoryFlags are page permissions.
type MemoryFlags uintptr

const (
	FlagR MemoryFlags = 1 << iota
	FlagW
	FlagX
)

// Has reports whether all bits of f are set.
func (m MemoryFlags) Has(f MemoryFlags) bool { return m&f == f }

func (m MemoryFlags) String() string {
	b := []byte("---")
	if m.Has(FlagR) {
		b[0] = 'r'
	}
	if m.Has(FlagW) {
		b[1] = 'w'
	}
	if m.Has(FlagX) {
		b[2] = 'x'
	}
	return string(b)
}

// Range is a page-aligned span of virtual memory.
type Range struct {
	Base uintptr
	Size uintptr
}

// NewRange validates base and size and returns the range.
func NewRange(base, size uintptr) (Range, error) {
	if base == 0 || size == 0 {
		return Range{}, ErrBadAddress
	}
	if base%PageSize != 0 || size%PageSize != 0 {
		return Range{}, ErrBadAlignment
	}
	if base+size < base {
		return Range{}, ErrBadAddress
	}
	return Range{Base: base, Size: size}, nil
}

// PageAlign rounds n up to a page multiple.
func PageAlign(n uintptr) uintptr {
	return (n + PageSize - 1) &^ (PageSize - 1)
}

// End returns the first address past the range.
func (r Range) End() uintptr { return r.Base + r.Size }

// Pages returns the number of pages covered.
func (r Range) Pages() int { return int(r.Size / PageSize) }

// IsZero reports whether r is the empty range.
func (r Range) IsZero() bool { return r.Size == 0 }

// Contains reports whether [addr, addr+n) lies inside r.
func (r Range) Contains(addr, n uintptr) bool {
	return addr >= r.Base && addr+n >= addr && addr+n <= r.End()
}

// Overlaps reports whether r and o share at least one byte.
func (r Range) Overlaps(o Range) bool {
	return r.Base < o.End() && o.Base < r.End()
}

func (r Range) String() string {
	return fmt.Sprintf("[%#x, %#x)", r.Base, r.End())
}
