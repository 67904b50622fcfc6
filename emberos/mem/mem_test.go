package mem

import (
	"bytes"
	"errors"
	"testing"

	"ember/emberos/abi"
)

func newPair(t *testing.T, pages int) (*Memory, *Space, *Space) {
	t.Helper()
	m := New(pages)
	return m, m.NewSpace(1, DefaultLayout), m.NewSpace(2, DefaultLayout)
}

func TestMapZeroesAndOwns(t *testing.T) {
	m, a, _ := newPair(t, 8)

	r, err := m.Map(a, 0, 2*abi.PageSize, abi.FlagR|abi.FlagW)
	if err != nil {
		t.Fatalf("Map() err = %v", err)
	}
	if r.Base != DefaultLayout.MapBase {
		t.Fatalf("Map() base = %#x, want %#x", r.Base, DefaultLayout.MapBase)
	}
	if m.FreePages() != 6 {
		t.Fatalf("FreePages() = %d, want 6", m.FreePages())
	}
	ppn, _, ok := a.Translate(r.Base)
	if !ok || m.Owner(ppn) != 1 {
		t.Fatalf("Translate() ok=%v owner=%d, want owner 1", ok, m.Owner(ppn))
	}

	got := make([]byte, 16)
	if err := m.Read(a, r.Base+abi.PageSize-8, got); err != nil {
		t.Fatalf("Read() err = %v", err)
	}
	if !bytes.Equal(got, make([]byte, 16)) {
		t.Fatalf("fresh pages not zeroed: %v", got)
	}
}

func TestMapExhaustion(t *testing.T) {
	m, a, _ := newPair(t, 2)
	if _, err := m.Map(a, 0, 3*abi.PageSize, abi.FlagR); !errors.Is(err, abi.ErrOutOfMemory) {
		t.Fatalf("Map() err = %v, want %v", err, abi.ErrOutOfMemory)
	}
	if m.FreePages() != 2 || a.Pages() != 0 {
		t.Fatalf("failed Map() changed state: free=%d mapped=%d", m.FreePages(), a.Pages())
	}
}

func TestLendReadOnly(t *testing.T) {
	m, a, b := newPair(t, 8)
	r, _ := m.Map(a, 0, abi.PageSize, abi.FlagR|abi.FlagW)
	if err := m.Write(a, r.Base, []byte("hello")); err != nil {
		t.Fatalf("Write() err = %v", err)
	}

	br, err := m.Lend(a, b, r, false)
	if err != nil {
		t.Fatalf("Lend() err = %v", err)
	}
	got := make([]byte, 5)
	if err := m.Read(b, br.Base, got); err != nil || string(got) != "hello" {
		t.Fatalf("borrower Read() = %q, %v", got, err)
	}
	if err := m.Write(b, br.Base, []byte("x")); !errors.Is(err, abi.ErrAccessDenied) {
		t.Fatalf("borrower Write() err = %v, want %v", err, abi.ErrAccessDenied)
	}

	if _, err := m.Lend(a, b, r, false); !errors.Is(err, abi.ErrMemoryInUse) {
		t.Fatalf("second Lend() err = %v, want %v", err, abi.ErrMemoryInUse)
	}
	if err := m.Unmap(a, r); !errors.Is(err, abi.ErrMemoryInUse) {
		t.Fatalf("Unmap() of lent range err = %v, want %v", err, abi.ErrMemoryInUse)
	}

	if err := m.Unlend(a, b, r, br); err != nil {
		t.Fatalf("Unlend() err = %v", err)
	}
	if _, _, ok := b.Translate(br.Base); ok {
		t.Fatal("borrower still maps the range after Unlend()")
	}
	if err := m.Unmap(a, r); err != nil {
		t.Fatalf("Unmap() after Unlend() err = %v", err)
	}
}

func TestLendMutableSharesPages(t *testing.T) {
	m, a, b := newPair(t, 8)
	r, _ := m.Map(a, 0, 2*abi.PageSize, abi.FlagR|abi.FlagW)

	br, err := m.Lend(a, b, r, true)
	if err != nil {
		t.Fatalf("Lend() err = %v", err)
	}
	msg := []byte("straddles the page boundary")
	at := br.Base + abi.PageSize - 4
	if err := m.Write(b, at, msg); err != nil {
		t.Fatalf("borrower Write() err = %v", err)
	}
	if err := m.Unlend(a, b, r, br); err != nil {
		t.Fatalf("Unlend() err = %v", err)
	}

	got := make([]byte, len(msg))
	if err := m.Read(a, r.Base+abi.PageSize-4, got); err != nil {
		t.Fatalf("owner Read() err = %v", err)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("owner sees %q, want %q", got, msg)
	}
}

func TestLendMutableNeedsWrite(t *testing.T) {
	m, a, b := newPair(t, 8)
	r, _ := m.Map(a, 0, abi.PageSize, abi.FlagR)
	if _, err := m.Lend(a, b, r, true); !errors.Is(err, abi.ErrShareViolation) {
		t.Fatalf("Lend() err = %v, want %v", err, abi.ErrShareViolation)
	}
	if b.Pages() != 0 {
		t.Fatalf("failed Lend() mapped %d pages", b.Pages())
	}
}

func TestLendRejectsUnowned(t *testing.T) {
	m, a, b := newPair(t, 8)
	r, _ := m.Map(a, 0, abi.PageSize, abi.FlagR|abi.FlagW)
	wider := abi.Range{Base: r.Base, Size: 2 * abi.PageSize}
	if _, err := m.Lend(a, b, wider, false); !errors.Is(err, abi.ErrBadAddress) {
		t.Fatalf("Lend() err = %v, want %v", err, abi.ErrBadAddress)
	}

	br, _ := m.Lend(a, b, r, false)
	c := m.NewSpace(3, DefaultLayout)
	if _, err := m.Lend(b, c, br, false); !errors.Is(err, abi.ErrBadAddress) {
		t.Fatalf("re-lending borrowed pages err = %v, want %v", err, abi.ErrBadAddress)
	}
}

func TestMoveTransfersOwnership(t *testing.T) {
	m, a, b := newPair(t, 8)
	r, _ := m.Map(a, 0, abi.PageSize, abi.FlagR|abi.FlagW)
	_ = m.Write(a, r.Base, []byte("gift"))
	ppn, _, _ := a.Translate(r.Base)

	br, err := m.Move(a, b, r)
	if err != nil {
		t.Fatalf("Move() err = %v", err)
	}
	if _, _, ok := a.Translate(r.Base); ok {
		t.Fatal("sender still maps moved page")
	}
	if m.Owner(ppn) != 2 {
		t.Fatalf("Owner() = %d, want 2", m.Owner(ppn))
	}
	got := make([]byte, 4)
	_ = m.Read(b, br.Base, got)
	if string(got) != "gift" {
		t.Fatalf("receiver reads %q", got)
	}
	if err := m.Unmap(b, br); err != nil {
		t.Fatalf("receiver Unmap() err = %v", err)
	}
	if m.FreePages() != 8 {
		t.Fatalf("FreePages() = %d, want 8", m.FreePages())
	}
}

func TestReleaseFreesOwnedPages(t *testing.T) {
	m, a, b := newPair(t, 8)
	r, _ := m.Map(a, 0, 2*abi.PageSize, abi.FlagR|abi.FlagW)
	_, _ = m.Map(b, 0, abi.PageSize, abi.FlagR)
	_, _ = m.Lend(a, b, r, false)

	if leaked := m.Release(b); leaked != 0 {
		t.Fatalf("Release() leaked = %d, want 0", leaked)
	}
	if m.FreePages() != 6 {
		t.Fatalf("FreePages() = %d, want 6", m.FreePages())
	}
	if leaked := m.Release(a); leaked != 2 {
		t.Fatalf("Release() of lender leaked = %d, want 2", leaked)
	}
	if m.FreePages() != 8 {
		t.Fatalf("FreePages() = %d, want 8", m.FreePages())
	}
}

func TestProtect(t *testing.T) {
	m, a, _ := newPair(t, 4)
	r, _ := m.Map(a, 0, abi.PageSize, abi.FlagR|abi.FlagW)
	if err := m.Protect(a, r, abi.FlagR); err != nil {
		t.Fatalf("Protect() err = %v", err)
	}
	if err := m.Write(a, r.Base, []byte{1}); !errors.Is(err, abi.ErrAccessDenied) {
		t.Fatalf("Write() err = %v, want %v", err, abi.ErrAccessDenied)
	}
}

func TestStackPagesAreReserved(t *testing.T) {
	m, a, b := newPair(t, 8)
	stack, err := m.MapStack(a, 2*abi.PageSize)
	if err != nil {
		t.Fatalf("MapStack() err = %v", err)
	}
	top := abi.Range{Base: stack.End() - abi.PageSize, Size: abi.PageSize}

	if err := m.Unmap(a, top); !errors.Is(err, abi.ErrAccessDenied) {
		t.Fatalf("Unmap(stack) err = %v, want %v", err, abi.ErrAccessDenied)
	}
	if _, err := m.Move(a, b, stack); !errors.Is(err, abi.ErrAccessDenied) {
		t.Fatalf("Move(stack) err = %v, want %v", err, abi.ErrAccessDenied)
	}
	if err := m.Protect(a, stack, abi.FlagR); !errors.Is(err, abi.ErrAccessDenied) {
		t.Fatalf("Protect(stack) err = %v, want %v", err, abi.ErrAccessDenied)
	}
	if a.Pages() != 2 || m.FreePages() != 6 {
		t.Fatalf("refused calls changed state: mapped=%d free=%d", a.Pages(), m.FreePages())
	}

	// A stack buffer can still be lent and returned.
	dr, err := m.Lend(a, b, top, false)
	if err != nil {
		t.Fatalf("Lend(stack) err = %v", err)
	}
	if err := m.UnmapStack(a, stack); !errors.Is(err, abi.ErrMemoryInUse) {
		t.Fatalf("UnmapStack() while lent err = %v, want %v", err, abi.ErrMemoryInUse)
	}
	if err := m.Unlend(a, b, top, dr); err != nil {
		t.Fatalf("Unlend() err = %v", err)
	}

	if err := m.UnmapStack(a, stack); err != nil {
		t.Fatalf("UnmapStack() err = %v", err)
	}
	if a.Pages() != 0 || m.FreePages() != 8 {
		t.Fatalf("after UnmapStack mapped=%d free=%d, want 0 and 8", a.Pages(), m.FreePages())
	}
}

func TestUnmapStackRejectsOrdinaryPages(t *testing.T) {
	m, a, _ := newPair(t, 4)
	r, _ := m.Map(a, 0, abi.PageSize, abi.FlagR|abi.FlagW)
	if err := m.UnmapStack(a, r); !errors.Is(err, abi.ErrBadAddress) {
		t.Fatalf("UnmapStack(heap) err = %v, want %v", err, abi.ErrBadAddress)
	}
	if a.Pages() != 1 {
		t.Fatalf("mapped = %d, want 1", a.Pages())
	}
}
