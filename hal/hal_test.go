package hal

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func TestRGB565RoundTrip(t *testing.T) {
	for _, c := range [][3]uint8{{0, 0, 0}, {255, 255, 255}, {255, 0, 0}, {0, 255, 0}, {0, 0, 255}} {
		r, g, b := rgb888From565(RGB565(c[0], c[1], c[2]))
		if r != c[0] || g != c[1] || b != c[2] {
			t.Fatalf("rgb888From565(RGB565(%v)) = %d,%d,%d", c, r, g, b)
		}
	}
}

func TestFramebufferClear(t *testing.T) {
	fb := NewFramebuffer(4, 3)
	if fb.StrideBytes() != 8 || len(fb.Buffer()) != 24 {
		t.Fatalf("stride %d len %d, want 8 and 24", fb.StrideBytes(), len(fb.Buffer()))
	}
	fb.ClearRGB(255, 255, 255)
	for i, b := range fb.Buffer() {
		if b != 0xff {
			t.Fatalf("Buffer()[%d] = %#x after white clear", i, b)
		}
	}
}

func TestHostTimeDropsWhenFull(t *testing.T) {
	ht := newHostTime()
	ht.emit(uint64(cap(ht.ch)) + 5)
	if len(ht.ch) != cap(ht.ch) {
		t.Fatalf("len(ch) = %d, want %d", len(ht.ch), cap(ht.ch))
	}
	if ht.dropped != 5 {
		t.Fatalf("dropped = %d, want 5", ht.dropped)
	}
	if got := <-ht.Ticks(); got != 1 {
		t.Fatalf("first tick = %d, want 1", got)
	}
}

func TestHostTimeFollowsClock(t *testing.T) {
	now := time.Unix(100, 0)
	ht := newHostTime()
	ht.now = func() time.Time { return now }

	ht.sync()
	now = now.Add(2500 * time.Microsecond)
	ht.sync()
	now = now.Add(600 * time.Microsecond)
	ht.sync()

	// 1 start tick, 2 for the first 2.5ms, 1 once the carried 0.5ms passes 1ms.
	if got := len(ht.ch); got != 4 {
		t.Fatalf("ticks = %d, want 4", got)
	}
	if ht.seq != 4 {
		t.Fatalf("seq = %d, want 4", ht.seq)
	}
}

func TestRunHeadlessStopsAfterTicks(t *testing.T) {
	var out bytes.Buffer
	steps := 0
	err := RunHeadless(context.Background(), func(h HAL) func() error {
		h.Logger().WriteLineString("boot")
		if fb := h.Display().Framebuffer(); fb.Width() != 8 || fb.Height() != 4 {
			t.Errorf("framebuffer %dx%d, want 8x4", fb.Width(), fb.Height())
		}
		return func() error {
			steps++
			return nil
		}
	}, HeadlessConfig{Host: HostConfig{Width: 8, Height: 4, Out: &out}, Hz: 1000, Ticks: 3})
	if err != nil {
		t.Fatalf("RunHeadless() = %v", err)
	}
	if steps != 3 {
		t.Fatalf("steps = %d, want 3", steps)
	}
	if out.String() != "boot\n" {
		t.Fatalf("log = %q, want %q", out.String(), "boot\n")
	}
}

func TestRunHeadlessHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RunHeadless(ctx, func(HAL) func() error { return nil }, HeadlessConfig{Host: HostConfig{Out: &bytes.Buffer{}}})
	if err != context.Canceled {
		t.Fatalf("RunHeadless() = %v, want %v", err, context.Canceled)
	}
}
