// Package console is the kernel console: a VT100 terminal drawn onto the HAL
// framebuffer, plus the screen shown when the kernel panics.
package console

import (
	"sync"

	"tinygo.org/x/tinyfont"
	"tinygo.org/x/tinyfont/proggy"
	"tinygo.org/x/tinyterm"

	"ember/hal"
)

var font = &proggy.TinySZ8pt7b

const (
	fontHeight = 10
	fontOffset = 7
)

// Console is safe for concurrent use. It implements hal.Logger so that it
// can sit behind the log service.
type Console struct {
	mu    sync.Mutex
	fb    hal.Framebuffer
	d     *fbDisplay
	t     *tinyterm.Terminal
	dirty bool
}

var _ hal.Logger = (*Console)(nil)

// New returns a console on fb, or nil when there is no RGB565 framebuffer.
func New(fb hal.Framebuffer) *Console {
	if fb == nil || fb.Format() != hal.PixelFormatRGB565 || fb.Buffer() == nil {
		return nil
	}
	c := &Console{fb: fb, d: &fbDisplay{fb: fb}}
	c.reset()
	return c
}

func (c *Console) reset() {
	c.fb.ClearRGB(0, 0, 0)
	c.t = tinyterm.NewTerminal(c.d)
	c.t.Configure(&tinyterm.Config{
		Font:              font,
		FontHeight:        fontHeight,
		FontOffset:        fontOffset,
		UseSoftwareScroll: true,
	})
	c.dirty = true
}

// Write feeds raw terminal bytes, escape sequences included.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dirty = true
	return c.t.Write(p)
}

func (c *Console) WriteLineBytes(b []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = c.t.Write(b)
	_, _ = c.t.Write([]byte("\r\n"))
	c.dirty = true
}

func (c *Console) WriteLineString(s string) { c.WriteLineBytes([]byte(s)) }

// Clear blanks the screen and homes the cursor.
func (c *Console) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reset()
}

// Flush presents the framebuffer if anything was drawn since the last call.
// The host tick loop calls it once per frame.
func (c *Console) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty {
		return nil
	}
	c.dirty = false
	return c.fb.Present()
}

// Columns returns how many characters fit on one line.
func (c *Console) Columns() int {
	_, w := tinyfont.LineWidth(font, "0")
	if w == 0 {
		return 0
	}
	return c.fb.Width() / int(w)
}
