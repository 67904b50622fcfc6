package console

import (
	"fmt"
	"image/color"
	"strings"
	"unicode/utf8"

	"tinygo.org/x/tinyfont"

	"ember/emberos/kernel"
	"ember/hal"
)

// PanicHandler returns a kernel panic handler that writes the panic to log
// and paints it onto fb. Either may be nil.
func PanicHandler(log hal.Logger, fb hal.Framebuffer) func(kernel.PanicInfo) {
	return func(info kernel.PanicInfo) {
		lines := panicLines(info)
		if log != nil {
			for _, l := range lines {
				log.WriteLineString(l)
			}
		}
		if fb != nil && fb.Format() == hal.PixelFormatRGB565 && fb.Buffer() != nil {
			DrawPanic(fb, lines)
		}
	}
}

func panicLines(info kernel.PanicInfo) []string {
	lines := []string{
		"Ember kernel panic",
		fmt.Sprintf("pid %d tid %d", info.PID, info.TID),
		fmt.Sprintf("panic: %v", info.Value),
	}
	if len(info.Stack) == 0 {
		return append(lines, "stack: unavailable")
	}
	lines = append(lines, "stack:")
	for _, l := range strings.Split(string(info.Stack), "\n") {
		if l != "" {
			lines = append(lines, l)
		}
	}
	return lines
}

// DrawPanic paints lines black on white, wrapping long lines, until the
// screen is full.
func DrawPanic(fb hal.Framebuffer, lines []string) {
	fb.ClearRGB(255, 255, 255)
	d := &fbDisplay{fb: fb}
	_, w := tinyfont.LineWidth(font, "0")
	fontWidth := int16(w)
	if fontWidth <= 0 {
		_ = fb.Present()
		return
	}
	cols := max(int16(fb.Width())/fontWidth, 1)
	fg := color.RGBA{A: 255}

	y := int16(0)
	for _, line := range lines {
		for len(line) > 0 {
			if int(y)+fontHeight > fb.Height() {
				_ = fb.Present()
				return
			}
			chunk, rest := takeRunes(line, cols)
			x := int16(0)
			for _, r := range chunk {
				tinyfont.DrawChar(d, font, x, y+fontOffset, r, fg)
				x += fontWidth
			}
			y += fontHeight
			line = strings.TrimLeft(rest, " ")
		}
	}
	_ = fb.Present()
}

// takeRunes splits s after n runes.
func takeRunes(s string, n int16) (prefix, rest string) {
	if n <= 0 || s == "" {
		return "", s
	}
	i := 0
	for count := int16(0); i < len(s) && count < n; count++ {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return s[:i], s[i:]
}
