package console

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ember/emberos/kernel"
	"ember/hal"
)

type countingFB struct {
	hal.Framebuffer
	presents int
}

func (f *countingFB) Present() error {
	f.presents++
	return nil
}

func lit(fb hal.Framebuffer, bg uint16) int {
	buf := fb.Buffer()
	n := 0
	for i := 0; i+1 < len(buf); i += 2 {
		if uint16(buf[i])|uint16(buf[i+1])<<8 != bg {
			n++
		}
	}
	return n
}

func TestNewNeedsFramebuffer(t *testing.T) {
	assert.Nil(t, New(nil))
}

func TestConsoleDrawsAndFlushesOnce(t *testing.T) {
	fb := &countingFB{Framebuffer: hal.NewFramebuffer(96, 40)}
	c := New(fb)
	require.NotNil(t, c)
	require.NoError(t, c.Flush())
	assert.Equal(t, 1, fb.presents)
	assert.Zero(t, lit(fb, 0))

	c.WriteLineString("ember")
	assert.NotZero(t, lit(fb, 0))
	require.NoError(t, c.Flush())
	require.NoError(t, c.Flush())
	assert.Equal(t, 2, fb.presents)

	c.Clear()
	assert.Zero(t, lit(fb, 0))
	assert.Positive(t, c.Columns())
}

func TestConsoleScrollsWhenFull(t *testing.T) {
	fb := hal.NewFramebuffer(96, 2*fontHeight)
	c := New(fb)
	for i := 0; i < 10; i++ {
		c.WriteLineString("line")
	}
	_, err := c.Write([]byte("x"))
	assert.NoError(t, err)
}

type lines []string

func (l *lines) WriteLineString(s string) { *l = append(*l, s) }
func (l *lines) WriteLineBytes(b []byte)  { l.WriteLineString(string(b)) }

func TestPanicHandlerLogsAndPaints(t *testing.T) {
	var log lines
	fb := hal.NewFramebuffer(128, 64)
	h := PanicHandler(&log, fb)

	h(kernel.PanicInfo{PID: 3, TID: 1, Value: errors.New("boom"), Stack: []byte("frame one\n\nframe two\n")})

	assert.Equal(t, lines{
		"Ember kernel panic",
		"pid 3 tid 1",
		"panic: boom",
		"stack:",
		"frame one",
		"frame two",
	}, log)
	white := hal.RGB565(255, 255, 255)
	assert.NotZero(t, lit(fb, white))
}

func TestPanicWithoutStack(t *testing.T) {
	assert.Equal(t, "stack: unavailable", panicLines(kernel.PanicInfo{})[3])
	PanicHandler(nil, nil)(kernel.PanicInfo{})
}

func TestTakeRunes(t *testing.T) {
	p, r := takeRunes("héllo", 2)
	assert.Equal(t, "hé", p)
	assert.Equal(t, "llo", r)
	p, r = takeRunes("ab", 5)
	assert.Equal(t, "ab", p)
	assert.Empty(t, r)
	p, r = takeRunes("ab", 0)
	assert.Empty(t, p)
	assert.Equal(t, "ab", r)
}
