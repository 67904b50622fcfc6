package app

import (
	"ember/emberos/console"
	"ember/emberos/hosted"
	"ember/emberos/kernel"
	"ember/hal"
)

// installPanicHandler reports a kernel panic on the host log and paints it
// over the console.
func installPanicHandler(m *hosted.Machine, log hal.Logger, fb hal.Framebuffer) {
	h := console.PanicHandler(log, fb)
	_ = m.Inspect(func(k *kernel.Kernel) {
		k.SetPanicHandler(func(info kernel.PanicInfo) {
			h(info)
			if fb != nil {
				_ = fb.Present()
			}
		})
	})
}
