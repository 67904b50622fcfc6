package kernel

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ember/emberos/abi"
)

// PanicInfo describes a broken kernel invariant.
type PanicInfo struct {
	PID   abi.PID
	TID   abi.TID
	Value any
	Stack []byte
}

type panicState struct {
	once    sync.Once
	active  bool
	handler func(PanicInfo)
}

// SetPanicHandler installs the handler run on the first kernel panic.
//
// The handler is invoked at most once. It must not panic.
func (k *Kernel) SetPanicHandler(fn func(PanicInfo)) {
	k.panics.handler = fn
}

// InPanicMode reports whether an invariant has been broken.
func (k *Kernel) InPanicMode() bool { return k.panics.active }

// fatal stops the kernel. It is reserved for states no caller can produce,
// because isolation may already be lost once one is observed.
func (k *Kernel) fatal(ref threadRef, format string, args ...any) {
	info := PanicInfo{PID: ref.pid, TID: ref.tid, Value: fmt.Sprintf(format, args...)}
	k.panics.once.Do(func() {
		k.panics.active = true
		info.Stack = captureStack()
		k.log.Error("kernel panic",
			zap.Uint8("pid", uint8(ref.pid)),
			zap.Uint8("tid", uint8(ref.tid)),
			zap.Any("value", info.Value),
		)
		if fn := k.panics.handler; fn != nil {
			fn(info)
		}
	})
	panic(info)
}
