package kernel

import "ember/emberos/abi"

// Observer receives kernel events, typically to export metrics.
type Observer interface {
	Syscall(n abi.SysCallNumber, kind abi.ResultKind, code abi.Error)
	Delivered(kind abi.MessageKind, fast bool)
	QueueFull(try bool)
	ContextSwitch(core int)
	Processes(live int)
}

type nopObserver struct{}

func (nopObserver) Syscall(abi.SysCallNumber, abi.ResultKind, abi.Error) {}
func (nopObserver) Delivered(abi.MessageKind, bool)                      {}
func (nopObserver) QueueFull(bool)                                       {}
func (nopObserver) ContextSwitch(int)                                    {}
func (nopObserver) Processes(int)                                        {}
