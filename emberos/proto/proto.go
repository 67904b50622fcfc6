// Package proto holds the well-known addresses and message layouts of the
// system services.
package proto

import "ember/emberos/abi"

func wellKnown(name string) abi.SID {
	sid, ok := abi.SIDFromString(name)
	if !ok {
		panic("proto: bad well-known name " + name)
	}
	return sid
}

var (
	// NamesSID is where the name registry listens.
	NamesSID = wellKnown("ember-name-srvr!")
	// LoggerSID is where the log service listens.
	LoggerSID = wellKnown("ember-log-server")
	// TicktimerSID is where the tick timer listens.
	TicktimerSID = wellKnown("ember-ticktimer!")
)

// NameOp is a message ID understood by the name registry.
type NameOp uintptr

const (
	NameRegister NameOp = iota + 1
	NameLookup
)

func (o NameOp) String() string {
	switch o {
	case NameRegister:
		return "register"
	case NameLookup:
		return "lookup"
	default:
		return "unknown"
	}
}

// LogOp is a message ID understood by the log service.
type LogOp uintptr

const (
	// LogLine lends a line and waits until it is written.
	LogLine LogOp = iota + 1
	// LogPost moves a page holding a line and does not wait.
	LogPost
)

func (o LogOp) String() string {
	switch o {
	case LogLine:
		return "line"
	case LogPost:
		return "post"
	default:
		return "unknown"
	}
}

// TimerOp is a message ID understood by the tick timer.
type TimerOp uintptr

const (
	// TimerSleep blocks for Args[0] milliseconds.
	TimerSleep TimerOp = iota + 1
	// TimerElapsed replies with milliseconds since boot.
	TimerElapsed
	// TimerTick advances the clock by Args[0] milliseconds. Only the kernel
	// may send it.
	TimerTick
)

func (o TimerOp) String() string {
	switch o {
	case TimerSleep:
		return "sleep"
	case TimerElapsed:
		return "elapsed"
	case TimerTick:
		return "tick"
	default:
		return "unknown"
	}
}
