package abi

import (
	"errors"
	"math"
	"testing"
)

func TestDecodeUnknownSyscall(t *testing.T) {
	for _, n := range []uintptr{0, 1, 5, 30, 43, 1 << 20} {
		_, err := Decode([8]uintptr{n})
		if !errors.Is(err, ErrUnhandledSyscall) {
			t.Fatalf("Decode(%d) err = %v, want %v", n, err, ErrUnhandledSyscall)
		}
	}
}

func TestDecodeRoundTrip(t *testing.T) {
	sid := SID{1, 2, 3, 4}
	buf := Range{Base: 0x2000_0000, Size: 2 * PageSize}
	calls := []Call{
		MapMemory{Size: PageSize, Flags: FlagR | FlagW},
		Yield{},
		UpdateMemoryFlags{Range: buf, Flags: FlagR},
		CreateServerWithAddress{SID: sid},
		ReceiveMessage{SID: sid},
		TryReceiveMessage{SID: sid},
		SendMessage{CID: MakeCID(3, 7), Message: Scalar(1, 42, 0, 0, 0)},
		TrySendMessage{CID: MakeCID(3, 7), Message: MutableBorrow(9, buf, 16, 32)},
		Connect{SID: sid},
		TryConnect{SID: sid},
		CreateThread{Entry: 5, Stack: 0x8000, Args: [4]uintptr{1, 2, 3, 4}},
		UnmapMemory{Range: buf},
		ReturnMemory{Sender: MakeSender(1, 2, 3, 4), Range: buf, Offset: 1, Valid: 2},
		CreateProcess{Entry: 3, Arg: 9},
		TerminateProcess{PID: 4, Code: 1},
		Shutdown{},
		ReturnScalar1{Sender: 77, Arg: 43},
		ReturnScalar2{Sender: 77, Arg1: 1, Arg2: 2},
		ReturnScalar5{Sender: 77, Args: [5]uintptr{1, 2, 3, 4, 5}},
		CreateServer{},
		CreateServerID{},
		GetThreadID{},
		GetProcessID{},
		DestroyServer{SID: sid},
		Disconnect{CID: 9},
		JoinThread{TID: 2},
		ExitThread{Code: 3},
		ReplyAndReceiveNext{Sender: 77, Reply: ReplyScalar1, Args: [5]uintptr{43}},
		PreferReceiver{SID: sid, TID: 3},
	}
	for _, c := range calls {
		got, err := Decode(c.Encode())
		if err != nil {
			t.Fatalf("Decode(%s) err = %v", c.Number(), err)
		}
		if got != c {
			t.Fatalf("Decode(%s) = %#v, want %#v", c.Number(), got, c)
		}
	}
}

func TestDecodeRejectsBadMessages(t *testing.T) {
	tests := []struct {
		name string
		args [8]uintptr
		want error
	}{
		{"bad kind", [8]uintptr{uintptr(SysSendMessage), 1, 99}, ErrInvalidSyscall},
		{"unaligned lend", SendMessage{CID: 1, Message: Borrow(1, Range{Base: 0x1001, Size: PageSize}, 0, 0)}.Encode(), ErrBadAlignment},
		{"zero length lend", SendMessage{CID: 1, Message: Borrow(1, Range{Base: 0x1000}, 0, 0)}.Encode(), ErrBadAddress},
		{"valid past end", SendMessage{CID: 1, Message: Borrow(1, Range{Base: 0x1000, Size: PageSize}, 4000, 200)}.Encode(), ErrBadAddress},
		{"unmap unaligned", [8]uintptr{uintptr(SysUnmapMemory), 0x1000, 10}, ErrBadAlignment},
		{"reply kind", [8]uintptr{uintptr(SysReplyAndReceiveNext), 1, 0, 0, 0, 0, 0, 3}, ErrInvalidSyscall},
		{"join zero", [8]uintptr{uintptr(SysJoinThread)}, ErrInvalidThread},
		{"prefer wide tid", [8]uintptr{uintptr(SysPreferReceiver), 1, 2, 3, 4, 0x100}, ErrInvalidThread},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.args)
			if !errors.Is(err, tt.want) {
				t.Fatalf("Decode() err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestDecodeRejectsWideCID(t *testing.T) {
	if ^uintptr(0) == math.MaxUint32 {
		t.Skip("connection ids fill the register on 32-bit targets")
	}
	wide := ^uintptr(0)&^math.MaxUint32 | uintptr(MakeCID(3, 7))
	for _, n := range []SysCallNumber{SysSendMessage, SysTrySendMessage, SysDisconnect} {
		args := [8]uintptr{uintptr(n), wide, uintptr(KindScalar)}
		if _, err := Decode(args); !errors.Is(err, ErrInvalidSyscall) {
			t.Fatalf("Decode(%s) with cid %#x err = %v, want %v", n, wide, err, ErrInvalidSyscall)
		}
	}
}

func TestResultRegisters(t *testing.T) {
	env := Envelope{Sender: MakeSender(1, 2, 3, 4), Body: Scalar(1, 42, 0, 0, 0)}
	r := DecodeResult(MessageResult(env).Registers())
	if r.Kind != ResultMessage {
		t.Fatalf("Kind = %s, want %s", r.Kind, ResultMessage)
	}
	if got := r.Envelope(); got != env {
		t.Fatalf("Envelope() = %+v, want %+v", got, env)
	}

	er := ErrorResult(ErrServerQueueFull)
	if !errors.Is(er.Err(), ErrServerQueueFull) {
		t.Fatalf("Err() = %v, want %v", er.Err(), ErrServerQueueFull)
	}
	if err := ErrorResult(errors.New("boom")).Err(); !errors.Is(err, ErrInternalError) {
		t.Fatalf("foreign error mapped to %v, want %v", err, ErrInternalError)
	}
	if err := Scalar1Result(43).Expect(ResultScalar2); err == nil {
		t.Fatal("Expect() on mismatched kind returned nil")
	}
}

func TestSIDFromString(t *testing.T) {
	sid, ok := SIDFromString("ember-name-srvr!")
	if !ok {
		t.Fatal("SIDFromString() ok = false")
	}
	b := sid.Bytes()
	if string(b[:]) != "ember-name-srvr!" {
		t.Fatalf("Bytes() = %q", b)
	}
	if _, ok := SIDFromString("this name is far too long"); ok {
		t.Fatal("SIDFromString() accepted a 25 byte name")
	}
}

func TestCIDPacking(t *testing.T) {
	c := MakeCID(5, 1234)
	if c.Index() != 5 || c.Generation() != 1234 {
		t.Fatalf("MakeCID(5, 1234) = index %d gen %d", c.Index(), c.Generation())
	}
	s := MakeSender(7, 8, 9, 10)
	if s.Slot() != 7 || s.Server() != 8 || s.PID() != 9 || s.TID() != 10 {
		t.Fatalf("MakeSender fields = %d %d %d %d", s.Slot(), s.Server(), s.PID(), s.TID())
	}
}
