package abi

import (
	"fmt"
	"math"
)

// SysCallNumber is the first word of every syscall.
type SysCallNumber uintptr

// System calls. The numbering is part of the ABI and must not change.
const (
	SysMapMemory               SysCallNumber = 2
	SysYield                   SysCallNumber = 3
	SysUpdateMemoryFlags       SysCallNumber = 12
	SysCreateServerWithAddress SysCallNumber = 14
	SysReceiveMessage          SysCallNumber = 15
	SysSendMessage             SysCallNumber = 16
	SysConnect                 SysCallNumber = 17
	SysCreateThread            SysCallNumber = 18
	SysUnmapMemory             SysCallNumber = 19
	SysReturnMemory            SysCallNumber = 20
	SysCreateProcess           SysCallNumber = 21
	SysTerminateProcess        SysCallNumber = 22
	SysShutdown                SysCallNumber = 23
	SysTrySendMessage          SysCallNumber = 24
	SysTryConnect              SysCallNumber = 25
	SysReturnScalar1           SysCallNumber = 26
	SysReturnScalar2           SysCallNumber = 27
	SysTryReceiveMessage       SysCallNumber = 28
	SysCreateServer            SysCallNumber = 29
	SysCreateServerID          SysCallNumber = 31
	SysGetThreadID             SysCallNumber = 32
	SysGetProcessID            SysCallNumber = 33
	SysDestroyServer           SysCallNumber = 34
	SysDisconnect              SysCallNumber = 35
	SysJoinThread              SysCallNumber = 36
	SysExitThread              SysCallNumber = 39
	SysReturnScalar5           SysCallNumber = 40
	SysReplyAndReceiveNext     SysCallNumber = 41
	SysPreferReceiver          SysCallNumber = 42
)

var sysCallNames = map[SysCallNumber]string{
	SysMapMemory:               "map_memory",
	SysYield:                   "yield",
	SysUpdateMemoryFlags:       "update_memory_flags",
	SysCreateServerWithAddress: "create_server_with_address",
	SysReceiveMessage:          "receive_message",
	SysSendMessage:             "send_message",
	SysConnect:                 "connect",
	SysCreateThread:            "create_thread",
	SysUnmapMemory:             "unmap_memory",
	SysReturnMemory:            "return_memory",
	SysCreateProcess:           "create_process",
	SysTerminateProcess:        "terminate_process",
	SysShutdown:                "shutdown",
	SysTrySendMessage:          "try_send_message",
	SysTryConnect:              "try_connect",
	SysReturnScalar1:           "return_scalar1",
	SysReturnScalar2:           "return_scalar2",
	SysTryReceiveMessage:       "try_receive_message",
	SysCreateServer:            "create_server",
	SysCreateServerID:          "create_server_id",
	SysGetThreadID:             "get_thread_id",
	SysGetProcessID:            "get_process_id",
	SysDestroyServer:           "destroy_server",
	SysDisconnect:              "disconnect",
	SysJoinThread:              "join_thread",
	SysExitThread:              "exit_thread",
	SysReturnScalar5:           "return_scalar5",
	SysReplyAndReceiveNext:     "reply_and_receive_next",
	SysPreferReceiver:          "prefer_receiver",
}

func (n SysCallNumber) String() string {
	if name, ok := sysCallNames[n]; ok {
		return name
	}
	return fmt.Sprintf("{SysCall %d}", uintptr(n))
}

// Call is one decoded syscall.
type Call interface {
	Number() SysCallNumber
	Encode() [8]uintptr
}

type (
	MapMemory struct {
		Virt  uintptr // zero lets the kernel pick
		Size  uintptr
		Flags MemoryFlags
	}
	Yield             struct{}
	UpdateMemoryFlags struct {
		Range Range
		Flags MemoryFlags
	}
	CreateServerWithAddress struct{ SID SID }
	ReceiveMessage          struct{ SID SID }
	TryReceiveMessage       struct{ SID SID }
	SendMessage             struct {
		CID     CID
		Message Message
	}
	TrySendMessage struct {
		CID     CID
		Message Message
	}
	Connect      struct{ SID SID }
	TryConnect   struct{ SID SID }
	CreateThread struct {
		Entry uintptr
		Stack uintptr
		Args  [4]uintptr
	}
	UnmapMemory  struct{ Range Range }
	ReturnMemory struct {
		Sender MessageSender
		Range  Range
		Offset uintptr
		Valid  uintptr
	}
	CreateProcess struct {
		Entry uintptr
		Arg   uintptr
	}
	// TerminateProcess ends PID, or the caller when PID is zero.
	TerminateProcess struct {
		PID  PID
		Code uintptr
	}
	Shutdown      struct{}
	ReturnScalar1 struct {
		Sender MessageSender
		Arg    uintptr
	}
	ReturnScalar2 struct {
		Sender     MessageSender
		Arg1, Arg2 uintptr
	}
	ReturnScalar5 struct {
		Sender MessageSender
		Args   [5]uintptr
	}
	CreateServer   struct{}
	CreateServerID struct{}
	GetThreadID    struct{}
	GetProcessID   struct{}
	DestroyServer  struct{ SID SID }
	Disconnect     struct{ CID CID }
	JoinThread     struct{ TID TID }
	ExitThread     struct{ Code uintptr }
	// ReplyAndReceiveNext answers Sender and then waits on the same server.
	ReplyAndReceiveNext struct {
		Sender MessageSender
		Reply  ReplyKind
		Args   [5]uintptr
	}
	// PreferReceiver names the owner thread to wake first when a message
	// arrives for SID. TID zero restores oldest-first order.
	PreferReceiver struct {
		SID SID
		TID TID
	}
)

// ReplyKind selects the reply half of ReplyAndReceiveNext.
type ReplyKind uintptr

const (
	ReplyScalar1 ReplyKind = 1
	ReplyScalar2 ReplyKind = 2
	ReplyScalar5 ReplyKind = 5
	// ReplyMemory returns a lent buffer; Args are (addr, size, offset, valid).
	ReplyMemory ReplyKind = 6
)

func (MapMemory) Number() SysCallNumber               { return SysMapMemory }
func (Yield) Number() SysCallNumber                   { return SysYield }
func (UpdateMemoryFlags) Number() SysCallNumber       { return SysUpdateMemoryFlags }
func (CreateServerWithAddress) Number() SysCallNumber { return SysCreateServerWithAddress }
func (ReceiveMessage) Number() SysCallNumber          { return SysReceiveMessage }
func (TryReceiveMessage) Number() SysCallNumber       { return SysTryReceiveMessage }
func (SendMessage) Number() SysCallNumber             { return SysSendMessage }
func (TrySendMessage) Number() SysCallNumber          { return SysTrySendMessage }
func (Connect) Number() SysCallNumber                 { return SysConnect }
func (TryConnect) Number() SysCallNumber              { return SysTryConnect }
func (CreateThread) Number() SysCallNumber            { return SysCreateThread }
func (UnmapMemory) Number() SysCallNumber             { return SysUnmapMemory }
func (ReturnMemory) Number() SysCallNumber            { return SysReturnMemory }
func (CreateProcess) Number() SysCallNumber           { return SysCreateProcess }
func (TerminateProcess) Number() SysCallNumber        { return SysTerminateProcess }
func (Shutdown) Number() SysCallNumber                { return SysShutdown }
func (ReturnScalar1) Number() SysCallNumber           { return SysReturnScalar1 }
func (ReturnScalar2) Number() SysCallNumber           { return SysReturnScalar2 }
func (ReturnScalar5) Number() SysCallNumber           { return SysReturnScalar5 }
func (CreateServer) Number() SysCallNumber            { return SysCreateServer }
func (CreateServerID) Number() SysCallNumber          { return SysCreateServerID }
func (GetThreadID) Number() SysCallNumber             { return SysGetThreadID }
func (GetProcessID) Number() SysCallNumber            { return SysGetProcessID }
func (DestroyServer) Number() SysCallNumber           { return SysDestroyServer }
func (Disconnect) Number() SysCallNumber              { return SysDisconnect }
func (JoinThread) Number() SysCallNumber              { return SysJoinThread }
func (ExitThread) Number() SysCallNumber              { return SysExitThread }
func (ReplyAndReceiveNext) Number() SysCallNumber     { return SysReplyAndReceiveNext }
func (PreferReceiver) Number() SysCallNumber          { return SysPreferReceiver }

func words(n SysCallNumber, args ...uintptr) [8]uintptr {
	var w [8]uintptr
	w[0] = uintptr(n)
	copy(w[1:], args)
	return w
}

func sidWords(n SysCallNumber, sid SID) [8]uintptr {
	s := sid.Words()
	return words(n, s[0], s[1], s[2], s[3])
}

func messageWords(n SysCallNumber, cid CID, m Message) [8]uintptr {
	return words(n, uintptr(cid), uintptr(m.Kind), m.ID, m.Args[0], m.Args[1], m.Args[2], m.Args[3])
}

func (c MapMemory) Encode() [8]uintptr {
	return words(SysMapMemory, 0, c.Virt, c.Size, uintptr(c.Flags))
}
func (Yield) Encode() [8]uintptr { return words(SysYield) }
func (c UpdateMemoryFlags) Encode() [8]uintptr {
	return words(SysUpdateMemoryFlags, c.Range.Base, c.Range.Size, uintptr(c.Flags))
}
func (c CreateServerWithAddress) Encode() [8]uintptr {
	return sidWords(SysCreateServerWithAddress, c.SID)
}
func (c ReceiveMessage) Encode() [8]uintptr    { return sidWords(SysReceiveMessage, c.SID) }
func (c TryReceiveMessage) Encode() [8]uintptr { return sidWords(SysTryReceiveMessage, c.SID) }
func (c SendMessage) Encode() [8]uintptr       { return messageWords(SysSendMessage, c.CID, c.Message) }
func (c TrySendMessage) Encode() [8]uintptr {
	return messageWords(SysTrySendMessage, c.CID, c.Message)
}
func (c Connect) Encode() [8]uintptr    { return sidWords(SysConnect, c.SID) }
func (c TryConnect) Encode() [8]uintptr { return sidWords(SysTryConnect, c.SID) }
func (c CreateThread) Encode() [8]uintptr {
	return words(SysCreateThread, c.Entry, c.Stack, c.Args[0], c.Args[1], c.Args[2], c.Args[3])
}
func (c UnmapMemory) Encode() [8]uintptr {
	return words(SysUnmapMemory, c.Range.Base, c.Range.Size)
}
func (c ReturnMemory) Encode() [8]uintptr {
	return words(SysReturnMemory, uintptr(c.Sender), c.Range.Base, c.Range.Size, c.Offset, c.Valid)
}
func (c CreateProcess) Encode() [8]uintptr { return words(SysCreateProcess, c.Entry, c.Arg) }
func (c TerminateProcess) Encode() [8]uintptr {
	return words(SysTerminateProcess, uintptr(c.PID), c.Code)
}
func (Shutdown) Encode() [8]uintptr { return words(SysShutdown) }
func (c ReturnScalar1) Encode() [8]uintptr {
	return words(SysReturnScalar1, uintptr(c.Sender), c.Arg)
}
func (c ReturnScalar2) Encode() [8]uintptr {
	return words(SysReturnScalar2, uintptr(c.Sender), c.Arg1, c.Arg2)
}
func (c ReturnScalar5) Encode() [8]uintptr {
	a := c.Args
	return words(SysReturnScalar5, uintptr(c.Sender), a[0], a[1], a[2], a[3], a[4])
}
func (CreateServer) Encode() [8]uintptr    { return words(SysCreateServer) }
func (CreateServerID) Encode() [8]uintptr  { return words(SysCreateServerID) }
func (GetThreadID) Encode() [8]uintptr     { return words(SysGetThreadID) }
func (GetProcessID) Encode() [8]uintptr    { return words(SysGetProcessID) }
func (c DestroyServer) Encode() [8]uintptr { return sidWords(SysDestroyServer, c.SID) }
func (c Disconnect) Encode() [8]uintptr    { return words(SysDisconnect, uintptr(c.CID)) }
func (c JoinThread) Encode() [8]uintptr    { return words(SysJoinThread, uintptr(c.TID)) }
func (c ExitThread) Encode() [8]uintptr    { return words(SysExitThread, c.Code) }
func (c ReplyAndReceiveNext) Encode() [8]uintptr {
	a := c.Args
	return words(SysReplyAndReceiveNext, uintptr(c.Sender), a[0], a[1], a[2], a[3], a[4], uintptr(c.Reply))
}
func (c PreferReceiver) Encode() [8]uintptr {
	s := c.SID.Words()
	return words(SysPreferReceiver, s[0], s[1], s[2], s[3], uintptr(c.TID))
}

// Decode turns the eight argument registers into a typed call.
//
// Unknown numbers fail with ErrUnhandledSyscall and malformed arguments with
// ErrInvalidSyscall or a memory error. Decode never panics.
func Decode(a [8]uintptr) (Call, error) {
	switch SysCallNumber(a[0]) {
	case SysMapMemory:
		if a[1] != 0 {
			// Physical placement is reserved for drivers, which the core does not serve.
			return nil, ErrAccessDenied
		}
		if a[3] == 0 || a[3]%PageSize != 0 || a[2]%PageSize != 0 {
			return nil, ErrBadAlignment
		}
		return MapMemory{Virt: a[2], Size: a[3], Flags: MemoryFlags(a[4])}, nil
	case SysYield:
		return Yield{}, nil
	case SysUpdateMemoryFlags:
		r, err := NewRange(a[1], a[2])
		if err != nil {
			return nil, err
		}
		return UpdateMemoryFlags{Range: r, Flags: MemoryFlags(a[3])}, nil
	case SysCreateServerWithAddress:
		return CreateServerWithAddress{SID: SIDFromWords(a[1], a[2], a[3], a[4])}, nil
	case SysReceiveMessage:
		return ReceiveMessage{SID: SIDFromWords(a[1], a[2], a[3], a[4])}, nil
	case SysTryReceiveMessage:
		return TryReceiveMessage{SID: SIDFromWords(a[1], a[2], a[3], a[4])}, nil
	case SysSendMessage, SysTrySendMessage:
		m := Message{Kind: MessageKind(a[2]), ID: a[3], Args: [4]uintptr{a[4], a[5], a[6], a[7]}}
		if err := m.Validate(); err != nil {
			return nil, err
		}
		if a[1] > math.MaxUint32 {
			return nil, ErrInvalidSyscall
		}
		if SysCallNumber(a[0]) == SysTrySendMessage {
			return TrySendMessage{CID: CID(a[1]), Message: m}, nil
		}
		return SendMessage{CID: CID(a[1]), Message: m}, nil
	case SysConnect:
		return Connect{SID: SIDFromWords(a[1], a[2], a[3], a[4])}, nil
	case SysTryConnect:
		return TryConnect{SID: SIDFromWords(a[1], a[2], a[3], a[4])}, nil
	case SysCreateThread:
		return CreateThread{Entry: a[1], Stack: a[2], Args: [4]uintptr{a[3], a[4], a[5], a[6]}}, nil
	case SysUnmapMemory:
		r, err := NewRange(a[1], a[2])
		if err != nil {
			return nil, err
		}
		return UnmapMemory{Range: r}, nil
	case SysReturnMemory:
		r, err := NewRange(a[2], a[3])
		if err != nil {
			return nil, err
		}
		if a[4]+a[5] > r.Size {
			return nil, ErrBadAddress
		}
		return ReturnMemory{Sender: MessageSender(a[1]), Range: r, Offset: a[4], Valid: a[5]}, nil
	case SysCreateProcess:
		return CreateProcess{Entry: a[1], Arg: a[2]}, nil
	case SysTerminateProcess:
		if a[1] > 0xff {
			return nil, ErrInvalidPID
		}
		return TerminateProcess{PID: PID(a[1]), Code: a[2]}, nil
	case SysShutdown:
		return Shutdown{}, nil
	case SysReturnScalar1:
		return ReturnScalar1{Sender: MessageSender(a[1]), Arg: a[2]}, nil
	case SysReturnScalar2:
		return ReturnScalar2{Sender: MessageSender(a[1]), Arg1: a[2], Arg2: a[3]}, nil
	case SysReturnScalar5:
		return ReturnScalar5{Sender: MessageSender(a[1]), Args: [5]uintptr{a[2], a[3], a[4], a[5], a[6]}}, nil
	case SysCreateServer:
		return CreateServer{}, nil
	case SysCreateServerID:
		return CreateServerID{}, nil
	case SysGetThreadID:
		return GetThreadID{}, nil
	case SysGetProcessID:
		return GetProcessID{}, nil
	case SysDestroyServer:
		return DestroyServer{SID: SIDFromWords(a[1], a[2], a[3], a[4])}, nil
	case SysDisconnect:
		if a[1] > math.MaxUint32 {
			return nil, ErrInvalidSyscall
		}
		return Disconnect{CID: CID(a[1])}, nil
	case SysJoinThread:
		if a[1] == 0 || a[1] > 0xff {
			return nil, ErrInvalidThread
		}
		return JoinThread{TID: TID(a[1])}, nil
	case SysExitThread:
		return ExitThread{Code: a[1]}, nil
	case SysReplyAndReceiveNext:
		c := ReplyAndReceiveNext{
			Sender: MessageSender(a[1]),
			Args:   [5]uintptr{a[2], a[3], a[4], a[5], a[6]},
			Reply:  ReplyKind(a[7]),
		}
		switch c.Reply {
		case ReplyScalar1, ReplyScalar2, ReplyScalar5:
		case ReplyMemory:
			r, err := NewRange(c.Args[0], c.Args[1])
			if err != nil {
				return nil, err
			}
			if c.Args[2]+c.Args[3] > r.Size {
				return nil, ErrBadAddress
			}
		default:
			return nil, ErrInvalidSyscall
		}
		return c, nil
	case SysPreferReceiver:
		if a[5] > 0xff {
			return nil, ErrInvalidThread
		}
		return PreferReceiver{SID: SIDFromWords(a[1], a[2], a[3], a[4]), TID: TID(a[5])}, nil
	default:
		return nil, ErrUnhandledSyscall
	}
}
