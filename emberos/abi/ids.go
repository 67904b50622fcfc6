package abi

import (
	"encoding/binary"
	"fmt"
)

// PID identifies a process. Zero is never a valid PID.
type PID uint8

// TID identifies a thread within its process. Zero is never a valid TID.
type TID uint8

// CID is a process-local connection handle.
//
// The low 8 bits index the owning process's connection table and the
// remaining bits carry that slot's generation, so a handle kept past
// Disconnect no longer resolves.
type CID uint32

const cidIndexBits = 8

// MakeCID packs a connection table index and generation.
func MakeCID(index uint8, gen uint32) CID {
	return CID(gen<<cidIndexBits | uint32(index))
}

// Index returns the connection table index.
func (c CID) Index() uint8 { return uint8(c) }

// Generation returns the slot generation the handle was minted for.
func (c CID) Generation() uint32 { return uint32(c) >> cidIndexBits }

// SID is a 128-bit server address.
type SID [4]uint32

// SIDFromWords builds a SID from four register words.
func SIDFromWords(a, b, c, d uintptr) SID {
	return SID{uint32(a), uint32(b), uint32(c), uint32(d)}
}

// SIDFromBytes builds a SID from 16 little-endian bytes.
func SIDFromBytes(b [16]byte) SID {
	var s SID
	for i := range s {
		s[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return s
}

// SIDFromString builds a well-known SID from a name of at most 16 bytes.
// Shorter names are zero padded.
func SIDFromString(name string) (SID, bool) {
	if len(name) == 0 || len(name) > 16 {
		return SID{}, false
	}
	var b [16]byte
	copy(b[:], name)
	return SIDFromBytes(b), true
}

// Bytes returns the little-endian byte form of the SID.
func (s SID) Bytes() [16]byte {
	var b [16]byte
	for i, w := range s {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return b
}

// Words returns the SID as four register words.
func (s SID) Words() [4]uintptr {
	return [4]uintptr{uintptr(s[0]), uintptr(s[1]), uintptr(s[2]), uintptr(s[3])}
}

// IsZero reports whether the SID is the zero address, which is never assigned.
func (s SID) IsZero() bool { return s == SID{} }

func (s SID) String() string {
	return fmt.Sprintf("%08x-%08x-%08x-%08x", s[0], s[1], s[2], s[3])
}

// MessageSender identifies a received message so that the receiver can reply.
//
// Layout: bits 0-7 queue slot, bits 8-15 server index, bits 16-23 sender PID,
// bits 24-31 sender TID. The kernel validates every field on reply.
type MessageSender uintptr

// MakeSender packs a reply handle.
func MakeSender(slot, server uint8, pid PID, tid TID) MessageSender {
	return MessageSender(uintptr(slot) | uintptr(server)<<8 | uintptr(pid)<<16 | uintptr(tid)<<24)
}

// Slot returns the server queue slot the message occupies until reply.
func (s MessageSender) Slot() uint8 { return uint8(s) }

// Server returns the kernel server index.
func (s MessageSender) Server() uint8 { return uint8(s >> 8) }

// PID returns the sending process.
func (s MessageSender) PID() PID { return PID(s >> 16) }

// TID returns the sending thread.
func (s MessageSender) TID() TID { return TID(s >> 24) }
