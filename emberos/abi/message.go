package abi

import "fmt"

// MessageKind selects how a Message is delivered.
type MessageKind uintptr

const (
	KindInvalid MessageKind = iota
	// KindMutableBorrow lends memory read-write until the receiver returns it.
	KindMutableBorrow
	// KindBorrow lends memory read-only until the receiver returns it.
	KindBorrow
	// KindMove transfers ownership of memory to the receiver.
	KindMove
	// KindScalar carries four words and never blocks the sender.
	KindScalar
	// KindBlockingScalar carries four words and blocks the sender until reply.
	KindBlockingScalar
)

func (k MessageKind) String() string {
	switch k {
	case KindMutableBorrow:
		return "mutable_borrow"
	case KindBorrow:
		return "borrow"
	case KindMove:
		return "move"
	case KindScalar:
		return "scalar"
	case KindBlockingScalar:
		return "blocking_scalar"
	default:
		return fmt.Sprintf("{MessageKind %d}", uintptr(k))
	}
}

// Valid reports whether k is a defined kind.
func (k MessageKind) Valid() bool { return k >= KindMutableBorrow && k <= KindBlockingScalar }

// IsMemory reports whether the kind carries a memory range.
func (k MessageKind) IsMemory() bool {
	return k == KindMutableBorrow || k == KindBorrow || k == KindMove
}

// IsLend reports whether the memory comes back to the sender on reply.
func (k MessageKind) IsLend() bool { return k == KindMutableBorrow || k == KindBorrow }

// Blocks reports whether the sender waits for a reply once the message is accepted.
func (k MessageKind) Blocks() bool { return k.IsLend() || k == KindBlockingScalar }

// Message is the envelope body. Scalar kinds use Args as four opaque words;
// memory kinds use Args as (address, size, offset, valid).
type Message struct {
	Kind MessageKind
	ID   uintptr
	Args [4]uintptr
}

// Scalar builds a non-blocking four-word message.
func Scalar(id, a1, a2, a3, a4 uintptr) Message {
	return Message{Kind: KindScalar, ID: id, Args: [4]uintptr{a1, a2, a3, a4}}
}

// BlockingScalar builds a four-word message whose sender waits for a scalar reply.
func BlockingScalar(id, a1, a2, a3, a4 uintptr) Message {
	return Message{Kind: KindBlockingScalar, ID: id, Args: [4]uintptr{a1, a2, a3, a4}}
}

// Borrow lends buf read-only. offset and valid are optional hints (zero means unset).
func Borrow(id uintptr, buf Range, offset, valid uintptr) Message {
	return memoryMessage(KindBorrow, id, buf, offset, valid)
}

// MutableBorrow lends buf read-write.
func MutableBorrow(id uintptr, buf Range, offset, valid uintptr) Message {
	return memoryMessage(KindMutableBorrow, id, buf, offset, valid)
}

// Move hands buf to the receiver for good.
func Move(id uintptr, buf Range, offset, valid uintptr) Message {
	return memoryMessage(KindMove, id, buf, offset, valid)
}

func memoryMessage(kind MessageKind, id uintptr, buf Range, offset, valid uintptr) Message {
	return Message{Kind: kind, ID: id, Args: [4]uintptr{buf.Base, buf.Size, offset, valid}}
}

// Buf returns the memory range of a memory message.
func (m Message) Buf() Range { return Range{Base: m.Args[0], Size: m.Args[1]} }

// Offset returns the optional offset hint.
func (m Message) Offset() uintptr { return m.Args[2] }

// ValidLen returns the optional valid-length hint.
func (m Message) ValidLen() uintptr { return m.Args[3] }

// WithBuf returns a copy of m pointing at buf. The kernel uses it to rewrite
// the sender's range into the receiver's address space.
func (m Message) WithBuf(buf Range) Message {
	m.Args[0], m.Args[1] = buf.Base, buf.Size
	return m
}

// Validate checks the envelope before any kernel state is touched.
func (m Message) Validate() error {
	if !m.Kind.Valid() {
		return ErrInvalidSyscall
	}
	if !m.Kind.IsMemory() {
		return nil
	}
	buf, err := NewRange(m.Args[0], m.Args[1])
	if err != nil {
		return err
	}
	if m.Offset() > buf.Size || m.ValidLen() > buf.Size {
		return ErrBadAddress
	}
	if m.Offset()+m.ValidLen() > buf.Size {
		return ErrBadAddress
	}
	return nil
}

func (m Message) String() string {
	if m.Kind.IsMemory() {
		return fmt.Sprintf("%s{id:%d buf:%s off:%d valid:%d}", m.Kind, m.ID, m.Buf(), m.Offset(), m.ValidLen())
	}
	return fmt.Sprintf("%s{id:%d args:%v}", m.Kind, m.ID, m.Args)
}

// Envelope is what a receiver gets: the message plus its reply handle.
type Envelope struct {
	Sender MessageSender
	Body   Message
}
