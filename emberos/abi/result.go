package abi

import (
	"errors"
	"fmt"
)

// ResultKind is the discriminant word of a syscall result.
type ResultKind uintptr

const (
	ResultOk             ResultKind = 0
	ResultError          ResultKind = 1
	ResultMemoryAddress  ResultKind = 2
	ResultMemoryRange    ResultKind = 3
	ResultServerID       ResultKind = 6
	ResultConnectionID   ResultKind = 7
	ResultMessage        ResultKind = 9
	ResultThreadID       ResultKind = 10
	ResultProcessID      ResultKind = 11
	ResultScalar1        ResultKind = 14
	ResultScalar2        ResultKind = 15
	ResultMemoryReturned ResultKind = 16
	ResultScalar5        ResultKind = 18
	// ResultBlockedProcess marks a caller that was suspended. It is internal
	// to the kernel and is replaced before the thread resumes.
	ResultBlockedProcess ResultKind = 20
)

func (k ResultKind) String() string {
	switch k {
	case ResultOk:
		return "ok"
	case ResultError:
		return "error"
	case ResultMemoryAddress:
		return "memory_address"
	case ResultMemoryRange:
		return "memory_range"
	case ResultServerID:
		return "server_id"
	case ResultConnectionID:
		return "connection_id"
	case ResultMessage:
		return "message"
	case ResultThreadID:
		return "thread_id"
	case ResultProcessID:
		return "process_id"
	case ResultScalar1:
		return "scalar1"
	case ResultScalar2:
		return "scalar2"
	case ResultMemoryReturned:
		return "memory_returned"
	case ResultScalar5:
		return "scalar5"
	case ResultBlockedProcess:
		return "blocked_process"
	default:
		return fmt.Sprintf("{Result %d}", uintptr(k))
	}
}

// Result is a tagged syscall result: a discriminant plus up to seven words.
type Result struct {
	Kind  ResultKind
	Words [7]uintptr
}

func Ok() Result { return Result{Kind: ResultOk} }

// ErrorResult wraps err. Errors that are not kernel codes become ErrInternalError.
func ErrorResult(err error) Result {
	var code Error
	if !errors.As(err, &code) {
		code = ErrInternalError
	}
	return Result{Kind: ResultError, Words: [7]uintptr{uintptr(code)}}
}

func MemoryRangeResult(r Range) Result {
	return Result{Kind: ResultMemoryRange, Words: [7]uintptr{r.Base, r.Size}}
}

func ServerIDResult(sid SID) Result {
	w := sid.Words()
	return Result{Kind: ResultServerID, Words: [7]uintptr{w[0], w[1], w[2], w[3]}}
}

func ConnectionIDResult(cid CID) Result {
	return Result{Kind: ResultConnectionID, Words: [7]uintptr{uintptr(cid)}}
}

func MessageResult(env Envelope) Result {
	m := env.Body
	return Result{Kind: ResultMessage, Words: [7]uintptr{
		uintptr(env.Sender), uintptr(m.Kind), m.ID, m.Args[0], m.Args[1], m.Args[2], m.Args[3],
	}}
}

func ThreadIDResult(tid TID) Result {
	return Result{Kind: ResultThreadID, Words: [7]uintptr{uintptr(tid)}}
}

func ProcessIDResult(pid PID) Result {
	return Result{Kind: ResultProcessID, Words: [7]uintptr{uintptr(pid)}}
}

func Scalar1Result(a uintptr) Result {
	return Result{Kind: ResultScalar1, Words: [7]uintptr{a}}
}

func Scalar2Result(a, b uintptr) Result {
	return Result{Kind: ResultScalar2, Words: [7]uintptr{a, b}}
}

func Scalar5Result(a [5]uintptr) Result {
	return Result{Kind: ResultScalar5, Words: [7]uintptr{a[0], a[1], a[2], a[3], a[4]}}
}

func MemoryReturnedResult(offset, valid uintptr) Result {
	return Result{Kind: ResultMemoryReturned, Words: [7]uintptr{offset, valid}}
}

// Registers lays the result out in the eight return registers.
func (r Result) Registers() [8]uintptr {
	var w [8]uintptr
	w[0] = uintptr(r.Kind)
	copy(w[1:], r.Words[:])
	return w
}

// DecodeResult is the inverse of Registers.
func DecodeResult(w [8]uintptr) Result {
	r := Result{Kind: ResultKind(w[0])}
	copy(r.Words[:], w[1:])
	return r
}

// Err returns the kernel error carried by an Error result, or nil.
func (r Result) Err() error {
	if r.Kind != ResultError {
		return nil
	}
	return Error(r.Words[0])
}

// Expect returns an error unless r has kind k. Error results yield their code.
func (r Result) Expect(k ResultKind) error {
	if err := r.Err(); err != nil {
		return err
	}
	if r.Kind != k {
		return fmt.Errorf("unexpected result %s, want %s", r.Kind, k)
	}
	return nil
}

func (r Result) SID() SID {
	return SIDFromWords(r.Words[0], r.Words[1], r.Words[2], r.Words[3])
}

func (r Result) CID() CID { return CID(r.Words[0]) }

func (r Result) PID() PID { return PID(r.Words[0]) }

func (r Result) TID() TID { return TID(r.Words[0]) }

func (r Result) Range() Range { return Range{Base: r.Words[0], Size: r.Words[1]} }

// Scalars returns the reply words of a Scalar1/2/5 result.
func (r Result) Scalars() [5]uintptr {
	return [5]uintptr{r.Words[0], r.Words[1], r.Words[2], r.Words[3], r.Words[4]}
}

// Envelope decodes a Message result.
func (r Result) Envelope() Envelope {
	return Envelope{
		Sender: MessageSender(r.Words[0]),
		Body: Message{
			Kind: MessageKind(r.Words[1]),
			ID:   r.Words[2],
			Args: [4]uintptr{r.Words[3], r.Words[4], r.Words[5], r.Words[6]},
		},
	}
}

func (r Result) String() string {
	if r.Kind == ResultError {
		return "error: " + Error(r.Words[0]).String()
	}
	return fmt.Sprintf("%s%v", r.Kind, r.Words)
}
