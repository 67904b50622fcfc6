package abi

// Error is a kernel error code. It travels in the second word of an Error result.
type Error uintptr

const (
	ErrNone Error = iota
	ErrBadAlignment
	ErrBadAddress
	ErrOutOfMemory
	ErrMemoryInUse
	ErrInterruptNotFound
	ErrInterruptInUse
	ErrInvalidString
	ErrServerExists
	ErrServerNotFound
	ErrProcessNotFound
	ErrProcessNotChild
	ErrProcessTerminated
	ErrTimeout
	ErrInternalError
	ErrServerQueueFull
	ErrThreadNotAvailable
	ErrUnhandledSyscall
	ErrInvalidSyscall
	ErrShareViolation
	ErrInvalidThread
	ErrInvalidPID
	ErrUnknownError
	ErrAccessDenied
	ErrUseBeforeInit
	ErrDoubleFree
	ErrDebugInProgress
	ErrInvalidLimit
)

func (e Error) Error() string { return e.String() }

func (e Error) String() string {
	switch e {
	case ErrNone:
		return "no error"
	case ErrBadAlignment:
		return "bad alignment"
	case ErrBadAddress:
		return "bad address"
	case ErrOutOfMemory:
		return "out of memory"
	case ErrMemoryInUse:
		return "memory in use"
	case ErrInterruptNotFound:
		return "interrupt not found"
	case ErrInterruptInUse:
		return "interrupt in use"
	case ErrInvalidString:
		return "invalid string"
	case ErrServerExists:
		return "server exists"
	case ErrServerNotFound:
		return "server not found"
	case ErrProcessNotFound:
		return "process not found"
	case ErrProcessNotChild:
		return "process not child"
	case ErrProcessTerminated:
		return "process terminated"
	case ErrTimeout:
		return "timeout"
	case ErrInternalError:
		return "internal error"
	case ErrServerQueueFull:
		return "server queue full"
	case ErrThreadNotAvailable:
		return "no thread available"
	case ErrUnhandledSyscall:
		return "unhandled syscall"
	case ErrInvalidSyscall:
		return "invalid syscall"
	case ErrShareViolation:
		return "share violation"
	case ErrInvalidThread:
		return "invalid thread"
	case ErrInvalidPID:
		return "invalid pid"
	case ErrAccessDenied:
		return "access denied"
	case ErrUseBeforeInit:
		return "use before init"
	case ErrDoubleFree:
		return "double free"
	case ErrDebugInProgress:
		return "debug in progress"
	case ErrInvalidLimit:
		return "invalid limit"
	default:
		return "unknown error"
	}
}
