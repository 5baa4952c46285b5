package rpc

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/narpc-go/na"
)

var (
	// ErrInvalidParam indicates a nil or mismatched argument.
	ErrInvalidParam = errors.New("rpc: invalid parameter")
	// ErrTimeout indicates that progress or trigger expired without work.
	ErrTimeout = errors.New("rpc: timed out")
	// ErrSize indicates a buffer size mismatch.
	ErrSize = errors.New("rpc: size mismatch")
	// ErrNoMem indicates an allocation failure.
	ErrNoMem = errors.New("rpc: out of memory")
	// ErrProtocol indicates malformed or mismatched header framing.
	ErrProtocol = errors.New("rpc: protocol error")
	// ErrNoMatch indicates an operation id with no registered function.
	ErrNoMatch = errors.New("rpc: no matching registered function")
	// ErrChecksum indicates payload verification failure.
	ErrChecksum = errors.New("rpc: checksum mismatch")
	// ErrCanceled indicates the call was cancelled before completing.
	ErrCanceled = errors.New("rpc: cancelled")
	// ErrNA wraps transport failures other than timeout.
	ErrNA = errors.New("rpc: transport error")
	// ErrFinalized indicates use of a finalized class.
	ErrFinalized = errors.New("rpc: class finalized")
)

// Ret is the return code carried in response headers and surfaced alongside
// errors in callback info records.
type Ret int32

const (
	RetSuccess Ret = iota
	RetTimeout
	RetInvalidParam
	RetSizeError
	RetNoMemError
	RetProtocolError
	RetNoMatch
	RetChecksumError
	RetCanceled
	RetNAError
)

func (r Ret) String() string {
	switch r {
	case RetSuccess:
		return "SUCCESS"
	case RetTimeout:
		return "TIMEOUT"
	case RetInvalidParam:
		return "INVALID_PARAM"
	case RetSizeError:
		return "SIZE_ERROR"
	case RetNoMemError:
		return "NOMEM_ERROR"
	case RetProtocolError:
		return "PROTOCOL_ERROR"
	case RetNoMatch:
		return "NO_MATCH"
	case RetChecksumError:
		return "CHECKSUM_ERROR"
	case RetCanceled:
		return "CANCELED"
	case RetNAError:
		return "NA_ERROR"
	default:
		return fmt.Sprintf("RET(%d)", int32(r))
	}
}

// Err maps the code back to its sentinel error; RetSuccess maps to nil.
func (r Ret) Err() error {
	switch r {
	case RetSuccess:
		return nil
	case RetTimeout:
		return ErrTimeout
	case RetInvalidParam:
		return ErrInvalidParam
	case RetSizeError:
		return ErrSize
	case RetNoMemError:
		return ErrNoMem
	case RetProtocolError:
		return ErrProtocol
	case RetNoMatch:
		return ErrNoMatch
	case RetChecksumError:
		return ErrChecksum
	case RetCanceled:
		return ErrCanceled
	default:
		return ErrNA
	}
}

func retOf(err error) Ret {
	switch {
	case err == nil:
		return RetSuccess
	case errors.Is(err, ErrTimeout) || errors.Is(err, na.ErrTimeout):
		return RetTimeout
	case errors.Is(err, ErrInvalidParam):
		return RetInvalidParam
	case errors.Is(err, ErrSize):
		return RetSizeError
	case errors.Is(err, ErrNoMem):
		return RetNoMemError
	case errors.Is(err, ErrProtocol):
		return RetProtocolError
	case errors.Is(err, ErrNoMatch):
		return RetNoMatch
	case errors.Is(err, ErrChecksum):
		return RetChecksumError
	case errors.Is(err, ErrCanceled) || errors.Is(err, na.ErrCanceled):
		return RetCanceled
	default:
		return RetNAError
	}
}
