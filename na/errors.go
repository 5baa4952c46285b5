package na

import "errors"

var (
	// ErrTimeout indicates that a progress or trigger wait timed out.
	ErrTimeout = errors.New("na: wait timed out")
	// ErrCanceled indicates that an operation was cancelled before completing.
	ErrCanceled = errors.New("na: operation cancelled")
	// ErrAddressUnknown indicates that an address does not resolve to an endpoint.
	ErrAddressUnknown = errors.New("na: address unknown")
	// ErrSizeExceeded indicates that a message exceeds the transport's expected size.
	ErrSizeExceeded = errors.New("na: message size exceeds maximum expected size")
	// ErrInvalidContext indicates that a context does not belong to this class.
	ErrInvalidContext = errors.New("na: invalid context")
	// ErrClosed indicates that the class has been closed.
	ErrClosed = errors.New("na: class closed")
)
