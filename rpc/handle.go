package rpc

import (
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/narpc-go/na"
)

// handleState tracks a call through its protocol states. The state word is
// advisory except for the completion transition, which is once-only.
type handleState int32

const (
	stateCreated handleState = iota
	statePosted
	stateDecoded
	stateHandled
	stateResponded
	stateCompleted
	stateCanceled
)

func (s handleState) String() string {
	switch s {
	case stateCreated:
		return "created"
	case statePosted:
		return "posted"
	case stateDecoded:
		return "decoded"
	case stateHandled:
		return "handled"
	case stateResponded:
		return "responded"
	case stateCompleted:
		return "completed"
	case stateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Handle carries the state of a single RPC call from forward through
// completion. Two owners share it: the caller, via Create/Destroy, and the
// state machine, which releases its reference when Trigger dispatches the
// completion callback. The reference count arbitrates buffer lifetime.
type Handle struct {
	class   *Class
	context *Context

	callback Callback
	arg      any

	id       ID
	cookie   uint32
	tag      na.Tag
	addr     na.Address
	addrMine bool

	inBuf  []byte
	outBuf []byte

	cbErr error

	opMu   sync.Mutex
	sendOp na.OpID
	recvOp na.OpID

	refCount  atomic.Int32
	state     atomic.Int32
	completed atomic.Bool
}

// Callback is invoked by Trigger when the call completes.
type Callback func(CallbackInfo)

// CallbackInfo is the completion record passed to user callbacks.
type CallbackInfo struct {
	Arg     any
	Err     error
	Ret     Ret
	Class   *Class
	Context *Context
	Handle  *Handle
}

// Info exposes the immutable identity of a handle.
type Info struct {
	Class   *Class
	Context *Context
	Addr    na.Address
	ID      ID
}

func newHandle(class *Class, ctx *Context) *Handle {
	h := &Handle{
		class:   class,
		context: ctx,
		cookie:  class.nextCookie(),
		inBuf:   class.bufPool.acquire(),
		outBuf:  class.bufPool.acquire(),
	}
	h.refCount.Store(1)
	return h
}

func (h *Handle) setState(s handleState) {
	h.state.Store(int32(s))
}

func (h *Handle) currentState() handleState {
	return handleState(h.state.Load())
}

func (h *Handle) incref() {
	h.refCount.Add(1)
}

// decref drops one reference; the last drop frees owned resources.
func (h *Handle) decref() {
	if h == nil {
		return
	}
	if h.refCount.Add(-1) > 0 {
		return
	}
	if h.addr != nil && h.addrMine {
		h.class.naClass.AddrFree(h.addr)
		h.addr = nil
	}
	h.class.bufPool.release(h.inBuf)
	h.class.bufPool.release(h.outBuf)
	h.inBuf = nil
	h.outBuf = nil
}

func (h *Handle) setOps(send, recv na.OpID) {
	h.opMu.Lock()
	if send != nil {
		h.sendOp = send
	}
	if recv != nil {
		h.recvOp = recv
	}
	h.opMu.Unlock()
}

func (h *Handle) takeOps() (send, recv na.OpID) {
	h.opMu.Lock()
	send, recv = h.sendOp, h.recvOp
	h.sendOp, h.recvOp = nil, nil
	h.opMu.Unlock()
	return send, recv
}

// Destroy releases the caller's reference. Destroy on a nil handle is a
// no-op. The handle's memory is reclaimed once the state machine has also
// released its reference.
func (h *Handle) Destroy() error {
	if h == nil {
		return nil
	}
	h.decref()
	return nil
}

// Info reports the handle's class, context, peer address and operation id.
func (h *Handle) Info() (Info, error) {
	if h == nil {
		return Info{}, ErrInvalidParam
	}
	return Info{
		Class:   h.class,
		Context: h.context,
		Addr:    h.addr,
		ID:      h.id,
	}, nil
}

// Addr returns the peer address bound to the handle.
func (h *Handle) Addr() na.Address {
	if h == nil {
		return nil
	}
	return h.addr
}

// InputBuffer returns the request payload region: the input buffer past the
// request header prefix.
func (h *Handle) InputBuffer() ([]byte, error) {
	if h == nil || h.inBuf == nil {
		return nil, ErrInvalidParam
	}
	return h.inBuf[RequestHeaderSize:], nil
}

// OutputBuffer returns the response payload region: the output buffer past
// the response header prefix.
func (h *Handle) OutputBuffer() ([]byte, error) {
	if h == nil || h.outBuf == nil {
		return nil, ErrInvalidParam
	}
	return h.outBuf[ResponseHeaderSize:], nil
}
