package rpc

import (
	"errors"
	"fmt"

	"github.com/rocketbitz/narpc-go/bulk"
	"github.com/rocketbitz/narpc-go/na"
)

// Create builds a handle for a call to id on the peer at addr. The handle
// is returned holding two references: the caller's, released by Destroy,
// and the state machine's, released when Trigger dispatches the completion.
func (c *Class) Create(ctx *Context, addr na.Address, id ID) (*Handle, error) {
	if c == nil || ctx == nil {
		return nil, ErrInvalidParam
	}
	if ctx.class != c {
		return nil, fmt.Errorf("%w: context does not belong to class", ErrInvalidParam)
	}
	if addr == nil {
		return nil, ErrInvalidParam
	}
	h := newHandle(c, ctx)
	h.addr = addr
	h.id = id
	h.incref()
	return h, nil
}

// Forward originates the call: the request header is encoded into the input
// buffer prefix, a response receive is pre-posted, and the request goes out
// as an unexpected send. When the peer is this endpoint the handle is
// processed synchronously instead. cb fires from Trigger once the response
// arrives.
func (h *Handle) Forward(cb Callback, arg any, extra *bulk.Handle) error {
	if h == nil {
		return ErrInvalidParam
	}
	c := h.class
	if cb != nil {
		h.callback = cb
		h.arg = arg
	}

	hdr := newRequestHeader(h.id, h.cookie, extra.ID())
	if err := hdr.encode(h.inBuf); err != nil {
		return err
	}

	c.stats.forwarded.Add(1)
	c.metricRequestForwarded(logKV(labelOperation, "forward"))

	if c.naClass.AddrIsSelf(h.addr) {
		c.logEvent("forward_self", logKV("id", uint64(h.id)), logKV("cookie", h.cookie))
		return h.process()
	}

	h.tag = c.nextTag()
	h.setState(statePosted)

	recvOp, err := c.naClass.MsgRecvExpected(c.naContext, h.recvOutputCB, h.outBuf, h.addr, h.tag)
	if err != nil {
		return fmt.Errorf("%w: pre-post response recv: %v", ErrNA, err)
	}
	h.setOps(nil, recvOp)

	sendOp, err := c.naClass.MsgSendUnexpected(c.naContext, h.sendInputCB, h.inBuf, h.addr, h.tag)
	if err != nil {
		_, recv := h.takeOps()
		if recv != nil {
			_ = c.naClass.Cancel(c.naContext, recv)
		}
		return fmt.Errorf("%w: post request send: %v", ErrNA, err)
	}
	h.setOps(sendOp, nil)

	c.logEvent("forward", logKV("id", uint64(h.id)), logKV("cookie", h.cookie),
		logKV("tag", uint32(h.tag)), logKV("peer", h.addr))
	return nil
}

// sendInputCB runs when the request send completes. Success needs no
// action; the handle completes through the response path. A transport
// failure withdraws the pre-posted response receive and completes the
// handle with the error so the originator's callback still fires.
func (h *Handle) sendInputCB(info na.CallbackInfo) {
	if info.Err == nil {
		return
	}
	c := h.class
	if errors.Is(info.Err, na.ErrCanceled) {
		h.completeWith(ErrCanceled)
		return
	}
	c.logEvent("send_input_error", logKV("error", info.Err))
	_, recv := h.takeOps()
	if recv != nil {
		_ = c.naClass.Cancel(c.naContext, recv)
	}
	h.completeWith(fmt.Errorf("%w: request send: %v", ErrNA, info.Err))
}

// recvOutputCB runs when the pre-posted response receive completes: the
// response header is decoded and verified, then the handle completes.
func (h *Handle) recvOutputCB(info na.CallbackInfo) {
	c := h.class
	if info.Err != nil {
		if errors.Is(info.Err, na.ErrCanceled) {
			h.completeWith(ErrCanceled)
			return
		}
		c.logEvent("recv_output_error", logKV("error", info.Err))
		h.completeWith(fmt.Errorf("%w: response recv: %v", ErrNA, info.Err))
		return
	}

	hdr, err := decodeResponseHeader(h.outBuf)
	if err == nil {
		err = hdr.verify()
	}
	if err != nil {
		c.logEvent("response_verify_failed", logKV("error", err))
		h.completeWith(err)
		return
	}
	if hdr.cookie != h.cookie {
		c.logEvent("response_cookie_mismatch",
			logKV("want", h.cookie), logKV("got", hdr.cookie))
		h.completeWith(fmt.Errorf("%w: response cookie mismatch", ErrProtocol))
		return
	}

	h.completeWith(hdr.ret.Err())
}

// process decodes the request header, resolves the registered handler and
// invokes it. The extra reference taken before the handler runs means a
// Destroy inside the handler only schedules completion rather than freeing
// the handle.
func (h *Handle) process() error {
	c := h.class

	hdr, err := decodeRequestHeader(h.inBuf)
	if err == nil {
		err = hdr.verify()
	}
	if err != nil {
		c.logEvent("request_verify_failed", logKV("error", err))
		return err
	}

	h.id = hdr.id
	h.cookie = hdr.cookie
	h.setState(stateDecoded)

	entry, err := c.registry.lookupHandler(h.id)
	if err != nil {
		c.logEvent("no_match", logKV("id", uint64(h.id)))
		return err
	}
	if entry.handler == nil {
		return fmt.Errorf("%w: nil handler for id %#x", ErrInvalidParam, uint64(h.id))
	}

	h.incref()
	h.setState(stateHandled)
	c.stats.dispatched.Add(1)
	c.metricRequestDispatched(logKV(labelOperation, entry.name))

	if err := entry.handler(h); err != nil {
		c.logEvent("handler_error", logKV("id", uint64(h.id)), logKV("error", err))
		return err
	}
	return nil
}

// Respond sends the call's response: the response header is encoded into
// the output buffer prefix and posted as an expected send back to the
// request's source. On loopback the handle completes directly. cb fires
// from Trigger once the send completes.
func (h *Handle) Respond(cb Callback, arg any) error {
	if h == nil {
		return ErrInvalidParam
	}
	c := h.class
	if cb != nil {
		h.callback = cb
		h.arg = arg
	}

	hdr := newResponseHeader(h.cookie, RetSuccess)
	if err := hdr.encode(h.outBuf); err != nil {
		return err
	}

	h.setState(stateResponded)
	c.stats.responded.Add(1)
	c.metricResponseSent(logKV(labelOperation, "respond"))

	if c.naClass.AddrIsSelf(h.addr) {
		h.completeWith(nil)
		return nil
	}

	sendOp, err := c.naClass.MsgSendExpected(c.naContext, h.sendOutputCB, h.outBuf, h.addr, h.tag)
	if err != nil {
		return fmt.Errorf("%w: post response send: %v", ErrNA, err)
	}
	h.setOps(sendOp, nil)

	c.logEvent("respond", logKV("cookie", h.cookie), logKV("tag", uint32(h.tag)),
		logKV("peer", h.addr))
	return nil
}

// sendOutputCB runs when the response send completes and marks the handle
// completed, surfacing transport failures through the completion record.
func (h *Handle) sendOutputCB(info na.CallbackInfo) {
	if info.Err != nil {
		if errors.Is(info.Err, na.ErrCanceled) {
			h.completeWith(ErrCanceled)
			return
		}
		h.class.logEvent("send_output_error", logKV("error", info.Err))
		h.completeWith(fmt.Errorf("%w: response send: %v", ErrNA, info.Err))
		return
	}
	h.completeWith(nil)
}

// completeWith pushes the handle onto its context's completion queue
// exactly once; err becomes the callback info's error.
func (h *Handle) completeWith(err error) {
	if h.completed.Swap(true) {
		return
	}
	h.cbErr = err
	if errors.Is(err, ErrCanceled) {
		h.setState(stateCanceled)
	} else {
		h.setState(stateCompleted)
	}
	h.class.stats.completed.Add(1)
	h.context.completion.push(h)
	h.class.logEvent("complete", logKV("cookie", h.cookie),
		logKV("status", retOf(err).String()))
}
