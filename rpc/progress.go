package rpc

import (
	"errors"
	"fmt"
	"time"

	"github.com/rocketbitz/narpc-go/na"
)

// listen refills the processing backlog: fresh handles are appended and an
// unexpected receive is posted for each until the cap is reached.
func (c *Class) listen(ctx *Context) error {
	ctx.processing.mu.Lock()
	defer ctx.processing.mu.Unlock()

	for ctx.processing.size() < maxProcessingBacklog {
		h := newHandle(c, ctx)
		h.setState(statePosted)
		ctx.processing.add(h)

		recvOp, err := c.naClass.MsgRecvUnexpected(c.naContext, h.recvInputCB, h.inBuf)
		if err != nil {
			ctx.processing.remove(h)
			h.decref()
			return fmt.Errorf("%w: post unexpected recv: %v", ErrNA, err)
		}
		h.setOps(nil, recvOp)
		c.metricListenPosted()
		c.logEvent("listen_posted")
	}
	return nil
}

// recvInputCB runs when a backlog receive completes with an incoming
// request: the handle learns its source address and tag, leaves the
// processing list, and is dispatched.
func (h *Handle) recvInputCB(info na.CallbackInfo) {
	c := h.class
	ctx := h.context

	ctx.processing.mu.Lock()
	removed := ctx.processing.remove(h)
	ctx.processing.mu.Unlock()

	if info.Err != nil {
		if errors.Is(info.Err, na.ErrCanceled) {
			c.logEvent("listen_recv_canceled")
		} else {
			c.logEvent("listen_recv_error", logKV("error", info.Err))
		}
		h.decref()
		return
	}
	if !removed {
		c.logEvent("processing_entry_missing")
		return
	}

	h.addr = info.RecvUnexpected.Source
	h.addrMine = true
	h.tag = info.RecvUnexpected.Tag

	if info.RecvUnexpected.ActualSize != len(h.inBuf) {
		c.logEvent("request_size_mismatch",
			logKV("want", len(h.inBuf)), logKV("got", info.RecvUnexpected.ActualSize))
		h.decref()
		return
	}

	if err := h.process(); err != nil {
		c.logEvent("process_failed", logKV("error", err))
		// The handler never ran, so the backlog handle still holds its
		// only reference; reclaim it here.
		if h.currentState() != stateHandled && !h.completed.Load() {
			h.decref()
		}
	}
}

// Progress drives the runtime: the listen backlog is refilled when the
// endpoint is listening, queued transport callbacks are drained, and when
// the completion queue stays empty the call blocks in the transport up to
// timeout.
func (c *Class) Progress(ctx *Context, timeout time.Duration) (err error) {
	if c == nil || ctx == nil || ctx.class != c {
		return ErrInvalidParam
	}

	span := c.startProgressSpan()
	if span != nil {
		defer func() {
			if err != nil && !errors.Is(err, ErrTimeout) {
				spanRecordError(span, err)
			}
			span.End(err)
		}()
	}

	if c.naClass.IsListening() {
		if err = c.listen(ctx); err != nil {
			c.metricProgressError("listen", err)
			return err
		}
	}

	for {
		n, terr := c.naClass.Trigger(c.naContext, 0, 1)
		if terr != nil {
			c.metricProgressError("na_trigger", terr)
			err = fmt.Errorf("%w: trigger: %v", ErrNA, terr)
			return err
		}
		if n == 0 {
			break
		}
		spanAddEvent(span, "na_callback")
	}

	if !ctx.completion.empty() {
		return nil
	}

	if perr := c.naClass.Progress(c.naContext, timeout); perr != nil {
		if errors.Is(perr, na.ErrTimeout) {
			c.stats.timeouts.Add(1)
			err = ErrTimeout
			return err
		}
		c.metricProgressError("na_progress", perr)
		err = fmt.Errorf("%w: progress: %v", ErrNA, perr)
		return err
	}
	return nil
}

// Trigger dispatches up to max queued completion callbacks, waiting up to
// timeout when the queue is empty. It reports how many callbacks ran;
// expiry returns ErrTimeout alongside the count so far.
func (c *Class) Trigger(ctx *Context, timeout time.Duration, max int) (int, error) {
	if c == nil || ctx == nil || ctx.class != c {
		return 0, ErrInvalidParam
	}

	count := 0
	for count < max {
		h := ctx.completion.pop()
		if h == nil {
			if timeout <= 0 {
				if count == 0 {
					c.stats.timeouts.Add(1)
					return 0, ErrTimeout
				}
				break
			}
			timer := time.NewTimer(timeout)
			select {
			case <-ctx.completion.notify:
				timer.Stop()
				continue
			case <-timer.C:
				c.stats.timeouts.Add(1)
				return count, ErrTimeout
			}
		}

		info := CallbackInfo{
			Arg:     h.arg,
			Err:     h.cbErr,
			Ret:     retOf(h.cbErr),
			Class:   c,
			Context: ctx,
			Handle:  h,
		}
		if h.callback != nil {
			h.callback(info)
		}
		c.metricCallbackDispatched(logKV(labelStatus, info.Ret.String()))
		h.decref()
		count++
	}
	return count, nil
}
