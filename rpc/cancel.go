package rpc

import "go.uber.org/multierr"

// Cancel requests best-effort cancellation of the handle's pending
// transport operations. Each is cancelled at most once; a cancelled handle
// still flows through the completion queue, with ErrCanceled in its
// callback info record.
func (h *Handle) Cancel() error {
	if h == nil {
		return ErrInvalidParam
	}
	if h.completed.Load() {
		return nil
	}
	c := h.class

	send, recv := h.takeOps()
	if send == nil && recv == nil {
		return nil
	}

	var err error
	if recv != nil {
		err = multierr.Append(err, c.naClass.Cancel(c.naContext, recv))
	}
	if send != nil {
		err = multierr.Append(err, c.naClass.Cancel(c.naContext, send))
	}

	c.stats.canceled.Add(1)
	c.metricHandleCanceled(logKV("cookie", h.cookie))
	c.logEvent("cancel", logKV("cookie", h.cookie), logKV("state", h.currentState().String()))
	return err
}
