package rpc

import (
	"container/list"
	"fmt"
	"sync"

	"go.uber.org/multierr"

	"github.com/rocketbitz/narpc-go/bulk"
)

// Context is a per-progress-loop workspace bound to exactly one class. It
// owns the completion queue drained by Trigger and the processing list of
// pre-posted listen receives.
type Context struct {
	class       *Class
	bulkContext *bulk.Context
	completion  completionQueue
	processing  processingList
}

// NewContext creates a context for driving progress and dispatching
// completions on the class.
func (c *Class) NewContext() (*Context, error) {
	if c == nil || c.finalized.Load() {
		return nil, ErrFinalized
	}
	bulkCtx, err := c.bulkClass.NewContext()
	if err != nil {
		return nil, err
	}
	ctx := &Context{class: c, bulkContext: bulkCtx}
	ctx.completion.init()
	return ctx, nil
}

// Destroy releases the context. The completion queue must be drained;
// outstanding listen receives are cancelled and their handles reclaimed.
func (ctx *Context) Destroy() error {
	if ctx == nil {
		return nil
	}
	if !ctx.completion.empty() {
		return fmt.Errorf("%w: completion queue not drained", ErrProtocol)
	}

	var err error
	err = multierr.Append(err, ctx.cancelProcessing())
	err = multierr.Append(err, ctx.bulkContext.Destroy())
	return err
}

// cancelProcessing withdraws the pre-posted listen receives and runs their
// cancellation callbacks so the backlog handles are released.
func (ctx *Context) cancelProcessing() error {
	c := ctx.class
	var err error
	for _, h := range ctx.processing.snapshot() {
		_, recv := h.takeOps()
		if recv == nil {
			continue
		}
		err = multierr.Append(err, c.naClass.Cancel(c.naContext, recv))
	}
	for {
		n, terr := c.naClass.Trigger(c.naContext, 0, 1)
		if terr != nil || n == 0 {
			break
		}
	}
	return err
}

// completionQueue is the per-context FIFO of completed handles awaiting
// user-callback dispatch. Handles are pushed at the head and popped from
// the tail; the notify channel stands in for a condition variable so
// waiters can time out.
type completionQueue struct {
	mu      sync.Mutex
	entries list.List
	notify  chan struct{}
}

func (q *completionQueue) init() {
	q.entries.Init()
	q.notify = make(chan struct{}, 1)
}

func (q *completionQueue) push(h *Handle) {
	q.mu.Lock()
	q.entries.PushFront(h)
	q.mu.Unlock()
	q.wake()
}

func (q *completionQueue) pop() *Handle {
	q.mu.Lock()
	elem := q.entries.Back()
	if elem == nil {
		q.mu.Unlock()
		return nil
	}
	q.entries.Remove(elem)
	remaining := q.entries.Len()
	q.mu.Unlock()
	if remaining > 0 {
		q.wake()
	}
	return elem.Value.(*Handle)
}

func (q *completionQueue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *completionQueue) empty() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.entries.Len() == 0
}

// processingList is the listen-side backlog of handles with posted
// unexpected receives, bounded by maxProcessingBacklog.
type processingList struct {
	mu      sync.Mutex
	handles []*Handle
}

func (l *processingList) add(h *Handle) {
	l.handles = append(l.handles, h)
}

func (l *processingList) remove(h *Handle) bool {
	for i, cand := range l.handles {
		if cand == h {
			l.handles = append(l.handles[:i], l.handles[i+1:]...)
			return true
		}
	}
	return false
}

func (l *processingList) size() int {
	return len(l.handles)
}

func (l *processingList) snapshot() []*Handle {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Handle(nil), l.handles...)
}
