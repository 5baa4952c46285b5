// Package inproc provides an in-process implementation of the na contract.
//
// A Fabric connects named endpoints living in the same process. Messages are
// delivered by copying between posted buffers; unexpected messages arriving
// before a receive is posted are queued until the receiver refills its
// backlog. Completion callbacks are queued per context and run on the thread
// draining Trigger, mirroring the progress/trigger split of hardware
// transports.
package inproc

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rocketbitz/narpc-go/na"
)

const (
	defaultMaxExpectedSize = 4096
	defaultMaxTag          = na.Tag(0x7FFFFFFF)
)

// Fabric is a registry of in-process endpoints that can message each other.
type Fabric struct {
	mu        sync.Mutex
	endpoints map[string]*Class
}

// NewFabric creates an empty fabric.
func NewFabric() *Fabric {
	return &Fabric{endpoints: make(map[string]*Class)}
}

// Option adjusts endpoint construction.
type Option func(*Class)

// WithMaxExpectedSize overrides the per-message buffer size.
func WithMaxExpectedSize(n int) Option {
	return func(c *Class) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithMaxTag overrides the largest usable tag value.
func WithMaxTag(t na.Tag) Option {
	return func(c *Class) { c.maxTag = t }
}

// WithListening marks the endpoint as accepting unexpected messages.
func WithListening(v bool) Option {
	return func(c *Class) { c.listening = v }
}

// Addr identifies an endpoint on a fabric.
type Addr struct {
	class *Class
	name  string
}

func (a *Addr) String() string { return a.name }

type message struct {
	data   []byte
	source *Addr
	tag    na.Tag
	sendOp *operation
}

type opKind int

const (
	opSendUnexpected opKind = iota
	opRecvUnexpected
	opSendExpected
	opRecvExpected
)

type operation struct {
	kind   opKind
	octx   *Context
	cb     na.Callback
	buf    []byte
	source *Addr
	tag    na.Tag
	home   *Class
	done   atomic.Bool
}

// Class is an endpoint bound to a fabric, implementing na.Class.
type Class struct {
	fabric    *Fabric
	name      string
	self      *Addr
	listening bool
	maxSize   int
	maxTag    na.Tag
	closed    atomic.Bool

	mu                sync.Mutex
	postedUnexpected  []*operation
	backlogUnexpected []*message
	postedExpected    []*operation
	backlogExpected   []*message
}

var _ na.Class = (*Class)(nil)

// NewClass registers a new endpoint under name.
func (f *Fabric) NewClass(name string, opts ...Option) (*Class, error) {
	if name == "" {
		return nil, fmt.Errorf("inproc: endpoint name required")
	}
	c := &Class{
		fabric:  f,
		name:    name,
		maxSize: defaultMaxExpectedSize,
		maxTag:  defaultMaxTag,
	}
	c.self = &Addr{class: c, name: name}
	for _, opt := range opts {
		opt(c)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.endpoints[name]; exists {
		return nil, fmt.Errorf("inproc: endpoint %q already registered", name)
	}
	f.endpoints[name] = c
	return c, nil
}

// Lookup resolves an endpoint name to its address.
func (f *Fabric) Lookup(name string) (na.Address, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.endpoints[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", na.ErrAddressUnknown, name)
	}
	return c.self, nil
}

// Addr returns the endpoint's own address.
func (c *Class) Addr() na.Address { return c.self }

// Close deregisters the endpoint. Posted operations are left to Cancel.
func (c *Class) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	c.fabric.mu.Lock()
	delete(c.fabric.endpoints, c.name)
	c.fabric.mu.Unlock()
	return nil
}

// Context is a per-progress-loop callback queue, implementing na.Context.
type Context struct {
	class  *Class
	mu     sync.Mutex
	ready  []func()
	notify chan struct{}
}

// NewContext creates a context for posting and draining operations.
func (c *Class) NewContext() *Context {
	return &Context{class: c, notify: make(chan struct{}, 1)}
}

// Destroy releases the context. Queued callbacks are dropped.
func (ctx *Context) Destroy() {
	ctx.mu.Lock()
	ctx.ready = nil
	ctx.mu.Unlock()
}

func (ctx *Context) enqueue(fn func()) {
	ctx.mu.Lock()
	ctx.ready = append(ctx.ready, fn)
	ctx.mu.Unlock()
	select {
	case ctx.notify <- struct{}{}:
	default:
	}
}

func (ctx *Context) pop() func() {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	if len(ctx.ready) == 0 {
		return nil
	}
	fn := ctx.ready[0]
	ctx.ready = ctx.ready[1:]
	return fn
}

func (ctx *Context) pending() int {
	ctx.mu.Lock()
	defer ctx.mu.Unlock()
	return len(ctx.ready)
}

func (c *Class) resolveContext(ctx na.Context) (*Context, error) {
	ictx, ok := ctx.(*Context)
	if !ok || ictx == nil || ictx.class != c {
		return nil, na.ErrInvalidContext
	}
	return ictx, nil
}

func resolveAddr(addr na.Address) (*Addr, error) {
	a, ok := addr.(*Addr)
	if !ok || a == nil || a.class == nil {
		return nil, na.ErrAddressUnknown
	}
	if a.class.closed.Load() {
		return nil, na.ErrAddressUnknown
	}
	return a, nil
}

func complete(op *operation, info na.CallbackInfo) {
	if !op.done.CompareAndSwap(false, true) {
		return
	}
	cb := op.cb
	op.octx.enqueue(func() {
		if cb != nil {
			cb(info)
		}
	})
}

// MaxExpectedSize implements na.Class.
func (c *Class) MaxExpectedSize() int { return c.maxSize }

// MaxTag implements na.Class.
func (c *Class) MaxTag() na.Tag { return c.maxTag }

// IsListening implements na.Class.
func (c *Class) IsListening() bool { return c.listening }

// AddrIsSelf implements na.Class.
func (c *Class) AddrIsSelf(addr na.Address) bool {
	a, ok := addr.(*Addr)
	return ok && a != nil && a.class == c
}

// AddrFree implements na.Class. Addresses are shared descriptors; nothing to
// release.
func (c *Class) AddrFree(na.Address) {}

// MsgSendUnexpected implements na.Class. The send completes once the message
// has been handed to the destination endpoint, whether or not a receive is
// already posted there.
func (c *Class) MsgSendUnexpected(ctx na.Context, cb na.Callback, buf []byte, dest na.Address, tag na.Tag) (na.OpID, error) {
	ictx, err := c.resolveContext(ctx)
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, na.ErrClosed
	}
	target, err := resolveAddr(dest)
	if err != nil {
		return nil, err
	}
	if len(buf) > target.class.maxSize {
		return nil, na.ErrSizeExceeded
	}

	op := &operation{kind: opSendUnexpected, octx: ictx, cb: cb, tag: tag}
	msg := &message{data: append([]byte(nil), buf...), source: c.self, tag: tag}

	tc := target.class
	tc.mu.Lock()
	var rop *operation
	if len(tc.postedUnexpected) > 0 {
		rop = tc.postedUnexpected[0]
		tc.postedUnexpected = tc.postedUnexpected[1:]
	} else {
		tc.backlogUnexpected = append(tc.backlogUnexpected, msg)
	}
	tc.mu.Unlock()

	if rop != nil {
		deliverUnexpected(msg, rop)
	}
	complete(op, na.CallbackInfo{})
	return op, nil
}

// MsgRecvUnexpected implements na.Class.
func (c *Class) MsgRecvUnexpected(ctx na.Context, cb na.Callback, buf []byte) (na.OpID, error) {
	ictx, err := c.resolveContext(ctx)
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, na.ErrClosed
	}
	op := &operation{kind: opRecvUnexpected, octx: ictx, cb: cb, buf: buf, home: c}

	c.mu.Lock()
	var msg *message
	if len(c.backlogUnexpected) > 0 {
		msg = c.backlogUnexpected[0]
		c.backlogUnexpected = c.backlogUnexpected[1:]
	} else {
		c.postedUnexpected = append(c.postedUnexpected, op)
	}
	c.mu.Unlock()

	if msg != nil {
		deliverUnexpected(msg, op)
	}
	return op, nil
}

func deliverUnexpected(msg *message, rop *operation) {
	copy(rop.buf, msg.data)
	complete(rop, na.CallbackInfo{
		RecvUnexpected: na.RecvUnexpectedInfo{
			Source:     msg.source,
			Tag:        msg.tag,
			ActualSize: len(msg.data),
		},
	})
}

// MsgSendExpected implements na.Class. The send completes when the message
// matches a posted receive on the destination.
func (c *Class) MsgSendExpected(ctx na.Context, cb na.Callback, buf []byte, dest na.Address, tag na.Tag) (na.OpID, error) {
	ictx, err := c.resolveContext(ctx)
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, na.ErrClosed
	}
	target, err := resolveAddr(dest)
	if err != nil {
		return nil, err
	}
	if len(buf) > target.class.maxSize {
		return nil, na.ErrSizeExceeded
	}

	op := &operation{kind: opSendExpected, octx: ictx, cb: cb, tag: tag, home: target.class}
	msg := &message{data: append([]byte(nil), buf...), source: c.self, tag: tag, sendOp: op}

	tc := target.class
	tc.mu.Lock()
	var rop *operation
	for i, cand := range tc.postedExpected {
		if cand.source.class == c && cand.tag == tag {
			rop = cand
			tc.postedExpected = append(tc.postedExpected[:i], tc.postedExpected[i+1:]...)
			break
		}
	}
	if rop == nil {
		tc.backlogExpected = append(tc.backlogExpected, msg)
	}
	tc.mu.Unlock()

	if rop != nil {
		deliverExpected(msg, rop)
	}
	return op, nil
}

// MsgRecvExpected implements na.Class.
func (c *Class) MsgRecvExpected(ctx na.Context, cb na.Callback, buf []byte, source na.Address, tag na.Tag) (na.OpID, error) {
	ictx, err := c.resolveContext(ctx)
	if err != nil {
		return nil, err
	}
	if c.closed.Load() {
		return nil, na.ErrClosed
	}
	src, err := resolveAddr(source)
	if err != nil {
		return nil, err
	}
	op := &operation{kind: opRecvExpected, octx: ictx, cb: cb, buf: buf, source: src, tag: tag, home: c}

	c.mu.Lock()
	var msg *message
	for i, cand := range c.backlogExpected {
		if cand.source.class == src.class && cand.tag == tag {
			msg = cand
			c.backlogExpected = append(c.backlogExpected[:i], c.backlogExpected[i+1:]...)
			break
		}
	}
	if msg == nil {
		c.postedExpected = append(c.postedExpected, op)
	}
	c.mu.Unlock()

	if msg != nil {
		deliverExpected(msg, op)
	}
	return op, nil
}

func deliverExpected(msg *message, rop *operation) {
	copy(rop.buf, msg.data)
	complete(rop, na.CallbackInfo{})
	if msg.sendOp != nil {
		complete(msg.sendOp, na.CallbackInfo{})
	}
}

// Cancel implements na.Class. The operation is withdrawn from the matching
// queues and completes with ErrCanceled; operations that already completed
// are left untouched.
func (c *Class) Cancel(ctx na.Context, opID na.OpID) error {
	if _, err := c.resolveContext(ctx); err != nil {
		return err
	}
	op, ok := opID.(*operation)
	if !ok || op == nil {
		return fmt.Errorf("inproc: invalid operation id")
	}
	if op.done.Load() {
		return nil
	}

	// Pending operations live on the queues of the endpoint they were
	// matched against, recorded at post time.
	home := op.home
	if home == nil {
		home = c
	}
	home.mu.Lock()
	switch op.kind {
	case opRecvUnexpected:
		home.postedUnexpected = removeOp(home.postedUnexpected, op)
	case opRecvExpected:
		home.postedExpected = removeOp(home.postedExpected, op)
	case opSendExpected:
		for i, msg := range home.backlogExpected {
			if msg.sendOp == op {
				home.backlogExpected = append(home.backlogExpected[:i], home.backlogExpected[i+1:]...)
				break
			}
		}
	}
	home.mu.Unlock()

	complete(op, na.CallbackInfo{Err: na.ErrCanceled})
	return nil
}

func removeOp(ops []*operation, op *operation) []*operation {
	for i, cand := range ops {
		if cand == op {
			return append(ops[:i], ops[i+1:]...)
		}
	}
	return ops
}

// Progress implements na.Class.
func (c *Class) Progress(ctx na.Context, timeout time.Duration) error {
	ictx, err := c.resolveContext(ctx)
	if err != nil {
		return err
	}
	deadline := time.Now().Add(timeout)
	for {
		if ictx.pending() > 0 {
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return na.ErrTimeout
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ictx.notify:
			timer.Stop()
		case <-timer.C:
			return na.ErrTimeout
		}
	}
}

// Trigger implements na.Class.
func (c *Class) Trigger(ctx na.Context, timeout time.Duration, max int) (int, error) {
	ictx, err := c.resolveContext(ctx)
	if err != nil {
		return 0, err
	}
	count := 0
	for count < max {
		fn := ictx.pop()
		if fn == nil {
			if count > 0 || timeout <= 0 {
				break
			}
			timer := time.NewTimer(timeout)
			select {
			case <-ictx.notify:
				timer.Stop()
				continue
			case <-timer.C:
				return count, na.ErrTimeout
			}
		}
		fn()
		count++
	}
	return count, nil
}
