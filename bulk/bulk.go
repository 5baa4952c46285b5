// Package bulk manages the bulk-transfer subsystem referenced by the RPC
// runtime. The runtime only depends on its lifecycle and on handle
// identifiers carried in request headers. The package covers lifecycle and
// handle registration only; it performs no data transfers.
package bulk

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rocketbitz/narpc-go/na"
)

var (
	// ErrFinalized indicates use of a class after Finalize.
	ErrFinalized = errors.New("bulk: class finalized")
	// ErrInvalidParam indicates a nil or mismatched argument.
	ErrInvalidParam = errors.New("bulk: invalid parameter")
)

// Class anchors bulk resources for one NA endpoint.
type Class struct {
	naClass   na.Class
	naContext na.Context
	finalized atomic.Bool
	handleSeq atomic.Uint64

	mu      sync.Mutex
	handles map[uint64]*Handle
}

// Init creates a bulk class bound to the given NA endpoint.
func Init(naClass na.Class, naContext na.Context) (*Class, error) {
	if naClass == nil || naContext == nil {
		return nil, ErrInvalidParam
	}
	return &Class{
		naClass:   naClass,
		naContext: naContext,
		handles:   make(map[uint64]*Handle),
	}, nil
}

// Finalize releases the class. Registered handles are dropped.
func (c *Class) Finalize() error {
	if c == nil {
		return nil
	}
	if !c.finalized.CompareAndSwap(false, true) {
		return nil
	}
	c.mu.Lock()
	c.handles = nil
	c.mu.Unlock()
	return nil
}

// Context is a per-progress-loop bulk workspace.
type Context struct {
	class     *Class
	destroyed atomic.Bool
}

// NewContext creates a bulk context for internal transfers.
func (c *Class) NewContext() (*Context, error) {
	if c == nil || c.finalized.Load() {
		return nil, ErrFinalized
	}
	return &Context{class: c}, nil
}

// Destroy releases the context.
func (ctx *Context) Destroy() error {
	if ctx == nil {
		return nil
	}
	ctx.destroyed.Store(true)
	return nil
}

// Handle describes a registered local memory segment. The identifier is
// what travels in request headers; zero means no handle.
type Handle struct {
	id   uint64
	buf  []byte
	open atomic.Bool
}

// NewHandle registers buf and returns its descriptor.
func (c *Class) NewHandle(buf []byte) (*Handle, error) {
	if c == nil || c.finalized.Load() {
		return nil, ErrFinalized
	}
	if len(buf) == 0 {
		return nil, ErrInvalidParam
	}
	h := &Handle{id: c.handleSeq.Add(1), buf: buf}
	h.open.Store(true)
	c.mu.Lock()
	if c.handles != nil {
		c.handles[h.id] = h
	}
	c.mu.Unlock()
	return h, nil
}

// Lookup resolves a handle identifier received on the wire.
func (c *Class) Lookup(id uint64) (*Handle, bool) {
	if c == nil || id == 0 {
		return nil, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := c.handles[id]
	return h, ok
}

// ID returns the wire identifier for the handle. A nil handle reports 0.
func (h *Handle) ID() uint64 {
	if h == nil {
		return 0
	}
	return h.id
}

// Size returns the registered segment length.
func (h *Handle) Size() int {
	if h == nil {
		return 0
	}
	return len(h.buf)
}

// Free deregisters the handle.
func (h *Handle) Free(c *Class) error {
	if h == nil || !h.open.CompareAndSwap(true, false) {
		return nil
	}
	if c != nil {
		c.mu.Lock()
		delete(c.handles, h.id)
		c.mu.Unlock()
	}
	return nil
}
