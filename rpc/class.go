// Package rpc implements a remote procedure call runtime layered on a
// network abstraction. Callers register named functions, originate forward
// requests against remote peers, and drive a progress/trigger loop that
// dispatches completions to user callbacks. The runtime composes the
// transport's unexpected/expected two-sided messaging into a
// request/response protocol with fixed header framing and per-call tags.
package rpc

import (
	"sync/atomic"

	"go.uber.org/multierr"

	"github.com/rocketbitz/narpc-go/bulk"
	"github.com/rocketbitz/narpc-go/na"
)

const (
	// maxProcessingBacklog bounds the number of pre-posted unexpected
	// receives per listening context.
	maxProcessingBacklog = 1

	defaultBufferPoolCapacity = 32
)

// Config controls Init behaviour.
type Config struct {
	// NA is the transport endpoint the runtime drives. Required.
	NA na.Class
	// NAContext is the transport context operations are posted against.
	// Required.
	NAContext na.Context
	// Bulk optionally supplies an externally owned bulk class. When nil
	// the runtime initializes and finalizes its own.
	Bulk *bulk.Class
	// Name labels the class in logs and metric attributes.
	Name string

	Logger           Logger
	StructuredLogger StructuredLogger
	Tracer           Tracer
	Metrics          MetricHook

	// BufferPoolCapacity bounds the number of idle message buffers kept
	// for reuse. Zero selects the default.
	BufferPoolCapacity int
}

// Class is the process-level runtime anchor: it owns the function registry,
// the tag allocator, and (unless borrowed) the bulk subsystem.
type Class struct {
	cfg       Config
	naClass   na.Class
	naContext na.Context

	bulkClass    *bulk.Class
	bulkExternal bool

	registry *registry

	requestTag atomic.Uint32
	maxTag     na.Tag
	cookieSeq  atomic.Uint32

	bufPool *bufferPool

	logger           Logger
	structuredLogger StructuredLogger
	tracer           Tracer
	metrics          MetricHook

	stats     classStats
	finalized atomic.Bool
}

// Stats contains counters for runtime operations.
type Stats struct {
	Forwarded  uint64
	Dispatched uint64
	Responded  uint64
	Completed  uint64
	Canceled   uint64
	Timeouts   uint64
}

type classStats struct {
	forwarded  atomic.Uint64
	dispatched atomic.Uint64
	responded  atomic.Uint64
	completed  atomic.Uint64
	canceled   atomic.Uint64
	timeouts   atomic.Uint64
}

// Init creates the runtime class for the given transport endpoint.
func Init(cfg Config) (*Class, error) {
	if cfg.NA == nil || cfg.NAContext == nil {
		return nil, ErrInvalidParam
	}

	structured := cfg.StructuredLogger
	if structured == nil {
		if logger, ok := cfg.Logger.(StructuredLogger); ok {
			structured = logger
		}
	}

	capacity := cfg.BufferPoolCapacity
	if capacity <= 0 {
		capacity = defaultBufferPoolCapacity
	}

	c := &Class{
		cfg:              cfg,
		naClass:          cfg.NA,
		naContext:        cfg.NAContext,
		registry:         newRegistry(),
		maxTag:           cfg.NA.MaxTag(),
		bufPool:          newBufferPool(cfg.NA.MaxExpectedSize(), capacity),
		logger:           cfg.Logger,
		structuredLogger: structured,
		tracer:           cfg.Tracer,
		metrics:          cfg.Metrics,
	}

	if cfg.Bulk != nil {
		c.bulkExternal = true
		c.bulkClass = cfg.Bulk
	} else {
		bulkClass, err := bulk.Init(cfg.NA, cfg.NAContext)
		if err != nil {
			return nil, err
		}
		c.bulkClass = bulkClass
	}

	c.logEvent("init", logKV("max_tag", uint32(c.maxTag)),
		logKV("max_expected_size", cfg.NA.MaxExpectedSize()))
	return c, nil
}

// Finalize tears the class down: registered data deleters run, the owned
// bulk class is finalized, and pooled buffers are released. Outstanding
// contexts and handles must be drained first.
func (c *Class) Finalize() error {
	if c == nil {
		return nil
	}
	if !c.finalized.CompareAndSwap(false, true) {
		return nil
	}

	var err error
	if !c.bulkExternal {
		err = multierr.Append(err, c.bulkClass.Finalize())
	}
	c.registry.finalize()
	c.bufPool.close()
	c.logEvent("finalize")
	return err
}

// Bulk returns the bulk class in use, owned or external.
func (c *Class) Bulk() *bulk.Class {
	if c == nil {
		return nil
	}
	return c.bulkClass
}

// RegisterRPC registers a handler under a function name and returns the
// operation id callers use to address it. Distinct names colliding under
// the hash fail registration; re-registering the same name replaces the
// handler.
func (c *Class) RegisterRPC(name string, handler Handler) (ID, error) {
	if c == nil || c.finalized.Load() {
		return 0, ErrFinalized
	}
	if name == "" {
		return 0, ErrInvalidParam
	}
	id, err := c.registry.register(name, handler)
	if err != nil {
		return 0, err
	}
	c.logEvent("register", logKV("name", name), logKV("id", uint64(id)))
	return id, nil
}

// RegisteredRPC reports whether a name is registered and its id.
func (c *Class) RegisteredRPC(name string) (ID, bool) {
	if c == nil {
		return 0, false
	}
	return c.registry.registered(name)
}

// RegisterData attaches user data to a registered id. The deleter, when
// non-nil, runs on Finalize. Replacing data overwrites the previous entry;
// draining the old value is the caller's responsibility.
func (c *Class) RegisterData(id ID, data any, deleter func(any)) error {
	if c == nil || c.finalized.Load() {
		return ErrFinalized
	}
	return c.registry.attachData(id, data, deleter)
}

// RegisteredData returns the user data attached to an id, or nil.
func (c *Class) RegisteredData(id ID) any {
	if c == nil {
		return nil
	}
	return c.registry.lookupData(id)
}

// Stats returns a snapshot of runtime counters.
func (c *Class) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Forwarded:  c.stats.forwarded.Load(),
		Dispatched: c.stats.dispatched.Load(),
		Responded:  c.stats.responded.Load(),
		Completed:  c.stats.completed.Load(),
		Canceled:   c.stats.canceled.Load(),
		Timeouts:   c.stats.timeouts.Load(),
	}
}

// nextTag produces the request tag for the next forward, wrapping to zero
// once the transport's maximum tag is reached.
func (c *Class) nextTag() na.Tag {
	if c.requestTag.CompareAndSwap(uint32(c.maxTag), 0) {
		return 0
	}
	return na.Tag(c.requestTag.Add(1))
}

func (c *Class) nextCookie() uint32 {
	return c.cookieSeq.Add(1)
}
