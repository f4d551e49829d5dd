package audit

import (
	"context"
	"sync"
	"sync/atomic"
)

// Config controls dispatcher buffering behavior.
type Config struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

// Dispatcher forwards audit events to a sink from a single background
// worker. When disabled it delivers synchronously so no event is lost.
// Events emitted after Close are counted as dropped.
type Dispatcher struct {
	cfg     Config
	sink    Sink
	queue   chan Event
	worker  sync.WaitGroup
	dropped atomic.Uint64

	// mu is held shared by senders and exclusively by Close, so the queue
	// is never closed under an in-flight send.
	mu     sync.RWMutex
	closed bool
}

func NewDispatcher(cfg Config, sink Sink) *Dispatcher {
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{cfg: cfg, sink: sink}
	if !cfg.Enabled {
		return d
	}
	if d.cfg.BufferSize <= 0 {
		d.cfg.BufferSize = 1
	}
	d.queue = make(chan Event, d.cfg.BufferSize)
	d.worker.Add(1)
	go d.deliver()
	return d
}

// deliver runs until the queue is closed and empty.
func (d *Dispatcher) deliver() {
	defer d.worker.Done()
	for ev := range d.queue {
		d.sink.Emit(context.Background(), ev)
	}
}

// Emit queues an event. The request context only bounds the wait for buffer
// space; delivery itself is detached from it.
func (d *Dispatcher) Emit(ctx context.Context, event Event) {
	if d == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.dropped.Add(1)
		return
	}
	if !d.cfg.Enabled {
		d.sink.Emit(context.WithoutCancel(ctx), event)
		return
	}
	if d.cfg.DropIfFull {
		select {
		case d.queue <- event:
		default:
			d.dropped.Add(1)
		}
		return
	}
	select {
	case d.queue <- event:
	case <-ctx.Done():
		d.dropped.Add(1)
	}
}

// Close stops accepting events and blocks until every queued event has
// reached the sink. It is safe to call more than once.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	if d.queue != nil {
		close(d.queue)
	}
	d.mu.Unlock()
	d.worker.Wait()
}

func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
