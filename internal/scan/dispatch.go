package scan

import (
	"context"
	"sync"
)

// Executor runs tasks on the consumer's context. Post must not block and must
// preserve the order tasks were posted in.
type Executor interface {
	Post(task func())
}

// Dispatcher is an Executor backed by a single goroutine draining an
// unbounded FIFO mailbox.
type Dispatcher struct {
	mu     sync.Mutex
	queue  []func()
	closed bool

	wake chan struct{}
	done chan struct{}
	once sync.Once
}

// Compile-time check that Dispatcher implements Executor.
var _ Executor = (*Dispatcher)(nil)

func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post queues task. Tasks posted after Close are discarded.
func (d *Dispatcher) Post(task func()) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.queue = append(d.queue, task)
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Run executes queued tasks until ctx is cancelled or Close is called.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		d.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-d.done:
			return
		case <-d.wake:
		}
	}
}

func (d *Dispatcher) drain(ctx context.Context) {
	for ctx.Err() == nil {
		d.mu.Lock()
		if len(d.queue) == 0 || d.closed {
			d.mu.Unlock()
			return
		}
		task := d.queue[0]
		d.queue[0] = nil
		d.queue = d.queue[1:]
		d.mu.Unlock()

		task()
	}
}

// Close stops Run and discards pending tasks.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.mu.Lock()
		d.closed = true
		d.queue = nil
		d.mu.Unlock()
		close(d.done)
	})
}

// deliver hands event to the subscription's sink on exec. Liveness is checked
// again on the executor so a cancel that lands between engine callback and
// delivery suppresses the event.
func deliver[E any](exec Executor, sub *subscription[E], event E) {
	if !sub.active() {
		return
	}
	exec.Post(func() {
		if !sub.active() {
			return
		}
		sub.sink.Success(event)
	})
}
