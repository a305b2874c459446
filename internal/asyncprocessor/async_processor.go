// Package asyncprocessor contains a routine that runs queued callbacks.
package asyncprocessor

import (
	"context"
	"sync/atomic"

	"github.com/bluenviron/rplisten/pkg/ringbuffer"
)

// Processor runs callbacks in a dedicated routine, in the order they were pushed,
// so that the routine reading a socket never waits for the one writing to another.
// When the queue is full, callbacks are dropped and counted.
// A failing callback is reported to OnError and does not stop the processor.
type Processor struct {
	// queue size.
	QueueSize int

	// called when a callback returns an error.
	OnError func(context.Context, error)

	running   bool
	queue     *ringbuffer.RingBuffer[func() error]
	dropped   atomic.Uint64
	ctx       context.Context
	ctxCancel func()

	done chan struct{}
}

// Initialize allocates the queue.
func (w *Processor) Initialize() error {
	var err error
	w.queue, err = ringbuffer.New[func() error](w.QueueSize)
	if err != nil {
		return err
	}

	if w.OnError == nil {
		w.OnError = func(context.Context, error) {}
	}

	w.ctx, w.ctxCancel = context.WithCancel(context.Background())
	w.done = make(chan struct{})

	return nil
}

// Close stops the processor.
// Callbacks still in queue are discarded.
func (w *Processor) Close() {
	w.ctxCancel()
	w.queue.Close()

	if w.running {
		<-w.done
	}
}

// Start starts the routine.
func (w *Processor) Start() {
	w.running = true
	go w.run()
}

func (w *Processor) run() {
	defer close(w.done)

	for {
		cb, ok := w.queue.Pull()
		if !ok || w.ctx.Err() != nil {
			return
		}

		if err := cb(); err != nil {
			w.OnError(w.ctx, err)
		}
	}
}

// Push enqueues a callback.
// If the queue is full or the processor is closed, the callback is dropped and false is returned.
func (w *Processor) Push(cb func() error) bool {
	if !w.queue.Push(cb) {
		w.dropped.Add(1)
		return false
	}
	return true
}

// Dropped returns the number of callbacks dropped so far.
func (w *Processor) Dropped() uint64 {
	return w.dropped.Load()
}
