package channel

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrDispatcherClosed is returned when work is handed to a closed Dispatcher.
var ErrDispatcherClosed = errors.New("dispatcher closed")

// DefaultQueueSize bounds the number of pending closures.
const DefaultQueueSize = 256

// Dispatcher is the single execution context for plugin state. Sensor
// callbacks, method calls and stream listen/cancel all reach plugin code
// through it, one closure at a time.
type Dispatcher struct {
	queue chan func()
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once
	log   *slog.Logger
}

// NewDispatcher starts a dispatcher with a queue of the given size.
func NewDispatcher(size int, log *slog.Logger) *Dispatcher {
	if size <= 0 {
		size = DefaultQueueSize
	}
	if log == nil {
		log = slog.Default()
	}
	d := &Dispatcher{
		queue: make(chan func(), size),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
		log:   log,
	}
	go d.loop()
	return d
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for {
		select {
		case fn := <-d.queue:
			d.run(fn)
		case <-d.quit:
			for {
				select {
				case fn := <-d.queue:
					d.run(fn)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatched task panicked", "panic", r)
		}
	}()
	fn()
}

// Post queues fn for execution on the dispatcher. It blocks while the queue
// is full and reports false once the dispatcher is closed. Never call Post
// from a dispatched closure with a full queue.
func (d *Dispatcher) Post(fn func()) bool {
	select {
	case <-d.quit:
		return false
	default:
	}
	select {
	case d.queue <- fn:
		return true
	case <-d.quit:
		return false
	}
}

// Do runs fn on the dispatcher and waits for it to finish. It must not be
// called from a dispatched closure.
func (d *Dispatcher) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !d.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrDispatcherClosed
	}
	select {
	case <-finished:
		return nil
	case <-d.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrDispatcherClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting work, runs what is already queued and returns once
// the loop has exited.
func (d *Dispatcher) Close() {
	d.once.Do(func() { close(d.quit) })
	<-d.done
}
