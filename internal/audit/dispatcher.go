package audit

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Dispatcher forwards events to a sink from a dedicated goroutine. Emit
// never blocks the caller: when the buffer is full the event is dropped and
// counted rather than stalling the request path.
type Dispatcher struct {
	sink      Sink
	ch        chan Event
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

func NewDispatcher(sink Sink, bufferSize int) *Dispatcher {
	if bufferSize <= 0 {
		bufferSize = 1
	}
	if sink == nil {
		sink = NoOpSink{}
	}
	d := &Dispatcher{
		sink: sink,
		ch:   make(chan Event, bufferSize),
		done: make(chan struct{}),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for {
		select {
		case event := <-d.ch:
			d.record(event)
		case <-d.done:
			// Drain whatever was buffered before shutdown.
			for {
				select {
				case event := <-d.ch:
					d.record(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) record(event Event) {
	if err := d.sink.Record(context.Background(), event); err != nil {
		slog.Warn("audit write failed",
			"action", event.Action,
			"user_id", event.UserID,
			"error", err.Error(),
		)
	}
}

// Emit queues an event for recording. Safe to call from any goroutine and
// after Close, where it becomes a no-op.
func (d *Dispatcher) Emit(event Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- event:
	case <-d.done:
	default:
		d.dropped.Add(1)
	}
}

// Close stops the dispatcher after draining buffered events.
func (d *Dispatcher) Close() {
	if d == nil {
		return
	}
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many events were discarded under backpressure.
func (d *Dispatcher) Dropped() uint64 {
	if d == nil {
		return 0
	}
	return d.dropped.Load()
}
