package call

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// stallWarnInterval is how long an event may stay in flight before the
// dispatcher logs that the pipeline appears stalled.
const stallWarnInterval = 5 * time.Second

// Processor consumes one event at a time. Process must eventually call
// done exactly once, possibly from another goroutine, to release the
// pipeline for the next event. Calling done more than once is safe and
// ignored.
type Processor interface {
	Process(event Event, done func())
}

// Dispatcher serializes event processing. Events are handed to the
// Processor strictly in enqueue order, and the next event is not started
// until the current one signals completion. This gives the state machine
// single-threaded semantics without it holding a lock across asynchronous
// work such as permission prompts.
type Dispatcher struct {
	mu        sync.Mutex
	idle      *sync.Cond
	queue     []Event
	inFlight  bool
	closed    bool
	processor Processor
}

// NewDispatcher creates a dispatcher feeding events to processor.
func NewDispatcher(processor Processor) *Dispatcher {
	d := &Dispatcher{processor: processor}
	d.idle = sync.NewCond(&d.mu)
	return d
}

// Enqueue appends an event to the pipeline. It never blocks on event
// processing. Events enqueued after Close are dropped.
func (d *Dispatcher) Enqueue(event Event) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.Enqueue",
			"event":    event.kind(),
		}).Debug("dispatcher closed, event dropped")
		return
	}
	d.queue = append(d.queue, event)
	start := !d.inFlight
	if start {
		d.inFlight = true
	}
	d.mu.Unlock()

	if start {
		go d.processNext()
	}
}

// Close drops all queued events and rejects future ones. An event already
// in flight runs to completion.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	d.queue = nil
	d.idle.Broadcast()
}

// Drain blocks until every queued event has been processed or timeout
// elapses. It reports whether the pipeline went idle.
func (d *Dispatcher) Drain(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	wakeup := time.AfterFunc(timeout, func() {
		d.mu.Lock()
		d.idle.Broadcast()
		d.mu.Unlock()
	})
	defer wakeup.Stop()

	d.mu.Lock()
	defer d.mu.Unlock()
	for (d.inFlight || len(d.queue) > 0) && time.Now().Before(deadline) {
		d.idle.Wait()
	}
	return !d.inFlight && len(d.queue) == 0
}

// pending returns the number of queued events, not counting one in flight.
func (d *Dispatcher) pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.queue)
}

func (d *Dispatcher) processNext() {
	d.mu.Lock()
	if len(d.queue) == 0 || d.closed {
		d.inFlight = false
		d.idle.Broadcast()
		d.mu.Unlock()
		return
	}
	event := d.queue[0]
	d.queue = d.queue[1:]
	d.mu.Unlock()

	watchdog := time.AfterFunc(stallWarnInterval, func() {
		logrus.WithFields(logrus.Fields{
			"function": "Dispatcher.processNext",
			"event":    event.kind(),
		}).Warn("event still in flight, pipeline may be stalled")
	})

	var once sync.Once
	done := func() {
		once.Do(func() {
			watchdog.Stop()
			go d.processNext()
		})
	}

	d.processor.Process(event, done)
}
