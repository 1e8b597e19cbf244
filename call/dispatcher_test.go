package call

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEvent struct {
	id int
}

func (testEvent) kind() string { return "test" }

// recordingProcessor completes each event synchronously and records the
// order in which events arrive.
type recordingProcessor struct {
	mu    sync.Mutex
	order []int
	done  chan struct{}
	want  int
}

func newRecordingProcessor(want int) *recordingProcessor {
	return &recordingProcessor{done: make(chan struct{}), want: want}
}

func (p *recordingProcessor) Process(event Event, done func()) {
	p.mu.Lock()
	p.order = append(p.order, event.(testEvent).id)
	finished := len(p.order) == p.want
	p.mu.Unlock()
	done()
	if finished {
		close(p.done)
	}
}

func (p *recordingProcessor) recorded() []int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]int(nil), p.order...)
}

func TestDispatcherPreservesEnqueueOrder(t *testing.T) {
	processor := newRecordingProcessor(100)
	dispatcher := NewDispatcher(processor)

	for i := 0; i < 100; i++ {
		dispatcher.Enqueue(testEvent{id: i})
	}

	select {
	case <-processor.done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not processed in time")
	}

	order := processor.recorded()
	require.Len(t, order, 100)
	for i, id := range order {
		assert.Equal(t, i, id)
	}
}

// holdingProcessor holds the first event open until released, proving no
// second event starts while one is in flight.
type holdingProcessor struct {
	started chan int
	release chan struct{}
}

func (p *holdingProcessor) Process(event Event, done func()) {
	p.started <- event.(testEvent).id
	go func() {
		<-p.release
		done()
	}()
}

func TestDispatcherWaitsForCompletion(t *testing.T) {
	processor := &holdingProcessor{
		started: make(chan int, 2),
		release: make(chan struct{}),
	}
	dispatcher := NewDispatcher(processor)

	dispatcher.Enqueue(testEvent{id: 1})
	dispatcher.Enqueue(testEvent{id: 2})

	select {
	case id := <-processor.started:
		require.Equal(t, 1, id)
	case <-time.After(time.Second):
		t.Fatal("first event never started")
	}

	// The second event must not start while the first is held open.
	select {
	case id := <-processor.started:
		t.Fatalf("event %d started before first completed", id)
	case <-time.After(50 * time.Millisecond):
	}

	close(processor.release)

	select {
	case id := <-processor.started:
		assert.Equal(t, 2, id)
	case <-time.After(time.Second):
		t.Fatal("second event never started")
	}
}

func TestDispatcherDoneIsIdempotent(t *testing.T) {
	processor := newRecordingProcessor(2)
	dispatcher := NewDispatcher(&doubleDoneProcessor{next: processor})

	dispatcher.Enqueue(testEvent{id: 0})
	dispatcher.Enqueue(testEvent{id: 1})

	select {
	case <-processor.done:
	case <-time.After(5 * time.Second):
		t.Fatal("events not processed in time")
	}
	assert.Equal(t, []int{0, 1}, processor.recorded())
}

// doubleDoneProcessor calls done twice for every event.
type doubleDoneProcessor struct {
	next *recordingProcessor
}

func (p *doubleDoneProcessor) Process(event Event, done func()) {
	p.next.Process(event, func() {})
	done()
	done()
}

func TestDispatcherCloseDropsQueuedEvents(t *testing.T) {
	processor := &holdingProcessor{
		started: make(chan int, 4),
		release: make(chan struct{}),
	}
	dispatcher := NewDispatcher(processor)

	dispatcher.Enqueue(testEvent{id: 1})
	select {
	case <-processor.started:
	case <-time.After(time.Second):
		t.Fatal("first event never started")
	}

	dispatcher.Enqueue(testEvent{id: 2})
	dispatcher.Close()
	dispatcher.Enqueue(testEvent{id: 3})

	close(processor.release)

	select {
	case id := <-processor.started:
		t.Fatalf("event %d processed after close", id)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Equal(t, 0, dispatcher.pending())
}

func TestDispatcherDrainWaitsForPipeline(t *testing.T) {
	processor := &holdingProcessor{
		started: make(chan int, 1),
		release: make(chan struct{}),
	}
	dispatcher := NewDispatcher(processor)

	dispatcher.Enqueue(testEvent{id: 1})
	select {
	case <-processor.started:
	case <-time.After(time.Second):
		t.Fatal("event never started")
	}

	assert.False(t, dispatcher.Drain(20*time.Millisecond),
		"drain must time out while an event is held open")

	close(processor.release)
	assert.True(t, dispatcher.Drain(time.Second))
}
