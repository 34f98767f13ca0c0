package progress

import "sync"

// DefaultBuffer is the event queue length used by the launcher binary.
const DefaultBuffer = 256

type event struct {
	status      string
	done, total int64
	isStatus    bool
}

// AsyncSink forwards events to another Sink on a single goroutine, in order.
// Intermediate progress events are dropped while the queue is full; status
// text and the final progress event are always delivered.
type AsyncSink struct {
	sink   Sink
	events chan event
	done   chan struct{}

	mu     sync.RWMutex
	closed bool
}

// Async starts delivering events to sink.
func Async(sink Sink, buffer int) *AsyncSink {
	if buffer < 1 {
		buffer = 1
	}

	a := &AsyncSink{
		sink:   sink,
		events: make(chan event, buffer),
		done:   make(chan struct{}),
	}

	go a.loop()

	return a
}

func (a *AsyncSink) loop() {
	defer close(a.done)

	for e := range a.events {
		if e.isStatus {
			a.sink.Status(e.status)
		} else {
			a.sink.Progress(e.done, e.total)
		}
	}
}

// Progress implements Sink.
func (a *AsyncSink) Progress(done, total int64) {
	a.send(event{done: done, total: total}, done >= total)
}

// Status implements Sink.
func (a *AsyncSink) Status(text string) {
	a.send(event{status: text, isStatus: true}, true)
}

func (a *AsyncSink) send(e event, mustDeliver bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if a.closed {
		return
	}

	if mustDeliver {
		a.events <- e
		return
	}

	select {
	case a.events <- e:
	default:
	}
}

// Close delivers the queued events and stops the goroutine. Events sent
// after Close are discarded.
func (a *AsyncSink) Close() {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	<-a.done
}
