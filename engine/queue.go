package engine

import (
	"sync"
	"time"
)

// drainTimeout bounds how long a closed queue waits for a reader to take
// each remaining event.
const drainTimeout = time.Second

// eventQueue is an unbounded FIFO in front of an event channel. Engine
// calls push events from the control goroutine while the consumer of
// Events may itself be waiting on that goroutine, so pushes never block.
type eventQueue struct {
	mu      sync.Mutex
	items   []Event
	closed  bool
	wake    chan struct{}
	done    chan struct{}
	stopped chan struct{}
	drain   time.Duration
	out     chan Event
}

func newEventQueue() *eventQueue { return newEventQueueDrain(drainTimeout) }

func newEventQueueDrain(drain time.Duration) *eventQueue {
	q := &eventQueue{
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		drain:   drain,
		out:     make(chan Event),
	}
	go q.pump()
	return q
}

func (q *eventQueue) push(evs ...Event) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.items = append(q.items, evs...)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// close stops accepting events. Queued events are still delivered to a
// reader; once the reader stops taking them the rest are dropped.
func (q *eventQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *eventQueue) pump() {
	defer close(q.stopped)
	defer close(q.out)
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			closed := q.closed
			q.mu.Unlock()
			if closed {
				return
			}
			<-q.wake
			continue
		}
		ev := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		if !q.send(ev) {
			q.mu.Lock()
			log.Warningf("dropped %d engine events nobody read", len(q.items)+1)
			q.items = nil
			q.mu.Unlock()
			return
		}
	}
}

// send hands ev to the reader. After close it waits at most q.drain and
// reports false if nobody took the event.
func (q *eventQueue) send(ev Event) bool {
	select {
	case q.out <- ev:
		return true
	case <-q.done:
	}
	t := time.NewTimer(q.drain)
	defer t.Stop()
	select {
	case q.out <- ev:
		return true
	case <-t.C:
		return false
	}
}
