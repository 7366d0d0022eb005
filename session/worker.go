package session

import (
	"fmt"
)

// request is a unit of work for the control goroutine.
type request struct {
	fn   func() error
	done chan error
}

// worker serializes all access to the interpreter through one goroutine.
// Register memory and menu state are owned by that goroutine; engine
// events and user input both enter through Do.
type worker struct {
	requests chan request
	quit     chan struct{}
	stopped  chan struct{}
}

func newWorker() *worker {
	w := &worker{
		requests: make(chan request, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go w.loop()
	return w
}

// loop processes requests sequentially.
func (w *worker) loop() {
	defer close(w.stopped)
	for {
		select {
		case req := <-w.requests:
			req.done <- w.execute(req.fn)
		case <-w.quit:
			return
		}
	}
}

// execute runs fn, recovering from panics.
func (w *worker) execute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic on control goroutine: %v", r)
		}
	}()
	return fn()
}

// Do runs fn on the control goroutine and waits for it.
func (w *worker) Do(fn func() error) error {
	req := request{fn: fn, done: make(chan error, 1)}
	select {
	case w.requests <- req:
	case <-w.quit:
		return ErrClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-w.stopped:
		return ErrClosed
	}
}

// Stop shuts the worker down. Requests already queued are abandoned.
func (w *worker) Stop() {
	select {
	case <-w.quit:
	default:
		close(w.quit)
	}
	<-w.stopped
}
