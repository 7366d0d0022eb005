// Package enginetest provides an engine that records the calls made on it.
package enginetest

import (
	"fmt"
	"strings"
	"sync"

	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/engine"
)

// Call is one recorded engine call.
type Call struct {
	Method string
	Args   []any
}

func (c Call) String() string {
	args := make([]string, len(c.Args))
	for i, a := range c.Args {
		args[i] = fmt.Sprint(a)
	}
	return c.Method + "(" + strings.Join(args, ", ") + ")"
}

// Recorder implements engine.Engine by recording every call. Events pushed
// with Emit are delivered on Events.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	events chan engine.Event
	closed bool

	// Disc is returned by OpenDiscImage.
	Disc *disc.Info
	// Err, when set, is returned by every call.
	Err error
}

var _ engine.Engine = (*Recorder)(nil)

// New returns a recorder with a buffered event channel.
func New() *Recorder {
	return &Recorder{events: make(chan engine.Event, 64)}
}

func (r *Recorder) record(method string, args ...any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Method: method, Args: args})
	return r.Err
}

// Calls returns the recorded calls in order.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Methods returns the method names of the recorded calls.
func (r *Recorder) Methods() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.Method
	}
	return out
}

// Find returns the recorded calls of one method.
func (r *Recorder) Find(method string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Method == method {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets the recorded calls.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.calls = nil
	r.mu.Unlock()
}

// Emit queues an event for Events.
func (r *Recorder) Emit(ev engine.Event) { r.events <- ev }

func (r *Recorder) LoadFile(path, options string) error {
	return r.record("LoadFile", path, options)
}

func (r *Recorder) LoadFiles(paths []string) error {
	return r.record("LoadFiles", append([]string(nil), paths...))
}

func (r *Recorder) SetAudioTrack(id int) error    { return r.record("SetAudioTrack", id) }
func (r *Recorder) SetSubtitleTrack(id int) error { return r.record("SetSubtitleTrack", id) }
func (r *Recorder) SetVideoTrack(id int) error    { return r.record("SetVideoTrack", id) }
func (r *Recorder) TogglePlay() error             { return r.record("TogglePlay") }
func (r *Recorder) Stop() error                   { return r.record("Stop") }

func (r *Recorder) SetPlaybackTime(seconds float64) error {
	return r.record("SetPlaybackTime", seconds)
}

func (r *Recorder) OpenDiscImage(path string) (*disc.Info, error) {
	if err := r.record("OpenDiscImage", path); err != nil {
		return nil, err
	}
	if r.Disc == nil {
		return nil, fmt.Errorf("no disc at %s: %w", path, disc.ErrNotFound)
	}
	return r.Disc, nil
}

func (r *Recorder) Events() <-chan engine.Event { return r.events }

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.closed {
		r.closed = true
		close(r.events)
	}
	return nil
}
