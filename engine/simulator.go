package engine

import (
	"strconv"
	"strings"
	"sync"

	"github.com/chazu/hdmvplay/disc"
)

// DefaultTracks is the track list the simulator reports when none is given.
var DefaultTracks = []TrackInfo{
	{ID: 1, Type: "video", SrcID: 0x1011, Codec: "h264", Selected: true},
	{ID: 1, Type: "audio", SrcID: 0x1100, Lang: "eng", Codec: "ac3", Selected: true},
	{ID: 2, Type: "audio", SrcID: 0x1101, Lang: "fra", Codec: "ac3"},
	{ID: 1, Type: "sub", SrcID: 0x1200, Lang: "eng", Codec: "hdmv_pgs_subtitle"},
}

// Simulator is a headless engine. It keeps a playlist of paths and emits
// the events a real engine would, without decoding anything. Playback only
// advances when told to (Advance, Finish).
type Simulator struct {
	mu      sync.Mutex
	q       *eventQueue
	closed  bool
	list    []string
	pos     int
	paused  bool
	time    float64
	tracks  []TrackInfo
	shaders int
}

// SimState is the observable state of a Simulator.
type SimState struct {
	List   []string
	Pos    int
	Paused bool
	Time   float64
}

// NewSimulator starts a simulator reporting tracks for every loaded file.
// It emits an idle event straight away.
func NewSimulator(tracks ...TrackInfo) *Simulator {
	if len(tracks) == 0 {
		tracks = DefaultTracks
	}
	s := &Simulator{
		q:       newEventQueue(),
		pos:     -1,
		tracks:  tracks,
		shaders: 4,
	}
	s.q.push(Event{Type: EventIdle, ShaderCount: s.shaders})
	return s
}

func (s *Simulator) emit(evs ...Event) { s.q.push(evs...) }

func (s *Simulator) fileStarted() {
	s.emit(
		Event{Type: EventFileStart},
		Event{Type: EventTrackList, Tracks: s.tracks},
		Property("playlist-current-pos", int64(s.pos)),
		Property("pause", s.paused),
		Property("playback-time", s.time),
	)
}

// LoadFile implements Engine.
func (s *Simulator) LoadFile(path, options string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	opts := parseOptions(options)
	s.list = []string{path}
	s.pos = 0
	s.time = 0
	if v, ok := opts["start"]; ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			s.time = f
		}
	}
	log.Debugf("sim: load %s (%s)", path, options)
	s.fileStarted()
	if v, ok := opts["aid"]; ok && v != "auto" {
		if id, err := strconv.Atoi(v); err == nil {
			s.emit(Property("aid", int64(id)))
		}
	}
	return nil
}

// LoadFiles implements Engine.
func (s *Simulator) LoadFiles(paths []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.list = append(s.list, paths...)
	return nil
}

func (s *Simulator) property(name string, value any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.emit(Property(name, value))
	return nil
}

// SetAudioTrack implements Engine.
func (s *Simulator) SetAudioTrack(id int) error { return s.property("aid", int64(id)) }

// SetSubtitleTrack implements Engine.
func (s *Simulator) SetSubtitleTrack(id int) error {
	if id == 0 {
		return s.property("sid", "no")
	}
	return s.property("sid", int64(id))
}

// SetVideoTrack implements Engine.
func (s *Simulator) SetVideoTrack(id int) error { return s.property("vid", int64(id)) }

// TogglePlay implements Engine.
func (s *Simulator) TogglePlay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.paused = !s.paused
	s.emit(Property("pause", s.paused))
	return nil
}

// SetPlaybackTime implements Engine.
func (s *Simulator) SetPlaybackTime(seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.time = seconds
	s.emit(
		Property("seeking", true),
		Property("playback-time", seconds),
		Property("seeking", false),
	)
	return nil
}

// Stop implements Engine.
func (s *Simulator) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.endOfList()
	return nil
}

func (s *Simulator) endOfList() {
	s.list = nil
	s.pos = -1
	s.time = 0
	s.emit(
		Event{Type: EventFileEnd},
		Property("playlist-current-pos", int64(-1)),
		Event{Type: EventIdle, ShaderCount: s.shaders},
	)
}

// OpenDiscImage implements Engine by loading the navigation dump at path.
func (s *Simulator) OpenDiscImage(path string) (*disc.Info, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	return disc.Load(path)
}

// Advance moves the playback position of the current file forward.
func (s *Simulator) Advance(seconds float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < 0 || s.closed {
		return
	}
	s.time += seconds
	s.emit(Property("playback-time", s.time))
}

// Finish ends the current file, moving to the next playlist entry or, at
// the end of the list, reporting position -1.
func (s *Simulator) Finish() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pos < 0 || s.closed {
		return
	}
	if s.pos+1 < len(s.list) {
		s.pos++
		s.time = 0
		s.emit(Event{Type: EventFileEnd})
		s.fileStarted()
		return
	}
	s.endOfList()
}

// State returns a copy of the simulator state.
func (s *Simulator) State() SimState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return SimState{
		List:   append([]string(nil), s.list...),
		Pos:    s.pos,
		Paused: s.paused,
		Time:   s.time,
	}
}

// Events implements Engine.
func (s *Simulator) Events() <-chan Event { return s.q.out }

// Close implements Engine.
func (s *Simulator) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.q.close()
	return nil
}

// parseOptions splits a "k=v,k=v" load option string.
func parseOptions(opts string) map[string]string {
	m := make(map[string]string)
	for _, kv := range strings.Split(opts, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(kv), "=")
		if !ok || k == "" {
			continue
		}
		m[k] = v
	}
	return m
}
