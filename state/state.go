// Package state holds the observable player state shared by the navigation
// interpreter and the property bus.
//
// Every field has an explicit setter. Setters that have effects beyond the
// store itself (forwarding a track selection to the engine) say so in their
// documentation; all others only update the field and notify subscribers.
package state

import (
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.state")

// FirstPlayTitle is the title number while the first-play object runs.
const FirstPlayTitle = -1

// Field identifies one observable field.
type Field int

const (
	FieldTitle Field = iota
	FieldObject
	FieldPC
	FieldPlaylist
	FieldPlayItem
	FieldChapter
	FieldChapters
	FieldAudio
	FieldSubtitle
	FieldVideo
	FieldTracks
	FieldElapsed
	FieldDuration
	FieldPlaying
	FieldSeeking
	FieldReady
	FieldFileEnd
	FieldMediaTitle
	FieldShaderCount
	FieldDisc
)

var fieldNames = [...]string{
	"title", "object", "pc", "playlist", "play-item", "chapter", "chapters",
	"audio", "subtitle", "video", "tracks", "elapsed", "duration", "playing",
	"seeking", "ready", "file-end", "media-title", "shader-count", "disc",
}

func (f Field) String() string {
	if int(f) < len(fieldNames) {
		return fieldNames[f]
	}
	return "unknown"
}

// Change is delivered to subscribers after a field changed.
type Change struct {
	Field Field
	Value any
}

// Chapter is one chapter of the current media, Time in seconds.
type Chapter struct {
	Title string  `json:"title"`
	Time  float64 `json:"time"`
}

// Track kinds as reported by the engine.
const (
	TrackVideo    = "video"
	TrackAudio    = "audio"
	TrackSubtitle = "sub"
)

// Track is one elementary stream of the loaded file.
type Track struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	SrcID    int64  `json:"srcId"`
	Lang     string `json:"lang,omitempty"`
	Title    string `json:"title,omitempty"`
	Codec    string `json:"codec,omitempty"`
	Selected bool   `json:"selected,omitempty"`
}

// Tracks are the engine's streams partitioned by kind.
type Tracks struct {
	Video    []Track `json:"video"`
	Audio    []Track `json:"audio"`
	Subtitle []Track `json:"subtitle"`
}

// Snapshot is a consistent copy of the whole store.
type Snapshot struct {
	Disc        bool      `json:"disc"`
	Title       int       `json:"title"`
	Object      uint32    `json:"object"`
	PC          int       `json:"pc"`
	PlaylistID  int       `json:"playlistId"` // -1 when no disc playlist is loaded
	PlayItem    int       `json:"playItem"`
	Chapter     int       `json:"chapter"` // 0-based
	Chapters    []Chapter `json:"chapters"`
	Audio       int       `json:"audio"`
	Subtitle    int       `json:"subtitle"`
	SubDisplay  bool      `json:"subtitleDisplay"`
	Video       int       `json:"video"`
	Tracks      Tracks    `json:"tracks"`
	Elapsed     float64   `json:"elapsed"`
	Duration    float64   `json:"duration"`
	Playing     bool      `json:"playing"`
	Seeking     bool      `json:"seeking"`
	Ready       bool      `json:"ready"`
	FileEnd     bool      `json:"fileEnd"`
	MediaTitle  string    `json:"mediaTitle,omitempty"`
	ShaderCount int       `json:"shaderCount"`
}

// TrackSetter is the part of the engine a track selection is forwarded to.
type TrackSetter interface {
	SetAudioTrack(id int) error
	SetSubtitleTrack(id int) error
}

// Store is the observable player state.
type Store struct {
	mu   sync.Mutex
	s    Snapshot
	subs map[int]func(Change)
	next int

	pendingAudio    *int
	pendingSubtitle *int

	// playback bookkeeping for the current disc playlist load
	clipStarts []float64
	loadBase   int
	loadStart  float64
	armed      bool
}

// New returns an empty store.
func New() *Store {
	st := &Store{subs: make(map[int]func(Change))}
	st.s.PlaylistID = -1
	return st
}

// Subscribe registers fn for every change. The returned func unsubscribes.
// Callbacks run on the goroutine that made the change, after the store
// lock is released.
func (st *Store) Subscribe(fn func(Change)) func() {
	st.mu.Lock()
	id := st.next
	st.next++
	st.subs[id] = fn
	st.mu.Unlock()
	return func() {
		st.mu.Lock()
		delete(st.subs, id)
		st.mu.Unlock()
	}
}

// Snapshot returns a copy of the current state.
func (st *Store) Snapshot() Snapshot {
	st.mu.Lock()
	defer st.mu.Unlock()
	s := st.s
	s.Chapters = append([]Chapter(nil), st.s.Chapters...)
	s.Tracks = Tracks{
		Video:    append([]Track(nil), st.s.Tracks.Video...),
		Audio:    append([]Track(nil), st.s.Tracks.Audio...),
		Subtitle: append([]Track(nil), st.s.Tracks.Subtitle...),
	}
	return s
}

// update applies fn under the lock and notifies subscribers if it reports a change.
func (st *Store) update(f Field, fn func(s *Snapshot) (any, bool)) {
	st.mu.Lock()
	v, changed := fn(&st.s)
	var subs []func(Change)
	if changed {
		subs = make([]func(Change), 0, len(st.subs))
		for _, fn := range st.subs {
			subs = append(subs, fn)
		}
	}
	st.mu.Unlock()
	for _, fn := range subs {
		fn(Change{Field: f, Value: v})
	}
}

func setInt(st *Store, f Field, p func(*Snapshot) *int, v int) {
	st.update(f, func(s *Snapshot) (any, bool) {
		ptr := p(s)
		if *ptr == v {
			return v, false
		}
		*ptr = v
		return v, true
	})
}

func setBool(st *Store, f Field, p func(*Snapshot) *bool, v bool) {
	st.update(f, func(s *Snapshot) (any, bool) {
		ptr := p(s)
		if *ptr == v {
			return v, false
		}
		*ptr = v
		return v, true
	})
}

func setFloat(st *Store, f Field, p func(*Snapshot) *float64, v float64) {
	st.update(f, func(s *Snapshot) (any, bool) {
		ptr := p(s)
		if *ptr == v {
			return v, false
		}
		*ptr = v
		return v, true
	})
}

// ---------------------------------------------------------------------------
// Navigation position
// ---------------------------------------------------------------------------

// SetDisc marks whether a disc session is active.
func (st *Store) SetDisc(v bool) { setBool(st, FieldDisc, func(s *Snapshot) *bool { return &s.Disc }, v) }

// SetTitle sets the current title number (FirstPlayTitle during first play).
func (st *Store) SetTitle(v int) { setInt(st, FieldTitle, func(s *Snapshot) *int { return &s.Title }, v) }

// SetObject sets the running movie object index.
func (st *Store) SetObject(v uint32) {
	st.update(FieldObject, func(s *Snapshot) (any, bool) {
		if s.Object == v {
			return v, false
		}
		s.Object = v
		return v, true
	})
}

// SetPC sets the title program counter.
func (st *Store) SetPC(v int) { setInt(st, FieldPC, func(s *Snapshot) *int { return &s.PC }, v) }

// SetPlaylist sets the loaded disc playlist id, -1 for none.
func (st *Store) SetPlaylist(v int) {
	setInt(st, FieldPlaylist, func(s *Snapshot) *int { return &s.PlaylistID }, v)
}

// SetPlayItem sets the play item index within the loaded playlist.
func (st *Store) SetPlayItem(v int) {
	setInt(st, FieldPlayItem, func(s *Snapshot) *int { return &s.PlayItem }, v)
}

// SetChapter sets the 0-based current chapter.
func (st *Store) SetChapter(v int) {
	setInt(st, FieldChapter, func(s *Snapshot) *int { return &s.Chapter }, v)
}

// SetChapters replaces the chapter list.
func (st *Store) SetChapters(v []Chapter) {
	v = append([]Chapter(nil), v...)
	st.update(FieldChapters, func(s *Snapshot) (any, bool) {
		s.Chapters = v
		return v, true
	})
}

// DiscPlaylistActive reports whether chapters currently come from disc marks.
func (st *Store) DiscPlaylistActive() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Disc && st.s.PlaylistID >= 0
}

// ---------------------------------------------------------------------------
// Playback bookkeeping
// ---------------------------------------------------------------------------

// BeginLoad records a new disc playlist load: the play item index of the
// first loaded clip, the offset into that clip playback starts at, and
// the playlist-relative start time of every clip. Playback is disarmed
// until the engine reports a list position.
func (st *Store) BeginLoad(base int, start float64, clipStarts []float64) {
	st.mu.Lock()
	st.loadBase = base
	st.loadStart = start
	st.clipStarts = append([]float64(nil), clipStarts...)
	st.armed = false
	st.mu.Unlock()
}

// LoadBase returns the play item index of the first clip in the current load.
func (st *Store) LoadBase() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.loadBase
}

// LoadStart returns the offset in seconds into play item i at which the
// current load begins playing it: the load's start offset for its first
// clip, 0 for the clips queued after it.
func (st *Store) LoadStart(i int) float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if i != st.loadBase {
		return 0
	}
	return st.loadStart
}

// ClipStart returns the playlist-relative start time of play item i in seconds.
func (st *Store) ClipStart(i int) float64 {
	st.mu.Lock()
	defer st.mu.Unlock()
	if i < 0 || i >= len(st.clipStarts) {
		return 0
	}
	return st.clipStarts[i]
}

// Arm marks that playback of the current load was observed to start.
func (st *Store) Arm() {
	st.mu.Lock()
	st.armed = true
	st.mu.Unlock()
}

// Disarm clears the armed flag and reports whether it was set.
func (st *Store) Disarm() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	was := st.armed
	st.armed = false
	return was
}

// Armed reports whether playback of the current load has started.
func (st *Store) Armed() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.armed
}

// ---------------------------------------------------------------------------
// Engine-reported state
// ---------------------------------------------------------------------------

// SetElapsed sets the playback position of the current file in seconds.
func (st *Store) SetElapsed(v float64) {
	setFloat(st, FieldElapsed, func(s *Snapshot) *float64 { return &s.Elapsed }, v)
}

// SetDuration sets the duration of the current file in seconds.
func (st *Store) SetDuration(v float64) {
	setFloat(st, FieldDuration, func(s *Snapshot) *float64 { return &s.Duration }, v)
}

// SetPlaying sets whether the engine is playing (not paused).
func (st *Store) SetPlaying(v bool) {
	setBool(st, FieldPlaying, func(s *Snapshot) *bool { return &s.Playing }, v)
}

// SetSeeking marks a seek in flight; elapsed updates are ignored meanwhile.
func (st *Store) SetSeeking(v bool) {
	setBool(st, FieldSeeking, func(s *Snapshot) *bool { return &s.Seeking }, v)
}

// Seeking reports whether a seek is in flight.
func (st *Store) Seeking() bool {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Seeking
}

// SetReady marks the engine as ready for commands.
func (st *Store) SetReady(v bool) { setBool(st, FieldReady, func(s *Snapshot) *bool { return &s.Ready }, v) }

// SetFileEnd records whether the engine reached the end of the current file.
func (st *Store) SetFileEnd(v bool) {
	setBool(st, FieldFileEnd, func(s *Snapshot) *bool { return &s.FileEnd }, v)
}

// SetMediaTitle sets the metadata title of the current file.
func (st *Store) SetMediaTitle(v string) {
	st.update(FieldMediaTitle, func(s *Snapshot) (any, bool) {
		if s.MediaTitle == v {
			return v, false
		}
		s.MediaTitle = v
		return v, true
	})
}

// SetShaderCount records the engine's post-processing capability count.
func (st *Store) SetShaderCount(v int) {
	setInt(st, FieldShaderCount, func(s *Snapshot) *int { return &s.ShaderCount }, v)
}

// SetVideo sets the selected video track id.
func (st *Store) SetVideo(v int) { setInt(st, FieldVideo, func(s *Snapshot) *int { return &s.Video }, v) }

// ---------------------------------------------------------------------------
// Streams
// ---------------------------------------------------------------------------

// SetAudio records the selected audio track as reported by the engine.
// Nothing is forwarded.
func (st *Store) SetAudio(v int) { setInt(st, FieldAudio, func(s *Snapshot) *int { return &s.Audio }, v) }

// SetSubtitle records the selected subtitle track as reported by the engine.
// Zero means subtitles are off. Nothing is forwarded.
func (st *Store) SetSubtitle(v int) {
	st.update(FieldSubtitle, func(s *Snapshot) (any, bool) {
		display := v != 0
		if s.Subtitle == v && s.SubDisplay == display {
			return v, false
		}
		if display {
			s.Subtitle = v
		}
		s.SubDisplay = display
		return v, true
	})
}

// SelectAudio selects audio track id. Side effects: the selection is
// forwarded to set, or deferred until the next track list if no audio
// tracks are loaded yet.
func (st *Store) SelectAudio(id int, set TrackSetter) error {
	st.mu.Lock()
	loaded := len(st.s.Tracks.Audio) > 0
	if !loaded {
		st.pendingAudio = &id
	}
	st.mu.Unlock()
	st.SetAudio(id)
	if !loaded {
		log.Debugf("audio track %d deferred until tracks are loaded", id)
		return nil
	}
	return set.SetAudioTrack(id)
}

// SelectSubtitle selects subtitle track id with the given display state.
// Side effects: the subtitle track (0 when display is off) is forwarded to
// set, or deferred until the next track list if no subtitle tracks are
// loaded yet.
func (st *Store) SelectSubtitle(id int, display bool, set TrackSetter) error {
	engineID := 0
	if display {
		engineID = id
	}
	st.mu.Lock()
	loaded := len(st.s.Tracks.Subtitle) > 0
	if !loaded {
		st.pendingSubtitle = &engineID
	}
	st.mu.Unlock()
	st.update(FieldSubtitle, func(s *Snapshot) (any, bool) {
		s.Subtitle = id
		s.SubDisplay = display
		return id, true
	})
	if !loaded {
		log.Debugf("subtitle track %d deferred until tracks are loaded", id)
		return nil
	}
	return set.SetSubtitleTrack(engineID)
}

// SetTracks replaces the track lists. Audio tracks sharing a source id are
// reduced to the first one. Side effects: pending selections whose kind is
// now loaded are forwarded to set (set may be nil to skip forwarding).
func (st *Store) SetTracks(all []Track, set TrackSetter) error {
	var t Tracks
	seen := make(map[int64]bool)
	for _, tr := range all {
		switch tr.Type {
		case TrackVideo:
			t.Video = append(t.Video, tr)
		case TrackAudio:
			if tr.SrcID != 0 && seen[tr.SrcID] {
				continue
			}
			seen[tr.SrcID] = true
			t.Audio = append(t.Audio, tr)
		case TrackSubtitle:
			t.Subtitle = append(t.Subtitle, tr)
		default:
			log.Debugf("ignoring track %d of kind %q", tr.ID, tr.Type)
		}
	}
	st.update(FieldTracks, func(s *Snapshot) (any, bool) {
		s.Tracks = t
		return t, true
	})
	if set == nil {
		return nil
	}
	return st.ResolvePending(set)
}

// ResolvePending forwards deferred track selections whose kind is loaded.
func (st *Store) ResolvePending(set TrackSetter) error {
	st.mu.Lock()
	var audio, sub *int
	if st.pendingAudio != nil && len(st.s.Tracks.Audio) > 0 {
		audio, st.pendingAudio = st.pendingAudio, nil
	}
	if st.pendingSubtitle != nil && len(st.s.Tracks.Subtitle) > 0 {
		sub, st.pendingSubtitle = st.pendingSubtitle, nil
	}
	st.mu.Unlock()

	if audio != nil {
		if err := set.SetAudioTrack(*audio); err != nil {
			return err
		}
	}
	if sub != nil {
		if err := set.SetSubtitleTrack(*sub); err != nil {
			return err
		}
	}
	return nil
}

// Pending reports the deferred audio and subtitle selections, if any.
func (st *Store) Pending() (audio, subtitle *int) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.pendingAudio, st.pendingSubtitle
}

// ---------------------------------------------------------------------------
// Lifecycle
// ---------------------------------------------------------------------------

// ResetDisc clears all navigation state, keeping engine-reported fields.
func (st *Store) ResetDisc() {
	st.mu.Lock()
	st.s.Disc = false
	st.s.Title = 0
	st.s.Object = 0
	st.s.PC = 0
	st.s.PlaylistID = -1
	st.s.PlayItem = 0
	st.s.Chapter = 0
	st.s.Chapters = nil
	st.pendingAudio = nil
	st.pendingSubtitle = nil
	st.clipStarts = nil
	st.loadBase = 0
	st.loadStart = 0
	st.armed = false
	subs := make([]func(Change), 0, len(st.subs))
	for _, fn := range st.subs {
		subs = append(subs, fn)
	}
	st.mu.Unlock()
	for _, fn := range subs {
		fn(Change{Field: FieldDisc, Value: false})
	}
}

// ---------------------------------------------------------------------------
// Getters
// ---------------------------------------------------------------------------

// Position is the navigation position of the title program.
type Position struct {
	Title      int
	Object     uint32
	PC         int
	PlaylistID int
	PlayItem   int
	Elapsed    float64
}

// Position returns the current navigation position.
func (st *Store) Position() Position {
	st.mu.Lock()
	defer st.mu.Unlock()
	return Position{
		Title:      st.s.Title,
		Object:     st.s.Object,
		PC:         st.s.PC,
		PlaylistID: st.s.PlaylistID,
		PlayItem:   st.s.PlayItem,
		Elapsed:    st.s.Elapsed,
	}
}

// PC returns the title program counter.
func (st *Store) PC() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.PC
}

// Chapter returns the 0-based current chapter.
func (st *Store) Chapter() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Chapter
}

// Chapters returns a copy of the chapter list.
func (st *Store) Chapters() []Chapter {
	st.mu.Lock()
	defer st.mu.Unlock()
	return append([]Chapter(nil), st.s.Chapters...)
}

// Audio returns the selected audio track.
func (st *Store) Audio() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Audio
}

// Subtitle returns the selected subtitle track and whether it is displayed.
func (st *Store) Subtitle() (int, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s.Subtitle, st.s.SubDisplay
}
