// Package disc models the navigation data of an opened Blu-ray disc as it is
// handed over by the disc parser: the title map, movie objects with their
// command lists, and playlists with their clips, marks and interactive
// graphics menus.
//
// Collections are never handed out directly. Callers borrow a view for the
// duration of a callback (WithObject, WithPlaylist) and the borrow is released
// on every exit path, including panics. Views must not be retained after the
// callback returns.
package disc

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a title, object, playlist, page, BOG or button
// referenced by navigation data does not exist.
var ErrNotFound = errors.New("not found")

// NoObject marks an absent entry in the title map.
const NoObject uint32 = 0xFFFFFFFF

// TicksPerSecond is the resolution of clip and mark timestamps.
const TicksPerSecond = 90000

// discNamespace roots the name-based UUIDs that identify discs across sessions.
var discNamespace = uuid.MustParse("6f1d3c8e-2a47-4b0b-9d5e-8c2f3b7a9e10")

// Info is the parsed top-level navigation data of a disc.
type Info struct {
	Name               string               `json:"discName"`
	FirstPlaySupported bool                 `json:"firstPlaySupported"`
	FirstPlay          uint32               `json:"firstPlay"`
	TopMenuSupported   bool                 `json:"topMenuSupported"`
	TitleMap           []uint32             `json:"titleMap"` // index 0 is the top menu
	Objects            []Object             `json:"objects"`
	Playlists          map[uint32]*Playlist `json:"playlists"`

	// Root is the directory the disc was opened from (set at load time).
	Root string `json:"-"`
}

// Object is a movie object: an immutable command list plus its flags.
type Object struct {
	ResumeIntentionFlag bool      `json:"resumeIntentionFlag"`
	MenuCallMask        bool      `json:"menuCallMask"`
	TitleSearchMask     bool      `json:"titleSearchMask"`
	Commands            []Command `json:"cmds"`
}

// MenuCallAllowed reports whether the user may call the top menu while
// this object runs.
func (o *Object) MenuCallAllowed() bool {
	return !o.MenuCallMask
}

// Clip is one play item of a playlist. Times are in 90 kHz ticks.
type Clip struct {
	ClipID  string `json:"clipId"`
	InTime  uint64 `json:"inTime"`
	OutTime uint64 `json:"outTime"`
}

// Duration returns the clip length in ticks.
func (c Clip) Duration() uint64 {
	if c.OutTime < c.InTime {
		return 0
	}
	return c.OutTime - c.InTime
}

// Mark types.
const (
	MarkEntry uint8 = 1
	MarkLink  uint8 = 2
)

// Mark is a play mark. Offset is relative to the in-time of the referenced clip.
type Mark struct {
	Type    uint8  `json:"type"`
	ClipRef int    `json:"clipRef"`
	Offset  uint64 `json:"offset"`
}

// IsEntry reports whether the mark is a chapter entry point. Marks without
// a type are treated as entry marks.
func (m Mark) IsEntry() bool {
	return m.Type == 0 || m.Type == MarkEntry
}

// Playlist is an ordered list of clips with chapter marks and an optional
// interactive graphics menu.
type Playlist struct {
	ID    uint32 `json:"id"`
	Clips []Clip `json:"clips"`
	Marks []Mark `json:"marks"`
	Menu  *Menu  `json:"igs,omitempty"`
}

// Disc is the session handle over parsed navigation data.
type Disc struct {
	info    *Info
	id      uuid.UUID
	borrows atomic.Int64
}

// New wraps parsed navigation data.
func New(info *Info) *Disc {
	if info.Playlists == nil {
		info.Playlists = make(map[uint32]*Playlist)
	}
	for id, pl := range info.Playlists {
		if pl == nil {
			delete(info.Playlists, id)
			continue
		}
		pl.ID = id
	}
	return &Disc{
		info: info,
		id:   uuid.NewSHA1(discNamespace, []byte(info.Name+"\x00"+info.Root)),
	}
}

// ID returns a stable identifier derived from the disc name and root.
func (d *Disc) ID() string { return d.id.String() }

// Name returns the disc name.
func (d *Disc) Name() string { return d.info.Name }

// Root returns the directory the disc was opened from.
func (d *Disc) Root() string { return d.info.Root }

// TopMenuSupported reports whether the disc declares a top menu title.
func (d *Disc) TopMenuSupported() bool { return d.info.TopMenuSupported }

// TitleCount returns the number of entries in the title map, top menu included.
func (d *Disc) TitleCount() int { return len(d.info.TitleMap) }

// FirstPlay returns the first-play object index, if the disc has one.
func (d *Disc) FirstPlay() (uint32, bool) {
	if !d.info.FirstPlaySupported || d.info.FirstPlay == NoObject {
		return 0, false
	}
	return d.info.FirstPlay, true
}

// TitleObject maps a title number to its movie object index.
func (d *Disc) TitleObject(title int) (uint32, error) {
	if title < 0 || title >= len(d.info.TitleMap) {
		return 0, fmt.Errorf("title %d: %w", title, ErrNotFound)
	}
	idx := d.info.TitleMap[title]
	if idx == NoObject {
		return 0, fmt.Errorf("title %d has no object: %w", title, ErrNotFound)
	}
	return idx, nil
}

// HasPlaylist reports whether a playlist exists without borrowing it.
func (d *Disc) HasPlaylist(id uint32) bool {
	_, ok := d.info.Playlists[id]
	return ok
}

// WithObject borrows movie object idx for the duration of fn.
func (d *Disc) WithObject(idx uint32, fn func(*Object) error) error {
	if int(idx) >= len(d.info.Objects) {
		return fmt.Errorf("object %d: %w", idx, ErrNotFound)
	}
	release := d.acquire()
	defer release()
	return fn(&d.info.Objects[idx])
}

// WithPlaylist borrows playlist id for the duration of fn.
func (d *Disc) WithPlaylist(id uint32, fn func(*Playlist) error) error {
	pl, ok := d.info.Playlists[id]
	if !ok {
		return fmt.Errorf("playlist %05d: %w", id, ErrNotFound)
	}
	release := d.acquire()
	defer release()
	return fn(pl)
}

// Outstanding returns the number of borrows not yet released.
func (d *Disc) Outstanding() int64 {
	return d.borrows.Load()
}

func (d *Disc) acquire() func() {
	d.borrows.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { d.borrows.Add(-1) })
	}
}
