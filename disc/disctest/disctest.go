// Package disctest builds navigation data for tests.
package disctest

import (
	"fmt"

	"github.com/chazu/hdmvplay/disc"
)

// Builder assembles a disc.Info.
type Builder struct {
	info disc.Info
}

// New returns a builder for a disc rooted at root.
func New(name, root string) *Builder {
	return &Builder{info: disc.Info{
		Name:      name,
		Root:      root,
		FirstPlay: disc.NoObject,
		Playlists: make(map[uint32]*disc.Playlist),
	}}
}

// Object adds a movie object with the given program and returns its index.
func (b *Builder) Object(cmds ...disc.Command) uint32 {
	return b.ObjectWith(disc.Object{Commands: cmds})
}

// ObjectWith adds o and returns its index.
func (b *Builder) ObjectWith(o disc.Object) uint32 {
	b.info.Objects = append(b.info.Objects, o)
	return uint32(len(b.info.Objects) - 1)
}

// Title appends obj to the title map and returns the title number. The
// first title added is the top menu.
func (b *Builder) Title(obj uint32) int {
	b.info.TitleMap = append(b.info.TitleMap, obj)
	b.info.TopMenuSupported = true
	return len(b.info.TitleMap) - 1
}

// FirstPlay sets the first-play object.
func (b *Builder) FirstPlay(obj uint32) {
	b.info.FirstPlaySupported = true
	b.info.FirstPlay = obj
}

// Playlist adds a playlist of clips that are seconds long each, named
// after the playlist and their index.
func (b *Builder) Playlist(id uint32, seconds ...float64) *disc.Playlist {
	pl := &disc.Playlist{ID: id}
	for i, s := range seconds {
		pl.Clips = append(pl.Clips, disc.Clip{
			ClipID:  fmt.Sprintf("%05d", id*100+uint32(i)),
			OutTime: uint64(s * disc.TicksPerSecond),
		})
	}
	b.info.Playlists[id] = pl
	return pl
}

// Info returns the assembled data.
func (b *Builder) Info() *disc.Info {
	info := b.info
	return &info
}

// Disc returns the assembled disc.
func (b *Builder) Disc() *disc.Disc { return disc.New(b.Info()) }

// Mark returns an entry mark seconds into clip.
func Mark(clip int, seconds float64) disc.Mark {
	return disc.Mark{Type: disc.MarkEntry, ClipRef: clip, Offset: uint64(seconds * disc.TicksPerSecond)}
}

// Button returns a button with pictures 10*id+{0,1,2} for its three states.
func Button(id uint16, cmds ...disc.Command) disc.Button {
	return disc.Button{
		ID:         id,
		Navigation: disc.Navigation{Up: id, Down: id, Left: id, Right: id},
		Normal:     disc.PictureRange{Start: id * 10, Stop: id * 10},
		Selected:   disc.PictureRange{Start: id*10 + 1, Stop: id*10 + 1},
		Activated:  disc.PictureRange{Start: id*10 + 2, Stop: id*10 + 2},
		Commands:   cmds,
	}
}

// Page returns a page with one single-button BOG per button and the first
// button as default.
func Page(id uint8, buttons ...disc.Button) disc.Page {
	p := disc.Page{ID: id, DefButton: disc.NoButton, DefActivated: disc.NoButton}
	for _, btn := range buttons {
		p.BOGs = append(p.BOGs, disc.BOG{DefButton: btn.ID, Buttons: []disc.Button{btn}})
	}
	if len(buttons) > 0 {
		p.DefButton = buttons[0].ID
	}
	return p
}

// Column links buttons top to bottom with Up/Down navigation.
func Column(buttons ...disc.Button) []disc.Button {
	for i := range buttons {
		if i > 0 {
			buttons[i].Navigation.Up = buttons[i-1].ID
		}
		if i+1 < len(buttons) {
			buttons[i].Navigation.Down = buttons[i+1].ID
		}
	}
	return buttons
}
