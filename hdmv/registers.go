package hdmv

import (
	"github.com/chazu/hdmvplay/state"
)

// PSRFlag marks a register address as a player status register.
const PSRFlag uint32 = 0x80000000

const gprMask = 0xfff

// Player status register numbers.
const (
	PSRAudio          = 1
	PSRSubtitle       = 2
	PSRAngle          = 3
	PSRTitle          = 4
	PSRChapter        = 5
	PSRPlaylist       = 6
	PSRPlayItem       = 7
	PSRTime           = 8
	PSRSelectedButton = 10
	PSRMenuPage       = 11
	PSRDisplayCaps    = 25
	PSRChapterAlt     = 37
)

// subtitleDisplay is the display-enable bit of the subtitle PSR.
const subtitleDisplay uint32 = 0x80000000

// firstPlayTitle is what the title PSR reads during first play.
const firstPlayTitle uint32 = 0xFFFF

// PSR returns the register address of player status register n.
func PSR(n uint32) uint32 { return PSRFlag | n }

// IsPSR reports whether addr names a player status register.
func IsPSR(addr uint32) bool { return addr&PSRFlag != 0 }

// MenuRegisters is the menu state exposed through status registers.
type MenuRegisters interface {
	Page() int
	Selected() uint16
	SetSelected(id uint16)
}

// Display describes the output surface for the capability register.
type Display struct {
	Width  int
	Height int
}

// UHD reports whether the display can show 2160p content.
func (d Display) UHD() bool {
	return d.Width >= 3840 && d.Height >= 2160
}

// Registers is the register memory of the interpreter. General purpose
// registers are plain storage. Status registers are never stored: reads
// and writes go to the player state, the menu, or the engine.
type Registers struct {
	gpr     map[uint32]uint32
	store   *state.Store
	menu    MenuRegisters
	tracks  state.TrackSetter
	display Display
}

// NewRegisters returns register memory backed by the given state.
func NewRegisters(st *state.Store, menu MenuRegisters, tracks state.TrackSetter, display Display) *Registers {
	return &Registers{
		gpr:     make(map[uint32]uint32),
		store:   st,
		menu:    menu,
		tracks:  tracks,
		display: display,
	}
}

// Get reads the register at addr.
func (r *Registers) Get(addr uint32) uint32 {
	if !IsPSR(addr) {
		return r.gpr[addr&gprMask]
	}
	return r.getPSR(addr &^ PSRFlag)
}

// Set writes v to the register at addr.
func (r *Registers) Set(addr, v uint32) {
	if !IsPSR(addr) {
		r.gpr[addr&gprMask] = v
		return
	}
	r.setPSR(addr&^PSRFlag, v)
}

// GPRs returns a copy of the general purpose registers that were written.
func (r *Registers) GPRs() map[uint32]uint32 {
	out := make(map[uint32]uint32, len(r.gpr))
	for k, v := range r.gpr {
		out[k] = v
	}
	return out
}

// Reset clears the general purpose registers.
func (r *Registers) Reset() {
	clear(r.gpr)
}

func (r *Registers) getPSR(n uint32) uint32 {
	switch n {
	case PSRAudio:
		return uint32(r.store.Audio())
	case PSRSubtitle:
		id, display := r.store.Subtitle()
		if !display {
			return 0
		}
		return subtitleDisplay | uint32(id)
	case PSRAngle:
		return 1
	case PSRTitle:
		pos := r.store.Position()
		if pos.Title == state.FirstPlayTitle {
			return firstPlayTitle
		}
		return uint32(pos.Title)
	case PSRChapter, PSRChapterAlt:
		return uint32(r.store.Chapter() + 1)
	case PSRPlaylist:
		pos := r.store.Position()
		if pos.PlaylistID < 0 {
			return 0
		}
		return uint32(pos.PlaylistID)
	case PSRPlayItem:
		return uint32(r.store.Position().PlayItem)
	case PSRTime:
		return uint32(r.store.Position().Elapsed * 45000)
	case PSRSelectedButton:
		return uint32(r.menu.Selected())
	case PSRMenuPage:
		if p := r.menu.Page(); p >= 0 {
			return uint32(p)
		}
		return 0
	case PSRDisplayCaps:
		if r.display.UHD() {
			return 1
		}
		return 0
	}
	log.Warningf("read of unsupported psr%d", n)
	return 0
}

func (r *Registers) setPSR(n, v uint32) {
	switch n {
	case PSRAudio:
		if err := r.store.SelectAudio(int(v&gprMask), r.tracks); err != nil {
			log.Warningf("psr%d: select audio %d: %s", n, v, err)
		}
	case PSRSubtitle:
		if err := r.store.SelectSubtitle(int(v&gprMask), v&subtitleDisplay != 0, r.tracks); err != nil {
			log.Warningf("psr%d: select subtitle %d: %s", n, v&gprMask, err)
		}
	case PSRTitle:
		r.store.SetTitle(int(v))
	case PSRChapter, PSRChapterAlt:
		if v == 0 {
			r.store.SetChapter(0)
		} else {
			r.store.SetChapter(int(v) - 1)
		}
	case PSRPlaylist:
		r.store.SetPlaylist(int(v))
	case PSRPlayItem:
		r.store.SetPlayItem(int(v))
	case PSRSelectedButton:
		r.menu.SetSelected(uint16(v))
	case PSRAngle, PSRTime, PSRMenuPage, PSRDisplayCaps:
		log.Warningf("write of read-only psr%d ignored", n)
	default:
		log.Warningf("write of unsupported psr%d ignored", n)
	}
}
