// Package menu implements the interactive menu state machine: which page
// of a playlist's menu is open, which button is selected, which button of
// every overlap group is in effect, and the button program being run.
//
//	Closed --Open--> Open --Activate--> Activated --Deactivate--> Open
//	   ^               |                    |
//	   +----Reset------+--------Reset-------+
package menu

import (
	"errors"
	"fmt"
	"sync"

	"github.com/chazu/hdmvplay/disc"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.menu")

// ErrClosed is returned by operations that need an open menu.
var ErrClosed = errors.New("menu closed")

// Direction is an arrow key.
type Direction int

const (
	Up Direction = iota
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "up"
	case Down:
		return "down"
	case Left:
		return "left"
	case Right:
		return "right"
	}
	return "?"
}

// Snapshot is a consistent view of the machine.
type Snapshot struct {
	Playlist    uint32
	Page        int // -1 when closed
	Selected    uint16
	PC          int
	Overrides   map[int]uint16 // BOG index -> enabled button, NoButton when disabled
	Activated   bool
	Running     uint16
	RunningPage int
}

// Machine is the menu state machine. All methods are safe for concurrent
// use; mutations happen on the control goroutine, snapshots may be taken
// from anywhere.
type Machine struct {
	mu   sync.Mutex
	disc *disc.Disc

	playlist    uint32
	page        int
	selected    uint16
	remembered  map[int]uint16 // page -> last selection
	overrides   map[int]uint16
	activated   bool
	pc          int
	running     uint16
	runningPage int
}

// New returns a closed menu over d. d may be nil until SetDisc is called.
func New(d *disc.Disc) *Machine {
	m := &Machine{disc: d}
	m.resetLocked()
	return m
}

// SetDisc switches the disc the menu reads from and resets the machine.
func (m *Machine) SetDisc(d *disc.Disc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disc = d
	m.resetLocked()
}

// Reset closes the menu: page -1, no selection, counter 0, no overrides,
// not activated. The change is atomic with respect to Snapshot.
func (m *Machine) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Machine) resetLocked() {
	m.page = -1
	m.selected = 0
	m.remembered = make(map[int]uint16)
	m.overrides = make(map[int]uint16)
	m.activated = false
	m.pc = 0
	m.running = 0
	m.runningPage = -1
}

// Snapshot returns a consistent copy of the machine state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	ov := make(map[int]uint16, len(m.overrides))
	for k, v := range m.overrides {
		ov[k] = v
	}
	return Snapshot{
		Playlist:    m.playlist,
		Page:        m.page,
		Selected:    m.selected,
		PC:          m.pc,
		Overrides:   ov,
		Activated:   m.activated,
		Running:     m.running,
		RunningPage: m.runningPage,
	}
}

// Page returns the open page id, -1 when closed.
func (m *Machine) Page() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page
}

// IsOpen reports whether a page is open.
func (m *Machine) IsOpen() bool { return m.Page() >= 0 }

// Playlist returns the playlist whose menu is (or was last) open.
func (m *Machine) Playlist() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playlist
}

// Selected returns the selected button id.
func (m *Machine) Selected() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selected
}

// SetSelected stores a selection without validating it against the page.
// If the button exists on the open page its group override follows.
func (m *Machine) SetSelected(id uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.selected = id
	if m.page < 0 {
		return
	}
	m.remembered[m.page] = id
	_ = m.withPage(m.page, func(p *disc.Page) error {
		if bog, _, err := p.FindButton(id); err == nil {
			m.overrides[bog] = id
		}
		return nil
	})
}

// PC returns the button program counter.
func (m *Machine) PC() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pc
}

// SetPC sets the button program counter.
func (m *Machine) SetPC(pc int) {
	m.mu.Lock()
	m.pc = pc
	m.mu.Unlock()
}

// Activated reports whether a button program is running.
func (m *Machine) Activated() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activated
}

// withPage borrows the menu of the current playlist and looks up page id.
// Callers hold m.mu.
func (m *Machine) withPage(id int, fn func(*disc.Page) error) error {
	if m.disc == nil {
		return fmt.Errorf("no disc: %w", disc.ErrNotFound)
	}
	return m.disc.WithPlaylist(m.playlist, func(pl *disc.Playlist) error {
		if pl.Menu == nil {
			return fmt.Errorf("playlist %05d has no menu: %w", pl.ID, disc.ErrNotFound)
		}
		p, err := pl.Menu.Page(id)
		if err != nil {
			return err
		}
		return fn(p)
	})
}

// HasMenu reports whether playlist id has a menu with a page 0, and
// whether that menu is a pop-up menu.
func (m *Machine) HasMenu(id uint32) (exists, popUp bool) {
	m.mu.Lock()
	d := m.disc
	m.mu.Unlock()
	if d == nil {
		return false, false
	}
	_ = d.WithPlaylist(id, func(pl *disc.Playlist) error {
		if pl.Menu == nil {
			return nil
		}
		if _, err := pl.Menu.Page(0); err == nil {
			exists, popUp = true, pl.Menu.PopUp
		}
		return nil
	})
	return exists, popUp
}

// Open resets the machine and opens page of playlist's menu.
func (m *Machine) Open(playlist uint32, page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
	m.playlist = playlist
	if err := m.setPageLocked(page); err != nil {
		m.resetLocked()
		return err
	}
	log.Debugf("opened menu of playlist %05d at page %d", playlist, page)
	return nil
}

// SetPage swaps the open page. Overrides are cleared and the selection
// last used on the new page is restored, else its default button.
func (m *Machine) SetPage(page int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return ErrClosed
	}
	return m.setPageLocked(page)
}

func (m *Machine) setPageLocked(page int) error {
	return m.withPage(page, func(p *disc.Page) error {
		if m.page >= 0 {
			m.remembered[m.page] = m.selected
		}
		m.page = page
		m.overrides = make(map[int]uint16)

		sel, ok := m.remembered[page]
		if ok {
			if _, _, err := p.FindButton(sel); err != nil {
				ok = false
			}
		}
		if !ok {
			sel = defaultSelection(p)
		}
		m.selected = sel
		return nil
	})
}

func defaultSelection(p *disc.Page) uint16 {
	if p.DefButton != disc.NoButton {
		if _, _, err := p.FindButton(p.DefButton); err == nil {
			return p.DefButton
		}
	}
	for i := range p.BOGs {
		if b := p.BOGs[i].Default(); b != nil {
			return b.ID
		}
	}
	return 0
}

// TransitionTicks returns the in-effect duration of page in 90 kHz ticks.
func (m *Machine) TransitionTicks(page int) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ticks uint64
	err := m.withPage(page, func(p *disc.Page) error {
		ticks = p.TransitionTicks()
		return nil
	})
	return ticks, err
}

// effective returns the button in effect for BOG i, nil when the group is
// disabled. Callers hold m.mu.
func (m *Machine) effective(p *disc.Page, i int) *disc.Button {
	if id, ok := m.overrides[i]; ok {
		if id == disc.NoButton {
			return nil
		}
		if b := p.BOGs[i].Button(id); b != nil {
			return b
		}
	}
	return p.BOGs[i].Default()
}

// Select makes button id the selection and the effective button of its
// group. It reports whether the button is an auto-action button.
func (m *Machine) Select(id uint16) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return false, ErrClosed
	}
	return m.selectLocked(id)
}

func (m *Machine) selectLocked(id uint16) (bool, error) {
	var auto bool
	err := m.withPage(m.page, func(p *disc.Page) error {
		bog, b, err := p.FindButton(id)
		if err != nil {
			return err
		}
		m.overrides[bog] = id
		m.selected = id
		m.remembered[m.page] = id
		auto = b.AutoAction
		return nil
	})
	return auto, err
}

// Move follows the navigation link of the selected button. It reports
// whether the selection changed and whether the new button is an
// auto-action button.
func (m *Machine) Move(dir Direction) (moved, auto bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return false, false, ErrClosed
	}
	if m.activated || m.selected == disc.NoButton {
		return false, false, nil
	}
	var target uint16
	err = m.withPage(m.page, func(p *disc.Page) error {
		_, b, err := p.FindButton(m.selected)
		if err != nil {
			return err
		}
		switch dir {
		case Up:
			target = b.Navigation.Up
		case Down:
			target = b.Navigation.Down
		case Left:
			target = b.Navigation.Left
		case Right:
			target = b.Navigation.Right
		}
		return nil
	})
	if err != nil {
		return false, false, err
	}
	if target == m.selected || target == disc.NoButton {
		return false, false, nil
	}
	auto, err = m.selectLocked(target)
	if err != nil {
		return false, false, err
	}
	return true, auto, nil
}

// Activate starts the selected button's program from its first command
// and returns the button id.
func (m *Machine) Activate() (uint16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return 0, ErrClosed
	}
	if m.selected == disc.NoButton {
		return 0, fmt.Errorf("no button enabled on page %d: %w", m.page, ErrClosed)
	}
	err := m.withPage(m.page, func(p *disc.Page) error {
		_, _, err := p.FindButton(m.selected)
		return err
	})
	if err != nil {
		return 0, err
	}
	m.activated = true
	m.pc = 0
	m.running = m.selected
	m.runningPage = m.page
	return m.running, nil
}

// Deactivate returns from Activated to Open.
func (m *Machine) Deactivate() {
	m.mu.Lock()
	m.activated = false
	m.mu.Unlock()
}

// WithProgram borrows the command list of the running button.
func (m *Machine) WithProgram(fn func(cmds []disc.Command) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.activated {
		return fmt.Errorf("no button program running: %w", ErrClosed)
	}
	return m.withPage(m.runningPage, func(p *disc.Page) error {
		_, b, err := p.FindButton(m.running)
		if err != nil {
			return err
		}
		return fn(b.Commands)
	})
}

// Enable makes button id the effective button of its group. The selection
// moves to it only if the selected button belongs to the same group.
func (m *Machine) Enable(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return ErrClosed
	}
	return m.withPage(m.page, func(p *disc.Page) error {
		bog, _, err := p.FindButton(id)
		if err != nil {
			return err
		}
		m.overrides[bog] = id
		if p.BOGs[bog].Button(m.selected) != nil {
			m.selected = id
		}
		return nil
	})
}

// Disable disables button id. When it is the button in effect its group
// shows nothing until a button of the group is enabled or selected again.
// A selection in that group moves to the first enabled button of the page.
func (m *Machine) Disable(id uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return ErrClosed
	}
	return m.withPage(m.page, func(p *disc.Page) error {
		bog, _, err := p.FindButton(id)
		if err != nil {
			return err
		}
		if b := m.effective(p, bog); b == nil || b.ID != id {
			return nil
		}
		m.overrides[bog] = disc.NoButton
		if p.BOGs[bog].Button(m.selected) != nil {
			m.selected = m.firstEnabled(p)
		}
		return nil
	})
}

// firstEnabled returns the page's default button if it is in effect, else
// the first button in effect, else NoButton. Callers hold m.mu.
func (m *Machine) firstEnabled(p *disc.Page) uint16 {
	if bog, _, err := p.FindButton(p.DefButton); err == nil {
		if b := m.effective(p, bog); b != nil && b.ID == p.DefButton {
			return b.ID
		}
	}
	for i := range p.BOGs {
		if b := m.effective(p, i); b != nil {
			return b.ID
		}
	}
	return disc.NoButton
}

// AutoAction reports whether the selected button runs without activation.
func (m *Machine) AutoAction() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return false
	}
	auto := false
	_ = m.withPage(m.page, func(p *disc.Page) error {
		if _, b, err := p.FindButton(m.selected); err == nil {
			auto = b.AutoAction
		}
		return nil
	})
	return auto
}

// ---------------------------------------------------------------------------
// Rendering
// ---------------------------------------------------------------------------

// ButtonState is the visual state of a button.
type ButtonState int

const (
	Normal ButtonState = iota
	Selected
	Activated
)

func (s ButtonState) String() string {
	switch s {
	case Selected:
		return "selected"
	case Activated:
		return "activated"
	}
	return "normal"
}

// Visible is one button to draw.
type Visible struct {
	BOG     int         `json:"bog"`
	Button  uint16      `json:"button"`
	X       uint16      `json:"x"`
	Y       uint16      `json:"y"`
	State   ButtonState `json:"state"`
	Picture uint16      `json:"picture"`
}

// Visible lists the effective button of every group with the picture for
// its state. Buttons whose state has no picture are omitted.
func (m *Machine) Visible() ([]Visible, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.page < 0 {
		return nil, nil
	}
	var out []Visible
	err := m.withPage(m.page, func(p *disc.Page) error {
		for i := range p.BOGs {
			b := m.effective(p, i)
			if b == nil {
				continue
			}
			st, pic := Normal, b.Normal.Start
			if b.ID == m.selected {
				st, pic = Selected, b.Selected.Start
				if m.activated {
					st, pic = Activated, b.Activated.Start
				}
			}
			if pic == disc.NoPicture {
				continue
			}
			out = append(out, Visible{BOG: i, Button: b.ID, X: b.X, Y: b.Y, State: st, Picture: pic})
		}
		return nil
	})
	return out, err
}
