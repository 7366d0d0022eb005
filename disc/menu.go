package disc

import "fmt"

// NoPicture is the picture reference sentinel for a button state without a bitmap.
const NoPicture uint16 = 0xFFFF

// NoButton is the button id sentinel used by pages and BOGs without a default.
const NoButton uint16 = 0xFFFF

// Menu is the interactive graphics composition of a playlist.
type Menu struct {
	Width  uint16 `json:"width"`
	Height uint16 `json:"height"`
	PopUp  bool   `json:"popUp"` // pop-up menus open on request, always-on menus with the stream
	Pages  []Page `json:"pages"`
}

// Effect is one step of a page transition; Duration is in 90 kHz ticks.
type Effect struct {
	Duration uint32 `json:"duration"`
	Palette  uint8  `json:"palette"`
}

// Page is one menu page.
type Page struct {
	ID           uint8    `json:"id"`
	InEffects    []Effect `json:"inEffects"`
	OutEffects   []Effect `json:"outEffects"`
	DefButton    uint16   `json:"defButton"`
	DefActivated uint16   `json:"defActivated"`
	Palette      uint8    `json:"palette"`
	BOGs         []BOG    `json:"bogs"`
}

// BOG is a button overlap group: mutually exclusive buttons sharing a slot.
type BOG struct {
	DefButton uint16   `json:"defButton"`
	Buttons   []Button `json:"buttons"`
}

// Navigation holds the neighbour button ids of a button.
type Navigation struct {
	Up    uint16 `json:"up"`
	Down  uint16 `json:"down"`
	Left  uint16 `json:"left"`
	Right uint16 `json:"right"`
}

// PictureRange is the first and last picture of a button state animation.
type PictureRange struct {
	Start uint16 `json:"start"`
	Stop  uint16 `json:"stop"`
}

// Button is a menu button with its own command program.
type Button struct {
	ID         uint16       `json:"buttonId"`
	AutoAction bool         `json:"autoAction"`
	X          uint16       `json:"x"`
	Y          uint16       `json:"y"`
	Navigation Navigation   `json:"navigation"`
	Normal     PictureRange `json:"normal"`
	Selected   PictureRange `json:"selected"`
	Activated  PictureRange `json:"activated"`
	Commands   []Command    `json:"commands"`
}

// Page returns the page with the given id.
func (m *Menu) Page(id int) (*Page, error) {
	for i := range m.Pages {
		if int(m.Pages[i].ID) == id {
			return &m.Pages[i], nil
		}
	}
	return nil, fmt.Errorf("menu page %d: %w", id, ErrNotFound)
}

// TransitionTicks is the authored in-effect duration of the page.
func (p *Page) TransitionTicks() uint64 {
	var total uint64
	for _, e := range p.InEffects {
		total += uint64(e.Duration)
	}
	return total
}

// FindButton locates a button and the index of the BOG holding it.
func (p *Page) FindButton(id uint16) (int, *Button, error) {
	for i := range p.BOGs {
		if b := p.BOGs[i].Button(id); b != nil {
			return i, b, nil
		}
	}
	return -1, nil, fmt.Errorf("page %d button %d: %w", p.ID, id, ErrNotFound)
}

// Button returns the button with the given id, or nil.
func (g *BOG) Button(id uint16) *Button {
	for i := range g.Buttons {
		if g.Buttons[i].ID == id {
			return &g.Buttons[i]
		}
	}
	return nil
}

// Default returns the BOG's default button, falling back to its first button.
func (g *BOG) Default() *Button {
	if b := g.Button(g.DefButton); b != nil {
		return b
	}
	if len(g.Buttons) > 0 {
		return &g.Buttons[0]
	}
	return nil
}
