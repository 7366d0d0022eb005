// Package session ties a disc, the interpreter and an engine together and
// exposes the user-facing controls of the player.
package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"

	"github.com/chazu/hdmvplay/bus"
	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/engine"
	"github.com/chazu/hdmvplay/hdmv"
	"github.com/chazu/hdmvplay/menu"
	"github.com/chazu/hdmvplay/playlist"
	"github.com/chazu/hdmvplay/state"
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.session")

var (
	// ErrNoDisc is returned by disc controls while no disc is open.
	ErrNoDisc = errors.New("no disc open")
	// ErrClosed is returned after the session was closed.
	ErrClosed = errors.New("session closed")
	// ErrMenuCallMasked is returned when the running title forbids menu calls.
	ErrMenuCallMasked = errors.New("menu call not allowed by title")
)

// Bookmarks persists resume points per disc.
type Bookmarks interface {
	SaveBookmark(ctx context.Context, discID, discName string, r hdmv.ResumeInfo) error
	LoadBookmark(ctx context.Context, discID string) (hdmv.ResumeInfo, error)
}

// Options configure a session.
type Options struct {
	Config    hdmv.Config
	Display   hdmv.Display
	Bookmarks Bookmarks  // nil disables bookmarks
	Rand      *rand.Rand // nil for a time-seeded source
	Sleep     hdmv.Sleeper
}

// Key is a remote control key.
type Key string

const (
	KeyUp    Key = "up"
	KeyDown  Key = "down"
	KeyLeft  Key = "left"
	KeyRight Key = "right"
	KeyEnter Key = "enter"
)

// ParseKey maps a key name to a Key.
func ParseKey(s string) (Key, error) {
	switch k := Key(s); k {
	case KeyUp, KeyDown, KeyLeft, KeyRight, KeyEnter:
		return k, nil
	}
	return "", fmt.Errorf("unknown key %q", s)
}

// Status is a consistent view of the session for display.
type Status struct {
	ID       string           `json:"id"`
	DiscID   string           `json:"discId,omitempty"`
	DiscName string           `json:"discName,omitempty"`
	State    state.Snapshot   `json:"state"`
	Menu     *MenuStatus      `json:"menu,omitempty"`
	Resume   *hdmv.ResumeInfo `json:"resume,omitempty"`
	Still    bool             `json:"still,omitempty"`
}

// MenuStatus describes the open menu.
type MenuStatus struct {
	Playlist  uint32         `json:"playlist"`
	Page      int            `json:"page"`
	Selected  uint16         `json:"selected"`
	Activated bool           `json:"activated"`
	Buttons   []menu.Visible `json:"buttons"`
}

// Session is one player instance driving one engine.
type Session struct {
	id     string
	eng    engine.Engine
	opts   Options
	store  *state.Store
	bus    *bus.Bus
	worker *worker
	ctx    context.Context
	cancel context.CancelFunc
	pumped chan struct{}

	// owned by the control goroutine
	disc     *disc.Disc
	menu     *menu.Machine
	resolver *playlist.Resolver
	driver   *hdmv.Driver
}

// New starts a session on eng. Engine events are applied from now on,
// whether or not a disc is open.
func New(eng engine.Engine, opts Options) *Session {
	if opts.Config.StepLimit == 0 {
		opts.Config = hdmv.DefaultConfig()
	}
	ctx, cancel := context.WithCancel(context.Background())
	st := state.New()
	s := &Session{
		id:     uuid.NewString(),
		eng:    eng,
		opts:   opts,
		store:  st,
		bus:    bus.New(st, eng, nil),
		worker: newWorker(),
		ctx:    ctx,
		cancel: cancel,
		pumped: make(chan struct{}),
		menu:   menu.New(nil),
	}
	go s.pump()
	log.Infof("session %s started", s.id)
	return s
}

// ID returns the session id.
func (s *Session) ID() string { return s.id }

// State returns the observable player state.
func (s *Session) State() *state.Store { return s.store }

// pump feeds engine events to the bus on the control goroutine.
func (s *Session) pump() {
	defer close(s.pumped)
	events := s.eng.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				log.Infof("engine event stream closed")
				return
			}
			err := s.worker.Do(func() error { return s.bus.Handle(s.ctx, ev) })
			if err != nil && !errors.Is(err, ErrClosed) {
				log.Errorf("engine event %s: %s", ev.Type, err)
			}
		}
	}
}

// Close saves the bookmark of the open disc and stops the session. The
// engine is not closed.
func (s *Session) Close() error {
	err := s.worker.Do(func() error { return s.closeDisc(s.ctx) })
	if errors.Is(err, ErrClosed) {
		return nil
	}
	s.cancel()
	s.worker.Stop()
	<-s.pumped
	log.Infof("session %s closed", s.id)
	return err
}

// ---------------------------------------------------------------------------
// Disc lifecycle
// ---------------------------------------------------------------------------

// OpenDisc opens the disc at path and starts navigation.
func (s *Session) OpenDisc(ctx context.Context, path string) error {
	info, err := s.eng.OpenDiscImage(path)
	if err != nil {
		return fmt.Errorf("open disc %s: %w", path, err)
	}
	return s.worker.Do(func() error {
		if err := s.closeDisc(ctx); err != nil {
			log.Warningf("close previous disc: %s", err)
		}
		s.attach(disc.New(info))
		log.Infof("opened disc %q (%s)", s.disc.Name(), s.disc.ID())
		return s.driver.Start(ctx)
	})
}

// attach builds the interpreter for d. Runs on the control goroutine.
func (s *Session) attach(d *disc.Disc) {
	s.disc = d
	s.menu.SetDisc(d)
	s.resolver = playlist.NewResolver(d, s.store, s.eng)
	regs := hdmv.NewRegisters(s.store, s.menu, s.eng, s.opts.Display)
	exec := hdmv.NewExecutor(hdmv.Deps{
		Disc:      d,
		Store:     s.store,
		Menu:      s.menu,
		Registers: regs,
		Player:    s.resolver,
		Engine:    s.eng,
		Rand:      s.opts.Rand,
		Sleep:     s.opts.Sleep,
	}, s.opts.Config)
	s.driver = hdmv.NewDriver(exec, s.opts.Config)
	s.store.ResetDisc()
	s.store.SetDisc(true)
	s.bus.SetDriver(s.driver)
}

// CloseDisc saves the bookmark, stops playback and forgets the disc.
func (s *Session) CloseDisc(ctx context.Context) error {
	return s.worker.Do(func() error { return s.closeDisc(ctx) })
}

func (s *Session) closeDisc(ctx context.Context) error {
	if s.disc == nil {
		return nil
	}
	var err error
	if s.opts.Bookmarks != nil {
		pos := s.store.Position()
		if pos.PlaylistID >= 0 && pos.Title != state.FirstPlayTitle {
			r := hdmv.CaptureResume(s.store, pos.PC)
			err = s.opts.Bookmarks.SaveBookmark(ctx, s.disc.ID(), s.disc.Name(), r)
		}
	}
	s.store.Disarm()
	if serr := s.eng.Stop(); serr != nil {
		log.Warningf("stop engine: %s", serr)
	}
	log.Infof("closed disc %q", s.disc.Name())
	s.bus.SetDriver(nil)
	s.menu.SetDisc(nil)
	s.store.ResetDisc()
	s.disc, s.resolver, s.driver = nil, nil, nil
	return err
}

// ---------------------------------------------------------------------------
// Controls
// ---------------------------------------------------------------------------

// Press handles a remote key in the open menu.
func (s *Session) Press(ctx context.Context, k Key) error {
	return s.withDisc(func() error {
		switch k {
		case KeyEnter:
			return s.driver.Activate(ctx)
		case KeyUp:
			return s.driver.Move(ctx, menu.Up)
		case KeyDown:
			return s.driver.Move(ctx, menu.Down)
		case KeyLeft:
			return s.driver.Move(ctx, menu.Left)
		case KeyRight:
			return s.driver.Move(ctx, menu.Right)
		}
		return fmt.Errorf("unknown key %q", k)
	})
}

// TopMenu jumps to the top menu title. If the running object wants to be
// resumed its position is saved first.
func (s *Session) TopMenu(ctx context.Context) error {
	return s.withDisc(func() error {
		pos := s.store.Position()
		var allowed, resume bool
		err := s.disc.WithObject(pos.Object, func(o *disc.Object) error {
			allowed, resume = o.MenuCallAllowed(), o.ResumeIntentionFlag
			return nil
		})
		if err != nil {
			return err
		}
		if !allowed {
			return ErrMenuCallMasked
		}
		if resume {
			s.driver.Executor().SetResume(hdmv.CaptureResume(s.store, pos.PC))
		}
		return s.driver.JumpTitle(ctx, 0)
	})
}

// Popup toggles page 0 of the current playlist's menu.
func (s *Session) Popup(ctx context.Context) error {
	return s.withDisc(func() error {
		if s.menu.IsOpen() {
			s.menu.Reset()
			return nil
		}
		pos := s.store.Position()
		if pos.PlaylistID < 0 {
			return fmt.Errorf("popup: %w", playlist.ErrNoPlaylist)
		}
		return s.menu.Open(uint32(pos.PlaylistID), 0)
	})
}

// SelectChapter jumps to chapter i (0-based). With a disc playlist this
// plays the playlist from the chapter's mark; otherwise it seeks the engine.
func (s *Session) SelectChapter(ctx context.Context, i int) error {
	return s.worker.Do(func() error {
		if s.disc != nil && s.store.DiscPlaylistActive() {
			pl := uint32(s.store.Position().PlaylistID)
			mark, err := s.resolver.ChapterMark(pl, i)
			if err != nil {
				return err
			}
			return s.driver.Inject(ctx, hdmv.Decode(hdmv.MustEncode(hdmv.OpPlayPLPM, pl, uint32(mark), true, true)))
		}
		chapters := s.store.Chapters()
		if i < 0 || i >= len(chapters) {
			return fmt.Errorf("chapter %d of %d: %w", i, len(chapters), disc.ErrNotFound)
		}
		return s.seek(chapters[i].Time)
	})
}

// Seek moves playback of the current file to seconds.
func (s *Session) Seek(seconds float64) error {
	return s.worker.Do(func() error { return s.seek(seconds) })
}

func (s *Session) seek(seconds float64) error {
	s.store.SetSeeking(true)
	if err := s.eng.SetPlaybackTime(seconds); err != nil {
		s.store.SetSeeking(false)
		return err
	}
	return nil
}

// TogglePlay pauses or resumes playback.
func (s *Session) TogglePlay() error {
	return s.worker.Do(s.eng.TogglePlay)
}

// SelectAudio selects an audio track.
func (s *Session) SelectAudio(id int) error {
	return s.worker.Do(func() error { return s.store.SelectAudio(id, s.eng) })
}

// SelectSubtitle selects a subtitle track; 0 turns subtitles off.
func (s *Session) SelectSubtitle(id int) error {
	return s.worker.Do(func() error { return s.store.SelectSubtitle(id, id != 0, s.eng) })
}

// ResumeBookmark continues the open disc from its saved bookmark.
func (s *Session) ResumeBookmark(ctx context.Context) error {
	if s.opts.Bookmarks == nil {
		return errors.New("bookmarks disabled")
	}
	return s.withDisc(func() error {
		r, err := s.opts.Bookmarks.LoadBookmark(ctx, s.disc.ID())
		if err != nil {
			return err
		}
		s.driver.Executor().SetResume(r)
		return s.driver.Resume(ctx)
	})
}

// Status returns a consistent view of the session.
func (s *Session) Status() (Status, error) {
	var st Status
	err := s.worker.Do(func() error {
		st = Status{ID: s.id, State: s.store.Snapshot()}
		if s.disc == nil {
			return nil
		}
		st.DiscID, st.DiscName = s.disc.ID(), s.disc.Name()
		st.Still = s.driver.Executor().Still()
		if r, ok := s.driver.Executor().Resume(); ok {
			st.Resume = &r
		}
		snap := s.menu.Snapshot()
		if snap.Page < 0 {
			return nil
		}
		buttons, err := s.menu.Visible()
		if err != nil {
			return err
		}
		st.Menu = &MenuStatus{
			Playlist:  snap.Playlist,
			Page:      snap.Page,
			Selected:  snap.Selected,
			Activated: snap.Activated,
			Buttons:   buttons,
		}
		return nil
	})
	return st, err
}

// Do runs fn on the control goroutine with the open disc's driver.
func (s *Session) Do(fn func(d *hdmv.Driver) error) error {
	return s.withDisc(func() error { return fn(s.driver) })
}

func (s *Session) withDisc(fn func() error) error {
	return s.worker.Do(func() error {
		if s.disc == nil {
			return ErrNoDisc
		}
		return fn()
	})
}
