package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/disc/disctest"
	"github.com/chazu/hdmvplay/engine"
	"github.com/chazu/hdmvplay/engine/enginetest"
	"github.com/chazu/hdmvplay/hdmv"
)

func cmd(op hdmv.Op, dst, src uint32) disc.Command { return hdmv.MustEncode(op, dst, src, true, true) }

func noSleep(context.Context, time.Duration) error { return nil }

// memBookmarks keeps bookmarks in memory.
type memBookmarks struct {
	mu    sync.Mutex
	saved map[string]hdmv.ResumeInfo
}

var errNoBookmark = errors.New("no bookmark")

func (m *memBookmarks) SaveBookmark(_ context.Context, discID, _ string, r hdmv.ResumeInfo) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saved == nil {
		m.saved = make(map[string]hdmv.ResumeInfo)
	}
	m.saved[discID] = r
	return nil
}

func (m *memBookmarks) LoadBookmark(_ context.Context, discID string) (hdmv.ResumeInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.saved[discID]
	if !ok {
		return hdmv.ResumeInfo{}, errNoBookmark
	}
	return r, nil
}

func newSession(t *testing.T, b *disctest.Builder, opts Options) (*Session, *enginetest.Recorder) {
	t.Helper()
	rec := enginetest.New()
	if b != nil {
		rec.Disc = b.Info()
	}
	opts.Sleep = noSleep
	s := New(rec, opts)
	t.Cleanup(func() { s.Close() })
	return s, rec
}

func openDisc(t *testing.T, s *Session) {
	t.Helper()
	if err := s.OpenDisc(context.Background(), "/discs/test"); err != nil {
		t.Fatalf("OpenDisc: %v", err)
	}
}

// eventually polls cond until it holds or two seconds pass.
func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func lastLoad(rec *enginetest.Recorder) enginetest.Call {
	loads := rec.Find("LoadFile")
	if len(loads) == 0 {
		return enginetest.Call{}
	}
	return loads[len(loads)-1]
}

// menuPlaylist gives playlist id a one-page menu with buttons 10 and 11
// in a column. Button 10 runs prog.
func menuPlaylist(b *disctest.Builder, id uint32, popUp bool, prog ...disc.Command) {
	pl := b.Playlist(id, 60)
	pl.Menu = &disc.Menu{PopUp: popUp, Pages: []disc.Page{
		disctest.Page(0, disctest.Column(disctest.Button(10, prog...), disctest.Button(11))...),
	}}
}

// ---------------------------------------------------------------------------
// Disc lifecycle
// ---------------------------------------------------------------------------

func TestOpenDiscStartsNavigation(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 3, 0)))
	b.Playlist(3, 90)
	s, rec := newSession(t, b, Options{})
	openDisc(t, s)

	if got := lastLoad(rec); got.String() != "LoadFile(/discs/test/BDMV/STREAM/00300.m2ts, start=0,aid=auto)" {
		t.Errorf("load = %s", got)
	}
	st, err := s.Status()
	if err != nil {
		t.Fatal(err)
	}
	if st.DiscName != "MOVIE" || st.DiscID == "" || st.ID != s.ID() {
		t.Errorf("status = %+v", st)
	}
	if !st.State.Disc || st.State.PlaylistID != 3 {
		t.Errorf("state = %+v", st.State)
	}
}

func TestOpenDiscMissing(t *testing.T) {
	s, _ := newSession(t, nil, Options{})
	if err := s.OpenDisc(context.Background(), "/nowhere"); !errors.Is(err, disc.ErrNotFound) {
		t.Errorf("OpenDisc error = %v, want ErrNotFound", err)
	}
}

func TestControlsWithoutDisc(t *testing.T) {
	s, _ := newSession(t, nil, Options{})
	ctx := context.Background()
	if err := s.Press(ctx, KeyEnter); !errors.Is(err, ErrNoDisc) {
		t.Errorf("Press error = %v, want ErrNoDisc", err)
	}
	if err := s.TopMenu(ctx); !errors.Is(err, ErrNoDisc) {
		t.Errorf("TopMenu error = %v, want ErrNoDisc", err)
	}
	if err := s.Popup(ctx); !errors.Is(err, ErrNoDisc) {
		t.Errorf("Popup error = %v, want ErrNoDisc", err)
	}
	if err := s.Do(func(*hdmv.Driver) error { return nil }); !errors.Is(err, ErrNoDisc) {
		t.Errorf("Do error = %v, want ErrNoDisc", err)
	}
}

func TestPlaylistEndContinuesProgram(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(
		cmd(hdmv.OpPlayPL, 3, 0),
		cmd(hdmv.OpNOP, 0, 0),
		cmd(hdmv.OpPlayPL, 4, 0),
	))
	b.Playlist(3, 90)
	b.Playlist(4, 90)
	s, rec := newSession(t, b, Options{})
	openDisc(t, s)

	rec.Emit(engine.Property("playlist-current-pos", int64(0)))
	rec.Emit(engine.Property("playlist-current-pos", int64(-1)))

	eventually(t, "playlist 4", func() bool {
		return len(rec.Find("LoadFile")) == 2
	})
	if got := lastLoad(rec).Args[0]; got != disc.ClipPath("/discs/test", "00400") {
		t.Errorf("second load = %v", got)
	}
}

func TestCloseDiscStopsEngine(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 3, 0)))
	b.Playlist(3, 90)
	s, rec := newSession(t, b, Options{})
	openDisc(t, s)

	if err := s.CloseDisc(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(rec.Find("Stop")) != 1 {
		t.Errorf("calls = %v, want Stop", rec.Methods())
	}
	st, _ := s.Status()
	if st.DiscName != "" || st.State.Disc || st.State.PlaylistID != -1 {
		t.Errorf("status after close = %+v", st)
	}
}

func TestClose(t *testing.T) {
	s, _ := newSession(t, nil, Options{})
	if err := s.Close(); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
	if err := s.Press(context.Background(), KeyUp); !errors.Is(err, ErrClosed) {
		t.Errorf("Press after Close = %v, want ErrClosed", err)
	}
}

// ---------------------------------------------------------------------------
// Menus
// ---------------------------------------------------------------------------

func TestPressNavigatesMenu(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 5, 0)))
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 3, 0)))
	menuPlaylist(b, 5, false, cmd(hdmv.OpJumpTitle, 1, 0))
	b.Playlist(3, 90)
	s, rec := newSession(t, b, Options{})
	openDisc(t, s)
	ctx := context.Background()

	st, _ := s.Status()
	if st.Menu == nil || st.Menu.Selected != 10 || len(st.Menu.Buttons) != 2 {
		t.Fatalf("menu = %+v, want page 0 with button 10 selected", st.Menu)
	}

	if err := s.Press(ctx, KeyDown); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.Status(); st.Menu.Selected != 11 {
		t.Errorf("selected = %d, want 11", st.Menu.Selected)
	}
	s.Press(ctx, KeyUp)

	if err := s.Press(ctx, KeyEnter); err != nil {
		t.Fatal(err)
	}
	st, _ = s.Status()
	if st.State.Title != 1 || st.Menu != nil {
		t.Errorf("after enter: title %d menu %+v", st.State.Title, st.Menu)
	}
	if got := lastLoad(rec).Args[0]; got != disc.ClipPath("/discs/test", "00300") {
		t.Errorf("load = %v", got)
	}
}

func TestPressClosedMenu(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 3, 0)))
	b.Playlist(3, 90)
	s, _ := newSession(t, b, Options{})
	openDisc(t, s)
	if err := s.Press(context.Background(), KeyEnter); err == nil {
		t.Error("expected error pressing enter without a menu")
	}
}

func TestPopup(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 5, 0)))
	menuPlaylist(b, 5, true)
	s, _ := newSession(t, b, Options{})
	openDisc(t, s)
	ctx := context.Background()

	if st, _ := s.Status(); st.Menu != nil {
		t.Fatalf("pop-up menu opened by itself: %+v", st.Menu)
	}
	if err := s.Popup(ctx); err != nil {
		t.Fatal(err)
	}
	if st, _ := s.Status(); st.Menu == nil || st.Menu.Playlist != 5 {
		t.Errorf("menu = %+v, want playlist 5", st.Menu)
	}
	s.Popup(ctx)
	if st, _ := s.Status(); st.Menu != nil {
		t.Error("second Popup did not close the menu")
	}
}

func TestTopMenuMasked(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpJumpTitle, 1, 0)))
	b.Title(b.ObjectWith(disc.Object{MenuCallMask: true, Commands: []disc.Command{cmd(hdmv.OpPlayPL, 3, 0)}}))
	b.Playlist(3, 90)
	s, _ := newSession(t, b, Options{})
	openDisc(t, s)

	if err := s.TopMenu(context.Background()); !errors.Is(err, ErrMenuCallMasked) {
		t.Errorf("TopMenu error = %v, want ErrMenuCallMasked", err)
	}
}

func TestTopMenuAndResume(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.FirstPlay(b.Object(cmd(hdmv.OpJumpTitle, 1, 0)))
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 5, 0)))
	b.Title(b.ObjectWith(disc.Object{ResumeIntentionFlag: true, Commands: []disc.Command{cmd(hdmv.OpPlayPL, 3, 0)}}))
	menuPlaylist(b, 5, false, cmd(hdmv.OpResume, 0, 0))
	b.Playlist(3, 90)
	s, rec := newSession(t, b, Options{})
	openDisc(t, s)
	ctx := context.Background()

	rec.Emit(engine.Property("playback-time", 12.0))
	eventually(t, "elapsed 12", func() bool { return s.State().Snapshot().Elapsed == 12 })

	if err := s.TopMenu(ctx); err != nil {
		t.Fatal(err)
	}
	st, _ := s.Status()
	if st.State.Title != 0 || st.Menu == nil {
		t.Fatalf("after top menu: title %d menu %+v", st.State.Title, st.Menu)
	}
	if st.Resume == nil || st.Resume.Title != 1 || st.Resume.PlaylistID != 3 || st.Resume.Time != 12 {
		t.Fatalf("resume = %+v", st.Resume)
	}

	if err := s.Press(ctx, KeyEnter); err != nil {
		t.Fatal(err)
	}
	if got := lastLoad(rec); got.Args[0] != disc.ClipPath("/discs/test", "00300") || got.Args[1] != "start=12,aid=auto" {
		t.Errorf("load = %s, want clip 00300 at 12s", got)
	}
	if st, _ := s.Status(); st.State.Title != 1 || st.Resume != nil {
		t.Errorf("after resume: title %d resume %+v", st.State.Title, st.Resume)
	}
}

// ---------------------------------------------------------------------------
// Chapters, seeking, tracks
// ---------------------------------------------------------------------------

func TestSelectChapterOnDisc(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 3, 0)))
	pl := b.Playlist(3, 90)
	pl.Marks = []disc.Mark{disctest.Mark(0, 0), disctest.Mark(0, 30), disctest.Mark(0, 60)}
	s, rec := newSession(t, b, Options{})
	openDisc(t, s)

	if err := s.SelectChapter(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	if got := lastLoad(rec).Args[1]; got != "start=30,aid=auto" {
		t.Errorf("options = %v, want start=30", got)
	}
	st, _ := s.Status()
	if st.State.PC != 1 || st.State.Chapter != 1 {
		t.Errorf("pc %d chapter %d, want 1 1", st.State.PC, st.State.Chapter)
	}
	if err := s.SelectChapter(context.Background(), 7); !errors.Is(err, disc.ErrNotFound) {
		t.Errorf("chapter 7 error = %v, want ErrNotFound", err)
	}
}

func TestSelectChapterSeeks(t *testing.T) {
	s, rec := newSession(t, nil, Options{})
	rec.Emit(engine.Event{Type: engine.EventChapterList, Chapters: []engine.ChapterInfo{
		{Title: "Opening", Time: 0},
		{Title: "Middle", Time: 5.5},
	}})
	eventually(t, "chapters", func() bool { return len(s.State().Chapters()) == 2 })

	if err := s.SelectChapter(context.Background(), 1); err != nil {
		t.Fatal(err)
	}
	seeks := rec.Find("SetPlaybackTime")
	if len(seeks) != 1 || seeks[0].Args[0] != 5.5 {
		t.Errorf("seeks = %v, want [5.5]", seeks)
	}
	if !s.State().Seeking() {
		t.Error("seek not marked in flight")
	}
	if err := s.SelectChapter(context.Background(), 2); !errors.Is(err, disc.ErrNotFound) {
		t.Errorf("chapter 2 error = %v, want ErrNotFound", err)
	}
}

func TestSelectTracksDeferred(t *testing.T) {
	s, rec := newSession(t, nil, Options{})
	if err := s.SelectAudio(2); err != nil {
		t.Fatal(err)
	}
	if err := s.SelectSubtitle(0); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.Calls()); n != 0 {
		t.Fatalf("forwarded before tracks: %v", rec.Calls())
	}
	rec.Emit(engine.Event{Type: engine.EventTrackList, Tracks: engine.DefaultTracks})
	eventually(t, "track selection", func() bool {
		return len(rec.Find("SetAudioTrack")) == 1 && len(rec.Find("SetSubtitleTrack")) == 1
	})
	if got := rec.Find("SetSubtitleTrack")[0].Args[0]; got != 0 {
		t.Errorf("subtitle = %v, want off", got)
	}
}

func TestTogglePlay(t *testing.T) {
	s, rec := newSession(t, nil, Options{})
	if err := s.TogglePlay(); err != nil {
		t.Fatal(err)
	}
	if len(rec.Find("TogglePlay")) != 1 {
		t.Errorf("calls = %v", rec.Methods())
	}
}

// ---------------------------------------------------------------------------
// Bookmarks
// ---------------------------------------------------------------------------

func TestBookmarkSavedAndResumed(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object(cmd(hdmv.OpPlayPL, 3, 0)))
	b.Playlist(3, 90)
	marks := &memBookmarks{}
	s, rec := newSession(t, b, Options{Bookmarks: marks})
	openDisc(t, s)
	ctx := context.Background()

	rec.Emit(engine.Property("playback-time", 20.0))
	eventually(t, "elapsed 20", func() bool { return s.State().Snapshot().Elapsed == 20 })

	if err := s.CloseDisc(ctx); err != nil {
		t.Fatal(err)
	}
	if len(marks.saved) != 1 {
		t.Fatalf("saved = %v, want one bookmark", marks.saved)
	}
	for _, r := range marks.saved {
		if r.PlaylistID != 3 || r.Time != 20 || r.PC != 1 {
			t.Errorf("bookmark = %+v", r)
		}
	}

	openDisc(t, s)
	if err := s.ResumeBookmark(ctx); err != nil {
		t.Fatal(err)
	}
	if got := lastLoad(rec).Args[1]; got != "start=20,aid=auto" {
		t.Errorf("options = %v, want start=20", got)
	}
}

func TestResumeBookmarkMissing(t *testing.T) {
	b := disctest.New("MOVIE", "/discs/test")
	b.Title(b.Object())
	s, _ := newSession(t, b, Options{Bookmarks: &memBookmarks{}})
	openDisc(t, s)
	if err := s.ResumeBookmark(context.Background()); !errors.Is(err, errNoBookmark) {
		t.Errorf("error = %v, want errNoBookmark", err)
	}
}

func TestParseKey(t *testing.T) {
	for _, name := range []string{"up", "down", "left", "right", "enter"} {
		if k, err := ParseKey(name); err != nil || string(k) != name {
			t.Errorf("ParseKey(%q) = %q, %v", name, k, err)
		}
	}
	if _, err := ParseKey("select"); err == nil {
		t.Error("expected error for unknown key")
	}
}
