// Package bus applies engine events to the player state and resumes the
// title program when the engine runs out of clips.
//
// Events are handled strictly in arrival order. Malformed payloads are
// logged and dropped; only navigation errors from a resumed program are
// returned to the caller.
package bus

import (
	"context"

	"github.com/chazu/hdmvplay/engine"
	"github.com/chazu/hdmvplay/playlist"
	"github.com/chazu/hdmvplay/state"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.bus")

// Continuer resumes the suspended title program.
type Continuer interface {
	Continue(ctx context.Context) error
}

// Bus routes engine events.
type Bus struct {
	store  *state.Store
	tracks state.TrackSetter
	driver Continuer
}

// New returns a bus updating st. tracks receives deferred track selections;
// driver, if not nil, is resumed at the end of a disc playlist.
func New(st *state.Store, tracks state.TrackSetter, driver Continuer) *Bus {
	return &Bus{store: st, tracks: tracks, driver: driver}
}

// SetDriver replaces the program driver, nil to detach it.
func (b *Bus) SetDriver(d Continuer) { b.driver = d }

// Handle applies one event.
func (b *Bus) Handle(ctx context.Context, ev engine.Event) error {
	if err := ev.Validate(); err != nil {
		log.Warningf("dropping event: %s", err)
		return nil
	}
	switch ev.Type {
	case engine.EventIdle:
		b.store.SetReady(true)
		b.store.SetShaderCount(ev.ShaderCount)
	case engine.EventFileStart:
		b.store.SetFileEnd(false)
	case engine.EventFileEnd:
		b.store.SetFileEnd(true)
	case engine.EventTrackList:
		b.trackList(ev.Tracks)
	case engine.EventChapterList:
		if b.store.DiscPlaylistActive() {
			log.Debugf("ignoring engine chapters during disc playlist")
			return nil
		}
		chapters := make([]state.Chapter, len(ev.Chapters))
		for i, c := range ev.Chapters {
			chapters[i] = state.Chapter{Title: c.Title, Time: c.Time}
		}
		b.store.SetChapters(chapters)
	case engine.EventPropertyChange:
		return b.property(ctx, ev)
	}
	return nil
}

func (b *Bus) trackList(tracks []engine.TrackInfo) {
	all := make([]state.Track, len(tracks))
	for i, t := range tracks {
		all[i] = state.Track{
			ID:       int64(t.ID),
			Type:     t.Type,
			SrcID:    int64(t.SrcID),
			Lang:     t.Lang,
			Title:    t.Title,
			Codec:    t.Codec,
			Selected: t.Selected,
		}
	}
	if err := b.store.SetTracks(all, b.tracks); err != nil {
		log.Warningf("apply pending track selection: %s", err)
	}
}

func (b *Bus) property(ctx context.Context, ev engine.Event) error {
	bad := func() error {
		log.Warningf("dropping %s with unusable value %v (%T)", ev.Name, ev.Value, ev.Value)
		return nil
	}

	switch ev.Name {
	case "pause":
		v, ok := ev.Bool()
		if !ok {
			return bad()
		}
		b.store.SetPlaying(!v)

	case "seeking":
		v, ok := ev.Bool()
		if !ok {
			return bad()
		}
		b.store.SetSeeking(v)

	case "playback-time":
		v, ok := ev.Float()
		if !ok {
			return bad()
		}
		if b.store.Seeking() {
			return nil
		}
		b.store.SetElapsed(v)
		b.updateChapter(v)

	case "duration":
		v, ok := ev.Float()
		if !ok {
			return bad()
		}
		b.store.SetDuration(v)

	case "playlist-current-pos":
		v, ok := ev.Int()
		if !ok {
			return bad()
		}
		return b.listPosition(ctx, int(v))

	case "vid", "aid", "sid":
		v, ok := ev.Int()
		if !ok {
			if ev.Value != nil {
				return bad()
			}
			v = 0
		}
		switch ev.Name {
		case "vid":
			b.store.SetVideo(int(v))
		case "aid":
			b.store.SetAudio(int(v))
		default:
			b.store.SetSubtitle(int(v))
		}

	case "chapter":
		v, ok := ev.Int()
		if !ok {
			return bad()
		}
		if !b.store.DiscPlaylistActive() && v >= 0 {
			b.store.SetChapter(int(v))
		}

	case "metadata/by-key/title":
		v, _ := ev.Text()
		b.store.SetMediaTitle(v)

	default:
		log.Debugf("unhandled property %s", ev.Name)
	}
	return nil
}

// listPosition tracks the engine's position in the loaded clip list. A
// non-negative position arms playback; the end-of-list sentinel -1 while
// armed resumes the title program.
func (b *Bus) listPosition(ctx context.Context, pos int) error {
	if pos >= 0 {
		b.store.Arm()
		if b.store.DiscPlaylistActive() {
			item := b.store.LoadBase() + pos
			b.store.SetPlayItem(item)
			b.updateChapter(b.store.LoadStart(item))
		}
		return nil
	}
	if !b.store.Disarm() {
		return nil
	}
	if !b.store.DiscPlaylistActive() || b.driver == nil {
		return nil
	}
	log.Debugf("playlist ended, resuming title program")
	return b.driver.Continue(ctx)
}

// updateChapter recomputes the current chapter of a disc playlist from
// the position within the current play item.
func (b *Bus) updateChapter(elapsed float64) {
	if !b.store.DiscPlaylistActive() {
		return
	}
	pos := b.store.Position()
	t := b.store.ClipStart(pos.PlayItem) + elapsed
	b.store.SetChapter(playlist.ChapterAt(b.store.Chapters(), t))
}
