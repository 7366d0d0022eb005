// Package playlist turns disc playlists into engine load calls and derives
// chapters from play marks.
package playlist

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/state"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.playlist")

// ErrNoPlaylist is returned by link operations when no disc playlist is loaded.
var ErrNoPlaylist = errors.New("no playlist loaded")

// Loader is the part of the engine that loads media.
type Loader interface {
	LoadFile(path, options string) error
	LoadFiles(paths []string) error
}

// Resolver starts playback of disc playlists.
type Resolver struct {
	disc  *disc.Disc
	store *state.Store
	eng   Loader
}

// NewResolver returns a resolver loading clips of d into eng.
func NewResolver(d *disc.Disc, st *state.Store, eng Loader) *Resolver {
	return &Resolver{disc: d, store: st, eng: eng}
}

// PlayPlaylist plays playlist id from play item item.
func (r *Resolver) PlayPlaylist(id uint32, item int) error {
	return r.disc.WithPlaylist(id, func(pl *disc.Playlist) error {
		return r.load(pl, item, 0)
	})
}

// PlayPlaylistAtMark plays playlist id from play mark mark.
func (r *Resolver) PlayPlaylistAtMark(id uint32, mark int) error {
	return r.disc.WithPlaylist(id, func(pl *disc.Playlist) error {
		item, start, err := markPosition(pl, mark)
		if err != nil {
			return err
		}
		return r.load(pl, item, start)
	})
}

// PlayAt plays playlist id from play item item, seconds into the item.
func (r *Resolver) PlayAt(id uint32, item int, seconds float64) error {
	return r.disc.WithPlaylist(id, func(pl *disc.Playlist) error {
		return r.load(pl, item, seconds)
	})
}

// LinkItem restarts the current playlist at play item item.
func (r *Resolver) LinkItem(item int) error {
	id, err := r.current()
	if err != nil {
		return err
	}
	return r.PlayPlaylist(id, item)
}

// LinkMark restarts the current playlist at play mark mark.
func (r *Resolver) LinkMark(mark int) error {
	id, err := r.current()
	if err != nil {
		return err
	}
	return r.PlayPlaylistAtMark(id, mark)
}

func (r *Resolver) current() (uint32, error) {
	pos := r.store.Position()
	if pos.PlaylistID < 0 {
		return 0, ErrNoPlaylist
	}
	return uint32(pos.PlaylistID), nil
}

// load issues the engine calls for pl from item and records the new
// position. It runs inside the playlist borrow.
func (r *Resolver) load(pl *disc.Playlist, item int, start float64) error {
	if item < 0 || item >= len(pl.Clips) {
		return fmt.Errorf("playlist %05d play item %d: %w", pl.ID, item, disc.ErrNotFound)
	}
	paths := make([]string, 0, len(pl.Clips)-item)
	for _, c := range pl.Clips[item:] {
		paths = append(paths, disc.ClipPath(r.disc.Root(), c.ClipID))
	}
	starts := ClipStarts(pl)
	chapters := Chapters(pl)

	r.store.BeginLoad(item, start, starts)
	r.store.SetPlaylist(int(pl.ID))
	r.store.SetPlayItem(item)
	r.store.SetChapters(chapters)
	r.store.SetChapter(ChapterAt(chapters, starts[item]+start))

	aid := "auto"
	if a := r.store.Audio(); a > 0 {
		aid = strconv.Itoa(a)
	}
	opts := fmt.Sprintf("start=%g,aid=%s", start, aid)
	log.Infof("play playlist %05d item %d (%d clips) %s", pl.ID, item, len(paths), opts)

	if err := r.eng.LoadFile(paths[0], opts); err != nil {
		return fmt.Errorf("load %s: %w", paths[0], err)
	}
	if len(paths) > 1 {
		if err := r.eng.LoadFiles(paths[1:]); err != nil {
			return fmt.Errorf("queue %d clips: %w", len(paths)-1, err)
		}
	}
	return nil
}

// ChapterMark returns the index in the mark list of playlist id of the
// entry mark that starts chapter.
func (r *Resolver) ChapterMark(id uint32, chapter int) (int, error) {
	mark := -1
	err := r.disc.WithPlaylist(id, func(pl *disc.Playlist) error {
		n := 0
		for i, m := range pl.Marks {
			if !m.IsEntry() {
				continue
			}
			if n == chapter {
				mark = i
				return nil
			}
			n++
		}
		return fmt.Errorf("playlist %05d chapter %d: %w", id, chapter, disc.ErrNotFound)
	})
	return mark, err
}

// ---------------------------------------------------------------------------
// Chapter math
// ---------------------------------------------------------------------------

// ClipStarts returns the playlist-relative start of every clip in seconds.
func ClipStarts(pl *disc.Playlist) []float64 {
	starts := make([]float64, len(pl.Clips))
	var ticks uint64
	for i, c := range pl.Clips {
		starts[i] = float64(ticks) / disc.TicksPerSecond
		ticks += c.Duration()
	}
	return starts
}

// markPosition returns the play item and in-item start time of mark.
func markPosition(pl *disc.Playlist, mark int) (int, float64, error) {
	if mark < 0 || mark >= len(pl.Marks) {
		return 0, 0, fmt.Errorf("playlist %05d mark %d: %w", pl.ID, mark, disc.ErrNotFound)
	}
	m := pl.Marks[mark]
	if m.ClipRef < 0 || m.ClipRef >= len(pl.Clips) {
		return 0, 0, fmt.Errorf("playlist %05d mark %d clip %d: %w", pl.ID, mark, m.ClipRef, disc.ErrNotFound)
	}
	return m.ClipRef, float64(m.Offset) / disc.TicksPerSecond, nil
}

// Chapters derives the chapter list of pl from its entry marks. With two
// or more entry marks the last one marks the end of the playlist and is
// not a chapter.
func Chapters(pl *disc.Playlist) []state.Chapter {
	starts := ClipStarts(pl)
	var entries []disc.Mark
	for _, m := range pl.Marks {
		if m.IsEntry() && m.ClipRef >= 0 && m.ClipRef < len(pl.Clips) {
			entries = append(entries, m)
		}
	}
	if len(entries) >= 2 {
		entries = entries[:len(entries)-1]
	}
	chapters := make([]state.Chapter, len(entries))
	for i, m := range entries {
		chapters[i] = state.Chapter{
			Title: fmt.Sprintf("Chapter %d (Clip %d)", i+1, m.ClipRef+1),
			Time:  starts[m.ClipRef] + float64(m.Offset)/disc.TicksPerSecond,
		}
	}
	return chapters
}

// ChapterAt returns the index of the chapter containing t seconds.
func ChapterAt(chapters []state.Chapter, t float64) int {
	idx := 0
	for i, c := range chapters {
		if c.Time <= t {
			idx = i
		} else {
			break
		}
	}
	return idx
}
