// Package engine defines the call surface of the media engine and the
// events it pushes back.
//
// Engine calls are fire-and-forget: a nil error means the command was
// accepted, not that it completed. Completion is only observable through
// the events delivered on Events.
package engine

import (
	"errors"

	"github.com/chazu/hdmvplay/disc"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.engine")

// ErrClosed is returned by calls on an engine whose connection is gone.
var ErrClosed = errors.New("engine closed")

// Engine is the media engine as seen by the player core.
type Engine interface {
	// LoadFile replaces the current playlist with path. options is a
	// comma-separated key=value list such as "start=12.5,aid=2".
	LoadFile(path, options string) error
	// LoadFiles appends paths, in order, to the current playlist.
	LoadFiles(paths []string) error
	SetAudioTrack(id int) error
	// SetSubtitleTrack selects a subtitle track; 0 turns subtitles off.
	SetSubtitleTrack(id int) error
	SetVideoTrack(id int) error
	TogglePlay() error
	SetPlaybackTime(seconds float64) error
	Stop() error
	// OpenDiscImage parses the disc at path and returns its navigation data.
	OpenDiscImage(path string) (*disc.Info, error)

	// Events delivers engine events in arrival order. The channel is
	// closed when the engine shuts down.
	Events() <-chan Event
	Close() error
}
