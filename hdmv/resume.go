package hdmv

import "github.com/chazu/hdmvplay/state"

// ResumeInfo is the title position saved by a call so that RESUME can
// return to it.
type ResumeInfo struct {
	Title      int     `json:"title" cbor:"title"`
	Object     uint32  `json:"object" cbor:"object"`
	PC         int     `json:"pc" cbor:"pc"`
	PlaylistID int     `json:"playlistId" cbor:"playlistId"`
	PlayItem   int     `json:"playItem" cbor:"playItem"`
	Time       float64 `json:"resumeTime" cbor:"resumeTime"` // seconds into the play item
}

// CaptureResume snapshots the title position. pc is the instruction the
// title program continues at.
func CaptureResume(st *state.Store, pc int) ResumeInfo {
	pos := st.Position()
	return ResumeInfo{
		Title:      pos.Title,
		Object:     pos.Object,
		PC:         pc,
		PlaylistID: pos.PlaylistID,
		PlayItem:   pos.PlayItem,
		Time:       pos.Elapsed,
	}
}
