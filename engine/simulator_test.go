package engine

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

// next reads one event or fails after a second.
func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("event channel closed")
		}
		return ev
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for an engine event")
	}
	return Event{}
}

// describe renders an event as "type" or "name=value".
func describe(ev Event) string {
	if ev.Type == EventPropertyChange {
		return fmt.Sprintf("%s=%v", ev.Name, ev.Value)
	}
	return string(ev.Type)
}

func expect(t *testing.T, ch <-chan Event, want ...string) {
	t.Helper()
	for _, w := range want {
		if got := describe(next(t, ch)); got != w {
			t.Fatalf("event = %s, want %s", got, w)
		}
	}
}

func TestSimulatorPlaylist(t *testing.T) {
	sim := NewSimulator()
	defer sim.Close()
	ev := sim.Events()

	first := next(t, ev)
	if first.Type != EventIdle || first.ShaderCount != 4 {
		t.Fatalf("first event = %+v, want idle with 4 shaders", first)
	}

	if err := sim.LoadFile("/d/00001.m2ts", "start=5,aid=2"); err != nil {
		t.Fatal(err)
	}
	expect(t, ev, "file-start", "track-list", "playlist-current-pos=0", "pause=false", "playback-time=5", "aid=2")

	if err := sim.LoadFiles([]string{"/d/00002.m2ts"}); err != nil {
		t.Fatal(err)
	}
	sim.Advance(10)
	expect(t, ev, "playback-time=15")

	sim.Finish()
	expect(t, ev, "file-end", "file-start", "track-list", "playlist-current-pos=1", "pause=false", "playback-time=0")

	sim.Finish()
	expect(t, ev, "file-end", "playlist-current-pos=-1", "idle")

	if st := sim.State(); st.Pos != -1 || len(st.List) != 0 {
		t.Errorf("state after end = %+v", st)
	}
}

func TestSimulatorTracksAndSeek(t *testing.T) {
	sim := NewSimulator()
	defer sim.Close()
	ev := sim.Events()
	next(t, ev)

	sim.SetSubtitleTrack(0)
	sim.SetSubtitleTrack(3)
	sim.SetAudioTrack(2)
	sim.SetPlaybackTime(42)
	sim.TogglePlay()
	expect(t, ev, "sid=no", "sid=3", "aid=2", "seeking=true", "playback-time=42", "seeking=false", "pause=true")

	if !sim.State().Paused {
		t.Error("TogglePlay did not pause")
	}
}

func TestSimulatorClose(t *testing.T) {
	sim := NewSimulator()
	ev := sim.Events()
	if err := sim.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sim.LoadFile("/x", ""); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadFile after Close = %v, want ErrClosed", err)
	}
	if _, err := sim.OpenDiscImage(t.TempDir()); !errors.Is(err, ErrClosed) {
		t.Errorf("OpenDiscImage after Close = %v, want ErrClosed", err)
	}

	// Queued events drain before the channel closes.
	timeout := time.After(time.Second)
	for {
		select {
		case _, ok := <-ev:
			if !ok {
				return
			}
		case <-timeout:
			t.Fatal("event channel not closed")
		}
	}
}

func TestParseOptions(t *testing.T) {
	got := parseOptions("start=12.5, aid=auto,,bogus,=x")
	if len(got) != 2 || got["start"] != "12.5" || got["aid"] != "auto" {
		t.Errorf("parseOptions = %v", got)
	}
}

func TestApply(t *testing.T) {
	sim := NewSimulator()
	defer sim.Close()
	if err := Apply(sim, Command{Op: OpLoadFile, Path: "/a", Options: "start=0"}); err != nil {
		t.Fatal(err)
	}
	if err := Apply(sim, Command{Op: OpLoadFiles, Paths: []string{"/b", "/c"}}); err != nil {
		t.Fatal(err)
	}
	if st := sim.State(); len(st.List) != 3 || st.List[2] != "/c" {
		t.Errorf("list = %v", st.List)
	}
	if err := Apply(sim, Command{Op: "warp"}); err == nil {
		t.Error("expected error for unknown command")
	}
}
