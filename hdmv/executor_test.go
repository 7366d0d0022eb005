package hdmv

import (
	"context"
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/disc/disctest"
	"github.com/chazu/hdmvplay/engine/enginetest"
	"github.com/chazu/hdmvplay/menu"
	"github.com/chazu/hdmvplay/playlist"
	"github.com/chazu/hdmvplay/state"
)

// harness wires an executor and driver to a recording engine.
type harness struct {
	t     *testing.T
	disc  *disc.Disc
	store *state.Store
	menu  *menu.Machine
	eng   *enginetest.Recorder
	regs  *Registers
	exec  *Executor
	drv   *Driver
	slept []time.Duration
}

func newHarness(t *testing.T, b *disctest.Builder) *harness {
	return newHarnessConfig(t, b, DefaultConfig())
}

func newHarnessConfig(t *testing.T, b *disctest.Builder, cfg Config) *harness {
	t.Helper()
	h := &harness{t: t, disc: b.Disc(), store: state.New(), eng: enginetest.New()}
	h.menu = menu.New(h.disc)
	h.store.SetDisc(true)
	h.regs = NewRegisters(h.store, h.menu, h.eng, Display{Width: 1920, Height: 1080})
	h.exec = NewExecutor(Deps{
		Disc:      h.disc,
		Store:     h.store,
		Menu:      h.menu,
		Registers: h.regs,
		Player:    playlist.NewResolver(h.disc, h.store, h.eng),
		Engine:    h.eng,
		Rand:      rand.New(rand.NewPCG(1, 2)),
		Sleep: func(_ context.Context, d time.Duration) error {
			h.slept = append(h.slept, d)
			return nil
		},
	}, cfg)
	h.drv = NewDriver(h.exec, cfg)
	return h
}

// run executes one encoded instruction.
func (h *harness) run(c Context, op Op, dst, src uint32, immDst, immSrc bool) Signal {
	h.t.Helper()
	sig, err := h.exec.Execute(context.Background(), c, Decode(MustEncode(op, dst, src, immDst, immSrc)))
	if err != nil {
		h.t.Fatalf("%s: %v", op, err)
	}
	return sig
}

func emptyDisc() *disctest.Builder {
	b := disctest.New("TEST", "/discs/test")
	b.Title(b.Object())
	return b
}

// withMenu gives playlist 5 a two-page menu: page 0 with buttons 10, 11
// and page 1 with buttons 20, 21 and a half-second in-effect.
func withMenu(b *disctest.Builder, popUp bool, prog ...disc.Command) *disc.Playlist {
	pl := b.Playlist(5, 60)
	page0 := disctest.Page(0, disctest.Column(disctest.Button(10, prog...), disctest.Button(11))...)
	page1 := disctest.Page(1, disctest.Button(20), disctest.Button(21))
	page1.InEffects = []disc.Effect{{Duration: 45000}}
	pl.Menu = &disc.Menu{PopUp: popUp, Pages: []disc.Page{page0, page1}}
	return pl
}

// ---------------------------------------------------------------------------
// Arithmetic
// ---------------------------------------------------------------------------

func TestArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Op
		a, b uint32
		want uint32
	}{
		{"move", OpMove, 1, 9, 9},
		{"add", OpAdd, 2, 3, 5},
		{"add saturates", OpAdd, math.MaxUint32, 1, math.MaxUint32},
		{"sub", OpSub, 5, 3, 2},
		{"sub floors at zero", OpSub, 3, 5, 0},
		{"mul", OpMul, 6, 7, 42},
		{"mul saturates", OpMul, 0x10000, 0x10000, math.MaxUint32},
		{"div", OpDiv, 7, 2, 3},
		{"div by zero", OpDiv, 7, 0, math.MaxUint32},
		{"mod", OpMod, 7, 2, 1},
		{"mod by zero", OpMod, 7, 0, math.MaxUint32},
		{"rnd zero", OpRnd, 5, 0, 0},
		{"and", OpAnd, 0xf0f0, 0xff00, 0xf000},
		{"or", OpOr, 0xf0f0, 0x0f00, 0xfff0},
		{"xor", OpXor, 0xff, 0x0f, 0xf0},
		{"bitset", OpBitSet, 0, 3, 8},
		{"bitset out of range", OpBitSet, 1, 40, 1},
		{"bitclr", OpBitClr, 0xf, 0, 0xe},
		{"bitclr out of range", OpBitClr, 0xf, 32, 0xf},
		{"shl", OpShl, 1, 4, 16},
		{"shl out of range", OpShl, 1, 32, 0},
		{"shr", OpShr, 16, 4, 1},
		{"shr out of range", OpShr, 16, 99, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, emptyDisc())
			h.regs.Set(1, tt.a)
			if sig := h.run(Title, tt.op, 1, tt.b, false, true); sig != Continue {
				t.Errorf("signal = %s, want continue", sig)
			}
			if got := h.regs.Get(1); got != tt.want {
				t.Errorf("%s(%d, %d) = %d, want %d", tt.op, tt.a, tt.b, got, tt.want)
			}
			if pc := h.store.PC(); pc != 1 {
				t.Errorf("pc = %d, want 1", pc)
			}
		})
	}
}

func TestRandomInRange(t *testing.T) {
	h := newHarness(t, emptyDisc())
	for i := 0; i < 200; i++ {
		h.run(Title, OpRnd, 1, 6, false, true)
		if v := h.regs.Get(1); v < 1 || v > 6 {
			t.Fatalf("RND 6 = %d, want 1..6", v)
		}
	}
}

func TestXorTwiceRestores(t *testing.T) {
	h := newHarness(t, emptyDisc())
	h.run(Title, OpMove, 1, 0x1234, false, true)
	h.run(Title, OpXor, 1, 0xff00, false, true)
	if h.regs.Get(1) == 0x1234 {
		t.Fatal("XOR had no effect")
	}
	h.run(Title, OpXor, 1, 0xff00, false, true)
	if got := h.regs.Get(1); got != 0x1234 {
		t.Errorf("r1 = %#x, want 0x1234", got)
	}
}

func TestRegisterOperand(t *testing.T) {
	h := newHarness(t, emptyDisc())
	h.regs.Set(1, 10)
	h.regs.Set(2, 32)
	h.run(Title, OpAdd, 1, 2, false, false)
	if got := h.regs.Get(1); got != 42 {
		t.Errorf("r1 = %d, want 42", got)
	}
}

func TestSwap(t *testing.T) {
	h := newHarness(t, emptyDisc())
	h.regs.Set(1, 1)
	h.regs.Set(2, 2)
	h.run(Title, OpSwap, 1, 2, false, false)
	if h.regs.Get(1) != 2 || h.regs.Get(2) != 1 {
		t.Errorf("after SWAP r1=%d r2=%d, want 2 1", h.regs.Get(1), h.regs.Get(2))
	}

	// An immediate source has nothing to swap with.
	h.run(Title, OpSwap, 1, 7, false, true)
	if h.regs.Get(1) != 2 {
		t.Errorf("SWAP with immediate changed r1 to %d", h.regs.Get(1))
	}
	if pc := h.store.PC(); pc != 2 {
		t.Errorf("pc = %d, want 2", pc)
	}
}

// ---------------------------------------------------------------------------
// Compare and branch
// ---------------------------------------------------------------------------

func TestCompareSkip(t *testing.T) {
	tests := []struct {
		op     Op
		a, b   uint32
		wantPC int
	}{
		{OpEQ, 5, 5, 1},
		{OpEQ, 5, 6, 2},
		{OpNE, 5, 6, 1},
		{OpNE, 5, 5, 2},
		{OpGE, 5, 5, 1},
		{OpGT, 5, 5, 2},
		{OpLE, 4, 5, 1},
		{OpLT, 5, 4, 2},
		{OpBC, 0x6, 0x2, 1},
		{OpBC, 0x6, 0x1, 2},
	}
	for _, tt := range tests {
		h := newHarness(t, emptyDisc())
		h.run(Title, tt.op, tt.a, tt.b, true, true)
		if pc := h.store.PC(); pc != tt.wantPC {
			t.Errorf("%s %d, %d: pc = %d, want %d", tt.op, tt.a, tt.b, pc, tt.wantPC)
		}
	}
}

func TestGotoAndBreak(t *testing.T) {
	h := newHarness(t, emptyDisc())
	if sig := h.run(Title, OpGOTO, 7, 0, true, true); sig != Continue {
		t.Errorf("GOTO signal = %s, want continue", sig)
	}
	if pc := h.store.PC(); pc != 7 {
		t.Errorf("pc after GOTO = %d, want 7", pc)
	}
	if sig := h.run(Title, OpBREAK, 0, 0, true, true); sig != Halt {
		t.Errorf("BREAK signal = %s, want halt", sig)
	}
	if pc := h.store.PC(); pc != 8 {
		t.Errorf("pc after BREAK = %d, want 8", pc)
	}
}

func TestUnknownOpcodeSkipped(t *testing.T) {
	h := newHarness(t, emptyDisc())
	in := Decode(disc.Command{Insn: disc.Insn{Grp: 3}})
	if in.Op != OpUnknown {
		t.Fatalf("decoded %s, want UNKNOWN", in.Op)
	}
	sig, err := h.exec.Execute(context.Background(), Title, in)
	if err != nil || sig != Continue {
		t.Fatalf("Execute = %s, %v; want continue, nil", sig, err)
	}
	if pc := h.store.PC(); pc != 1 {
		t.Errorf("pc = %d, want 1", pc)
	}
}

// ---------------------------------------------------------------------------
// Play
// ---------------------------------------------------------------------------

func TestPlayPlaylist(t *testing.T) {
	b := emptyDisc()
	b.Playlist(3, 30, 40)
	h := newHarness(t, b)

	if sig := h.run(Title, OpPlayPL, 3, 0, true, true); sig != PlaybackStarted {
		t.Fatalf("signal = %s, want playback-started", sig)
	}
	if pc := h.store.PC(); pc != 1 {
		t.Errorf("pc = %d, want 1", pc)
	}
	calls := h.eng.Calls()
	if len(calls) != 2 {
		t.Fatalf("engine calls = %v, want LoadFile + LoadFiles", calls)
	}
	if got, want := calls[0].String(), "LoadFile(/discs/test/BDMV/STREAM/00300.m2ts, start=0,aid=auto)"; got != want {
		t.Errorf("call 0 = %s, want %s", got, want)
	}
	if got, want := calls[1].String(), "LoadFiles([/discs/test/BDMV/STREAM/00301.m2ts])"; got != want {
		t.Errorf("call 1 = %s, want %s", got, want)
	}
	if pos := h.store.Position(); pos.PlaylistID != 3 || pos.PlayItem != 0 {
		t.Errorf("position = %+v, want playlist 3 item 0", pos)
	}
}

func TestPlayMissingPlaylist(t *testing.T) {
	h := newHarness(t, emptyDisc())
	_, err := h.exec.Execute(context.Background(), Title, Decode(MustEncode(OpPlayPL, 9, 0, true, true)))
	if !errors.Is(err, disc.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestTerminatePlaylist(t *testing.T) {
	h := newHarness(t, emptyDisc())
	h.store.Arm()
	if sig := h.run(Title, OpTerminatePL, 0, 0, true, true); sig != Continue {
		t.Errorf("signal = %s, want continue", sig)
	}
	if h.store.Armed() {
		t.Error("TERMINATE_PL left playback armed")
	}
	if len(h.eng.Find("Stop")) != 1 {
		t.Errorf("engine calls = %v, want Stop", h.eng.Calls())
	}
}

func TestPlayFromMenuResetsMenu(t *testing.T) {
	b := emptyDisc()
	b.Playlist(3, 30)
	withMenu(b, true)
	h := newHarness(t, b)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}
	h.store.SetPC(4)

	if sig := h.run(Menu, OpPlayPL, 3, 0, true, true); sig != PlaybackStarted {
		t.Fatalf("signal = %s, want playback-started", sig)
	}
	if h.menu.IsOpen() {
		t.Error("menu still open after PLAY_PL from a button")
	}
	if pc := h.store.PC(); pc != 4 {
		t.Errorf("title pc = %d, want 4", pc)
	}
}

// ---------------------------------------------------------------------------
// Jumps, calls and resume
// ---------------------------------------------------------------------------

func TestCallSavesNextInstruction(t *testing.T) {
	b := emptyDisc()
	b.Title(b.Object())
	h := newHarness(t, b)
	h.store.SetPC(3)

	if sig := h.run(Title, OpCallTitle, 1, 0, true, true); sig != Jumped {
		t.Fatalf("signal = %s, want jumped", sig)
	}
	r, ok := h.exec.Resume()
	if !ok {
		t.Fatal("CALL_TITLE saved no resume point")
	}
	if r.PC != 4 || r.Title != 0 {
		t.Errorf("resume = %+v, want title 0 pc 4", r)
	}
	if pos := h.store.Position(); pos.Title != 1 || pos.PC != 0 {
		t.Errorf("position = %+v, want title 1 pc 0", pos)
	}
}

func TestCallFromMenuSavesTitleCounter(t *testing.T) {
	b := emptyDisc()
	b.Title(b.Object())
	withMenu(b, true)
	h := newHarness(t, b)
	h.store.SetPC(3)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}
	h.run(Menu, OpCallTitle, 1, 0, true, true)
	if r, _ := h.exec.Resume(); r.PC != 3 {
		t.Errorf("resume pc = %d, want 3", r.PC)
	}
	if h.menu.IsOpen() {
		t.Error("menu still open after jumping to a title")
	}
}

func TestResumeReplaysPlaylist(t *testing.T) {
	b := emptyDisc()
	obj := b.Object()
	b.Playlist(3, 30)
	h := newHarness(t, b)
	h.exec.SetResume(ResumeInfo{Title: 0, Object: obj, PC: 1, PlaylistID: 3, PlayItem: 0, Time: 12.5})

	if sig := h.run(Title, OpResume, 0, 0, true, true); sig != PlaybackStarted {
		t.Fatalf("signal = %s, want playback-started", sig)
	}
	pos := h.store.Position()
	if pos.Object != obj || pos.PC != 1 || pos.PlaylistID != 3 {
		t.Errorf("position = %+v, want object %d pc 1 playlist 3", pos, obj)
	}
	load := h.eng.Find("LoadFile")
	if len(load) != 1 || load[0].Args[1] != "start=12.5,aid=auto" {
		t.Errorf("LoadFile calls = %v, want start=12.5", load)
	}
	if _, ok := h.exec.Resume(); ok {
		t.Error("resume point not consumed")
	}
}

func TestResumeWithoutSavedPoint(t *testing.T) {
	h := newHarness(t, emptyDisc())
	if sig := h.run(Title, OpResume, 0, 0, true, true); sig != Continue {
		t.Errorf("signal = %s, want continue", sig)
	}
	if pc := h.store.PC(); pc != 1 {
		t.Errorf("pc = %d, want 1", pc)
	}
}

func TestJumpMissingTitle(t *testing.T) {
	h := newHarness(t, emptyDisc())
	_, err := h.exec.Execute(context.Background(), Title, Decode(MustEncode(OpJumpTitle, 42, 0, true, true)))
	if !errors.Is(err, disc.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// ---------------------------------------------------------------------------
// System commands
// ---------------------------------------------------------------------------

func loadTracks(st *state.Store) {
	st.SetTracks([]state.Track{
		{ID: 1, Type: state.TrackAudio, SrcID: 0x1100},
		{ID: 2, Type: state.TrackAudio, SrcID: 0x1101},
		{ID: 1, Type: state.TrackSubtitle, SrcID: 0x1200},
	}, nil)
}

func TestSetStreamImmediate(t *testing.T) {
	h := newHarness(t, emptyDisc())
	loadTracks(h.store)

	dst := uint32(streamAudioFlag | 2<<16 | streamSubtitleFlag | streamDisplayFlag | 1)
	h.run(Title, OpSetStream, dst, 0, true, true)

	if got := h.eng.Find("SetAudioTrack"); len(got) != 1 || got[0].Args[0] != 2 {
		t.Errorf("SetAudioTrack calls = %v, want [2]", got)
	}
	if got := h.eng.Find("SetSubtitleTrack"); len(got) != 1 || got[0].Args[0] != 1 {
		t.Errorf("SetSubtitleTrack calls = %v, want [1]", got)
	}
	if got := h.regs.Get(PSR(PSRSubtitle)); got != 0x80000001 {
		t.Errorf("psr2 = %#x, want 0x80000001", got)
	}
	if got := h.regs.Get(PSR(PSRAudio)); got != 2 {
		t.Errorf("psr1 = %d, want 2", got)
	}
}

func TestSetStreamRegisters(t *testing.T) {
	h := newHarness(t, emptyDisc())
	loadTracks(h.store)
	h.regs.Set(5, 2)
	h.regs.Set(6, 1)

	dst := uint32(streamAudioFlag | 5<<16 | streamSubtitleFlag | streamDisplayFlag | 6)
	h.run(Title, OpSetStream, dst, 0, false, true)

	if got := h.regs.Get(PSR(PSRAudio)); got != 2 {
		t.Errorf("psr1 = %d, want 2", got)
	}
	if got := h.regs.Get(PSR(PSRSubtitle)); got != 0x80000001 {
		t.Errorf("psr2 = %#x, want 0x80000001", got)
	}
}

func TestSetStreamSubtitleOff(t *testing.T) {
	h := newHarness(t, emptyDisc())
	loadTracks(h.store)
	h.run(Title, OpSetStream, streamSubtitleFlag|1, 0, true, true)

	if got := h.eng.Find("SetSubtitleTrack"); len(got) != 1 || got[0].Args[0] != 0 {
		t.Errorf("SetSubtitleTrack calls = %v, want [0]", got)
	}
	if got := h.regs.Get(PSR(PSRSubtitle)); got != 0 {
		t.Errorf("psr2 = %#x, want 0", got)
	}
	if len(h.eng.Find("SetAudioTrack")) != 0 {
		t.Error("audio changed without the audio flag")
	}
}

func TestSetStreamDeferredWithoutTracks(t *testing.T) {
	h := newHarness(t, emptyDisc())
	h.run(Title, OpSetStream, streamAudioFlag|2<<16, 0, true, true)
	if len(h.eng.Calls()) != 0 {
		t.Errorf("engine calls = %v, want none", h.eng.Calls())
	}
	audio, _ := h.store.Pending()
	if audio == nil || *audio != 2 {
		t.Errorf("pending audio = %v, want 2", audio)
	}
}

func TestSetButtonPage(t *testing.T) {
	b := emptyDisc()
	withMenu(b, false)
	h := newHarness(t, b)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}

	h.run(Menu, OpSetButtonPage, buttonFlag|21, pageFlag|1, true, true)

	if p := h.menu.Page(); p != 1 {
		t.Errorf("page = %d, want 1", p)
	}
	if sel := h.menu.Selected(); sel != 21 {
		t.Errorf("selected = %d, want 21", sel)
	}
	if len(h.slept) != 1 || h.slept[0] != 500*time.Millisecond {
		t.Errorf("slept %v, want [500ms]", h.slept)
	}
}

func TestSetButtonPageNoEffects(t *testing.T) {
	b := emptyDisc()
	withMenu(b, false)
	h := newHarness(t, b)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}

	h.run(Menu, OpSetButtonPage, 0, pageFlag|pageNoEffects|1, true, true)

	if p := h.menu.Page(); p != 1 {
		t.Errorf("page = %d, want 1", p)
	}
	if sel := h.menu.Selected(); sel != 20 {
		t.Errorf("selected = %d, want default 20", sel)
	}
	if len(h.slept) != 0 {
		t.Errorf("slept %v, want no transition", h.slept)
	}
}

func TestSetButtonPageButtonOnly(t *testing.T) {
	b := emptyDisc()
	withMenu(b, false)
	h := newHarness(t, b)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}
	h.regs.Set(3, 11)

	h.run(Menu, OpSetButtonPage, buttonFlag|3, 0, false, true)

	if sel := h.menu.Selected(); sel != 11 {
		t.Errorf("selected = %d, want 11", sel)
	}
	if p := h.menu.Page(); p != 0 {
		t.Errorf("page = %d, want 0", p)
	}
}

func TestPopupOff(t *testing.T) {
	b := emptyDisc()
	withMenu(b, true)
	h := newHarness(t, b)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}
	if sig := h.run(Menu, OpPopupOff, 0, 0, true, true); sig != Halt {
		t.Errorf("signal = %s, want halt", sig)
	}
	if h.menu.IsOpen() {
		t.Error("menu open after POPUP_OFF")
	}
}

func TestStill(t *testing.T) {
	h := newHarness(t, emptyDisc())
	h.run(Title, OpStillOn, 0, 0, true, true)
	if !h.exec.Still() {
		t.Error("STILL_ON not in effect")
	}
	h.run(Title, OpStillOff, 0, 0, true, true)
	if h.exec.Still() {
		t.Error("STILL_OFF not in effect")
	}
}

func TestTransitionScale(t *testing.T) {
	b := emptyDisc()
	withMenu(b, false)
	cfg := DefaultConfig()
	cfg.TransitionScale = 0
	h := newHarnessConfig(t, b, cfg)
	if err := h.menu.Open(5, 0); err != nil {
		t.Fatal(err)
	}
	h.run(Menu, OpSetButtonPage, 0, pageFlag|1, true, true)
	if len(h.slept) != 1 || h.slept[0] != 0 {
		t.Errorf("slept %v, want a zero transition", h.slept)
	}
}
