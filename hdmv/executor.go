package hdmv

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/menu"
	"github.com/chazu/hdmvplay/state"
)

// Player starts playback of disc playlists.
type Player interface {
	PlayPlaylist(id uint32, item int) error
	PlayPlaylistAtMark(id uint32, mark int) error
	PlayAt(id uint32, item int, seconds float64) error
	LinkItem(item int) error
	LinkMark(mark int) error
}

// Stopper stops the engine.
type Stopper interface {
	Stop() error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Sleep is the default Sleeper.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Config holds interpreter tunables.
type Config struct {
	StepLimit       int     // instructions per driver pass
	TransitionScale float64 // multiplier for page transition delays; 0 disables them
	AutoActionDepth int     // auto-action buttons run back to back at most this often
}

// DefaultConfig returns the default tunables.
func DefaultConfig() Config {
	return Config{StepLimit: 100000, TransitionScale: 1, AutoActionDepth: 8}
}

// Deps are the collaborators of an Executor.
type Deps struct {
	Disc      *disc.Disc
	Store     *state.Store
	Menu      *menu.Machine
	Registers *Registers
	Player    Player
	Engine    Stopper
	Rand      *rand.Rand // nil for a time-seeded source
	Sleep     Sleeper    // nil for Sleep
}

// Executor runs single instructions.
type Executor struct {
	disc   *disc.Disc
	store  *state.Store
	menu   *menu.Machine
	regs   *Registers
	player Player
	eng    Stopper
	rand   *rand.Rand
	sleep  Sleeper
	scale  float64

	resume *ResumeInfo
	still  bool
}

// NewExecutor returns an executor over deps.
func NewExecutor(deps Deps, cfg Config) *Executor {
	e := &Executor{
		disc:   deps.Disc,
		store:  deps.Store,
		menu:   deps.Menu,
		regs:   deps.Registers,
		player: deps.Player,
		eng:    deps.Engine,
		rand:   deps.Rand,
		sleep:  deps.Sleep,
		scale:  cfg.TransitionScale,
	}
	if e.rand == nil {
		now := uint64(time.Now().UnixNano())
		e.rand = rand.New(rand.NewPCG(now, now>>32))
	}
	if e.sleep == nil {
		e.sleep = Sleep
	}
	return e
}

// Registers returns the register memory.
func (e *Executor) Registers() *Registers { return e.regs }

// Resume returns the saved resume point, if any.
func (e *Executor) Resume() (ResumeInfo, bool) {
	if e.resume == nil {
		return ResumeInfo{}, false
	}
	return *e.resume, true
}

// SetResume replaces the saved resume point.
func (e *Executor) SetResume(r ResumeInfo) { e.resume = &r }

// ClearResume drops the saved resume point.
func (e *Executor) ClearResume() { e.resume = nil }

// Still reports whether a STILL_ON is in effect.
func (e *Executor) Still() bool { return e.still }

func (e *Executor) pc(c Context) int {
	if c == Menu {
		return e.menu.PC()
	}
	return e.store.PC()
}

func (e *Executor) setPC(c Context, pc int) {
	if c == Menu {
		e.menu.SetPC(pc)
		return
	}
	e.store.SetPC(pc)
}

func (e *Executor) advance(c Context, n int) { e.setPC(c, e.pc(c)+n) }

// operand resolves an operand field: the literal if imm, else the register.
func (e *Executor) operand(v uint32, imm bool) uint32 {
	if imm {
		return v
	}
	return e.regs.Get(v)
}

// Execute runs one instruction in context c.
func (e *Executor) Execute(ctx context.Context, c Context, in Instruction) (Signal, error) {
	log.Debugf("%s %d: %s", c, e.pc(c), in)
	if in.Op == OpUnknown {
		log.Warningf("unknown command grp=%d sub=%d at %s %d, skipped",
			in.Raw.Grp, in.Raw.SubGrp, c, e.pc(c))
		e.advance(c, 1)
		return Continue, nil
	}
	switch in.Op.Info().Kind {
	case KindBranch:
		return e.branch(c, in)
	case KindJump:
		return e.jump(c, in)
	case KindPlay:
		return e.play(c, in)
	case KindCompare:
		return e.compare(c, in)
	case KindSet:
		return e.set(c, in)
	}
	return e.system(ctx, c, in)
}

// ---------------------------------------------------------------------------
// Branch
// ---------------------------------------------------------------------------

func (e *Executor) branch(c Context, in Instruction) (Signal, error) {
	switch in.Op {
	case OpGOTO:
		e.setPC(c, int(e.operand(in.Dst, in.ImmDst)))
		return Continue, nil
	case OpBREAK:
		e.advance(c, 1)
		return Halt, nil
	}
	e.advance(c, 1)
	return Continue, nil
}

func (e *Executor) jump(c Context, in Instruction) (Signal, error) {
	dst := e.operand(in.Dst, in.ImmDst)
	switch in.Op {
	case OpJumpObject:
		return e.enterObject(dst)
	case OpJumpTitle:
		return e.enterTitle(int(dst))
	case OpCallObject, OpCallTitle:
		pc := e.store.PC()
		if c == Title {
			pc++
		}
		r := CaptureResume(e.store, pc)
		if in.Op == OpCallObject {
			if _, err := e.enterObject(dst); err != nil {
				return Halt, err
			}
		} else if _, err := e.enterTitle(int(dst)); err != nil {
			return Halt, err
		}
		e.resume = &r
		log.Infof("call saved resume point title %d object %d pc %d", r.Title, r.Object, r.PC)
		return Jumped, nil
	}
	return e.resumeTitle(c)
}

func (e *Executor) enterObject(obj uint32) (Signal, error) {
	if err := e.disc.WithObject(obj, func(*disc.Object) error { return nil }); err != nil {
		return Halt, err
	}
	e.store.Disarm()
	e.store.SetObject(obj)
	e.store.SetPC(0)
	return Jumped, nil
}

func (e *Executor) enterTitle(title int) (Signal, error) {
	obj, err := e.disc.TitleObject(title)
	if err != nil {
		return Halt, err
	}
	if err := e.disc.WithObject(obj, func(*disc.Object) error { return nil }); err != nil {
		return Halt, err
	}
	log.Infof("jump to title %d (object %d)", title, obj)
	e.menu.Reset()
	e.store.Disarm()
	e.store.SetTitle(title)
	e.store.SetObject(obj)
	e.store.SetPC(0)
	return Jumped, nil
}

func (e *Executor) resumeTitle(c Context) (Signal, error) {
	if e.resume == nil {
		log.Warningf("resume without saved position at %s %d, skipped", c, e.pc(c))
		e.advance(c, 1)
		return Continue, nil
	}
	r := *e.resume
	e.resume = nil
	log.Infof("resume title %d object %d pc %d", r.Title, r.Object, r.PC)

	e.menu.Reset()
	e.store.Disarm()
	e.store.SetTitle(r.Title)
	e.store.SetObject(r.Object)
	e.store.SetPC(r.PC)
	if r.PlaylistID < 0 {
		return Jumped, nil
	}
	if err := e.player.PlayAt(uint32(r.PlaylistID), r.PlayItem, r.Time); err != nil {
		return Halt, err
	}
	return PlaybackStarted, nil
}

// ---------------------------------------------------------------------------
// Play
// ---------------------------------------------------------------------------

func (e *Executor) play(c Context, in Instruction) (Signal, error) {
	e.advance(c, 1)
	if in.Op == OpTerminatePL {
		e.store.Disarm()
		if err := e.eng.Stop(); err != nil {
			log.Warningf("terminate playlist: %s", err)
		}
		return Continue, nil
	}

	dst := e.operand(in.Dst, in.ImmDst)
	src := e.operand(in.Src, in.ImmSrc)
	// A menu belongs to its playlist: starting another one closes it.
	if in.Op == OpPlayPL || in.Op == OpPlayPLPI || in.Op == OpPlayPLPM {
		if c == Menu || e.menu.Playlist() != dst {
			e.menu.Reset()
		}
	}

	var err error
	switch in.Op {
	case OpPlayPL:
		err = e.player.PlayPlaylist(dst, 0)
	case OpPlayPLPI:
		err = e.player.PlayPlaylist(dst, int(src))
	case OpPlayPLPM:
		err = e.player.PlayPlaylistAtMark(dst, int(src))
	case OpLinkPI:
		err = e.player.LinkItem(int(dst))
	case OpLinkMK:
		err = e.player.LinkMark(int(dst))
	}
	if err != nil {
		return Halt, err
	}
	return PlaybackStarted, nil
}

// ---------------------------------------------------------------------------
// Compare
// ---------------------------------------------------------------------------

func (e *Executor) compare(c Context, in Instruction) (Signal, error) {
	a := e.operand(in.Dst, in.ImmDst)
	b := e.operand(in.Src, in.ImmSrc)
	var ok bool
	switch in.Op {
	case OpBC:
		ok = a&b != 0
	case OpEQ:
		ok = a == b
	case OpNE:
		ok = a != b
	case OpGE:
		ok = a >= b
	case OpGT:
		ok = a > b
	case OpLE:
		ok = a <= b
	case OpLT:
		ok = a < b
	}
	if ok {
		e.advance(c, 1)
	} else {
		e.advance(c, 2)
	}
	return Continue, nil
}

// ---------------------------------------------------------------------------
// Set
// ---------------------------------------------------------------------------

func (e *Executor) set(c Context, in Instruction) (Signal, error) {
	defer e.advance(c, 1)
	if in.ImmDst {
		log.Warningf("%s with immediate destination at %s %d, skipped", in.Op, c, e.pc(c))
		return Continue, nil
	}
	a := e.regs.Get(in.Dst)
	b := e.operand(in.Src, in.ImmSrc)

	if in.Op == OpSwap {
		if in.ImmSrc {
			log.Warningf("SWAP with immediate source at %s %d, skipped", c, e.pc(c))
			return Continue, nil
		}
		e.regs.Set(in.Dst, b)
		e.regs.Set(in.Src, a)
		return Continue, nil
	}

	e.regs.Set(in.Dst, e.arith(in.Op, a, b))
	return Continue, nil
}

func (e *Executor) arith(op Op, a, b uint32) uint32 {
	switch op {
	case OpMove:
		return b
	case OpAdd:
		if s := uint64(a) + uint64(b); s <= math.MaxUint32 {
			return uint32(s)
		}
		return math.MaxUint32
	case OpSub:
		if b > a {
			return 0
		}
		return a - b
	case OpMul:
		if p := uint64(a) * uint64(b); p <= math.MaxUint32 {
			return uint32(p)
		}
		return math.MaxUint32
	case OpDiv:
		if b == 0 {
			return math.MaxUint32
		}
		return a / b
	case OpMod:
		if b == 0 {
			return math.MaxUint32
		}
		return a % b
	case OpRnd:
		if b == 0 {
			return 0
		}
		return e.rand.Uint32N(b) + 1
	case OpAnd:
		return a & b
	case OpOr:
		return a | b
	case OpXor:
		return a ^ b
	case OpBitSet:
		if b >= 32 {
			return a
		}
		return a | 1<<b
	case OpBitClr:
		if b >= 32 {
			return a
		}
		return a &^ (1 << b)
	case OpShl:
		if b >= 32 {
			return 0
		}
		return a << b
	case OpShr:
		if b >= 32 {
			return 0
		}
		return a >> b
	}
	return a
}

// ---------------------------------------------------------------------------
// Set system
// ---------------------------------------------------------------------------

// Operand packing of SET_STREAM.
const (
	streamAudioFlag    = 0x80000000
	streamSubtitleFlag = 0x00008000
	streamDisplayFlag  = 0x00004000
)

// Operand packing of SET_BUTTON_PAGE.
const (
	buttonFlag    = 0x80000000
	pageFlag      = 0x80000000
	pageNoEffects = 0x40000000
)

// fetchStream resolves a SET_STREAM operand. In register form the flags
// stay in the literal and both 16-bit halves name a register holding the
// stream number.
func (e *Executor) fetchStream(v uint32, imm bool) uint32 {
	if imm {
		return v
	}
	flags := v & 0xf000f000
	lo := e.regs.Get(v&gprMask) & 0xfff
	hi := e.regs.Get((v>>16)&gprMask) & 0xfff
	return flags | lo | hi<<16
}

// fetchButtonPage resolves a SET_BUTTON_PAGE operand. In register form the
// two top flag bits stay in the literal.
func (e *Executor) fetchButtonPage(v uint32, imm bool) uint32 {
	if imm {
		return v
	}
	return v&0xc0000000 | e.regs.Get(v&gprMask)&0x3fffffff
}

func (e *Executor) system(ctx context.Context, c Context, in Instruction) (Signal, error) {
	switch in.Op {
	case OpSetStream:
		dst := e.fetchStream(in.Dst, in.ImmDst)
		if dst&streamAudioFlag != 0 {
			e.regs.Set(PSR(PSRAudio), (dst>>16)&0xff)
		}
		if dst&streamSubtitleFlag != 0 {
			v := dst & 0xff
			if dst&streamDisplayFlag != 0 {
				v |= subtitleDisplay
			}
			e.regs.Set(PSR(PSRSubtitle), v)
		}
		if src := e.fetchStream(in.Src, in.ImmSrc); src != 0 {
			log.Debugf("SET_STREAM ig/angle selection %#x ignored", src)
		}

	case OpSetButtonPage:
		if err := e.setButtonPage(ctx, in); err != nil {
			return Halt, err
		}

	case OpEnableButton, OpDisableButton:
		id := uint16(e.operand(in.Dst, in.ImmDst))
		if !e.menu.IsOpen() {
			log.Debugf("%s %d with no menu open", in.Op, id)
			break
		}
		var err error
		if in.Op == OpEnableButton {
			err = e.menu.Enable(id)
		} else {
			err = e.menu.Disable(id)
		}
		if err != nil {
			return Halt, err
		}

	case OpPopupOff:
		e.menu.Reset()
		if c == Menu {
			return Halt, nil
		}

	case OpStillOn:
		e.still = true
	case OpStillOff:
		e.still = false

	default:
		log.Debugf("%s has no effect in this player", in.Op)
	}
	e.advance(c, 1)
	return Continue, nil
}

func (e *Executor) setButtonPage(ctx context.Context, in Instruction) error {
	dst := e.fetchButtonPage(in.Dst, in.ImmDst)
	src := e.fetchButtonPage(in.Src, in.ImmSrc)
	if !e.menu.IsOpen() {
		log.Debugf("SET_BUTTON_PAGE with no menu open")
		return nil
	}

	if src&pageFlag != 0 {
		page := int(src & 0xff)
		if page != e.menu.Page() {
			if src&pageNoEffects == 0 {
				ticks, err := e.menu.TransitionTicks(page)
				if err != nil {
					return err
				}
				if err := e.sleep(ctx, e.transition(ticks)); err != nil {
					return err
				}
			}
			if err := e.menu.SetPage(page); err != nil {
				return err
			}
		}
	}
	if dst&buttonFlag != 0 {
		if _, err := e.menu.Select(uint16(dst & 0xffff)); err != nil {
			return err
		}
	}
	return nil
}

// transition converts a page effect duration to wall time.
func (e *Executor) transition(ticks uint64) time.Duration {
	if e.scale <= 0 || ticks == 0 {
		return 0
	}
	return time.Duration(float64(ticks) * float64(time.Second) / disc.TicksPerSecond * e.scale)
}
