package hdmv

import (
	"context"
	"errors"
	"fmt"

	"github.com/chazu/hdmvplay/disc"
	"github.com/chazu/hdmvplay/menu"
	"github.com/chazu/hdmvplay/state"
)

// Driver runs title and menu programs until they stall.
type Driver struct {
	exec      *Executor
	disc      *disc.Disc
	store     *state.Store
	menu      *menu.Machine
	eng       Stopper
	stepLimit int
	autoDepth int
}

// NewDriver returns a driver for exec. The executor's collaborators are
// shared with the driver.
func NewDriver(exec *Executor, cfg Config) *Driver {
	if cfg.StepLimit <= 0 {
		cfg.StepLimit = DefaultConfig().StepLimit
	}
	if cfg.AutoActionDepth < 0 {
		cfg.AutoActionDepth = 0
	}
	return &Driver{
		exec:      exec,
		disc:      exec.disc,
		store:     exec.store,
		menu:      exec.menu,
		eng:       exec.eng,
		stepLimit: cfg.StepLimit,
		autoDepth: cfg.AutoActionDepth,
	}
}

// Executor returns the driver's executor.
func (d *Driver) Executor() *Executor { return d.exec }

// Start begins navigation: the first-play object if the disc has one,
// otherwise the top menu title.
func (d *Driver) Start(ctx context.Context) error {
	d.menu.Reset()
	d.exec.ClearResume()
	if obj, ok := d.disc.FirstPlay(); ok {
		log.Infof("first play object %d", obj)
		d.store.SetTitle(state.FirstPlayTitle)
		d.store.SetObject(obj)
		d.store.SetPC(0)
		return d.RunTitle(ctx)
	}
	return d.JumpTitle(ctx, 0)
}

// JumpTitle abandons the running programs and starts title from its
// first command.
func (d *Driver) JumpTitle(ctx context.Context, title int) error {
	if _, err := d.exec.enterTitle(title); err != nil {
		return d.fail(Title, OpJumpTitle, 0, err)
	}
	return d.RunTitle(ctx)
}

// Continue resumes the title program after its playlist ended.
func (d *Driver) Continue(ctx context.Context) error {
	return d.RunTitle(ctx)
}

// RunTitle runs the title program from the current counter until it
// stalls or halts.
func (d *Driver) RunTitle(ctx context.Context) error {
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		pos := d.store.Position()
		if step >= d.stepLimit {
			return d.fail(Title, OpUnknown, pos.PC, ErrStepLimit)
		}

		var (
			in       Instruction
			end      bool
			callable bool
		)
		err := d.disc.WithObject(pos.Object, func(o *disc.Object) error {
			callable = o.MenuCallAllowed()
			if pos.PC < 0 || pos.PC >= len(o.Commands) {
				end = true
				return nil
			}
			in = Decode(o.Commands[pos.PC])
			return nil
		})
		if err != nil {
			return d.fail(Title, OpUnknown, pos.PC, err)
		}
		if end {
			log.Debugf("title object %d ended at %d", pos.Object, pos.PC)
			return nil
		}

		sig, err := d.exec.Execute(ctx, Title, in)
		if err != nil {
			return d.fail(Title, in.Op, pos.PC, err)
		}
		switch sig {
		case PlaybackStarted:
			d.autoOpen(callable)
			return nil
		case Halt:
			return nil
		}
	}
}

// Resume restores the saved resume point and replays its playlist, as a
// RESUME command would.
func (d *Driver) Resume(ctx context.Context) error {
	sig, err := d.exec.resumeTitle(Title)
	if err != nil {
		return d.fail(Title, OpResume, d.store.PC(), err)
	}
	switch sig {
	case Jumped:
		return d.RunTitle(ctx)
	case PlaybackStarted:
		d.autoOpen(d.titleCallable())
	}
	return nil
}

// Inject executes a single instruction on behalf of the user without
// moving the title program counter.
func (d *Driver) Inject(ctx context.Context, in Instruction) error {
	pc := d.store.PC()
	sig, err := d.exec.Execute(ctx, Title, in)
	if err != nil {
		return d.fail(Title, in.Op, pc, err)
	}
	switch sig {
	case Jumped:
		return d.RunTitle(ctx)
	case PlaybackStarted:
		d.store.SetPC(pc)
		d.autoOpen(d.titleCallable())
	default:
		d.store.SetPC(pc)
	}
	return nil
}

// Activate runs the selected button's program, as on Enter.
func (d *Driver) Activate(ctx context.Context) error {
	if _, err := d.menu.Activate(); err != nil {
		if errors.Is(err, menu.ErrClosed) {
			return err
		}
		return d.fail(Menu, OpUnknown, 0, err)
	}
	return d.runMenu(ctx, d.autoDepth)
}

// Move follows an arrow key in the open menu. Landing on an auto-action
// button runs its program.
func (d *Driver) Move(ctx context.Context, dir menu.Direction) error {
	moved, auto, err := d.menu.Move(dir)
	if err != nil {
		if errors.Is(err, menu.ErrClosed) {
			return err
		}
		return d.fail(Menu, OpUnknown, 0, err)
	}
	if moved && auto {
		return d.Activate(ctx)
	}
	return nil
}

// runMenu runs the activated button program until it stalls or halts,
// then chains into an auto-action selection at most depth times.
func (d *Driver) runMenu(ctx context.Context, depth int) error {
run:
	for step := 0; ; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !d.menu.Activated() {
			return nil
		}
		pc := d.menu.PC()
		if step >= d.stepLimit {
			return d.fail(Menu, OpUnknown, pc, ErrStepLimit)
		}

		var (
			in  Instruction
			end bool
		)
		err := d.menu.WithProgram(func(cmds []disc.Command) error {
			if pc < 0 || pc >= len(cmds) {
				end = true
				return nil
			}
			in = Decode(cmds[pc])
			return nil
		})
		if err != nil {
			return d.fail(Menu, OpUnknown, pc, err)
		}
		if end {
			break run
		}

		sig, err := d.exec.Execute(ctx, Menu, in)
		if err != nil {
			return d.fail(Menu, in.Op, pc, err)
		}
		switch sig {
		case Jumped:
			d.menu.Deactivate()
			return d.RunTitle(ctx)
		case PlaybackStarted:
			d.menu.Deactivate()
			d.autoOpen(d.titleCallable())
			return nil
		case Halt:
			break run
		}
	}

	ran := d.menu.Snapshot()
	d.menu.Deactivate()
	chained := ran.Selected != ran.Running || ran.Page != ran.RunningPage
	if chained && d.menu.IsOpen() && d.menu.AutoAction() {
		if depth <= 0 {
			log.Warningf("auto-action chain too deep, stopped at button %d", d.menu.Selected())
			return nil
		}
		if _, err := d.menu.Activate(); err != nil {
			return d.fail(Menu, OpUnknown, 0, err)
		}
		return d.runMenu(ctx, depth-1)
	}
	return nil
}

func (d *Driver) titleCallable() bool {
	callable := true
	_ = d.disc.WithObject(d.store.Position().Object, func(o *disc.Object) error {
		callable = o.MenuCallAllowed()
		return nil
	})
	return callable
}

// autoOpen opens page 0 of the playlist that just started when it has a
// menu that is always on, or when the running object does not allow the
// user to call menus.
func (d *Driver) autoOpen(menuCallAllowed bool) {
	pos := d.store.Position()
	if pos.PlaylistID < 0 || d.menu.IsOpen() {
		return
	}
	exists, popUp := d.menu.HasMenu(uint32(pos.PlaylistID))
	if !exists || (popUp && menuCallAllowed) {
		return
	}
	if err := d.menu.Open(uint32(pos.PlaylistID), 0); err != nil {
		log.Warningf("open menu of playlist %05d: %s", pos.PlaylistID, err)
	}
}

// fail logs a navigation error, stops playback and returns the error.
func (d *Driver) fail(c Context, op Op, pc int, err error) error {
	nerr := &NavigationError{Context: c, Op: op, PC: pc, Err: err}
	log.Errorf("%s", nerr)
	d.store.Disarm()
	if serr := d.eng.Stop(); serr != nil {
		log.Warningf("stop after navigation error: %s", serr)
	}
	return nerr
}

// Listing renders a program listing, one instruction per line.
func Listing(cmds []disc.Command) string {
	var out []byte
	for i, c := range cmds {
		out = fmt.Appendf(out, "%4d  %s\n", i, Decode(c))
	}
	return string(out)
}
