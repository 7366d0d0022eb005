// Package hdmv implements the HDMV navigation command interpreter.
//
// Commands are decoded once into an Instruction by Decode, executed one at
// a time by the Executor against register memory, the menu state machine
// and the playlist resolver, and driven in loops by the Driver for either
// the title program (the running movie object) or the menu program (the
// activated button's commands).
//
// The interpreter owns no goroutines. Every entry point runs to a stall
// point (playback started, program halted) on the caller's goroutine; the
// only blocking it does is the authored page transition delay of a
// SET_BUTTON_PAGE command.
package hdmv

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("hdmvplay.hdmv")

// Context selects which program an instruction belongs to.
type Context int

const (
	Title Context = iota
	Menu
)

func (c Context) String() string {
	if c == Menu {
		return "menu"
	}
	return "title"
}

// Signal tells the driver what to do after an instruction.
type Signal int

const (
	// Continue with the next instruction of the same program.
	Continue Signal = iota
	// Jumped to another object or title; the current program is abandoned.
	Jumped
	// PlaybackStarted suspends the program until the engine reports the
	// end of the loaded playlist.
	PlaybackStarted
	// Halt ends the current pass.
	Halt
)

func (s Signal) String() string {
	switch s {
	case Continue:
		return "continue"
	case Jumped:
		return "jumped"
	case PlaybackStarted:
		return "playback-started"
	case Halt:
		return "halt"
	}
	return fmt.Sprintf("signal(%d)", int(s))
}

// ErrStepLimit is wrapped by navigation errors of programs that ran too
// many instructions in one pass.
var ErrStepLimit = errors.New("step limit exceeded")

// NavigationError aborts a driver pass. Disc data is assumed consistent,
// so these are never retried.
type NavigationError struct {
	Context Context
	Op      Op
	PC      int
	Err     error
}

func (e *NavigationError) Error() string {
	return fmt.Sprintf("navigation aborted in %s program at %d (%s): %v", e.Context, e.PC, e.Op, e.Err)
}

func (e *NavigationError) Unwrap() error { return e.Err }
