package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/chazu/hdmvplay/session"
	"github.com/k0kubun/pp/v3"
	"golang.org/x/term"
)

var errQuit = errors.New("quit")

// action is one decoded keyboard command.
type action int

const (
	actNone action = iota
	actUp
	actDown
	actLeft
	actRight
	actEnter
	actTopMenu
	actPopup
	actTogglePlay
	actResume
	actDump
	actQuit
	actChapter // followed by the chapter digit
)

// keyDecoder turns raw terminal bytes into actions. Arrow keys arrive as
// the escape sequences ESC [ A..D.
type keyDecoder struct {
	esc []byte
}

func (d *keyDecoder) feed(b byte) (action, int) {
	if len(d.esc) > 0 || b == 0x1b {
		d.esc = append(d.esc, b)
		if len(d.esc) < 3 {
			if len(d.esc) == 2 && b != '[' {
				d.esc = d.esc[:0]
			}
			return actNone, 0
		}
		final := d.esc[2]
		d.esc = d.esc[:0]
		switch final {
		case 'A':
			return actUp, 0
		case 'B':
			return actDown, 0
		case 'C':
			return actRight, 0
		case 'D':
			return actLeft, 0
		}
		return actNone, 0
	}
	switch b {
	case '\r', '\n':
		return actEnter, 0
	case 'k':
		return actUp, 0
	case 'j':
		return actDown, 0
	case 'h':
		return actLeft, 0
	case 'l':
		return actRight, 0
	case 'm':
		return actTopMenu, 0
	case 'p':
		return actPopup, 0
	case ' ':
		return actTogglePlay, 0
	case 'r':
		return actResume, 0
	case 'd':
		return actDump, 0
	case 'q', 0x03:
		return actQuit, 0
	}
	if b >= '1' && b <= '9' {
		return actChapter, int(b - '1')
	}
	return actNone, 0
}

// runTTY reads keys from the terminal until ctx is done or q is pressed.
func runTTY(ctx context.Context, sess *session.Session) error {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return errors.New("-tty: stdin is not a terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return fmt.Errorf("-tty: set raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	printer := pp.New()
	printer.SetColoringEnabled(term.IsTerminal(int(os.Stdout.Fd())))
	say := func(format string, args ...any) {
		fmt.Fprint(os.Stdout, strings.ReplaceAll(fmt.Sprintf(format, args...), "\n", "\r\n"))
	}
	say("arrows/hjkl move, enter activates, m top menu, p popup, space pause, 1-9 chapter, r resume, d dump, q quit\n")

	keys := make(chan byte)
	go func() {
		buf := make([]byte, 1)
		for {
			n, err := os.Stdin.Read(buf)
			if err != nil {
				close(keys)
				return
			}
			if n == 1 {
				select {
				case keys <- buf[0]:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	var dec keyDecoder
	for {
		var b byte
		select {
		case <-ctx.Done():
			return nil
		case k, ok := <-keys:
			if !ok {
				return nil
			}
			b = k
		}

		act, arg := dec.feed(b)
		var err error
		switch act {
		case actNone:
			continue
		case actQuit:
			return errQuit
		case actUp:
			err = sess.Press(ctx, session.KeyUp)
		case actDown:
			err = sess.Press(ctx, session.KeyDown)
		case actLeft:
			err = sess.Press(ctx, session.KeyLeft)
		case actRight:
			err = sess.Press(ctx, session.KeyRight)
		case actEnter:
			err = sess.Press(ctx, session.KeyEnter)
		case actTopMenu:
			err = sess.TopMenu(ctx)
		case actPopup:
			err = sess.Popup(ctx)
		case actTogglePlay:
			err = sess.TogglePlay()
		case actResume:
			err = sess.ResumeBookmark(ctx)
		case actChapter:
			err = sess.SelectChapter(ctx, arg)
		case actDump:
			var st session.Status
			if st, err = sess.Status(); err == nil {
				say("%s\n", printer.Sprint(st))
			}
		}
		if err != nil {
			say("error: %s\n", err)
		}
	}
}
