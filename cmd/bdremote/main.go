// bdremote - command line remote control for a running bdplay
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/chazu/hdmvplay/remote"
)

func main() {
	addr := flag.String("addr", "http://127.0.0.1:7480", "bdplay remote control URL")
	useJSON := flag.Bool("json", false, "Talk JSON instead of CBOR")
	timeout := flag.Duration("timeout", 10*time.Second, "Request timeout")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bdremote [options] <command> [args]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  up | down | left | right | enter   press a remote key\n")
		fmt.Fprintf(os.Stderr, "  menu                               top menu\n")
		fmt.Fprintf(os.Stderr, "  popup                              toggle the pop-up menu\n")
		fmt.Fprintf(os.Stderr, "  chapter <n>                        jump to chapter n (1-based)\n")
		fmt.Fprintf(os.Stderr, "  seek <seconds>                     seek the current clip\n")
		fmt.Fprintf(os.Stderr, "  pause                              toggle pause\n")
		fmt.Fprintf(os.Stderr, "  audio <id> | sub <id>              select a track (sub 0 = off)\n")
		fmt.Fprintf(os.Stderr, "  open <dir>                         open a disc\n")
		fmt.Fprintf(os.Stderr, "  resume                             continue from the bookmark\n")
		fmt.Fprintf(os.Stderr, "  status                             print the player status\n")
		fmt.Fprintf(os.Stderr, "  dirs | add-dir <dir> | rm-dir <dir>\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	c := remote.NewClient(nil, *addr, *useJSON)
	if err := run(ctx, c, flag.Args()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, c *remote.Client, args []string) error {
	cmd, rest := args[0], args[1:]
	arg := func() (string, error) {
		if len(rest) == 0 {
			return "", fmt.Errorf("%s needs an argument", cmd)
		}
		return rest[0], nil
	}
	intArg := func() (int, error) {
		s, err := arg()
		if err != nil {
			return 0, err
		}
		return strconv.Atoi(s)
	}

	switch cmd {
	case "up", "down", "left", "right", "enter":
		return c.Press(ctx, cmd)
	case "menu":
		return c.TopMenu(ctx)
	case "popup":
		return c.Popup(ctx)
	case "chapter":
		n, err := intArg()
		if err != nil {
			return err
		}
		if n < 1 {
			return fmt.Errorf("chapter %d: chapters count from 1", n)
		}
		return c.Chapter(ctx, n-1)
	case "seek":
		s, err := arg()
		if err != nil {
			return err
		}
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return err
		}
		return c.Seek(ctx, secs)
	case "pause":
		return c.TogglePlay(ctx)
	case "audio", "sub":
		id, err := intArg()
		if err != nil {
			return err
		}
		return c.Track(ctx, cmd, id)
	case "open":
		dir, err := arg()
		if err != nil {
			return err
		}
		return c.Open(ctx, dir)
	case "resume":
		return c.Resume(ctx)
	case "status":
		st, err := c.Status(ctx)
		if err != nil {
			return err
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(st)
	case "dirs":
		dirs, err := c.Directories(ctx)
		if err != nil {
			return err
		}
		for _, d := range dirs {
			fmt.Println(d)
		}
		return nil
	case "add-dir":
		dir, err := arg()
		if err != nil {
			return err
		}
		return c.AddDirectory(ctx, dir)
	case "rm-dir":
		dir, err := arg()
		if err != nil {
			return err
		}
		return c.RemoveDirectory(ctx, dir)
	}
	return fmt.Errorf("unknown command %q", cmd)
}
