// enginesim - serves the headless engine simulator over gRPC
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chazu/hdmvplay/engine"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("hdmvplay.enginesim")

func main() {
	addr := flag.String("listen", "127.0.0.1:7479", "gRPC listen address")
	verbosity := flag.Int("v", 1, "Log verbosity (-4 silent .. 2 debug)")
	rate := flag.Float64("rate", 1, "Simulated playback speed; 0 freezes time")
	clipLength := flag.Float64("clip-length", 0, "Seconds after which every clip ends; 0 plays clips forever")
	flag.Parse()

	commonlog.Configure(*verbosity, nil)
	if err := run(*addr, *rate, *clipLength); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(addr string, rate, clipLength float64) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	sim := engine.NewSimulator()
	defer sim.Close()
	g := engine.NewGRPCServer()
	engine.NewServer(sim).Register(g)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Noticef("engine simulator listening on %s", lis.Addr())
		return g.Serve(lis)
	})
	eg.Go(func() error {
		<-ctx.Done()
		g.Stop()
		return nil
	})
	if rate > 0 {
		eg.Go(func() error { return clock(ctx, sim, rate, clipLength) })
	}
	return eg.Wait()
}

// clock advances simulated playback in real time.
func clock(ctx context.Context, sim *engine.Simulator, rate, clipLength float64) error {
	const tick = 250 * time.Millisecond
	t := time.NewTicker(tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			st := sim.State()
			if st.Paused || st.Pos < 0 {
				continue
			}
			if clipLength > 0 && st.Time >= clipLength {
				sim.Finish()
				continue
			}
			sim.Advance(tick.Seconds() * rate)
		}
	}
}
