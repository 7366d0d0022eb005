// bdplay - Blu-ray navigation player driving an external playback engine
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/chazu/hdmvplay/engine"
	"github.com/chazu/hdmvplay/manifest"
	"github.com/chazu/hdmvplay/remote"
	"github.com/chazu/hdmvplay/session"
	"github.com/chazu/hdmvplay/store"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"
)

var log = commonlog.GetLogger("hdmvplay.bdplay")

func main() {
	verbosity := flag.Int("v", -1, "Log verbosity (-4 silent .. 2 debug); overrides [log] verbosity")
	configDir := flag.String("config", ".", "Directory to search upwards for bdplay.toml")
	engineAddr := flag.String("engine", "", "Engine gRPC address; overrides [engine] address")
	simulate := flag.Bool("simulate", false, "Use the built-in engine simulator")
	serveAddr := flag.String("serve", "", "Remote control listen address; overrides [remote] listen")
	noServe := flag.Bool("no-serve", false, "Do not start the remote control API")
	tty := flag.Bool("tty", false, "Read remote keys from the terminal")
	mount := flag.String("mount", "", "Remember a directory discs can be opened from")
	storePath := flag.String("store", "", "Bookmark database; overrides [store] path")
	noStore := flag.Bool("no-store", false, "Disable bookmarks and the directory list")
	resume := flag.Bool("resume", false, "Continue the disc from its bookmark")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bdplay [options] [disc-dir]\n\n")
		fmt.Fprintf(os.Stderr, "Opens a Blu-ray disc directory and runs its navigation program.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  bdplay -simulate -tty ./DISC       # Navigate menus from the keyboard\n")
		fmt.Fprintf(os.Stderr, "  bdplay -engine localhost:7479 ./DISC\n")
		fmt.Fprintf(os.Stderr, "  bdplay -mount ~/discs -no-serve    # Remember a directory and exit\n")
	}
	flag.Parse()

	if err := run(options{
		verbosity:    *verbosity,
		verbositySet: isFlagSet("v"),
		configDir:    *configDir,
		engineAddr:   *engineAddr,
		simulate:     *simulate,
		serveAddr:    *serveAddr,
		noServe:      *noServe,
		tty:          *tty,
		mount:        *mount,
		storePath:    *storePath,
		noStore:      *noStore,
		resume:       *resume,
		disc:         flag.Arg(0),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func isFlagSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

type options struct {
	verbosity    int
	verbositySet bool
	configDir    string
	engineAddr   string
	simulate     bool
	serveAddr    string
	noServe      bool
	tty          bool
	mount        string
	storePath    string
	noStore      bool
	resume       bool
	disc         string
}

// loadConfig finds bdplay.toml and applies flag overrides.
func loadConfig(o options) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(o.configDir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		m = manifest.Default()
	}
	if o.verbositySet {
		m.Log.Verbosity = o.verbosity
	}
	if o.engineAddr != "" {
		m.Engine.Address = o.engineAddr
	}
	if o.simulate {
		m.Engine.Simulate = true
	}
	if o.serveAddr != "" {
		m.Remote.Listen = o.serveAddr
	}
	if o.noServe {
		m.Remote.Listen = ""
	}
	if o.storePath != "" {
		m.Store.Path = o.storePath
	}
	if o.noStore {
		m.Store.Path = ""
	}
	return m, manifest.Validate(m)
}

func openEngine(ctx context.Context, m *manifest.Manifest) (engine.Engine, error) {
	if m.Engine.Simulate || m.Engine.Address == "" {
		log.Notice("using engine simulator")
		return engine.NewSimulator(), nil
	}
	codec, err := engine.CodecByName(m.Engine.Codec)
	if err != nil {
		return nil, err
	}
	return engine.DialCodec(ctx, m.Engine.Address, codec)
}

func run(o options) error {
	m, err := loadConfig(o)
	if err != nil {
		return err
	}
	commonlog.Configure(m.Log.Verbosity, m.LogFile())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db        *store.Store
		bookmarks session.Bookmarks
	)
	if m.Store.Path != "" {
		db, err = store.Open(m.Store.Path)
		if err != nil {
			return err
		}
		defer db.Close()
		bookmarks = db
	}
	if o.mount != "" {
		if db == nil {
			return errors.New("-mount needs a store")
		}
		if err := db.AddDirectory(ctx, o.mount); err != nil {
			return err
		}
		log.Noticef("remembered %s", o.mount)
	}
	if o.disc == "" && m.Remote.Listen == "" && !o.tty {
		return nil
	}

	eng, err := openEngine(ctx, m)
	if err != nil {
		return err
	}
	defer eng.Close()

	sess := session.New(eng, session.Options{
		Config:    m.DriverConfig(),
		Display:   m.DisplayMetrics(),
		Bookmarks: bookmarks,
	})
	defer sess.Close()

	if o.disc != "" {
		if err := sess.OpenDisc(ctx, o.disc); err != nil {
			return err
		}
		if o.resume {
			if err := sess.ResumeBookmark(ctx); err != nil {
				log.Warningf("resume: %s", err)
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if m.Remote.Listen != "" {
		var dirs remote.Directories
		if db != nil {
			dirs = db
		}
		srv := remote.New(sess, dirs)
		g.Go(func() error { return srv.ListenAndServe(gctx, m.Remote.Listen) })
	}
	if o.tty {
		g.Go(func() error { return runTTY(gctx, sess) })
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()
	if errors.Is(err, errQuit) {
		return nil
	}
	return err
}
