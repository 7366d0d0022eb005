// Package manifest handles bdplay.toml player configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/chazu/hdmvplay/hdmv"
)

// FileName is the configuration file looked up by FindAndLoad.
const FileName = "bdplay.toml"

// Manifest represents a bdplay.toml configuration.
type Manifest struct {
	Engine  Engine  `toml:"engine" json:"engine"`
	Remote  Remote  `toml:"remote" json:"remote"`
	Log     Log     `toml:"log" json:"log"`
	Store   Store   `toml:"store" json:"store"`
	Menu    Menu    `toml:"menu" json:"menu"`
	Display Display `toml:"display" json:"display"`
	Driver  Driver  `toml:"driver" json:"driver"`

	// Dir is the directory containing the bdplay.toml file (set at load time).
	Dir string `toml:"-" json:"-"`
}

// Engine selects the playback engine.
type Engine struct {
	Address  string `toml:"address" json:"address"`
	Simulate bool   `toml:"simulate" json:"simulate"`
	// Codec is the frame codec spoken to a remote engine: "cbor" or
	// "engineproto".
	Codec string `toml:"codec" json:"codec"`
}

// Remote configures the remote-control API.
type Remote struct {
	Listen string `toml:"listen" json:"listen"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity" json:"verbosity"`
	File      string `toml:"file" json:"file"`
}

// Store configures persistence.
type Store struct {
	Path string `toml:"path" json:"path"`
}

// Menu configures menu behavior.
type Menu struct {
	TransitionScale float64 `toml:"transition-scale" json:"transition-scale"`
	AutoActionDepth int     `toml:"auto-action-depth" json:"auto-action-depth"`
}

// Display describes the output surface.
type Display struct {
	Width  int `toml:"width" json:"width"`
	Height int `toml:"height" json:"height"`
}

// Driver configures the program driver.
type Driver struct {
	StepLimit int `toml:"step-limit" json:"step-limit"`
}

// Default returns the configuration used when no file is present.
func Default() *Manifest {
	cfg := hdmv.DefaultConfig()
	return &Manifest{
		Engine: Engine{Codec: "cbor"},
		Remote: Remote{Listen: "127.0.0.1:7480"},
		Store:  Store{Path: defaultStorePath()},
		Menu: Menu{
			TransitionScale: cfg.TransitionScale,
			AutoActionDepth: cfg.AutoActionDepth,
		},
		Display: Display{Width: 1920, Height: 1080},
		Driver:  Driver{StepLimit: cfg.StepLimit},
	}
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "bdplay.db"
	}
	return filepath.Join(dir, "bdplay", "bdplay.db")
}

// Load parses a bdplay.toml file from the given directory. Keys absent from
// the file keep their defaults.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m := Default()
	md, err := toml.Decode(string(data), m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		log.Warningf("%s: ignoring unknown keys %v", path, undecoded)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Relative paths are relative to the file.
	if m.Store.Path != "" && m.Store.Path != ":memory:" && !filepath.IsAbs(m.Store.Path) && md.IsDefined("store", "path") {
		m.Store.Path = filepath.Join(m.Dir, m.Store.Path)
	}
	if m.Log.File != "" && !filepath.IsAbs(m.Log.File) {
		m.Log.File = filepath.Join(m.Dir, m.Log.File)
	}

	if err := Validate(m); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", path, err)
	}
	return m, nil
}

// FindAndLoad walks up from startDir to find a bdplay.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

// DriverConfig returns the interpreter tunables.
func (m *Manifest) DriverConfig() hdmv.Config {
	return hdmv.Config{
		StepLimit:       m.Driver.StepLimit,
		TransitionScale: m.Menu.TransitionScale,
		AutoActionDepth: m.Menu.AutoActionDepth,
	}
}

// DisplayMetrics returns the display for the capability register.
func (m *Manifest) DisplayMetrics() hdmv.Display {
	return hdmv.Display{Width: m.Display.Width, Height: m.Display.Height}
}

// LogFile returns the log file path, nil for stderr.
func (m *Manifest) LogFile() *string {
	if m.Log.File == "" {
		return nil
	}
	f := m.Log.File
	return &f
}
