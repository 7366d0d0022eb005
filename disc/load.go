package disc

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

// Navigation dump file names looked up under <root>/BDMV.
var dumpNames = []string{"navigation.cbor", "navigation.json"}

// Load reads the navigation dump written by the disc parser. path is either
// a dump file or a disc root directory containing BDMV/navigation.{cbor,json}.
func Load(path string) (*Info, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}

	fi, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("cannot open disc %s: %w", path, err)
	}

	root, file := filepath.Dir(abs), abs
	if fi.IsDir() {
		root, file = abs, ""
		for _, name := range dumpNames {
			candidate := filepath.Join(abs, "BDMV", name)
			if _, err := os.Stat(candidate); err == nil {
				file = candidate
				break
			}
		}
		if file == "" {
			return nil, fmt.Errorf("no navigation dump under %s/BDMV: %w", abs, ErrNotFound)
		}
	} else if filepath.Base(root) == "BDMV" {
		root = filepath.Dir(root)
	}

	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", file, err)
	}

	info, err := Decode(data, strings.EqualFold(filepath.Ext(file), ".cbor"))
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", file, err)
	}
	info.Root = root
	return info, nil
}

// Decode parses a navigation dump from JSON or CBOR.
func Decode(data []byte, isCBOR bool) (*Info, error) {
	var info Info
	if isCBOR {
		if err := cbor.Unmarshal(data, &info); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, &info); err != nil {
		return nil, err
	}

	if len(info.Objects) == 0 {
		return nil, errors.New("navigation dump has no movie objects")
	}
	if info.Name == "" {
		info.Name = "Untitled"
	}
	if info.Playlists == nil {
		info.Playlists = make(map[uint32]*Playlist)
	}
	for id, pl := range info.Playlists {
		if pl == nil {
			delete(info.Playlists, id)
			continue
		}
		pl.ID = id
	}
	return &info, nil
}

// ClipPath returns the stream file of a clip under a disc root.
func ClipPath(root, clipID string) string {
	return filepath.Join(root, "BDMV", "STREAM", clipID+".m2ts")
}
