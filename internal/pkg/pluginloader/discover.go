package pluginloader

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const entryFile = "init.lua"

// Candidate is a plugin file found in the plugin directory.
type Candidate struct {
	ID   string
	Path string
	// Dir holds the manifest or package descriptor, if any.
	Dir string
}

// Manifest carries the optional host-version constraints of a plugin.
type Manifest struct {
	MinCoreVersion string `json:"minCoreVersion"`
	MaxCoreVersion string `json:"maxCoreVersion"`
}

// Discover lists plugins in dir. A plugin is either <id>.lua at the top
// level or a directory <id>/ containing init.lua. A missing directory is
// not an error.
func Discover(dir string) ([]Candidate, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}

	var out []Candidate
	for _, e := range entries {
		name := e.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		full := filepath.Join(dir, name)
		switch {
		case e.IsDir():
			entry := filepath.Join(full, entryFile)
			if _, err := os.Stat(entry); err != nil {
				continue
			}
			out = append(out, Candidate{ID: name, Path: entry, Dir: full})
		case strings.HasSuffix(name, ".lua"):
			out = append(out, Candidate{ID: strings.TrimSuffix(name, ".lua"), Path: full})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ReadManifest loads manifest.json, then package.json, from the plugin
// directory. Single-file plugins may ship <id>.manifest.json next to them.
func ReadManifest(c Candidate) (*Manifest, error) {
	var paths []string
	if c.Dir != "" {
		paths = append(paths, filepath.Join(c.Dir, "manifest.json"), filepath.Join(c.Dir, "package.json"))
	} else {
		paths = append(paths, strings.TrimSuffix(c.Path, ".lua")+".manifest.json")
	}

	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var m Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("parse %s: %w", p, err)
		}
		return &m, nil
	}
	return nil, nil
}
