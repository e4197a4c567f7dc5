// Package manifest handles stencil.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in project directories.
const FileName = "stencil.toml"

// Manifest represents a stencil.toml project configuration.
type Manifest struct {
	Project   Project   `toml:"project"`
	Templates Templates `toml:"templates"`
	Data      Data      `toml:"data"`
	Output    Output    `toml:"output"`
	Cache     Cache     `toml:"cache"`
	Server    Server    `toml:"server"`
	Log       Log       `toml:"log"`

	// Dir is the directory containing the stencil.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name string `toml:"name"`
}

// Templates configures where templates live and which one is rendered
// when none is named.
type Templates struct {
	Dirs []string `toml:"dirs"`
	Ext  string   `toml:"ext"`
	Main string   `toml:"main"`
}

// Data names the default data file.
type Data struct {
	File string `toml:"file"`
}

// Output names the default output file; empty means stdout.
type Output struct {
	File string `toml:"file"`
}

// Cache configures the compiled program cache.
type Cache struct {
	Path string `toml:"path"`
}

// Server configures the render service.
type Server struct {
	Addr     string `toml:"addr"`
	GRPCAddr string `toml:"grpc-addr"`
}

// Log configures logging.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Load parses a stencil.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%s: unknown key %s", path, undecoded[0])
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if len(m.Templates.Dirs) == 0 {
		m.Templates.Dirs = []string{"templates"}
	}
	if m.Templates.Ext == "" {
		m.Templates.Ext = ".tmpl"
	}

	return &m, nil
}

// FindAndLoad walks up from startDir to find a stencil.toml file,
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

// Path resolves p against the manifest directory. Empty and absolute
// paths are returned unchanged.
func (m *Manifest) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}

// TemplateDirPaths returns absolute paths for the configured template directories.
func (m *Manifest) TemplateDirPaths() []string {
	var paths []string
	for _, d := range m.Templates.Dirs {
		paths = append(paths, m.Path(d))
	}
	return paths
}

// DataPath returns the absolute path of the default data file, if any.
func (m *Manifest) DataPath() string {
	return m.Path(m.Data.File)
}

// OutputPath returns the absolute path of the default output file, if any.
func (m *Manifest) OutputPath() string {
	return m.Path(m.Output.File)
}

// CachePath returns the absolute path of the program cache, if any.
func (m *Manifest) CachePath() string {
	if m.Cache.Path == ":memory:" {
		return m.Cache.Path
	}
	return m.Path(m.Cache.Path)
}

// LogPath returns the absolute path of the log file, if any.
func (m *Manifest) LogPath() string {
	return m.Path(m.Log.File)
}
