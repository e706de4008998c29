// Package manifest handles prose.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// FileName is the manifest file looked up in a project directory.
const FileName = "prose.toml"

// Manifest represents a prose.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Source  Source  `toml:"source"`
	Build   Build   `toml:"build"`
	Run     Run     `toml:"run"`
	Log     Log     `toml:"log"`

	// Dir is the directory containing the prose.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Source configures source file locations. Dirs are also searched, in
// order, for include paths that do not resolve next to the including file.
type Source struct {
	Dirs  []string `toml:"dirs"`
	Entry string   `toml:"entry"`
}

// Build configures bytecode output.
type Build struct {
	Output string `toml:"output"`
	Format string `toml:"format"` // json or cbor
	Debug  bool   `toml:"debug"`
	Cache  string `toml:"cache"` // build cache database, "" disables
}

// Run configures the interpreter.
type Run struct {
	MaxSteps     int `toml:"max-steps"`      // 0 means unlimited
	MaxCallDepth int `toml:"max-call-depth"` // 0 means the interpreter default
}

// Log configures commonlog output.
type Log struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the manifest used when no prose.toml exists.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults(nil)
	return m
}

// Load parses a prose.toml file from the given directory.
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
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	m.applyDefaults(&md)
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &m, nil
}

// applyDefaults fills unset fields. The cache path is only defaulted when
// the key is absent, so cache = "" turns caching off.
func (m *Manifest) applyDefaults(md *toml.MetaData) {
	if len(m.Source.Dirs) == 0 {
		m.Source.Dirs = []string{"."}
	}
	if m.Source.Entry == "" {
		m.Source.Entry = "main.prose"
	}
	if m.Build.Output == "" {
		m.Build.Output = "build"
	}
	if m.Build.Format == "" {
		m.Build.Format = "json"
	}
	if md == nil || !md.IsDefined("build", "cache") {
		m.Build.Cache = filepath.Join(".prose", "cache.db")
	}
}

func (m *Manifest) validate() error {
	switch m.Build.Format {
	case "json", "cbor":
	default:
		return fmt.Errorf("[build] format must be json or cbor, got %q", m.Build.Format)
	}
	if m.Run.MaxSteps < 0 {
		return fmt.Errorf("[run] max-steps must not be negative")
	}
	if m.Run.MaxCallDepth < 0 {
		return fmt.Errorf("[run] max-call-depth must not be negative")
	}
	return nil
}

// FindAndLoad walks up from startDir to find a prose.toml file,
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

// resolve joins rel onto the project directory unless it is absolute.
func (m *Manifest) resolve(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(m.Dir, rel)
}

// SourceDirPaths returns absolute paths for the configured source directories.
func (m *Manifest) SourceDirPaths() []string {
	var paths []string
	for _, d := range m.Source.Dirs {
		paths = append(paths, m.resolve(d))
	}
	return paths
}

// EntryPath returns the path of the entry source file.
func (m *Manifest) EntryPath() string {
	return m.resolve(m.Source.Entry)
}

// OutputPath returns where the bytecode for source is written: the build
// directory, the source's base name, and ext.
func (m *Manifest) OutputPath(source, ext string) string {
	base := strings.TrimSuffix(filepath.Base(source), filepath.Ext(source))
	return filepath.Join(m.resolve(m.Build.Output), base+ext)
}

// CachePath returns the build cache database path, or "" when caching is
// disabled.
func (m *Manifest) CachePath() string {
	if m.Build.Cache == "" {
		return ""
	}
	return m.resolve(m.Build.Cache)
}

// LogPath returns the log file path, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}
