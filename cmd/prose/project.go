package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chazu/prose/compiler"
	"github.com/chazu/prose/manifest"
	"github.com/chazu/prose/pkg/bytecode"
	"github.com/chazu/prose/store"
)

// loadProject returns the manifest governing path: the nearest prose.toml
// above it, or the defaults rooted at path's directory.
func loadProject(path string) (*manifest.Manifest, error) {
	dir := filepath.Dir(path)
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m == nil {
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, err
		}
		m = manifest.Default(abs)
	}
	return m, nil
}

// builder compiles source files for one project.
type builder struct {
	m     *manifest.Manifest
	debug bool
	cache *store.Store // nil when caching is off
}

// newBuilder opens the project's build cache unless noCache is set or the
// manifest disables it. A cache that cannot be opened is logged and skipped.
func newBuilder(m *manifest.Manifest, debug, noCache bool) *builder {
	b := &builder{m: m, debug: debug}
	if noCache {
		return b
	}
	if path := m.CachePath(); path != "" {
		s, err := store.Open(path)
		if err != nil {
			log.Warningf("build cache disabled: %s", err)
			return b
		}
		b.cache = s
	}
	return b
}

// Close releases the build cache.
func (b *builder) Close() error {
	if b.cache != nil {
		return b.cache.Close()
	}
	return nil
}

// parse reads path, parses it and splices in its includes. sources collects
// the path and text of every file read, in order.
func (b *builder) parse(path string) (prog *compiler.Program, sources []string, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	sources = []string{path, string(data)}

	prog, err = compiler.ParseSource(string(data))
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := compiler.ResolveFileIncludes(prog, path, b.includeReader(path, &sources)); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", path, err)
	}
	return prog, sources, nil
}

// includeReader reads include targets next to the including file first,
// then under each configured source directory.
func (b *builder) includeReader(entry string, sources *[]string) compiler.ReadFunc {
	base := filepath.Dir(entry)
	return func(path string) ([]byte, error) {
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			rel, relErr := filepath.Rel(base, path)
			if relErr == nil && !strings.HasPrefix(rel, "..") {
				for _, dir := range b.m.SourceDirPaths() {
					alt := filepath.Join(dir, rel)
					if d, e := os.ReadFile(alt); e == nil {
						log.Debugf("include %s found in %s", rel, dir)
						data, err, path = d, nil, alt
						break
					}
				}
			}
		}
		if err == nil {
			*sources = append(*sources, path, string(data))
		}
		return data, err
	}
}

// cacheVersion distinguishes debug builds from plain ones in cache keys.
func (b *builder) cacheVersion() string {
	if b.debug {
		return bytecode.CompilerVersion + "+debug"
	}
	return bytecode.CompilerVersion
}

// compile produces bytecode for the source file at path, consulting the
// build cache when one is open.
func (b *builder) compile(path string) (*bytecode.File, error) {
	prog, sources, err := b.parse(path)
	if err != nil {
		return nil, err
	}

	var key string
	if b.cache != nil {
		key = store.Key(strings.Join(sources, "\x00"), b.cacheVersion())
		f, ok, err := b.cache.Get(key)
		if err != nil {
			log.Warningf("reading build cache: %s", err)
		} else if ok {
			log.Infof("using cached bytecode for %s", path)
			return f, nil
		}
	}

	f, err := bytecode.Generate(prog, bytecode.Options{
		SourceFile: b.sourceName(path),
		Debug:      b.debug,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	if b.cache != nil {
		if err := b.cache.Put(key, f); err != nil {
			log.Warningf("writing build cache: %s", err)
		}
	}
	return f, nil
}

// load returns the program at path, compiling .prose sources and decoding
// bytecode files.
func (b *builder) load(path string) (*bytecode.File, error) {
	if bytecode.IsBytecodePath(path) {
		return bytecode.ReadFile(path)
	}
	return b.compile(path)
}

// sourceName records path relative to the project directory when it lies
// inside it.
func (b *builder) sourceName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if rel, err := filepath.Rel(b.m.Dir, abs); err == nil && !strings.HasPrefix(rel, "..") {
		return filepath.ToSlash(rel)
	}
	return path
}
