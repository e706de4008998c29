package compiler

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ---------------------------------------------------------------------------
// Include resolution
// ---------------------------------------------------------------------------

// ReadFunc loads a file by path. os.ReadFile satisfies it.
type ReadFunc func(path string) ([]byte, error)

// ResolveIncludes replaces each `include "path"` statement in prog with the
// statements of the included file. Paths are relative to dir, the directory
// of the including file, and nested includes resolve relative to their own
// file. Metadata from included files is appended. Include cycles are errors.
//
// prog.IncludedModules keeps the original top-level include statements.
func ResolveIncludes(prog *Program, dir string, read ReadFunc) error {
	return resolveIncludes(prog, dir, "", read)
}

// ResolveFileIncludes is ResolveIncludes for a program parsed from file, so
// that a file including itself is reported as a cycle.
func ResolveFileIncludes(prog *Program, file string, read ReadFunc) error {
	return resolveIncludes(prog, filepath.Dir(file), filepath.Clean(file), read)
}

func resolveIncludes(prog *Program, dir, root string, read ReadFunc) error {
	if read == nil {
		read = os.ReadFile
	}
	r := &includeResolver{read: read, active: make(map[string]bool)}
	if root != "" {
		r.active[root] = true
		r.chain = []string{root}
	}
	stmts, meta, err := r.splice(prog.Statements, dir)
	if err != nil {
		return err
	}
	prog.Statements = stmts
	prog.Metadata = append(prog.Metadata, meta...)
	return nil
}

type includeResolver struct {
	read   ReadFunc
	active map[string]bool // files currently being expanded
	chain  []string
}

func (r *includeResolver) splice(stmts []Stmt, dir string) ([]Stmt, []MetadataAnnotation, error) {
	var out []Stmt
	var meta []MetadataAnnotation

	for _, stmt := range stmts {
		switch n := stmt.(type) {
		case *IncludeStatement:
			included, m, err := r.load(n, dir)
			if err != nil {
				return nil, nil, err
			}
			out = append(out, included...)
			meta = append(meta, m...)

		case *ModuleDefinition:
			body, m, err := r.splice(n.Body, dir)
			if err != nil {
				return nil, nil, err
			}
			n.Body = body
			meta = append(meta, m...)
			out = append(out, n)

		default:
			out = append(out, stmt)
		}
	}
	return out, meta, nil
}

func (r *includeResolver) load(inc *IncludeStatement, dir string) ([]Stmt, []MetadataAnnotation, error) {
	path := inc.Path
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	path = filepath.Clean(path)

	if r.active[path] {
		cycle := append(append([]string{}, r.chain...), path)
		return nil, nil, fmt.Errorf("line %d: include cycle: %s", inc.PosVal.Line, strings.Join(cycle, " -> "))
	}

	data, err := r.read(path)
	if err != nil {
		return nil, nil, fmt.Errorf("line %d: include %q: %w", inc.PosVal.Line, inc.Path, err)
	}
	prog, err := ParseSource(string(data))
	if err != nil {
		return nil, nil, fmt.Errorf("in included file %s: %w", path, err)
	}

	r.active[path] = true
	r.chain = append(r.chain, path)
	defer func() {
		delete(r.active, path)
		r.chain = r.chain[:len(r.chain)-1]
	}()

	stmts, meta, err := r.splice(prog.Statements, filepath.Dir(path))
	if err != nil {
		return nil, nil, err
	}
	return stmts, append(prog.Metadata, meta...), nil
}
