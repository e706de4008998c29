package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chazu/prose/compiler"
	"github.com/chazu/prose/manifest"
	"github.com/chazu/prose/pkg/bytecode"
	"github.com/chazu/prose/server"
	"github.com/chazu/prose/store"
)

// newFlagSet returns a flag set for a subcommand that reports errors instead
// of exiting.
func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet("prose "+name, flag.ContinueOnError)
	fs.Usage = func() {
		for _, c := range commands {
			if c.name == name {
				fmt.Fprintf(fs.Output(), "Usage: prose %s\n", c.usage)
			}
		}
		fs.PrintDefaults()
	}
	return fs
}

// fileArg parses args and returns the single FILE operand with its project.
func fileArg(g *globalOptions, fs *flag.FlagSet, args []string) (string, *manifest.Manifest, error) {
	if err := fs.Parse(args); err != nil {
		return "", nil, err
	}
	if fs.NArg() != 1 {
		fs.Usage()
		return "", nil, fmt.Errorf("%s: expected exactly one FILE argument", fs.Name())
	}
	path := fs.Arg(0)
	m, err := loadProject(path)
	if err != nil {
		return "", nil, err
	}
	configureLogging(g, m.Log.Verbosity, m.LogPath())
	return path, m, nil
}

// ---------------------------------------------------------------------------
// prose run
// ---------------------------------------------------------------------------

func runCommand(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("run")
	maxSteps := fs.Int("max-steps", -1, "Abort after `N` instructions (0 = unlimited, default from prose.toml)")
	maxDepth := fs.Int("max-call-depth", -1, "Bound nested action calls to `N` (default from prose.toml)")
	noCache := fs.Bool("no-cache", false, "Bypass the build cache")

	path, m, err := fileArg(g, fs, args)
	if err != nil {
		return err
	}
	if *maxSteps < 0 {
		*maxSteps = m.Run.MaxSteps
	}
	if *maxDepth < 0 {
		*maxDepth = m.Run.MaxCallDepth
	}

	b := newBuilder(m, true, *noCache)
	defer b.Close()

	f, err := b.load(path)
	if err != nil {
		return err
	}
	return execute(f, stdout, *maxSteps, *maxDepth)
}

// execute runs f, writing Display output to stdout.
func execute(f *bytecode.File, stdout io.Writer, maxSteps, maxDepth int) error {
	opts := []bytecode.Option{
		bytecode.WithOutput(stdout),
		bytecode.WithMaxSteps(maxSteps),
	}
	if maxDepth > 0 {
		opts = append(opts, bytecode.WithMaxCallDepth(maxDepth))
	}
	vm := bytecode.NewInterpreter(opts...)

	start := time.Now()
	err := vm.Run(f)
	log.Debugf("executed %d instructions in %s", vm.Steps(), time.Since(start))
	return err
}

// ---------------------------------------------------------------------------
// prose build
// ---------------------------------------------------------------------------

func buildCommand(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("build")
	output := fs.String("o", "", "Write bytecode to `OUT` (default under [build] output)")
	format := fs.String("format", "", "Output encoding: json or cbor (default from prose.toml)")
	debug := fs.Bool("debug", false, "Include per-instruction source lines")
	noCache := fs.Bool("no-cache", false, "Bypass the build cache")

	path, m, err := fileArg(g, fs, args)
	if err != nil {
		return err
	}
	if *format == "" {
		*format = m.Build.Format
	}
	enc, err := bytecode.ParseEncoding(*format)
	if err != nil {
		return err
	}

	b := newBuilder(m, *debug || m.Build.Debug, *noCache)
	defer b.Close()

	f, err := b.compile(path)
	if err != nil {
		return err
	}

	out := *output
	if out == "" {
		out = m.OutputPath(path, enc.Ext())
	}
	if err := bytecode.WriteFile(out, f, enc); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "Wrote %s (%d instructions, %d constants)\n", out, len(f.Instructions), len(f.Constants))
	return nil
}

// ---------------------------------------------------------------------------
// prose disasm / tokens / check
// ---------------------------------------------------------------------------

func disasmCommand(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("disasm")
	path, m, err := fileArg(g, fs, args)
	if err != nil {
		return err
	}

	b := newBuilder(m, true, true)
	f, err := b.load(path)
	if err != nil {
		return err
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	fmt.Fprint(stdout, bytecode.DisassembleWithName(f, name))
	return nil
}

func tokensCommand(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("tokens")
	path, _, err := fileArg(g, fs, args)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, tok := range compiler.Tokenize(string(data)) {
		fmt.Fprintf(stdout, "%4d:%-3d %s\n", tok.Line, tok.Column, tok)
	}
	return nil
}

func checkCommand(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("check")
	path, m, err := fileArg(g, fs, args)
	if err != nil {
		return err
	}

	b := newBuilder(m, false, true)
	prog, _, err := b.parse(path)
	if err != nil {
		return err
	}
	if _, err := bytecode.Generate(prog, bytecode.Options{BuildID: "check"}); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	diags := compiler.Check(prog)
	for _, d := range diags {
		fmt.Fprintf(stdout, "%s: %s\n", path, d)
	}
	if len(diags) == 0 {
		fmt.Fprintf(stdout, "%s: ok\n", path)
	}
	return nil
}

// ---------------------------------------------------------------------------
// prose cache
// ---------------------------------------------------------------------------

func cacheCommand(g *globalOptions, args []string, stdout io.Writer) error {
	fs := newFlagSet("cache")
	prune := fs.Duration("prune", -1, "Delete entries older than `DURATION` (0 clears the cache)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	m, err := loadProject(filepath.Join(".", manifest.FileName))
	if err != nil {
		return err
	}
	configureLogging(g, m.Log.Verbosity, m.LogPath())

	path := m.CachePath()
	if path == "" {
		return fmt.Errorf("the build cache is disabled in %s", manifest.FileName)
	}
	s, err := store.Open(path)
	if err != nil {
		return err
	}
	defer s.Close()

	if *prune >= 0 {
		n, err := s.Prune(*prune)
		if err != nil {
			return err
		}
		fmt.Fprintf(stdout, "Pruned %d entries\n", n)
		return nil
	}

	entries, err := s.Entries()
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintf(stdout, "%s  %s  %-14s %6d  %s\n",
			e.Key[:12], e.CreatedAt.Format(time.DateTime), e.CompilerVersion, e.Size, e.SourceFile)
	}
	fmt.Fprintf(stdout, "%d entries in %s\n", len(entries), path)
	return nil
}

// ---------------------------------------------------------------------------
// prose lsp
// ---------------------------------------------------------------------------

func lspCommand(g *globalOptions, args []string, stdout io.Writer) error {
	if len(args) != 0 {
		return fmt.Errorf("lsp takes no arguments")
	}
	configureLogging(g, 0, nil)
	return server.NewLSP(nil).Run()
}
