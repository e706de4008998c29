// Prose CLI - compiles, inspects and runs Prose programs
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/tliron/commonlog"

	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("prose.cli")

// verbosity is a repeatable -v flag.
type verbosity int

func (v *verbosity) String() string   { return strconv.Itoa(int(*v)) }
func (v *verbosity) IsBoolFlag() bool { return true }

func (v *verbosity) Set(s string) error {
	if s == "true" {
		*v++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid verbosity %q", s)
	}
	*v = verbosity(n)
	return nil
}

// globalOptions are the flags accepted before the subcommand.
type globalOptions struct {
	verbosity verbosity
	logFile   string
}

// command is one subcommand. run receives the arguments after its name.
type command struct {
	name    string
	usage   string
	summary string
	run     func(g *globalOptions, args []string, stdout io.Writer) error
}

// commands is filled in init because the subcommands' flag sets read it
// for their usage text.
var commands []command

func init() {
	commands = []command{
		{"run", "run [-max-steps N] [-max-call-depth N] [-no-cache] FILE", "compile a .prose file (or load a .pbc/.pbcb file) and execute it", runCommand},
		{"build", "build [-o OUT] [-format json|cbor] [-debug] [-no-cache] FILE", "compile a .prose file to a bytecode file", buildCommand},
		{"disasm", "disasm FILE", "print a human-readable listing of a program's bytecode", disasmCommand},
		{"tokens", "tokens FILE", "print the token stream of a .prose file", tokensCommand},
		{"check", "check FILE", "report parse, compile and semantic problems without running", checkCommand},
		{"cache", "cache [-prune DURATION]", "list or prune the build cache", cacheCommand},
		{"lsp", "lsp", "start the language server on stdio", lspCommand},
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "Usage: prose [-v] [-log FILE] <command> [arguments]\n\n")
	fmt.Fprintf(os.Stderr, "Commands:\n")
	for _, c := range commands {
		fmt.Fprintf(os.Stderr, "  %-8s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(os.Stderr, "\nOptions:\n")
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, "\nExamples:\n")
	fmt.Fprintf(os.Stderr, "  prose run hello.prose            # Compile and run\n")
	fmt.Fprintf(os.Stderr, "  prose build -format cbor app.prose # Write build/app.pbcb\n")
	fmt.Fprintf(os.Stderr, "  prose disasm build/app.pbc       # Inspect compiled bytecode\n")
	fmt.Fprintf(os.Stderr, "  prose -v -v check app.prose      # Check with debug logging\n")
}

func main() {
	var g globalOptions
	flag.Var(&g.verbosity, "v", "Increase log verbosity (repeatable)")
	flag.StringVar(&g.logFile, "log", "", "Write logs to `FILE` instead of stderr")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() == 0 {
		usage()
		os.Exit(2)
	}

	name, args := flag.Arg(0), flag.Args()[1:]
	for _, c := range commands {
		if c.name != name {
			continue
		}
		err := c.run(&g, args, os.Stdout)
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", name)
	usage()
	os.Exit(2)
}

// configureLogging applies the -v and -log flags, falling back to the
// manifest's [log] table for whichever the command line leaves unset.
func configureLogging(g *globalOptions, verbosityDefault int, pathDefault *string) {
	v := int(g.verbosity)
	if v == 0 {
		v = verbosityDefault
	}
	path := pathDefault
	if g.logFile != "" {
		path = &g.logFile
	}
	commonlog.Configure(v, path)
	log.Debugf("logging at verbosity %d", v)
}
