package bytecode

import (
	"io"
	"testing"

	"github.com/chazu/prose/compiler"
)

var runSeeds = []string{
	"display 1",
	"set x to 5\nwhile x is greater than 0\ndisplay x\nset x to x minus 1\nend while",
	"when x equals 1 then display \"a\" otherwise display \"b\" end when",
	"for each character c in \"hello\"\ndisplay c\nend for",
	"action f with n\nreturn n times 2\nend action\ndisplay f(3)",
	"display Format(12.5, \"#,##0.00\")",
	"set xs to [1, 2, 3]\ndisplay xs[5]",
	"display 1 divided by 0",
	"display \"[a] and [b]\"",
}

// FuzzCompileAndRun checks that no source text can make the generator or
// interpreter panic.
func FuzzCompileAndRun(f *testing.F) {
	for _, seed := range runSeeds {
		f.Add(seed)
	}
	f.Fuzz(func(t *testing.T, src string) {
		prog, err := compiler.ParseSource(src)
		if err != nil {
			return
		}
		file, err := Generate(prog, Options{BuildID: "fuzz"})
		if err != nil {
			return
		}
		if err := file.Validate(); err != nil {
			t.Fatalf("generated file is invalid: %v", err)
		}
		// A small step budget keeps string-doubling loops bounded.
		vm := NewInterpreter(WithOutput(io.Discard), WithMaxSteps(100), WithMaxCallDepth(16))
		_ = vm.Execute(file.Instructions)
	})
}

func BenchmarkGenerate(b *testing.B) {
	prog, err := compiler.ParseSource(runSeeds[1] + "\n" + runSeeds[4])
	if err != nil {
		b.Fatal(err)
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := Generate(prog, Options{BuildID: "bench"}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExecuteLoop(b *testing.B) {
	f := compileSource(b, "set x to 1000\nwhile x > 0\nset x to x minus 1\nend while")
	vm := NewInterpreter(WithOutput(io.Discard))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := vm.Execute(f.Instructions); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkExecuteTaskCalls(b *testing.B) {
	f := compileSource(b, "action inc with n\nreturn n plus 1\nend action\nset i to 0\nwhile i < 200\nset i to inc(i)\nend while")
	vm := NewInterpreter(WithOutput(io.Discard))
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := vm.Execute(f.Instructions); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeCBOR(b *testing.B) {
	f := compileSource(b, runSeeds[1])
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := MarshalFile(f); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkEncodeJSON(b *testing.B) {
	f := compileSource(b, runSeeds[1])
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := MarshalFileJSON(f); err != nil {
			b.Fatal(err)
		}
	}
}
