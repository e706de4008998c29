package compiler

import (
	"testing"
)

var fuzzSeeds = []string{
	// Punctuation
	`( ) [ ] , . : @ + - * / % = == != > < >= <=`,
	// Literals
	`42`, `3.14`, `7.`, `"hello"`, `'single'`, `"Hi [name]!"`, `""`,
	`true`, `false`, `null`, `nothing`,
	// Comments
	"# note\ndisplay 1", "display 1 // trailing",
	// Compound keywords
	`end action`, `end   when`, "end\nwhile", `divided by`, `does not equal`, `does not`,
	// Statements
	`display 1 + 2 * 3`,
	`set x which is number to 5`,
	`x is x minus 1`,
	"when x is greater than or equal to 3 then display \"a\" otherwise when x is 2 then display \"b\" otherwise display \"c\" end when",
	"while n > 0 do\n set n to n - 1\nend while",
	"for each character c in \"abc\"\n display c\nend for",
	"action add with a and b\n give back a + b\nend action\ndisplay add(1, 2)",
	"task t with x\n return\nend task\nt with 1",
	"module M\ndata D:\n a as text\nend data\nend module",
	`display Format(3.14159, "0.00")`,
	`display [1, 2, 3][0].length`,
	`serve on port 8080`,
	`database query "SELECT 1"`,
	`update "u" with v`,
	`include "other.prose"`,
	"@author \"me\"",
	// Edge cases
	`"unterminated`, `'`, `!`, `$`, `@`, `[`, `]`, `(`, `Format(`, `set`, `set x to`,
	`when`, `when x then`, `otherwise`, `end`, `is is is`, `a is greater`,
	// Unicode
	`display "こんにちは"`, `café is 1`, `naïve`,
	// Empty and whitespace
	``, `   `, "\t\n\r",
}

// ---------------------------------------------------------------------------
// FuzzLexer: the lexer never panics and always ends with exactly one EOF.
// ---------------------------------------------------------------------------

func FuzzLexer(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("lexer panicked on input %q: %v", data, r)
			}
		}()

		tokens := Tokenize(data)
		if len(tokens) == 0 || tokens[len(tokens)-1].Kind != TokenEOF {
			t.Fatalf("Tokenize(%q) does not end with EOF", data)
		}
		for _, tok := range tokens[:len(tokens)-1] {
			if tok.Kind == TokenEOF {
				t.Fatalf("Tokenize(%q) has EOF before the end", data)
			}
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzParser: parse errors are acceptable; panics are not.
// ---------------------------------------------------------------------------

func FuzzParser(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("parser panicked on input %q: %v", data, r)
			}
		}()

		prog, err := ParseSource(data)
		if err != nil {
			if _, ok := err.(*ParseError); !ok {
				t.Fatalf("ParseSource(%q) returned %T, want *ParseError", data, err)
			}
			return
		}
		if prog == nil {
			t.Fatalf("ParseSource(%q) returned nil program without error", data)
		}
	})
}

// ---------------------------------------------------------------------------
// FuzzSemantic: the checker accepts any program the parser accepts.
// ---------------------------------------------------------------------------

func FuzzSemantic(f *testing.F) {
	for _, s := range fuzzSeeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, data string) {
		prog, err := ParseSource(data)
		if err != nil {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				t.Fatalf("Check panicked on input %q: %v", data, r)
			}
		}()
		_ = Check(prog)
		_ = Symbols(prog)
	})
}
