package server

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/prose/compiler"
	"github.com/chazu/prose/pkg/bytecode"
)

// Analysis is everything the server knows about one version of a document.
type Analysis struct {
	URI         protocol.DocumentUri
	Tokens      []compiler.Token
	Program     *compiler.Program // nil when the document does not parse
	Symbols     []compiler.Symbol
	Diagnostics []protocol.Diagnostic
}

// Analyze tokenizes, parses, compiles and checks text. Includes are resolved
// through read when uri names a local file, so calls to included actions are
// not reported as undefined.
func Analyze(uri protocol.DocumentUri, text string, read compiler.ReadFunc) *Analysis {
	a := &Analysis{
		URI:         uri,
		Tokens:      compiler.Tokenize(text),
		Diagnostics: []protocol.Diagnostic{},
	}

	prog, err := compiler.Parse(a.Tokens)
	if err != nil {
		a.addError(err)
		return a
	}
	a.Program = prog
	a.Symbols = compiler.Symbols(prog)

	// Compile and check a second, include-resolved copy. The local program
	// keeps positions that all belong to this document.
	full := prog
	if path := uriPath(uri); path != "" && len(prog.IncludedModules) > 0 {
		resolved, _ := compiler.Parse(a.Tokens)
		if err := compiler.ResolveFileIncludes(resolved, path, read); err != nil {
			a.addIncludeError(prog, err)
			return a
		}
		full = resolved
		a.Symbols = mergeSymbols(a.Symbols, compiler.Symbols(resolved))
	}

	if _, err := bytecode.Generate(full, bytecode.Options{BuildID: "lsp"}); err != nil {
		a.addError(err)
	}

	warnings := compiler.Check(full)
	if full != prog {
		// Keep only findings that also occur in the document on its own.
		// That drops warnings located in included files and "undefined
		// action" findings for actions that an include defines.
		local := make(map[compiler.Diagnostic]bool)
		for _, d := range compiler.Check(prog) {
			local[d] = true
		}
		kept := warnings[:0]
		for _, d := range warnings {
			if local[d] {
				kept = append(kept, d)
			}
		}
		warnings = kept
	}
	for _, d := range warnings {
		a.add(protocol.DiagnosticSeverityWarning, d.Pos.Line, d.Pos.Column, d.Message)
	}

	log.Debugf("analyzed %s: %d diagnostics, %d symbols", uri, len(a.Diagnostics), len(a.Symbols))
	return a
}

// mergeSymbols appends the symbols of extra that local does not define.
// Local symbols come first so definitions prefer this document.
func mergeSymbols(local, extra []compiler.Symbol) []compiler.Symbol {
	seen := make(map[string]bool, len(local))
	for _, s := range local {
		seen[s.Kind.String()+":"+s.Name] = true
	}
	out := local
	for _, s := range extra {
		if !seen[s.Kind.String()+":"+s.Name] {
			s.Pos = compiler.Position{} // position is in another file
			out = append(out, s)
		}
	}
	return out
}

func (a *Analysis) addError(err error) {
	var parseErr *compiler.ParseError
	var compileErr *bytecode.CompileError
	switch {
	case errors.As(err, &parseErr):
		a.add(protocol.DiagnosticSeverityError, parseErr.Line, parseErr.Column, parseErr.Message)
	case errors.As(err, &compileErr):
		a.add(protocol.DiagnosticSeverityError, compileErr.Line, 0, compileErr.Message)
	default:
		a.add(protocol.DiagnosticSeverityError, 0, 0, err.Error())
	}
}

// addIncludeError reports err on the include statement it names.
func (a *Analysis) addIncludeError(prog *compiler.Program, err error) {
	line, col := 0, 0
	for i, inc := range prog.IncludedModules {
		if i == 0 || strings.Contains(err.Error(), inc.Path) {
			line, col = inc.PosVal.Line, inc.PosVal.Column
		}
	}
	a.add(protocol.DiagnosticSeverityError, line, col, err.Error())
}

// add appends a diagnostic. line and col are 1-based; zero means unknown and
// maps to the start of the document or line.
func (a *Analysis) add(severity protocol.DiagnosticSeverity, line, col int, msg string) {
	source := lspName
	pos := lspPosition(line, col)
	a.Diagnostics = append(a.Diagnostics, protocol.Diagnostic{
		Range:    protocol.Range{Start: pos, End: pos},
		Severity: &severity,
		Source:   &source,
		Message:  msg,
	})
}

func lspPosition(line, col int) protocol.Position {
	var p protocol.Position
	if line > 0 {
		p.Line = protocol.UInteger(line - 1)
	}
	if col > 0 {
		p.Character = protocol.UInteger(col - 1)
	}
	return p
}

// uriPath returns the local file path of a file:// URI, or "".
func uriPath(uri protocol.DocumentUri) string {
	u, err := url.Parse(string(uri))
	if err != nil || u.Scheme != "file" {
		return ""
	}
	return filepath.FromSlash(u.Path)
}

// ---------------------------------------------------------------------------
// Language features
// ---------------------------------------------------------------------------

func (a *Analysis) lookup(word string) (compiler.Symbol, bool) {
	for _, sym := range a.Symbols {
		if sym.Name == word && sym.Kind != compiler.SymbolVariable {
			return sym, true
		}
	}
	for _, sym := range a.Symbols {
		if sym.Name == word {
			return sym, true
		}
	}
	return compiler.Symbol{}, false
}

// complete returns keywords and document symbols starting with prefix.
func (a *Analysis) complete(prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)

	for _, sym := range a.Symbols {
		if !strings.HasPrefix(strings.ToLower(sym.Name), lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindVariable
		switch sym.Kind {
		case compiler.SymbolAction:
			kind = protocol.CompletionItemKindFunction
		case compiler.SymbolData:
			kind = protocol.CompletionItemKindStruct
		}
		detail := sym.Signature()
		name := sym.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}

	keywords := compiler.Keywords()
	sort.Strings(keywords)
	for _, kw := range keywords {
		if !strings.HasPrefix(kw, lowerPrefix) {
			continue
		}
		kind := protocol.CompletionItemKindKeyword
		detail := "keyword"
		word := kw
		items = append(items, protocol.CompletionItem{
			Label:      word,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &word,
		})
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (a *Analysis) hover(word string) *protocol.Hover {
	sym, ok := a.lookup(word)
	if !ok {
		return nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "```prose\n%s\n```", sym.Signature())
	if sym.Pos.Line > 0 {
		fmt.Fprintf(&b, "\n\n%s defined on line %d", sym.Kind, sym.Pos.Line)
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func (a *Analysis) definition(word string) []protocol.Location {
	sym, ok := a.lookup(word)
	if !ok || sym.Pos.Line == 0 {
		return nil
	}
	start := lspPosition(sym.Pos.Line, sym.Pos.Column)
	return []protocol.Location{{
		URI:   a.URI,
		Range: protocol.Range{Start: start, End: start},
	}}
}

// references returns every identifier token spelled word.
func (a *Analysis) references(word string) []protocol.Location {
	var locations []protocol.Location
	for _, tok := range a.Tokens {
		if tok.Kind != compiler.TokenIdentifier || tok.Lexeme != word {
			continue
		}
		start := lspPosition(tok.Line, tok.Column)
		end := start
		end.Character += protocol.UInteger(len([]rune(tok.Lexeme)))
		locations = append(locations, protocol.Location{
			URI:   a.URI,
			Range: protocol.Range{Start: start, End: end},
		})
	}
	return locations
}
