// Package server implements the Prose language server.
package server

import (
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/prose/compiler"
	"github.com/chazu/prose/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "prose-lsp"

var log = commonlog.GetLogger("prose.server")

// LanguageServer publishes diagnostics and answers editor queries for Prose
// documents.
type LanguageServer struct {
	worker *Worker

	mu    sync.Mutex
	texts map[string]string // open documents by URI

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. Includes are read with read, or from disk
// when read is nil.
func NewLSP(read compiler.ReadFunc) *LanguageServer {
	s := &LanguageServer{
		worker:  NewWorker(read),
		texts:   make(map[string]string),
		version: bytecode.CompilerVersion,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LanguageServer) Run() error {
	defer s.worker.Stop()
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LanguageServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "Prose LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LanguageServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LanguageServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LanguageServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LanguageServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.setText(params.TextDocument.URI, params.TextDocument.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

// textDocumentDidChange handles Full sync only; the last event carries the
// whole document.
func (s *LanguageServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	n := len(params.ContentChanges)
	if n == 0 {
		return nil
	}
	whole, ok := params.ContentChanges[n-1].(protocol.TextDocumentContentChangeEventWhole)
	if !ok {
		log.Warningf("ignoring incremental change to %s", params.TextDocument.URI)
		return nil
	}
	s.setText(params.TextDocument.URI, whole.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, whole.Text)
	return nil
}

func (s *LanguageServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	s.close(uri)
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LanguageServer) setText(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.texts[string(uri)] = text
	s.mu.Unlock()
}

func (s *LanguageServer) text(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.texts[string(uri)]
	return text, ok
}

// close drops the document text and its cached analysis.
func (s *LanguageServer) close(uri protocol.DocumentUri) {
	s.mu.Lock()
	delete(s.texts, string(uri))
	s.mu.Unlock()
	s.worker.Do(func(ws *Workspace) interface{} {
		ws.Forget(uri)
		return nil
	})
}

// --- Language features ---

// at returns the analysis of the document named in pos and the identifier
// at the cursor. With prefixOnly, only the part before the cursor counts.
// The analysis is nil when the document is not open or the cursor is not on
// a word.
func (s *LanguageServer) at(pos protocol.TextDocumentPositionParams, prefixOnly bool) (*Analysis, string) {
	uri := pos.TextDocument.URI
	text, open := s.text(uri)
	if !open {
		return nil, ""
	}

	word := wordAt(text, pos.Position, prefixOnly)
	if word == "" {
		return nil, ""
	}

	result, err := s.worker.Do(func(ws *Workspace) interface{} {
		if a := ws.Get(uri); a != nil {
			return a
		}
		return ws.Update(uri, text)
	})
	if err != nil {
		log.Errorf("analyzing %s: %s", uri, err)
		return nil, ""
	}
	return result.(*Analysis), word
}

func (s *LanguageServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	if a, prefix := s.at(params.TextDocumentPositionParams, true); a != nil {
		return a.complete(prefix), nil
	}
	return nil, nil
}

func (s *LanguageServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	if a, word := s.at(params.TextDocumentPositionParams, false); a != nil {
		return a.hover(word), nil
	}
	return nil, nil
}

func (s *LanguageServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	if a, word := s.at(params.TextDocumentPositionParams, false); a != nil {
		if locs := a.definition(word); locs != nil {
			return locs, nil
		}
	}
	return nil, nil
}

func (s *LanguageServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	if a, word := s.at(params.TextDocumentPositionParams, false); a != nil {
		return a.references(word), nil
	}
	return nil, nil
}

// --- Diagnostics ---

func (s *LanguageServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.worker.Do(func(ws *Workspace) interface{} {
		return ws.Update(uri, text)
	})
	if err != nil {
		log.Errorf("analyzing %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: result.(*Analysis).Diagnostics,
	})
}

// --- Text extraction helpers ---

// wordAt returns the identifier touching the cursor. With prefixOnly it
// stops at the cursor, which is what completion wants.
func wordAt(text string, pos protocol.Position, prefixOnly bool) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := min(int(pos.Character), len(line))

	start, end := col, col
	for start > 0 && isWordByte(line[start-1]) {
		start--
	}
	for !prefixOnly && end < len(line) && isWordByte(line[end]) {
		end++
	}
	return line[start:end]
}

func isWordByte(b byte) bool {
	return b == '_' || unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))
}

func boolPtr(b bool) *bool {
	return &b
}
