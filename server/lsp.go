package server

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"unicode"
	"unicode/utf16"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/stencil/compiler"
	"github.com/chazu/stencil/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "stencil-lsp"

var lspLog = commonlog.GetLogger("stencil.lsp")

// LspServer checks template documents as an editor edits them.
type LspServer struct {
	mu        sync.Mutex
	docs      map[string]string // URI → full document content
	templates []string          // names render tags may use; nil skips the check

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. templates, when given, are the names
// render tags are checked against.
func NewLSP(templates ...string) *LspServer {
	s := &LspServer{
		docs:      make(map[string]string),
		templates: templates,
		version:   "0.1.0",
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
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	lspLog.Info("stencil LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix, method := extractPrefix(text, params.Position)
	if prefix == "" && !method {
		return nil, nil
	}
	return complete(prefix, method), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word, method := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return hover(word, method), nil
}

// complete lists the built-ins starting with prefix: methods after a dot,
// functions otherwise.
func complete(prefix string, method bool) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	for _, b := range vm.Builtins() {
		if b.Method != method || !strings.HasPrefix(b.Name, prefix) {
			continue
		}
		kind := protocol.CompletionItemKindFunction
		if method {
			kind = protocol.CompletionItemKindMethod
		}
		detail := b.Signature()
		name := b.Name
		items = append(items, protocol.CompletionItem{
			Label:      name,
			Kind:       &kind,
			Detail:     &detail,
			InsertText: &name,
		})
	}
	return items
}

func hover(word string, method bool) *protocol.Hover {
	for _, bi := range vm.Builtins() {
		if bi.Name != word || bi.Method != method {
			continue
		}
		kind := "function"
		if method {
			kind = "method"
		}
		var b strings.Builder
		fmt.Fprintf(&b, "**%s**\n\nbuilt-in %s taking %s", bi.Signature(), kind, arities(bi.Arities))
		return &protocol.Hover{
			Contents: protocol.MarkupContent{
				Kind:  protocol.MarkupKindMarkdown,
				Value: b.String(),
			},
		}
	}
	return nil
}

func arities(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = fmt.Sprint(n)
	}
	noun := "arguments"
	if len(ns) == 1 && ns[0] == 1 {
		noun = "argument"
	}
	if len(parts) == 1 {
		return parts[0] + " " + noun
	}
	return strings.Join(parts[:len(parts)-1], ", ") + " or " + parts[len(parts)-1] + " " + noun
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	diagnostics := s.diagnostics(text)
	lspLog.Debugf("%s: %d diagnostics", uri, len(diagnostics))

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnostics reports the parse error of text, or failing that its
// semantic warnings.
func (s *LspServer) diagnostics(text string) []protocol.Diagnostic {
	source := lspName
	diagnostics := []protocol.Diagnostic{}

	warnings, err := compiler.Analyze(text, s.templates)
	if err != nil {
		severity := protocol.DiagnosticSeverityError
		d := protocol.Diagnostic{
			Severity: &severity,
			Source:   &source,
			Message:  err.Error(),
		}
		var pe *compiler.ParseError
		if errors.As(err, &pe) {
			d.Message = pe.Message
			d.Range = span(text, pe.Offset, pe.Location)
		}
		return append(diagnostics, d)
	}

	for _, w := range warnings {
		severity := protocol.DiagnosticSeverityWarning
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    span(text, w.Offset, w.Location),
			Severity: &severity,
			Source:   &source,
			Message:  w.Message,
		})
	}
	return diagnostics
}

// span runs from offset to the end of the tag containing it.
func span(text string, offset int, loc *vm.Location) protocol.Range {
	end := offset
	if loc != nil && loc.EndTag > end {
		end = loc.EndTag
	}
	return protocol.Range{Start: position(text, offset), End: position(text, end)}
}

// position converts a byte offset into an LSP position, whose character
// counts UTF-16 code units.
func position(text string, offset int) protocol.Position {
	offset = min(max(offset, 0), len(text))
	var line, char protocol.UInteger
	for _, r := range text[:offset] {
		if r == '\n' {
			line++
			char = 0
		} else {
			char += protocol.UInteger(utf16.RuneLen(r))
		}
	}
	return protocol.Position{Line: line, Character: char}
}

// --- Text extraction helpers ---

// lineAt returns the line under pos and the byte index of its character.
func lineAt(text string, pos protocol.Position) (string, int, bool) {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return "", 0, false
	}
	line := lines[pos.Line]
	units := 0
	for i, r := range line {
		if units >= int(pos.Character) {
			return line, i, true
		}
		units += utf16.RuneLen(r)
	}
	return line, len(line), true
}

func isIdent(b byte) bool {
	return b == '_' || (b < 0x80 && (unicode.IsLetter(rune(b)) || unicode.IsDigit(rune(b))))
}

// extractPrefix returns the identifier fragment before the cursor and
// whether it follows a dot.
func extractPrefix(text string, pos protocol.Position) (string, bool) {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return "", false
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isIdent(line[start-1]) {
		start--
	}
	return line[start:col], start > 0 && line[start-1] == '.'
}

// extractWord returns the full identifier under the cursor and whether it
// follows a dot.
func extractWord(text string, pos protocol.Position) (string, bool) {
	line, col, ok := lineAt(text, pos)
	if !ok {
		return "", false
	}

	// Find start
	start := col
	for start > 0 && isIdent(line[start-1]) {
		start--
	}

	// Find end
	end := col
	for end < len(line) && isIdent(line[end]) {
		end++
	}

	if start == end {
		return "", false
	}
	return line[start:end], start > 0 && line[start-1] == '.'
}

func boolPtr(b bool) *bool {
	return &b
}
