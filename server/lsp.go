package server

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/wireform/pkg/bytecode"
	"github.com/chazu/wireform/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "wireform-lsp"

// LspServer provides editor features for the text instruction format:
// diagnostics, hover, completion, and go-to-definition for _ref ids.
type LspServer struct {
	reg *vm.TypeRegistry

	mu   sync.Mutex
	docs map[string]*document // URI → document

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

type document struct {
	text     string
	analysis *analysis
}

// NewLSP creates a new LSP server. reg supplies type names for completion
// and hover; it may be nil.
func NewLSP(reg *vm.TypeRegistry) *LspServer {
	if reg == nil {
		reg = vm.NewTypeRegistry()
	}
	s := &LspServer{
		reg:     reg,
		docs:    make(map[string]*document),
		version: "0.1.0",
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
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "wireform LSP initializing")

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

func (s *LspServer) open(uri protocol.DocumentUri, text string) *document {
	doc := &document{text: text, analysis: analyze(text)}
	s.mu.Lock()
	s.docs[string(uri)] = doc
	s.mu.Unlock()
	return doc
}

func (s *LspServer) doc(uri protocol.DocumentUri) (*document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[string(uri)]
	return d, ok
}

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	doc := s.open(params.TextDocument.URI, params.TextDocument.Text)
	s.publishDiagnostics(ctx, params.TextDocument.URI, doc)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			doc := s.open(params.TextDocument.URI, whole.Text)
			s.publishDiagnostics(ctx, params.TextDocument.URI, doc)
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

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	doc, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(doc.text, params.Position)
	line := lineOf(doc.text, params.Position.Line)
	col := min(int(params.Position.Character), len(line))
	atLineStart := strings.TrimSpace(line[:col-len(prefix)]) == ""
	return s.complete(prefix, atLineStart), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	doc, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	return s.hover(doc, params.Position), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	doc, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	id, ok := refAt(lineOf(doc.text, params.Position.Line), int(params.Position.Character))
	if !ok {
		return nil, nil
	}
	line, ok := doc.analysis.defs[id]
	if !ok {
		return nil, nil
	}
	return []protocol.Location{lineLocation(params.TextDocument.URI, doc.text, line)}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	doc, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	id, ok := s.idAt(doc, params.Position)
	if !ok {
		return nil, nil
	}
	lines := append([]int(nil), doc.analysis.refs[id]...)
	if params.Context.IncludeDeclaration {
		if def, ok := doc.analysis.defs[id]; ok {
			lines = append(lines, def)
		}
	}
	sort.Ints(lines)
	var locs []protocol.Location
	for i, l := range lines {
		if i > 0 && lines[i-1] == l {
			continue
		}
		locs = append(locs, lineLocation(params.TextDocument.URI, doc.text, l))
	}
	return locs, nil
}

// idAt returns the object id under the cursor: a _ref(N), or the id a
// binding instruction on that line declares.
func (s *LspServer) idAt(doc *document, pos protocol.Position) (int32, bool) {
	if id, ok := refAt(lineOf(doc.text, pos.Line), int(pos.Character)); ok {
		return id, true
	}
	for id, l := range doc.analysis.defs {
		if l == int(pos.Line) {
			return id, true
		}
	}
	return 0, false
}

// complete offers opcode names at the start of a line and registered type
// names elsewhere.
func (s *LspServer) complete(prefix string, atLineStart bool) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	if atLineStart {
		upper := strings.ToUpper(prefix)
		ops := bytecode.AllOpcodes()
		sort.Slice(ops, func(i, j int) bool { return ops[i] < ops[j] })
		kind := protocol.CompletionItemKindKeyword
		for _, op := range ops {
			info := bytecode.GetOpcodeInfo(op)
			if strings.HasPrefix(info.Name, upper) {
				detail := info.Summary
				items = append(items, protocol.CompletionItem{Label: info.Name, Kind: &kind, Detail: &detail})
			}
		}
		return items
	}

	kind := protocol.CompletionItemKindClass
	for _, name := range s.reg.Names() {
		if strings.HasPrefix(name, prefix) {
			items = append(items, protocol.CompletionItem{Label: name, Kind: &kind})
		}
	}
	return items
}

func (s *LspServer) hover(doc *document, pos protocol.Position) *protocol.Hover {
	line := lineOf(doc.text, pos.Line)
	if id, ok := refAt(line, int(pos.Character)); ok {
		if def, ok := doc.analysis.defs[id]; ok {
			in := doc.analysis.instrs[def]
			return markdown(fmt.Sprintf("object `%d`, bound on line %d by `%s`", id, def+1, in))
		}
		return markdown(fmt.Sprintf("object `%d` is never defined", id))
	}

	word := extractWord(doc.text, pos)
	if word == "" {
		return nil
	}
	if op, ok := bytecode.ParseOpcode(word); ok && strings.EqualFold(word, op.String()) {
		info := bytecode.GetOpcodeInfo(op)
		return markdown(fmt.Sprintf("**%s** (0x%02X)\n\n%s", info.Name, byte(op), info.Summary))
	}
	if desc, err := s.reg.Lookup(word); err == nil {
		var sb strings.Builder
		fmt.Fprintf(&sb, "**%s**", word)
		if t := desc.Type(); t != nil {
			fmt.Fprintf(&sb, " `%s`", t)
		}
		for _, m := range desc.Members() {
			if m.Kind == vm.FieldMember {
				fmt.Fprintf(&sb, "\n- `%s %s`", m.Name, m.Type)
			} else {
				fmt.Fprintf(&sb, "\n- `%s()` method", m.Name)
			}
		}
		return markdown(sb.String())
	}
	return nil
}

func markdown(v string) *protocol.Hover {
	return &protocol.Hover{Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: v}}
}

// --- Diagnostics ---

func (s *LspServer) diagnostics(doc *document) []protocol.Diagnostic {
	source := lspName
	diagnostics := []protocol.Diagnostic{}
	for _, is := range doc.analysis.issues {
		sev := protocol.DiagnosticSeverityError
		if is.severity == severityWarning {
			sev = protocol.DiagnosticSeverityWarning
		}
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range:    lineRange(doc.text, is.line),
			Severity: &sev,
			Source:   &source,
			Message:  is.msg,
		})
	}
	return diagnostics
}

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, doc *document) {
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: s.diagnostics(doc),
	})
}

// --- Text extraction helpers ---

func lineOf(text string, n uint32) string {
	lines := strings.Split(text, "\n")
	if int(n) >= len(lines) {
		return ""
	}
	return lines[n]
}

func lineRange(text string, line int) protocol.Range {
	l := lineOf(text, uint32(line))
	return protocol.Range{
		Start: protocol.Position{Line: uint32(line), Character: 0},
		End:   protocol.Position{Line: uint32(line), Character: uint32(len(l))},
	}
}

func lineLocation(uri protocol.DocumentUri, text string, line int) protocol.Location {
	return protocol.Location{URI: uri, Range: lineRange(text, line)}
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	line := lineOf(text, pos.Line)
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	line := lineOf(text, pos.Line)
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	return line[start:end]
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
