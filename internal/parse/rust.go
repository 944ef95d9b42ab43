package parse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	rust "github.com/tree-sitter/tree-sitter-rust/bindings/go"
)

type rustExtractor struct {
	lang *sitter.Language
}

func newRustExtractor() *rustExtractor {
	return &rustExtractor{lang: sitter.NewLanguage(rust.Language())}
}

func (e *rustExtractor) language() *sitter.Language {
	return e.lang
}

var rustDecisionKinds = map[string]bool{
	"if_expression":    true,
	"while_expression": true,
	"for_expression":   true,
	"match_arm":        true,
}

var rustBooleanKinds = map[string]bool{"binary_expression": true}

var rustBooleanOperators = map[string]bool{"&&": true, "||": true}

func (e *rustExtractor) extract(root *sitter.Node, source []byte, lines []string) []Chunk {
	imports := e.imports(root, source)

	var chunks []Chunk
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(uint(i))
		switch node.Kind() {
		case "function_item":
			chunks = append(chunks, e.functionChunk(node, source, imports, ""))
		case "impl_item":
			chunks = append(chunks, e.implChunks(node, source, imports)...)
		case "trait_item":
			chunks = append(chunks, e.containerChunks(node, source, imports, ChunkInterface)...)
		case "struct_item", "enum_item":
			chunks = append(chunks, e.typeChunk(node, source, imports, ChunkClass))
		case "mod_item":
			if node.ChildByFieldName("body") != nil {
				chunks = append(chunks, e.typeChunk(node, source, imports, ChunkModule))
			}
		}
	}
	return chunks
}

func (e *rustExtractor) functionChunk(decl *sitter.Node, source []byte, imports []ImportRef, typePrefix string) Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	namePath := name
	chunkType := ChunkFunction
	if typePrefix != "" {
		namePath = typePrefix + "." + name
		chunkType = ChunkMethod
	}
	return Chunk{
		Name:       name,
		NamePath:   namePath,
		Type:       chunkType,
		SourceCode: extractNodeText(decl, source),
		StartLine:  nodeStartLine(decl),
		EndLine:    nodeEndLine(decl),
		Metadata: Metadata{
			Signature:  e.signature(decl, source),
			Calls:      collectCalls(decl, source, "call_expression", rustResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, source),
		},
	}
}

// implChunks yields method chunks qualified by the implemented type.
// The impl block itself is not a chunk; its type already has one.
func (e *rustExtractor) implChunks(decl *sitter.Node, source []byte, imports []ImportRef) []Chunk {
	typeName := extractNodeText(decl.ChildByFieldName("type"), source)
	body := decl.ChildByFieldName("body")
	if body == nil {
		return nil
	}
	var chunks []Chunk
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(uint(i))
		if member.Kind() == "function_item" {
			chunks = append(chunks, e.functionChunk(member, source, imports, typeName))
		}
	}
	return chunks
}

// containerChunks emits the container chunk plus any function items in
// its body (trait default methods).
func (e *rustExtractor) containerChunks(decl *sitter.Node, source []byte, imports []ImportRef, chunkType ChunkType) []Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	chunks := []Chunk{e.typeChunk(decl, source, imports, chunkType)}
	body := decl.ChildByFieldName("body")
	if body == nil {
		return chunks
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(uint(i))
		if member.Kind() == "function_item" {
			chunks = append(chunks, e.functionChunk(member, source, imports, name))
		}
	}
	return chunks
}

func (e *rustExtractor) typeChunk(decl *sitter.Node, source []byte, imports []ImportRef, chunkType ChunkType) Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	return Chunk{
		Name:       name,
		NamePath:   name,
		Type:       chunkType,
		SourceCode: extractNodeText(decl, source),
		StartLine:  nodeStartLine(decl),
		EndLine:    nodeEndLine(decl),
		Metadata: Metadata{
			Calls:      collectCalls(decl, source, "call_expression", rustResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, source),
		},
	}
}

func (e *rustExtractor) signature(decl *sitter.Node, source []byte) *Signature {
	sig := &Signature{
		Parameters: []Parameter{},
		IsAsync:    e.isAsync(decl, source),
		IsGeneric:  decl.ChildByFieldName("type_parameters") != nil,
	}
	if params := decl.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.ChildCount()); i++ {
			p := params.Child(uint(i))
			switch p.Kind() {
			case "parameter":
				sig.Parameters = append(sig.Parameters, Parameter{
					Name: extractNodeText(p.ChildByFieldName("pattern"), source),
					Type: extractNodeText(p.ChildByFieldName("type"), source),
				})
			case "self_parameter":
				sig.Parameters = append(sig.Parameters, Parameter{Name: extractNodeText(p, source)})
			}
		}
	}
	if ret := decl.ChildByFieldName("return_type"); ret != nil {
		sig.ReturnType = extractNodeText(ret, source)
	}
	return sig
}

func (e *rustExtractor) isAsync(decl *sitter.Node, source []byte) bool {
	if hasChildOfKind(decl, "async") {
		return true
	}
	mods := findChildByKind(decl, "function_modifiers")
	return mods != nil && strings.Contains(extractNodeText(mods, source), "async")
}

func (e *rustExtractor) complexity(decl *sitter.Node, source []byte) *Complexity {
	return &Complexity{
		Cyclomatic:  countComplexity(decl, source, rustDecisionKinds, rustBooleanKinds, rustBooleanOperators),
		LinesOfCode: nodeEndLine(decl) - nodeStartLine(decl) + 1,
	}
}

func rustResolveCall(call *sitter.Node, source []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	switch fn.Kind() {
	case "identifier":
		return extractNodeText(fn, source), false
	case "field_expression":
		return extractNodeText(fn.ChildByFieldName("field"), source), true
	case "scoped_identifier":
		return extractNodeText(fn.ChildByFieldName("name"), source), false
	}
	return "", false
}

func (e *rustExtractor) imports(root *sitter.Node, source []byte) []ImportRef {
	var refs []ImportRef
	for i := 0; i < int(root.ChildCount()); i++ {
		stmt := root.Child(uint(i))
		if stmt.Kind() != "use_declaration" {
			continue
		}
		arg := stmt.ChildByFieldName("argument")
		if arg == nil {
			continue
		}
		path := extractNodeText(arg, source)
		relative := strings.HasPrefix(path, "crate") || strings.HasPrefix(path, "self") || strings.HasPrefix(path, "super")
		name := path
		if idx := strings.LastIndex(path, "::"); idx >= 0 {
			name = path[idx+2:]
		}
		refs = append(refs, ImportRef{ImportedName: name, Module: path, IsRelative: relative})
	}
	return refs
}
