package parse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	java "github.com/tree-sitter/tree-sitter-java/bindings/go"
)

type javaExtractor struct {
	lang *sitter.Language
}

func newJavaExtractor() *javaExtractor {
	return &javaExtractor{lang: sitter.NewLanguage(java.Language())}
}

func (e *javaExtractor) language() *sitter.Language {
	return e.lang
}

var javaDecisionKinds = map[string]bool{
	"if_statement":           true,
	"for_statement":          true,
	"enhanced_for_statement": true,
	"while_statement":        true,
	"do_statement":           true,
	"catch_clause":           true,
	"ternary_expression":     true,
	"switch_label":           true,
}

var javaBooleanKinds = map[string]bool{"binary_expression": true}

var javaBooleanOperators = map[string]bool{"&&": true, "||": true}

func (e *javaExtractor) extract(root *sitter.Node, source []byte, lines []string) []Chunk {
	imports := e.imports(root, source)

	var chunks []Chunk
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(uint(i))
		switch node.Kind() {
		case "class_declaration", "enum_declaration", "record_declaration":
			chunks = append(chunks, e.typeChunks(node, source, imports, ChunkClass)...)
		case "interface_declaration":
			chunks = append(chunks, e.typeChunks(node, source, imports, ChunkInterface)...)
		}
	}
	return chunks
}

func (e *javaExtractor) typeChunks(decl *sitter.Node, source []byte, imports []ImportRef, chunkType ChunkType) []Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	chunks := []Chunk{{
		Name:       name,
		NamePath:   name,
		Type:       chunkType,
		SourceCode: extractNodeText(decl, source),
		StartLine:  nodeStartLine(decl),
		EndLine:    nodeEndLine(decl),
		Metadata: Metadata{
			Calls:      collectCalls(decl, source, "method_invocation", javaResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, source),
		},
	}}
	body := decl.ChildByFieldName("body")
	if body == nil {
		return chunks
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(uint(i))
		switch member.Kind() {
		case "method_declaration", "constructor_declaration":
			chunks = append(chunks, e.methodChunk(member, source, imports, name))
		}
	}
	return chunks
}

func (e *javaExtractor) methodChunk(decl *sitter.Node, source []byte, imports []ImportRef, className string) Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	return Chunk{
		Name:       name,
		NamePath:   className + "." + name,
		Type:       ChunkMethod,
		SourceCode: extractNodeText(decl, source),
		StartLine:  nodeStartLine(decl),
		EndLine:    nodeEndLine(decl),
		Metadata: Metadata{
			Signature:  e.signature(decl, source),
			Calls:      collectCalls(decl, source, "method_invocation", javaResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, source),
		},
	}
}

func (e *javaExtractor) signature(decl *sitter.Node, source []byte) *Signature {
	sig := &Signature{
		Parameters: []Parameter{},
		IsGeneric:  decl.ChildByFieldName("type_parameters") != nil,
		Decorators: e.annotations(decl, source),
	}
	if params := decl.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.ChildCount()); i++ {
			p := params.Child(uint(i))
			switch p.Kind() {
			case "formal_parameter", "spread_parameter":
				param := Parameter{
					Name: extractNodeText(p.ChildByFieldName("name"), source),
					Type: extractNodeText(p.ChildByFieldName("type"), source),
				}
				if param.Name == "" {
					if id := findChildByKind(p, "identifier"); id != nil {
						param.Name = extractNodeText(id, source)
					}
				}
				sig.Parameters = append(sig.Parameters, param)
			}
		}
	}
	if ret := decl.ChildByFieldName("type"); ret != nil {
		sig.ReturnType = extractNodeText(ret, source)
	}
	return sig
}

// annotations collects annotation names from the declaration's
// modifiers, without the leading "@".
func (e *javaExtractor) annotations(decl *sitter.Node, source []byte) []string {
	modifiers := findChildByKind(decl, "modifiers")
	if modifiers == nil {
		return nil
	}
	var names []string
	for i := 0; i < int(modifiers.ChildCount()); i++ {
		child := modifiers.Child(uint(i))
		switch child.Kind() {
		case "marker_annotation", "annotation":
			names = append(names, strings.TrimPrefix(extractNodeText(child, source), "@"))
		}
	}
	return names
}

func (e *javaExtractor) complexity(decl *sitter.Node, source []byte) *Complexity {
	return &Complexity{
		Cyclomatic:  countComplexity(decl, source, javaDecisionKinds, javaBooleanKinds, javaBooleanOperators),
		LinesOfCode: nodeEndLine(decl) - nodeStartLine(decl) + 1,
	}
}

func javaResolveCall(call *sitter.Node, source []byte) (string, bool) {
	name := extractNodeText(call.ChildByFieldName("name"), source)
	if name == "" {
		return "", false
	}
	return name, call.ChildByFieldName("object") != nil
}

func (e *javaExtractor) imports(root *sitter.Node, source []byte) []ImportRef {
	var refs []ImportRef
	for i := 0; i < int(root.ChildCount()); i++ {
		stmt := root.Child(uint(i))
		if stmt.Kind() != "import_declaration" {
			continue
		}
		path := findChildByKind(stmt, "scoped_identifier")
		if path == nil {
			if id := findChildByKind(stmt, "identifier"); id != nil {
				path = id
			} else {
				continue
			}
		}
		module := extractNodeText(path, source)
		name := lastDottedSegment(module)
		if hasChildOfKind(stmt, "asterisk") {
			name = "*"
		}
		refs = append(refs, ImportRef{ImportedName: name, Module: module})
	}
	return refs
}
