package parse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"
)

// typeScriptExtractor handles TypeScript and JavaScript sources. The
// TypeScript grammar is a superset, so plain JavaScript parses with it.
type typeScriptExtractor struct {
	lang *sitter.Language
}

func newTypeScriptExtractor() *typeScriptExtractor {
	return &typeScriptExtractor{lang: sitter.NewLanguage(typescript.LanguageTypescript())}
}

func (e *typeScriptExtractor) language() *sitter.Language {
	return e.lang
}

var tsDecisionKinds = map[string]bool{
	"if_statement":       true,
	"for_statement":      true,
	"for_in_statement":   true,
	"while_statement":    true,
	"do_statement":       true,
	"switch_case":        true,
	"catch_clause":       true,
	"ternary_expression": true,
}

var tsBooleanKinds = map[string]bool{"binary_expression": true}

var tsBooleanOperators = map[string]bool{"&&": true, "||": true, "??": true}

func (e *typeScriptExtractor) extract(root *sitter.Node, source []byte, lines []string) []Chunk {
	imports := e.imports(root, source)

	var chunks []Chunk
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(uint(i))
		decl := node
		if node.Kind() == "export_statement" {
			if d := node.ChildByFieldName("declaration"); d != nil {
				decl = d
			}
		}
		switch decl.Kind() {
		case "function_declaration", "generator_function_declaration":
			chunks = append(chunks, e.functionChunk(decl, node, source, imports, ""))
		case "class_declaration", "abstract_class_declaration":
			chunks = append(chunks, e.classChunks(decl, node, source, imports)...)
		case "interface_declaration":
			chunks = append(chunks, e.interfaceChunk(decl, node, source, imports))
		case "lexical_declaration", "variable_declaration":
			chunks = append(chunks, e.arrowChunks(decl, node, source, imports)...)
		}
	}
	return chunks
}

// functionChunk builds a function chunk. span is the outermost node
// including any export wrapper; decl is the declaration itself.
func (e *typeScriptExtractor) functionChunk(decl, span *sitter.Node, source []byte, imports []ImportRef, classPrefix string) Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	namePath := name
	chunkType := ChunkFunction
	if classPrefix != "" {
		namePath = classPrefix + "." + name
		chunkType = ChunkMethod
	}
	return Chunk{
		Name:       name,
		NamePath:   namePath,
		Type:       chunkType,
		SourceCode: extractNodeText(span, source),
		StartLine:  nodeStartLine(span),
		EndLine:    nodeEndLine(span),
		Metadata: Metadata{
			Signature:  e.signature(decl, source),
			Calls:      collectCalls(decl, source, "call_expression", tsResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, span, source),
		},
	}
}

func (e *typeScriptExtractor) classChunks(decl, span *sitter.Node, source []byte, imports []ImportRef) []Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	chunks := []Chunk{{
		Name:       name,
		NamePath:   name,
		Type:       ChunkClass,
		SourceCode: extractNodeText(span, source),
		StartLine:  nodeStartLine(span),
		EndLine:    nodeEndLine(span),
		Metadata: Metadata{
			Calls:      collectCalls(decl, source, "call_expression", tsResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, span, source),
		},
	}}
	body := decl.ChildByFieldName("body")
	if body == nil {
		return chunks
	}
	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(uint(i))
		if member.Kind() != "method_definition" {
			continue
		}
		chunks = append(chunks, e.functionChunk(member, member, source, imports, name))
	}
	return chunks
}

func (e *typeScriptExtractor) interfaceChunk(decl, span *sitter.Node, source []byte, imports []ImportRef) Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	return Chunk{
		Name:       name,
		NamePath:   name,
		Type:       ChunkInterface,
		SourceCode: extractNodeText(span, source),
		StartLine:  nodeStartLine(span),
		EndLine:    nodeEndLine(span),
		Metadata: Metadata{
			Imports:    imports,
			Complexity: e.complexity(decl, span, source),
		},
	}
}

// arrowChunks extracts `const f = (...) => {...}` style declarations.
func (e *typeScriptExtractor) arrowChunks(decl, span *sitter.Node, source []byte, imports []ImportRef) []Chunk {
	var chunks []Chunk
	for i := 0; i < int(decl.ChildCount()); i++ {
		declarator := decl.Child(uint(i))
		if declarator.Kind() != "variable_declarator" {
			continue
		}
		value := declarator.ChildByFieldName("value")
		if value == nil {
			continue
		}
		kind := value.Kind()
		if kind != "arrow_function" && kind != "function_expression" && kind != "function" {
			continue
		}
		name := extractNodeText(declarator.ChildByFieldName("name"), source)
		chunks = append(chunks, Chunk{
			Name:       name,
			NamePath:   name,
			Type:       ChunkFunction,
			SourceCode: extractNodeText(span, source),
			StartLine:  nodeStartLine(span),
			EndLine:    nodeEndLine(span),
			Metadata: Metadata{
				Signature:  e.signature(value, source),
				Calls:      collectCalls(value, source, "call_expression", tsResolveCall),
				Imports:    imports,
				Complexity: e.complexity(value, span, source),
			},
		})
	}
	return chunks
}

func (e *typeScriptExtractor) signature(decl *sitter.Node, source []byte) *Signature {
	sig := &Signature{
		Parameters: []Parameter{},
		IsAsync:    hasChildOfKind(decl, "async"),
		IsGeneric:  decl.ChildByFieldName("type_parameters") != nil,
	}
	if params := decl.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.ChildCount()); i++ {
			p := params.Child(uint(i))
			switch p.Kind() {
			case "required_parameter", "optional_parameter":
				param := Parameter{Name: extractNodeText(p.ChildByFieldName("pattern"), source)}
				if t := p.ChildByFieldName("type"); t != nil {
					param.Type = stripTypeAnnotation(extractNodeText(t, source))
				}
				sig.Parameters = append(sig.Parameters, param)
			case "identifier":
				// Untyped JavaScript parameter.
				sig.Parameters = append(sig.Parameters, Parameter{Name: extractNodeText(p, source)})
			}
		}
	}
	if ret := decl.ChildByFieldName("return_type"); ret != nil {
		sig.ReturnType = stripTypeAnnotation(extractNodeText(ret, source))
	}
	return sig
}

func (e *typeScriptExtractor) complexity(decl, span *sitter.Node, source []byte) *Complexity {
	return &Complexity{
		Cyclomatic:  countComplexity(decl, source, tsDecisionKinds, tsBooleanKinds, tsBooleanOperators),
		LinesOfCode: nodeEndLine(span) - nodeStartLine(span) + 1,
	}
}

// tsResolveCall maps a call_expression to its callee name. Member
// calls report the property name, e.g. `email.includes(...)` yields
// "includes" with is_method_call set.
func tsResolveCall(call *sitter.Node, source []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	switch fn.Kind() {
	case "identifier":
		return extractNodeText(fn, source), false
	case "member_expression":
		return extractNodeText(fn.ChildByFieldName("property"), source), true
	}
	return "", false
}

func (e *typeScriptExtractor) imports(root *sitter.Node, source []byte) []ImportRef {
	var refs []ImportRef
	for i := 0; i < int(root.ChildCount()); i++ {
		stmt := root.Child(uint(i))
		if stmt.Kind() != "import_statement" {
			continue
		}
		module := unquote(extractNodeText(stmt.ChildByFieldName("source"), source))
		relative := strings.HasPrefix(module, ".")
		clause := findChildByKind(stmt, "import_clause")
		var names []string
		if clause != nil {
			walkTree(clause, func(n *sitter.Node) bool {
				switch n.Kind() {
				case "import_specifier":
					names = append(names, extractNodeText(n.ChildByFieldName("name"), source))
					return false
				case "namespace_import":
					if id := findChildByKind(n, "identifier"); id != nil {
						names = append(names, extractNodeText(id, source))
					}
					return false
				case "identifier":
					// Default import.
					names = append(names, extractNodeText(n, source))
					return false
				}
				return true
			})
		}
		if len(names) == 0 {
			names = []string{module}
		}
		for _, name := range names {
			refs = append(refs, ImportRef{ImportedName: name, Module: module, IsRelative: relative})
		}
	}
	return refs
}
