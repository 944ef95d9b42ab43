package parse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	python "github.com/tree-sitter/tree-sitter-python/bindings/go"
)

type pythonExtractor struct {
	lang *sitter.Language
}

func newPythonExtractor() *pythonExtractor {
	return &pythonExtractor{lang: sitter.NewLanguage(python.Language())}
}

func (e *pythonExtractor) language() *sitter.Language {
	return e.lang
}

var pyDecisionKinds = map[string]bool{
	"if_statement":           true,
	"elif_clause":            true,
	"for_statement":          true,
	"while_statement":        true,
	"except_clause":          true,
	"case_clause":            true,
	"conditional_expression": true,
}

var pyBooleanKinds = map[string]bool{"boolean_operator": true}

var pyBooleanOperators = map[string]bool{"and": true, "or": true}

func (e *pythonExtractor) extract(root *sitter.Node, source []byte, lines []string) []Chunk {
	imports := e.imports(root, source)

	var chunks []Chunk
	for i := 0; i < int(root.ChildCount()); i++ {
		node := root.Child(uint(i))
		decl, decorators := unwrapDecorated(node, source)
		switch decl.Kind() {
		case "function_definition":
			chunks = append(chunks, e.functionChunk(decl, node, source, imports, "", decorators))
		case "class_definition":
			chunks = append(chunks, e.classChunks(decl, node, source, imports)...)
		}
	}
	return chunks
}

// unwrapDecorated peels a decorated_definition, returning the inner
// declaration and the decorator texts without the leading "@".
func unwrapDecorated(node *sitter.Node, source []byte) (*sitter.Node, []string) {
	if node.Kind() != "decorated_definition" {
		return node, nil
	}
	var decorators []string
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(uint(i))
		if child.Kind() == "decorator" {
			decorators = append(decorators, strings.TrimPrefix(extractNodeText(child, source), "@"))
		}
	}
	if def := node.ChildByFieldName("definition"); def != nil {
		return def, decorators
	}
	return node, decorators
}

func (e *pythonExtractor) functionChunk(decl, span *sitter.Node, source []byte, imports []ImportRef, classPrefix string, decorators []string) Chunk {
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
			Signature:  e.signature(decl, source, decorators),
			Calls:      collectCalls(decl, source, "call", pyResolveCall),
			Imports:    imports,
			Complexity: e.complexity(decl, span, source),
		},
	}
}

func (e *pythonExtractor) classChunks(decl, span *sitter.Node, source []byte, imports []ImportRef) []Chunk {
	name := extractNodeText(decl.ChildByFieldName("name"), source)
	chunks := []Chunk{{
		Name:       name,
		NamePath:   name,
		Type:       ChunkClass,
		SourceCode: extractNodeText(span, source),
		StartLine:  nodeStartLine(span),
		EndLine:    nodeEndLine(span),
		Metadata: Metadata{
			Calls:      collectCalls(decl, source, "call", pyResolveCall),
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
		inner, decorators := unwrapDecorated(member, source)
		if inner.Kind() != "function_definition" {
			continue
		}
		chunks = append(chunks, e.functionChunk(inner, member, source, imports, name, decorators))
	}
	return chunks
}

func (e *pythonExtractor) signature(decl *sitter.Node, source []byte, decorators []string) *Signature {
	sig := &Signature{
		Parameters: []Parameter{},
		IsAsync:    hasChildOfKind(decl, "async"),
		IsGeneric:  decl.ChildByFieldName("type_parameters") != nil,
		Decorators: decorators,
	}
	if params := decl.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.ChildCount()); i++ {
			p := params.Child(uint(i))
			switch p.Kind() {
			case "identifier":
				sig.Parameters = append(sig.Parameters, Parameter{Name: extractNodeText(p, source)})
			case "typed_parameter", "typed_default_parameter":
				param := Parameter{}
				if name := p.ChildByFieldName("name"); name != nil {
					param.Name = extractNodeText(name, source)
				} else if id := findChildByKind(p, "identifier"); id != nil {
					param.Name = extractNodeText(id, source)
				}
				if t := p.ChildByFieldName("type"); t != nil {
					param.Type = extractNodeText(t, source)
				}
				sig.Parameters = append(sig.Parameters, param)
			case "default_parameter":
				if name := p.ChildByFieldName("name"); name != nil {
					sig.Parameters = append(sig.Parameters, Parameter{Name: extractNodeText(name, source)})
				}
			case "list_splat_pattern", "dictionary_splat_pattern":
				sig.Parameters = append(sig.Parameters, Parameter{Name: extractNodeText(p, source)})
			}
		}
	}
	if ret := decl.ChildByFieldName("return_type"); ret != nil {
		sig.ReturnType = extractNodeText(ret, source)
	}
	return sig
}

func (e *pythonExtractor) complexity(decl, span *sitter.Node, source []byte) *Complexity {
	return &Complexity{
		Cyclomatic:  countComplexity(decl, source, pyDecisionKinds, pyBooleanKinds, pyBooleanOperators),
		LinesOfCode: nodeEndLine(span) - nodeStartLine(span) + 1,
	}
}

func pyResolveCall(call *sitter.Node, source []byte) (string, bool) {
	fn := call.ChildByFieldName("function")
	if fn == nil {
		return "", false
	}
	switch fn.Kind() {
	case "identifier":
		return extractNodeText(fn, source), false
	case "attribute":
		return extractNodeText(fn.ChildByFieldName("attribute"), source), true
	}
	return "", false
}

func (e *pythonExtractor) imports(root *sitter.Node, source []byte) []ImportRef {
	var refs []ImportRef
	for i := 0; i < int(root.ChildCount()); i++ {
		stmt := root.Child(uint(i))
		switch stmt.Kind() {
		case "import_statement":
			for j := 0; j < int(stmt.ChildCount()); j++ {
				child := stmt.Child(uint(j))
				switch child.Kind() {
				case "dotted_name":
					module := extractNodeText(child, source)
					refs = append(refs, ImportRef{ImportedName: lastDottedSegment(module), Module: module})
				case "aliased_import":
					module := extractNodeText(child.ChildByFieldName("name"), source)
					alias := extractNodeText(child.ChildByFieldName("alias"), source)
					refs = append(refs, ImportRef{ImportedName: alias, Module: module})
				}
			}
		case "import_from_statement":
			module := extractNodeText(stmt.ChildByFieldName("module_name"), source)
			relative := strings.HasPrefix(module, ".")
			for j := 0; j < int(stmt.ChildCount()); j++ {
				child := stmt.Child(uint(j))
				if stmt.ChildByFieldName("module_name") != nil && child.StartByte() == stmt.ChildByFieldName("module_name").StartByte() {
					continue
				}
				switch child.Kind() {
				case "dotted_name":
					refs = append(refs, ImportRef{ImportedName: extractNodeText(child, source), Module: module, IsRelative: relative})
				case "aliased_import":
					alias := extractNodeText(child.ChildByFieldName("alias"), source)
					refs = append(refs, ImportRef{ImportedName: alias, Module: module, IsRelative: relative})
				case "wildcard_import":
					refs = append(refs, ImportRef{ImportedName: "*", Module: module, IsRelative: relative})
				}
			}
		}
	}
	return refs
}

func lastDottedSegment(s string) string {
	if idx := strings.LastIndex(s, "."); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
