package parse

import (
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
)

// extractor is the per-language chunk extraction strategy.
type extractor interface {
	language() *sitter.Language
	extract(root *sitter.Node, source []byte, lines []string) []Chunk
}

// newExtractor returns the extractor for a language, or nil when the
// language has no AST support.
func newExtractor(lang Language) extractor {
	switch lang {
	case LangTypeScript, LangJavaScript:
		return newTypeScriptExtractor()
	case LangPython:
		return newPythonExtractor()
	case LangJava:
		return newJavaExtractor()
	case LangRust:
		return newRustExtractor()
	default:
		return nil
	}
}

// extractNodeText extracts the text content of a tree-sitter node.
func extractNodeText(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return string(source[node.StartByte():node.EndByte()])
}

// nodeStartLine returns the 1-indexed start line of a node.
func nodeStartLine(node *sitter.Node) int {
	return int(node.StartPosition().Row) + 1
}

// nodeEndLine returns the 1-indexed end line of a node.
func nodeEndLine(node *sitter.Node) int {
	return int(node.EndPosition().Row) + 1
}

// extractLines extracts source lines from startLine to endLine (1-indexed, inclusive).
func extractLines(lines []string, startLine, endLine int) string {
	if startLine < 1 || endLine < 1 || startLine > len(lines) {
		return ""
	}
	end := endLine
	if end > len(lines) {
		end = len(lines)
	}
	return strings.Join(lines[startLine-1:end], "\n")
}

// walkTree recursively walks a tree-sitter tree and calls the visitor
// for each node. Returning false from the visitor prunes the subtree.
func walkTree(node *sitter.Node, visitor func(*sitter.Node) bool) {
	if node == nil {
		return
	}
	if !visitor(node) {
		return
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		walkTree(node.Child(uint(i)), visitor)
	}
}

// findChildByKind finds the first child node with the given kind.
func findChildByKind(node *sitter.Node, kind string) *sitter.Node {
	if node == nil {
		return nil
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		child := node.Child(uint(i))
		if child.Kind() == kind {
			return child
		}
	}
	return nil
}

// hasChildOfKind reports whether a direct child with the given kind exists.
func hasChildOfKind(node *sitter.Node, kind string) bool {
	return findChildByKind(node, kind) != nil
}

// countComplexity computes cyclomatic complexity for the subtree rooted
// at node: 1 plus one per decision point. decisionKinds lists node kinds
// counted directly; booleanKinds lists binary-operator node kinds whose
// operator must additionally appear in operators (e.g. "&&", "or").
func countComplexity(node *sitter.Node, source []byte, decisionKinds map[string]bool, booleanKinds map[string]bool, operators map[string]bool) int {
	complexity := 1
	walkTree(node, func(n *sitter.Node) bool {
		kind := n.Kind()
		if decisionKinds[kind] {
			complexity++
			return true
		}
		if booleanKinds[kind] {
			op := n.ChildByFieldName("operator")
			if op != nil && operators[extractNodeText(op, source)] {
				complexity++
			}
		}
		return true
	})
	return complexity
}

// collectCalls walks the subtree collecting call sites. resolve maps a
// call node to (callee name, is method call); empty names are skipped.
func collectCalls(node *sitter.Node, source []byte, callKind string, resolve func(*sitter.Node, []byte) (string, bool)) []CallSite {
	var calls []CallSite
	walkTree(node, func(n *sitter.Node) bool {
		if n.Kind() != callKind {
			return true
		}
		name, isMethod := resolve(n, source)
		if name != "" {
			calls = append(calls, CallSite{
				CalleeName:   name,
				Line:         nodeStartLine(n),
				IsMethodCall: isMethod,
			})
		}
		return true
	})
	return calls
}

// stripTypeAnnotation removes a leading ":" and surrounding whitespace
// from a type annotation's text.
func stripTypeAnnotation(text string) string {
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), ":"))
}

// unquote removes matching string delimiters from an import path.
func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 {
		first, last := s[0], s[len(s)-1]
		if (first == '"' && last == '"') || (first == '\'' && last == '\'') || (first == '`' && last == '`') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
