// Package parse turns source files into semantic chunks with structural
// metadata. Parsing uses tree-sitter grammars per language; when a
// parser fails or times out, files degrade to fixed-size line windows.
package parse

import (
	"path/filepath"
	"strings"
)

// Language identifies a supported source language.
type Language string

const (
	LangTypeScript Language = "typescript"
	LangJavaScript Language = "javascript"
	LangPython     Language = "python"
	LangJava       Language = "java"
	LangRust       Language = "rust"
)

// extensionLanguages maps canonical file extensions to languages.
var extensionLanguages = map[string]Language{
	".ts":   LangTypeScript,
	".tsx":  LangTypeScript,
	".js":   LangJavaScript,
	".jsx":  LangJavaScript,
	".mjs":  LangJavaScript,
	".py":   LangPython,
	".java": LangJava,
	".rs":   LangRust,
}

// LanguageForPath detects the language from the file extension.
func LanguageForPath(path string) (Language, bool) {
	lang, ok := extensionLanguages[strings.ToLower(filepath.Ext(path))]
	return lang, ok
}

// Extensions returns the canonical extensions of all supported languages.
func Extensions() []string {
	exts := make([]string, 0, len(extensionLanguages))
	for ext := range extensionLanguages {
		exts = append(exts, ext)
	}
	return exts
}

// ChunkType classifies an indexable unit.
type ChunkType string

const (
	ChunkFunction      ChunkType = "function"
	ChunkMethod        ChunkType = "method"
	ChunkClass         ChunkType = "class"
	ChunkInterface     ChunkType = "interface"
	ChunkModule        ChunkType = "module"
	ChunkFallbackBlock ChunkType = "fallback_block"
)

// Chunk is one indexable unit of a source file.
type Chunk struct {
	Name       string    // declared name, empty for fallback blocks
	NamePath   string    // dotted qualified name, e.g. "ClassName.method"
	Type       ChunkType
	SourceCode string
	StartLine  int // 1-indexed, inclusive
	EndLine    int // 1-indexed, inclusive
	Metadata   Metadata
}

// Metadata is the per-chunk structural document persisted as JSON.
type Metadata struct {
	Signature         *Signature  `json:"signature,omitempty"`
	Calls             []CallSite  `json:"calls,omitempty"`
	Imports           []ImportRef `json:"imports,omitempty"`
	Complexity        *Complexity `json:"complexity,omitempty"`
	Fallback          bool        `json:"fallback,omitempty"`
	FallbackReason    string      `json:"fallback_reason,omitempty"`
	ExtractorWarnings []string    `json:"extractor_warnings,omitempty"`
}

// Signature describes a callable's declared shape.
type Signature struct {
	Parameters []Parameter `json:"parameters"`
	ReturnType string      `json:"return_type,omitempty"`
	IsAsync    bool        `json:"is_async"`
	IsGeneric  bool        `json:"is_generic"`
	Decorators []string    `json:"decorators,omitempty"`
}

// Parameter is one declared parameter.
type Parameter struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
}

// CallSite records one outgoing call inside a chunk.
type CallSite struct {
	CalleeName   string `json:"callee_name"`
	Line         int    `json:"line"`
	IsMethodCall bool   `json:"is_method_call"`
}

// ImportRef records one import visible to a chunk's file.
type ImportRef struct {
	ImportedName string `json:"imported_name"`
	Module       string `json:"module"`
	IsRelative   bool   `json:"is_relative"`
}

// Complexity holds size and branching metrics.
type Complexity struct {
	Cyclomatic  int `json:"cyclomatic"`
	LinesOfCode int `json:"lines_of_code"`
}
