package parse

import (
	"context"
	"fmt"
	"strings"
	"time"

	sitter "github.com/tree-sitter/go-tree-sitter"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
)

// Fallback reasons recorded on degraded chunks.
const (
	FallbackReasonParseFailed = "ast_parsing_failed"
	FallbackReasonUnsupported = "unsupported_language"
)

// Parser chunks source files. AST extraction runs under a deadline;
// failures and timeouts degrade to fixed-size line windows instead of
// failing the file.
type Parser struct {
	astTimeout time.Duration
}

// NewParser creates a parser with the given per-file AST deadline.
func NewParser(astTimeout time.Duration) *Parser {
	return &Parser{astTimeout: astTimeout}
}

// ParseFile chunks a file, detecting the language from its path.
func (p *Parser) ParseFile(ctx context.Context, path string, source []byte) ([]Chunk, error) {
	lang, ok := LanguageForPath(path)
	if !ok {
		if len(strings.TrimSpace(string(source))) == 0 {
			return nil, nil
		}
		return fallbackChunks(source, FallbackReasonUnsupported), nil
	}
	return p.Parse(ctx, lang, source)
}

// Parse chunks source code in the given language. An empty or
// whitespace-only file yields zero chunks. The returned error is
// non-nil only when the parent context was cancelled.
func (p *Parser) Parse(ctx context.Context, lang Language, source []byte) ([]Chunk, error) {
	if len(strings.TrimSpace(string(source))) == 0 {
		return nil, nil
	}
	ext := newExtractor(lang)
	if ext == nil {
		return fallbackChunks(source, FallbackReasonUnsupported), nil
	}

	chunks, err := p.extractWithDeadline(ctx, ext, source)
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return fallbackChunks(source, FallbackReasonParseFailed), nil
	}
	if len(chunks) == 0 {
		// Files of loose top-level statements become a single module chunk.
		lines := strings.Split(string(source), "\n")
		chunks = []Chunk{{
			Type:       ChunkModule,
			SourceCode: string(source),
			StartLine:  1,
			EndLine:    len(lines),
			Metadata: Metadata{
				Complexity: &Complexity{Cyclomatic: 1, LinesOfCode: len(lines)},
			},
		}}
	}
	return chunks, nil
}

// extractWithDeadline runs parse and extraction in a goroutine so a
// pathological input cannot stall the pipeline past the AST deadline.
func (p *Parser) extractWithDeadline(ctx context.Context, ext extractor, source []byte) ([]Chunk, error) {
	var chunks []Chunk
	err := merrors.WithDeadline(ctx, "parse.ast", p.astTimeout, func(ctx context.Context) error {
		done := make(chan []Chunk, 1)
		fail := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					fail <- fmt.Errorf("extractor panic: %v", r)
				}
			}()
			parser := sitter.NewParser()
			defer parser.Close()
			if err := parser.SetLanguage(ext.language()); err != nil {
				fail <- err
				return
			}
			tree := parser.Parse(source, nil)
			if tree == nil {
				fail <- fmt.Errorf("parser produced no tree")
				return
			}
			defer tree.Close()
			root := tree.RootNode()
			if root == nil || root.IsError() {
				fail <- fmt.Errorf("source is not parseable")
				return
			}
			lines := strings.Split(string(source), "\n")
			done <- ext.extract(root, source, lines)
		}()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-fail:
			return err
		case c := <-done:
			chunks = c
			return nil
		}
	})
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
