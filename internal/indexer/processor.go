package indexer

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/mnemo-labs/mnemolite/internal/embed"
	"github.com/mnemo-labs/mnemolite/internal/parse"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

// Files larger than this are skipped; generated bundles and vendored
// blobs drown the index without helping retrieval.
const maxFileBytes = 1 << 20

// fileCommit is the fully processed result of one file, ready to be
// written in a single transaction.
type fileCommit struct {
	filePath string
	records  []storage.ChunkRecord
	parsed   []parse.Chunk // aligned with records, feeds the graph build
	degraded *FileError    // non-fatal embed failure, recorded not raised
}

// processFile reads, chunks, and embeds one file. Returns an error
// only when nothing could be produced; embedding failures degrade to
// chunks without vectors.
func processFile(ctx context.Context, parser *parse.Parser, provider embed.Provider, repository, root, relPath string, opts Options) (*fileCommit, *FileError) {
	source, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(relPath)))
	if err != nil {
		return nil, &FileError{FilePath: relPath, Stage: StageRead, Message: err.Error()}
	}
	if len(source) > maxFileBytes {
		return nil, &FileError{FilePath: relPath, Stage: StageRead, Message: "file exceeds size limit"}
	}

	lang, _ := parse.LanguageForPath(relPath)
	chunks, err := parser.ParseFile(ctx, relPath, source)
	if err != nil {
		return nil, &FileError{FilePath: relPath, Stage: StageParse, Message: err.Error()}
	}

	commit := &fileCommit{filePath: relPath, parsed: chunks}
	if len(chunks) == 0 {
		return commit, nil
	}

	var codeVecs, textVecs [][]float32
	if opts.GenerateEmbeddings {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.SourceCode
		}
		codeVecs, err = provider.Embed(ctx, embed.DomainCode, texts)
		if err == nil {
			textVecs, err = provider.Embed(ctx, embed.DomainText, texts)
		}
		if err != nil {
			// Chunks are still written; only the vectors are missing.
			codeVecs, textVecs = nil, nil
			commit.degraded = &FileError{FilePath: relPath, Stage: StageEmbed, Message: err.Error()}
		}
	}

	now := time.Now().UTC()
	commit.records = make([]storage.ChunkRecord, len(chunks))
	for i, c := range chunks {
		metadata := "{}"
		if opts.ExtractMetadata {
			if payload, err := json.Marshal(c.Metadata); err == nil {
				metadata = string(payload)
			}
		}
		record := storage.ChunkRecord{
			ChunkID:    uuid.NewString(),
			Repository: repository,
			FilePath:   relPath,
			Language:   string(lang),
			ChunkType:  string(c.Type),
			Name:       c.Name,
			NamePath:   c.NamePath,
			SourceCode: c.SourceCode,
			StartLine:  c.StartLine,
			EndLine:    c.EndLine,
			Metadata:   metadata,
			CommitHash: opts.CommitHash,
			IndexedAt:  now,
		}
		if codeVecs != nil {
			record.EmbeddingText = textVecs[i]
			record.EmbeddingCode = codeVecs[i]
			record.EmbeddingDim = len(codeVecs[i])
		}
		commit.records[i] = record
	}
	return commit, nil
}
