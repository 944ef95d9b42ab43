// Package graph builds and queries the code graph: File, declaration,
// and External nodes connected by contains, calls, and imports edges.
// Construction works on an in-memory draft arena with integer indices;
// UUIDs are only assigned when the draft is written to storage.
package graph

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/parse"
	"github.com/mnemo-labs/mnemolite/internal/storage"
)

type draftNode struct {
	label     string
	name      string
	namePath  string
	filePath  string
	startLine int
	endLine   int
	chunkID   string
}

type draftEdge struct {
	source   int
	target   int
	relation string
	line     int
}

type chunkEntry struct {
	nodeIdx  int
	filePath string
	meta     parse.Metadata
}

// Builder accumulates one repository's draft graph.
type Builder struct {
	repository string
	nodes      []draftNode
	edges      []draftEdge
	edgeSeen   map[[3]int]bool // source, target, relation index

	files     map[string]int      // file path -> node index
	byPath    map[string]int      // name_path|file -> node index
	symbols   map[string][]int    // bare name -> node indices, insertion order
	externals map[string]int      // external name -> node index
	chunks    []chunkEntry
	relations map[string]int
}

// NewBuilder starts an empty draft for one repository.
func NewBuilder(repository string) *Builder {
	return &Builder{
		repository: repository,
		edgeSeen:   make(map[[3]int]bool),
		files:      make(map[string]int),
		byPath:     make(map[string]int),
		symbols:    make(map[string][]int),
		externals:  make(map[string]int),
		relations:  map[string]int{storage.EdgeContains: 0, storage.EdgeCalls: 1, storage.EdgeImports: 2},
	}
}

func (b *Builder) addNode(n draftNode) int {
	b.nodes = append(b.nodes, n)
	return len(b.nodes) - 1
}

func (b *Builder) addEdge(source, target int, relation string, line int) {
	key := [3]int{source, target, b.relations[relation]}
	if source == target || b.edgeSeen[key] {
		return
	}
	b.edgeSeen[key] = true
	b.edges = append(b.edges, draftEdge{source: source, target: target, relation: relation, line: line})
}

// fileNode returns (creating if needed) the File node of a path.
func (b *Builder) fileNode(filePath string) int {
	if idx, ok := b.files[filePath]; ok {
		return idx
	}
	idx := b.addNode(draftNode{label: storage.NodeFile, name: filePath, namePath: filePath, filePath: filePath})
	b.files[filePath] = idx
	return idx
}

func labelForChunkType(chunkType parse.ChunkType) string {
	switch chunkType {
	case parse.ChunkFunction:
		return storage.NodeFunction
	case parse.ChunkMethod:
		return storage.NodeMethod
	case parse.ChunkClass:
		return storage.NodeClass
	case parse.ChunkInterface:
		return storage.NodeInterface
	case parse.ChunkModule:
		return storage.NodeModule
	default:
		return ""
	}
}

// AddChunk registers a chunk as a declaration node contained in its
// file. Fallback blocks and anonymous chunks carry no graph identity
// and are skipped.
func (b *Builder) AddChunk(filePath, chunkID string, chunk parse.Chunk) {
	label := labelForChunkType(chunk.Type)
	if label == "" {
		return
	}
	if chunk.Name == "" && label != storage.NodeModule {
		return
	}
	name := chunk.Name
	namePath := chunk.NamePath
	if namePath == "" {
		namePath = name
	}

	idx := b.addNode(draftNode{
		label:     label,
		name:      name,
		namePath:  namePath,
		filePath:  filePath,
		startLine: chunk.StartLine,
		endLine:   chunk.EndLine,
		chunkID:   chunkID,
	})
	b.byPath[namePath+"|"+filePath] = idx
	if name != "" {
		b.symbols[name] = append(b.symbols[name], idx)
	}
	if namePath != name {
		b.symbols[namePath] = append(b.symbols[namePath], idx)
	}
	b.addEdge(b.fileNode(filePath), idx, storage.EdgeContains, chunk.StartLine)
	b.chunks = append(b.chunks, chunkEntry{nodeIdx: idx, filePath: filePath, meta: chunk.Metadata})
}

// resolve finds the best declaration for a referenced name: an exact
// qualified-path match wins, then a same-file declaration, then the
// first declaration seen anywhere in the repository.
func (b *Builder) resolve(name, fromFile string) (int, bool) {
	candidates := b.symbols[name]
	if len(candidates) == 0 {
		return 0, false
	}
	for _, idx := range candidates {
		if b.nodes[idx].namePath == name && b.nodes[idx].name != name {
			return idx, true
		}
	}
	for _, idx := range candidates {
		if b.nodes[idx].filePath == fromFile {
			return idx, true
		}
	}
	return candidates[0], true
}

// external returns (creating if needed) the per-repository External
// node of an unresolved name.
func (b *Builder) external(name string) int {
	if idx, ok := b.externals[name]; ok {
		return idx
	}
	idx := b.addNode(draftNode{label: storage.NodeExternal, name: name, namePath: name})
	b.externals[name] = idx
	return idx
}

// Finalize runs symbol resolution: every recorded call and import
// becomes an edge, targeting an External node when nothing in the
// repository matches.
func (b *Builder) Finalize() {
	for _, entry := range b.chunks {
		for _, call := range entry.meta.Calls {
			target, ok := b.resolve(call.CalleeName, entry.filePath)
			if !ok {
				target = b.external(call.CalleeName)
			}
			b.addEdge(entry.nodeIdx, target, storage.EdgeCalls, call.Line)
		}
		for _, imp := range entry.meta.Imports {
			target, ok := b.resolve(imp.ImportedName, entry.filePath)
			if !ok {
				target = b.external(imp.Module)
			}
			b.addEdge(entry.nodeIdx, target, storage.EdgeImports, 0)
		}
	}
}

// NodeCount and EdgeCount report draft sizes.
func (b *Builder) NodeCount() int { return len(b.nodes) }
func (b *Builder) EdgeCount() int { return len(b.edges) }

// Write persists the draft: nodes first so every edge references
// stored rows, then edges. Node identity is resolved by the storage
// upsert, so rebuilding an existing repository reuses node IDs.
func (b *Builder) Write(ctx context.Context, store *storage.Store, tx *sql.Tx) (int, int, error) {
	persisted := make([]string, len(b.nodes))
	for i, n := range b.nodes {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		nodeID, err := store.UpsertNode(ctx, tx, storage.NodeRecord{
			NodeID:     uuid.NewString(),
			Repository: b.repository,
			Label:      n.label,
			Name:       n.name,
			NamePath:   n.namePath,
			FilePath:   n.filePath,
			StartLine:  n.startLine,
			EndLine:    n.endLine,
			ChunkID:    n.chunkID,
		})
		if err != nil {
			return 0, 0, err
		}
		persisted[i] = nodeID
	}

	for _, entry := range b.chunks {
		metadata, err := json.Marshal(entry.meta)
		if err != nil {
			return 0, 0, merrors.Wrap(merrors.KindInternal, "graph.write", err)
		}
		if err := store.UpsertDetailedMetadata(ctx, tx, persisted[entry.nodeIdx], string(metadata)); err != nil {
			return 0, 0, err
		}
	}

	for _, e := range b.edges {
		if err := ctx.Err(); err != nil {
			return 0, 0, err
		}
		err := store.UpsertEdge(ctx, tx, storage.EdgeRecord{
			EdgeID:     uuid.NewString(),
			Repository: b.repository,
			SourceID:   persisted[e.source],
			TargetID:   persisted[e.target],
			Relation:   e.relation,
			Line:       e.line,
		})
		if err != nil {
			return 0, 0, err
		}
	}
	return len(b.nodes), len(b.edges), nil
}
