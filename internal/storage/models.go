package storage

import "time"

// ChunkRecord is one row of the chunks table. A chunk carries one
// embedding per domain: the text vector answers natural-language
// queries, the code vector answers code-shaped ones. Either may be
// absent when the provider was unavailable at indexing time.
type ChunkRecord struct {
	ChunkID       string
	Repository    string
	FilePath      string
	Language      string
	ChunkType     string
	Name          string
	NamePath      string
	SourceCode    string
	StartLine     int
	EndLine       int
	Metadata      string // JSON document
	EmbeddingText []float32
	EmbeddingCode []float32
	EmbeddingDim  int
	TrigramCount  int
	CommitHash    string // empty when the indexing run had no commit context
	IndexedAt     time.Time
}

// Node labels in the code graph.
const (
	NodeFile      = "File"
	NodeClass     = "Class"
	NodeFunction  = "Function"
	NodeMethod    = "Method"
	NodeInterface = "Interface"
	NodeModule    = "Module"
	NodeExternal  = "External"
)

// Edge relations in the code graph.
const (
	EdgeContains = "contains"
	EdgeCalls    = "calls"
	EdgeImports  = "imports"
)

// NodeRecord is one row of the nodes table.
type NodeRecord struct {
	NodeID     string
	Repository string
	Label      string
	Name       string
	NamePath   string
	FilePath   string
	StartLine  int
	EndLine    int
	ChunkID    string // empty for File and External nodes
}

// EdgeRecord is one row of the edges table.
type EdgeRecord struct {
	EdgeID     string
	Repository string
	SourceID   string
	TargetID   string
	Relation   string
	Line       int
}

// Metric names stored in computed_metrics.
const (
	MetricPageRank    = "pagerank"
	MetricCouplingIn  = "coupling_in"
	MetricCouplingOut = "coupling_out"
)

// NodeMetric is one row of computed_metrics.
type NodeMetric struct {
	NodeID     string
	Metric     string
	Value      float64
	ComputedAt time.Time
}

// Memory lifecycle states.
const (
	MemoryStateAlive   = "alive"
	MemoryStateDeleted = "deleted"
)

// MemoryRecord is one row of the memories table.
type MemoryRecord struct {
	MemoryID   string
	ProjectID  string
	Title      string
	Content    string
	MemoryType string
	Tags       string // JSON array
	Author     string
	Related    string // JSON array of chunk IDs
	Links      string // JSON array of resource links
	Embedding  []float32
	State      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// ProjectRecord is one row of the projects table.
type ProjectRecord struct {
	ProjectID string
	Name      string
	RootPath  string
	CreatedAt time.Time
}

// IndexingError is one row of indexing_errors: a file the pipeline
// skipped, recorded instead of failing the run.
type IndexingError struct {
	ErrorID    string
	Repository string
	FilePath   string
	Stage      string
	Message    string
	OccurredAt time.Time
}
