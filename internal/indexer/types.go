package indexer

import "time"

// Options toggles the pipeline's optional stages. The zero value is
// not useful; use DefaultOptions.
type Options struct {
	GenerateEmbeddings bool
	BuildGraph         bool
	ExtractMetadata    bool

	// CommitHash, when known, is stamped onto every chunk written by
	// the run.
	CommitHash string
}

// DefaultOptions runs every stage.
func DefaultOptions() Options {
	return Options{GenerateEmbeddings: true, BuildGraph: true, ExtractMetadata: true}
}

// FileError describes one file the pipeline could not fully process.
type FileError struct {
	FilePath string `json:"file_path"`
	Stage    string `json:"stage"`
	Message  string `json:"message"`
}

// Pipeline stages recorded on errors.
const (
	StageRead  = "read"
	StageParse = "parse"
	StageEmbed = "embed"
	StageStore = "store"
	StageGraph = "graph"
)

// Summary reports what one indexing run did. A run with Errors is
// partial, not failed: everything else was indexed.
type Summary struct {
	Repository   string        `json:"repository"`
	FilesScanned int           `json:"files_scanned"`
	FilesIndexed int           `json:"files_indexed"`
	FilesFailed  int           `json:"files_failed"`
	FilesRemoved int           `json:"files_removed"`
	Chunks       int           `json:"chunks"`
	Embedded     int           `json:"embedded"`
	Nodes        int           `json:"nodes"`
	Edges        int           `json:"edges"`
	Errors       []FileError   `json:"errors,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// Progress is invoked after each file completes. done counts both
// successes and failures.
type Progress func(done, total int)
