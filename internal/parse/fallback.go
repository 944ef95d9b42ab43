package parse

import "strings"

const (
	fallbackWindowLines  = 60
	fallbackOverlapLines = 15
)

// fallbackChunks splits a source file into fixed-size line windows with
// overlap. Used when AST parsing is unavailable or fails; every chunk
// carries the reason so consumers can tell degraded results apart.
func fallbackChunks(source []byte, reason string) []Chunk {
	lines := strings.Split(string(source), "\n")
	step := fallbackWindowLines - fallbackOverlapLines

	var chunks []Chunk
	for start := 0; start < len(lines); start += step {
		end := start + fallbackWindowLines
		if end > len(lines) {
			end = len(lines)
		}
		chunks = append(chunks, Chunk{
			Type:       ChunkFallbackBlock,
			SourceCode: strings.Join(lines[start:end], "\n"),
			StartLine:  start + 1,
			EndLine:    end,
			Metadata: Metadata{
				Fallback:       true,
				FallbackReason: reason,
			},
		})
		if end == len(lines) {
			break
		}
	}
	return chunks
}
