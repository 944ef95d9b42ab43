package indexer

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"

	merrors "github.com/mnemo-labs/mnemolite/internal/errors"
	"github.com/mnemo-labs/mnemolite/internal/parse"
)

// Directories never worth descending into, regardless of configured
// excludes.
var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".venv":        true,
	"__pycache__":  true,
	"target":       true,
	"dist":         true,
	"build":        true,
}

// Scanner walks a repository root and selects indexable files.
type Scanner struct {
	excludes []glob.Glob
}

// NewScanner compiles the exclude patterns, matched against
// slash-separated paths relative to the scan root.
func NewScanner(excludePatterns []string) (*Scanner, error) {
	excludes := make([]glob.Glob, 0, len(excludePatterns))
	for _, pattern := range excludePatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, merrors.E(merrors.KindInvalidArgument, "indexer.scanner",
				"invalid exclude pattern %q: %v", pattern, err)
		}
		excludes = append(excludes, g)
	}
	return &Scanner{excludes: excludes}, nil
}

func (s *Scanner) excluded(relPath string) bool {
	for _, g := range s.excludes {
		if g.Match(relPath) {
			return true
		}
	}
	return false
}

// Scan returns the relative paths of all indexable files under root,
// sorted by the walk order of the tree.
func (s *Scanner) Scan(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if skippedDirs[d.Name()] || strings.HasPrefix(d.Name(), ".") || s.excluded(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if s.excluded(rel) {
			return nil
		}
		if _, ok := parse.LanguageForPath(rel); !ok {
			return nil
		}
		files = append(files, rel)
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return nil, merrors.E(merrors.KindInvalidArgument, "indexer.scanner", "root %q does not exist", root)
		}
		return nil, merrors.Wrap(merrors.KindInternal, "indexer.scanner", err)
	}
	return files, nil
}
