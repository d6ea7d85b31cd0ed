// Package retrieval loads the markdown knowledge base and ranks its
// paragraphs against a question with BM25.
package retrieval

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/tmc/langchaingo/textsplitter"
)

// Chunk is one indexed paragraph.
type Chunk struct {
	ID      string
	Content string
	Source  string
}

var tokenRe = regexp.MustCompile(`\w+`)

// Tokenize lowercases text and returns its word tokens.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

// LoaderConfig controls paragraph splitting.
type LoaderConfig struct {
	// MaxChunk splits paragraphs longer than this many characters. Zero keeps them whole.
	MaxChunk int
	// Overlap is carried between the pieces of a split paragraph.
	Overlap int
}

var chunkSeparators = []string{"\n", ". ", " ", ""}

// LoadCorpus reads every *.md file directly under dir, in name order.
// Paragraphs are separated by a blank line; chunk ids are "<file>::chunk<i>"
// where i counts raw paragraphs, empty ones included. Oversized paragraphs
// become "<file>::chunk<i>.<j>". Unreadable files are logged and skipped.
func LoadCorpus(dir string, cfg LoaderConfig, logger *slog.Logger) ([]Chunk, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "docs directory %s not found", dir).
			WithDetails(map[string]any{"docs_dir": dir})
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.md"))
	if err != nil {
		return nil, fmt.Errorf("glob docs: %w", err)
	}
	if len(paths) == 0 {
		logger.Warn("no markdown files found in docs directory", "docs_dir", dir)
		return []Chunk{}, nil
	}
	sort.Strings(paths)

	var splitter textsplitter.TextSplitter
	if cfg.MaxChunk > 0 {
		splitter = textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.MaxChunk),
			textsplitter.WithChunkOverlap(cfg.Overlap),
			textsplitter.WithSeparators(chunkSeparators),
		)
	}

	chunks := []Chunk{}
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Error("failed to read doc", "file", filepath.Base(path), "error", err)
			continue
		}
		chunks = append(chunks, splitFile(filepath.Base(path), string(data), cfg.MaxChunk, splitter, logger)...)
	}

	logger.Info("loaded corpus", "chunks", len(chunks), "files", len(paths))
	return chunks, nil
}

func splitFile(name, content string, maxChunk int, splitter textsplitter.TextSplitter, logger *slog.Logger) []Chunk {
	var out []Chunk
	for i, para := range strings.Split(content, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		id := fmt.Sprintf("%s::chunk%d", name, i)

		if splitter == nil || len([]rune(para)) <= maxChunk {
			out = append(out, Chunk{ID: id, Content: para, Source: name})
			continue
		}
		parts, err := splitter.SplitText(para)
		if err != nil || len(parts) == 0 {
			logger.Warn("paragraph split failed, keeping it whole", "chunk", id, "error", err)
			out = append(out, Chunk{ID: id, Content: para, Source: name})
			continue
		}
		for j, part := range parts {
			out = append(out, Chunk{ID: fmt.Sprintf("%s.%d", id, j), Content: strings.TrimSpace(part), Source: name})
		}
	}
	return out
}
