package retrieval

import (
	"context"
	"sort"
	"sync"

	"github.com/rendis/copilot/pkg/schema"
)

// Searcher returns the top-k passages for a query, best first.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]schema.Passage, error)
}

// Index is a Searcher over an in-memory corpus. Replace swaps the corpus
// atomically, so a reload never blocks searches for long.
type Index struct {
	mu     sync.RWMutex
	chunks []Chunk
	bm25   *BM25
}

// NewIndex builds an index over chunks.
func NewIndex(chunks []Chunk) *Index {
	idx := &Index{}
	idx.Replace(chunks)
	return idx
}

// Replace rebuilds the index over a new corpus.
func (x *Index) Replace(chunks []Chunk) {
	docs := make([][]string, len(chunks))
	for i, c := range chunks {
		docs[i] = Tokenize(c.Content)
	}
	bm := NewBM25(docs)

	x.mu.Lock()
	x.chunks = chunks
	x.bm25 = bm
	x.mu.Unlock()
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.chunks)
}

// Search scores every chunk and returns the k best. Ties keep corpus order.
// k <= 0 returns every chunk.
func (x *Index) Search(ctx context.Context, query string, k int) ([]schema.Passage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	x.mu.RLock()
	chunks, bm := x.chunks, x.bm25
	x.mu.RUnlock()

	scores := bm.Scores(Tokenize(query))
	out := make([]schema.Passage, len(chunks))
	for i, c := range chunks {
		out[i] = schema.Passage{ID: c.ID, Content: c.Content, Source: c.Source, Score: scores[i]}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })

	if k > 0 && k < len(out) {
		out = out[:k]
	}
	return out, nil
}

var _ Searcher = (*Index)(nil)
