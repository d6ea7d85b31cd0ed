package nodes

import (
	"context"
	"log/slog"

	"github.com/rendis/copilot/internal/retrieval"
	"github.com/rendis/copilot/internal/workflow"
	"github.com/rendis/copilot/pkg/schema"
)

// Retriever fetches the top passages for the question. A search error yields
// an empty list.
type Retriever struct {
	search retrieval.Searcher
	k      int
	logger *slog.Logger
}

func NewRetriever(search retrieval.Searcher, k int, logger *slog.Logger) *Retriever {
	return &Retriever{search: search, k: k, logger: logger}
}

func (n *Retriever) Run(ctx context.Context, s *workflow.State) workflow.Update {
	docs, err := n.search.Search(ctx, s.Question, n.k)
	if err != nil {
		n.logger.ErrorContext(ctx, "retrieval failed", "error", err)
		docs = nil
	}
	if docs == nil {
		docs = []schema.Passage{}
	}
	n.logger.InfoContext(ctx, "retrieved chunks", "count", len(docs))
	return workflow.Update{RetrievedDocs: docs}
}
