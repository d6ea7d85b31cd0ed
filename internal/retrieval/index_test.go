package retrieval

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rendis/copilot/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const calendarDoc = `# Marketing Calendar (1997)

## Summer Beverages 1997
- Dates: 1997-06-01 to 1997-06-30
- Notes: Focus on Beverages and Condiments.

## Winter Classics 1997
- Dates: 1997-12-01 to 1997-12-31
- Notes: Focus on Dairy Products and Confections.`

const policyDoc = `# Returns & Policy

- Perishables (Produce, Seafood): 3-5 days.

- Beverages unopened: 14 days; opened: no returns.



- Non-perishables: 30 days.`

func writeDocs(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	return dir
}

func TestLoadCorpus_ParagraphChunks(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"marketing_calendar.md": calendarDoc,
		"product_policy.md":     policyDoc,
		"notes.txt":             "ignored",
	})

	chunks, err := LoadCorpus(dir, LoaderConfig{}, nil)
	require.NoError(t, err)

	var ids []string
	for _, c := range chunks {
		ids = append(ids, c.ID)
	}
	// Paragraph indices count the empty paragraph left by the triple newline.
	assert.Equal(t, []string{
		"marketing_calendar.md::chunk0",
		"marketing_calendar.md::chunk1",
		"marketing_calendar.md::chunk2",
		"product_policy.md::chunk0",
		"product_policy.md::chunk1",
		"product_policy.md::chunk2",
		"product_policy.md::chunk4",
	}, ids)
	assert.Equal(t, "marketing_calendar.md", chunks[1].Source)
	assert.True(t, strings.HasPrefix(chunks[1].Content, "## Summer Beverages 1997"))
	assert.Equal(t, "- Non-perishables: 30 days.", chunks[6].Content)
}

func TestLoadCorpus_SplitsLongParagraphs(t *testing.T) {
	long := strings.Repeat("Average Order Value is revenue divided by orders. ", 10)
	dir := writeDocs(t, map[string]string{"kpi_definitions.md": "# KPIs\n\n" + long})

	chunks, err := LoadCorpus(dir, LoaderConfig{MaxChunk: 120, Overlap: 0}, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)
	assert.Equal(t, "kpi_definitions.md::chunk0", chunks[0].ID)
	assert.Equal(t, "kpi_definitions.md::chunk1.0", chunks[1].ID)
	assert.Equal(t, "kpi_definitions.md::chunk1.1", chunks[2].ID)
	for _, c := range chunks[1:] {
		assert.LessOrEqual(t, len(c.Content), 120)
	}
}

func TestLoadCorpus_MissingOrEmptyDir(t *testing.T) {
	_, err := LoadCorpus(filepath.Join(t.TempDir(), "nope"), LoaderConfig{}, nil)
	var cErr *schema.CopilotError
	require.ErrorAs(t, err, &cErr)
	assert.Equal(t, schema.ErrCodeNotFound, cErr.Code)

	chunks, err := LoadCorpus(t.TempDir(), LoaderConfig{}, nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestIndex_Search(t *testing.T) {
	dir := writeDocs(t, map[string]string{
		"marketing_calendar.md": calendarDoc,
		"product_policy.md":     policyDoc,
	})
	chunks, err := LoadCorpus(dir, LoaderConfig{}, nil)
	require.NoError(t, err)
	idx := NewIndex(chunks)

	got, err := idx.Search(context.Background(), "What is the return window for unopened Beverages?", 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "product_policy.md::chunk2", got[0].ID)
	assert.GreaterOrEqual(t, got[0].Score, got[1].Score)
	assert.GreaterOrEqual(t, got[1].Score, got[2].Score)

	got, err = idx.Search(context.Background(), "Summer Beverages 1997 dates", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "marketing_calendar.md::chunk1", got[0].ID)
}

func TestIndex_KLargerThanCorpusAndReplace(t *testing.T) {
	idx := NewIndex([]Chunk{{ID: "a.md::chunk0", Content: "alpha", Source: "a.md"}})
	got, err := idx.Search(context.Background(), "alpha", 5)
	require.NoError(t, err)
	assert.Len(t, got, 1)

	idx.Replace([]Chunk{})
	assert.Equal(t, 0, idx.Len())
	got, err = idx.Search(context.Background(), "alpha", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestIndex_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewIndex(nil).Search(ctx, "x", 1)
	assert.ErrorIs(t, err, context.Canceled)
}
