package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/copilot/internal/metrics"
	"github.com/rendis/copilot/internal/warehouse"
	"github.com/rendis/copilot/pkg/schema"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func writeRetailDB(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "northwind.sqlite")
	db, err := sql.Open("libsql", "file:"+path)
	require.NoError(t, err)
	for _, stmt := range []string{
		`CREATE TABLE Categories (CategoryID INTEGER PRIMARY KEY, CategoryName TEXT)`,
		`CREATE TABLE Suppliers (SupplierID INTEGER PRIMARY KEY, CompanyName TEXT)`,
		`CREATE TABLE Customers (CustomerID TEXT PRIMARY KEY, CompanyName TEXT)`,
		`CREATE TABLE Products (ProductID INTEGER PRIMARY KEY, ProductName TEXT, CategoryID INTEGER, SupplierID INTEGER, UnitPrice NUMERIC)`,
		`CREATE TABLE Orders (OrderID INTEGER PRIMARY KEY, CustomerID TEXT, OrderDate DATETIME)`,
		`CREATE TABLE "Order Details" (OrderID INTEGER, ProductID INTEGER, UnitPrice NUMERIC, Quantity INTEGER, Discount REAL)`,
		`INSERT INTO Orders VALUES (10248, 'QUICK', '1997-06-04'), (10249, 'QUICK', '1997-12-05')`,
	} {
		_, err := db.Exec(stmt)
		require.NoError(t, err, stmt)
	}
	require.NoError(t, db.Close())
	return path
}

func writeDocs(t *testing.T, dir string) string {
	t.Helper()
	docs := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(docs, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(docs, "product_policy.md"),
		[]byte("# Returns\n\nBeverages unopened: 14 days.\n\nPerishables: no returns.\n"), 0o644))
	return docs
}

// fakeChatServer answers every chat completion by task, recognized from the
// system prompt.
type fakeChatServer struct {
	mu    sync.Mutex
	tasks []string
}

func (f *fakeChatServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Content string `json:"content"`
		} `json:"messages"`
	}
	_ = json.NewDecoder(r.Body).Decode(&req)
	system := req.Messages[0].Content

	var task, reply string
	switch {
	case strings.Contains(system, "Classify the incoming user question"):
		task, reply = "route", "[[ ## classification ## ]]\nsql\n\n[[ ## completed ## ]]"
	case strings.Contains(system, "Write a SQLite query"):
		task, reply = "generate_sql", "[[ ## sql_query ## ]]\n```sql\nSELECT COUNT(*) AS n FROM orders\n```\n\n[[ ## completed ## ]]"
	default:
		task, reply = "synthesize", "[[ ## final_answer ## ]]\n2\n\n[[ ## explanation ## ]]\nCounted orders.\n\n[[ ## citations ## ]]\nOrders\n\n[[ ## completed ## ]]"
	}
	f.mu.Lock()
	f.tasks = append(f.tasks, task)
	f.mu.Unlock()

	body, _ := json.Marshal(map[string]any{
		"id":     "c1",
		"object": "chat.completion",
		"choices": []map[string]any{{
			"index":         0,
			"message":       map[string]string{"role": "assistant", "content": reply},
			"finish_reason": "stop",
		}},
	})
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(body)
}

func testConfig(t *testing.T, llmURL string) Config {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.DBPath = writeRetailDB(t, dir)
	cfg.DocsDir = writeDocs(t, dir)
	cfg.StorePath = filepath.Join(dir, "runs.db")
	cfg.LLM.Provider = "openai"
	cfg.LLM.BaseURL = llmURL
	cfg.LLM.APIKey = "test"
	cfg.LLM.Model = "fake"
	cfg.LLM.MaxRetries = 0
	return cfg
}

func TestNew_AnswersAndRecords(t *testing.T) {
	chat := &fakeChatServer{}
	srv := httptest.NewServer(chat)
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/v1")
	cfg.Cache = CacheConfig{Backend: CacheBadger, Path: filepath.Join(t.TempDir(), "cache")}

	a, err := New(context.Background(), cfg, quiet)
	require.NoError(t, err)
	defer a.Close()

	q := schema.Question{ID: "q1", Question: "How many orders are there?", FormatHint: "int"}
	res, err := a.Engine.Run(context.Background(), q, nil)
	require.NoError(t, err)

	ans := res.Answer()
	assert.Equal(t, 2, ans.FinalAnswer)
	assert.Equal(t, "SELECT COUNT(*) AS n FROM orders", ans.SQL)
	assert.Equal(t, 1.0, ans.Confidence)
	assert.Equal(t, []string{"route", "generate_sql", "synthesize"}, chat.tasks)

	run, err := a.Store.GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, "sql", run.Route)
	visits, err := a.Events.ReplayTrace(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Len(t, visits, 4)

	// The second identical question is served from the reply cache.
	_, err = a.Engine.Run(context.Background(), q, nil)
	require.NoError(t, err)
	assert.Len(t, chat.tasks, 3)

	rec := httptest.NewRecorder()
	a.Metrics.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `copilot_warehouse_queries_total{status="success"} 2`)
	assert.Contains(t, rec.Body.String(), `copilot_runs_total{route="sql"} 2`)
}

func TestNew_ReindexPicksUpNewDocs(t *testing.T) {
	srv := httptest.NewServer(&fakeChatServer{})
	defer srv.Close()

	cfg := testConfig(t, srv.URL+"/v1")
	cfg.StorePath = ""
	a, err := New(context.Background(), cfg, quiet)
	require.NoError(t, err)
	defer a.Close()
	assert.Nil(t, a.Store)

	before := a.Index.Len()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DocsDir, "kpi_definitions.md"),
		[]byte("# AOV\n\nAverage Order Value = revenue / orders.\n"), 0o644))
	require.NoError(t, a.Reindex(context.Background()))
	assert.Greater(t, a.Index.Len(), before)
}

func TestNew_MissingDocsDir(t *testing.T) {
	cfg := testConfig(t, "http://localhost:1/v1")
	cfg.DocsDir = filepath.Join(t.TempDir(), "nope")

	_, err := New(context.Background(), cfg, quiet)
	var cErr *schema.CopilotError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeNotFound, cErr.Code)
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LLM.Provider = "bedrock"
	_, err := New(context.Background(), cfg, quiet)
	var cErr *schema.CopilotError
	require.True(t, errors.As(err, &cErr))
	assert.Equal(t, schema.ErrCodeConfig, cErr.Code)
}

type stubRunner struct{ env warehouse.Envelope }

func (s stubRunner) Run(context.Context, string) warehouse.Envelope { return s.env }

func TestMeteredRunner(t *testing.T) {
	m := metrics.New()
	r := &MeteredRunner{
		Runner:  stubRunner{env: warehouse.Envelope{Status: warehouse.StatusError, Data: "no such table: x", Message: "SQL Error: no such table: x"}},
		Metrics: m,
	}

	raw, err := r.Execute(context.Background(), "SELECT * FROM x")
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"error","data":"no such table: x","message":"SQL Error: no such table: x"}`, string(raw))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Contains(t, rec.Body.String(), `copilot_warehouse_queries_total{status="error"} 1`)
}

func TestOpenCache(t *testing.T) {
	c, err := openCache(context.Background(), CacheConfig{Backend: CacheNone}, quiet)
	require.NoError(t, err)
	require.NoError(t, c.Close())

	_, err = openCache(context.Background(), CacheConfig{Backend: "memcached"}, quiet)
	assert.Error(t, err)
}

func TestTracingToFile(t *testing.T) {
	out := filepath.Join(t.TempDir(), "spans.jsonl")
	tp, closer, err := newTracerProvider(TracingConfig{Enabled: true, Output: out})
	require.NoError(t, err)

	_, span := tp.Tracer(tracerName).Start(context.Background(), "copilot.run")
	span.End()
	require.NoError(t, shutdownTracer(context.Background(), tp, closer))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"Name":"copilot.run"`)
}
