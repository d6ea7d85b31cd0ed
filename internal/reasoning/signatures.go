package reasoning

import (
	"bufio"
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
)

// Task names. They double as cache namespaces and metric labels.
const (
	TaskRoute       = "route"
	TaskPlan        = "plan"
	TaskGenerateSQL = "generate_sql"
	TaskRepairSQL   = "repair_sql"
	TaskSynthesize  = "synthesize"
)

//go:embed demos/generate_sql.jsonl
var generateSQLDemos []byte

var reasoningField = Field{Name: "reasoning", Desc: "Think step by step before answering.", Optional: true}

// RouteSignature classifies a question into rag, sql or hybrid.
var RouteSignature = &Signature{
	Name: TaskRoute,
	Instructions: `Classify the incoming user question into one of three distinct execution paths: 'rag', 'sql', or 'hybrid'.

DEFINITIONS:
1. 'rag': Questions involving text-based knowledge, policies, definitions, or the marketing calendar.
   Keywords: "policy", "return", "notes", "calendar", "definition", "terms".
   Example: "What is the return policy for beverages?"

2. 'sql': Questions requiring database aggregation (SUM, COUNT, AVG) where ALL constraints (dates, ids) are explicitly provided in the question.
   Keywords: "revenue", "how many", "top customers", "inventory".
   Example: "Total sales in May 1997?" (Date is explicit).

3. 'hybrid': Questions asking for database metrics but using named entities or time periods defined in the docs.
   If you need to look up a date range (e.g. "Summer 1997") or a formula (e.g. "Gross Margin") from docs BEFORE running SQL, choose hybrid.
   Example: "Total sales during 'Summer Beverages 1997'?" (Must look up dates for 'Summer Beverages' first).`,
	Inputs: []Field{
		{Name: "question", Desc: "The user's natural language query."},
	},
	Outputs: []Field{
		reasoningField,
		{Name: "classification", Desc: "The routing decision. MUST be exactly one of: ['rag', 'sql', 'hybrid']."},
	},
}

// PlanSignature extracts query constraints from retrieved passages.
var PlanSignature = &Signature{
	Name: TaskPlan,
	Instructions: `Read the reference documents and extract the structured constraints needed to answer the question with SQL.
Resolve named campaigns and seasons to explicit date ranges (start_date, end_date as YYYY-MM-DD), KPI names to their formulas, and named entities (categories, customers, products) to their exact names.
Return a single JSON object. Return {} when the documents define nothing relevant.`,
	Inputs: []Field{
		{Name: "question", Desc: "The user's natural language query."},
		{Name: "context", Desc: "Retrieved document chunks, each with its source id."},
	},
	Outputs: []Field{
		reasoningField,
		{Name: "constraints", Desc: "A JSON object of constraints, e.g. {\"start_date\": \"1997-06-01\", \"end_date\": \"1997-06-30\", \"category\": \"Beverages\"}."},
	},
}

const sqlRules = `RULES:
- Use only the tables and columns listed in the schema. Prefer the lowercase views: orders, order_items, products, customers, categories, suppliers.
- Revenue is SUM(oi.UnitPrice * oi.Quantity * (1 - oi.Discount)) over order_items. Round money to 2 decimals.
- Category names live in categories.CategoryName; join products p ON p.CategoryID = categories.CategoryID. products has no CategoryName column.
- Join order_items oi ON oi.OrderID = o.OrderID for order dates, and oi.ProductID = p.ProductID for products.
- Dates are ISO text; filter with BETWEEN 'YYYY-MM-DD' AND 'YYYY-MM-DD' on orders.OrderDate.
- When cost of goods is needed and no cost column exists, approximate CostOfGoods as 0.7 * UnitPrice.
- Return exactly one SQLite SELECT (or WITH) statement and nothing else.`

// GenerateSQLSignature turns a question into a read-only SQLite query.
var GenerateSQLSignature = &Signature{
	Name:         TaskGenerateSQL,
	Instructions: "Write a SQLite query that answers the question using the schema and the constraints.\n\n" + sqlRules,
	Inputs: []Field{
		{Name: "question", Desc: "The user's natural language query."},
		{Name: "db_schema", Desc: "Tables and columns available."},
		{Name: "constraints", Desc: "Filters extracted from documents, or None."},
		{Name: "format_hint", Desc: "The expected shape of the final answer."},
	},
	Outputs: []Field{
		reasoningField,
		{Name: "sql_query", Desc: "A single executable SQLite query."},
	},
	Demos: mustLoadDemos(generateSQLDemos),
}

// RepairSQLSignature fixes a query that failed to execute.
var RepairSQLSignature = &Signature{
	Name:         TaskRepairSQL,
	Instructions: "The query below failed. Read the error message and return a corrected SQLite query that answers the question.\n\n" + sqlRules,
	Inputs: []Field{
		{Name: "question", Desc: "The user's natural language query."},
		{Name: "bad_query", Desc: "The query that failed."},
		{Name: "error_message", Desc: "The error returned by the database."},
		{Name: "db_schema", Desc: "Tables and columns available."},
		{Name: "constraints", Desc: "Filters extracted from documents, or None."},
		{Name: "format_hint", Desc: "The expected shape of the final answer."},
	},
	Outputs: []Field{
		reasoningField,
		{Name: "fixed_sql", Desc: "The corrected SQLite query."},
	},
}

// SynthesizeSignature writes the final typed answer with citations.
var SynthesizeSignature = &Signature{
	Name: TaskSynthesize,
	Instructions: `Answer the question using the SQL result data and the reference documents.
The final_answer must match the format hint exactly: a bare number for int or float, a Python-style literal for list or dict hints, plain text otherwise.
Cite the tables you queried (e.g. Orders, Order Details, Products) and the document chunk ids you used, comma-separated.`,
	Inputs: []Field{
		{Name: "question", Desc: "The user's natural language query."},
		{Name: "context", Desc: "SQL query, its result and reference documents."},
		{Name: "sql_query", Desc: "The SQL query that was run."},
		{Name: "sql_result", Desc: "The rows it returned."},
		{Name: "format_hint", Desc: "The expected shape of the final answer."},
	},
	Outputs: []Field{
		reasoningField,
		{Name: "final_answer", Desc: "The answer, formatted per format_hint."},
		{Name: "explanation", Desc: "One or two sentences on how the answer was derived."},
		{Name: "citations", Desc: "Comma-separated table names and document chunk ids."},
	},
}

// Signatures lists every task signature by name.
var Signatures = map[string]*Signature{
	TaskRoute:       RouteSignature,
	TaskPlan:        PlanSignature,
	TaskGenerateSQL: GenerateSQLSignature,
	TaskRepairSQL:   RepairSQLSignature,
	TaskSynthesize:  SynthesizeSignature,
}

// LoadDemos parses JSONL demonstrations. Blank lines are skipped.
func LoadDemos(data []byte) ([]Demo, error) {
	var demos []Demo
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		raw := bytes.TrimSpace(sc.Bytes())
		if len(raw) == 0 {
			continue
		}
		var d Demo
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("demo line %d: %w", line, err)
		}
		demos = append(demos, d)
	}
	return demos, sc.Err()
}

func mustLoadDemos(data []byte) []Demo {
	demos, err := LoadDemos(data)
	if err != nil {
		panic(err)
	}
	return demos
}
