package textparse

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripFences(t *testing.T) {
	cases := map[string]string{
		"```json\n{\"a\": 1}\n```":  `{"a": 1}`,
		"```sql\nSELECT 1\n```":     "SELECT 1",
		"  SELECT 1  ":              "SELECT 1",
		"```\nplain\n```":           "plain",
		"```SQL\nSELECT 2\n```":     "SELECT 2",
	}
	for in, want := range cases {
		assert.Equal(t, want, StripFences(in), in)
	}
}

func TestCleanSQL(t *testing.T) {
	assert.Equal(t, "SELECT COUNT(*) FROM orders", CleanSQL("```sql\nsql SELECT COUNT(*) FROM orders\n```"))
	assert.Equal(t, "SELECT 1", CleanSQL("SQL:\nSELECT 1"))
	assert.Equal(t, "SELECT 1", CleanSQL("sql\nSELECT 1"))
	// sqlite_master must not lose its prefix.
	assert.Equal(t, "sqlite_master", CleanSQL("sqlite_master"))
	assert.Equal(t, "", CleanSQL("sql"))
}

func TestParseLiteral_PythonStyle(t *testing.T) {
	v, err := ParseLiteral(`{'start_date': '1997-06-01', 'year': 1997, 'ok': True, 'none': None, 'neg': -2.5}`)
	require.NoError(t, err)
	m, ok := v.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1997-06-01", m["start_date"])
	assert.Equal(t, 1997, m["year"])
	assert.Equal(t, true, m["ok"])
	assert.Nil(t, m["none"])
	assert.Equal(t, -2.5, m["neg"])
}

func TestParseLiteral_List(t *testing.T) {
	v, err := ParseLiteral(`['Chai', "Chang", 3]`)
	require.NoError(t, err)
	assert.Equal(t, []any{"Chai", "Chang", 3}, v)
}

func TestParseLiteral_Tuples(t *testing.T) {
	cases := []struct {
		in   string
		want any
	}{
		{`('Chai', 10)`, []any{"Chai", 10}},
		{`[('Chai', 18.0), ('Chang', 19.0)]`, []any{[]any{"Chai", 18.0}, []any{"Chang", 19.0}}},
		{`(('a', (1, 2)),)`, []any{[]any{"a", []any{1, 2}}}},
		{`('solo',)`, []any{"solo"}},
		{`()`, []any{}},
		{`{'top': ('x, y', 'z')}`, map[string]any{"top": []any{"x, y", "z"}}},
		{`(7)`, 7},
	}
	for _, tc := range cases {
		v, err := ParseLiteral(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, v, tc.in)
	}
}

func TestParseLiteral_CallsStayRejected(t *testing.T) {
	for _, in := range []string{"max(1, 2)", "f ('a', 'b')", "[len('a', 'b')]"} {
		_, err := ParseLiteral(in)
		assert.Error(t, err, in)
	}
}

func TestParseLiteral_RejectsExpressions(t *testing.T) {
	for _, in := range []string{"", "1 + 2", "foo", "len('abc')", "{'a': b}", "not a literal at all"} {
		_, err := ParseLiteral(in)
		assert.Error(t, err, in)
	}
}

func TestParseObject_StrictThenPermissive(t *testing.T) {
	obj, err := ParseObject("```json\n{\"category\": \"Beverages\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Beverages", obj["category"])

	obj, err = ParseObject(`{'category': 'Beverages', 'countries': ['France', 'Germany']}`)
	require.NoError(t, err)
	assert.Equal(t, []any{"France", "Germany"}, obj["countries"])

	_, err = ParseObject(`[1, 2]`)
	assert.Error(t, err)
	_, err = ParseObject(`The dates are June 1997`)
	assert.Error(t, err)
}

func TestClassifyHint(t *testing.T) {
	assert.Equal(t, HintInt, ClassifyHint("int"))
	assert.Equal(t, HintFloat, ClassifyHint(" Float "))
	assert.Equal(t, HintStructured, ClassifyHint("list[{product:str, revenue:float}]"))
	assert.Equal(t, HintStructured, ClassifyHint("{customer:str, margin:float}"))
	assert.Equal(t, HintStructured, ClassifyHint("{product:str, units:int}"))
	assert.Equal(t, HintString, ClassifyHint("str"))
}

func TestTypedAnswer_Int(t *testing.T) {
	v, err := TypedAnswer("There are 14 days.", "int")
	require.NoError(t, err)
	assert.Equal(t, 14, v)

	v, err = TypedAnswer("none", "int")
	require.NoError(t, err)
	assert.Equal(t, 0, v)
}

func TestTypedAnswer_Float(t *testing.T) {
	v, err := TypedAnswer("Revenue was 1,234,567.89 USD", "float")
	require.NoError(t, err)
	assert.InDelta(t, 1234567.89, v, 1e-9)

	v, err = TypedAnswer("-0.25", "float")
	require.NoError(t, err)
	assert.Equal(t, -0.25, v)
}

func TestTypedAnswer_StructuredFallback(t *testing.T) {
	v, err := TypedAnswer("{'customer': 'QUICK-Stop', 'margin': 1234.5}", "{customer:str, margin:float}")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"customer": "QUICK-Stop", "margin": 1234.5}, v)

	v, err = TypedAnswer("QUICK-Stop with 1234.5", "{customer:str, margin:float}")
	assert.Error(t, err)
	assert.Equal(t, "QUICK-Stop with 1234.5", v)
}

func TestTypedAnswer_String(t *testing.T) {
	v, err := TypedAnswer("  Beverages  ", "str")
	require.NoError(t, err)
	assert.Equal(t, "Beverages", v)
}

func TestSplitCitations(t *testing.T) {
	assert.Equal(t, []string{"Orders", "kpi_definitions.md::chunk2"}, SplitCitations(" Orders , kpi_definitions.md::chunk2 ,"))
	assert.Equal(t, []string{"Orders", "Products"}, SplitCitations(`["Orders", "Products"]`))
	assert.Equal(t, []string{}, SplitCitations(""))
}
