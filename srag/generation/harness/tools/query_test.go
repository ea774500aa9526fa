package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func queryArgs(sql string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"sql_query": sql})
	return b
}

func TestCheckSQLSafety_RejectsDestructiveKeywords(t *testing.T) {
	cases := []struct {
		query   string
		keyword string
	}{
		{"DROP TABLE srag_analytics", "DROP"},
		{"drop table srag_analytics", "DROP"},
		{"SELECT 1; DeLeTe FROM srag_analytics", "DELETE"},
		{"truncate srag_analytics", "TRUNCATE"},
		{"ALTER TABLE srag_analytics ADD COLUMN x", "ALTER"},
		{"SELECT * FROM srag_analytics; update srag_analytics SET age = 1", "UPDATE"},
		{"insert into srag_analytics values (1)", "INSERT"},
		{"SELECT COUNT(*) FROM srag_analytics WHERE sex = 'M' -- then Drop it", "DROP"},
	}

	for _, tc := range cases {
		t.Run(tc.query, func(t *testing.T) {
			v := CheckSQLSafety(tc.query)
			assert.False(t, v.Allowed)
			assert.Equal(t, SQLSafetyCheck, v.Check)
			assert.Contains(t, v.Reason, "Security Violation")
			assert.Contains(t, v.Reason, tc.keyword)
		})
	}
}

func TestCheckSQLSafety_NamesEveryOffendingKeyword(t *testing.T) {
	v := CheckSQLSafety("DROP TABLE a; INSERT INTO b VALUES (1)")
	assert.False(t, v.Allowed)
	assert.Contains(t, v.Reason, "(DROP, INSERT)")
}

func TestCheckSQLSafety_AllowsReadOnlyQueries(t *testing.T) {
	queries := []string{
		"SELECT COUNT(*) FROM srag_analytics",
		"SELECT sex, COUNT(*) AS n FROM srag_analytics GROUP BY sex ORDER BY n DESC",
		"select outcome_lbl, avg(age) from srag_analytics where icu_lbl = 'Yes' group by 1",
		"WITH w AS (SELECT MAX(DT_NOTIFIC) AS m FROM srag_analytics) SELECT m FROM w",
	}
	for _, q := range queries {
		v := CheckSQLSafety(q)
		assert.True(t, v.Allowed, q)
		assert.Empty(t, v.Reason)
	}
}

func TestQueryTool_ValidateArgs(t *testing.T) {
	tool := NewQueryTool(20)

	assert.True(t, tool.ValidateArgs(queryArgs("SELECT COUNT(*) FROM srag_analytics")).Allowed)
	assert.False(t, tool.ValidateArgs(queryArgs("DROP TABLE srag_analytics")).Allowed)
	assert.False(t, tool.ValidateArgs(json.RawMessage(`not json`)).Allowed)
}

func TestQueryTool_Count(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps, queryArgs("SELECT count(*) AS total FROM srag_analytics"))
	require.NoError(t, err)

	assert.False(t, out.Advisory)
	assert.True(t, strings.HasPrefix(out.Text, "| total |"))
	assert.Contains(t, out.Text, fmt.Sprintf("| %d |", len(storetest.Sample())))
}

func TestQueryTool_GroupedTable(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps,
		queryArgs("SELECT sex, COUNT(*) AS n FROM srag_analytics GROUP BY sex ORDER BY sex"))
	require.NoError(t, err)

	lines := strings.Split(out.Text, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "| sex | n |", lines[0])
	assert.True(t, strings.HasPrefix(lines[2], "| F |"))
	assert.True(t, strings.HasPrefix(lines[3], "| M |"))
}

func TestQueryTool_DatesRenderAsStored(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps,
		queryArgs("SELECT MAX(DT_NOTIFIC) AS last_day FROM srag_analytics"))
	require.NoError(t, err)

	assert.False(t, out.Advisory)
	assert.Equal(t, "| last_day |\n|:---|\n| "+store.FormatDate(storetest.SampleEnd)+" |", out.Text)
}

func TestQueryTool_TooManyRows(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps, queryArgs("SELECT DT_NOTIFIC FROM srag_analytics"))
	require.NoError(t, err)

	assert.True(t, out.Advisory)
	assert.Equal(t, fmt.Sprintf(
		"Error: Result contains %d rows. Please aggregate your query using GROUP BY or use LIMIT 20.",
		len(storetest.Sample())), out.Text)
}

func TestQueryTool_ExactlyMaxRowsIsReturned(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps,
		queryArgs("SELECT DT_NOTIFIC FROM srag_analytics ORDER BY DT_NOTIFIC LIMIT 20"))
	require.NoError(t, err)

	assert.False(t, out.Advisory)
	assert.Len(t, strings.Split(out.Text, "\n"), 22)
}

func TestQueryTool_NoData(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps,
		queryArgs("SELECT * FROM srag_analytics WHERE sex = 'nobody'"))
	require.NoError(t, err)
	assert.Equal(t, NoDataResult, out.Text)
}

func TestQueryTool_SQLErrorIsAdvisory(t *testing.T) {
	deps := storetest.SeedSample(t)
	tool := NewQueryTool(20)

	out, err := tool.Invoke(context.Background(), deps, queryArgs("SELECT no_such_column FROM srag_analytics"))
	require.NoError(t, err)

	assert.True(t, out.Advisory)
	assert.True(t, strings.HasPrefix(out.Text, "SQL Error: "))
}

func TestQueryTool_MissingStoreIsFatal(t *testing.T) {
	deps := store.NewDependencyContext(filepath.Join(t.TempDir(), "missing.db"), "")
	tool := NewQueryTool(20)

	_, err := tool.Invoke(context.Background(), deps, queryArgs("SELECT count(*) FROM srag_analytics"))
	assert.ErrorIs(t, err, store.ErrUnavailable)
}

func TestMarkdownTable(t *testing.T) {
	got := MarkdownTable([]string{"a", "b"}, [][]any{{int64(1), 2.5}, {nil, "x|y"}})
	want := "| a | b |\n|:---|:---|\n| 1 | 2.5 |\n|  | x\\|y |"
	assert.Equal(t, want, got)
}
