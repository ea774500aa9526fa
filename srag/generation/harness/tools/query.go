package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// QuerySchema defines the JSON schema for query tool parameters.
const QuerySchema = `{
  "type": "object",
  "properties": {
    "sql_query": {
      "type": "string",
      "description": "The SQLite SQL query to execute. Must be a SELECT statement.",
      "minLength": 10
    }
  },
  "required": ["sql_query"]
}`

const (
	QueryToolName = "stats_tool"

	// NoDataResult is returned when a statement yields zero rows.
	NoDataResult = "Result: No data found for this query."
)

// QueryTool runs analytical SELECT statements against the store.
type QueryTool struct {
	maxRows int
}

// NewQueryTool creates a query tool that refuses results larger than maxRows.
func NewQueryTool(maxRows int) *QueryTool {
	if maxRows < 1 {
		maxRows = 20
	}
	return &QueryTool{maxRows: maxRows}
}

func (t *QueryTool) Kind() ports.ToolKind { return ports.ToolQuery }
func (t *QueryTool) Name() string         { return QueryToolName }
func (t *QueryTool) Schema() []byte       { return []byte(QuerySchema) }

func (t *QueryTool) Description() string {
	return "Executes a SQL query against the 'srag_analytics' table and returns the results. " +
		"Use this to calculate metrics like mortality, counts, and averages."
}

type queryParams struct {
	SQLQuery string `json:"sql_query"`
}

// ValidateArgs applies the destructive-keyword check.
func (t *QueryTool) ValidateArgs(args json.RawMessage) ports.Verdict {
	var params queryParams
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.Deny(SQLSafetyCheck, fmt.Sprintf("invalid arguments: %v", err))
	}
	return CheckSQLSafety(params.SQLQuery)
}

// Invoke executes the statement on a handle scoped to this call.
func (t *QueryTool) Invoke(ctx context.Context, deps *store.DependencyContext, args json.RawMessage) (ports.ToolOutput, error) {
	var params queryParams
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.ToolOutput{Text: fmt.Sprintf("Error: invalid arguments: %v", err), Advisory: true}, nil
	}

	var out ports.ToolOutput
	err := deps.WithHandle(ctx, func(ctx context.Context, h *store.Handle) error {
		res, err := h.Query(ctx, params.SQLQuery, t.maxRows)
		switch {
		case err != nil:
			out = ports.ToolOutput{Text: fmt.Sprintf("SQL Error: %v", err), Advisory: true}
		case res.Total > t.maxRows:
			out = ports.ToolOutput{Text: fmt.Sprintf(
				"Error: Result contains %d rows. Please aggregate your query using GROUP BY or use LIMIT %d.",
				res.Total, t.maxRows), Advisory: true}
		case res.Total == 0:
			out = ports.ToolOutput{Text: NoDataResult}
		default:
			out = ports.ToolOutput{Text: MarkdownTable(res.Columns, res.Rows)}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrUnavailable) {
			return ports.ToolOutput{}, err
		}
		return ports.ToolOutput{Text: fmt.Sprintf("SQL Error: %v", err), Advisory: true}, nil
	}
	return out, nil
}

// MarkdownTable renders rows as a pipe table.
func MarkdownTable(columns []string, rows [][]any) string {
	var b strings.Builder

	b.WriteString("|")
	for _, c := range columns {
		b.WriteString(" " + escapeCell(c) + " |")
	}
	b.WriteString("\n|")
	for range columns {
		b.WriteString(":---|")
	}
	for _, row := range rows {
		b.WriteString("\n|")
		for _, v := range row {
			b.WriteString(" " + escapeCell(formatCell(v)) + " |")
		}
	}
	return b.String()
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

var (
	_ ports.Tool              = (*QueryTool)(nil)
	_ ports.ArgumentValidator = (*QueryTool)(nil)
)
