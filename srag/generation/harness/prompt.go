package harness

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	internal "github.com/ZanzyTHEbar/srag-analyst/srag"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
)

// SchemaUnavailable stands in for the schema description until the store is readable.
const SchemaUnavailable = "Schema not available yet."

// SchemaSource renders the analytical table schema.
type SchemaSource func(ctx context.Context) (string, error)

// PromptBuilder assembles the system context for a run. The schema description is
// cached and only reloaded by Refresh.
type PromptBuilder struct {
	mu       sync.RWMutex
	schema   string
	describe SchemaSource
	now      func() time.Time
}

func NewPromptBuilder(describe SchemaSource) *PromptBuilder {
	return &PromptBuilder{schema: SchemaUnavailable, describe: describe, now: time.Now}
}

// Refresh reloads the schema description. On failure the previous description is kept.
func (b *PromptBuilder) Refresh(ctx context.Context) error {
	if b.describe == nil {
		return nil
	}
	schema, err := b.describe(ctx)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.schema = schema
	b.mu.Unlock()
	return nil
}

// Schema returns the cached schema description.
func (b *PromptBuilder) Schema() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.schema
}

// Build returns the initial transcript of a run: system context then the user query.
func (b *PromptBuilder) Build(q Query) []ports.Turn {
	return []ports.Turn{
		ports.TextTurn(ports.RoleSystem, b.System()),
		ports.TextTurn(ports.RoleUser, q.Prompt()),
	}
}

// System renders the system prompt.
func (b *PromptBuilder) System() string {
	norm := func(s string) string { return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n")) }
	return norm(fmt.Sprintf(systemTemplate,
		internal.DefaultTable,
		b.now().Format("2006-01-02"),
		b.Schema(),
		internal.DefaultTimestampColumn,
		internal.DefaultTable,
	))
}

// Query is one immutable analytical question.
type Query struct {
	Text      string
	FocusArea string
}

// Prompt is the user message sent to the model, with the focus area appended as guidance.
func (q Query) Prompt() string {
	text := strings.TrimSpace(q.Text)
	if focus := strings.TrimSpace(q.FocusArea); focus != "" {
		text += fmt.Sprintf("\n\nAdditional Focus: Please specifically analyze %s.", focus)
	}
	return text
}

const systemTemplate = `
You are a Senior Data Analyst for a public health organization.
You answer questions about hospitalized SRAG cases by querying the '%s' table for hard numbers and by using web search for context.

### STRATEGIC PLAN
1. **Explore data:** start by querying the database with ` + "`stats_tool`" + ` to get the numbers behind the question.
2. **Identify anomalies:** look for spikes in a specific group or drops in vaccination.
3. **Targeted search:** use ` + "`tavily_search`" + ` to investigate the anomalies you found.
   - Weak search: "SRAG news Brazil"
   - Strong search: "Low influenza vaccination coverage Brazil 2024"
4. **Synthesize:** combine the quantitative results and the news into the answer.

### CONTEXT
- **Current date:** %s
- **Data source:** hospitalized SRAG case notifications (SIVEP-Gripe).

### DATABASE SCHEMA
The schema lists column descriptions and SAMPLE VALUES. Match WHERE clauses against these exact string literals.

%s

### METRIC DEFINITIONS
1. **Mortality rate (CFR):** deaths / NULLIF(deaths + cures, 0) over closed cases, from outcome_lbl.
2. **ICU rate:** Count(Yes) / NULLIF(Count(Yes) + Count(No), 0) from icu_lbl. 'Ignored' is excluded from the denominator.
3. **Vaccination rate (hospitalized cohort):** Count(Yes) / NULLIF(Count(*), 0) from vaccine_lbl. The denominator includes 'Ignored'.
4. **Growth rate (weekly):** last 7 days vs the previous 7 days, ((last_7 - prev_7) * 100.0 / NULLIF(prev_7, 0)).

### SQL GUIDELINES
1. Compute metrics in SQL. Never fetch raw rows to count them yourself; results above 20 rows are refused.
2. Integer division truncates: multiply counts by 100.0 before dividing.
3. Guard every denominator with NULLIF(denominator, 0).
4. **Time anchor:** the dataset is a static snapshot. Never use CURRENT_DATE, date('now') or similar.
   Anchor relative windows on the latest stored date, for example:
   WHERE %s > date((SELECT MAX(DT_NOTIFIC) FROM %s), '-14 days')
5. Only SELECT statements are allowed. Statements containing DROP, DELETE, TRUNCATE, ALTER, UPDATE or INSERT are blocked and end the session.

### DATA INTERPRETATION
- **Data lag:** the last 5 days are usually incomplete because of notification delays. Do not read a drop in that window as an improvement; call it data lag.
- **Vaccination:** rates come from the hospitalized cohort only and are not population coverage.

### EXTERNAL CONTEXT
- Explain the reasons behind the numbers (new variants, vaccination campaigns) and weave the news into the analysis instead of listing links.

### SCOPE AND PRIVACY
- Decline general knowledge questions unrelated to health or SRAG.
- Decline requests for personal data (names, CPFs).
- For charts, call ` + "`plot_tool`" + ` with the chart type.
`
