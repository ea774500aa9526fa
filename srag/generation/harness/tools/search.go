package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZanzyTHEbar/srag-analyst/srag/config"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/go-resty/resty/v2"
)

// SearchSchema defines the JSON schema for web search parameters.
const SearchSchema = `{
  "type": "object",
  "properties": {
    "query": {
      "type": "string",
      "description": "The search query for external news.",
      "minLength": 5,
      "maxLength": 250
    }
  },
  "required": ["query"]
}`

const SearchToolName = "tavily_search"

// SearchTool forwards queries to the Tavily search API.
type SearchTool struct {
	cfg    config.SearchConfig
	client *resty.Client
}

// NewSearchTool creates a search tool. Requests are never retried.
func NewSearchTool(cfg config.SearchConfig) *SearchTool {
	client := resty.New()
	client.SetTimeout(cfg.Timeout)
	client.SetRetryCount(0)

	return &SearchTool{cfg: cfg, client: client}
}

func (t *SearchTool) Kind() ports.ToolKind { return ports.ToolSearch }
func (t *SearchTool) Name() string         { return SearchToolName }
func (t *SearchTool) Schema() []byte       { return []byte(SearchSchema) }

func (t *SearchTool) Description() string {
	return "Searches the web for recent news and public health reports. " +
		"Use it to explain anomalies found in the data."
}

// Invoke returns the provider's raw response body. Transport failures and non-2xx
// responses are fatal upstream errors.
func (t *SearchTool) Invoke(ctx context.Context, _ *store.DependencyContext, args json.RawMessage) (ports.ToolOutput, error) {
	var params struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal(args, &params); err != nil {
		return ports.ToolOutput{Text: fmt.Sprintf("Error: invalid arguments: %v", err), Advisory: true}, nil
	}

	if t.cfg.APIKey == "" {
		return ports.ToolOutput{Text: "Error: web search is not configured.", Advisory: true}, nil
	}

	request := map[string]any{
		"api_key":      t.cfg.APIKey,
		"query":        params.Query,
		"search_depth": t.cfg.SearchDepth,
		"max_results":  t.cfg.MaxResults,
	}

	response, err := t.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Authorization", "Bearer "+t.cfg.APIKey).
		SetBody(request).
		Post(t.cfg.Endpoint)
	if err != nil {
		return ports.ToolOutput{}, fmt.Errorf("%w: search request failed: %v", ports.ErrUpstreamProvider, err)
	}

	if response.IsError() {
		return ports.ToolOutput{}, fmt.Errorf("%w: search provider returned %d: %s",
			ports.ErrUpstreamProvider, response.StatusCode(), response.String())
	}

	return ports.ToolOutput{Text: response.String()}, nil
}

var _ ports.Tool = (*SearchTool)(nil)
