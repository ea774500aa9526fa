package harnessports

import (
	"context"
	"errors"
	"time"
)

// ErrUpstreamProvider marks a network or protocol failure from the model or search provider.
var ErrUpstreamProvider = errors.New("upstream provider error")

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem Role = "system"
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleTool   Role = "tool"
)

// Turn is one ordered step of a run transcript.
type Turn struct {
	Role      Role
	Parts     []Part
	CreatedAt time.Time
}

// Part is one content element of a turn. Exactly one field is set.
type Part struct {
	Text       string
	ToolCall   *ToolCall
	ToolResult *ToolResult
}

// TextTurn builds a single-part text turn.
func TextTurn(role Role, text string) Turn {
	return Turn{Role: role, Parts: []Part{{Text: text}}, CreatedAt: time.Now()}
}

// Text concatenates the text parts of the turn.
func (t Turn) Text() string {
	var s string
	for _, p := range t.Parts {
		s += p.Text
	}
	return s
}

// ToolCalls returns the tool-call parts of the turn.
func (t Turn) ToolCalls() []ToolCall {
	var calls []ToolCall
	for _, p := range t.Parts {
		if p.ToolCall != nil {
			calls = append(calls, *p.ToolCall)
		}
	}
	return calls
}

// ToolResults returns the tool-result parts of the turn.
func (t Turn) ToolResults() []ToolResult {
	var results []ToolResult
	for _, p := range t.Parts {
		if p.ToolResult != nil {
			results = append(results, *p.ToolResult)
		}
	}
	return results
}

// Options controls sampling and limits for one provider call.
type Options struct {
	MaxNewTokens int
	Temperature  float32
	// ToolChoice: "auto" | "none"
	ToolChoice string
}

// Usage captures token accounting for cost/telemetry.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates u2 into u.
func (u *Usage) Add(u2 *Usage) {
	if u2 == nil {
		return
	}
	u.PromptTokens += u2.PromptTokens
	u.CompletionTokens += u2.CompletionTokens
	u.TotalTokens += u2.TotalTokens
}

// Completion is the provider's response: plain text, or a batch of tool calls.
type Completion struct {
	Text      string
	ToolCalls []ToolCall
	Usage     *Usage
}

// Provider is the abstraction for LLM backends.
type Provider interface {
	Complete(ctx context.Context, transcript []Turn, tools []ToolSpec, opts Options) (Completion, error)
}
