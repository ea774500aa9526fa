package harnessports

import (
	"context"
	"encoding/json"

	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
)

// ToolKind is the closed set of tools the registry can bind.
type ToolKind int

const (
	ToolQuery ToolKind = iota + 1
	ToolChart
	ToolSearch
)

func (k ToolKind) String() string {
	switch k {
	case ToolQuery:
		return "query"
	case ToolChart:
		return "chart"
	case ToolSearch:
		return "search"
	default:
		return "unknown"
	}
}

// ToolSpec describes a callable tool exposed to the model.
type ToolSpec struct {
	Name        string // unique logical name
	Description string // concise doc for model selection
	JSONSchema  []byte // JSON schema for args
}

// ToolCall represents a model-invoked function with JSON arguments.
type ToolCall struct {
	ID   string
	Name string
	Args json.RawMessage
}

// ToolResult answers exactly one ToolCall.
type ToolResult struct {
	CallID   string
	Kind     ToolKind
	Name     string
	Content  string
	IsError  bool
	Artifact string // chart filename, when the tool produced one
}

// ToolOutput is what a tool hands back to the model. Advisory marks execution
// problems the model is expected to correct.
type ToolOutput struct {
	Text     string
	Advisory bool
	Artifact string
}

// Tool defines the runtime that executes a tool call. A returned error is fatal to
// the run; recoverable problems belong in an advisory ToolOutput.
type Tool interface {
	Kind() ToolKind
	Name() string
	Description() string
	Schema() []byte
	Invoke(ctx context.Context, deps *store.DependencyContext, args json.RawMessage) (ToolOutput, error)
}

// ArgumentValidator is implemented by tools with checks beyond their JSON schema.
type ArgumentValidator interface {
	ValidateArgs(args json.RawMessage) Verdict
}

// Verdict is the outcome of a policy check.
type Verdict struct {
	Allowed bool
	Check   string
	Reason  string
}

// Allow returns a passing verdict for check.
func Allow(check string) Verdict { return Verdict{Allowed: true, Check: check} }

// Deny returns a rejecting verdict for check.
func Deny(check, reason string) Verdict { return Verdict{Check: check, Reason: reason} }
