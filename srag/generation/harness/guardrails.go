package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/tools"
	"github.com/xeipuuv/gojsonschema"
)

// Check names reported by the output validator.
const (
	CheckUndefinedTool = "undefined_tool"
	CheckSchema        = "schema"
)

// Guardrails is the policy gate: an ordered input predicate chain plus a per-tool
// argument validator. It is fixed at construction.
type Guardrails struct {
	inputs []InputPredicate
	tools  map[string]toolPolicy
}

type toolPolicy struct {
	schema    *gojsonschema.Schema
	validator ports.ArgumentValidator // optional
}

// NewGuardrails compiles every registered tool's schema. Tools implementing
// ports.ArgumentValidator get their custom check after schema validation.
func NewGuardrails(registry *tools.Registry, inputs ...InputPredicate) (*Guardrails, error) {
	g := &Guardrails{
		inputs: inputs,
		tools:  make(map[string]toolPolicy),
	}

	for _, t := range registry.Tools() {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(t.Schema()))
		if err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", t.Name(), err)
		}
		p := toolPolicy{schema: schema}
		if v, ok := t.(ports.ArgumentValidator); ok {
			p.validator = v
		}
		g.tools[t.Name()] = p
	}
	return g, nil
}

// InputPredicates returns the names of the input chain in evaluation order.
func (g *Guardrails) InputPredicates() []string {
	names := make([]string, len(g.inputs))
	for i, p := range g.inputs {
		names[i] = p.Name()
	}
	return names
}

// CheckInput runs the input chain and stops at the first rejection.
func (g *Guardrails) CheckInput(ctx context.Context, text string) ports.Verdict {
	for _, p := range g.inputs {
		if v := p.Check(ctx, text); !v.Allowed {
			if v.Check == "" {
				v.Check = p.Name()
			}
			if v.Reason == "" {
				v.Reason = fmt.Sprintf("Input rejected by %s.", p.Name())
			}
			return v
		}
	}
	return ports.Allow("input")
}

// ValidateToolCall checks one call before it may execute: the tool must be defined,
// its arguments must match the declared schema, then any custom validator runs.
func (g *Guardrails) ValidateToolCall(call ports.ToolCall) ports.Verdict {
	p, ok := g.tools[call.Name]
	if !ok {
		return ports.Deny(CheckUndefinedTool,
			fmt.Sprintf("Tool %q is not defined. Undefined tools are not permitted.", call.Name))
	}

	args := call.Args
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	if !json.Valid(args) {
		return ports.Deny(CheckSchema, fmt.Sprintf("Arguments for %s are not valid JSON.", call.Name))
	}

	result, err := p.schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return ports.Deny(CheckSchema, fmt.Sprintf("Arguments for %s could not be validated: %v", call.Name, err))
	}
	if !result.Valid() {
		var errs []string
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return ports.Deny(CheckSchema,
			fmt.Sprintf("Arguments for %s do not match the schema: %s", call.Name, strings.Join(errs, "; ")))
	}

	if p.validator != nil {
		if v := p.validator.ValidateArgs(args); !v.Allowed {
			return v
		}
	}
	return ports.Allow("output")
}
