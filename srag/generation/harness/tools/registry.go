// Package tools holds the closed set of tools the orchestrator can dispatch to.
package tools

import (
	"context"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/sourcegraph/conc/panics"
)

// Registry binds each ToolKind to one tool. It is built once and read-only afterwards.
type Registry struct {
	byKind  map[ports.ToolKind]ports.Tool
	byName  map[string]ports.Tool
	order   []ports.ToolKind
	timeout time.Duration
}

// NewRegistry binds tools by kind. Binding two tools to one kind or one name is an error.
func NewRegistry(timeout time.Duration, tools ...ports.Tool) (*Registry, error) {
	r := &Registry{
		byKind:  make(map[ports.ToolKind]ports.Tool, len(tools)),
		byName:  make(map[string]ports.Tool, len(tools)),
		timeout: timeout,
	}
	for _, t := range tools {
		if _, dup := r.byKind[t.Kind()]; dup {
			return nil, fmt.Errorf("tool kind %s registered twice", t.Kind())
		}
		if _, dup := r.byName[t.Name()]; dup {
			return nil, fmt.Errorf("tool name %s registered twice", t.Name())
		}
		r.byKind[t.Kind()] = t
		r.byName[t.Name()] = t
		r.order = append(r.order, t.Kind())
	}
	return r, nil
}

// Lookup resolves a model-supplied tool name.
func (r *Registry) Lookup(name string) (ports.Tool, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Tool returns the tool bound to kind.
func (r *Registry) Tool(kind ports.ToolKind) (ports.Tool, bool) {
	t, ok := r.byKind[kind]
	return t, ok
}

// Tools returns the registered tools in registration order.
func (r *Registry) Tools() []ports.Tool {
	out := make([]ports.Tool, 0, len(r.order))
	for _, k := range r.order {
		out = append(out, r.byKind[k])
	}
	return out
}

// Specs returns the tool declarations sent to the model.
func (r *Registry) Specs() []ports.ToolSpec {
	specs := make([]ports.ToolSpec, 0, len(r.order))
	for _, t := range r.Tools() {
		specs = append(specs, ports.ToolSpec{
			Name:        t.Name(),
			Description: t.Description(),
			JSONSchema:  t.Schema(),
		})
	}
	return specs
}

// Dispatch runs one validated call and produces its result. Panics inside the tool are
// recovered and reported to the model as an execution error; returned errors are fatal.
func (r *Registry) Dispatch(ctx context.Context, deps *store.DependencyContext, call ports.ToolCall) (ports.ToolResult, error) {
	tool, ok := r.Lookup(call.Name)
	if !ok {
		return ports.ToolResult{}, fmt.Errorf("tool %s is not registered", call.Name)
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	var (
		out ports.ToolOutput
		err error
	)
	var pc panics.Catcher
	pc.Try(func() {
		out, err = tool.Invoke(ctx, deps, call.Args)
	})

	result := ports.ToolResult{CallID: call.ID, Kind: tool.Kind(), Name: tool.Name()}
	if rec := pc.Recovered(); rec != nil {
		result.Content = fmt.Sprintf("Error: tool %s failed: %v", tool.Name(), rec.Value)
		result.IsError = true
		return result, nil
	}
	if err != nil {
		return result, err
	}

	result.Content = out.Text
	result.IsError = out.Advisory
	result.Artifact = out.Artifact
	return result, nil
}
