package adapters

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ZanzyTHEbar/srag-analyst/srag/config"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// EinoProvider adapts an eino tool-calling chat model to the harness Provider port.
type EinoProvider struct {
	model model.ToolCallingChatModel
}

// NewEinoProvider wraps an existing chat model.
func NewEinoProvider(m model.ToolCallingChatModel) *EinoProvider {
	return &EinoProvider{model: m}
}

// NewOpenAIProvider builds a provider for any OpenAI-compatible endpoint.
func NewOpenAIProvider(ctx context.Context, cfg config.LLMConfig) (*EinoProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("llm api_key not configured")
	}
	temperature := cfg.Temperature
	maxTokens := cfg.MaxOutputTokens

	cm, err := openai.NewChatModel(ctx, &openai.ChatModelConfig{
		Model:       cfg.Model,
		APIKey:      cfg.APIKey,
		BaseURL:     cfg.BaseURL,
		Temperature: &temperature,
		MaxTokens:   &maxTokens,
		Timeout:     cfg.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create openai chat model: %w", err)
	}
	return NewEinoProvider(cm), nil
}

// Complete sends the transcript and the tool declarations and maps the reply back.
func (p *EinoProvider) Complete(ctx context.Context, transcript []ports.Turn, specs []ports.ToolSpec, opts ports.Options) (ports.Completion, error) {
	cm := p.model
	if len(specs) > 0 && opts.ToolChoice != "none" {
		infos, err := ToolInfos(specs)
		if err != nil {
			return ports.Completion{}, err
		}
		if cm, err = p.model.WithTools(infos); err != nil {
			return ports.Completion{}, fmt.Errorf("failed to bind tools: %w", err)
		}
	}

	callOpts := []model.Option{model.WithTemperature(opts.Temperature)}
	if opts.MaxNewTokens > 0 {
		callOpts = append(callOpts, model.WithMaxTokens(opts.MaxNewTokens))
	}

	msg, err := cm.Generate(ctx, Messages(transcript), callOpts...)
	if err != nil {
		if ctx.Err() != nil {
			return ports.Completion{}, ctx.Err()
		}
		return ports.Completion{}, fmt.Errorf("%w: %v", ports.ErrUpstreamProvider, err)
	}
	if msg == nil {
		return ports.Completion{}, fmt.Errorf("%w: empty response", ports.ErrUpstreamProvider)
	}
	return completion(msg), nil
}

func completion(msg *schema.Message) ports.Completion {
	c := ports.Completion{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		c.ToolCalls = append(c.ToolCalls, ports.ToolCall{
			ID:   tc.ID,
			Name: tc.Function.Name,
			Args: json.RawMessage(tc.Function.Arguments),
		})
	}
	if msg.ResponseMeta != nil && msg.ResponseMeta.Usage != nil {
		u := msg.ResponseMeta.Usage
		c.Usage = &ports.Usage{
			PromptTokens:     u.PromptTokens,
			CompletionTokens: u.CompletionTokens,
			TotalTokens:      u.TotalTokens,
		}
	}
	return c
}

// Messages converts a transcript into eino chat messages. Each tool result becomes
// its own tool message answering the originating call id.
func Messages(transcript []ports.Turn) []*schema.Message {
	msgs := make([]*schema.Message, 0, len(transcript))
	for _, turn := range transcript {
		switch turn.Role {
		case ports.RoleSystem:
			msgs = append(msgs, schema.SystemMessage(turn.Text()))
		case ports.RoleUser:
			msgs = append(msgs, schema.UserMessage(turn.Text()))
		case ports.RoleModel:
			m := &schema.Message{Role: schema.Assistant, Content: turn.Text()}
			for _, call := range turn.ToolCalls() {
				m.ToolCalls = append(m.ToolCalls, schema.ToolCall{
					ID:   call.ID,
					Type: "function",
					Function: schema.FunctionCall{
						Name:      call.Name,
						Arguments: string(call.Args),
					},
				})
			}
			msgs = append(msgs, m)
		case ports.RoleTool:
			for _, res := range turn.ToolResults() {
				msgs = append(msgs, schema.ToolMessage(res.Content, res.CallID))
			}
		}
	}
	return msgs
}

type jsonSchemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Enum        []string `json:"enum"`
}

type jsonSchemaObject struct {
	Properties map[string]jsonSchemaProperty `json:"properties"`
	Required   []string                      `json:"required"`
}

// ToolInfos converts flat object JSON schemas into eino tool declarations.
func ToolInfos(specs []ports.ToolSpec) ([]*schema.ToolInfo, error) {
	infos := make([]*schema.ToolInfo, 0, len(specs))
	for _, spec := range specs {
		var obj jsonSchemaObject
		if err := json.Unmarshal(spec.JSONSchema, &obj); err != nil {
			return nil, fmt.Errorf("invalid schema for tool %s: %w", spec.Name, err)
		}

		required := make(map[string]bool, len(obj.Required))
		for _, r := range obj.Required {
			required[r] = true
		}

		params := make(map[string]*schema.ParameterInfo, len(obj.Properties))
		for name, prop := range obj.Properties {
			params[name] = &schema.ParameterInfo{
				Type:     dataType(prop.Type),
				Desc:     prop.Description,
				Enum:     prop.Enum,
				Required: required[name],
			}
		}

		infos = append(infos, &schema.ToolInfo{
			Name:        spec.Name,
			Desc:        spec.Description,
			ParamsOneOf: schema.NewParamsOneOfByParams(params),
		})
	}
	return infos, nil
}

func dataType(t string) schema.DataType {
	switch t {
	case "integer":
		return schema.Integer
	case "number":
		return schema.Number
	case "boolean":
		return schema.Boolean
	case "array":
		return schema.Array
	case "object":
		return schema.Object
	default:
		return schema.String
	}
}

var _ ports.Provider = (*EinoProvider)(nil)
