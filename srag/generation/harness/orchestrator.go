package harness

import (
	"context"
	"fmt"
	"time"

	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/artifacts"
	ports "github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/ports"
	"github.com/ZanzyTHEbar/srag-analyst/srag/generation/harness/tools"
	"github.com/ZanzyTHEbar/srag-analyst/srag/store"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// State is the position of a run in the turn loop.
type State int

const (
	StateAwaitingModel State = iota
	StateExecutingTools
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingModel:
		return "AwaitingModel"
	case StateExecutingTools:
		return "ExecutingTools"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Policy controls orchestration behavior.
type Policy struct {
	MaxTurns int // model calls per run
	Options  ports.Options
}

// DefaultPolicy returns sensible defaults.
func DefaultPolicy() *Policy {
	return &Policy{
		MaxTurns: 12,
		Options: ports.Options{
			MaxNewTokens: 2000,
			Temperature:  0,
			ToolChoice:   "auto",
		},
	}
}

// RunResult is the outcome of one run. On failure it still carries the transcript
// accumulated so far.
type RunResult struct {
	RunID      string
	Text       string
	Transcript []ports.Turn
	Artifacts  []string
	Elapsed    time.Duration
	Usage      ports.Usage
	State      State
	Turns      int // model calls made
}

// Orchestrator drives the guarded tool-calling loop. It holds no per-run state and
// is safe for concurrent runs.
type Orchestrator struct {
	provider   ports.Provider
	registry   *tools.Registry
	guardrails *Guardrails
	prompts    *PromptBuilder
	limiter    ports.RateLimiter
	tracer     ports.Tracer
	policy     *Policy
	logger     zerolog.Logger
}

// NewOrchestrator creates a new orchestrator with dependencies.
func NewOrchestrator(
	provider ports.Provider,
	registry *tools.Registry,
	guardrails *Guardrails,
	prompts *PromptBuilder,
	limiter ports.RateLimiter,
	tracer ports.Tracer,
	policy *Policy,
	logger zerolog.Logger,
) *Orchestrator {
	if limiter == nil {
		limiter = &noOpRateLimiter{}
	}
	if tracer == nil {
		tracer = &noOpTracer{}
	}
	if policy == nil {
		policy = DefaultPolicy()
	}
	return &Orchestrator{
		provider:   provider,
		registry:   registry,
		guardrails: guardrails,
		prompts:    prompts,
		limiter:    limiter,
		tracer:     tracer,
		policy:     policy,
		logger:     logger,
	}
}

// Prompts exposes the prompt builder so callers can refresh the schema description.
func (o *Orchestrator) Prompts() *PromptBuilder { return o.prompts }

type run struct {
	*Orchestrator
	deps   *store.DependencyContext
	result *RunResult
	start  time.Time
	seen   map[string]bool
	logger zerolog.Logger
}

// Run executes one query to completion. Tool execution problems are fed back to the
// model; policy rejections, store and provider failures and the turn limit end the
// run with a *RunError.
func (o *Orchestrator) Run(ctx context.Context, q Query, deps *store.DependencyContext) (res *RunResult, err error) {
	r := &run{
		Orchestrator: o,
		deps:         deps,
		result:       &RunResult{RunID: uuid.NewString(), State: StateAwaitingModel},
		start:        time.Now(),
		seen:         make(map[string]bool),
	}
	r.logger = o.logger.With().Str("run_id", r.result.RunID).Logger()

	ctx, finish := o.tracer.StartSpan(ctx, "run", map[string]any{
		"run_id":    r.result.RunID,
		"max_turns": o.policy.MaxTurns,
	})
	defer func() { finish(err) }()

	res, err = r.loop(ctx, q)
	res.Elapsed = time.Since(r.start)
	res.Artifacts = artifacts.Extract(res.Transcript)
	if err != nil {
		r.logger.Warn().Err(err).Str("state", res.State.String()).Int("turns", res.Turns).Msg("run failed")
	} else {
		r.logger.Info().
			Int("turns", res.Turns).
			Int("total_tokens", res.Usage.TotalTokens).
			Dur("elapsed", res.Elapsed).
			Msg("run completed")
	}
	return res, err
}

func (r *run) loop(ctx context.Context, q Query) (*RunResult, error) {
	prompt := q.Prompt()
	if v := r.guardrails.CheckInput(ctx, prompt); !v.Allowed {
		r.tracer.Event(ctx, "input_rejected", map[string]any{"check": v.Check})
		return r.fail(KindPolicyViolation, v.Reason, nil)
	}

	if r.deps == nil {
		return r.fail(KindStoreUnavailable, "no store configured for this run", ErrStoreUnavailable)
	}
	if err := r.deps.Verify(ctx); err != nil {
		return r.fail(KindStoreUnavailable, err.Error(), err)
	}

	r.result.Transcript = r.prompts.Build(q)
	specs := r.registry.Specs()

	for turn := 1; ; turn++ {
		if turn > r.policy.MaxTurns {
			return r.fail(KindTurnLimitExceeded,
				fmt.Sprintf("no final answer after %d model turns", r.policy.MaxTurns), nil)
		}
		r.result.State = StateAwaitingModel
		r.result.Turns = turn

		completion, err := r.complete(ctx, specs, turn)
		if err != nil {
			if classify(err) == KindInternal && ctx.Err() == nil {
				err = fmt.Errorf("%w: %v", ErrUpstreamProvider, err)
			}
			return r.fail(classify(err), err.Error(), err)
		}
		r.result.Usage.Add(completion.Usage)

		if len(completion.ToolCalls) == 0 {
			r.result.Transcript = append(r.result.Transcript, ports.TextTurn(ports.RoleModel, completion.Text))
			r.result.Text = completion.Text
			r.result.State = StateDone
			return r.result, nil
		}

		r.result.State = StateExecutingTools
		calls, reason := r.assignCallIDs(completion.ToolCalls)
		r.result.Transcript = append(r.result.Transcript, modelTurn(completion.Text, calls))
		if reason != "" {
			return r.fail(KindPolicyViolation, reason, nil)
		}

		// The whole batch is validated before anything in it runs.
		for _, call := range calls {
			if v := r.guardrails.ValidateToolCall(call); !v.Allowed {
				r.tracer.Event(ctx, "tool_call_rejected", map[string]any{"tool": call.Name, "check": v.Check})
				return r.fail(KindPolicyViolation, v.Reason, nil)
			}
		}

		for _, call := range calls {
			result, err := r.execute(ctx, call)
			if err != nil {
				return r.fail(classify(err), err.Error(), err)
			}
			r.result.Transcript = append(r.result.Transcript, ports.Turn{
				Role:      ports.RoleTool,
				Parts:     []ports.Part{{ToolResult: &result}},
				CreatedAt: time.Now(),
			})
		}
	}
}

func (r *run) complete(ctx context.Context, specs []ports.ToolSpec, turn int) (ports.Completion, error) {
	release, err := r.limiter.Acquire(ctx, "provider")
	if err != nil {
		return ports.Completion{}, fmt.Errorf("rate limit: %w", err)
	}
	defer release()

	ctx, finish := r.tracer.StartSpan(ctx, "provider_call", map[string]any{
		"run_id": r.result.RunID,
		"turn":   turn,
	})
	completion, err := r.provider.Complete(ctx, r.result.Transcript, specs, r.policy.Options)
	finish(err)
	return completion, err
}

func (r *run) execute(ctx context.Context, call ports.ToolCall) (ports.ToolResult, error) {
	ctx, finish := r.tracer.StartSpan(ctx, "tool_call", map[string]any{
		"run_id":  r.result.RunID,
		"tool":    call.Name,
		"call_id": call.ID,
	})
	result, err := r.registry.Dispatch(ctx, r.deps, call)
	finish(err)
	if err == nil && result.IsError {
		r.tracer.Event(ctx, "tool_error", map[string]any{"tool": call.Name})
		r.logger.Debug().Str("tool", call.Name).Str("result", result.Content).Msg("tool reported an error to the model")
	}
	return result, err
}

// assignCallIDs fills in missing call ids and rejects ids already used in this run.
func (r *run) assignCallIDs(calls []ports.ToolCall) ([]ports.ToolCall, string) {
	out := make([]ports.ToolCall, len(calls))
	for i, c := range calls {
		if c.ID == "" {
			c.ID = uuid.NewString()
		}
		out[i] = c
	}
	for _, c := range out {
		if r.seen[c.ID] {
			return out, fmt.Sprintf("tool call id %q was used more than once", c.ID)
		}
		r.seen[c.ID] = true
	}
	return out, ""
}

func (r *run) fail(kind Kind, reason string, cause error) (*RunResult, error) {
	state := r.result.State
	r.result.State = StateFailed
	if cause == nil {
		cause = kind.sentinel()
	}
	return r.result, &RunError{Kind: kind, Reason: reason, State: state, Err: cause}
}

func modelTurn(text string, calls []ports.ToolCall) ports.Turn {
	turn := ports.Turn{Role: ports.RoleModel, CreatedAt: time.Now()}
	if text != "" {
		turn.Parts = append(turn.Parts, ports.Part{Text: text})
	}
	for i := range calls {
		turn.Parts = append(turn.Parts, ports.Part{ToolCall: &calls[i]})
	}
	return turn
}
