package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/randalmurphal/agentgraph/pkg/agentgraph"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/capability"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/state"
	"github.com/randalmurphal/agentgraph/pkg/agentgraph/template"
)

// Complete calls the gateway and adds the call's usage to b.
func Complete(ctx context.Context, llm capability.LLMGateway, b *state.Base, prompt capability.Prompt, call capability.CallConfig) (capability.Completion, error) {
	c, err := llm.Complete(ctx, prompt, call)
	if err != nil {
		return c, fmt.Errorf("%s: %w", call.Purpose, err)
	}
	b.Metadata.Usage.Add(c.Model, c.TokensIn, c.TokensOut)
	return c, nil
}

// CompleteJSON calls the gateway and decodes its answer into T.
func CompleteJSON[T any](ctx context.Context, llm capability.LLMGateway, b *state.Base, prompt capability.Prompt, call capability.CallConfig) (T, error) {
	c, err := Complete(ctx, llm, b, prompt, call)
	if err != nil {
		var zero T
		return zero, err
	}
	v, err := capability.DecodeJSON[T](c.Text)
	if err != nil {
		return v, fmt.Errorf("%s: %w", call.Purpose, err)
	}
	return v, nil
}

// Prompts renders an agent's prompt templates. Agent-configured prompts
// override the workflow's built-in ones by node name.
type Prompts struct {
	agent capability.AgentConfig
	exp   *template.Expander
}

// NewPrompts creates a renderer for agent. Unknown placeholders are errors.
func NewPrompts(agent capability.AgentConfig) Prompts {
	return Prompts{
		agent: agent,
		exp:   template.NewExpander(template.WithMissingAction(template.MissingError)),
	}
}

// Render expands the prompt for node.
func (p Prompts) Render(node, builtin string, vars map[string]any) (string, error) {
	out, err := p.exp.Expand(p.agent.Prompt(node, builtin), vars)
	if err != nil {
		return "", fmt.Errorf("prompt %s: %w", node, err)
	}
	return out, nil
}

// System returns the agent's system prompt, if any.
func (p Prompts) System(builtin string) string {
	return p.agent.Prompt("system", builtin)
}

// Vars returns template variables exposing the run input as ${input.*}
// plus extra.
func Vars(b state.Base, extra map[string]any) map[string]any {
	vars := make(map[string]any, len(extra)+2)
	var input any
	if err := json.Unmarshal(b.Input, &input); err == nil {
		vars["input"] = input
	}
	vars["thread_id"] = b.ThreadID
	for k, v := range extra {
		vars[k] = v
	}
	return vars
}

// FetchOptional fetches context that the workflow can do without. Failures
// are logged and yield nil.
func FetchOptional(ctx agentgraph.Context, src capability.ContextSource, kind capability.ContentKind, id string) []byte {
	if src == nil || id == "" {
		return nil
	}
	data, err := src.Fetch(ctx, kind, id)
	if err != nil {
		ctx.Logger().Warn("context fetch failed, continuing without it",
			"kind", string(kind), "id", id, "error", err)
		return nil
	}
	return data
}

// RetrieveOptional queries the knowledge base, degrading to no chunks.
func RetrieveOptional(ctx agentgraph.Context, r capability.Retriever, query string) []capability.RankedChunk {
	if r == nil || query == "" {
		return nil
	}
	chunks, err := r.Query(ctx, query)
	if err != nil {
		ctx.Logger().Warn("knowledge retrieval failed, continuing without it", "error", err)
		return nil
	}
	return chunks
}

// Knowledge formats retrieved chunks for a prompt.
func Knowledge(chunks []capability.RankedChunk) string {
	if len(chunks) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, c.Text)
	}
	return sb.String()
}

// ErrorPayload is the output written by error terminals.
type ErrorPayload struct {
	Error    string `json:"error"`
	Node     string `json:"node"`
	Category string `json:"category"`
	Field    string `json:"field,omitempty"`
}

// ErrorOutput is the body of every workflow's error_output node. It turns
// the captured failure into the run's output; the failure itself stays in
// the state so callers see success=false.
func ErrorOutput(ctx agentgraph.Context, b *state.Base) error {
	f := b.Failure
	if f == nil {
		f = &state.Failure{Node: ctx.NodeID(), Message: "routed to error output without a failure"}
		b.Failure = f
	}
	ctx.Logger().Warn("workflow ended with error", "failed_node", f.Node, "error", f.Message, "category", f.Category.String())
	if b.Done() {
		return nil
	}
	return b.SetOutput(ErrorPayload{
		Error:    f.Message,
		Node:     f.Node,
		Category: f.Category.String(),
		Field:    f.Field,
	})
}
