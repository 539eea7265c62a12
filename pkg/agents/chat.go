package agents

import (
	"context"
	"strings"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
)

// Persona is the base system prompt of every chat call.
const Persona = "You are Jarvis, a highly intelligent, concise assistant. " +
	"Be direct and helpful. Use provided context when relevant."

const chatMaxTokens = 1024

// Chat synthesizes the reply with the tier named in the "model" key,
// streaming tokens to the stream sink when one is present.
type Chat struct {
	tiers llm.Tiers
	opts  options
}

// NewChat creates the chat agent.
func NewChat(tiers llm.Tiers, opts ...Option) *Chat {
	return &Chat{tiers: tiers, opts: newOptions(0, opts)}
}

// Name implements core.Agent.
func (a *Chat) Name() string { return core.AgentChat }

// Run implements core.Agent. A failed call still returns whatever content
// was produced before the failure.
func (a *Chat) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	model, tier := a.tiers.Select(in.String(core.KeyModel))

	msgs := []llm.Message{{Role: llm.RoleSystem, Content: systemPrompt(
		in.String(core.KeyIntent),
		in.String(core.KeyMemoryContext),
		in.String(core.KeySearchContext),
		in.String(core.KeyWeatherContext),
	)}}
	msgs = append(msgs, llm.FromHistory(in.Messages(core.KeyConversationHistory))...)
	msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: in.String(core.KeyUserMessage)})
	req := model.Request(msgs...)
	req.MaxTokens = chatMaxTokens

	var (
		resp *llm.ChatResponse
		err  error
	)
	switch sink := in.Sink(); {
	case model.Provider == nil:
		err = errors.New(errors.CodeLLMError, "no provider for "+tier+" tier", nil)
	case sink != nil:
		resp, err = llm.ChatStreamed(ctx, model.Provider, req, func(token string) error {
			return sink(ctx, token)
		})
	default:
		resp, err = model.Provider.Chat(ctx, req)
	}
	if model.Provider != nil {
		a.opts.observe(a.Name(), tier, resp, err)
	}

	content := ""
	if resp != nil {
		content = resp.Content
	}
	res := &core.Result{
		AgentName: a.Name(),
		Data: map[string]any{
			"full_response": content,
			"model_used":    model.Name,
			"tokens":        len(strings.Fields(content)),
		},
	}
	if err != nil {
		return res, errors.New(errors.CodeLLMError, tier+" generation failed", err)
	}
	return res, nil
}

// systemPrompt joins the persona with the non-empty context sections.
func systemPrompt(intent, memoryContext, searchContext, weatherContext string) string {
	parts := []string{Persona}
	if intent != "" {
		parts = append(parts, "Intent: "+intent)
	}
	for _, section := range []string{memoryContext, searchContext, weatherContext} {
		if section != "" {
			parts = append(parts, section)
		}
	}
	return strings.Join(parts, "\n\n")
}
