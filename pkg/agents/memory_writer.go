package agents

import (
	"context"
	"strings"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
	"github.com/jllopis/jarvis/pkg/memory"
)

const writerPrompt = "Extract only meaningful user facts or preferences to remember. " +
	`Return JSON: {"store": true|false, "memory": "..."}. ` +
	"Do NOT store questions, greetings, or chit-chat."

// MemoryWriter asks the fast tier whether the exchange holds a fact worth
// keeping and stores it.
type MemoryWriter struct {
	tiers llm.Tiers
	store memory.Store
	opts  options
}

// NewMemoryWriter creates the memory writer agent.
func NewMemoryWriter(tiers llm.Tiers, store memory.Store, opts ...Option) *MemoryWriter {
	return &MemoryWriter{tiers: tiers, store: store, opts: newOptions(0, opts)}
}

// Name implements core.Agent.
func (a *MemoryWriter) Name() string { return core.AgentMemoryWriter }

// Run implements core.Agent.
func (a *MemoryWriter) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	res := &core.Result{AgentName: a.Name(), Data: map[string]any{"stored": false, "memory_summary": ""}}
	msg := in.String(core.KeyUserMessage)
	if strings.TrimSpace(msg) == "" {
		return res, nil
	}
	if a.store == nil {
		return res, errors.New(errors.CodeMemoryError, "memory store is not configured", nil)
	}

	req := a.tiers.Fast.Request(
		llm.Message{Role: llm.RoleSystem, Content: writerPrompt},
		llm.Message{Role: llm.RoleUser, Content: "User: " + msg + "\nAssistant: " + in.String(core.KeyAssistantResponse)},
	)
	req.MaxTokens = 120
	req.Temperature = 0.1
	req.JSON = true

	resp, err := a.opts.complete(ctx, a.Name(), llm.TierFast, a.tiers.Fast, req)
	if err != nil {
		return res, err
	}
	decision, err := parseObject(resp.Content)
	if err != nil {
		return res, err
	}
	store, _ := decision["store"].(bool)
	text, _ := decision["memory"].(string)
	text = strings.TrimSpace(text)
	if !store || text == "" {
		return res, nil
	}

	userID := in.StringOr(core.KeyUserID, "jarvis_user_1")
	if err := a.store.Store(ctx, []core.Message{{Role: core.RoleUser, Content: text}}, userID); err != nil {
		return res, errors.New(errors.CodeMemoryError, "store memory", err)
	}
	res.Data["stored"] = true
	res.Data["memory_summary"] = text
	return res, nil
}
