package agents

import (
	"context"
	"strings"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/llm"
)

const (
	defaultMaxTurns       = 16
	defaultSummarizeCount = 8
	summaryPrefix         = "Summary so far:"
	summarizerPrompt      = "Summarize the conversation into a single paragraph under 150 words. Start with 'Summary so far:'."
)

// Summarizer folds the oldest messages of a long history into one system
// message.
type Summarizer struct {
	tiers llm.Tiers
	opts  options
}

// NewSummarizer creates the summarizer agent. It always uses the fast tier.
func NewSummarizer(tiers llm.Tiers, opts ...Option) *Summarizer {
	return &Summarizer{tiers: tiers, opts: newOptions(0, opts)}
}

// Name implements core.Agent.
func (a *Summarizer) Name() string { return core.AgentSummarizer }

// Run implements core.Agent. Histories within max_turns are returned
// unchanged. On failure the original history is returned with the error.
func (a *Summarizer) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	history := in.Messages(core.KeyConversationHistory)
	maxTurns := in.Int(core.KeyMaxTurns, defaultMaxTurns)
	count := in.Int(core.KeySummarizeCount, defaultSummarizeCount)

	res := &core.Result{
		AgentName: a.Name(),
		Data:      map[string]any{"was_compressed": false, "new_history": history, "summary": ""},
	}
	if len(history) <= maxTurns {
		return res, nil
	}
	count = min(max(count, 1), len(history))
	oldest, rest := history[:count], history[count:]

	lines := make([]string, len(oldest))
	for i, m := range oldest {
		lines[i] = string(m.Role) + ": " + m.Content
	}
	req := a.tiers.Fast.Request(
		llm.Message{Role: llm.RoleSystem, Content: summarizerPrompt},
		llm.Message{Role: llm.RoleUser, Content: strings.Join(lines, "\n")},
	)
	req.MaxTokens = 180
	req.Temperature = 0.2

	resp, err := a.opts.complete(ctx, a.Name(), llm.TierFast, a.tiers.Fast, req)
	if err != nil {
		return res, err
	}
	summary := strings.TrimSpace(resp.Content)
	if summary == "" {
		return res, errors.New(errors.CodeLLMError, "empty summary", nil)
	}
	if !strings.HasPrefix(summary, summaryPrefix) {
		summary = summaryPrefix + " " + summary
	}

	compressed := make([]core.Message, 0, len(rest)+1)
	compressed = append(compressed, core.Message{Role: core.RoleSystem, Content: summary})
	compressed = append(compressed, rest...)

	res.Data = map[string]any{"was_compressed": true, "new_history": compressed, "summary": summary}
	return res, nil
}
