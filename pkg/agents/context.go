package agents

import (
	"context"
	"slices"
	"time"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/llm"
)

const classifierPrompt = "Classify the user message and return JSON only with keys: " +
	"intent, needs_tools, complexity, entities, suggested_model. " +
	"intent must be one of [greeting, question_factual, question_reasoning, " +
	"task_request, weather_query, memory_query, search_needed, casual_chat, followup]. " +
	"needs_tools is a list from [web_search, weather, memory]. " +
	"complexity is simple or complex. suggested_model is groq or gemini."

var (
	knownIntents = []string{
		core.IntentGreeting, core.IntentQuestionFactual, core.IntentQuestionReasoning,
		core.IntentTaskRequest, core.IntentWeatherQuery, core.IntentMemoryQuery,
		core.IntentSearchNeeded, core.IntentCasualChat, core.IntentFollowup,
	}
	knownTools = []string{core.ToolWebSearch, core.ToolWeather, core.ToolMemory}
)

// Context classifies the user message with the fast tier. On any failure it
// still returns the neutral classification alongside the error.
type Context struct {
	tiers llm.Tiers
	opts  options
}

// NewContext creates the classifier agent.
func NewContext(tiers llm.Tiers, opts ...Option) *Context {
	return &Context{tiers: tiers, opts: newOptions(1500*time.Millisecond, opts)}
}

// Name implements core.Agent.
func (a *Context) Name() string { return core.AgentContext }

// Run implements core.Agent.
func (a *Context) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	res := &core.Result{AgentName: a.Name(), Data: defaultClassification()}
	msg := in.String(core.KeyUserMessage)
	if msg == "" {
		return res, nil
	}

	ctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()

	req := a.tiers.Fast.Request(
		llm.Message{Role: llm.RoleSystem, Content: classifierPrompt},
		llm.Message{Role: llm.RoleUser, Content: msg},
	)
	req.MaxTokens = 200
	req.Temperature = 0.1
	req.JSON = true

	resp, err := a.opts.complete(ctx, a.Name(), llm.TierFast, a.tiers.Fast, req)
	if err != nil {
		return res, err
	}
	parsed, err := parseObject(resp.Content)
	if err != nil {
		return res, err
	}
	res.Data = normalizeClassification(parsed)
	return res, nil
}

func defaultClassification() map[string]any {
	return map[string]any{
		"intent":          core.IntentCasualChat,
		"needs_tools":     []string{},
		"complexity":      "simple",
		"entities":        []string{},
		"suggested_model": core.ModelFast,
	}
}

// normalizeClassification coerces the model's answer onto the known
// vocabulary. Unknown values fall back to the neutral classification.
func normalizeClassification(raw map[string]any) map[string]any {
	out := defaultClassification()

	if intent, _ := raw["intent"].(string); slices.Contains(knownIntents, intent) {
		out["intent"] = intent
	}
	tools := []string{}
	for _, t := range core.AsStrings(raw["needs_tools"]) {
		if slices.Contains(knownTools, t) && !slices.Contains(tools, t) {
			tools = append(tools, t)
		}
	}
	out["needs_tools"] = tools
	if c, _ := raw["complexity"].(string); c == "complex" {
		out["complexity"] = "complex"
	}
	entities := []string{}
	for _, e := range core.AsStrings(raw["entities"]) {
		if e != "" {
			entities = append(entities, e)
		}
	}
	out["entities"] = entities
	if m, _ := raw["suggested_model"].(string); m != "" {
		out["suggested_model"] = core.NormalizeModel(m)
	}
	return out
}
