package agents

import (
	"context"
	"regexp"
	"strings"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/weather"
)

// ErrNoCity is the result error when no city could be determined.
const ErrNoCity = "no_city"

var (
	weatherInPattern = regexp.MustCompile(`(?i)weather in ([A-Za-z\s]+)`)
	locationPattern  = regexp.MustCompile(`Location:\s*([A-Za-z\s]+)`)
)

// Weather reports current conditions for the city the user talks about.
type Weather struct {
	provider weather.Provider
	opts     options
}

// NewWeather creates the weather agent.
func NewWeather(provider weather.Provider, opts ...Option) *Weather {
	return &Weather{provider: provider, opts: newOptions(0, opts)}
}

// Name implements core.Agent.
func (a *Weather) Name() string { return core.AgentWeather }

// Run implements core.Agent.
func (a *Weather) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	city := extractCity(in.Strings(core.KeyEntities), in.String(core.KeyUserMessage), in.String(core.KeyMemoryContext))
	res := &core.Result{
		AgentName: a.Name(),
		Data:      map[string]any{"city": city, "raw": map[string]any{}, "summary": "", "recommendation": ""},
	}
	if city == "" {
		res.Error = ErrNoCity
		return res, nil
	}
	if a.provider == nil {
		return res, errors.New(errors.CodeToolFailure, "weather is not configured", nil)
	}

	cond, err := a.provider.Current(ctx, city)
	if err != nil {
		return res, err
	}
	if cond.Raw != nil {
		res.Data["raw"] = cond.Raw
	}
	res.Data["summary"] = weather.Summarize(cond.TempC, cond.Description)
	res.Data["recommendation"] = weather.Recommend(cond.Description)
	return res, nil
}

// extractCity picks the first non-empty entity, then a "weather in X" phrase
// in the message, then a "Location: X" fact in the memory context.
func extractCity(entities []string, msg, memoryContext string) string {
	for _, ent := range entities {
		if ent = strings.TrimSpace(ent); ent != "" {
			return ent
		}
	}
	if m := weatherInPattern.FindStringSubmatch(msg); m != nil {
		if city := strings.TrimSpace(m[1]); city != "" {
			return city
		}
	}
	if m := locationPattern.FindStringSubmatch(memoryContext); m != nil {
		return strings.TrimSpace(m[1])
	}
	return ""
}
