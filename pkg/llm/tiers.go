package llm

import (
	"strings"

	"github.com/jllopis/jarvis/pkg/core"
)

// Tier names accepted in the "model" execution context key.
const (
	TierFast  = core.ModelFast
	TierSmart = core.ModelSmart
)

// Model binds a provider to the model name it is called with.
type Model struct {
	Provider Provider
	Name     string
}

// Tiers holds the two model tiers used by the agents.
type Tiers struct {
	Fast  Model
	Smart Model
}

// Select returns the model for tier. Anything other than "smart" selects fast.
func (t Tiers) Select(tier string) (Model, string) {
	if strings.EqualFold(strings.TrimSpace(tier), TierSmart) && t.Smart.Provider != nil {
		return t.Smart, TierSmart
	}
	return t.Fast, TierFast
}

// Request builds a ChatRequest for the model.
func (m Model) Request(msgs ...Message) ChatRequest {
	return ChatRequest{Model: m.Name, Messages: msgs}
}
