package core

import "strings"

// Names of the built-in agents as registered and as they appear in traces.
const (
	AgentMemory       = "memory"
	AgentContext      = "context"
	AgentSearch       = "search"
	AgentWeather      = "weather"
	AgentSummarizer   = "summarizer"
	AgentChat         = "chat"
	AgentMemoryWriter = "memory_writer"

	// TraceChatFallback labels the second synthesis attempt in a trace.
	// It is not a registered agent; the attempt runs AgentChat.
	TraceChatFallback = "chat_fallback"
)

// Intents produced by the context classifier.
const (
	IntentGreeting          = "greeting"
	IntentQuestionFactual   = "question_factual"
	IntentQuestionReasoning = "question_reasoning"
	IntentTaskRequest       = "task_request"
	IntentWeatherQuery      = "weather_query"
	IntentMemoryQuery       = "memory_query"
	IntentSearchNeeded      = "search_needed"
	IntentCasualChat        = "casual_chat"
	IntentFollowup          = "followup"
)

// Tool hints produced by the context classifier.
const (
	ToolWebSearch = "web_search"
	ToolWeather   = "weather"
	ToolMemory    = "memory"
)

// Model tiers.
const (
	ModelFast  = "fast"
	ModelSmart = "smart"
)

// NormalizeModel maps a model hint onto a tier. The classifier may answer with
// a provider name ("gemini", "groq") instead of a tier; anything that does not
// name the smart tier selects the fast one.
func NormalizeModel(hint string) string {
	switch strings.ToLower(strings.TrimSpace(hint)) {
	case ModelSmart, "gemini":
		return ModelSmart
	default:
		return ModelFast
	}
}
