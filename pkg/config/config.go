// Package config loads Jarvis settings from defaults, an optional YAML file
// with a profile overlay, JARVIS_ environment variables and key=value
// overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/jllopis/jarvis/pkg/errors"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "JARVIS_"

type Config struct {
	Log          LogConfig          `koanf:"log"`
	Server       ServerConfig       `koanf:"server"`
	LLM          LLMConfig          `koanf:"llm"`
	Orchestrator OrchestratorConfig `koanf:"orchestrator"`
	Agents       AgentsConfig       `koanf:"agents"`
	Memory       MemoryConfig       `koanf:"memory"`
	Search       SearchConfig       `koanf:"search"`
	Weather      WeatherConfig      `koanf:"weather"`
	Session      SessionConfig      `koanf:"session"`
	Traces       TracesConfig       `koanf:"traces"`
	Storage      StorageConfig      `koanf:"storage"`
	Telemetry    TelemetryConfig    `koanf:"telemetry"`
	// UserID is the memory owner when a turn does not name one.
	UserID string `koanf:"user_id"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
}

type ServerConfig struct {
	Addr            string        `koanf:"addr"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// AllowedOrigins for websocket upgrades; empty accepts any origin.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// TierConfig selects the backend of one model tier.
type TierConfig struct {
	Provider string `koanf:"provider"` // openai, gemini, ollama, mock
	Model    string `koanf:"model"`
	BaseURL  string `koanf:"base_url"`
	APIKey   string `koanf:"api_key"`
}

type LLMConfig struct {
	Fast  TierConfig `koanf:"fast"`
	Smart TierConfig `koanf:"smart"`
}

type TimeoutsConfig struct {
	Default   time.Duration `koanf:"default"`
	Preflight time.Duration `koanf:"preflight"`
	Tools     time.Duration `koanf:"tools"`
	Summary   time.Duration `koanf:"summary"`
}

type OrchestratorConfig struct {
	Timeouts         TimeoutsConfig `koanf:"timeouts"`
	HistoryThreshold int            `koanf:"history_threshold"`
	SummarizeCount   int            `koanf:"summarize_count"`
}

type AgentsConfig struct {
	ContextLLMTimeout time.Duration `koanf:"context_llm_timeout"`
	SearchTimeout     time.Duration `koanf:"search_timeout"`
}

type MemoryConfig struct {
	Provider        string  `koanf:"provider"` // inmemory, sqlite, vector
	Table           string  `koanf:"table"`
	MaxContextWords int     `koanf:"max_context_words"`
	QdrantAddr      string  `koanf:"qdrant_addr"`
	Collection      string  `koanf:"collection"`
	Threshold       float64 `koanf:"threshold"`
	EmbedderBaseURL string  `koanf:"embedder_base_url"`
	EmbedderModel   string  `koanf:"embedder_model"`
}

type SearchConfig struct {
	Provider  string  `koanf:"provider"` // tavily, none
	APIKey    string  `koanf:"api_key"`
	BaseURL   string  `koanf:"base_url"`
	Depth     string  `koanf:"depth"`
	RateLimit float64 `koanf:"rate_limit"`
}

type WeatherConfig struct {
	Provider string `koanf:"provider"` // openweather, none
	APIKey   string `koanf:"api_key"`
	BaseURL  string `koanf:"base_url"`
}

type SessionConfig struct {
	Store       string `koanf:"store"` // inmemory, sqlite
	MaxMessages int    `koanf:"max_messages"`
}

type TracesConfig struct {
	Store    string `koanf:"store"` // memory, sqlite
	Capacity int    `koanf:"capacity"`
}

// StorageConfig is the database shared by every sqlite backend.
type StorageConfig struct {
	SQLitePath string `koanf:"sqlite_path"`
}

type TelemetryConfig struct {
	Exporter     string        `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint string        `koanf:"otlp_endpoint"`
	OTLPInsecure bool          `koanf:"otlp_insecure"`
	OTLPTimeout  time.Duration `koanf:"otlp_timeout"`

	// SampleRatio is the fraction of turns traced (0, 1]. 1 traces all.
	SampleRatio    float64       `koanf:"sample_ratio"`
	MetricInterval time.Duration `koanf:"metric_interval"`
}

// Options controls where Load reads from.
type Options struct {
	Path string
	// Profile overlays <name>.<profile><ext> next to Path when it exists.
	Profile string
	// Overrides are key=value pairs applied last.
	Overrides []string
}

var defaults = map[string]any{
	"log.level":  "info",
	"log.format": "text",

	"server.addr":             ":8080",
	"server.shutdown_timeout": "10s",
	"server.allowed_origins":  []string{},

	"llm.fast.provider":  "openai",
	"llm.fast.model":     "llama-3.3-70b-versatile",
	"llm.fast.base_url":  "https://api.groq.com/openai/v1",
	"llm.fast.api_key":   "",
	"llm.smart.provider": "gemini",
	"llm.smart.model":    "gemini-2.0-flash",
	"llm.smart.base_url": "",
	"llm.smart.api_key":  "",

	"orchestrator.timeouts.default":   "10s",
	"orchestrator.timeouts.preflight": "2s",
	"orchestrator.timeouts.tools":     "4s",
	"orchestrator.timeouts.summary":   "5s",
	"orchestrator.history_threshold":  16,
	"orchestrator.summarize_count":    8,

	"agents.context_llm_timeout": "1500ms",
	"agents.search_timeout":      "3s",

	"memory.provider":          "inmemory",
	"memory.table":             "memories",
	"memory.max_context_words": 800,
	"memory.qdrant_addr":       "localhost:6334",
	"memory.collection":        "jarvis_memories",
	"memory.threshold":         0.6,
	"memory.embedder_base_url": "http://localhost:11434",
	"memory.embedder_model":    "nomic-embed-text",

	"search.provider":   "tavily",
	"search.api_key":    "",
	"search.base_url":   "https://api.tavily.com",
	"search.depth":      "basic",
	"search.rate_limit": 5.0,

	"weather.provider": "openweather",
	"weather.api_key":  "",
	"weather.base_url": "https://api.openweathermap.org/data/2.5/weather",

	"session.store":        "inmemory",
	"session.max_messages": 20,

	"traces.store":    "memory",
	"traces.capacity": 500,

	"storage.sqlite_path": "jarvis.db",

	"telemetry.exporter":        "none",
	"telemetry.otlp_endpoint":   "",
	"telemetry.otlp_insecure":   true,
	"telemetry.otlp_timeout":    "10s",
	"telemetry.sample_ratio":    1.0,
	"telemetry.metric_interval": "60s",

	"user_id": "jarvis_user_1",
}

// Load reads path, which may be empty, plus the environment.
func Load(path string) (*Config, error) {
	return LoadWithOptions(Options{Path: path})
}

// LoadWithOptions builds a Config from defaults, the file and its profile
// overlay, JARVIS_ variables and the overrides.
func LoadWithOptions(opts Options) (*Config, error) {
	k := koanf.New(".")
	for key, value := range defaults {
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}
	envKeys := envKeyMap(k.Keys())

	// 1. Load from file, then the profile overlay
	for _, path := range filePaths(opts.Path, opts.Profile) {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, errors.New(errors.CodeInvalidInput, "load config file "+path, err)
		}
	}

	// 2. Load from ENV (JARVIS_SERVER_ADDR -> server.addr,
	// JARVIS_MEMORY_MAX_CONTEXT_WORDS -> memory.max_context_words)
	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		name := strings.TrimPrefix(s, EnvPrefix)
		if key, ok := envKeys[name]; ok {
			return key
		}
		return strings.ReplaceAll(strings.ToLower(name), "_", ".")
	}), nil); err != nil {
		return nil, err
	}

	// 3. Overrides
	for _, kv := range opts.Overrides {
		key, value, ok := strings.Cut(kv, "=")
		key, value = strings.TrimSpace(key), strings.TrimSpace(value)
		if !ok || key == "" {
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("override %q is not key=value", kv), nil)
		}
		if err := k.Set(key, value); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, errors.New(errors.CodeInvalidInput, "decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// envKeyMap maps the env form of every known key to the key itself, so
// keys containing underscores survive the translation.
func envKeyMap(keys []string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, key := range keys {
		out[strings.ToUpper(strings.ReplaceAll(key, ".", "_"))] = key
	}
	return out
}

// filePaths returns path and, when present on disk, its profile overlay.
func filePaths(path, profile string) []string {
	if path == "" {
		return nil
	}
	paths := []string{path}
	if overlay := ProfilePath(path, profile); overlay != "" {
		if _, err := os.Stat(overlay); err == nil {
			paths = append(paths, overlay)
		}
	}
	return paths
}

// ProfilePath returns the overlay file name for profile: config.yaml with
// profile dev gives config.dev.yaml.
func ProfilePath(path, profile string) string {
	if path == "" || profile == "" {
		return ""
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// Validate rejects settings the application cannot start with.
func (c *Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}
	oneOf := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s must be one of %v, got %q", field, allowed, value))
	}

	oneOf("llm.fast.provider", c.LLM.Fast.Provider, "openai", "gemini", "ollama", "mock")
	oneOf("llm.smart.provider", c.LLM.Smart.Provider, "openai", "gemini", "ollama", "mock", "none")
	oneOf("memory.provider", c.Memory.Provider, "inmemory", "sqlite", "vector")
	oneOf("search.provider", c.Search.Provider, "tavily", "none")
	oneOf("weather.provider", c.Weather.Provider, "openweather", "none")
	oneOf("session.store", c.Session.Store, "inmemory", "sqlite")
	oneOf("traces.store", c.Traces.Store, "memory", "sqlite")
	oneOf("telemetry.exporter", c.Telemetry.Exporter, "none", "stdout", "otlp")

	t := c.Orchestrator.Timeouts
	check(t.Default > 0 && t.Preflight > 0 && t.Tools > 0 && t.Summary > 0, "orchestrator timeouts must be positive")
	check(c.Orchestrator.HistoryThreshold > 0, "orchestrator.history_threshold must be positive")
	check(c.Orchestrator.SummarizeCount > 0 && c.Orchestrator.SummarizeCount <= c.Orchestrator.HistoryThreshold,
		"orchestrator.summarize_count must be between 1 and history_threshold")
	check(c.Memory.MaxContextWords > 0, "memory.max_context_words must be positive")
	check(c.Session.MaxMessages >= 2, "session.max_messages must be at least 2")
	check(c.Telemetry.Exporter != "otlp" || c.Telemetry.OTLPEndpoint != "", "telemetry.otlp_endpoint is required for the otlp exporter")
	check(c.Telemetry.SampleRatio > 0 && c.Telemetry.SampleRatio <= 1, "telemetry.sample_ratio must be in (0, 1]")

	if len(problems) > 0 {
		return errors.New(errors.CodeInvalidInput, "invalid config: "+strings.Join(problems, "; "), nil)
	}
	return nil
}
