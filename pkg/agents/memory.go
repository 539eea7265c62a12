package agents

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/memory"
)

// DefaultMaxContextWords caps the combined memory context.
const DefaultMaxContextWords = 800

const (
	relevantLimit = 5
	recentLimit   = 3
)

// Memory looks up stored user facts relevant to the message plus the most
// recent ones. Lookup failures degrade to empty lists.
type Memory struct {
	store memory.Store
	opts  options
}

// NewMemory creates the memory agent over store.
func NewMemory(store memory.Store, opts ...Option) *Memory {
	return &Memory{store: store, opts: newOptions(2*time.Second, opts)}
}

// Name implements core.Agent.
func (a *Memory) Name() string { return core.AgentMemory }

// Run implements core.Agent.
func (a *Memory) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	var relevant, recent []string
	if a.store != nil {
		msg := in.String(core.KeyUserMessage)
		var g errgroup.Group
		g.Go(func() error {
			relevant = a.lookup(ctx, "search", func(ctx context.Context) ([]string, error) {
				return a.store.Search(ctx, msg, relevantLimit)
			})
			return nil
		})
		g.Go(func() error {
			recent = a.lookup(ctx, "recent", func(ctx context.Context) ([]string, error) {
				return a.store.Recent(ctx, recentLimit)
			})
			return nil
		})
		_ = g.Wait()
	}

	relevant = dedupe(relevant)
	recent = dedupe(recent)
	combined := capWords(dedupe(append(append([]string(nil), relevant...), recent...)), a.opts.maxWords)

	formatted := ""
	if len(combined) > 0 {
		formatted = "User memory context:\n- " + strings.Join(combined, "\n- ")
	}
	return &core.Result{
		AgentName: a.Name(),
		Data: map[string]any{
			"relevant_memories": relevant,
			"recent_memories":   recent,
			"formatted":         formatted,
		},
	}, nil
}

func (a *Memory) lookup(ctx context.Context, kind string, fn func(context.Context) ([]string, error)) []string {
	ctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
	defer cancel()
	items, err := fn(ctx)
	if err != nil {
		a.opts.logger.WarnContext(ctx, "memory.lookup", slog.String("kind", kind), slog.String("error", err.Error()))
		return nil
	}
	return items
}

// dedupe drops blank items and items whose trimmed text was already seen.
func dedupe(items []string) []string {
	seen := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		key := strings.TrimSpace(item)
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
	}
	return out
}

// capWords keeps items in order until the next one would push the word
// count over max.
func capWords(items []string, max int) []string {
	count := 0
	out := make([]string, 0, len(items))
	for _, item := range items {
		n := len(strings.Fields(item))
		if count+n > max {
			break
		}
		out = append(out, item)
		count += n
	}
	return out
}
