package agents

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jllopis/jarvis/pkg/core"
	"github.com/jllopis/jarvis/pkg/errors"
	"github.com/jllopis/jarvis/pkg/websearch"
)

const (
	maxQueries     = 2
	resultsPerCall = 5
	keptResults    = 3
	snippetWords   = 200
)

// SearchHit is one web result as handed to chat.
type SearchHit struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// Search runs up to two web queries concurrently and keeps the top results.
type Search struct {
	searcher websearch.Searcher
	opts     options
}

// NewSearch creates the search agent.
func NewSearch(searcher websearch.Searcher, opts ...Option) *Search {
	return &Search{searcher: searcher, opts: newOptions(3*time.Second, opts)}
}

// Name implements core.Agent.
func (a *Search) Name() string { return core.AgentSearch }

// Run implements core.Agent. Failed queries are skipped; the run fails only
// when every query failed.
func (a *Search) Run(ctx context.Context, in core.ExecutionContext) (*core.Result, error) {
	res := &core.Result{AgentName: a.Name(), Data: map[string]any{"results": []SearchHit{}, "formatted": ""}}
	if a.searcher == nil {
		return res, errors.New(errors.CodeToolFailure, "web search is not configured", nil)
	}
	queries := buildQueries(in.String(core.KeyUserMessage), in.Strings(core.KeyEntities), in.String(core.KeyQueryOverride))
	if len(queries) == 0 {
		return res, nil
	}

	responses := make([]*websearch.Response, len(queries))
	failures := make([]error, len(queries))
	var g errgroup.Group
	for i, q := range queries {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(ctx, a.opts.timeout)
			defer cancel()
			responses[i], failures[i] = a.searcher.Search(qctx, q, resultsPerCall)
			if failures[i] != nil {
				a.opts.logger.WarnContext(ctx, "search.query", slog.String("query", q), slog.String("error", failures[i].Error()))
			}
			return nil
		})
	}
	_ = g.Wait()

	var hits []SearchHit
	failed := 0
	for i, resp := range responses {
		if failures[i] != nil || resp == nil {
			failed++
			continue
		}
		for _, r := range resp.Results {
			title := r.Title
			if title == "" {
				title = "Untitled"
			}
			hits = append(hits, SearchHit{Title: title, Snippet: trimWords(r.Content, snippetWords), URL: r.URL})
		}
	}
	if failed == len(queries) {
		return res, errors.New(errors.CodeToolFailure, "all search queries failed", failures[0])
	}

	if len(hits) > keptResults {
		hits = hits[:keptResults]
	}
	res.Data["results"] = hits
	res.Data["formatted"] = formatHits(hits)
	return res, nil
}

// buildQueries returns the override alone, or the message plus the message
// prefixed by entities it does not already mention, deduplicated and capped.
func buildQueries(msg string, entities []string, override string) []string {
	if override != "" {
		return []string{override}
	}
	if msg == "" {
		return nil
	}
	candidates := []string{msg}
	lower := strings.ToLower(msg)
	for i, ent := range entities {
		if i == maxQueries {
			break
		}
		if ent != "" && !strings.Contains(lower, strings.ToLower(ent)) {
			candidates = append(candidates, ent+" "+msg)
		}
	}

	out := make([]string, 0, maxQueries)
	for _, q := range candidates {
		if len(out) == maxQueries {
			break
		}
		dup := false
		for _, seen := range out {
			dup = dup || seen == q
		}
		if !dup {
			out = append(out, q)
		}
	}
	return out
}

func formatHits(hits []SearchHit) string {
	if len(hits) == 0 {
		return ""
	}
	lines := make([]string, len(hits))
	for i, h := range hits {
		lines[i] = fmt.Sprintf("- %s: %s (%s)", h.Title, h.Snippet, h.URL)
	}
	return "Web search context:\n" + strings.Join(lines, "\n")
}
