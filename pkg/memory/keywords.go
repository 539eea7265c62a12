package memory

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{
	"the": {}, "and": {}, "for": {}, "are": {}, "was": {}, "you": {}, "your": {},
	"what": {}, "who": {}, "how": {}, "why": {}, "when": {}, "where": {}, "with": {},
	"that": {}, "this": {}, "have": {}, "has": {}, "does": {}, "did": {}, "can": {},
	"about": {}, "from": {}, "any": {}, "all": {}, "not": {},
}

func trimText(s string) string {
	return strings.TrimSpace(s)
}

// keywords returns the distinct lower-cased terms of s worth matching on.
func keywords(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) < 3 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// score counts the query terms present in text.
func score(terms []string, text string) int {
	if len(terms) == 0 {
		return 0
	}
	have := make(map[string]struct{})
	for _, k := range keywords(text) {
		have[k] = struct{}{}
	}
	n := 0
	for _, t := range terms {
		if _, ok := have[t]; ok {
			n++
		}
	}
	return n
}

// rank orders candidates by descending score. Candidates are expected newest
// first and ties keep that order. Non-matching texts are dropped.
func rank(terms []string, candidates []string, limit int) []string {
	type scored struct {
		text  string
		score int
	}
	hits := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if s := score(terms, c); s > 0 {
			hits = append(hits, scored{text: c, score: s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.text
	}
	return out
}
