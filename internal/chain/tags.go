// Copyright (C) 2026 Kairos
// SPDX-License-Identifier: AGPL-3.0-or-later

package chain

import (
	"regexp"
	"sort"
	"strings"

	"github.com/samber/lo"
)

const (
	maxKeywordTags = 5
	maxCodeTags    = 5
)

var wordRe = regexp.MustCompile(`[a-zA-Z][a-zA-Z0-9_-]{3,}`)

var stopwords = map[string]struct{}{
	"this": {}, "that": {}, "with": {}, "from": {}, "have": {}, "will": {},
	"your": {}, "then": {}, "them": {}, "when": {}, "step": {}, "must": {},
	"should": {}, "would": {}, "could": {}, "into": {}, "only": {}, "each": {},
	"make": {}, "sure": {}, "been": {}, "before": {}, "after": {}, "where": {},
	"which": {}, "while": {}, "these": {}, "those": {}, "using": {}, "there": {},
	"about": {}, "other": {}, "first": {}, "also": {}, "more": {}, "some": {},
	"here": {}, "does": {}, "need": {}, "following": {},
}

// extractTags derives a step's tags: frequent body keywords plus up to five
// identifiers found in fenced code blocks. Output order is deterministic.
func extractTags(lines []string, body string) []string {
	keywords := extractKeywords(body)
	code := extractCodeIdentifiers(lines)

	tags := append(keywords, code...)
	tags = lo.Uniq(tags)
	return tags
}

// extractKeywords picks the most frequent non-stopword words in prose, ties
// broken alphabetically.
func extractKeywords(body string) []string {
	// Strip fenced blocks so code does not dominate prose keywords.
	prose := stripFences(body)

	counts := make(map[string]int)
	for _, w := range wordRe.FindAllString(strings.ToLower(prose), -1) {
		if _, stop := stopwords[w]; stop {
			continue
		}
		counts[w]++
	}

	words := lo.Keys(counts)
	sort.Slice(words, func(i, j int) bool {
		if counts[words[i]] != counts[words[j]] {
			return counts[words[i]] > counts[words[j]]
		}
		return words[i] < words[j]
	})

	if len(words) > maxKeywordTags {
		words = words[:maxKeywordTags]
	}
	return words
}

// extractCodeIdentifiers collects identifiers appearing inside fenced code
// blocks, first-seen order, capped at maxCodeTags.
func extractCodeIdentifiers(lines []string) []string {
	var idents []string
	seen := make(map[string]struct{})
	inFence := false

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			continue
		}
		for _, id := range codeIdentRe.FindAllString(line, -1) {
			lower := strings.ToLower(id)
			if _, stop := stopwords[lower]; stop {
				continue
			}
			if _, dup := seen[lower]; dup {
				continue
			}
			seen[lower] = struct{}{}
			idents = append(idents, lower)
			if len(idents) == maxCodeTags {
				return idents
			}
		}
	}
	return idents
}

func stripFences(body string) string {
	var out []string
	inFence := false
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if !inFence {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
