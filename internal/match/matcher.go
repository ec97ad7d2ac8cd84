// Package match implements deterministic multi-word phrase extraction
// over free transcript text.
package match

import (
	"sort"
	"strings"
	"unicode"
)

type token struct {
	norm  string
	start int
	end   int
}

// tokenize splits text into maximal letter/digit runs, keeping byte
// offsets so matches can be reported as literal substrings of the input.
func tokenize(text string) []token {
	var tokens []token
	start := -1
	for i, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, token{
				norm:  strings.ToLower(text[start:i]),
				start: start,
				end:   i,
			})
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, token{
			norm:  strings.ToLower(text[start:]),
			start: start,
			end:   len(text),
		})
	}
	return tokens
}

// Match returns the literal substrings of text whose token sequences
// equal one of the target phrases after lowercasing. Blank phrases are
// ignored; overlapping and repeated matches are all reported, ordered by
// position of occurrence. Absence of matches yields an empty result, not
// an error.
func Match(text string, phrases []string) []string {
	var patterns [][]token
	for _, phrase := range phrases {
		if strings.TrimSpace(phrase) == "" {
			continue
		}
		toks := tokenize(phrase)
		if len(toks) > 0 {
			patterns = append(patterns, toks)
		}
	}
	if len(patterns) == 0 {
		return nil
	}

	textTokens := tokenize(text)

	type span struct{ start, end int }
	var spans []span
	for i := range textTokens {
		for _, pattern := range patterns {
			if i+len(pattern) > len(textTokens) {
				continue
			}
			matched := true
			for j, pt := range pattern {
				if textTokens[i+j].norm != pt.norm {
					matched = false
					break
				}
			}
			if matched {
				spans = append(spans, span{
					start: textTokens[i].start,
					end:   textTokens[i+len(pattern)-1].end,
				})
			}
		}
	}

	sort.Slice(spans, func(a, b int) bool {
		if spans[a].start != spans[b].start {
			return spans[a].start < spans[b].start
		}
		return spans[a].end < spans[b].end
	})

	results := make([]string, 0, len(spans))
	for _, s := range spans {
		results = append(results, text[s.start:s.end])
	}
	return results
}

// ParseTargets parses the comma-separated operator phrase input. Blank
// input falls back to the single built-in phrase.
func ParseTargets(raw, fallback string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{fallback}
	}
	parts := strings.Split(raw, ",")
	targets := make([]string, 0, len(parts))
	for _, p := range parts {
		targets = append(targets, strings.TrimSpace(p))
	}
	return targets
}
