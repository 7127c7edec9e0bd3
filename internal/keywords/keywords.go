// Package keywords extracts representative keywords from item text for
// preference learning and reporting.
package keywords

import (
	"sort"
	"strings"
	"unicode"
)

var stopwords = map[string]struct{}{}

func init() {
	for _, w := range []string{
		"the", "a", "an", "and", "or", "but", "if", "then", "else", "when",
		"at", "by", "for", "with", "about", "against", "between", "into",
		"through", "during", "before", "after", "above", "below", "to",
		"from", "up", "down", "in", "out", "on", "off", "over", "under",
		"again", "further", "once", "here", "there", "all", "any", "both",
		"each", "few", "more", "most", "other", "some", "such", "no", "nor",
		"not", "only", "own", "same", "so", "than", "too", "very", "can",
		"will", "just", "should", "now", "is", "are", "was", "were", "be",
		"been", "being", "have", "has", "had", "do", "does", "did", "of",
		"it", "its", "this", "that", "these", "those", "as", "what", "who",
		"how", "why", "where", "which", "their", "they", "them", "he",
		"she", "his", "her", "you", "your", "we", "our", "us", "new", "says",
	} {
		stopwords[w] = struct{}{}
	}
}

// Extract returns up to max keywords from the text, ranked by frequency
// then alphabetically for determinism. Tokens shorter than three runes and
// stopwords are dropped.
func Extract(text string, max int) []string {
	if max <= 0 {
		return nil
	}

	counts := map[string]int{}
	for _, token := range tokenize(text) {
		if len([]rune(token)) < 3 {
			continue
		}
		if _, stop := stopwords[token]; stop {
			continue
		}
		counts[token]++
	}
	if len(counts) == 0 {
		return nil
	}

	ranked := make([]string, 0, len(counts))
	for token := range counts {
		ranked = append(ranked, token)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if counts[ranked[i]] != counts[ranked[j]] {
			return counts[ranked[i]] > counts[ranked[j]]
		}
		return ranked[i] < ranked[j]
	})

	if len(ranked) > max {
		ranked = ranked[:max]
	}
	return ranked
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
