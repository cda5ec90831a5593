package nodes

import (
	"strings"
)

// levenshteinRatio returns a [0,1] similarity between two strings based on
// edit distance, 1 meaning identical. Comparison is case-insensitive.
func levenshteinRatio(a, b string) float64 {
	a = strings.ToLower(strings.TrimSpace(a))
	b = strings.ToLower(strings.TrimSpace(b))
	if a == b {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}

	distance := levenshtein(a, b)
	longest := len(a)
	if len(b) > longest {
		longest = len(b)
	}
	return 1 - float64(distance)/float64(longest)
}

// levenshtein computes edit distance with two rolling rows
func levenshtein(a, b string) int {
	ra, rb := []rune(a), []rune(b)
	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)

	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min3(
				curr[j-1]+1,    // insertion
				prev[j]+1,      // deletion
				prev[j-1]+cost, // substitution
			)
		}
		prev, curr = curr, prev
	}
	return prev[len(rb)]
}

func min3(a, b, c int) int {
	if b < a {
		a = b
	}
	if c < a {
		a = c
	}
	return a
}

// tokenize lowercases and splits text into word tokens
func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
}

// jaccardRelevance scores message relevance against a query: Jaccard word
// overlap with a boost when the message contains a multi-word phrase of the
// query verbatim.
func jaccardRelevance(message, query string) float64 {
	msgTokens := tokenize(message)
	queryTokens := tokenize(query)
	if len(msgTokens) == 0 || len(queryTokens) == 0 {
		return 0
	}

	msgSet := make(map[string]bool, len(msgTokens))
	for _, tok := range msgTokens {
		msgSet[tok] = true
	}
	querySet := make(map[string]bool, len(queryTokens))
	for _, tok := range queryTokens {
		querySet[tok] = true
	}

	intersection := 0
	for tok := range querySet {
		if msgSet[tok] {
			intersection++
		}
	}
	union := len(msgSet) + len(querySet) - intersection
	score := float64(intersection) / float64(union)

	// Phrase boost: a verbatim bigram of the query in the message is a
	// strong topical signal
	lowerMsg := strings.ToLower(message)
	for i := 0; i+1 < len(queryTokens); i++ {
		phrase := queryTokens[i] + " " + queryTokens[i+1]
		if strings.Contains(lowerMsg, phrase) {
			score += 0.25
			break
		}
	}
	if score > 1 {
		score = 1
	}
	return score
}
