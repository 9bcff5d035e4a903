// Package summarizer produces short extractive briefs of retrieved passages.
package summarizer

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// DefaultMaxSentences is used when a non-positive sentence budget is given.
const DefaultMaxSentences = 2

// queryWeight scales the bonus a sentence gets per distinct query term it contains.
const queryWeight = 2.0

// FrequencySummarizer ranks sentences by word frequency (stopwords filtered),
// boosted by overlap with the query.
type FrequencySummarizer struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
}

// NewFrequencySummarizer creates a frequency-based sentence ranker summarizer.
func NewFrequencySummarizer() *FrequencySummarizer {
	return &FrequencySummarizer{
		tokenPattern:    regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`),
		sentencePattern: regexp.MustCompile(`[^.!?;]+[.!?;]+`),
		stopwords:       defaultStopwords(),
	}
}

// Sentences splits text into whitespace-collapsed sentences. Trailing text
// without terminal punctuation is kept as a last sentence.
func (s *FrequencySummarizer) Sentences(text string) []string {
	locs := s.sentencePattern.FindAllStringIndex(text, -1)
	out := make([]string, 0, len(locs)+1)
	end := 0
	for _, loc := range locs {
		end = loc[1]
		if t := collapse(text[loc[0]:loc[1]]); t != "" {
			out = append(out, t)
		}
	}
	if tail := collapse(text[end:]); tail != "" {
		out = append(out, tail)
	}
	return out
}

// Summarize keeps the best maxSentences sentences of text in their original order.
func (s *FrequencySummarizer) Summarize(text, query string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	sentences := s.Sentences(text)
	if len(sentences) == 0 {
		return collapse(text)
	}
	scores := s.Score(sentences, query)

	order := make([]int, len(sentences))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })
	if maxSentences > len(order) {
		maxSentences = len(order)
	}
	selected := append([]int(nil), order[:maxSentences]...)
	sort.Ints(selected)

	out := make([]string, 0, len(selected))
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " ")
}

// Best returns the index of the highest scoring sentence, or -1 for none.
func (s *FrequencySummarizer) Best(sentences []string, query string) int {
	best, bestScore := -1, math.Inf(-1)
	for i, sc := range s.Score(sentences, query) {
		if sc > bestScore {
			best, bestScore = i, sc
		}
	}
	return best
}

// Score rates each sentence by normalized term frequency plus query overlap.
func (s *FrequencySummarizer) Score(sentences []string, query string) []float64 {
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	if maxF > 0 {
		for k, v := range freq {
			freq[k] = v / maxF
		}
	}
	queryTerms := map[string]struct{}{}
	for _, tok := range s.tokens(query) {
		queryTerms[tok] = struct{}{}
	}

	scores := make([]float64, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		score := 0.0
		hits := map[string]struct{}{}
		for _, tok := range toks {
			score += freq[tok]
			if _, ok := queryTerms[tok]; ok {
				hits[tok] = struct{}{}
			}
		}
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			score /= math.Sqrt(l)
		}
		scores[i] = score + queryWeight*float64(len(hits))
	}
	return scores
}

func (s *FrequencySummarizer) tokens(text string) []string {
	raw := s.tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"shall", "may", "where", "which", "any", "its", "their", "article", "paragraph",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
