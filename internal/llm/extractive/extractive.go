// Package extractive is an offline model. It answers by quoting, from each
// context, the sentence that best matches the question, ranked by word
// frequency with stopwords filtered. It needs no credentials.
package extractive

import (
	"context"
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/llm"
)

// DefaultMaxSentences caps the number of quoted sentences.
const DefaultMaxSentences = 3

// NoAnswer is returned when no context shares a term with the question.
const NoAnswer = "I don't know based on the provided context."

// Model ranks sentences by token frequency.
type Model struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
	maxSentences    int
}

var _ domain.Model = (*Model)(nil)

// New creates an extractive model quoting at most maxSentences sentences.
func New(maxSentences int) *Model {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Model{
		tokenPattern:    regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`),
		sentencePattern: regexp.MustCompile(`[^.!?\n]+[.!?]?`),
		stopwords:       defaultStopwords(),
		maxSentences:    maxSentences,
	}
}

func (m *Model) Name() string { return "extractive" }

// Generate answers a prompt built with llm.Prompt.Render.
func (m *Model) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p, ok := llm.ParsePrompt(prompt)
	if !ok {
		return "", fmt.Errorf("extractive: %w", errors.New("prompt has no numbered context"))
	}
	return m.answer(p), nil
}

// Stream yields the Generate output word by word.
func (m *Model) Stream(ctx context.Context, prompt string) (domain.TokenStream, error) {
	text, err := m.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}
	return llm.NewSliceStream(splitTokens(text)...), nil
}

// splitTokens cuts text after each space and newline so that joining the
// pieces gives text back.
func splitTokens(text string) []string {
	var out []string
	start := 0
	for i, r := range text {
		if r == ' ' || r == '\n' {
			out = append(out, text[start:i+1])
			start = i + 1
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}

type candidate struct {
	ref      int
	sentence string
	score    float64
}

func (m *Model) answer(p llm.Prompt) string {
	query := map[string]struct{}{}
	for _, tok := range m.tokens(p.Question) {
		if _, stop := m.stopwords[tok]; !stop {
			query[tok] = struct{}{}
		}
	}

	var picks []candidate
	for i, c := range p.Contexts {
		if best, ok := m.bestSentence(c, query); ok {
			best.ref = i + 1
			picks = append(picks, best)
		}
	}
	if len(picks) == 0 {
		return NoAnswer
	}
	sort.SliceStable(picks, func(i, j int) bool { return picks[i].score > picks[j].score })
	if len(picks) > m.maxSentences {
		picks = picks[:m.maxSentences]
	}
	// keep context order among the selected
	sort.SliceStable(picks, func(i, j int) bool { return picks[i].ref < picks[j].ref })

	var b strings.Builder
	refs := make([]string, 0, len(picks))
	for i, c := range picks {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%s [%d]", strings.TrimRight(c.sentence, " "), c.ref)
		refs = append(refs, fmt.Sprint(c.ref))
	}
	fmt.Fprintf(&b, "\n%s [%s]", llm.CitationsPrefix, strings.Join(refs, ", "))
	return b.String()
}

// bestSentence scores each sentence of text by the normalised frequency of
// its terms, counting only sentences that share a term with the query.
func (m *Model) bestSentence(text string, query map[string]struct{}) (candidate, bool) {
	sentences := m.sentencePattern.FindAllString(text, -1)
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range m.tokens(sent) {
			if _, ok := m.stopwords[tok]; ok {
				continue
			}
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}

	var best candidate
	found := false
	for _, sent := range sentences {
		sent = strings.TrimSpace(sent)
		toks := m.tokens(sent)
		if len(toks) == 0 {
			continue
		}
		hits := 0
		score := 0.0
		for _, tok := range toks {
			if _, ok := query[tok]; ok {
				hits++
			}
			if v, ok := freq[tok]; ok && maxF > 0 {
				score += v / maxF
			}
		}
		if hits == 0 {
			continue
		}
		// query overlap dominates; frequency breaks ties
		score = float64(hits) + score/math.Sqrt(float64(len(toks)))/10
		if !found || score > best.score {
			best = candidate{sentence: sent, score: score}
			found = true
		}
	}
	return best, found
}

func (m *Model) tokens(text string) []string {
	return m.tokenPattern.FindAllString(strings.ToLower(text), -1)
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "why", "when", "where", "do", "does", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
