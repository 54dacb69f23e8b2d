package rag

import (
	"encoding/json"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"docrag/internal/domain"
	"docrag/internal/llm"
)

// markerPattern matches [1] as well as grouped markers like [1, 3].
var markerPattern = regexp.MustCompile(`\[(\d+(?:\s*,\s*\d+)*)\]`)

// ExtractCitations returns the answer text without a trailing citation line
// and the cited marker numbers, 1-based, in first-appearance order without
// duplicates. Numbers outside 1..n are dropped.
//
// A final "CITATIONS: [..]" line holding a JSON array is authoritative. When
// it is missing, malformed or cites nothing in range, markers in the text are
// scanned instead.
func ExtractCitations(text string, n int) (answer string, refs []int) {
	answer, structured, ok := splitCitationLine(text)
	if ok {
		if refs = filterRefs(structured, n); len(refs) > 0 {
			return answer, refs
		}
	}
	var found []int
	for _, m := range markerPattern.FindAllStringSubmatch(answer, -1) {
		for _, part := range strings.Split(m[1], ",") {
			if v, err := strconv.Atoi(strings.TrimSpace(part)); err == nil {
				found = append(found, v)
			}
		}
	}
	return answer, filterRefs(found, n)
}

// splitCitationLine detaches the last non-empty line when it starts with the
// citation prefix. ok reports whether its payload parsed.
func splitCitationLine(text string) (answer string, refs []int, ok bool) {
	trimmed := strings.TrimRight(text, " \t\r\n")
	start := strings.LastIndex(trimmed, "\n") + 1
	last := strings.TrimSpace(trimmed[start:])
	if !strings.HasPrefix(last, llm.CitationsPrefix) {
		return text, nil, false
	}
	answer = strings.TrimRight(trimmed[:start], " \t\r\n")
	payload := strings.TrimSpace(strings.TrimPrefix(last, llm.CitationsPrefix))
	if err := json.Unmarshal([]byte(payload), &refs); err != nil {
		return answer, nil, false
	}
	return answer, refs, true
}

func filterRefs(refs []int, n int) []int {
	seen := make(map[int]struct{}, len(refs))
	var out []int
	for _, r := range refs {
		if r < 1 || r > n {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}

// fallbackRefs cites the first min(3, topK) contexts, bounded by n.
func fallbackRefs(n, topK int) []int {
	limit := min(3, topK, n)
	refs := make([]int, 0, limit)
	for i := 1; i <= limit; i++ {
		refs = append(refs, i)
	}
	return refs
}

// buildSources maps marker numbers back to the retrieved records.
func buildSources(results []domain.RetrievalResult, refs []int, snippetLen int) []domain.Source {
	sources := make([]domain.Source, 0, len(refs))
	for _, ref := range refs {
		rec := results[ref-1].Record
		sources = append(sources, domain.Source{
			Ref:     ref,
			ID:      rec.ID,
			Title:   sourceTitle(rec.Metadata),
			Snippet: snippet(rec.Text, snippetLen),
		})
	}
	return sources
}

func sourceTitle(m domain.Metadata) string {
	if m.Title != "" {
		return m.Title
	}
	if m.Source != "" {
		return filepath.Base(m.Source)
	}
	return ""
}

// snippet returns at most limit runes of text with whitespace collapsed.
func snippet(text string, limit int) string {
	text = strings.Join(strings.Fields(text), " ")
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit])
}

// citationFilter holds back a trailing citation line while tokens stream so
// that clients only see the prose. Text that turns out not to be a citation
// line is released as soon as that is clear.
type citationFilter struct {
	held string
}

// push returns the part of tok that can be forwarded now.
func (f *citationFilter) push(tok string) string {
	f.held += tok
	trimmed := strings.TrimRight(f.held, " \t\r\n")
	idx := strings.LastIndex(trimmed, "\n")
	line := strings.TrimLeft(trimmed[idx+1:], " \t")
	if !strings.HasPrefix(llm.CitationsPrefix, line) && !strings.HasPrefix(line, llm.CitationsPrefix) {
		out := f.held
		f.held = ""
		return out
	}
	if idx < 0 {
		return ""
	}
	out := f.held[:idx]
	f.held = f.held[idx:]
	return out
}

// flush returns whatever is still held unless it is a citation line.
func (f *citationFilter) flush() string {
	held := f.held
	f.held = ""
	line := strings.TrimSpace(held)
	if strings.HasPrefix(line, llm.CitationsPrefix) {
		return ""
	}
	return held
}
