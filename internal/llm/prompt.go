package llm

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// CitationsPrefix starts the machine-readable citation line models are asked
// to end their answer with.
const CitationsPrefix = "CITATIONS:"

const (
	questionHeader = "Question:"
	contextHeader  = "Context:"
	answerHeader   = "Answer:"
)

// Prompt is the retrieval-augmented prompt: a question and the numbered
// contexts the answer may draw on. Contexts[i] is cited as [i+1].
type Prompt struct {
	Question string
	Contexts []string
}

// Render lays the prompt out as plain text.
func (p Prompt) Render() string {
	var b strings.Builder
	b.WriteString("You are a helpful assistant. Answer the question using only the numbered context below.\n")
	b.WriteString("Cite every claim with the number of the context that supports it, like [1] or [2].\n")
	b.WriteString("If the context does not contain the answer, say you don't know.\n")
	fmt.Fprintf(&b, "End your reply with one line of the form %s [1, 2] listing every context you cited.\n\n", CitationsPrefix)
	b.WriteString(contextHeader + "\n")
	for i, c := range p.Contexts {
		fmt.Fprintf(&b, "[%d] %s\n\n", i+1, strings.TrimSpace(c))
	}
	fmt.Fprintf(&b, "%s %s\n%s", questionHeader, strings.TrimSpace(p.Question), answerHeader)
	return b.String()
}

var contextMarker = regexp.MustCompile(`(?m)^\[(\d+)\] `)

// ParsePrompt recovers the question and contexts from Render output. ok is
// false when text was not produced by Render.
func ParsePrompt(text string) (p Prompt, ok bool) {
	ctxStart := strings.Index(text, contextHeader+"\n")
	qStart := strings.LastIndex(text, "\n"+questionHeader+" ")
	if ctxStart < 0 || qStart < ctxStart {
		return Prompt{}, false
	}
	question := strings.TrimSpace(text[qStart+len(questionHeader)+2:])
	p.Question = strings.TrimSpace(strings.TrimSuffix(question, answerHeader))

	body := text[ctxStart+len(contextHeader)+1 : qStart]
	locs := contextMarker.FindAllStringSubmatchIndex(body, -1)
	for i, loc := range locs {
		n, _ := strconv.Atoi(body[loc[2]:loc[3]])
		if n != i+1 {
			return Prompt{}, false
		}
		end := len(body)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		p.Contexts = append(p.Contexts, strings.TrimSpace(body[loc[1]:end]))
	}
	return p, true
}
