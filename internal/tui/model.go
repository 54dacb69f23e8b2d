package tui

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"docrag/internal/domain"
)

// Asker is the TUI-facing subset of the answerer.
type Asker interface {
	Stream(ctx context.Context, query string, topK int) <-chan domain.StreamEvent
}

// eventMsg carries one stream event into Update. ok is false once the
// channel is closed.
type eventMsg struct {
	ev domain.StreamEvent
	ok bool
}

func waitForEvent(ch <-chan domain.StreamEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		return eventMsg{ev: ev, ok: ok}
	}
}

// Model is the Bubble Tea model for the TUI application.
type Model struct {
	asker     Asker
	topK      int
	input     textinput.Model
	viewport  viewport.Model
	summary   string
	status    string
	ready     bool
	lastQuery string

	answer    string
	sources   []domain.Source
	cursor    int
	streaming bool
	events    <-chan domain.StreamEvent
	cancel    context.CancelFunc
}

// New creates a new TUI model instance. summary is shown under the header.
func New(asker Asker, topK int, summary string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Ask a question and press Enter"
	ti.Focus()
	ti.CharLimit = 0
	vp := viewport.New(0, 0)
	return Model{asker: asker, topK: topK, input: ti, viewport: vp, summary: summary, status: "Ready. Ask about your documents."}
}

// Init initializes the model (text input cursor blink).
func (m Model) Init() tea.Cmd { return textinput.Blink }

// Update handles key, window and stream events and updates the view state.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.ready = true
		// account for frames around result and query boxes
		_, rh := resultBoxStyle.GetFrameSize()
		_, qh := queryBoxStyle.GetFrameSize()
		totalHeaderLines := 2                                    // header + summary
		totalFooterLines := 1                                    // status
		reserved := totalHeaderLines + totalFooterLines + qh + 1 // 1 spacer
		vh := msg.Height - reserved
		if vh < 3 {
			vh = 3
		}
		m.viewport.Width = max(20, msg.Width)
		m.viewport.Height = max(3, vh-rh)
		m.viewport.SetContent(m.renderAnswer())
		return m, nil
	case eventMsg:
		return m.handleEvent(msg)
	case tea.KeyMsg:
		// Global quits
		if msg.Type == tea.KeyCtrlC || msg.Type == tea.KeyCtrlD {
			m.stop()
			return m, tea.Quit
		}
		switch msg.String() {
		case "esc":
			if m.streaming {
				m.stop()
				m.status = "Cancelled."
				return m, nil
			}
		case "enter":
			q := strings.TrimSpace(m.input.Value())
			if q != "" && !m.streaming {
				return m.ask(q)
			}
		case "down":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor + 1) % len(m.sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		case "up":
			if len(m.sources) > 0 {
				m.cursor = (m.cursor - 1 + len(m.sources)) % len(m.sources)
				m.viewport.SetContent(m.renderAnswer())
				return m, nil
			}
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) ask(q string) (tea.Model, tea.Cmd) {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.events = m.asker.Stream(ctx, q, m.topK)
	m.streaming = true
	m.lastQuery = q
	m.answer = ""
	m.sources = nil
	m.cursor = 0
	m.status = fmt.Sprintf("Answering %q... (esc to cancel)", q)
	m.input.SetValue("")
	m.viewport.SetContent(m.renderAnswer())
	return m, waitForEvent(m.events)
}

func (m Model) handleEvent(msg eventMsg) (tea.Model, tea.Cmd) {
	if !m.streaming {
		// late events from a cancelled stream
		return m, nil
	}
	if !msg.ok {
		m.stop()
		return m, nil
	}
	switch msg.ev.Type {
	case domain.EventToken:
		m.answer += msg.ev.Token
	case domain.EventSources:
		m.sources = msg.ev.Sources
		m.status = fmt.Sprintf("Answer for %q with %d sources (up/down to browse)", m.lastQuery, len(m.sources))
	case domain.EventError:
		m.status = "Error: " + errString(msg.ev.Err)
	case domain.EventDone:
		m.viewport.SetContent(m.renderAnswer())
		m.viewport.GotoTop()
		m.stop()
		return m, nil
	}
	m.viewport.SetContent(m.renderAnswer())
	m.viewport.GotoBottom()
	return m, waitForEvent(m.events)
}

func (m *Model) stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.streaming = false
	m.events = nil
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// View renders the TUI layout and the current answer.
func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	header := lipgloss.NewStyle().Bold(true).Render("docrag")
	summary := lipgloss.NewStyle().Foreground(lipgloss.Color("8")).Render(m.summary)
	input := queryBoxStyle.Render(m.input.View())
	status := lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Render(m.status)
	results := resultBoxStyle.Render(m.viewport.View())
	return header + "\n" + summary + "\n" + results + "\n" + input + "\n" + status
}

func (m Model) renderAnswer() string {
	if m.answer == "" && !m.streaming {
		return "No answer yet."
	}
	var b strings.Builder
	b.WriteString(m.answer)
	if m.streaming {
		b.WriteString(cursorStyle.Render("▌"))
	}
	if len(m.sources) == 0 {
		return b.String()
	}
	b.WriteString("\n\n")
	b.WriteString(lipgloss.NewStyle().Bold(true).Render("Sources"))
	for i, s := range m.sources {
		line := fmt.Sprintf("[%d] %s", s.Ref, s.Title)
		if i == m.cursor {
			line = selectedStyle.Render(line)
		}
		b.WriteString("\n" + line)
	}
	cur := m.sources[m.cursor]
	b.WriteString("\n\n")
	b.WriteString(highlightBestSentence(cur.Snippet, m.lastQuery))
	return b.String()
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	selectedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("14")).Bold(true)
	cursorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	unicodeWordRe  = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*`)
	sentenceRe     = regexp.MustCompile(`(?m)(?U)([^.!?]+[.!?])`)
)

// highlightBestSentence emphasises the snippet sentence sharing the most
// words with query.
func highlightBestSentence(text, query string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}
	sentences := splitSentences(text)
	qTokens := toTokenSet(query)
	if len(qTokens) == 0 {
		return strings.Join(sentences, " ")
	}
	bestIdx := 0
	bestScore := -1
	for i, s := range sentences {
		score := tokenOverlapScore(qTokens, s)
		if score > bestScore {
			bestScore = score
			bestIdx = i
		}
	}
	for i := range sentences {
		sent := strings.TrimSpace(sentences[i])
		if i == bestIdx {
			sentences[i] = highlightStyle.Render(sent)
		} else {
			sentences[i] = sent
		}
	}
	return strings.Join(sentences, " ")
}

// splitSentences splits on terminal punctuation. Text after the last
// terminator, such as a snippet cut mid-sentence, is kept as its own sentence.
func splitSentences(text string) []string {
	var sentences []string
	end := 0
	for _, loc := range sentenceRe.FindAllStringIndex(text, -1) {
		sentences = append(sentences, text[loc[0]:loc[1]])
		end = loc[1]
	}
	if tail := strings.TrimSpace(text[end:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

func toTokenSet(s string) map[string]struct{} {
	tokens := unicodeWordRe.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		m[t] = struct{}{}
	}
	return m
}

func tokenOverlapScore(queryTokens map[string]struct{}, sentence string) int {
	score := 0
	tokens := unicodeWordRe.FindAllString(strings.ToLower(sentence), -1)
	seen := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		if _, ok := queryTokens[t]; ok {
			score++
		}
	}
	return score
}
