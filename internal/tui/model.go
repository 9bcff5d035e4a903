package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"greenrag/internal/domain"
)

// searchTimeout bounds one query issued from the browser.
const searchTimeout = 2 * time.Minute

// Searcher is the TUI-facing subset of the retrieval service.
type Searcher interface {
	SearchDirective(ctx context.Context, query string, k int) (domain.QueryResult, error)
}

// Briefer picks the sentence of a passage that best matches the query.
type Briefer interface {
	Sentences(text string) []string
	Best(sentences []string, query string) int
}

// resultsMsg carries the outcome of an asynchronous search.
type resultsMsg struct {
	query   string
	results domain.QueryResult
	err     error
}

// Model is the Bubble Tea model for the directive browser.
type Model struct {
	service Searcher
	briefer Briefer
	k       int
	keys    keyMap
	help    help.Model

	input    textinput.Model
	viewport viewport.Model
	results  domain.QueryResult
	cursor   int

	header    string
	status    string
	lastQuery string
	ready     bool
	searching bool
}

// New creates the browser model. header is shown under the title; a nil
// briefer disables sentence highlighting.
func New(service Searcher, briefer Briefer, k int, header string) Model {
	ti := textinput.New()
	ti.Prompt = "> "
	ti.Placeholder = "Describe a claim and press Enter"
	ti.CharLimit = 0
	ti.Focus()
	return Model{
		service:  service,
		briefer:  briefer,
		k:        k,
		keys:     defaultKeyMap(),
		help:     help.New(),
		input:    ti,
		viewport: viewport.New(0, 0),
		header:   header,
		status:   "Type to search the directive.",
	}
}

func (m Model) Init() tea.Cmd { return textinput.Blink }

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.resize(msg.Width, msg.Height)
		return m, nil

	case resultsMsg:
		m.searching = false
		if msg.err != nil {
			m.status = "Error: " + msg.err.Error()
			m.results = nil
		} else {
			m.status = fmt.Sprintf("%d passages for %q", len(msg.results), msg.query)
			m.results = msg.results
			m.lastQuery = msg.query
		}
		m.cursor = 0
		m.refresh()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Search):
			q := strings.TrimSpace(m.input.Value())
			if q == "" || m.searching {
				return m, nil
			}
			m.searching = true
			m.status = fmt.Sprintf("Searching for %q...", q)
			return m, m.search(q)
		case key.Matches(msg, m.keys.Next):
			if n := len(m.results); n > 0 {
				m.cursor = (m.cursor + 1) % n
				m.refresh()
			}
			return m, nil
		case key.Matches(msg, m.keys.Prev):
			if n := len(m.results); n > 0 {
				m.cursor = (m.cursor - 1 + n) % n
				m.refresh()
			}
			return m, nil
		case key.Matches(msg, m.keys.ScrollUp):
			m.viewport.HalfViewUp()
			return m, nil
		case key.Matches(msg, m.keys.ScrollDn):
			m.viewport.HalfViewDown()
			return m, nil
		case key.Matches(msg, m.keys.Clear):
			m.input.Reset()
			m.results = nil
			m.cursor = 0
			m.refresh()
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) resize(width, height int) {
	m.ready = true
	rw, rh := resultBoxStyle.GetFrameSize()
	_, qh := queryBoxStyle.GetFrameSize()
	// title, header, query line, status, help
	chrome := 1 + lipgloss.Height(m.header) + 1 + qh + 1 + 1
	m.viewport.Width = max(20, width-rw)
	m.viewport.Height = max(3, height-chrome-rh)
	m.help.Width = width
	m.refresh()
}

func (m *Model) refresh() {
	m.viewport.SetContent(m.renderCurrentResult())
	m.viewport.GotoTop()
}

func (m Model) search(query string) tea.Cmd {
	svc, k := m.service, m.k
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), searchTimeout)
		defer cancel()
		res, err := svc.SearchDirective(ctx, query, k)
		return resultsMsg{query: query, results: res, err: err}
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Loading..."
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleBarStyle.Render("EU Green Claims Directive"),
		dimStyle.Render(m.header),
		resultBoxStyle.Render(m.viewport.View()),
		queryBoxStyle.Render(m.input.View()),
		statusStyle.Render(m.status),
		m.help.View(m.keys),
	)
}

func (m Model) renderCurrentResult() string {
	if len(m.results) == 0 {
		return "No results yet."
	}
	r := m.results[m.cursor]
	md := r.Chunk.Metadata
	title := titleStyle.Render(fmt.Sprintf("Result %d/%d  %s  Page %s", m.cursor+1, len(m.results), md.ArticleLabel(), md.PageLabel()))
	score := dimStyle.Render(fmt.Sprintf("score=%.3f", r.Score))
	return title + "  " + score + "\n\n" + m.highlightBestSentence(r.Chunk.Content)
}

func (m Model) highlightBestSentence(text string) string {
	if m.briefer == nil || strings.TrimSpace(text) == "" {
		return text
	}
	sentences := m.briefer.Sentences(text)
	if len(sentences) == 0 {
		return text
	}
	if best := m.briefer.Best(sentences, m.lastQuery); best >= 0 && best < len(sentences) {
		sentences[best] = highlightStyle.Render(sentences[best])
	}
	return strings.Join(sentences, " ")
}

var (
	resultBoxStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	queryBoxStyle  = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	titleBarStyle  = lipgloss.NewStyle().Bold(true)
	titleStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	dimStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	statusStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	highlightStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
)
