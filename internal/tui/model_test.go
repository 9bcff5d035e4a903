package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"greenrag/internal/domain"
	"greenrag/internal/summarizer"
)

type mockSearcher struct {
	results domain.QueryResult
	err     error
	gotK    int
}

func (m *mockSearcher) SearchDirective(_ context.Context, _ string, k int) (domain.QueryResult, error) {
	m.gotK = k
	return m.results, m.err
}

func sized(t *testing.T, m Model) Model {
	t.Helper()
	next, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	return next.(Model)
}

func submit(t *testing.T, m Model, query string) Model {
	t.Helper()
	m.input.SetValue(query)
	next, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	require.NotNil(t, cmd)
	m = next.(Model)
	assert.True(t, m.searching)
	next, _ = m.Update(cmd())
	return next.(Model)
}

func TestModel_SearchAndPage(t *testing.T) {
	svc := &mockSearcher{results: domain.QueryResult{
		{Chunk: domain.NewChunk("Claims shall be verified. Penalties apply.", 12, "Article 10"), Rank: 1, Score: 0.8},
		{Chunk: domain.Chunk{Content: "window", Metadata: domain.ChunkMetadata{Source: domain.SourceName}}, Rank: 2, Score: 0.4},
	}}
	m := sized(t, New(svc, summarizer.NewFrequencySummarizer(), 4, "index ready"))
	assert.Contains(t, m.View(), "No results yet.")

	m = submit(t, m, "penalties")
	assert.Equal(t, 4, svc.gotK)
	assert.False(t, m.searching)
	assert.Contains(t, m.status, `2 passages for "penalties"`)
	view := m.View()
	assert.Contains(t, view, "Result 1/2  Article 10  Page 12")
	assert.Contains(t, view, "index ready")

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Contains(t, m.renderCurrentResult(), "Result 2/2  Unknown Article  Page Unknown")

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyDown})
	m = next.(Model)
	assert.Equal(t, 0, m.cursor)

	next, _ = m.Update(tea.KeyMsg{Type: tea.KeyUp})
	m = next.(Model)
	assert.Equal(t, 1, m.cursor)
}

func TestModel_SearchError(t *testing.T) {
	m := sized(t, New(&mockSearcher{err: errors.New("provider down")}, nil, 3, ""))
	m = submit(t, m, "recyclable")
	assert.Equal(t, "Error: provider down", m.status)
	assert.Empty(t, m.results)
}

func TestModel_BlankQueryDoesNothing(t *testing.T) {
	svc := &mockSearcher{}
	m := sized(t, New(svc, nil, 3, ""))
	m.input.SetValue("   ")
	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	assert.False(t, next.(Model).searching)
	assert.Zero(t, svc.gotK)
}

func TestModel_Quit(t *testing.T) {
	m := New(&mockSearcher{}, nil, 3, "")
	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestHighlightBestSentence(t *testing.T) {
	m := New(&mockSearcher{}, summarizer.NewFrequencySummarizer(), 3, "")
	m.lastQuery = "penalties"
	out := m.highlightBestSentence("Claims shall be verified.\nPenalties apply.")
	assert.True(t, strings.Contains(out, "Claims shall be verified."))
	assert.True(t, strings.Contains(out, "Penalties apply."))

	assert.Equal(t, "", m.highlightBestSentence(""))
}

func TestModel_ClearResetsResults(t *testing.T) {
	svc := &mockSearcher{results: domain.QueryResult{
		{Chunk: domain.NewChunk("Claims shall be verified.", 4, "Article 10"), Rank: 1},
	}}
	m := sized(t, New(svc, nil, 1, ""))
	m = submit(t, m, "verified")
	require.Len(t, m.results, 1)

	next, _ := m.Update(tea.KeyMsg{Type: tea.KeyEsc})
	m = next.(Model)
	assert.Empty(t, m.results)
	assert.Empty(t, m.input.Value())
	assert.Contains(t, m.View(), "No results yet.")
}

func TestModel_ViewShowsHelp(t *testing.T) {
	m := New(&mockSearcher{}, nil, 3, "")
	assert.Equal(t, "Loading...", m.View())

	m = sized(t, m)
	view := m.View()
	assert.Contains(t, view, "search")
	assert.Contains(t, view, "quit")
}
