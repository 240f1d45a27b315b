package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
)

// Application states.
const (
	StateRanking = iota
	StateDetail
	StateFailures
)

// Model is the Bubble Tea model for the sweep results browser.
type Model struct {
	state        int
	summary      *SweepSummary
	rankingTable table.Model
	failureList  list.Model
	selected     int
	width        int
	height       int
}

// NewModel creates a results browser over a completed sweep summary.
func NewModel(summary *SweepSummary) Model {
	return Model{
		state:        StateRanking,
		summary:      summary,
		rankingTable: NewRankingTable(summary),
		failureList:  NewFailureList(summary),
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "esc":
			if m.state != StateRanking {
				m.state = StateRanking
			}
			return m, nil
		case "f":
			if m.state == StateRanking && len(m.summary.Failures) > 0 {
				m.state = StateFailures
			}
			return m, nil
		case "enter":
			if m.state == StateRanking && len(m.summary.Ranked) > 0 {
				m.selected = m.rankingTable.Cursor()
				m.state = StateDetail
			}
			return m, nil
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.rankingTable.SetWidth(msg.Width)
		m.rankingTable.SetHeight(msg.Height - 8)
		m.failureList.SetSize(msg.Width, msg.Height-4)
		return m, nil
	}

	switch m.state {
	case StateRanking:
		var cmd tea.Cmd
		m.rankingTable, cmd = m.rankingTable.Update(msg)
		return m, cmd
	case StateFailures:
		var cmd tea.Cmd
		m.failureList, cmd = m.failureList.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View implements tea.Model.
func (m Model) View() string {
	var s strings.Builder

	switch m.state {
	case StateRanking:
		s.WriteString(TitleStyle.Render(fmt.Sprintf("Sweep Results - %s (ranked by %s)",
			m.summary.PlaybookID, m.summary.RankBy)))
		s.WriteString("\n\n")

		if m.summary.Interrupted {
			s.WriteString(ErrorStyle.Render("Sweep was interrupted; ranking covers completed combinations only"))
			s.WriteString("\n\n")
		}

		if len(m.summary.Ranked) == 0 {
			s.WriteString("No completed combinations.\n")
		} else {
			s.WriteString(m.rankingTable.View())
		}

		s.WriteString("\n")
		s.WriteString(HelpStyle.Render(fmt.Sprintf(
			"%d/%d completed, %d failed | Enter: details | f: failures | q: quit",
			len(m.summary.Ranked), m.summary.Total, len(m.summary.Failures))))

	case StateDetail:
		entry := m.summary.Ranked[m.selected]
		s.WriteString(TitleStyle.Render(fmt.Sprintf("Combination #%d", entry.Index)))
		s.WriteString("\n\n")
		s.WriteString(RenderDetail(entry, m.summary))
		s.WriteString("\n")
		s.WriteString(HelpStyle.Render("Esc: back | q: quit"))

	case StateFailures:
		s.WriteString(TitleStyle.Render("Failed Combinations"))
		s.WriteString("\n\n")
		s.WriteString(m.failureList.View())
		s.WriteString("\n")
		s.WriteString(HelpStyle.Render("Esc: back | q: quit"))
	}

	return s.String()
}
