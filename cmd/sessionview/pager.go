package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"
)

var (
	pagerTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	pagerInfoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	pagerHelpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))
)

// pollInterval governs --follow's reload cadence against the live store.
const pollInterval = 1 * time.Second

// reloadMsg is sent by the poll ticker in follow mode.
type reloadMsg struct{}

// pagerModel is the Bubble Tea model for the interactive timeline viewer.
// Grounded on the teacher's replay pager, with fsnotify file-watching
// replaced by a ticker poll against the event store for --follow.
type pagerModel struct {
	title          string
	content        string
	wrappedContent string
	viewport       viewport.Model
	ready          bool

	follow     bool
	renderFunc func() (string, error)
}

func newPagerModel(title, content string, follow bool, renderFunc func() (string, error)) *pagerModel {
	return &pagerModel{title: title, content: content, follow: follow, renderFunc: renderFunc}
}

func runPager(title, content string, follow bool, renderFunc func() (string, error)) error {
	prog := tea.NewProgram(
		newPagerModel(title, content, follow, renderFunc),
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)
	_, err := prog.Run()
	return err
}

func (m *pagerModel) Init() tea.Cmd {
	if m.follow {
		return tea.Tick(pollInterval, func(time.Time) tea.Msg { return reloadMsg{} })
	}
	return nil
}

func (m *pagerModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case reloadMsg:
		if m.renderFunc != nil {
			if newContent, err := m.renderFunc(); err == nil && newContent != m.content {
				atBottom := m.viewport.AtBottom()
				m.content = newContent
				m.wrappedContent = wrapContent(m.content, m.viewport.Width)
				m.viewport.SetContent(m.wrappedContent)
				if atBottom {
					m.viewport.GotoBottom()
				}
			}
		}
		cmds = append(cmds, tea.Tick(pollInterval, func(time.Time) tea.Msg { return reloadMsg{} }))

	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "g":
			m.viewport.GotoTop()
		case "G", "f":
			m.viewport.GotoBottom()
		}

	case tea.WindowSizeMsg:
		headerHeight, footerHeight := 1, 1
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-headerHeight-footerHeight)
			m.viewport.YPosition = headerHeight
			m.wrappedContent = wrapContent(m.content, msg.Width)
			m.viewport.SetContent(m.wrappedContent)
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - headerHeight - footerHeight
			m.wrappedContent = wrapContent(m.content, msg.Width)
			m.viewport.SetContent(m.wrappedContent)
		}
	}

	m.viewport, cmd = m.viewport.Update(msg)
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *pagerModel) View() string {
	if !m.ready {
		return "\n  Loading..."
	}

	title := pagerTitleStyle.Render(m.title)
	line := strings.Repeat("─", max0(m.viewport.Width-lipgloss.Width(title)))
	header := lipgloss.JoinHorizontal(lipgloss.Center, title, pagerInfoStyle.Render(line))

	percent := 100
	if m.viewport.TotalLineCount() > m.viewport.Height {
		percent = int(float64(m.viewport.YOffset) / float64(m.viewport.TotalLineCount()-m.viewport.Height) * 100)
	}
	info := fmt.Sprintf(" %d%% ", percent)

	help := " q: quit │ g/G: top/bottom"
	if m.follow {
		help = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10")).Render("● LIVE") + help
	}
	footer := pagerHelpStyle.Render(help) +
		pagerInfoStyle.Render(strings.Repeat("─", max0(m.viewport.Width-lipgloss.Width(help)-lipgloss.Width(info)))) +
		pagerInfoStyle.Render(info)

	return header + "\n" + m.viewport.View() + "\n" + footer
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// wrapContent wraps each line to the terminal width, preserving ANSI codes.
func wrapContent(content string, width int) string {
	if width <= 0 {
		return content
	}
	lines := strings.Split(content, "\n")
	var result []string
	for _, line := range lines {
		if lipgloss.Width(line) <= width {
			result = append(result, line)
			continue
		}
		wrapped := wordwrap.String(line, width)
		result = append(result, strings.Split(wrapped, "\n")...)
	}
	return strings.Join(result, "\n")
}
