package main

import "github.com/charmbracelet/lipgloss"

// Color palette mirrors the teacher's replay tool: gray metadata, white
// values, blue assistant text, orange tool calls and results, cyan context
// events, green/red for terminal state.
var (
	dimStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("15"))

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("12"))

	toolCallStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	toolResultStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("208"))

	contextStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("14"))

	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("10"))

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("9"))

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("11"))

	seqStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("8")).
			Width(5).
			Align(lipgloss.Right)

	divider = lipgloss.NewStyle().
		Foreground(lipgloss.Color("8")).
		Render("────────────────────────────────────────────────────────────")
)
