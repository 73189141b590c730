package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasmonkey/patcher"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1)

	funcStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#98FB98"))

	importStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func renderSummary(output string, r patcher.Report) string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("wasmonkey"))
	b.WriteString(" ")
	b.WriteString(output)
	b.WriteString("\n")

	if len(r.Substitutions) == 0 {
		b.WriteString(helpStyle.Render(fmt.Sprintf("no builtins substituted (%d candidates)", r.Candidates)))
		b.WriteString("\n")
		return b.String()
	}

	b.WriteString(helpStyle.Render(fmt.Sprintf("%d of %d candidates substituted", len(r.Substitutions), r.Candidates)))
	b.WriteString("\n")
	for _, s := range r.Substitutions {
		fmt.Fprintf(&b, "  %s → %s  %s\n",
			funcStyle.Render(s.Name),
			importStyle.Render("env."+s.Import),
			helpStyle.Render(fmt.Sprintf("func %d, body %d → %d", s.ImportIndex, s.OriginalIndex, s.BodyIndex)))
	}
	return b.String()
}
