package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/gyakuten/llmoradar/internal/domain"
)

var (
	colorGood   = lipgloss.Color("#00ff41")
	colorWarn   = lipgloss.Color("#ffb000")
	colorBad    = lipgloss.Color("#ff3333")
	colorMuted  = lipgloss.Color("#707070")
	colorBorder = lipgloss.Color("#1a3a1a")

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.NormalBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorGood).
			Bold(true)

	mutedStyle = lipgloss.NewStyle().Foreground(colorMuted)
	labelStyle = lipgloss.NewStyle().Width(22)
)

func scoreColor(score, max int) lipgloss.Color {
	if max <= 0 {
		return colorMuted
	}
	ratio := float64(score) / float64(max)
	switch {
	case ratio >= 0.8:
		return colorGood
	case ratio >= 0.5:
		return colorWarn
	default:
		return colorBad
	}
}

func bar(score, max, width int) string {
	if max <= 0 {
		return strings.Repeat("░", width)
	}
	filled := score * width / max
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

// RenderConsoleReport formats a result for a terminal.
func RenderConsoleReport(res *domain.SiteAnalysisResult, verbose bool) string {
	var b strings.Builder

	overall := lipgloss.NewStyle().Foreground(scoreColor(res.OverallScore, 100)).Bold(true).
		Render(fmt.Sprintf("%d / 100  (%s)", res.OverallScore, res.Grade()))
	b.WriteString(headerStyle.Render("LLMO diagnosis") + "  " + mutedStyle.Render(res.URL) + "\n")
	b.WriteString("Overall  " + overall + "\n")
	if res.Fallback {
		b.WriteString(lipgloss.NewStyle().Foreground(colorBad).Render("Fallback result: "+res.FailureReason) + "\n")
	}
	b.WriteString("\n")

	for _, c := range res.Categories {
		style := lipgloss.NewStyle().Foreground(scoreColor(c.Score, c.MaxScore))
		fmt.Fprintf(&b, "%s %s %s\n",
			labelStyle.Render(c.Category.Label()),
			style.Render(bar(c.Score, c.MaxScore, 20)),
			style.Render(fmt.Sprintf("%2d/%d", c.Score, c.MaxScore)))
		if verbose {
			for _, chk := range c.Checks {
				line := fmt.Sprintf("    %-20s %2d/%-2d %s", chk.ID, chk.Score, chk.MaxScore, chk.Detail)
				b.WriteString(mutedStyle.Render(line) + "\n")
			}
		}
	}

	if len(res.Recommendations) > 0 {
		var recs strings.Builder
		for i, r := range res.Recommendations {
			fmt.Fprintf(&recs, "%d. %s\n", i+1, r)
		}
		b.WriteString("\n" + boxStyle.Render(headerStyle.Render("Recommendations")+"\n"+strings.TrimRight(recs.String(), "\n")) + "\n")
	}
	return b.String()
}

func WriteConsoleReport(w io.Writer, res *domain.SiteAnalysisResult, verbose bool) error {
	_, err := io.WriteString(w, RenderConsoleReport(res, verbose))
	return err
}
