package handlers

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"newsrec/internal/core"
)

var (
	colorAccent = lipgloss.Color("#7C3AED")
	colorMuted  = lipgloss.Color("#6B7280")
	colorGreen  = lipgloss.Color("#10B981")

	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(colorAccent)
	titleStyle   = lipgloss.NewStyle().Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(colorMuted)
	successStyle = lipgloss.NewStyle().Foreground(colorGreen)
	reasonStyle  = lipgloss.NewStyle().Italic(true).PaddingLeft(4)
	metaStyle    = lipgloss.NewStyle().Foreground(colorMuted).PaddingLeft(4)
)

// renderRecommendations formats recs as a numbered list. Discovery picks are
// marked by their filler explanation.
func renderRecommendations(userID string, recs core.Recommendations, discovery string) string {
	var b strings.Builder

	b.WriteString(headerStyle.Render(fmt.Sprintf("Recommendations for %s", userID)))
	b.WriteString("\n\n")

	if recs.Len() == 0 {
		b.WriteString(mutedStyle.Render("No articles available. Try 'newsrec refresh --force'."))
		b.WriteString("\n")
		return b.String()
	}

	for i := 0; i < recs.Len(); i++ {
		fmt.Fprintf(&b, "%2d. %s\n", i+1, titleStyle.Render(recs.Title[i]))
		b.WriteString(metaStyle.Render(fmt.Sprintf("%s · %s", recs.Domain[i], recs.Published[i])))
		b.WriteString("\n")
		b.WriteString(metaStyle.Render(recs.Link[i]))
		b.WriteString("\n")
		if recs.Explanation[i] == discovery {
			b.WriteString(reasonStyle.Foreground(colorMuted).Render("(discovery)"))
		} else {
			b.WriteString(reasonStyle.Render(recs.Explanation[i]))
		}
		b.WriteString("\n\n")
	}
	return b.String()
}
