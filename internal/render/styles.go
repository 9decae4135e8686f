// internal/render/styles.go
package render

import "github.com/charmbracelet/lipgloss"

var (
	leafGreen   = lipgloss.Color("#8BC34A")
	soilBrown   = lipgloss.Color("#A1887F")
	destructive = lipgloss.Color("#e53935")
	warning     = lipgloss.Color("#FFC107")
	info        = lipgloss.Color("#2196F3")
	muted       = lipgloss.Color("#9E9E9E")
)

type styles struct {
	title     lipgloss.Style
	label     lipgloss.Style
	muted     lipgloss.Style
	question  lipgloss.Style
	finding   lipgloss.Style
	failure   lipgloss.Style
	aiTurn    lipgloss.Style
	userTurn  lipgloss.Style
	statusFor map[string]lipgloss.Style
}

func newStyles(r *lipgloss.Renderer) styles {
	status := func(c lipgloss.Color) lipgloss.Style {
		return r.NewStyle().Foreground(c).Bold(true)
	}
	return styles{
		title:    r.NewStyle().Foreground(leafGreen).Bold(true),
		label:    r.NewStyle().Foreground(soilBrown).Bold(true),
		muted:    r.NewStyle().Foreground(muted),
		question: r.NewStyle().Foreground(info).Bold(true),
		finding: r.NewStyle().
			PaddingLeft(1).
			BorderLeft(true).
			BorderStyle(lipgloss.ThickBorder()).
			BorderForeground(leafGreen),
		failure:  r.NewStyle().Foreground(destructive),
		aiTurn:   r.NewStyle().Foreground(info),
		userTurn: r.NewStyle().Foreground(soilBrown),
		statusFor: map[string]lipgloss.Style{
			"in_progress":        status(info),
			"pending_user_input": status(warning),
			"completed":          status(leafGreen),
			"failed":             status(destructive),
		},
	}
}

func (s styles) status(v string) string {
	if st, ok := s.statusFor[v]; ok {
		return st.Render(v)
	}
	return v
}
