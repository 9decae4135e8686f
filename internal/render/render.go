// internal/render/render.go
package render

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/signalnine/leafdoc/internal/protocol"
)

// Format selects how results are written
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --output value
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(s)); f {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON, FormatYAML:
		return f, nil
	}
	return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", s)
}

// Printer writes diagnoses and plants in one format
type Printer struct {
	w      io.Writer
	format Format
	st     styles
}

// NewPrinter creates a printer for w. Colors are only emitted when w is a terminal.
func NewPrinter(w io.Writer, format Format) *Printer {
	return &Printer{w: w, format: format, st: newStyles(lipgloss.NewRenderer(w))}
}

// View prints the outcome of a Start or Resume
func (p *Printer) View(v *protocol.SessionView) error {
	if p.format != FormatText {
		return p.encode(v)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.st.label.Render("Session"), v.SessionID)
	fmt.Fprintf(&b, "%s  %s\n", p.st.label.Render("Status"), p.st.status(string(v.Status)))
	switch v.Status {
	case protocol.StatusPendingUserInput:
		fmt.Fprintf(&b, "\n%s\n", p.st.question.Render(v.Question))
		fmt.Fprintf(&b, "%s\n", p.st.muted.Render("reply with: leafdoc reply "+v.SessionID+" <answer>"))
	case protocol.StatusCompleted:
		b.WriteString("\n" + p.outcome(v.Finding, v.Recommendation) + "\n")
	case protocol.StatusFailed:
		b.WriteString("\n" + p.failure(v.Failure) + "\n")
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Session prints a full transcript
func (p *Printer) Session(s *protocol.Session) error {
	if p.format != FormatText {
		return p.encode(s)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s\n", p.st.title.Render(s.Problem))
	fmt.Fprintf(&b, "%s %s   %s %s   %s %s\n",
		p.st.label.Render("Session"), s.ID,
		p.st.label.Render("Plant"), s.PlantID,
		p.st.label.Render("Status"), p.st.status(string(s.Status)))
	fmt.Fprintf(&b, "%s\n", p.st.muted.Render("started "+s.CreatedAt.Format(time.DateTime)))

	if len(s.Turns) > 0 {
		b.WriteString("\n")
		for _, t := range s.Turns {
			switch t.Role {
			case protocol.RoleAI:
				fmt.Fprintf(&b, "%s %s\n", p.st.aiTurn.Render("leafdoc:"), t.Text)
			default:
				fmt.Fprintf(&b, "%s     %s\n", p.st.userTurn.Render("you:"), t.Text)
			}
		}
	}
	if len(s.Hypotheses) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.st.label.Render("Notes"))
		for _, h := range s.Hypotheses {
			fmt.Fprintf(&b, "  %s = %s\n", h.Key, h.Value)
		}
	}
	if len(s.Vitals) > 0 {
		fmt.Fprintf(&b, "\n%s\n", p.st.label.Render("Vitals checked"))
		for _, v := range s.Vitals {
			reason := v.Reason
			if reason == "" {
				reason = "no reason given"
			}
			fmt.Fprintf(&b, "  %s %s\n", v.Vitals.Name, p.st.muted.Render("("+reason+")"))
		}
	}
	switch s.Status {
	case protocol.StatusCompleted:
		b.WriteString("\n" + p.outcome(s.Finding, s.Recommendation) + "\n")
	case protocol.StatusFailed:
		b.WriteString("\n" + p.failure(s.Failure) + "\n")
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Summaries prints a plant's diagnosis history
func (p *Printer) Summaries(list []protocol.SessionSummary) error {
	if p.format != FormatText {
		if list == nil {
			list = []protocol.SessionSummary{}
		}
		return p.encode(list)
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(p.w, p.st.muted.Render("No diagnoses yet."))
		return err
	}
	var b strings.Builder
	for _, s := range list {
		fmt.Fprintf(&b, "%s  %s  %s\n",
			p.st.muted.Render(s.CreatedAt.Format(time.DateTime)),
			p.st.status(string(s.Status)),
			s.Problem)
		switch {
		case s.Finding != "":
			fmt.Fprintf(&b, "    %s %s\n", p.st.label.Render("finding:"), s.Finding)
		case s.Failure != nil:
			fmt.Fprintf(&b, "    %s\n", p.st.failure.Render(string(s.Failure.Kind)))
		}
		fmt.Fprintf(&b, "    %s\n", p.st.muted.Render(fmt.Sprintf("%s, %d turns", s.ID, s.Turns)))
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Plant prints one plant with its care schedule
func (p *Printer) Plant(pl *protocol.Plant) error {
	if p.format != FormatText {
		return p.encode(pl)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", p.st.title.Render(pl.Name), p.st.muted.Render(pl.ID))
	fmt.Fprintf(&b, "  %s %s\n", p.st.label.Render("Light:      "), pl.Care.Light)
	fmt.Fprintf(&b, "  %s %s\n", p.st.label.Render("Water:      "), pl.Care.Water)
	fmt.Fprintf(&b, "  %s %s\n", p.st.label.Render("Humidity:   "), pl.Care.Humidity)
	fmt.Fprintf(&b, "  %s %s\n", p.st.label.Render("Temperature:"), pl.Care.Temperature)
	if pl.Care.Instructions != "" {
		fmt.Fprintf(&b, "  %s %s\n", p.st.label.Render("Notes:      "), pl.Care.Instructions)
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Plants prints a plant list
func (p *Printer) Plants(list []*protocol.Plant) error {
	if p.format != FormatText {
		if list == nil {
			list = []*protocol.Plant{}
		}
		return p.encode(list)
	}
	if len(list) == 0 {
		_, err := fmt.Fprintln(p.w, p.st.muted.Render("No plants yet. Add one with: leafdoc plant add --name <name>"))
		return err
	}
	var b strings.Builder
	for _, pl := range list {
		fmt.Fprintf(&b, "%s  %s\n", p.st.muted.Render(pl.ID), p.st.title.Render(pl.Name))
	}
	_, err := io.WriteString(p.w, b.String())
	return err
}

func (p *Printer) outcome(finding, recommendation string) string {
	body := p.st.label.Render("Finding") + "\n" + finding + "\n\n" +
		p.st.label.Render("Recommendation") + "\n" + recommendation
	return p.st.finding.Render(body)
}

func (p *Printer) failure(f *protocol.Failure) string {
	if f == nil {
		return p.st.failure.Render("diagnosis failed")
	}
	return p.st.failure.Render(fmt.Sprintf("diagnosis failed (%s): %s", f.Kind, f.Reason))
}

func (p *Printer) encode(v any) error {
	switch p.format {
	case FormatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
}
