package formatter

import (
	"strings"
	"time"

	"github.com/harunnryd/inspect/internal/session"

	"charm.land/lipgloss/v2"
	"charm.land/lipgloss/v2/table"
)

type TableFormatter struct {
	headerStyle  lipgloss.Style
	cellStyle    lipgloss.Style
	oddRowStyle  lipgloss.Style
	evenRowStyle lipgloss.Style
	borderStyle  lipgloss.Style
	sectionStyle lipgloss.Style
}

func NewTableFormatter() *TableFormatter {
	purple := lipgloss.Color("99")
	gray := lipgloss.Color("245")
	lightGray := lipgloss.Color("241")

	return &TableFormatter{
		headerStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true).
			Align(lipgloss.Center).
			Padding(0, 1),
		cellStyle: lipgloss.NewStyle().
			Padding(0, 1),
		oddRowStyle: lipgloss.NewStyle().
			Foreground(gray).
			Padding(0, 1),
		evenRowStyle: lipgloss.NewStyle().
			Foreground(lightGray).
			Padding(0, 1),
		borderStyle: lipgloss.NewStyle().
			Foreground(purple),
		sectionStyle: lipgloss.NewStyle().
			Foreground(purple).
			Bold(true),
	}
}

func (f *TableFormatter) grid(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			switch {
			case row == table.HeaderRow:
				return f.headerStyle
			case row%2 == 0:
				return f.evenRowStyle
			default:
				return f.oddRowStyle
			}
		}).
		Headers(headers...)
}

func (f *TableFormatter) FormatSessions(sessions []session.Session) (string, error) {
	if len(sessions) == 0 {
		return "No sessions found", nil
	}

	t := f.grid("ID", "Title", "Repository", "Status", "Updated")
	for _, s := range sessions {
		t.Row(
			s.ID,
			truncateString(s.Title, 30),
			repoLabel(s.Repository),
			string(s.Status),
			formatTime(s.UpdatedAt),
		)
	}
	return t.String(), nil
}

func (f *TableFormatter) FormatSession(d *Detail) (string, error) {
	if d == nil || d.Session == nil {
		return "No session found", nil
	}
	s := d.Session

	summary := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(f.borderStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if col == 0 {
				return f.headerStyle
			}
			return f.cellStyle
		})
	summary.Row("ID", s.ID)
	summary.Row("Title", s.Title)
	summary.Row("Status", string(s.Status))
	summary.Row("Repository", repoLabel(s.Repository))
	summary.Row("Default branch", s.Repository.DefaultBranch)
	summary.Row("Created", formatTime(s.CreatedAt))

	sections := []string{summary.String()}

	if len(d.Participants) > 0 {
		t := f.grid("Participant", "User", "Login", "Token expires")
		for _, p := range d.Participants {
			t.Row(p.ID, p.UserID, p.ProviderLogin, formatTime(p.TokenExpiresAt))
		}
		sections = append(sections, f.sectionStyle.Render("Participants"), t.String())
	}

	if len(d.Messages) > 0 {
		t := f.grid("Message", "Author", "Status", "Content")
		for _, m := range d.Messages {
			t.Row(m.ID, m.AuthorID, string(m.Status), truncateString(m.Content, 40))
		}
		sections = append(sections, f.sectionStyle.Render("Messages"), t.String())
	}

	if len(d.Artifacts) > 0 {
		t := f.grid("Kind", "URL", "Created")
		for _, a := range d.Artifacts {
			t.Row(string(a.Kind), a.URL, formatTime(a.CreatedAt))
		}
		sections = append(sections, f.sectionStyle.Render("Artifacts"), t.String())
	}

	return strings.Join(sections, "\n"), nil
}

func repoLabel(r session.RepoBinding) string {
	if r.Owner == "" && r.Name == "" {
		return "-"
	}
	label := r.Owner + "/" + r.Name
	if r.Provider != "" {
		label = r.Provider + ":" + label
	}
	return label
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Local().Format(time.DateTime)
}

func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
