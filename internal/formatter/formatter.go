package formatter

import (
	"fmt"
	"strings"

	"github.com/harunnryd/inspect/internal/session"
)

type OutputFormat string

const (
	OutputFormatTable OutputFormat = "table"
	OutputFormatJSON  OutputFormat = "json"
	OutputFormatYAML  OutputFormat = "yaml"
)

// Detail is one session with everything recorded against it.
type Detail struct {
	Session      *session.Session      `json:"session" yaml:"session"`
	Participants []session.Participant `json:"participants" yaml:"participants"`
	Messages     []session.Message     `json:"messages" yaml:"messages"`
	Artifacts    []session.Artifact    `json:"artifacts" yaml:"artifacts"`
}

// scrubbed returns a copy without participant tokens, for encoders that
// ignore json tags.
func (d *Detail) scrubbed() *Detail {
	out := *d
	out.Participants = make([]session.Participant, len(d.Participants))
	for i, p := range d.Participants {
		p.AccessToken = ""
		p.RefreshToken = ""
		out.Participants[i] = p
	}
	return &out
}

type SessionFormatter interface {
	FormatSessions([]session.Session) (string, error)
	FormatSession(*Detail) (string, error)
}

func New(format OutputFormat) (SessionFormatter, error) {
	switch format {
	case OutputFormatTable:
		return NewTableFormatter(), nil
	case OutputFormatJSON:
		return NewJSONFormatter(), nil
	case OutputFormatYAML:
		return NewYAMLFormatter(), nil
	default:
		return nil, fmt.Errorf("unsupported output format: %s (supported: table, json, yaml)", format)
	}
}

func ParseOutputFormat(s string) (OutputFormat, error) {
	format := OutputFormat(strings.ToLower(strings.TrimSpace(s)))
	switch format {
	case OutputFormatTable, OutputFormatJSON, OutputFormatYAML:
		return format, nil
	default:
		return "", fmt.Errorf("invalid output format: %s (supported: table, json, yaml)", s)
	}
}
