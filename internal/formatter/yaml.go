package formatter

import (
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/harunnryd/inspect/internal/session"
)

type YAMLFormatter struct{}

func NewYAMLFormatter() *YAMLFormatter {
	return &YAMLFormatter{}
}

func (f *YAMLFormatter) FormatSessions(sessions []session.Session) (string, error) {
	data, err := yaml.Marshal(sessions)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func (f *YAMLFormatter) FormatSession(d *Detail) (string, error) {
	if d == nil {
		return "null", nil
	}
	data, err := yaml.Marshal(d.scrubbed())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}
