package formatter

import (
	"encoding/json"

	"github.com/harunnryd/inspect/internal/session"
)

type JSONFormatter struct{}

func NewJSONFormatter() *JSONFormatter {
	return &JSONFormatter{}
}

func (f *JSONFormatter) FormatSessions(sessions []session.Session) (string, error) {
	if sessions == nil {
		sessions = []session.Session{}
	}
	data, err := json.MarshalIndent(sessions, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (f *JSONFormatter) FormatSession(d *Detail) (string, error) {
	if d == nil {
		return "null", nil
	}
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
