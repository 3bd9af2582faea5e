package session

import (
	"fmt"
	"time"
)

type ArtifactKind string

const (
	ArtifactBranch     ArtifactKind = "branch"
	ArtifactPR         ArtifactKind = "pr"
	ArtifactScreenshot ArtifactKind = "screenshot"
	ArtifactPreview    ArtifactKind = "preview"
)

func ParseArtifactKind(s string) (ArtifactKind, error) {
	switch k := ArtifactKind(s); k {
	case ArtifactBranch, ArtifactPR, ArtifactScreenshot, ArtifactPreview:
		return k, nil
	default:
		return "", fmt.Errorf("unknown artifact kind %q", s)
	}
}

// Artifact records an externally visible output of a session. Artifacts are
// append-only and written after the side effect they describe.
type Artifact struct {
	ID        string            `json:"id"`
	SessionID string            `json:"session_id"`
	Kind      ArtifactKind      `json:"kind"`
	URL       string            `json:"url"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// HasPullRequest reports whether artifacts contain a pr artifact.
func HasPullRequest(artifacts []Artifact) bool {
	for _, a := range artifacts {
		if a.Kind == ArtifactPR {
			return true
		}
	}
	return false
}
