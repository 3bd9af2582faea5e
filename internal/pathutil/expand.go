package pathutil

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strings"
)

// Expand resolves environment variables and "~/" home shortcuts.
func Expand(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", nil
	}

	expanded := os.ExpandEnv(trimmed)
	if expanded == "~" || strings.HasPrefix(expanded, "~/") {
		home, err := homeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home dir: %w", err)
		}
		expanded = filepath.Join(home, strings.TrimPrefix(strings.TrimPrefix(expanded, "~"), "/"))
	}

	return filepath.Clean(expanded), nil
}

// Within joins elem onto root and fails if the result escapes root.
// Session ids and sandbox names are caller supplied, so they never reach the
// filesystem without passing through here.
func Within(root string, elem ...string) (string, error) {
	base, err := Expand(root)
	if err != nil {
		return "", err
	}
	if base == "" {
		return "", fmt.Errorf("root path is empty")
	}

	for _, e := range elem {
		if strings.TrimSpace(e) == "" {
			return "", fmt.Errorf("empty path element")
		}
	}

	joined := filepath.Join(append([]string{base}, elem...)...)
	rel, err := filepath.Rel(base, joined)
	if err != nil {
		return "", fmt.Errorf("resolve %q under %q: %w", joined, base, err)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes %q", joined, base)
	}
	return joined, nil
}

func homeDir() (string, error) {
	candidates := []func() string{
		func() string {
			h, _ := os.UserHomeDir()
			return h
		},
		func() string {
			if u, err := user.Current(); err == nil {
				return u.HomeDir
			}
			return ""
		},
	}
	for _, c := range candidates {
		if h := strings.TrimSpace(c()); usable(h) {
			return h, nil
		}
	}

	envHome := strings.TrimSpace(os.Getenv("HOME"))
	if envHome == "" {
		return "", fmt.Errorf("HOME is not set")
	}
	if !usable(envHome) {
		return "", fmt.Errorf("HOME is not fully resolved: %s", envHome)
	}
	return envHome, nil
}

func usable(home string) bool {
	return home != "" && home != "~" && !strings.HasPrefix(home, "~/")
}
