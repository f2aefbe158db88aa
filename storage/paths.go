package storage

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var projectNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ValidateProjectName checks that a project name is safe for filesystem use.
// The same rules apply to source names.
func ValidateProjectName(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("project name cannot be empty")
	}
	if !projectNamePattern.MatchString(name) {
		return "", fmt.Errorf("project name may only contain letters, numbers, dots, underscores, and hyphens")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("project name cannot contain path traversal sequences")
	}
	return name, nil
}

// ValidateFilename rejects filenames carrying path separators or traversal
// sequences outright. Nothing is sanitized; the caller must fix the request.
func ValidateFilename(name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("filename cannot be empty")
	}
	if strings.ContainsAny(name, "/\\") {
		return "", fmt.Errorf("filename cannot contain path separators")
	}
	if strings.Contains(name, "..") {
		return "", fmt.Errorf("filename cannot contain traversal sequences")
	}
	if name == "." {
		return "", fmt.Errorf("filename cannot be '.'")
	}
	return name, nil
}

// ValidateRelativePath checks that a client-supplied relative path stays
// inside the project when joined to its root. Returns the slash-separated
// cleaned path.
func ValidateRelativePath(rel string) (string, error) {
	if rel == "" {
		return "", fmt.Errorf("relative path cannot be empty")
	}
	slashed := filepath.ToSlash(rel)
	if strings.HasPrefix(slashed, "/") {
		return "", fmt.Errorf("relative path cannot be absolute")
	}
	cleaned := filepath.ToSlash(filepath.Clean(slashed))
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") || strings.Contains(cleaned, "/../") {
		return "", fmt.Errorf("relative path cannot traverse outside the project")
	}
	if cleaned == "." {
		return "", fmt.Errorf("relative path cannot be empty")
	}
	return cleaned, nil
}

// WithinRoot reports whether candidate (already absolute and cleaned) stays
// under root.
func WithinRoot(root, candidate string) bool {
	root = filepath.Clean(root)
	candidate = filepath.Clean(candidate)
	if candidate == root {
		return true
	}
	return strings.HasPrefix(candidate, root+string(filepath.Separator))
}

// RelPosix returns the slash-separated path of target relative to base.
func RelPosix(base, target string) (string, error) {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", fmt.Errorf("failed to compute relative path of %s under %s: %w", target, base, err)
	}
	return filepath.ToSlash(rel), nil
}
