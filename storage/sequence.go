package storage

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
)

// ProjectSequencePattern matches already-sequenced project names like
// "P3-Interviews". Names matching it are used verbatim on create.
var ProjectSequencePattern = regexp.MustCompile(`^P([0-9]+)(?:-.*)?$`)

// SequencedProjectName returns the next "P{n}-Label" name under root, based
// on the highest existing sequence number. An empty label yields "P{n}".
func SequencedProjectName(root, label string) string {
	next := 1
	if entries, err := os.ReadDir(root); err == nil {
		for _, entry := range entries {
			if !entry.IsDir() {
				continue
			}
			match := ProjectSequencePattern.FindStringSubmatch(entry.Name())
			if match == nil {
				continue
			}
			if n, err := strconv.Atoi(match[1]); err == nil && n >= next {
				next = n + 1
			}
		}
	}
	if label == "" {
		return fmt.Sprintf("P%d", next)
	}
	return fmt.Sprintf("P%d-%s", next, label)
}
