package resolve

import (
	"strings"

	"github.com/ovalle/braindump/internal/storage"
)

// MatchOpenTask finds the open task a proposed completion action refers to.
// A candidate matches when its description contains the action's description
// or vice versa, case-insensitively — deliberately permissive so paraphrased
// completions ("ready the BI model" vs "finish BI model for Andina") still
// land. Done tasks never match, so re-submitting the same completion signal
// is a no-op. The first open match in list order is returned.
func MatchOpenTask(description string, tasks []storage.Task) (storage.Task, bool) {
	needle := strings.ToLower(strings.TrimSpace(description))
	if needle == "" {
		return storage.Task{}, false
	}

	for _, t := range tasks {
		if t.IsDone {
			continue
		}
		candidate := strings.ToLower(t.Description)
		if strings.Contains(candidate, needle) || strings.Contains(needle, candidate) {
			return t, true
		}
	}
	return storage.Task{}, false
}
