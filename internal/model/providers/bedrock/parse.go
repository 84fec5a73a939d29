//go:build bedrock

package bedrock

import (
	"regexp"
	"strings"

	"github.com/codeforge/orchestrator/internal/model"
)

var fileBlock = regexp.MustCompile(`(?s)---\s*file:\s*(\S+)\s*---\n(.*?)\n---\s*end\s*---`)

func parseFileChanges(text string) []model.FileChange {
	matches := fileBlock.FindAllStringSubmatch(text, -1)
	if matches == nil {
		return nil
	}
	changes := make([]model.FileChange, 0, len(matches))
	for _, m := range matches {
		path := strings.TrimSpace(m[1])
		if path == "" {
			continue
		}
		changes = append(changes, model.FileChange{Path: path, Content: m[2], Type: model.ChangeCreated})
	}
	return changes
}
