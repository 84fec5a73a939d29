package openai

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/codeforge/orchestrator/internal/model"
)

// fileBlock matches fenced blocks of the form:
//
//	--- file: path/to/File.ext ---
//	<content>
//	--- end ---
//
// the simple wire contract this adapter asks the model to honor, so parsing
// stays regex-based rather than requiring a structured-output mode that not
// every OpenAI-compatible endpoint supports.
var fileBlock = regexp.MustCompile(`(?s)---\s*file:\s*(\S+)\s*---\n(.*?)\n---\s*end\s*---`)

// ParseFileChanges extracts FileChanges from a completion's raw text.
func ParseFileChanges(text string) []model.FileChange {
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
		changes = append(changes, model.FileChange{
			Path:    path,
			Content: m[2],
			Type:    model.ChangeCreated,
		})
	}
	return changes
}

var (
	scoreLine = regexp.MustCompile(`(?i)score:\s*([0-9]+(?:\.[0-9]+)?)`)
	issueLine = regexp.MustCompile(`(?i)issue:\s*(info|warning|error|critical)\s*:\s*(.+)`)
)

// ParseValidationFeedback extracts a score and issue list from a
// completion's raw text per the "Score: N" / "Issue: severity: message"
// wire contract buildValidatePrompt asks the model to honor.
func ParseValidationFeedback(text string) model.ValidationFeedback {
	var feedback model.ValidationFeedback
	if m := scoreLine.FindStringSubmatch(text); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			feedback.Score = f
		}
	}
	for _, m := range issueLine.FindAllStringSubmatch(text, -1) {
		feedback.Issues = append(feedback.Issues, model.Issue{
			Severity: model.Severity(strings.ToLower(m[1])),
			Message:  strings.TrimSpace(m[2]),
		})
	}
	feedback.Summary = text
	return feedback
}
