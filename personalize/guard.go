package personalize

import (
	"regexp"
	"strings"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

const paragraphCount = 3

var paragraphBreak = regexp.MustCompile(`\n\s*\n`)

// Paragraphs splits content on blank lines, dropping empty chunks.
func Paragraphs(content string) []string {
	var out []string
	for _, p := range paragraphBreak.Split(strings.TrimSpace(content), -1) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// checkDraft applies the checklist items that do not need a model.
func checkDraft(d Draft, r state.Recipient) []string {
	var issues []string
	if strings.TrimSpace(d.Subject) == "" {
		issues = append(issues, "subject is empty")
	}
	content := strings.TrimSpace(d.Content)
	if !strings.HasSuffix(content, "?") {
		issues = append(issues, "body must end exactly on a question mark")
	}
	if n := len(Paragraphs(content)); n != paragraphCount {
		issues = append(issues, "body must have exactly 3 paragraphs separated by a blank line")
	}
	if company := strings.TrimSpace(r.Company); company != "" {
		needle := strings.ToLower(company)
		if !strings.Contains(strings.ToLower(d.Subject+"\n"+content), needle) {
			issues = append(issues, "email must mention "+company)
		}
	}
	return issues
}
