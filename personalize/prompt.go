package personalize

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

const systemPrompt = "You write short, personal B2B outreach emails. You answer with a single JSON object and nothing else."

const validatorSystemPrompt = "You review outreach emails against a checklist. You answer with a single JSON object and nothing else."

func buildPrompt(agent state.Agent, r state.Recipient, lang string, issues []string) string {
	var b strings.Builder

	b.WriteString("### PERSONA\n")
	b.WriteString(strings.TrimSpace(agent.Definition))
	b.WriteString("\n")
	if tone := strings.TrimSpace(agent.Tone); tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", tone)
	}

	b.WriteString("\n### RECIPIENT\n")
	writeField(&b, "Name", r.Name)
	writeField(&b, "Email", r.Email)
	writeField(&b, "Company", r.Company)
	writeField(&b, "Title", r.Title)
	writeField(&b, "Location", r.Location)
	for _, k := range slices.Sorted(maps.Keys(r.Extra)) {
		writeField(&b, k, r.Extra[k])
	}

	fmt.Fprintf(&b, "\n### LANGUAGE\nWrite the entire email in %s.\n", lang)

	b.WriteString("\n### RULES\n")
	b.WriteString("- Subject: [Friction] + [Time moment]. Concrete, no generic marketing language.\n")
	b.WriteString("- Body: exactly 3 short paragraphs separated by one blank line.\n")
	b.WriteString("  1. Greeting and the friction the recipient likely feels.\n")
	b.WriteString("  2. The consequence of leaving it unsolved.\n")
	b.WriteString("  3. A closing question.\n")
	if r.Company != "" {
		fmt.Fprintf(&b, "- Mention %s by name.\n", r.Company)
	}
	b.WriteString("- No signature, no sender name.\n")
	b.WriteString("- The body ends exactly on the question mark.\n")

	if len(issues) > 0 {
		b.WriteString("\n### ISSUES\nA previous draft was rejected. Fix all of these:\n")
		for _, issue := range issues {
			fmt.Fprintf(&b, "- %s\n", issue)
		}
	}

	b.WriteString("\n### OUTPUT\nRespond with JSON: {\"subject\": \"...\", \"content\": \"...\"}\n")
	return b.String()
}

func buildValidationPrompt(d Draft, r state.Recipient, lang string) string {
	var b strings.Builder
	b.WriteString("### DRAFT\n")
	fmt.Fprintf(&b, "Subject: %s\n\n%s\n", d.Subject, d.Content)

	b.WriteString("\n### CHECKLIST\n")
	b.WriteString("1. The subject follows [Friction] + [Time moment] and avoids generic marketing language.\n")
	b.WriteString("2. The body has exactly 3 paragraphs separated by one blank line.\n")
	b.WriteString("3. The body ends exactly on a question mark.\n")
	if r.Company != "" {
		fmt.Fprintf(&b, "4. The email mentions %s.\n", r.Company)
	}
	fmt.Fprintf(&b, "5. The email is written in %s and has no signature.\n", lang)

	b.WriteString("\n### OUTPUT\nRespond with JSON: {\"valid\": true|false, \"issues\": [\"...\"]}\n")
	return b.String()
}

func writeField(b *strings.Builder, label, value string) {
	if v := strings.TrimSpace(value); v != "" {
		fmt.Fprintf(b, "- %s: %s\n", label, v)
	}
}
