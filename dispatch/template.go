package dispatch

import (
	"fmt"
	"html"
	"strings"

	"github.com/mbleigh/raymond"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

// TemplateData is the handlebars context for a recipient. Extra fields are
// available under their own names unless they collide with a core field.
func TemplateData(r state.Recipient) map[string]any {
	data := make(map[string]any, len(r.Extra)+7)
	for k, v := range r.Extra {
		data[k] = v
	}
	first, last, _ := strings.Cut(strings.TrimSpace(r.Name), " ")
	data["name"] = r.Name
	data["firstName"] = first
	data["lastName"] = strings.TrimSpace(last)
	data["email"] = r.Email
	data["company"] = r.Company
	data["title"] = r.Title
	data["location"] = r.Location
	return data
}

// RenderTemplate renders the campaign template for r. The body is HTML and
// interpolated values are escaped; the subject is returned unescaped.
func RenderTemplate(tpl state.Template, r state.Recipient) (subject, body string, err error) {
	data := TemplateData(r)
	subject, err = render(tpl.Subject, data)
	if err != nil {
		return "", "", fmt.Errorf("render subject: %w", err)
	}
	body, err = render(tpl.Content, data)
	if err != nil {
		return "", "", fmt.Errorf("render content: %w", err)
	}
	return strings.TrimSpace(html.UnescapeString(subject)), body, nil
}

func render(source string, data map[string]any) (string, error) {
	if !strings.Contains(source, "{{") {
		return source, nil
	}
	tpl, err := raymond.Parse(source)
	if err != nil {
		return "", err
	}
	return tpl.Exec(data)
}
