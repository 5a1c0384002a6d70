package personalize

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

var languageHints = []struct {
	tag       language.Tag
	locations []string
	suffixes  []string
}{
	{language.German, []string{"germany", "deutschland"}, []string{".de", ".at"}},
	{language.Dutch, []string{"netherlands", "nederland"}, []string{".nl"}},
	{language.French, []string{"france"}, []string{".fr"}},
}

// DetectLanguage picks the outreach language from the recipient's location
// and the email's top-level domain, falling back to fallback (English when
// fallback is undetermined).
func DetectLanguage(r state.Recipient, fallback language.Tag) language.Tag {
	loc := strings.ToLower(r.Location)
	email := strings.ToLower(strings.TrimSpace(r.Email))
	for _, h := range languageHints {
		for _, l := range h.locations {
			if strings.Contains(loc, l) {
				return h.tag
			}
		}
		for _, s := range h.suffixes {
			if strings.HasSuffix(email, s) {
				return h.tag
			}
		}
	}
	if fallback == language.Und {
		return language.English
	}
	return fallback
}

// ParseHint parses an agent's language hint such as "nl" or "Dutch".
func ParseHint(hint string) language.Tag {
	hint = strings.TrimSpace(hint)
	if hint == "" {
		return language.Und
	}
	if tag, err := language.Parse(hint); err == nil {
		return tag
	}
	for _, tag := range []language.Tag{language.English, language.German, language.Dutch, language.French} {
		if strings.EqualFold(LanguageName(tag), hint) {
			return tag
		}
	}
	return language.Und
}

// LanguageName is the English display name of tag, e.g. "Dutch".
func LanguageName(tag language.Tag) string {
	return display.English.Tags().Name(tag)
}
