package qualify

import (
	"fmt"
	"strings"
	"unicode"
)

// Address is an email split into its lower-cased parts.
type Address struct {
	Raw    string
	Local  string
	Domain string
}

// ParseAddress validates the shape of an email address. It rejects a missing
// or repeated '@', whitespace, commas, consecutive punctuation and
// leading/trailing dots in either part.
func ParseAddress(email string) (Address, error) {
	raw := strings.TrimSpace(email)
	if raw == "" {
		return Address{}, fmt.Errorf("empty address")
	}
	if strings.Count(raw, "@") != 1 {
		return Address{}, fmt.Errorf("address must contain exactly one '@'")
	}
	if strings.ContainsFunc(raw, unicode.IsSpace) || strings.Contains(raw, ",") {
		return Address{}, fmt.Errorf("address contains whitespace or comma")
	}
	at := strings.IndexByte(raw, '@')
	local := strings.ToLower(raw[:at])
	domain := strings.ToLower(raw[at+1:])
	if local == "" || domain == "" {
		return Address{}, fmt.Errorf("address has an empty local part or domain")
	}
	for _, part := range []string{local, domain} {
		if strings.HasPrefix(part, ".") || strings.HasSuffix(part, ".") {
			return Address{}, fmt.Errorf("leading or trailing dot in %q", part)
		}
		if hasConsecutivePunct(part) {
			return Address{}, fmt.Errorf("consecutive punctuation in %q", part)
		}
	}
	if !strings.Contains(domain, ".") {
		return Address{}, fmt.Errorf("domain %q has no dot", domain)
	}
	return Address{Raw: raw, Local: local, Domain: domain}, nil
}

func isPunct(r byte) bool {
	return r == '.' || r == '-' || r == '_'
}

func hasConsecutivePunct(s string) bool {
	for i := 1; i < len(s); i++ {
		if isPunct(s[i]) && isPunct(s[i-1]) {
			return true
		}
	}
	return false
}

// Tokens splits a local part on '.', ',', '-' and '_'.
func Tokens(local string) []string {
	return strings.FieldsFunc(strings.ToLower(local), func(r rune) bool {
		return r == '.' || r == ',' || r == '-' || r == '_'
	})
}

// CheckLexical rejects malformed addresses and role or location addresses.
func CheckLexical(email string, rules *Rules) error {
	addr, err := ParseAddress(email)
	if err != nil {
		return reject(StageLexical, "malformed address: "+err.Error())
	}
	if p, ok := rules.blockedPrefix(addr.Local); ok {
		return reject(StageLexical, fmt.Sprintf("generic address (prefix %q)", p))
	}
	tokens := Tokens(addr.Local)
	if w, ok := rules.genericToken(tokens); ok {
		return reject(StageLexical, fmt.Sprintf("generic address (word %q)", w))
	}
	if w, ok := rules.locationToken(tokens); ok {
		return reject(StageLexical, fmt.Sprintf("location in address (%q)", w))
	}
	return nil
}
