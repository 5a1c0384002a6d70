package qualify

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseRuleSet_MergesOntoDefaults(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`
blockedPrefixes:
  - "hr."
corporateDomains:
  - "example-hotels.com"
`))
	if err != nil {
		t.Fatalf("ParseRuleSet failed: %v", err)
	}
	rules := rs.Compile()

	if err := CheckLexical("hr.team@example.org", rules); err == nil {
		t.Fatalf("expected merged prefix to block")
	}
	if err := CheckLexical("info.desk@example.org", rules); err == nil {
		t.Fatalf("expected default prefix to still block")
	}
	if !rules.IsTrusted("example-hotels.com") || !rules.IsTrusted("marriott.com") {
		t.Fatalf("expected merged and default corporate domains to be trusted")
	}
	if rules.Weights() != DefaultWeights() {
		t.Fatalf("expected default weights, got %#v", rules.Weights())
	}
}

func TestParseRuleSet_Replace(t *testing.T) {
	rs, err := ParseRuleSet([]byte(`
replace: true
blockedPrefixes: ["noreply."]
weights:
  badPrefix: -90
`))
	if err != nil {
		t.Fatalf("ParseRuleSet failed: %v", err)
	}
	rules := rs.Compile()

	if err := CheckLexical("info.desk@example.org", rules); err != nil {
		t.Fatalf("replaced rule set should not block info.: %v", err)
	}
	if rules.IsTrusted("marriott.com") {
		t.Fatalf("replaced rule set should drop default domains")
	}
	if got := Score("noreply.bot@example.org", rules).Score; got != 10 {
		t.Fatalf("expected score 10 with custom weight, got %d", got)
	}
}

func TestLoadRuleSet_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	if err := os.WriteFile(path, []byte("titleWords: [\"ceo\"]\n"), 0o600); err != nil {
		t.Fatalf("write rules: %v", err)
	}
	rs, err := LoadRuleSet(path)
	if err != nil {
		t.Fatalf("LoadRuleSet failed: %v", err)
	}
	res := Score("ceo.office@example.org", rs.Compile())
	if res.Score != 65 {
		t.Fatalf("expected title penalty to apply, got %d (%v)", res.Score, res.Issues)
	}

	if _, err := LoadRuleSet(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
}
