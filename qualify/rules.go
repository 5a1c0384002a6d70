package qualify

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/goccy/go-yaml"
)

// Weights are the scorer's penalties (negative) and bonuses (positive).
type Weights struct {
	BadPrefix       int `yaml:"badPrefix"`
	BadSuffix       int `yaml:"badSuffix"`
	Location        int `yaml:"location"`
	GenericMailbox  int `yaml:"genericMailbox"`
	TitleInAddress  int `yaml:"titleInAddress"`
	InvalidFormat   int `yaml:"invalidFormat"`
	StandardFormat  int `yaml:"standardFormat"`
	CorporateDomain int `yaml:"corporateDomain"`
}

// RuleSet is the rule table shared by the lexical check and the scorer.
type RuleSet struct {
	// Replace discards the defaults instead of merging onto them when loaded from YAML.
	Replace bool `yaml:"replace"`

	BlockedPrefixes  []string `yaml:"blockedPrefixes"`
	GenericWords     []string `yaml:"genericWords"`
	LocationWords    []string `yaml:"locationWords"`
	TitleWords       []string `yaml:"titleWords"`
	BadSuffixes      []string `yaml:"badSuffixes"`
	GenericMailboxes []string `yaml:"genericMailboxes"`
	TrustedDomains   []string `yaml:"trustedDomains"`
	CorporateDomains []string `yaml:"corporateDomains"`

	Weights *Weights `yaml:"weights"`
}

func DefaultWeights() Weights {
	return Weights{
		BadPrefix:       -40,
		BadSuffix:       -30,
		Location:        -50,
		GenericMailbox:  -20,
		TitleInAddress:  -35,
		InvalidFormat:   -50,
		StandardFormat:  10,
		CorporateDomain: 5,
	}
}

func DefaultRuleSet() RuleSet {
	w := DefaultWeights()
	return RuleSet{
		BlockedPrefixes: []string{
			"general.", "info.", "contact.", "manager.", "sales.", "marketing.", "reservations.", "front.",
			"director.", "hotel.", "hospitality.", "ervaren.", "seasoned.", "cluster.", "founder.", "vice.",
			"senior.", "people-centric.", "commercial.", "brand.", "high.", "experience.", "restaurant.",
			"assistent.", "nh.", "mercure.", "avani.", "accountmanager.", "gm.",
		},
		GenericWords: []string{
			"general", "info", "contact", "manager", "sales", "marketing", "hotel", "reservations",
			"reservatie", "receptie", "booking", "frontdesk", "guest",
		},
		LocationWords: []string{
			"hannover", "hamburg", "berlin", "paris", "amsterdam", "bruxelles", "munchen", "frankfurt", "vienna",
			"nederland", "duitsland", "belgie", "zwitserland", "frankrijk", "armenie", "tunesie", "jordanie",
			"italie", "italië", "spanje", "area", "metropolitan",
		},
		TitleWords: []string{
			"general", "manager", "director", "hospitality", "cluster", "founder", "senior", "commercial", "experience",
		},
		BadSuffixes:      []string{".mba", ".rm", ".rt", ".phd", ".msc"},
		GenericMailboxes: []string{"info", "contact", "hotel", "sales", "reception", "reservations"},
		TrustedDomains: []string{
			"gmail.com", "googlemail.com", "outlook.com", "hotmail.com", "live.com", "yahoo.com", "icloud.com",
		},
		CorporateDomains: []string{
			"marriott.com", "hilton.com", "accor.com", "ihg.com", "hyatt.com", "radissonhotels.com", "vfrb.nl",
			"westcordhotels.nl", "postillionhotels.com", "bilderberg.nl", "fletcher.nl", "carlton.nl",
			"nh-hotels.com", "steigenberger.com", "riu.com", "barcelo.com", "martinshotels.com", "motel-one.com",
			"edenhotels.nl", "hampshire-hotels.com", "corendonhotels.com", "bestwestern.com", "dorint.com",
			"wyndham.com", "louvrehotels.com",
		},
		Weights: &w,
	}
}

// LoadRuleSet reads a YAML rule table and merges it onto the defaults
// unless the file sets replace: true.
func LoadRuleSet(path string) (RuleSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return RuleSet{}, fmt.Errorf("read rule set: %w", err)
	}
	return ParseRuleSet(raw)
}

func ParseRuleSet(raw []byte) (RuleSet, error) {
	var loaded RuleSet
	if err := yaml.Unmarshal(raw, &loaded); err != nil {
		return RuleSet{}, fmt.Errorf("parse rule set: %w", err)
	}
	if loaded.Replace {
		if loaded.Weights == nil {
			w := DefaultWeights()
			loaded.Weights = &w
		}
		return loaded, nil
	}
	return DefaultRuleSet().Merge(loaded), nil
}

// Merge appends other's entries onto r. Weights in other replace r's.
func (r RuleSet) Merge(other RuleSet) RuleSet {
	out := RuleSet{
		BlockedPrefixes:  union(r.BlockedPrefixes, other.BlockedPrefixes),
		GenericWords:     union(r.GenericWords, other.GenericWords),
		LocationWords:    union(r.LocationWords, other.LocationWords),
		TitleWords:       union(r.TitleWords, other.TitleWords),
		BadSuffixes:      union(r.BadSuffixes, other.BadSuffixes),
		GenericMailboxes: union(r.GenericMailboxes, other.GenericMailboxes),
		TrustedDomains:   union(r.TrustedDomains, other.TrustedDomains),
		CorporateDomains: union(r.CorporateDomains, other.CorporateDomains),
		Weights:          r.Weights,
	}
	if other.Weights != nil {
		out.Weights = other.Weights
	}
	return out
}

// Rules is the compiled, lookup-friendly form of a RuleSet. Safe for concurrent use.
type Rules struct {
	blockedPrefixes  []string
	genericWords     map[string]struct{}
	locationWords    map[string]struct{}
	titleWords       []string
	badSuffixes      []string
	genericMailboxes map[string]struct{}
	trustedDomains   map[string]struct{}
	corporateDomains map[string]struct{}
	weights          Weights
}

func (r RuleSet) Compile() *Rules {
	w := DefaultWeights()
	if r.Weights != nil {
		w = *r.Weights
	}
	return &Rules{
		blockedPrefixes:  normalizeList(r.BlockedPrefixes),
		genericWords:     toSet(r.GenericWords),
		locationWords:    toSet(r.LocationWords),
		titleWords:       normalizeList(r.TitleWords),
		badSuffixes:      normalizeList(r.BadSuffixes),
		genericMailboxes: toSet(r.GenericMailboxes),
		trustedDomains:   toSet(r.TrustedDomains),
		corporateDomains: toSet(r.CorporateDomains),
		weights:          w,
	}
}

func DefaultRules() *Rules {
	return DefaultRuleSet().Compile()
}

func (r *Rules) Weights() Weights { return r.weights }

// IsTrusted reports whether MX lookups can be skipped for domain.
func (r *Rules) IsTrusted(domain string) bool {
	d := strings.ToLower(strings.TrimSpace(domain))
	if _, ok := r.trustedDomains[d]; ok {
		return true
	}
	_, ok := r.corporateDomains[d]
	return ok
}

func (r *Rules) IsCorporate(domain string) bool {
	_, ok := r.corporateDomains[strings.ToLower(strings.TrimSpace(domain))]
	return ok
}

func (r *Rules) blockedPrefix(local string) (string, bool) {
	for _, p := range r.blockedPrefixes {
		if strings.HasPrefix(local, p) {
			return p, true
		}
	}
	return "", false
}

func (r *Rules) badSuffix(local string) (string, bool) {
	for _, s := range r.badSuffixes {
		if strings.HasSuffix(local, s) {
			return s, true
		}
	}
	return "", false
}

func (r *Rules) titleIn(local string) (string, bool) {
	for _, t := range r.titleWords {
		if strings.Contains(local, t) {
			return t, true
		}
	}
	return "", false
}

func (r *Rules) genericToken(tokens []string) (string, bool) {
	return tokenIn(tokens, r.genericWords)
}

func (r *Rules) locationToken(tokens []string) (string, bool) {
	return tokenIn(tokens, r.locationWords)
}

func (r *Rules) isGenericMailbox(local string) bool {
	_, ok := r.genericMailboxes[local]
	return ok
}

func tokenIn(tokens []string, set map[string]struct{}) (string, bool) {
	for _, t := range tokens {
		if _, ok := set[t]; ok {
			return t, true
		}
	}
	return "", false
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.ToLower(strings.TrimSpace(v))
		if v != "" {
			out = append(out, v)
		}
	}
	return out
}

func toSet(in []string) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for _, v := range normalizeList(in) {
		out[v] = struct{}{}
	}
	return out
}

func union(a, b []string) []string {
	out := slices.Clone(a)
	for _, v := range b {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
