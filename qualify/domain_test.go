package qualify

import (
	"context"
	"errors"
	"net"
	"testing"
)

type fakeResolver struct {
	records map[string][]*net.MX
	errs    map[string]error
	calls   []string
}

func (f *fakeResolver) LookupMX(_ context.Context, name string) ([]*net.MX, error) {
	f.calls = append(f.calls, name)
	if err, ok := f.errs[name]; ok {
		return nil, err
	}
	return f.records[name], nil
}

func TestDomainChecker(t *testing.T) {
	resolver := &fakeResolver{
		records: map[string][]*net.MX{
			"example.org":       {{Host: "mx.example.org.", Pref: 10}},
			"xn--mnchen-3ya.de": {{Host: "mx.muenchen.de.", Pref: 10}},
			"empty.example":     {},
		},
		errs: map[string]error{
			"gone.example":  &net.DNSError{Err: "no such host", Name: "gone.example", IsNotFound: true},
			"flaky.example": &net.DNSError{Err: "server misbehaving", Name: "flaky.example", IsTemporary: true},
		},
	}
	checker := &DomainChecker{Resolver: resolver, Rules: DefaultRules()}
	ctx := context.Background()

	tests := []struct {
		domain    string
		rejected  bool
		transient bool
	}{
		{"example.org", false, false},
		{"münchen.de", false, false},
		{"empty.example", true, false},
		{"gone.example", true, false},
		{"flaky.example", false, true},
	}
	for _, tc := range tests {
		t.Run(tc.domain, func(t *testing.T) {
			transient, err := checker.Check(ctx, Address{Local: "jan", Domain: tc.domain})
			if tc.rejected {
				rej, ok := AsRejection(err)
				if !ok || rej.Stage != StageDomain {
					t.Fatalf("expected domain rejection, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected rejection: %v", err)
			}
			if tc.transient != (transient != nil) {
				t.Fatalf("transient mismatch: %v", transient)
			}
		})
	}
}

func TestDomainCheckerSkipsTrustedDomains(t *testing.T) {
	resolver := &fakeResolver{}
	checker := &DomainChecker{Resolver: resolver, Rules: DefaultRules()}

	if _, err := checker.Check(context.Background(), Address{Local: "jan.jansen", Domain: "marriott.com"}); err != nil {
		t.Fatalf("trusted domain rejected: %v", err)
	}
	if len(resolver.calls) != 0 {
		t.Fatalf("expected no lookups for trusted domain, got %v", resolver.calls)
	}
}

func TestLookupMXWrapsNotFound(t *testing.T) {
	resolver := &fakeResolver{errs: map[string]error{
		"gone.example": &net.DNSError{Err: "no such host", IsNotFound: true},
	}}
	_, err := LookupMX(context.Background(), resolver, "gone.example")
	if !errors.Is(err, ErrNoMX) {
		t.Fatalf("expected ErrNoMX, got %v", err)
	}
}
