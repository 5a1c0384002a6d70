package qualify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/idna"
)

const DefaultDNSTimeout = 10 * time.Second

// MXResolver is the subset of *net.Resolver used for domain checks.
type MXResolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
}

// ErrNoMX reports a domain that resolves but publishes no MX records.
var ErrNoMX = errors.New("no mx records")

// NormalizeDomain lower-cases domain and converts it to its ASCII (punycode) form.
func NormalizeDomain(domain string) (string, error) {
	d := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	ascii, err := idna.Lookup.ToASCII(d)
	if err != nil {
		return "", fmt.Errorf("invalid domain %q: %w", domain, err)
	}
	return ascii, nil
}

// LookupMX resolves MX records for domain. A missing domain or an empty
// answer is reported as an error wrapping ErrNoMX; other resolver failures
// are returned as-is.
func LookupMX(ctx context.Context, resolver MXResolver, domain string) ([]*net.MX, error) {
	records, err := resolver.LookupMX(ctx, domain)
	if err != nil {
		var dnsErr *net.DNSError
		if errors.As(err, &dnsErr) && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%s: %w", domain, ErrNoMX)
		}
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%s: %w", domain, ErrNoMX)
	}
	return records, nil
}

// DomainChecker fails recipients whose domain cannot receive mail.
type DomainChecker struct {
	Resolver MXResolver
	Rules    *Rules
	Timeout  time.Duration
}

// Check returns a *Rejection when the domain does not exist or has no MX.
// Transient resolver errors pass and are returned as the second value.
func (c *DomainChecker) Check(ctx context.Context, addr Address) (transient error, err error) {
	if c.Rules != nil && c.Rules.IsTrusted(addr.Domain) {
		return nil, nil
	}
	domain, err := NormalizeDomain(addr.Domain)
	if err != nil {
		return nil, reject(StageDomain, err.Error())
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultDNSTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := LookupMX(ctx, c.resolver(), domain); err != nil {
		if errors.Is(err, ErrNoMX) {
			return nil, reject(StageDomain, fmt.Sprintf("domain %s is not reachable", addr.Domain))
		}
		return err, nil
	}
	return nil, nil
}

func (c *DomainChecker) resolver() MXResolver {
	if c.Resolver == nil {
		return net.DefaultResolver
	}
	return c.Resolver
}
