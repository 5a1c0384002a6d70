package qualify

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"net/textproto"
	"slices"
	"time"
)

// MailboxFailOpen keeps recipients whose mailbox probe errored or was
// inconclusive. Only an explicit "no such mailbox" answer blocks.
const MailboxFailOpen = true

const DefaultProbeTimeout = 15 * time.Second

type MailboxStatus string

const (
	MailboxExists  MailboxStatus = "exists"
	MailboxMissing MailboxStatus = "missing"
	MailboxUnknown MailboxStatus = "unknown"
)

type Verdict struct {
	Status MailboxStatus
	Detail string
}

type MailboxVerifier interface {
	Verify(ctx context.Context, email string) (Verdict, error)
}

// SMTPProber asks the domain's best MX whether it accepts RCPT TO for the
// address, without sending any data.
type SMTPProber struct {
	Resolver MXResolver
	Helo     string
	From     string
	Port     string
	Timeout  time.Duration
	Dialer   *net.Dialer
}

func (p *SMTPProber) Verify(ctx context.Context, email string) (Verdict, error) {
	addr, err := ParseAddress(email)
	if err != nil {
		return Verdict{Status: MailboxUnknown}, err
	}
	domain, err := NormalizeDomain(addr.Domain)
	if err != nil {
		return Verdict{Status: MailboxUnknown}, err
	}

	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var resolver MXResolver = net.DefaultResolver
	if p.Resolver != nil {
		resolver = p.Resolver
	}
	records, err := LookupMX(ctx, resolver, domain)
	if err != nil {
		return Verdict{Status: MailboxUnknown}, err
	}
	slices.SortFunc(records, func(a, b *net.MX) int { return int(a.Pref) - int(b.Pref) })
	host := records[0].Host

	return p.probe(ctx, host, addr.Raw)
}

func (p *SMTPProber) probe(ctx context.Context, host, rcpt string) (Verdict, error) {
	port := p.Port
	if port == "" {
		port = "25"
	}
	dialer := p.Dialer
	if dialer == nil {
		dialer = &net.Dialer{}
	}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(host, port))
	if err != nil {
		return Verdict{Status: MailboxUnknown}, fmt.Errorf("dial %s: %w", host, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, host)
	if err != nil {
		_ = conn.Close()
		return Verdict{Status: MailboxUnknown}, fmt.Errorf("smtp greeting from %s: %w", host, err)
	}
	defer client.Close()

	helo := p.Helo
	if helo == "" {
		helo = "localhost"
	}
	from := p.From
	if from == "" {
		from = "probe@localhost"
	}
	if err := client.Hello(helo); err != nil {
		return Verdict{Status: MailboxUnknown}, fmt.Errorf("helo: %w", err)
	}
	if err := client.Mail(from); err != nil {
		return Verdict{Status: MailboxUnknown}, fmt.Errorf("mail from: %w", err)
	}
	rcptErr := client.Rcpt(rcpt)
	_ = client.Quit()

	return classifyRcpt(rcptErr)
}

func classifyRcpt(err error) (Verdict, error) {
	if err == nil {
		return Verdict{Status: MailboxExists}, nil
	}
	var protoErr *textproto.Error
	if errors.As(err, &protoErr) {
		switch protoErr.Code {
		case 550, 551, 553:
			return Verdict{Status: MailboxMissing, Detail: protoErr.Msg}, nil
		}
		return Verdict{Status: MailboxUnknown, Detail: protoErr.Msg}, nil
	}
	return Verdict{Status: MailboxUnknown}, err
}
