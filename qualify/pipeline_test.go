package qualify

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

type fakeVerifier struct {
	verdict Verdict
	err     error
	calls   int
}

func (f *fakeVerifier) Verify(context.Context, string) (Verdict, error) {
	f.calls++
	return f.verdict, f.err
}

func TestPipeline_Qualify(t *testing.T) {
	resolver := &fakeResolver{
		records: map[string][]*net.MX{"example.org": {{Host: "mx.example.org.", Pref: 10}}},
		errs:    map[string]error{"gone.example": &net.DNSError{Err: "no such host", IsNotFound: true}},
	}
	ctx := context.Background()

	t.Run("lexical rejection stops early", func(t *testing.T) {
		v := &fakeVerifier{verdict: Verdict{Status: MailboxExists}}
		p := NewPipeline(DefaultRules(), WithResolver(resolver), WithMailboxVerifier(v))
		err := p.Qualify(ctx, state.Recipient{Email: "info.sales@hotel.example"})
		rej, ok := AsRejection(err)
		if !ok || rej.Stage != StageLexical {
			t.Fatalf("expected lexical rejection, got %v", err)
		}
		if v.calls != 0 {
			t.Fatalf("mailbox probe should not run after lexical rejection")
		}
	})

	t.Run("allow-listed domain passes", func(t *testing.T) {
		p := NewPipeline(DefaultRules(), WithResolver(resolver))
		if err := p.Qualify(ctx, state.Recipient{Email: "jan.jansen@marriott.com"}); err != nil {
			t.Fatalf("expected pass, got %v", err)
		}
	})

	t.Run("missing domain rejects", func(t *testing.T) {
		p := NewPipeline(DefaultRules(), WithResolver(resolver))
		err := p.Qualify(ctx, state.Recipient{Email: "jan.jansen@gone.example"})
		if rej, ok := AsRejection(err); !ok || rej.Stage != StageDomain {
			t.Fatalf("expected domain rejection, got %v", err)
		}
	})

	t.Run("missing mailbox rejects", func(t *testing.T) {
		v := &fakeVerifier{verdict: Verdict{Status: MailboxMissing}}
		p := NewPipeline(DefaultRules(), WithResolver(resolver), WithMailboxVerifier(v))
		err := p.Qualify(ctx, state.Recipient{Email: "jan.jansen@example.org"})
		if rej, ok := AsRejection(err); !ok || rej.Stage != StageMailbox {
			t.Fatalf("expected mailbox rejection, got %v", err)
		}
	})

	t.Run("probe error fails open", func(t *testing.T) {
		v := &fakeVerifier{verdict: Verdict{Status: MailboxUnknown}, err: errors.New("timeout")}
		p := NewPipeline(DefaultRules(), WithResolver(resolver), WithMailboxVerifier(v))
		if err := p.Qualify(ctx, state.Recipient{Email: "jan.jansen@example.org"}); err != nil {
			t.Fatalf("expected fail-open pass, got %v", err)
		}
	})

	t.Run("inconclusive probe passes", func(t *testing.T) {
		v := &fakeVerifier{verdict: Verdict{Status: MailboxUnknown}}
		p := NewPipeline(DefaultRules(), WithResolver(resolver), WithMailboxVerifier(v))
		if err := p.Qualify(ctx, state.Recipient{Email: "jan.jansen@example.org"}); err != nil {
			t.Fatalf("expected pass, got %v", err)
		}
	})
}
