package qualify

import (
	"errors"
	"testing"
)

func TestCheckLexical(t *testing.T) {
	rules := DefaultRules()
	tests := []struct {
		email string
		ok    bool
	}{
		{"jan.jansen@marriott.com", true},
		{"eva.schmidt@dorint.com", true},
		{"p.de-vries@fletcher.nl", true},
		{"info.sales@hotel.example", false},
		{"sales.team@example.com", false},
		{"front.office@example.com", false},
		{"jan.amsterdam@example.com", false},
		{"booking-desk@example.com", false},
		{"anna_guest@example.com", false},
		{"no-at-sign.example.com", false},
		{"two@@example.com", false},
		{"jan..jansen@example.com", false},
		{"jan.-jansen@example.com", false},
		{".jan@example.com", false},
		{"jan.@example.com", false},
		{"jan@example", false},
		{"jan jansen@example.com", false},
		{"jan,jansen@example.com", false},
	}
	for _, tc := range tests {
		t.Run(tc.email, func(t *testing.T) {
			err := CheckLexical(tc.email, rules)
			if tc.ok && err != nil {
				t.Fatalf("expected pass, got %v", err)
			}
			if !tc.ok {
				if err == nil {
					t.Fatalf("expected rejection")
				}
				rej, ok := AsRejection(err)
				if !ok || rej.Stage != StageLexical {
					t.Fatalf("expected lexical rejection, got %#v", err)
				}
				if !errors.Is(err, ErrRejected) {
					t.Fatalf("expected error to wrap ErrRejected")
				}
			}
		})
	}
}

func TestTokens(t *testing.T) {
	got := Tokens("Jan.de-Vries_NL,x")
	want := []string{"jan", "de", "vries", "nl", "x"}
	if len(got) != len(want) {
		t.Fatalf("unexpected tokens %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("unexpected tokens %v", got)
		}
	}
}
