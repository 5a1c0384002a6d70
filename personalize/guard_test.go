package personalize

import (
	"testing"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

func TestCheckDraft(t *testing.T) {
	r := state.Recipient{Company: "Dorint"}
	tests := []struct {
		name   string
		draft  Draft
		issues int
	}{
		{"valid", Draft{Subject: "Dorint rate updates before Monday", Content: "Hi,\n\nOne.\n\nTwo?"}, 0},
		{"empty subject", Draft{Content: "Dorint\n\nOne.\n\nTwo?"}, 1},
		{"no question", Draft{Subject: "Dorint", Content: "a\n\nb\n\nc."}, 1},
		{"two paragraphs", Draft{Subject: "Dorint", Content: "a\n\nb?"}, 1},
		{"missing company", Draft{Subject: "x", Content: "a\n\nb\n\nc?"}, 1},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := checkDraft(tc.draft, r); len(got) != tc.issues {
				t.Fatalf("expected %d issues, got %v", tc.issues, got)
			}
		})
	}
}
