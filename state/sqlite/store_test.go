package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "state.db")
	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

func seedCampaign(t *testing.T, s *Store) state.Campaign {
	t.Helper()
	c, err := s.CreateCampaign(context.Background(), state.Campaign{
		Name: "spring outreach",
		Recipients: []state.Recipient{
			{Name: "Jan Jansen", Email: "jan.jansen@marriott.com", Company: "Marriott", Location: "Amsterdam, Netherlands"},
			{Name: "Eva Schmidt", Email: "eva.schmidt@dorint.com", Location: "Berlin, Germany"},
		},
		Template: state.Template{Subject: "Hello {{name}}", Content: "Hi {{name}}"},
	})
	if err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	return c
}

func TestSQLiteStore_CreateLoadCampaign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	created := seedCampaign(t, s)
	if created.ID == "" || created.Version != 1 || created.Status != state.StatusDraft {
		t.Fatalf("unexpected created campaign: %#v", created)
	}

	got, err := s.LoadCampaign(ctx, created.ID)
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if diff := cmp.Diff(created, got); diff != "" {
		t.Fatalf("campaign mismatch (-want +got):\n%s", diff)
	}

	if _, err := s.CreateCampaign(ctx, state.Campaign{ID: created.ID, Name: "dup"}); !errors.Is(err, state.ErrConflict) {
		t.Fatalf("expected ErrConflict on duplicate id, got %v", err)
	}
}

func TestSQLiteStore_SaveCampaignIsConditional(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s)

	first := c
	first.CurrentIndex = 1
	saved, err := s.SaveCampaign(ctx, first)
	if err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}
	if saved.Version != 2 {
		t.Fatalf("expected version 2, got %d", saved.Version)
	}

	stale := c
	stale.Status = state.StatusStopped
	if _, err := s.SaveCampaign(ctx, stale); !errors.Is(err, state.ErrConflict) {
		t.Fatalf("expected ErrConflict for stale write, got %v", err)
	}

	got, err := s.LoadCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if got.CurrentIndex != 1 || got.Status != state.StatusDraft {
		t.Fatalf("stale write leaked into stored campaign: %#v", got)
	}

	missing := c
	missing.ID = "missing"
	if _, err := s.SaveCampaign(ctx, missing); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSQLiteStore_ListCampaignsByStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	a := seedCampaign(t, s)
	_ = seedCampaign(t, s)

	a.Status = state.StatusProcessing
	if _, err := s.SaveCampaign(ctx, a); err != nil {
		t.Fatalf("SaveCampaign failed: %v", err)
	}

	all, err := s.ListCampaigns(ctx, state.ListCampaignsQuery{})
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 campaigns, got %d", len(all))
	}
	processing, err := s.ListCampaigns(ctx, state.ListCampaignsQuery{Status: state.StatusProcessing})
	if err != nil {
		t.Fatalf("ListCampaigns failed: %v", err)
	}
	if len(processing) != 1 || processing[0].ID != a.ID {
		t.Fatalf("unexpected processing campaigns: %#v", processing)
	}
}

func TestSQLiteStore_DeleteCampaign(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	c := seedCampaign(t, s)

	if err := s.DeleteCampaign(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCampaign failed: %v", err)
	}
	if _, err := s.LoadCampaign(ctx, c.ID); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.DeleteCampaign(ctx, c.ID); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestSQLiteStore_SettingsDefaultsAndRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	defaults, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if defaults.DelaySeconds != state.DefaultDelaySeconds {
		t.Fatalf("expected default delay %d, got %d", state.DefaultDelaySeconds, defaults.DelaySeconds)
	}

	want := state.Settings{DefaultSender: "hello@example.com", SenderName: "Ada", Signature: "Ada\nExample BV", DelaySeconds: 3}
	if err := s.SaveSettings(ctx, want); err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	got, err := s.LoadSettings(ctx)
	if err != nil {
		t.Fatalf("LoadSettings failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("settings mismatch (-want +got):\n%s", diff)
	}
}

func TestSQLiteStore_AgentRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.LoadAgent(ctx, "nope"); !errors.Is(err, state.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := s.SaveAgent(ctx, state.Agent{ID: "sdr", Name: "SDR", Definition: "You sell hotel software."}); err != nil {
		t.Fatalf("SaveAgent failed: %v", err)
	}
	got, err := s.LoadAgent(ctx, "sdr")
	if err != nil {
		t.Fatalf("LoadAgent failed: %v", err)
	}
	if got.Definition != "You sell hotel software." {
		t.Fatalf("unexpected agent: %#v", got)
	}
}

func TestSQLiteStore_SentRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	records := []state.SentRecord{
		{CampaignID: "c1", To: "a@example.com", Subject: "hi", Status: state.SentStatusSent, DeliveryID: "re_1"},
		{CampaignID: "c1", To: "b@example.com", Subject: "hi", Status: state.SentStatusFailed, Error: "rate limited", Retryable: true},
		{CampaignID: "c2", To: "c@example.com", Subject: "hi", Status: state.SentStatusSent},
	}
	for _, r := range records {
		if err := s.AppendSent(ctx, r); err != nil {
			t.Fatalf("AppendSent failed: %v", err)
		}
	}

	c1, err := s.ListSent(ctx, "c1", 10)
	if err != nil {
		t.Fatalf("ListSent failed: %v", err)
	}
	if len(c1) != 2 {
		t.Fatalf("expected 2 records for c1, got %d", len(c1))
	}
	var failed int
	for _, r := range c1 {
		if r.Status == state.SentStatusFailed {
			failed++
			if !r.Retryable || r.Error == "" {
				t.Fatalf("failed record lost detail: %#v", r)
			}
		}
	}
	if failed != 1 {
		t.Fatalf("expected 1 failed record, got %d", failed)
	}

	all, err := s.ListSent(ctx, "", 10)
	if err != nil {
		t.Fatalf("ListSent failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 records, got %d", len(all))
	}
}
