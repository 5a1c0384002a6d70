package state_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/PipeOpsHQ/campaign-engine/state"
	"github.com/PipeOpsHQ/campaign-engine/state/sqlite"
)

func TestUpdateCampaign_AppliesMutation(t *testing.T) {
	s, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	c, err := s.CreateCampaign(ctx, state.Campaign{Name: "c"})
	if err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := state.UpdateCampaign(ctx, s, c.ID, func(c *state.Campaign) error {
				c.SentCount++
				return nil
			}); err != nil {
				t.Errorf("UpdateCampaign failed: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.LoadCampaign(ctx, c.ID)
	if err != nil {
		t.Fatalf("LoadCampaign failed: %v", err)
	}
	if got.SentCount != 4 {
		t.Fatalf("expected 4 increments, got %d", got.SentCount)
	}
}

func TestUpdateCampaign_AbortsOnCallbackError(t *testing.T) {
	s, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	c, err := s.CreateCampaign(ctx, state.Campaign{Name: "c"})
	if err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	boom := errors.New("boom")
	if _, err := state.UpdateCampaign(ctx, s, c.ID, func(*state.Campaign) error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	got, _ := s.LoadCampaign(ctx, c.ID)
	if got.Version != 1 {
		t.Fatalf("expected untouched version 1, got %d", got.Version)
	}
}

func TestCampaignAppendLogCapsRing(t *testing.T) {
	var c state.Campaign
	for i := 0; i < state.MaxLogEntries+10; i++ {
		c.AppendLog(state.LogEntry{Step: "send", Status: "ok", Message: string(rune('a' + i%26))})
	}
	if len(c.Logs) != state.MaxLogEntries {
		t.Fatalf("expected %d logs, got %d", state.MaxLogEntries, len(c.Logs))
	}
	last := state.MaxLogEntries + 9
	if c.Logs[0].Message != string(rune('a'+last%26)) {
		t.Fatalf("newest entry should be first, got %q", c.Logs[0].Message)
	}
}

func TestSettingsFrom(t *testing.T) {
	s := state.Settings{DefaultSender: "hi@example.com", SenderName: "Ada"}
	if got := s.From(); got != "Ada <hi@example.com>" {
		t.Fatalf("unexpected from header %q", got)
	}
}

func TestCollectStats(t *testing.T) {
	s, err := sqlite.New(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("sqlite.New failed: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	three := []state.Recipient{{Email: "a@x.com"}, {Email: "b@x.com"}, {Email: "c@x.com"}}
	if _, err := s.CreateCampaign(ctx, state.Campaign{Name: "one", Recipients: three, CurrentIndex: 2, SentCount: 1, Status: state.StatusPaused}); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}
	if _, err := s.CreateCampaign(ctx, state.Campaign{Name: "two", Recipients: three[:1], CurrentIndex: 4, SentCount: 1, Status: state.StatusCompleted}); err != nil {
		t.Fatalf("CreateCampaign failed: %v", err)
	}

	stats, err := state.CollectStats(ctx, s)
	if err != nil {
		t.Fatalf("CollectStats failed: %v", err)
	}
	if stats.Campaigns != 2 || stats.Recipients != 4 || stats.Processed != 3 || stats.Sent != 2 {
		t.Fatalf("unexpected totals %#v", stats)
	}
	if stats.ByStatus[state.StatusPaused] != 1 || stats.ByStatus[state.StatusCompleted] != 1 {
		t.Fatalf("unexpected status breakdown %#v", stats.ByStatus)
	}
	if len(stats.PerCampaign) != 2 {
		t.Fatalf("expected per-campaign rows, got %d", len(stats.PerCampaign))
	}
}
