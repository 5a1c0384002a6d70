package state

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound = errors.New("state: not found")
	ErrConflict = errors.New("state: conflict")
)

type ListCampaignsQuery struct {
	Status CampaignStatus
	Limit  int
	Offset int
}

// Store persists campaigns and their collaborators. SaveCampaign is a
// conditional write keyed on Campaign.Version.
type Store interface {
	CreateCampaign(ctx context.Context, campaign Campaign) (Campaign, error)
	LoadCampaign(ctx context.Context, id string) (Campaign, error)
	ListCampaigns(ctx context.Context, query ListCampaignsQuery) ([]Campaign, error)
	SaveCampaign(ctx context.Context, campaign Campaign) (Campaign, error)
	DeleteCampaign(ctx context.Context, id string) error

	SaveAgent(ctx context.Context, agent Agent) error
	LoadAgent(ctx context.Context, id string) (Agent, error)

	SaveSettings(ctx context.Context, settings Settings) error
	LoadSettings(ctx context.Context) (Settings, error)

	AppendSent(ctx context.Context, record SentRecord) error
	ListSent(ctx context.Context, campaignID string, limit int) ([]SentRecord, error)

	Close() error
}

const maxUpdateAttempts = 5

// UpdateCampaign reloads, mutates and conditionally writes a campaign,
// retrying when another writer got there first. fn returning an error aborts.
func UpdateCampaign(ctx context.Context, store Store, id string, fn func(*Campaign) error) (Campaign, error) {
	var lastErr error
	for attempt := 0; attempt < maxUpdateAttempts; attempt++ {
		c, err := store.LoadCampaign(ctx, id)
		if err != nil {
			return Campaign{}, err
		}
		if err := fn(&c); err != nil {
			return Campaign{}, err
		}
		c.UpdatedAt = time.Now().UTC()
		saved, err := store.SaveCampaign(ctx, c)
		if err == nil {
			return saved, nil
		}
		if !errors.Is(err, ErrConflict) {
			return Campaign{}, err
		}
		lastErr = err
	}
	return Campaign{}, fmt.Errorf("update campaign %s: %w", id, lastErr)
}
