package state

import "context"

type CampaignStats struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Status    CampaignStatus `json:"status"`
	Total     int            `json:"total"`
	Processed int            `json:"processed"`
	Sent      int            `json:"sent"`
}

// Stats aggregates progress over every stored campaign.
type Stats struct {
	Campaigns   int                    `json:"campaigns"`
	ByStatus    map[CampaignStatus]int `json:"byStatus"`
	Recipients  int                    `json:"recipients"`
	Processed   int                    `json:"processed"`
	Sent        int                    `json:"sent"`
	PerCampaign []CampaignStats        `json:"perCampaign"`
}

const statsPageSize = 100

func CollectStats(ctx context.Context, store Store) (Stats, error) {
	stats := Stats{ByStatus: map[CampaignStatus]int{}}
	for offset := 0; ; offset += statsPageSize {
		page, err := store.ListCampaigns(ctx, ListCampaignsQuery{Limit: statsPageSize, Offset: offset})
		if err != nil {
			return Stats{}, err
		}
		for _, c := range page {
			processed := min(c.CurrentIndex, len(c.Recipients))
			stats.Campaigns++
			stats.ByStatus[c.Status]++
			stats.Recipients += len(c.Recipients)
			stats.Processed += processed
			stats.Sent += c.SentCount
			stats.PerCampaign = append(stats.PerCampaign, CampaignStats{
				ID:        c.ID,
				Name:      c.Name,
				Status:    c.Status,
				Total:     len(c.Recipients),
				Processed: processed,
				Sent:      c.SentCount,
			})
		}
		if len(page) < statsPageSize {
			return stats, nil
		}
	}
}
