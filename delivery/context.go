package delivery

import (
	"context"
	"fmt"
	"strings"
)

type contextKey string

const (
	idempotencyKeyContextKey contextKey = "delivery.idempotency_key"
	campaignContextKey       contextKey = "delivery.campaign"
)

// CampaignRef identifies the campaign run a send belongs to.
type CampaignRef struct {
	CampaignID string
	Generation uint64
	Index      int
}

// IdempotencyKey is stable per campaign position and address, so a duplicate
// send from a superseded loop collapses at the provider.
func IdempotencyKey(campaignID string, index int, email string) string {
	return fmt.Sprintf("%s:%d:%s", campaignID, index, strings.ToLower(strings.TrimSpace(email)))
}

// WithIdempotencyKey stores the key sent with the delivery request.
func WithIdempotencyKey(ctx context.Context, key string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ctx
	}
	return context.WithValue(ctx, idempotencyKeyContextKey, key)
}

func IdempotencyKeyFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	v, ok := ctx.Value(idempotencyKeyContextKey).(string)
	if !ok {
		return ""
	}
	return v
}

// WithCampaign attaches the campaign reference used for provider tags.
func WithCampaign(ctx context.Context, ref CampaignRef) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if strings.TrimSpace(ref.CampaignID) == "" {
		return ctx
	}
	return context.WithValue(ctx, campaignContextKey, ref)
}

func CampaignFromContext(ctx context.Context) (CampaignRef, bool) {
	if ctx == nil {
		return CampaignRef{}, false
	}
	ref, ok := ctx.Value(campaignContextKey).(CampaignRef)
	return ref, ok
}

// CampaignTags renders ref as provider tags. Tag values are limited to
// ASCII letters, digits, '_' and '-'.
func CampaignTags(ref CampaignRef) []Tag {
	return []Tag{
		{Name: "campaign_id", Value: sanitizeTag(ref.CampaignID)},
		{Name: "generation", Value: fmt.Sprint(ref.Generation)},
	}
}

func sanitizeTag(v string) string {
	var b strings.Builder
	for _, r := range v {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}
