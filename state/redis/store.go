package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

const (
	defaultLimit   = 50
	defaultPrefix  = "campaign"
	defaultSentTTL = 30 * 24 * time.Hour
)

type Store struct {
	client   *goredis.Client
	sentTTL  time.Duration
	prefix   string
	addr     string
	db       int
	password string
}

var _ state.Store = (*Store)(nil)

type Option func(*Store)

func WithPassword(password string) Option {
	return func(s *Store) {
		s.password = password
	}
}

func WithDB(db int) Option {
	return func(s *Store) {
		s.db = db
	}
}

// WithSentTTL bounds how long delivery records are retained.
func WithSentTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.sentTTL = ttl
		}
	}
}

func WithPrefix(prefix string) Option {
	return func(s *Store) {
		if strings.TrimSpace(prefix) != "" {
			s.prefix = strings.TrimSpace(prefix)
		}
	}
}

func WithClient(client *goredis.Client) Option {
	return func(s *Store) {
		if client != nil {
			s.client = client
		}
	}
}

func New(addr string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis addr is required")
	}

	s := &Store{
		sentTTL: defaultSentTTL,
		prefix:  defaultPrefix,
		addr:    addr,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = goredis.NewClient(&goredis.Options{
			Addr:     s.addr,
			Password: s.password,
			DB:       s.db,
		})
	}

	if err := s.client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}
	return s, nil
}

func (s *Store) CreateCampaign(ctx context.Context, c state.Campaign) (state.Campaign, error) {
	now := time.Now().UTC()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Status == "" {
		c.Status = state.StatusDraft
	}
	c.Version = 1
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = now

	raw, err := json.Marshal(c)
	if err != nil {
		return state.Campaign{}, fmt.Errorf("failed to marshal campaign: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.campaignKey(c.ID), string(raw), 0).Result()
	if err != nil {
		return state.Campaign{}, fmt.Errorf("failed to create campaign in redis: %w", err)
	}
	if !ok {
		return state.Campaign{}, state.ErrConflict
	}
	if err := s.client.ZAdd(ctx, s.campaignIndexKey(), goredis.Z{
		Score:  float64(c.CreatedAt.UnixNano()),
		Member: c.ID,
	}).Err(); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to index campaign: %w", err)
	}
	return c, nil
}

func (s *Store) LoadCampaign(ctx context.Context, id string) (state.Campaign, error) {
	if id == "" {
		return state.Campaign{}, fmt.Errorf("campaign id is required")
	}
	raw, err := s.client.Get(ctx, s.campaignKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return state.Campaign{}, state.ErrNotFound
		}
		return state.Campaign{}, fmt.Errorf("failed to load campaign from redis: %w", err)
	}
	var c state.Campaign
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to decode campaign from redis: %w", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, query state.ListCampaignsQuery) ([]state.Campaign, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(query.Offset, 0)

	ids, err := s.client.ZRevRange(ctx, s.campaignIndexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list campaign ids: %w", err)
	}
	out := make([]state.Campaign, 0, limit)
	skipped := 0
	for _, id := range ids {
		c, err := s.LoadCampaign(ctx, id)
		if errors.Is(err, state.ErrNotFound) {
			_ = s.client.ZRem(ctx, s.campaignIndexKey(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		if query.Status != "" && c.Status != query.Status {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, c)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// SaveCampaign uses WATCH on the campaign key so the write only lands when
// the stored version still equals c.Version.
func (s *Store) SaveCampaign(ctx context.Context, c state.Campaign) (state.Campaign, error) {
	if c.ID == "" {
		return state.Campaign{}, fmt.Errorf("campaign id is required")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	key := s.campaignKey(c.ID)
	expected := c.Version
	next := c
	next.Version = expected + 1

	txf := func(tx *goredis.Tx) error {
		raw, err := tx.Get(ctx, key).Result()
		if errors.Is(err, goredis.Nil) {
			return state.ErrNotFound
		}
		if err != nil {
			return err
		}
		var current state.Campaign
		if err := json.Unmarshal([]byte(raw), &current); err != nil {
			return fmt.Errorf("failed to decode campaign from redis: %w", err)
		}
		if current.Version != expected {
			return state.ErrConflict
		}
		body, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("failed to marshal campaign: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Set(ctx, key, string(body), 0)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	switch {
	case err == nil:
		return next, nil
	case errors.Is(err, goredis.TxFailedErr):
		return state.Campaign{}, state.ErrConflict
	case errors.Is(err, state.ErrConflict), errors.Is(err, state.ErrNotFound):
		return state.Campaign{}, err
	default:
		return state.Campaign{}, fmt.Errorf("failed to save campaign in redis: %w", err)
	}
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.campaignKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	_ = s.client.ZRem(ctx, s.campaignIndexKey(), id).Err()
	if n == 0 {
		return state.ErrNotFound
	}
	return nil
}

func (s *Store) SaveAgent(ctx context.Context, a state.Agent) error {
	if a.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now
	raw, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to marshal agent: %w", err)
	}
	if err := s.client.Set(ctx, s.agentKey(a.ID), string(raw), 0).Err(); err != nil {
		return fmt.Errorf("failed to save agent in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, id string) (state.Agent, error) {
	raw, err := s.client.Get(ctx, s.agentKey(id)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return state.Agent{}, state.ErrNotFound
		}
		return state.Agent{}, fmt.Errorf("failed to load agent from redis: %w", err)
	}
	var a state.Agent
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return state.Agent{}, fmt.Errorf("failed to decode agent from redis: %w", err)
	}
	return a, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings state.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	if err := s.client.Set(ctx, s.settingsKey(), string(raw), 0).Err(); err != nil {
		return fmt.Errorf("failed to save settings in redis: %w", err)
	}
	return nil
}

func (s *Store) LoadSettings(ctx context.Context) (state.Settings, error) {
	raw, err := s.client.Get(ctx, s.settingsKey()).Result()
	if errors.Is(err, goredis.Nil) {
		return state.Settings{}.Normalize(), nil
	}
	if err != nil {
		return state.Settings{}, fmt.Errorf("failed to load settings from redis: %w", err)
	}
	var settings state.Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return state.Settings{}, fmt.Errorf("failed to decode settings from redis: %w", err)
	}
	return settings.Normalize(), nil
}

func (s *Store) AppendSent(ctx context.Context, r state.SentRecord) error {
	if r.CampaignID == "" {
		return fmt.Errorf("campaign id is required")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal sent record: %w", err)
	}
	score := float64(r.CreatedAt.UnixNano())

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.sentKey(r.ID), string(raw), s.sentTTL)
	pipe.ZAdd(ctx, s.sentIndexKey(r.CampaignID), goredis.Z{Score: score, Member: r.ID})
	pipe.Expire(ctx, s.sentIndexKey(r.CampaignID), s.sentTTL)
	pipe.ZAdd(ctx, s.sentIndexKey(""), goredis.Z{Score: score, Member: r.ID})
	pipe.Expire(ctx, s.sentIndexKey(""), s.sentTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to append sent record in redis: %w", err)
	}
	return nil
}

func (s *Store) ListSent(ctx context.Context, campaignID string, limit int) ([]state.SentRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	idx := s.sentIndexKey(campaignID)
	ids, err := s.client.ZRevRange(ctx, idx, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list sent ids: %w", err)
	}
	out := make([]state.SentRecord, 0, len(ids))
	for _, id := range ids {
		raw, err := s.client.Get(ctx, s.sentKey(id)).Result()
		if errors.Is(err, goredis.Nil) {
			_ = s.client.ZRem(ctx, idx, id).Err()
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load sent record: %w", err)
		}
		var r state.SentRecord
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, fmt.Errorf("failed to decode sent record: %w", err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *Store) campaignKey(id string) string {
	return fmt.Sprintf("%s:campaign:%s", s.prefix, id)
}

func (s *Store) campaignIndexKey() string {
	return fmt.Sprintf("%s:campaignidx", s.prefix)
}

func (s *Store) agentKey(id string) string {
	return fmt.Sprintf("%s:agent:%s", s.prefix, id)
}

func (s *Store) settingsKey() string {
	return fmt.Sprintf("%s:settings", s.prefix)
}

func (s *Store) sentKey(id string) string {
	return fmt.Sprintf("%s:sent:%s", s.prefix, id)
}

func (s *Store) sentIndexKey(campaignID string) string {
	if campaignID == "" {
		return fmt.Sprintf("%s:sentidx:all", s.prefix)
	}
	return fmt.Sprintf("%s:sentidx:campaign:%s", s.prefix, campaignID)
}
