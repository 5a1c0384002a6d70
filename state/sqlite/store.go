package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/PipeOpsHQ/campaign-engine/state"
)

//go:embed schema.sql
var schemaSQL string

const (
	defaultBusyTimeout = 5 * time.Second
	defaultLimit       = 50
)

type Store struct {
	db          *sql.DB
	busyTimeout time.Duration
	enableWAL   bool
	maxOpenConn int
}

var _ state.Store = (*Store)(nil)

type Option func(*Store)

func WithBusyTimeout(timeout time.Duration) Option {
	return func(s *Store) {
		if timeout >= 0 {
			s.busyTimeout = timeout
		}
	}
}

func WithWAL(enabled bool) Option {
	return func(s *Store) {
		s.enableWAL = enabled
	}
}

func WithMaxOpenConns(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxOpenConn = n
		}
	}
}

func New(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}

	s := &Store{
		busyTimeout: defaultBusyTimeout,
		enableWAL:   true,
		maxOpenConn: 1,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sqlite directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(s.maxOpenConn)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s.db = db
	if err := s.initialize(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initialize(ctx context.Context) error {
	if s.busyTimeout > 0 {
		ms := int(s.busyTimeout / time.Millisecond)
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf("PRAGMA busy_timeout=%d;", ms)); err != nil {
			return fmt.Errorf("failed to set busy_timeout: %w", err)
		}
	}
	if s.enableWAL {
		if _, err := s.db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
			return fmt.Errorf("failed to enable wal: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

const campaignColumns = `id, name, status, version, current_index, sent_count, agent_id, recipients, template, logs, created_at, updated_at`

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

	row, err := encodeCampaign(c)
	if err != nil {
		return state.Campaign{}, err
	}
	const q = `INSERT INTO campaigns (` + campaignColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
	_, err = s.db.ExecContext(ctx, q,
		c.ID, c.Name, string(c.Status), c.Version, c.CurrentIndex, c.SentCount, c.AgentID,
		row.recipients, row.template, row.logs,
		formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return state.Campaign{}, state.ErrConflict
		}
		return state.Campaign{}, fmt.Errorf("failed to create campaign: %w", err)
	}
	return c, nil
}

func (s *Store) LoadCampaign(ctx context.Context, id string) (state.Campaign, error) {
	if strings.TrimSpace(id) == "" {
		return state.Campaign{}, fmt.Errorf("campaign id is required")
	}
	q := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ?;`
	c, err := scanCampaign(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Campaign{}, state.ErrNotFound
		}
		return state.Campaign{}, fmt.Errorf("failed to load campaign: %w", err)
	}
	return c, nil
}

func (s *Store) ListCampaigns(ctx context.Context, query state.ListCampaignsQuery) ([]state.Campaign, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	offset := max(query.Offset, 0)

	sqlText := `SELECT ` + campaignColumns + ` FROM campaigns`
	var args []any
	if query.Status != "" {
		sqlText += ` WHERE status = ?`
		args = append(args, string(query.Status))
	}
	sqlText += ` ORDER BY created_at DESC LIMIT ? OFFSET ?;`
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list campaigns: %w", err)
	}
	defer rows.Close()

	out := make([]state.Campaign, 0, limit)
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan campaign row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate campaigns: %w", err)
	}
	return out, nil
}

// SaveCampaign writes c only if the stored version still equals c.Version.
func (s *Store) SaveCampaign(ctx context.Context, c state.Campaign) (state.Campaign, error) {
	if c.ID == "" {
		return state.Campaign{}, fmt.Errorf("campaign id is required")
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = time.Now().UTC()
	}
	row, err := encodeCampaign(c)
	if err != nil {
		return state.Campaign{}, err
	}

	const q = `
UPDATE campaigns SET
  name = ?, status = ?, version = version + 1, current_index = ?, sent_count = ?, agent_id = ?,
  recipients = ?, template = ?, logs = ?, updated_at = ?
WHERE id = ? AND version = ?;
`
	res, err := s.db.ExecContext(ctx, q,
		c.Name, string(c.Status), c.CurrentIndex, c.SentCount, c.AgentID,
		row.recipients, row.template, row.logs, formatTime(c.UpdatedAt),
		c.ID, c.Version,
	)
	if err != nil {
		return state.Campaign{}, fmt.Errorf("failed to save campaign: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return state.Campaign{}, fmt.Errorf("failed to save campaign: %w", err)
	}
	if n == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM campaigns WHERE id = ?;`, c.ID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return state.Campaign{}, state.ErrNotFound
		}
		if err != nil {
			return state.Campaign{}, fmt.Errorf("failed to save campaign: %w", err)
		}
		return state.Campaign{}, state.ErrConflict
	}
	c.Version++
	return c, nil
}

func (s *Store) DeleteCampaign(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?;`, id)
	if err != nil {
		return fmt.Errorf("failed to delete campaign: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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
	const q = `
INSERT INTO agents (id, name, definition, tone, language, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  name=excluded.name,
  definition=excluded.definition,
  tone=excluded.tone,
  language=excluded.language,
  updated_at=excluded.updated_at;
`
	if _, err := s.db.ExecContext(ctx, q, a.ID, a.Name, a.Definition, a.Tone, a.Language,
		formatTime(a.CreatedAt), formatTime(a.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to save agent: %w", err)
	}
	return nil
}

func (s *Store) LoadAgent(ctx context.Context, id string) (state.Agent, error) {
	const q = `SELECT id, name, definition, tone, language, created_at, updated_at FROM agents WHERE id = ?;`
	var (
		a                      state.Agent
		createdRaw, updatedRaw string
	)
	err := s.db.QueryRowContext(ctx, q, id).Scan(&a.ID, &a.Name, &a.Definition, &a.Tone, &a.Language, &createdRaw, &updatedRaw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return state.Agent{}, state.ErrNotFound
		}
		return state.Agent{}, fmt.Errorf("failed to load agent: %w", err)
	}
	if a.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
		return state.Agent{}, fmt.Errorf("failed to parse agent created_at: %w", err)
	}
	if a.UpdatedAt, err = parseRequiredTime(updatedRaw); err != nil {
		return state.Agent{}, fmt.Errorf("failed to parse agent updated_at: %w", err)
	}
	return a, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings state.Settings) error {
	raw, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	const q = `
INSERT INTO settings (id, body, updated_at) VALUES (1, ?, ?)
ON CONFLICT(id) DO UPDATE SET body=excluded.body, updated_at=excluded.updated_at;
`
	if _, err := s.db.ExecContext(ctx, q, string(raw), formatTime(time.Now().UTC())); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// LoadSettings returns defaults when nothing has been saved yet.
func (s *Store) LoadSettings(ctx context.Context) (state.Settings, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM settings WHERE id = 1;`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return state.Settings{}.Normalize(), nil
	}
	if err != nil {
		return state.Settings{}, fmt.Errorf("failed to load settings: %w", err)
	}
	var settings state.Settings
	if err := json.Unmarshal([]byte(raw), &settings); err != nil {
		return state.Settings{}, fmt.Errorf("failed to decode settings: %w", err)
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
	const q = `
INSERT INTO sent_emails (id, campaign_id, delivery_id, recipient, subject, status, error, retryable, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?);
`
	_, err := s.db.ExecContext(ctx, q, r.ID, r.CampaignID, r.DeliveryID, r.To, r.Subject,
		string(r.Status), r.Error, boolToInt(r.Retryable), formatTime(r.CreatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return state.ErrConflict
		}
		return fmt.Errorf("failed to append sent record: %w", err)
	}
	return nil
}

func (s *Store) ListSent(ctx context.Context, campaignID string, limit int) ([]state.SentRecord, error) {
	if limit <= 0 {
		limit = defaultLimit
	}
	sqlText := `SELECT id, campaign_id, delivery_id, recipient, subject, status, error, retryable, created_at FROM sent_emails`
	var args []any
	if campaignID != "" {
		sqlText += ` WHERE campaign_id = ?`
		args = append(args, campaignID)
	}
	sqlText += ` ORDER BY created_at DESC LIMIT ?;`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, sqlText, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list sent records: %w", err)
	}
	defer rows.Close()

	out := make([]state.SentRecord, 0, limit)
	for rows.Next() {
		var (
			r          state.SentRecord
			status     string
			retryable  int
			createdRaw string
		)
		if err := rows.Scan(&r.ID, &r.CampaignID, &r.DeliveryID, &r.To, &r.Subject, &status, &r.Error, &retryable, &createdRaw); err != nil {
			return nil, fmt.Errorf("failed to scan sent row: %w", err)
		}
		r.Status = state.SentStatus(status)
		r.Retryable = retryable != 0
		if r.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
			return nil, fmt.Errorf("failed to parse sent created_at: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sent records: %w", err)
	}
	return out, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

type campaignRow struct {
	recipients string
	template   string
	logs       string
}

func encodeCampaign(c state.Campaign) (campaignRow, error) {
	if c.Recipients == nil {
		c.Recipients = []state.Recipient{}
	}
	if c.Logs == nil {
		c.Logs = []state.LogEntry{}
	}
	recipients, err := json.Marshal(c.Recipients)
	if err != nil {
		return campaignRow{}, fmt.Errorf("failed to marshal recipients: %w", err)
	}
	template, err := json.Marshal(c.Template)
	if err != nil {
		return campaignRow{}, fmt.Errorf("failed to marshal template: %w", err)
	}
	logs, err := json.Marshal(c.Logs)
	if err != nil {
		return campaignRow{}, fmt.Errorf("failed to marshal logs: %w", err)
	}
	return campaignRow{recipients: string(recipients), template: string(template), logs: string(logs)}, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCampaign(row rowScanner) (state.Campaign, error) {
	var (
		c                          state.Campaign
		status                     string
		recipients, template, logs string
		createdRaw, updatedRaw     string
	)
	if err := row.Scan(&c.ID, &c.Name, &status, &c.Version, &c.CurrentIndex, &c.SentCount, &c.AgentID,
		&recipients, &template, &logs, &createdRaw, &updatedRaw); err != nil {
		return state.Campaign{}, err
	}
	c.Status = state.CampaignStatus(status)
	if err := json.Unmarshal([]byte(recipients), &c.Recipients); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to decode recipients: %w", err)
	}
	if err := json.Unmarshal([]byte(template), &c.Template); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to decode template: %w", err)
	}
	if err := json.Unmarshal([]byte(logs), &c.Logs); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to decode logs: %w", err)
	}
	var err error
	if c.CreatedAt, err = parseRequiredTime(createdRaw); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to parse campaign created_at: %w", err)
	}
	if c.UpdatedAt, err = parseRequiredTime(updatedRaw); err != nil {
		return state.Campaign{}, fmt.Errorf("failed to parse campaign updated_at: %w", err)
	}
	return c, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseRequiredTime(raw string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isUniqueViolation(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
