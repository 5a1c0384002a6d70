package state

import (
	"strings"
	"time"
)

type CampaignStatus string

const (
	StatusDraft      CampaignStatus = "draft"
	StatusProcessing CampaignStatus = "processing"
	StatusPaused     CampaignStatus = "paused"
	StatusStopped    CampaignStatus = "stopped"
	StatusCompleted  CampaignStatus = "completed"
)

// MaxLogEntries caps the per-campaign log ring.
const MaxLogEntries = 50

const (
	DefaultDelaySeconds  = 10
	DefaultSenderAddress = "outreach@localhost"
	DefaultSenderName    = "Campaign Engine"
)

type Recipient struct {
	Name     string            `json:"name"`
	Email    string            `json:"email"`
	Company  string            `json:"company,omitempty"`
	Title    string            `json:"title,omitempty"`
	Location string            `json:"location,omitempty"`
	Extra    map[string]string `json:"extra,omitempty"`
}

// Domain returns the lower-cased part after the last '@', or "".
func (r Recipient) Domain() string {
	at := strings.LastIndex(r.Email, "@")
	if at < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(r.Email[at+1:]))
}

type Template struct {
	Subject string `json:"subject"`
	Content string `json:"content"`
}

type LogEntry struct {
	Timestamp  time.Time `json:"timestamp"`
	Recipient  string    `json:"recipient"`
	Step       string    `json:"step"`
	Status     string    `json:"status"`
	Message    string    `json:"message"`
	Generation uint64    `json:"generation,omitempty"`
}

type Campaign struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Status       CampaignStatus `json:"status"`
	Recipients   []Recipient    `json:"recipients"`
	CurrentIndex int            `json:"currentIndex"`
	SentCount    int            `json:"sentCount"`
	Logs         []LogEntry     `json:"logs,omitempty"`
	AgentID      string         `json:"agentId,omitempty"`
	Template     Template       `json:"template"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// AppendLog records entry at the head of the log ring and trims it to MaxLogEntries.
func (c *Campaign) AppendLog(entry LogEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	logs := make([]LogEntry, 0, min(len(c.Logs)+1, MaxLogEntries))
	logs = append(logs, entry)
	for _, l := range c.Logs {
		if len(logs) >= MaxLogEntries {
			break
		}
		logs = append(logs, l)
	}
	c.Logs = logs
}

// Remaining is the number of recipients not yet processed.
func (c Campaign) Remaining() int {
	if c.CurrentIndex >= len(c.Recipients) {
		return 0
	}
	return len(c.Recipients) - c.CurrentIndex
}

type Agent struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Definition string    `json:"definition"`
	Tone       string    `json:"tone,omitempty"`
	Language   string    `json:"language,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type Settings struct {
	DefaultSender string `json:"defaultSender"`
	SenderName    string `json:"senderName"`
	Signature     string `json:"signature"`
	DelaySeconds  int    `json:"delaySeconds"`
}

// Normalize fills unset fields with defaults.
func (s Settings) Normalize() Settings {
	if strings.TrimSpace(s.DefaultSender) == "" {
		s.DefaultSender = DefaultSenderAddress
	}
	if strings.TrimSpace(s.SenderName) == "" {
		s.SenderName = DefaultSenderName
	}
	if s.DelaySeconds <= 0 {
		s.DelaySeconds = DefaultDelaySeconds
	}
	return s
}

func (s Settings) Delay() time.Duration {
	return time.Duration(s.Normalize().DelaySeconds) * time.Second
}

// From renders the display-name form of the sender address.
func (s Settings) From() string {
	n := s.Normalize()
	return n.SenderName + " <" + n.DefaultSender + ">"
}

type SentStatus string

const (
	SentStatusSent   SentStatus = "sent"
	SentStatusFailed SentStatus = "failed"
	// SentStatusDuplicate marks a send the provider refused because an earlier
	// request with the same idempotency key already delivered it.
	SentStatusDuplicate SentStatus = "duplicate"
)

type SentRecord struct {
	ID         string     `json:"id"`
	DeliveryID string     `json:"deliveryId,omitempty"`
	CampaignID string     `json:"campaignId"`
	To         string     `json:"to"`
	Subject    string     `json:"subject"`
	Status     SentStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Retryable  bool       `json:"retryable,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}
