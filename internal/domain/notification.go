package domain

import (
	"strings"
	"time"
)

// Channel is the external messaging channel a notification is delivered through.
type Channel string

const ChannelTelegram Channel = "telegram"

func (c Channel) IsValid() bool {
	return c == ChannelTelegram
}

// Level is the severity attached to a notification.
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

func (l Level) IsValid() bool {
	switch l {
	case LevelInfo, LevelWarning, LevelCritical:
		return true
	}
	return false
}

// Reason is the outcome of a policy decision, and for deferred records the
// last reason the notification was held back.
type Reason string

const (
	ReasonOK         Reason = "ok"
	ReasonCooldown   Reason = "cooldown"
	ReasonQuietHours Reason = "quiet_hours"
	ReasonError      Reason = "error"
	ReasonAborted    Reason = "aborted"
)

// State is the lifecycle position of a notification, derived from its fields.
type State string

const (
	StatePending State = "pending"
	StateSent    State = "sent"
	StateAborted State = "aborted"
)

// Notification is a single notification record.
//
// A record is sent (SentAt set, RetryAt and RetryReason nil), pending
// (SentAt nil, RetryAt set) or aborted (SentAt and RetryAt nil,
// RetryReason aborted). Aborted is terminal.
type Notification struct {
	ID          string     `json:"id"`
	ProductID   *string    `json:"product_id,omitempty"`
	Level       Level      `json:"level"`
	Channel     Channel    `json:"channel"`
	Message     string     `json:"message"`
	DedupKey    *string    `json:"dedup_key,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	RetryAt     *time.Time `json:"retry_at,omitempty"`
	RetryReason *Reason    `json:"retry_reason,omitempty"`
	RetryCount  int        `json:"retry_count"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (n *Notification) State() State {
	switch {
	case n.SentAt != nil:
		return StateSent
	case n.RetryReason != nil && *n.RetryReason == ReasonAborted:
		return StateAborted
	default:
		return StatePending
	}
}

// NotificationFilter holds query parameters for paginated notification listing.
type NotificationFilter struct {
	State     *State
	ProductID *string
	Page      int
	Limit     int
}

// TestNotificationRequest is the payload for a manual notification with no
// product association.
type TestNotificationRequest struct {
	Message string `json:"message"`
	Level   Level  `json:"level"`
}

func (r *TestNotificationRequest) Validate() error {
	if strings.TrimSpace(r.Message) == "" {
		return ErrEmptyMessage
	}
	if r.Level == "" {
		r.Level = LevelInfo
	}
	if !r.Level.IsValid() {
		return ErrInvalidLevel
	}
	return nil
}
