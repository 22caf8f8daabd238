package models

import "time"

// NotificationKind is the category of a notification.
type NotificationKind string

const (
	KindAlert      NotificationKind = "alert"
	KindCaseUpdate NotificationKind = "case_update"
	KindSLABreach  NotificationKind = "sla_breach"
	KindSystem     NotificationKind = "system"
	KindDigest     NotificationKind = "digest"
)

// Channel is a delivery channel.
type Channel string

const (
	ChannelPush  Channel = "push"
	ChannelEmail Channel = "email"
)

// Notification is an append-only delivery record. Only the read flag changes
// after insert.
type Notification struct {
	ID            string           `json:"id"`
	UserID        string           `json:"userId"`
	Kind          NotificationKind `json:"kind"`
	Channel       Channel          `json:"channel"`
	Title         string           `json:"title"`
	Message       string           `json:"message"`
	Data          string           `json:"data,omitempty"` // JSON payload
	Priority      string           `json:"priority"`
	IsRead        bool             `json:"isRead"`
	ReadAt        *time.Time       `json:"readAt,omitempty"`
	IsDelivered   bool             `json:"isDelivered"`
	DeliveredAt   *time.Time       `json:"deliveredAt,omitempty"`
	DeliveryError string           `json:"deliveryError,omitempty"`
	CreatedAt     time.Time        `json:"createdAt"`
}

// NotificationPreference holds one user's delivery settings.
type NotificationPreference struct {
	UserID            string    `json:"userId"`
	EmailEnabled      bool      `json:"emailEnabled"`
	EmailCritical     bool      `json:"emailCriticalAlerts"`
	EmailHigh         bool      `json:"emailHighAlerts"`
	EmailMedium       bool      `json:"emailMediumAlerts"`
	EmailLow          bool      `json:"emailLowAlerts"`
	EmailCaseUpdates  bool      `json:"emailCaseUpdates"`
	EmailDailyDigest  bool      `json:"emailDailyDigest"`
	PushEnabled       bool      `json:"pushEnabled"`
	PushSound         bool      `json:"pushSound"`
	QuietHoursEnabled bool      `json:"quietHoursEnabled"`
	QuietHoursStart   string    `json:"quietHoursStart,omitempty"` // HH:MM
	QuietHoursEnd     string    `json:"quietHoursEnd,omitempty"`   // HH:MM
	Timezone          string    `json:"timezone,omitempty"`
	UpdatedAt         time.Time `json:"updatedAt"`
}

// DefaultPreference is the policy applied to users without a stored row:
// email for Critical and High alerts, push always.
func DefaultPreference(userID string) NotificationPreference {
	return NotificationPreference{
		UserID:        userID,
		EmailEnabled:  true,
		EmailCritical: true,
		EmailHigh:     true,
		PushEnabled:   true,
		PushSound:     true,
	}
}
