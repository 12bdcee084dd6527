// Package model defines the domain types used across the application.
package model

import "time"

// Direction is the travel direction an alert is restricted to.
type Direction string

// Supported directions.
const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Alert is a user's interest filter. A nil field matches any value.
type Alert struct {
	ID        int64
	UserID    string
	Route     *string
	Time      *string
	Direction *Direction
	CreatedAt time.Time
}

// DeliveryMethod selects how notifications reach a user.
type DeliveryMethod string

// Supported delivery methods.
const (
	DeliveryDirect  DeliveryMethod = "discord_DM"
	DeliveryChannel DeliveryMethod = "discord_channel"
)

// PrefDeliveryMethod is the preference key holding a user's DeliveryMethod.
const PrefDeliveryMethod = "delivery_method"

// Preference is a single per-user setting.
type Preference struct {
	UserID string
	Key    string
	Value  string
}

// DefaultHeading is used for notifications enqueued without a heading.
const DefaultHeading = "General Alert"

// Notification is one deduplicated unit of outbound content bound to one recipient.
type Notification struct {
	ID        int64
	Hash      string
	Heading   string
	Text      string
	Recipient string
	Sent      bool
	CreatedAt time.Time
	SentAt    *time.Time
}

// Announcement is a single item published by the bulletin source.
type Announcement struct {
	PublishedAt time.Time
	Title       string
	URL         string
	Description *string
	Location    string
}

// ParseDeliveryMethod maps a stored preference value to a DeliveryMethod.
// Unknown or empty values fall back to direct delivery.
func ParseDeliveryMethod(v string) (DeliveryMethod, bool) {
	switch DeliveryMethod(v) {
	case DeliveryDirect:
		return DeliveryDirect, true
	case DeliveryChannel:
		return DeliveryChannel, true
	}
	return DeliveryDirect, false
}
