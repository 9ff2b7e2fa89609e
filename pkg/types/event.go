package types

import "time"

type EventType string

const (
	EventStateChanged       EventType = "StateChanged"
	EventQuietHours         EventType = "QuietHours"
	EventPollSucceeded      EventType = "PollSucceeded"
	EventPollFailed         EventType = "PollFailed"
	EventEligibilityChanged EventType = "EligibilityChanged"
	EventNotified           EventType = "Notified"
	EventDeliveryFailed     EventType = "DeliveryFailed"
	EventConfigReloaded     EventType = "ConfigReloaded"
	EventConfigReloadFailed EventType = "ConfigReloadFailed"
)

type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"ts"`
	Details   map[string]any `json:"details,omitempty"`
}
