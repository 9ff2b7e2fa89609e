package types

import "time"

// Notification is one availability notice fanned out to every recipient.
type Notification struct {
	ID         string    `json:"id" yaml:"id"`
	CreatedAt  time.Time `json:"created_at" yaml:"created_at"`
	Eligible   []int     `json:"eligible" yaml:"eligible"`
	Subject    string    `json:"subject" yaml:"subject"`
	Body       string    `json:"body" yaml:"body"`
	Recipients []string  `json:"recipients" yaml:"recipients"`
}
