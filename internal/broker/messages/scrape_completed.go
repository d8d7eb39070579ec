package messages

import "time"

// ScrapeCompleted is published after a successful scrape has been applied to
// storage. Consumers (notification senders, analytics) key on the item id.
type ScrapeCompleted struct {
	ItemID    uint64    `json:"item_id"`
	Price     float64   `json:"price"`
	Currency  string    `json:"currency,omitempty"`
	Title     string    `json:"title,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}
