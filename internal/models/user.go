package models

import "time"

// UserRecord maps a Slack user to their Trello identity. It is the only
// entity this service persists; boards and cards are fetched fresh from
// Trello on every run.
type UserRecord struct {
	ID            string    `gorm:"primaryKey" json:"id"` // Slack user ID
	Trello        string    `json:"trello"`
	TrelloWebhook string    `json:"trelloWebhook"`
	CreatedAt     time.Time `json:"-"`
	UpdatedAt     time.Time `json:"-"`
}
