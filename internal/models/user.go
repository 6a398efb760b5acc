package models

import "time"

// User is keyed by the chat platform user id.
type User struct {
	ID          int64     `json:"id"`
	DisplayName string    `json:"display_name"`
	Balance     int64     `json:"balance"`
	Banned      bool      `json:"banned"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
