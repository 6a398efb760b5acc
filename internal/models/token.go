package models

import "time"

// AdminClaims is what the admin API keeps in a signed session token.
type AdminClaims struct {
	AdminID   int64     `json:"admin_id"`
	Username  string    `json:"sub"`
	ExpiresAt time.Time `json:"exp"`
	IssuedAt  time.Time `json:"iat"`
}
