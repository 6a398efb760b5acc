package models

import "time"

type DiscountCode struct {
	ID        int64      `json:"id"`
	Code      string     `json:"code"`
	Percent   int        `json:"percent"`
	PlanID    *int64     `json:"plan_id,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	MaxUsage  int        `json:"max_usage"`
	UsedCount int        `json:"used_count"`
	CreatedAt time.Time  `json:"created_at"`
}

// Reservation is a validated but not yet redeemed discount usage.
type Reservation struct {
	Token   string `json:"token"`
	CodeID  int64  `json:"code_id"`
	Code    string `json:"code"`
	Percent int    `json:"percent"`
}

type Redemption struct {
	Token     string    `json:"token"`
	CodeID    int64     `json:"code_id"`
	OrderID   int64     `json:"order_id"`
	CreatedAt time.Time `json:"created_at"`
}
