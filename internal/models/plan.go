package models

import "time"

type Plan struct {
	ID           int64     `json:"id" yaml:"-"`
	Name         string    `json:"name" yaml:"name"`
	Price        int64     `json:"price" yaml:"price"`
	DurationDays int       `json:"duration_days" yaml:"duration_days"`
	Traffic      string    `json:"traffic" yaml:"traffic"`
	Active       bool      `json:"active" yaml:"active"`
	CreatedAt    time.Time `json:"created_at" yaml:"-"`
}

// InventoryUnit is one sellable piece of provisioned content. Once claimed it
// belongs to OrderID; once delivered it is never returned to the pool.
type InventoryUnit struct {
	ID        int64      `json:"id"`
	PlanID    int64      `json:"plan_id"`
	Payload   string     `json:"payload"`
	Claimed   bool       `json:"claimed"`
	Delivered bool       `json:"delivered"`
	OrderID   *int64     `json:"order_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

type StockLevel struct {
	PlanID    int64 `json:"plan_id"`
	Total     int64 `json:"total"`
	Claimed   int64 `json:"claimed"`
	Available int64 `json:"available"`
}
