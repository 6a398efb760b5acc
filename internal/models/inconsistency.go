package models

import "time"

type InconsistencyKind string

const (
	InconsistencyRefunded         InconsistencyKind = "refunded"
	InconsistencyUnfulfilled      InconsistencyKind = "unfulfilled"
	InconsistencyReleaseFailed    InconsistencyKind = "release_failed"
	InconsistencyCompensateFailed InconsistencyKind = "compensation_failed"
)

// Inconsistency is an operator-visible record of a partially applied purchase.
type Inconsistency struct {
	ID        int64             `json:"id"`
	OrderID   *int64            `json:"order_id,omitempty"`
	UserID    int64             `json:"user_id"`
	Kind      InconsistencyKind `json:"kind"`
	Detail    string            `json:"detail"`
	Resolved  bool              `json:"resolved"`
	CreatedAt time.Time         `json:"created_at"`
}

type Stats struct {
	Users           int64                `json:"users"`
	OrdersByState   map[OrderState]int64 `json:"orders_by_state"`
	Revenue         int64                `json:"revenue"`
	PendingReceipts int64                `json:"pending_receipts"`
	Stock           []StockLevel         `json:"stock"`
	OpenTickets     int64                `json:"open_tickets"`
}
