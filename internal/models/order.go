package models

import "time"

type OrderState string

const (
	OrderPending   OrderState = "pending"
	OrderPaid      OrderState = "paid"
	OrderFulfilled OrderState = "fulfilled"
	OrderExpired   OrderState = "expired"
	OrderCancelled OrderState = "cancelled"
)

var orderTransitions = map[OrderState][]OrderState{
	OrderPending: {OrderPaid, OrderCancelled},
	OrderPaid:    {OrderFulfilled, OrderExpired},
}

// CanTransition reports whether s -> to is an edge of the order lifecycle.
func (s OrderState) CanTransition(to OrderState) bool {
	for _, next := range orderTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s OrderState) Terminal() bool {
	return len(orderTransitions[s]) == 0
}

type PaymentMethod string

const (
	PaymentNone    PaymentMethod = ""
	PaymentWallet  PaymentMethod = "wallet"
	PaymentReceipt PaymentMethod = "receipt"
)

type Order struct {
	ID              int64         `json:"id"`
	UserID          int64         `json:"user_id"`
	PlanID          int64         `json:"plan_id"`
	BasePrice       int64         `json:"base_price"`
	Price           int64         `json:"price"`
	DiscountCodeID  *int64        `json:"discount_code_id,omitempty"`
	DiscountToken   string        `json:"discount_token,omitempty"`
	DiscountPercent int           `json:"discount_percent,omitempty"`
	State           OrderState    `json:"state"`
	PaymentMethod   PaymentMethod `json:"payment_method,omitempty"`
	ReceiptID       *int64        `json:"receipt_id,omitempty"`
	UnitID          *int64        `json:"unit_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	ExpiresAt       time.Time     `json:"expires_at"`
	PaidAt          *time.Time    `json:"paid_at,omitempty"`
	FulfilledAt     *time.Time    `json:"fulfilled_at,omitempty"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

// Reservation rebuilds the discount reservation carried by the order, if any.
func (o *Order) Reservation() *Reservation {
	if o.DiscountCodeID == nil || o.DiscountToken == "" {
		return nil
	}
	return &Reservation{Token: o.DiscountToken, CodeID: *o.DiscountCodeID, Percent: o.DiscountPercent}
}

// OrderPatch carries the fields written together with a state transition.
type OrderPatch struct {
	PaymentMethod PaymentMethod
	PaidAt        *time.Time
	FulfilledAt   *time.Time
	UnitID        *int64
	ExpiresAt     *time.Time
}
