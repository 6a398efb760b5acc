package models

import "time"

type ReceiptPurpose string

const (
	PurposeWalletTopup  ReceiptPurpose = "wallet_topup"
	PurposeOrderPayment ReceiptPurpose = "order_payment"
)

type ReceiptStatus string

const (
	ReceiptPending  ReceiptStatus = "pending"
	ReceiptApproved ReceiptStatus = "approved"
	ReceiptRejected ReceiptStatus = "rejected"
)

type Receipt struct {
	ID         int64          `json:"id"`
	UserID     int64          `json:"user_id"`
	Purpose    ReceiptPurpose `json:"purpose"`
	Amount     int64          `json:"amount"`
	Status     ReceiptStatus  `json:"status"`
	FileRef    string         `json:"file_ref"`
	OrderID    *int64         `json:"order_id,omitempty"`
	ReviewedBy *int64         `json:"reviewed_by,omitempty"`
	ReviewedAt *time.Time     `json:"reviewed_at,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
