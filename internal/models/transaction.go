package models

import "time"

// Transaction is an immutable ledger entry. Amount is signed: credits are
// positive, debits negative.
type Transaction struct {
	ID          int64           `json:"id"`
	UserID      int64           `json:"user_id"`
	Amount      int64           `json:"amount"`
	Kind        TransactionKind `json:"kind"`
	Description string          `json:"description"`
	Reference   string          `json:"reference,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

type TransactionKind string

const (
	KindTopup         TransactionKind = "topup"
	KindPurchaseDebit TransactionKind = "purchase_debit"
	KindAdminAdjust   TransactionKind = "admin_adjust"
	KindRefund        TransactionKind = "refund"
)

func (k TransactionKind) Valid() bool {
	switch k {
	case KindTopup, KindPurchaseDebit, KindAdminAdjust, KindRefund:
		return true
	}
	return false
}
