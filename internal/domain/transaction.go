package domain

import "time"

type TransactionType string

const (
	TxPayment TransactionType = "payment"
	TxRefund  TransactionType = "refund"
	TxPayout  TransactionType = "payout"
)

type TransactionStatus string

const (
	TxCompleted TransactionStatus = "completed"
	TxPending   TransactionStatus = "pending"
	TxDisputed  TransactionStatus = "disputed"
)

// Transaction is append-only: a correction is a new record, never an
// in-place rewrite. Amount is integer minor currency units.
type Transaction struct {
	ID        string            `json:"id"`
	SessionID SessionID         `json:"session_id"`
	UserID    UserID            `json:"user_id"`
	Type      TransactionType   `json:"type"`
	Amount    int64             `json:"amount"`
	Status    TransactionStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
}
