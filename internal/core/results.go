package core

import "github.com/mystline/advisory/internal/domain"

// SendResult reports the two independent fates of a chat message.
// Delivered means the receiver's transport took it; Persisted means the
// store took it. Success is about the call itself, not either fate.
type SendResult struct {
	Success   bool   `json:"success"`
	Delivered bool   `json:"delivered"`
	Persisted bool   `json:"persisted"`
	Queued    bool   `json:"queued"`
	MessageID string `json:"messageId"`
	Err       string `json:"error,omitempty"`
}

type CostBreakdown struct {
	Base     int64 `json:"base"`
	Discount int64 `json:"discount"`
}

// SessionCost is the metered charge for a session. Duration is whole
// minutes rounded up; Cost is integer minor currency units.
type SessionCost struct {
	Duration  int64         `json:"duration"`
	Cost      int64         `json:"cost"`
	Breakdown CostBreakdown `json:"breakdown"`
	Free      bool          `json:"isFree,omitempty"`
}

type PaymentResult struct {
	Success       bool   `json:"success"`
	TransactionID string `json:"transactionId,omitempty"`
	Err           string `json:"error,omitempty"`
}

type Payout struct {
	GrossAmount int64 `json:"grossAmount"`
	PlatformFee int64 `json:"platformFee"`
	NetAmount   int64 `json:"netAmount"`
}

type BillingSummary struct {
	Status        domain.TransactionStatus `json:"status"`
	TotalAmount   int64                    `json:"totalAmount"`
	PendingAmount int64                    `json:"pendingAmount,omitempty"`
	HasDispute    bool                     `json:"hasDispute,omitempty"`
}

// BillingOutcome is what ending a session yields. Err carries a store or
// payment failure that did not stop the session from closing.
type BillingOutcome struct {
	SessionID     domain.SessionID `json:"sessionId"`
	Cost          SessionCost      `json:"cost"`
	TransactionID string           `json:"transactionId,omitempty"`
	Err           string           `json:"error,omitempty"`
}
