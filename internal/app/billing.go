package app

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mystline/advisory/internal/core"
	"github.com/mystline/advisory/internal/domain"
)

// DefaultPlatformFeeRate is the platform's cut of an advisor payout unless
// a per-advisor override is supplied.
const DefaultPlatformFeeRate = 0.15

var (
	ErrNegativeRate   = errors.New("negative rate per minute")
	ErrNegativeAmount = errors.New("negative amount")
	ErrEndBeforeStart = errors.New("end time before start time")
	ErrInvalidUser    = errors.New("invalid user id")
)

const errInsufficient = "insufficient funds"

// BillingEngine turns elapsed time and a rate into money and moves it. All
// amounts are integer minor currency units; the arithmetic is exact and
// reproducible from (duration, rate, discount) alone.
type BillingEngine struct {
	store   core.Store
	feeRate float64
}

func NewBillingEngine(store core.Store, feeRate float64) *BillingEngine {
	if feeRate <= 0 || feeRate >= 1 {
		feeRate = DefaultPlatformFeeRate
	}
	return &BillingEngine{store: store, feeRate: feeRate}
}

// MeteredMinutes counts billable whole minutes between start and end:
// rounded up, with a floor of one minute for any positive elapsed time.
func MeteredMinutes(start, end time.Time) int64 {
	elapsed := end.Sub(start)
	if elapsed <= 0 {
		return 0
	}
	minutes := int64(math.Ceil(elapsed.Minutes()))
	if minutes < 1 {
		minutes = 1
	}
	return minutes
}

type CostInput struct {
	Start         time.Time
	End           time.Time
	RatePerMinute int64
	UserID        domain.UserID
	Kind          domain.SessionKind
}

// CalculateSessionCost meters a session: whole minutes rounded up, with a
// floor of one minute for any positive elapsed time. A zero rate or a free
// consultation short-circuits to a zero charge.
func (b *BillingEngine) CalculateSessionCost(ctx context.Context, in CostInput) (core.SessionCost, error) {
	if in.RatePerMinute < 0 {
		return core.SessionCost{}, ErrNegativeRate
	}
	if in.End.Before(in.Start) {
		return core.SessionCost{}, ErrEndBeforeStart
	}

	minutes := MeteredMinutes(in.Start, in.End)

	if in.Kind == domain.KindFreeConsultation || in.RatePerMinute == 0 {
		return core.SessionCost{Duration: minutes, Free: true}, nil
	}

	base := minutes * in.RatePerMinute
	cost := core.SessionCost{
		Duration:  minutes,
		Cost:      base,
		Breakdown: core.CostBreakdown{Base: base},
	}

	if in.UserID > 0 {
		rate, err := b.store.DiscountRate(ctx, in.UserID)
		if err != nil {
			// A missing discount record never blocks settlement.
			log.Warn().Err(err).Str("module", "app.billing").Int64("user", int64(in.UserID)).Msg("discount lookup failed")
		} else if rate > 0 && rate < 1 {
			discount := int64(math.Round(float64(base) * rate))
			cost.Cost = base - discount
			cost.Breakdown.Discount = discount
		}
	}
	return cost, nil
}

type PaymentInput struct {
	SessionID domain.SessionID
	UserID    domain.UserID
	Amount    int64
}

// ProcessSessionPayment debits the user and records the transaction. Store
// failures surface as a structured result, never a panic or a throw.
func (b *BillingEngine) ProcessSessionPayment(ctx context.Context, in PaymentInput) core.PaymentResult {
	if in.UserID <= 0 {
		return core.PaymentResult{Err: ErrInvalidUser.Error()}
	}
	if in.Amount < 0 {
		return core.PaymentResult{Err: ErrNegativeAmount.Error()}
	}

	balance, err := b.store.GetUserBalance(ctx, in.UserID)
	if err != nil {
		return core.PaymentResult{Err: err.Error()}
	}
	if balance < in.Amount {
		return core.PaymentResult{Err: errInsufficient}
	}

	tx := &domain.Transaction{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Type:      domain.TxPayment,
		Amount:    in.Amount,
		Status:    domain.TxCompleted,
		CreatedAt: time.Now(),
	}
	if err := b.store.CreateTransaction(ctx, tx); err != nil {
		return core.PaymentResult{Err: err.Error()}
	}
	if _, err := b.store.UpdateUserBalance(ctx, in.UserID, -in.Amount); err != nil {
		// The transaction record stands; the balance write is retried by
		// reconciliation outside this core.
		log.Error().Err(err).Str("module", "app.billing").Str("tx", tx.ID).Msg("balance debit failed after transaction write")
		return core.PaymentResult{Success: true, TransactionID: tx.ID, Err: err.Error()}
	}
	log.Info().Str("module", "app.billing").Str("tx", tx.ID).Int64("amount", in.Amount).Msg("payment processed")
	return core.PaymentResult{Success: true, TransactionID: tx.ID}
}

// ProcessRefund credits the user and records a refund transaction.
func (b *BillingEngine) ProcessRefund(ctx context.Context, in PaymentInput) core.PaymentResult {
	if in.UserID <= 0 {
		return core.PaymentResult{Err: ErrInvalidUser.Error()}
	}
	if in.Amount < 0 {
		return core.PaymentResult{Err: ErrNegativeAmount.Error()}
	}

	tx := &domain.Transaction{
		ID:        uuid.NewString(),
		SessionID: in.SessionID,
		UserID:    in.UserID,
		Type:      domain.TxRefund,
		Amount:    in.Amount,
		Status:    domain.TxCompleted,
		CreatedAt: time.Now(),
	}
	if err := b.store.CreateTransaction(ctx, tx); err != nil {
		return core.PaymentResult{Err: err.Error()}
	}
	if _, err := b.store.UpdateUserBalance(ctx, in.UserID, in.Amount); err != nil {
		log.Error().Err(err).Str("module", "app.billing").Str("tx", tx.ID).Msg("balance credit failed after transaction write")
		return core.PaymentResult{Success: true, TransactionID: tx.ID, Err: err.Error()}
	}
	log.Info().Str("module", "app.billing").Str("tx", tx.ID).Int64("amount", in.Amount).Msg("refund processed")
	return core.PaymentResult{Success: true, TransactionID: tx.ID}
}

// CalculateAdvisorPayout splits a billed total between advisor and
// platform. A non-positive feeRate selects the engine default.
func (b *BillingEngine) CalculateAdvisorPayout(total int64, feeRate float64) core.Payout {
	if feeRate <= 0 || feeRate >= 1 {
		feeRate = b.feeRate
	}
	fee := int64(math.Round(float64(total) * feeRate))
	return core.Payout{
		GrossAmount: total,
		PlatformFee: fee,
		NetAmount:   total - fee,
	}
}

// GetSessionBilling aggregates a session's transactions. Status follows the
// most recent transaction.
func (b *BillingEngine) GetSessionBilling(ctx context.Context, sid domain.SessionID) (core.BillingSummary, error) {
	txs, err := b.store.GetTransactionsBySession(ctx, sid)
	if err != nil {
		return core.BillingSummary{}, err
	}
	if len(txs) == 0 {
		return core.BillingSummary{}, core.ErrNotFound
	}

	var sum core.BillingSummary
	latest := txs[0]
	for _, tx := range txs {
		if tx.CreatedAt.After(latest.CreatedAt) {
			latest = tx
		}
		switch tx.Status {
		case domain.TxPending:
			sum.PendingAmount += tx.Amount
		case domain.TxDisputed:
			sum.HasDispute = true
		}
		switch tx.Type {
		case domain.TxPayment:
			if tx.Status == domain.TxCompleted {
				sum.TotalAmount += tx.Amount
			}
		case domain.TxRefund:
			if tx.Status == domain.TxCompleted {
				sum.TotalAmount -= tx.Amount
			}
		}
	}
	sum.Status = latest.Status
	return sum, nil
}
