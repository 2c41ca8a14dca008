package models

import "github.com/shopspring/decimal"

// RecipientType identifies which tier of the referral hierarchy a payout
// belongs to.
type RecipientType string

const (
	RecipientDelegate    RecipientType = "delegate"
	RecipientCoordinator RecipientType = "coordinator"
)

// PayoutStatus is the lifecycle state of a commission payout.
type PayoutStatus string

const (
	// PayoutPending means the payout row exists but has not been submitted
	// to the gateway.
	PayoutPending PayoutStatus = "pending"

	// PayoutProcessing means the gateway accepted the submission; the final
	// result arrives later through the asynchronous callback.
	PayoutProcessing PayoutStatus = "processing"

	// PayoutProcessed means the gateway confirmed the disbursement.
	PayoutProcessed PayoutStatus = "processed"

	// PayoutFailed means submission or disbursement failed; failed payouts
	// are eligible for operator-driven retry.
	PayoutFailed PayoutStatus = "failed"
)

// Terminal reports whether the status is final.
func (s PayoutStatus) Terminal() bool {
	return s == PayoutProcessed || s == PayoutFailed
}

// CommissionPayout is one recipient's commission share for one settlement,
// disbursed independently of the settlement aggregate. Exactly one payout
// exists per (settlement, recipient, recipient type).
type CommissionPayout struct {
	// ID is the unique identifier for the payout (UUID format).
	ID string

	// SettlementID references the owning settlement.
	SettlementID string

	// RecipientID references the member being paid.
	RecipientID string

	// RecipientType is the hierarchy tier the commission was earned under.
	RecipientType RecipientType

	// Amount is the commission owed; always strictly positive, since zero
	// shares never produce payout rows.
	Amount decimal.Decimal

	// PaymentCount is the number of ledger payments credited to this
	// recipient on the settlement date.
	PaymentCount int

	// Status is the lifecycle state.
	Status PayoutStatus

	// PaymentMethod names the gateway channel used, e.g. "mpesa_b2c".
	PaymentMethod string

	// TransactionReference is the gateway's final receipt identifier.
	TransactionReference string

	// ConversationID correlates the asynchronous gateway result with this
	// payout; issued at submission time and looked up by the callback.
	ConversationID string

	// FailureReason records the last submission or disbursement error.
	FailureReason string

	// ProcessedAt is the Unix timestamp when a terminal status was reached.
	ProcessedAt int64

	// CreatedAt is the Unix timestamp when the payout was generated.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last status change.
	UpdatedAt int64
}

// PayoutStatistics aggregates a settlement's payouts by status for
// observability. Counts and amounts always move together.
type PayoutStatistics struct {
	SettlementID     string
	TotalCount       int
	PendingCount     int
	ProcessingCount  int
	ProcessedCount   int
	FailedCount      int
	TotalAmount      decimal.Decimal
	PendingAmount    decimal.Decimal
	ProcessingAmount decimal.Decimal
	ProcessedAmount  decimal.Decimal
	FailedAmount     decimal.Decimal
}
