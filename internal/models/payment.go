package models

import "github.com/shopspring/decimal"

// PaymentStatus is the lifecycle state of a ledger payment.
type PaymentStatus string

const (
	// PaymentCompleted marks a payment whose funds have been collected.
	// Only completed payments participate in settlement.
	PaymentCompleted PaymentStatus = "completed"

	// PaymentPending marks a payment still awaiting collection.
	PaymentPending PaymentStatus = "pending"

	// PaymentFailed marks a payment whose collection failed.
	PaymentFailed PaymentStatus = "failed"
)

// Payment is one member micro-payment as recorded in the ledger. The engine
// reads payments; it never writes them. A payment is immutable once completed.
type Payment struct {
	// ID is the unique identifier for the payment (UUID format).
	ID string

	// MemberID references the paying member.
	MemberID string

	// Amount is the gross amount collected.
	Amount decimal.Decimal

	// Status is the collection state; settlement only reads completed rows.
	Status PaymentStatus

	// SettlementDate is the calendar day ("YYYY-MM-DD") the payment
	// settles under.
	SettlementDate string

	// ShaPortion is the national insurer's share of this payment.
	ShaPortion decimal.Decimal

	// DelegateCommission is the delegate's referral share.
	DelegateCommission decimal.Decimal

	// CoordinatorCommission is the coordinator's referral share.
	CoordinatorCommission decimal.Decimal

	// CommissionDelegateID optionally pins the credited delegate at payment
	// time. Empty means "resolve from the member's current assignment".
	CommissionDelegateID string

	// CommissionCoordinatorID optionally pins the credited coordinator at
	// payment time. Empty means "resolve from the member's current assignment".
	CommissionCoordinatorID string

	// CreatedAt is the Unix timestamp when the payment was recorded.
	CreatedAt int64
}
