package models

import "github.com/shopspring/decimal"

// SettlementStatus is the lifecycle state of a daily settlement.
type SettlementStatus string

const (
	// SettlementPending means the settlement has been generated but not
	// yet processed.
	SettlementPending SettlementStatus = "pending"

	// SettlementProcessing means processing has started; the transition is
	// committed before any external call so a crash resumes here instead of
	// risking double submission.
	SettlementProcessing SettlementStatus = "processing"

	// SettlementCompleted means every attempted payout and bank transfer
	// succeeded, or the settlement covered zero payments.
	SettlementCompleted SettlementStatus = "completed"

	// SettlementFailed is terminal and only ever declared by an operator;
	// no code path enters it automatically.
	SettlementFailed SettlementStatus = "failed"
)

// Settlement is one calendar day's finalized aggregation of completed
// payments. Totals are an immutable snapshot taken at generation time; later
// payout or transfer failures never alter them.
type Settlement struct {
	// ID is the unique identifier for the settlement (UUID format).
	ID string

	// SettlementDate is the calendar day ("YYYY-MM-DD") this settlement
	// covers. Exactly one settlement may ever exist per date.
	SettlementDate string

	// TotalCollected is the gross sum of all completed payments on the date.
	TotalCollected decimal.Decimal

	// ShaAmount is the national insurer's share.
	ShaAmount decimal.Decimal

	// MwuAmount is the union's residual share:
	// TotalCollected - ShaAmount - delegate total - coordinator total.
	MwuAmount decimal.Decimal

	// TotalDelegateCommissions is the sum owed to delegates.
	TotalDelegateCommissions decimal.Decimal

	// TotalCoordinatorCommissions is the sum owed to coordinators.
	TotalCoordinatorCommissions decimal.Decimal

	// TotalPayments counts the payments aggregated into this settlement.
	TotalPayments int

	// UniqueMembers counts distinct paying members.
	UniqueMembers int

	// Status is the lifecycle state.
	Status SettlementStatus

	// ProcessedAt is the Unix timestamp of the last processing run, zero if
	// never processed.
	ProcessedAt int64

	// ProcessedBy identifies the operator (or scheduler) that processed it.
	ProcessedBy string

	// FailureReason records why an operator declared the settlement failed.
	FailureReason string

	// CreatedAt is the Unix timestamp when the settlement was generated.
	CreatedAt int64

	// UpdatedAt is the Unix timestamp of the last status change.
	UpdatedAt int64
}

// TotalsDrift returns TotalCollected minus the sum of all shares. A correctly
// generated settlement has exactly zero drift.
func (s *Settlement) TotalsDrift() decimal.Decimal {
	shares := s.ShaAmount.
		Add(s.MwuAmount).
		Add(s.TotalDelegateCommissions).
		Add(s.TotalCoordinatorCommissions)
	return s.TotalCollected.Sub(shares)
}
