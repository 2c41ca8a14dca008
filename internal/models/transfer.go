package models

import "github.com/shopspring/decimal"

// TransferPortion names which share of a settlement a bank transfer moves.
type TransferPortion string

const (
	PortionSha TransferPortion = "sha"
	PortionMwu TransferPortion = "mwu"
)

// TransferStatus is the lifecycle state of a bank transfer.
type TransferStatus string

const (
	TransferPending   TransferStatus = "pending"
	TransferCompleted TransferStatus = "completed"
	TransferFailed    TransferStatus = "failed"
)

// BankTransfer records one settlement share pushed over the bank rail.
// Transfers resolve synchronously; re-running process updates the row for its
// (settlement, portion) pair in place rather than inserting duplicates.
type BankTransfer struct {
	ID            string
	SettlementID  string
	Portion       TransferPortion
	Amount        decimal.Decimal
	Status        TransferStatus
	TransactionID string
	FailureReason string
	CreatedAt     int64
	UpdatedAt     int64
}
