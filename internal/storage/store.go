// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/mwukenya/settlement/internal/models"
)

// PaymentStore reads the payment ledger. The engine never mutates completed
// payments; writes exist for seeding and tests only.
type PaymentStore interface {
	// ListCompletedPayments returns all completed payments for the given
	// settlement date ("YYYY-MM-DD").
	ListCompletedPayments(ctx context.Context, settlementDate string) ([]models.Payment, error)

	// CreatePayment inserts a ledger payment (seeder/test use).
	CreatePayment(ctx context.Context, payment *models.Payment) error
}

// MemberStore reads the member directory.
type MemberStore interface {
	// GetMember retrieves a member by ID. Returns a not-found error when the
	// member does not exist.
	GetMember(ctx context.Context, id string) (*models.Member, error)

	// CreateMember inserts a directory entry (seeder/test use).
	CreateMember(ctx context.Context, member *models.Member) error
}

// SettlementStore persists daily settlements and their status transitions.
// Status-transition methods are guarded: they fail with an invalid-state
// error when the settlement is not in the expected source status, so two
// concurrent callers cannot both win a transition.
type SettlementStore interface {
	// CreateSettlementWithPayouts inserts the settlement and all its payout
	// rows in one transaction, all-or-nothing. A settlement already existing
	// for the date yields a conflict error and no rows.
	CreateSettlementWithPayouts(ctx context.Context, settlement *models.Settlement, payouts []models.CommissionPayout) error

	// GetSettlement retrieves a settlement by ID.
	GetSettlement(ctx context.Context, id string) (*models.Settlement, error)

	// GetSettlementByDate retrieves the settlement for a calendar date.
	GetSettlementByDate(ctx context.Context, settlementDate string) (*models.Settlement, error)

	// ListRecentSettlements returns up to limit settlements, newest first.
	ListRecentSettlements(ctx context.Context, limit int) ([]models.Settlement, error)

	// MarkSettlementProcessing commits pending→processing and stamps the
	// operator. This is the durable checkpoint taken before any external
	// call, and it is single-winner: any status other than pending, already
	// processing included, yields an invalid-state error.
	MarkSettlementProcessing(ctx context.Context, id, operator string) error

	// MarkSettlementCompleted commits processing→completed.
	MarkSettlementCompleted(ctx context.Context, id string) error

	// MarkSettlementFailed commits pending/processing→failed with the
	// operator's reason.
	MarkSettlementFailed(ctx context.Context, id, operator, reason string) error
}

// PayoutStore persists commission payouts and their gateway correlation.
type PayoutStore interface {
	// GetPayout retrieves a payout by ID.
	GetPayout(ctx context.Context, id string) (*models.CommissionPayout, error)

	// GetPayoutByConversationID retrieves a payout by the gateway correlation
	// token. The column is indexed; this is the webhook's hot path.
	GetPayoutByConversationID(ctx context.Context, conversationID string) (*models.CommissionPayout, error)

	// ListPayoutsBySettlement returns a settlement's payouts, optionally
	// filtered by status (empty status means all).
	ListPayoutsBySettlement(ctx context.Context, settlementID string, status models.PayoutStatus) ([]models.CommissionPayout, error)

	// MarkPayoutSubmitted commits pending/failed→processing and records the
	// gateway conversation ID and channel.
	MarkPayoutSubmitted(ctx context.Context, id, conversationID, paymentMethod string) error

	// MarkPayoutProcessed commits a terminal success. Calling it again on an
	// already processed payout is a no-op; calling it on a failed payout is
	// an invalid-state error.
	MarkPayoutProcessed(ctx context.Context, id, transactionReference string) error

	// MarkPayoutFailed commits a terminal failure. Failing an already failed
	// payout refreshes the recorded reason; failing a processed payout is an
	// invalid-state error.
	MarkPayoutFailed(ctx context.Context, id, reason string) error

	// GetPayoutStatistics aggregates a settlement's payouts by status.
	GetPayoutStatistics(ctx context.Context, settlementID string) (*models.PayoutStatistics, error)
}

// TransferStore persists bank-rail transfer records.
type TransferStore interface {
	// UpsertBankTransfer inserts or replaces the transfer row for the
	// (settlement, portion) pair.
	UpsertBankTransfer(ctx context.Context, transfer *models.BankTransfer) error

	// ListBankTransfers returns a settlement's transfer records.
	ListBankTransfers(ctx context.Context, settlementID string) ([]models.BankTransfer, error)
}

// CallbackStore keeps an audit trail of gateway callbacks for operator
// forensics; rows are purged by the cleanup job after the retention window.
type CallbackStore interface {
	RecordCallback(ctx context.Context, record *models.CallbackRecord) error
	PurgeCallbacks(ctx context.Context, olderThanUnix int64) (int64, error)
}

// Store is the full persistence surface the engine is wired against.
// This abstraction allows swapping backends (SQLite, PostgreSQL) without
// changing the service layer.
type Store interface {
	PaymentStore
	MemberStore
	SettlementStore
	PayoutStore
	TransferStore
	CallbackStore

	// Ping verifies the backend is reachable and answering queries.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}
