package postgres

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/mwukenya/settlement/internal/models"
)

// decimalFromColumn parses a numeric column scanned as text.
func decimalFromColumn(value string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt decimal column %q: %w", value, err)
	}
	return d, nil
}

// Row types carry the GORM schema mapping so the domain models stay free of
// persistence tags. Monetary columns are numeric(20,4); ledger amounts carry
// at most four decimal places so sums and the residual stay exact.

type memberRow struct {
	ID            string `gorm:"primaryKey;size:36"`
	FullName      string `gorm:"size:255;not null"`
	PhoneNumber   string `gorm:"size:32;not null"`
	Role          string `gorm:"size:16;not null"`
	DelegateID    string `gorm:"size:36;not null;default:''"`
	CoordinatorID string `gorm:"size:36;not null;default:''"`
	Active        bool   `gorm:"not null;default:true"`
	CreatedAt     int64  `gorm:"not null"`
}

func (memberRow) TableName() string { return "members" }

type paymentRow struct {
	ID                      string          `gorm:"primaryKey;size:36"`
	MemberID                string          `gorm:"size:36;not null;index"`
	Amount                  decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Status                  string          `gorm:"size:16;not null;index:idx_payments_date_status,priority:2"`
	SettlementDate          string          `gorm:"size:10;not null;index:idx_payments_date_status,priority:1"`
	ShaPortion              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	DelegateCommission      decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CoordinatorCommission   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	CommissionDelegateID    string          `gorm:"size:36;not null;default:''"`
	CommissionCoordinatorID string          `gorm:"size:36;not null;default:''"`
	CreatedAt               int64           `gorm:"not null"`
}

func (paymentRow) TableName() string { return "payments" }

type settlementRow struct {
	ID                          string          `gorm:"primaryKey;size:36"`
	SettlementDate              string          `gorm:"size:10;not null;uniqueIndex"`
	TotalCollected              decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	ShaAmount                   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	MwuAmount                   decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TotalDelegateCommissions    decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TotalCoordinatorCommissions decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	TotalPayments               int             `gorm:"not null"`
	UniqueMembers               int             `gorm:"not null"`
	Status                      string          `gorm:"size:16;not null;index"`
	ProcessedAt                 int64           `gorm:"not null;default:0"`
	ProcessedBy                 string          `gorm:"size:128;not null;default:''"`
	FailureReason               string          `gorm:"not null;default:''"`
	CreatedAt                   int64           `gorm:"not null"`
	UpdatedAt                   int64           `gorm:"not null"`
}

func (settlementRow) TableName() string { return "settlements" }

type payoutRow struct {
	ID                   string          `gorm:"primaryKey;size:36"`
	SettlementID         string          `gorm:"size:36;not null;uniqueIndex:ux_payout_recipient,priority:1;index:idx_payouts_settlement_status,priority:1"`
	RecipientID          string          `gorm:"size:36;not null;uniqueIndex:ux_payout_recipient,priority:2"`
	RecipientType        string          `gorm:"size:16;not null;uniqueIndex:ux_payout_recipient,priority:3"`
	Amount               decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	PaymentCount         int             `gorm:"not null"`
	Status               string          `gorm:"size:16;not null;index:idx_payouts_settlement_status,priority:2"`
	PaymentMethod        string          `gorm:"size:32;not null;default:''"`
	TransactionReference string          `gorm:"size:128;not null;default:''"`
	ConversationID       string          `gorm:"size:128;not null;default:'';index"`
	FailureReason        string          `gorm:"not null;default:''"`
	ProcessedAt          int64           `gorm:"not null;default:0"`
	CreatedAt            int64           `gorm:"not null"`
	UpdatedAt            int64           `gorm:"not null"`
}

func (payoutRow) TableName() string { return "commission_payouts" }

type transferRow struct {
	ID            string          `gorm:"primaryKey;size:36"`
	SettlementID  string          `gorm:"size:36;not null;uniqueIndex:ux_transfer_portion,priority:1"`
	Portion       string          `gorm:"size:8;not null;uniqueIndex:ux_transfer_portion,priority:2"`
	Amount        decimal.Decimal `gorm:"type:numeric(20,4);not null"`
	Status        string          `gorm:"size:16;not null"`
	TransactionID string          `gorm:"size:128;not null;default:''"`
	FailureReason string          `gorm:"not null;default:''"`
	CreatedAt     int64           `gorm:"not null"`
	UpdatedAt     int64           `gorm:"not null"`
}

func (transferRow) TableName() string { return "bank_transfers" }

type callbackRow struct {
	ID             string `gorm:"primaryKey;size:36"`
	ConversationID string `gorm:"size:128;not null"`
	Outcome        string `gorm:"size:16;not null"`
	Detail         string `gorm:"not null;default:''"`
	ReceivedAt     int64  `gorm:"not null;index"`
}

func (callbackRow) TableName() string { return "gateway_callbacks" }

func memberToModel(r *memberRow) *models.Member {
	return &models.Member{
		ID:            r.ID,
		FullName:      r.FullName,
		PhoneNumber:   r.PhoneNumber,
		Role:          models.MemberRole(r.Role),
		DelegateID:    r.DelegateID,
		CoordinatorID: r.CoordinatorID,
		Active:        r.Active,
		CreatedAt:     r.CreatedAt,
	}
}

func paymentToModel(r *paymentRow) models.Payment {
	return models.Payment{
		ID:                      r.ID,
		MemberID:                r.MemberID,
		Amount:                  r.Amount,
		Status:                  models.PaymentStatus(r.Status),
		SettlementDate:          r.SettlementDate,
		ShaPortion:              r.ShaPortion,
		DelegateCommission:      r.DelegateCommission,
		CoordinatorCommission:   r.CoordinatorCommission,
		CommissionDelegateID:    r.CommissionDelegateID,
		CommissionCoordinatorID: r.CommissionCoordinatorID,
		CreatedAt:               r.CreatedAt,
	}
}

func settlementToModel(r *settlementRow) *models.Settlement {
	return &models.Settlement{
		ID:                          r.ID,
		SettlementDate:              r.SettlementDate,
		TotalCollected:              r.TotalCollected,
		ShaAmount:                   r.ShaAmount,
		MwuAmount:                   r.MwuAmount,
		TotalDelegateCommissions:    r.TotalDelegateCommissions,
		TotalCoordinatorCommissions: r.TotalCoordinatorCommissions,
		TotalPayments:               r.TotalPayments,
		UniqueMembers:               r.UniqueMembers,
		Status:                      models.SettlementStatus(r.Status),
		ProcessedAt:                 r.ProcessedAt,
		ProcessedBy:                 r.ProcessedBy,
		FailureReason:               r.FailureReason,
		CreatedAt:                   r.CreatedAt,
		UpdatedAt:                   r.UpdatedAt,
	}
}

func payoutToModel(r *payoutRow) models.CommissionPayout {
	return models.CommissionPayout{
		ID:                   r.ID,
		SettlementID:         r.SettlementID,
		RecipientID:          r.RecipientID,
		RecipientType:        models.RecipientType(r.RecipientType),
		Amount:               r.Amount,
		PaymentCount:         r.PaymentCount,
		Status:               models.PayoutStatus(r.Status),
		PaymentMethod:        r.PaymentMethod,
		TransactionReference: r.TransactionReference,
		ConversationID:       r.ConversationID,
		FailureReason:        r.FailureReason,
		ProcessedAt:          r.ProcessedAt,
		CreatedAt:            r.CreatedAt,
		UpdatedAt:            r.UpdatedAt,
	}
}

func transferToModel(r *transferRow) models.BankTransfer {
	return models.BankTransfer{
		ID:            r.ID,
		SettlementID:  r.SettlementID,
		Portion:       models.TransferPortion(r.Portion),
		Amount:        r.Amount,
		Status:        models.TransferStatus(r.Status),
		TransactionID: r.TransactionID,
		FailureReason: r.FailureReason,
		CreatedAt:     r.CreatedAt,
		UpdatedAt:     r.UpdatedAt,
	}
}
