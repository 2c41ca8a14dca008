package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
)

// ListCompletedPayments returns the completed ledger payments for a
// settlement date, oldest first.
func (s *PostgresStore) ListCompletedPayments(ctx context.Context, settlementDate string) ([]models.Payment, error) {
	var rows []paymentRow
	err := s.db.WithContext(ctx).
		Where("settlement_date = ? AND status = ?", settlementDate, string(models.PaymentCompleted)).
		Order("created_at, id").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}

	payments := make([]models.Payment, 0, len(rows))
	for i := range rows {
		payments = append(payments, paymentToModel(&rows[i]))
	}
	return payments, nil
}

// CreatePayment records a ledger payment; used by the seeder and tests.
func (s *PostgresStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.CreatedAt == 0 {
		payment.CreatedAt = time.Now().Unix()
	}
	row := paymentRow{
		ID:                      payment.ID,
		MemberID:                payment.MemberID,
		Amount:                  payment.Amount,
		Status:                  string(payment.Status),
		SettlementDate:          payment.SettlementDate,
		ShaPortion:              payment.ShaPortion,
		DelegateCommission:      payment.DelegateCommission,
		CoordinatorCommission:   payment.CoordinatorCommission,
		CommissionDelegateID:    payment.CommissionDelegateID,
		CommissionCoordinatorID: payment.CommissionCoordinatorID,
		CreatedAt:               payment.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetMember retrieves a directory entry by ID.
func (s *PostgresStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var row memberRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Errorf(errs.KindNotFound, "member.get", "member not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return memberToModel(&row), nil
}

// CreateMember registers a directory entry.
func (s *PostgresStore) CreateMember(ctx context.Context, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.CreatedAt == 0 {
		member.CreatedAt = time.Now().Unix()
	}
	row := memberRow{
		ID:            member.ID,
		FullName:      member.FullName,
		PhoneNumber:   member.PhoneNumber,
		Role:          string(member.Role),
		DelegateID:    member.DelegateID,
		CoordinatorID: member.CoordinatorID,
		Active:        member.Active,
		CreatedAt:     member.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}
