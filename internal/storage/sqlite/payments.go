package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
)

// ListCompletedPayments returns the completed ledger payments for a
// settlement date, oldest first. Pending and failed payments never
// participate in settlement.
func (s *SQLiteStore) ListCompletedPayments(ctx context.Context, settlementDate string) ([]models.Payment, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, member_id, amount, status, settlement_date, sha_portion,
		        delegate_commission, coordinator_commission,
		        commission_delegate_id, commission_coordinator_id, created_at
		 FROM payments
		 WHERE settlement_date = ? AND status = ?
		 ORDER BY created_at, id`,
		settlementDate, string(models.PaymentCompleted),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	var payments []models.Payment
	for rows.Next() {
		var (
			p                     models.Payment
			amount, sha, del, crd string
			status                string
		)
		err := rows.Scan(&p.ID, &p.MemberID, &amount, &status, &p.SettlementDate,
			&sha, &del, &crd, &p.CommissionDelegateID, &p.CommissionCoordinatorID,
			&p.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		p.Status = models.PaymentStatus(status)
		if p.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		if p.ShaPortion, err = scanDecimal(sha); err != nil {
			return nil, err
		}
		if p.DelegateCommission, err = scanDecimal(del); err != nil {
			return nil, err
		}
		if p.CoordinatorCommission, err = scanDecimal(crd); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payments: %w", err)
	}
	return payments, nil
}

// CreatePayment records a ledger payment. The engine itself never calls
// this; it exists for the seeder and tests.
func (s *SQLiteStore) CreatePayment(ctx context.Context, payment *models.Payment) error {
	if payment.ID == "" {
		payment.ID = uuid.New().String()
	}
	if payment.CreatedAt == 0 {
		payment.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO payments (id, member_id, amount, status, settlement_date,
		 sha_portion, delegate_commission, coordinator_commission,
		 commission_delegate_id, commission_coordinator_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID, payment.MemberID, payment.Amount.String(), string(payment.Status),
		payment.SettlementDate, payment.ShaPortion.String(),
		payment.DelegateCommission.String(), payment.CoordinatorCommission.String(),
		payment.CommissionDelegateID, payment.CommissionCoordinatorID, payment.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}
	return nil
}

// GetMember retrieves a directory entry by ID.
func (s *SQLiteStore) GetMember(ctx context.Context, id string) (*models.Member, error) {
	var (
		m    models.Member
		role string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, full_name, phone_number, role, delegate_id, coordinator_id, active, created_at
		 FROM members WHERE id = ?`, id).
		Scan(&m.ID, &m.FullName, &m.PhoneNumber, &role, &m.DelegateID,
			&m.CoordinatorID, &m.Active, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Errorf(errs.KindNotFound, "member.get", "member not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	m.Role = models.MemberRole(role)
	return &m, nil
}

// CreateMember registers a directory entry.
func (s *SQLiteStore) CreateMember(ctx context.Context, member *models.Member) error {
	if member.ID == "" {
		member.ID = uuid.New().String()
	}
	if member.CreatedAt == 0 {
		member.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO members (id, full_name, phone_number, role, delegate_id, coordinator_id, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		member.ID, member.FullName, member.PhoneNumber, string(member.Role),
		member.DelegateID, member.CoordinatorID, member.Active, member.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create member: %w", err)
	}
	return nil
}
