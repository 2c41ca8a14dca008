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

const settlementColumns = `id, settlement_date, total_collected, sha_amount, mwu_amount,
	total_delegate_commissions, total_coordinator_commissions, total_payments,
	unique_members, status, processed_at, processed_by, failure_reason, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSettlement(row rowScanner) (*models.Settlement, error) {
	var (
		m                         models.Settlement
		total, sha, mwu, del, crd string
		status                    string
	)
	err := row.Scan(&m.ID, &m.SettlementDate, &total, &sha, &mwu, &del, &crd,
		&m.TotalPayments, &m.UniqueMembers, &status, &m.ProcessedAt,
		&m.ProcessedBy, &m.FailureReason, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = models.SettlementStatus(status)

	if m.TotalCollected, err = scanDecimal(total); err != nil {
		return nil, err
	}
	if m.ShaAmount, err = scanDecimal(sha); err != nil {
		return nil, err
	}
	if m.MwuAmount, err = scanDecimal(mwu); err != nil {
		return nil, err
	}
	if m.TotalDelegateCommissions, err = scanDecimal(del); err != nil {
		return nil, err
	}
	if m.TotalCoordinatorCommissions, err = scanDecimal(crd); err != nil {
		return nil, err
	}
	return &m, nil
}

// CreateSettlementWithPayouts inserts the settlement and all payout rows in
// one transaction. The settlement_date UNIQUE constraint is the concurrency
// guard: the losing caller gets a conflict error and no rows are kept.
func (s *SQLiteStore) CreateSettlementWithPayouts(ctx context.Context, settlement *models.Settlement, payouts []models.CommissionPayout) error {
	if settlement.ID == "" {
		settlement.ID = uuid.New().String()
	}
	now := time.Now().Unix()
	if settlement.CreatedAt == 0 {
		settlement.CreatedAt = now
	}
	settlement.UpdatedAt = now
	if settlement.Status == "" {
		settlement.Status = models.SettlementPending
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO settlements (`+settlementColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		settlement.ID, settlement.SettlementDate,
		settlement.TotalCollected.String(), settlement.ShaAmount.String(),
		settlement.MwuAmount.String(), settlement.TotalDelegateCommissions.String(),
		settlement.TotalCoordinatorCommissions.String(), settlement.TotalPayments,
		settlement.UniqueMembers, string(settlement.Status), settlement.ProcessedAt,
		settlement.ProcessedBy, settlement.FailureReason, settlement.CreatedAt,
		settlement.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return errs.Errorf(errs.KindConflict, "settlement.generate",
			"settlement already exists for date %s", settlement.SettlementDate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert settlement: %w", err)
	}

	for i := range payouts {
		p := &payouts[i]
		if p.ID == "" {
			p.ID = uuid.New().String()
		}
		p.SettlementID = settlement.ID
		if p.Status == "" {
			p.Status = models.PayoutPending
		}
		if p.CreatedAt == 0 {
			p.CreatedAt = now
		}
		p.UpdatedAt = now

		_, err = tx.ExecContext(ctx,
			`INSERT INTO commission_payouts (id, settlement_id, recipient_id, recipient_type,
			 amount, payment_count, status, payment_method, transaction_reference,
			 conversation_id, failure_reason, processed_at, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			p.ID, p.SettlementID, p.RecipientID, string(p.RecipientType),
			p.Amount.String(), p.PaymentCount, string(p.Status), p.PaymentMethod,
			p.TransactionReference, p.ConversationID, p.FailureReason,
			p.ProcessedAt, p.CreatedAt, p.UpdatedAt,
		)
		if isUniqueViolation(err) {
			return errs.Errorf(errs.KindConflict, "settlement.generate",
				"duplicate payout for recipient %s (%s)", p.RecipientID, p.RecipientType)
		}
		if err != nil {
			return fmt.Errorf("failed to insert payout: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetSettlement retrieves a settlement by ID.
func (s *SQLiteStore) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE id = ?`, id)
	settlement, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Errorf(errs.KindNotFound, "settlement.get", "settlement not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return settlement, nil
}

// GetSettlementByDate retrieves the settlement for a calendar date.
func (s *SQLiteStore) GetSettlementByDate(ctx context.Context, settlementDate string) (*models.Settlement, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements WHERE settlement_date = ?`, settlementDate)
	settlement, err := scanSettlement(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Errorf(errs.KindNotFound, "settlement.get",
			"no settlement for date %s", settlementDate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement by date: %w", err)
	}
	return settlement, nil
}

// ListRecentSettlements returns up to limit settlements, newest date first.
func (s *SQLiteStore) ListRecentSettlements(ctx context.Context, limit int) ([]models.Settlement, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+settlementColumns+` FROM settlements ORDER BY settlement_date DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}
	defer rows.Close()

	var settlements []models.Settlement
	for rows.Next() {
		settlement, err := scanSettlement(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan settlement: %w", err)
		}
		settlements = append(settlements, *settlement)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settlements: %w", err)
	}
	return settlements, nil
}

// MarkSettlementProcessing commits pending→processing. The guarded WHERE
// clause makes the transition single-winner under concurrent callers: the
// loser gets an invalid-state error even when the settlement is already
// processing, so only one run ever owns the checkpoint.
func (s *SQLiteStore) MarkSettlementProcessing(ctx context.Context, id, operator string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, processed_at = ?, processed_by = ?, updated_at = ?
		 WHERE id = ? AND status = ?`,
		string(models.SettlementProcessing), now, operator, now,
		id, string(models.SettlementPending),
	)
	if err != nil {
		return fmt.Errorf("failed to mark settlement processing: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}
	current, err := s.GetSettlement(ctx, id)
	if err != nil {
		return err
	}
	return errs.Errorf(errs.KindInvalidState, "settlement.process",
		"settlement %s is %s", id, current.Status)
}

// MarkSettlementCompleted commits processing→completed.
func (s *SQLiteStore) MarkSettlementCompleted(ctx context.Context, id string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, updated_at = ? WHERE id = ? AND status = ?`,
		string(models.SettlementCompleted), now, id, string(models.SettlementProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark settlement completed: %w", err)
	}
	return s.checkTransition(ctx, res, id, "settlement.complete", models.SettlementCompleted)
}

// MarkSettlementFailed commits an operator-declared terminal failure from
// pending or processing.
func (s *SQLiteStore) MarkSettlementFailed(ctx context.Context, id, operator, reason string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE settlements SET status = ?, processed_by = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.SettlementFailed), operator, reason, now,
		id, string(models.SettlementPending), string(models.SettlementProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark settlement failed: %w", err)
	}
	return s.checkTransition(ctx, res, id, "settlement.fail", models.SettlementFailed)
}

// checkTransition turns a zero-row guarded update into a not-found or
// invalid-state error, or a no-op when the settlement is already in the
// target status. Only terminal targets use this; repeating a completion or
// failure declaration is harmless, repeating the processing checkpoint is
// not.
func (s *SQLiteStore) checkTransition(ctx context.Context, res sql.Result, id, op string, target models.SettlementStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.GetSettlement(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == target {
		return nil
	}
	return errs.Errorf(errs.KindInvalidState, op,
		"settlement %s is %s", id, current.Status)
}
