package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
)

const payoutColumns = `id, settlement_id, recipient_id, recipient_type, amount,
	payment_count, status, payment_method, transaction_reference, conversation_id,
	failure_reason, processed_at, created_at, updated_at`

func scanPayout(row rowScanner) (*models.CommissionPayout, error) {
	var (
		p                     models.CommissionPayout
		amount, rtype, status string
	)
	err := row.Scan(&p.ID, &p.SettlementID, &p.RecipientID, &rtype, &amount,
		&p.PaymentCount, &status, &p.PaymentMethod, &p.TransactionReference,
		&p.ConversationID, &p.FailureReason, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.RecipientType = models.RecipientType(rtype)
	p.Status = models.PayoutStatus(status)
	if p.Amount, err = scanDecimal(amount); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetPayout retrieves a commission payout by ID.
func (s *SQLiteStore) GetPayout(ctx context.Context, id string) (*models.CommissionPayout, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM commission_payouts WHERE id = ?`, id)
	payout, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Errorf(errs.KindNotFound, "payout.get", "payout not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return payout, nil
}

// GetPayoutByConversationID retrieves the payout a gateway callback refers
// to. Empty conversation IDs never match; unsubmitted payouts have none.
func (s *SQLiteStore) GetPayoutByConversationID(ctx context.Context, conversationID string) (*models.CommissionPayout, error) {
	if conversationID == "" {
		return nil, errs.Errorf(errs.KindValidation, "payout.get", "conversation ID is empty")
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+payoutColumns+` FROM commission_payouts WHERE conversation_id = ?`, conversationID)
	payout, err := scanPayout(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errs.Errorf(errs.KindNotFound, "payout.get",
			"no payout for conversation %s", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout by conversation: %w", err)
	}
	return payout, nil
}

// ListPayoutsBySettlement returns a settlement's payouts, optionally
// filtered by status. An empty status returns all of them.
func (s *SQLiteStore) ListPayoutsBySettlement(ctx context.Context, settlementID string, status models.PayoutStatus) ([]models.CommissionPayout, error) {
	query := `SELECT ` + payoutColumns + ` FROM commission_payouts WHERE settlement_id = ?`
	args := []any{settlementID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, string(status))
	}
	query += ` ORDER BY created_at, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}
	defer rows.Close()

	var payouts []models.CommissionPayout
	for rows.Next() {
		payout, err := scanPayout(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payout: %w", err)
		}
		payouts = append(payouts, *payout)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payouts: %w", err)
	}
	return payouts, nil
}

// MarkPayoutSubmitted records a gateway submission: pending or failed moves
// to processing and the conversation ID is stored for callback correlation.
func (s *SQLiteStore) MarkPayoutSubmitted(ctx context.Context, id, conversationID, paymentMethod string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE commission_payouts
		 SET status = ?, conversation_id = ?, payment_method = ?, failure_reason = '', updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.PayoutProcessing), conversationID, paymentMethod, now,
		id, string(models.PayoutPending), string(models.PayoutFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to mark payout submitted: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.GetPayout(ctx, id)
	if err != nil {
		return err
	}
	return errs.Errorf(errs.KindInvalidState, "payout.submit",
		"payout %s is %s", id, current.Status)
}

// MarkPayoutProcessed records gateway confirmation. Repeating a confirmation
// for an already processed payout is a no-op so duplicate callbacks are
// harmless; a payout already failed cannot be confirmed.
func (s *SQLiteStore) MarkPayoutProcessed(ctx context.Context, id, transactionReference string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE commission_payouts
		 SET status = ?, transaction_reference = ?, failure_reason = '', processed_at = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?)`,
		string(models.PayoutProcessed), transactionReference, now, now,
		id, string(models.PayoutPending), string(models.PayoutProcessing),
	)
	if err != nil {
		return fmt.Errorf("failed to mark payout processed: %w", err)
	}
	return s.checkPayoutTerminal(ctx, res, id, "payout.confirm", models.PayoutProcessed)
}

// MarkPayoutFailed records gateway rejection. Failing an already failed
// payout refreshes the reason, so a failed resubmission keeps the latest
// cause on record; a processed payout cannot be failed afterwards.
func (s *SQLiteStore) MarkPayoutFailed(ctx context.Context, id, reason string) error {
	now := time.Now().Unix()
	res, err := s.db.ExecContext(ctx,
		`UPDATE commission_payouts
		 SET status = ?, failure_reason = ?, updated_at = ?
		 WHERE id = ? AND status IN (?, ?, ?)`,
		string(models.PayoutFailed), reason, now,
		id, string(models.PayoutPending), string(models.PayoutProcessing),
		string(models.PayoutFailed),
	)
	if err != nil {
		return fmt.Errorf("failed to mark payout failed: %w", err)
	}
	return s.checkPayoutTerminal(ctx, res, id, "payout.fail", models.PayoutFailed)
}

func (s *SQLiteStore) checkPayoutTerminal(ctx context.Context, res sql.Result, id, op string, target models.PayoutStatus) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected > 0 {
		return nil
	}

	current, err := s.GetPayout(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == target {
		return nil
	}
	return errs.Errorf(errs.KindInvalidState, op,
		"payout %s is already %s", id, current.Status)
}

// GetPayoutStatistics aggregates a settlement's payouts by status. Amounts
// are summed in Go so decimal strings never round through SQL arithmetic.
func (s *SQLiteStore) GetPayoutStatistics(ctx context.Context, settlementID string) (*models.PayoutStatistics, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT status, amount FROM commission_payouts WHERE settlement_id = ?`, settlementID)
	if err != nil {
		return nil, fmt.Errorf("failed to query payout statistics: %w", err)
	}
	defer rows.Close()

	stats := &models.PayoutStatistics{SettlementID: settlementID}
	for rows.Next() {
		var status, amount string
		if err := rows.Scan(&status, &amount); err != nil {
			return nil, fmt.Errorf("failed to scan payout statistics: %w", err)
		}
		value, err := scanDecimal(amount)
		if err != nil {
			return nil, err
		}

		stats.TotalCount++
		stats.TotalAmount = stats.TotalAmount.Add(value)
		switch models.PayoutStatus(status) {
		case models.PayoutPending:
			stats.PendingCount++
			stats.PendingAmount = stats.PendingAmount.Add(value)
		case models.PayoutProcessing:
			stats.ProcessingCount++
			stats.ProcessingAmount = stats.ProcessingAmount.Add(value)
		case models.PayoutProcessed:
			stats.ProcessedCount++
			stats.ProcessedAmount = stats.ProcessedAmount.Add(value)
		case models.PayoutFailed:
			stats.FailedCount++
			stats.FailedAmount = stats.FailedAmount.Add(value)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate payout statistics: %w", err)
	}
	return stats, nil
}
