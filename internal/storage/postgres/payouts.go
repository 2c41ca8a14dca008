package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
)

// GetPayout retrieves a commission payout by ID.
func (s *PostgresStore) GetPayout(ctx context.Context, id string) (*models.CommissionPayout, error) {
	var row payoutRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Errorf(errs.KindNotFound, "payout.get", "payout not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	payout := payoutToModel(&row)
	return &payout, nil
}

// GetPayoutByConversationID retrieves the payout a gateway callback refers to.
func (s *PostgresStore) GetPayoutByConversationID(ctx context.Context, conversationID string) (*models.CommissionPayout, error) {
	if conversationID == "" {
		return nil, errs.Errorf(errs.KindValidation, "payout.get", "conversation ID is empty")
	}
	var row payoutRow
	err := s.db.WithContext(ctx).First(&row, "conversation_id = ?", conversationID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Errorf(errs.KindNotFound, "payout.get",
			"no payout for conversation %s", conversationID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout by conversation: %w", err)
	}
	payout := payoutToModel(&row)
	return &payout, nil
}

// ListPayoutsBySettlement returns a settlement's payouts, optionally
// filtered by status.
func (s *PostgresStore) ListPayoutsBySettlement(ctx context.Context, settlementID string, status models.PayoutStatus) ([]models.CommissionPayout, error) {
	query := s.db.WithContext(ctx).Where("settlement_id = ?", settlementID)
	if status != "" {
		query = query.Where("status = ?", string(status))
	}

	var rows []payoutRow
	if err := query.Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list payouts: %w", err)
	}

	payouts := make([]models.CommissionPayout, 0, len(rows))
	for i := range rows {
		payouts = append(payouts, payoutToModel(&rows[i]))
	}
	return payouts, nil
}

// MarkPayoutSubmitted records a gateway submission.
func (s *PostgresStore) MarkPayoutSubmitted(ctx context.Context, id, conversationID, paymentMethod string) error {
	res := s.db.WithContext(ctx).Model(&payoutRow{}).
		Where("id = ? AND status IN ?", id, []string{
			string(models.PayoutPending),
			string(models.PayoutFailed),
		}).
		Updates(map[string]any{
			"status":          string(models.PayoutProcessing),
			"conversation_id": conversationID,
			"payment_method":  paymentMethod,
			"failure_reason":  "",
			"updated_at":      time.Now().Unix(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark payout submitted: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		return nil
	}

	current, err := s.GetPayout(ctx, id)
	if err != nil {
		return err
	}
	return errs.Errorf(errs.KindInvalidState, "payout.submit",
		"payout %s is %s", id, current.Status)
}

// MarkPayoutProcessed records gateway confirmation; duplicates are no-ops.
func (s *PostgresStore) MarkPayoutProcessed(ctx context.Context, id, transactionReference string) error {
	now := time.Now().Unix()
	res := s.db.WithContext(ctx).Model(&payoutRow{}).
		Where("id = ? AND status IN ?", id, []string{
			string(models.PayoutPending),
			string(models.PayoutProcessing),
		}).
		Updates(map[string]any{
			"status":                string(models.PayoutProcessed),
			"transaction_reference": transactionReference,
			"failure_reason":        "",
			"processed_at":          now,
			"updated_at":            now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark payout processed: %w", res.Error)
	}
	return s.checkPayoutTerminal(ctx, res.RowsAffected, id, "payout.confirm", models.PayoutProcessed)
}

// MarkPayoutFailed records gateway rejection. Failing an already failed
// payout refreshes the reason; a processed payout cannot be failed.
func (s *PostgresStore) MarkPayoutFailed(ctx context.Context, id, reason string) error {
	res := s.db.WithContext(ctx).Model(&payoutRow{}).
		Where("id = ? AND status IN ?", id, []string{
			string(models.PayoutPending),
			string(models.PayoutProcessing),
			string(models.PayoutFailed),
		}).
		Updates(map[string]any{
			"status":         string(models.PayoutFailed),
			"failure_reason": reason,
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark payout failed: %w", res.Error)
	}
	return s.checkPayoutTerminal(ctx, res.RowsAffected, id, "payout.fail", models.PayoutFailed)
}

func (s *PostgresStore) checkPayoutTerminal(ctx context.Context, affected int64, id, op string, target models.PayoutStatus) error {
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

// GetPayoutStatistics aggregates a settlement's payouts by status in Go,
// keeping decimal arithmetic out of SQL.
func (s *PostgresStore) GetPayoutStatistics(ctx context.Context, settlementID string) (*models.PayoutStatistics, error) {
	var rows []struct {
		Status string
		Amount string
	}
	err := s.db.WithContext(ctx).Model(&payoutRow{}).
		Select("status", "amount").
		Where("settlement_id = ?", settlementID).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query payout statistics: %w", err)
	}

	stats := &models.PayoutStatistics{SettlementID: settlementID}
	for _, row := range rows {
		value, err := decimalFromColumn(row.Amount)
		if err != nil {
			return nil, err
		}

		stats.TotalCount++
		stats.TotalAmount = stats.TotalAmount.Add(value)
		switch models.PayoutStatus(row.Status) {
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
	return stats, nil
}
