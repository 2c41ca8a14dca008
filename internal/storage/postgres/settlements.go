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

// CreateSettlementWithPayouts inserts the settlement and all payout rows in
// one transaction, mirroring the sqlite implementation's conflict semantics.
func (s *PostgresStore) CreateSettlementWithPayouts(ctx context.Context, settlement *models.Settlement, payouts []models.CommissionPayout) error {
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

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		row := settlementRow{
			ID:                          settlement.ID,
			SettlementDate:              settlement.SettlementDate,
			TotalCollected:              settlement.TotalCollected,
			ShaAmount:                   settlement.ShaAmount,
			MwuAmount:                   settlement.MwuAmount,
			TotalDelegateCommissions:    settlement.TotalDelegateCommissions,
			TotalCoordinatorCommissions: settlement.TotalCoordinatorCommissions,
			TotalPayments:               settlement.TotalPayments,
			UniqueMembers:               settlement.UniqueMembers,
			Status:                      string(settlement.Status),
			ProcessedAt:                 settlement.ProcessedAt,
			ProcessedBy:                 settlement.ProcessedBy,
			FailureReason:               settlement.FailureReason,
			CreatedAt:                   settlement.CreatedAt,
			UpdatedAt:                   settlement.UpdatedAt,
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return errs.Errorf(errs.KindConflict, "settlement.generate",
					"settlement already exists for date %s", settlement.SettlementDate)
			}
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

			prow := payoutRow{
				ID:                   p.ID,
				SettlementID:         p.SettlementID,
				RecipientID:          p.RecipientID,
				RecipientType:        string(p.RecipientType),
				Amount:               p.Amount,
				PaymentCount:         p.PaymentCount,
				Status:               string(p.Status),
				PaymentMethod:        p.PaymentMethod,
				TransactionReference: p.TransactionReference,
				ConversationID:       p.ConversationID,
				FailureReason:        p.FailureReason,
				ProcessedAt:          p.ProcessedAt,
				CreatedAt:            p.CreatedAt,
				UpdatedAt:            p.UpdatedAt,
			}
			if err := tx.Create(&prow).Error; err != nil {
				if errors.Is(err, gorm.ErrDuplicatedKey) {
					return errs.Errorf(errs.KindConflict, "settlement.generate",
						"duplicate payout for recipient %s (%s)", p.RecipientID, p.RecipientType)
				}
				return fmt.Errorf("failed to insert payout: %w", err)
			}
		}
		return nil
	})
}

// GetSettlement retrieves a settlement by ID.
func (s *PostgresStore) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	var row settlementRow
	err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Errorf(errs.KindNotFound, "settlement.get", "settlement not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return settlementToModel(&row), nil
}

// GetSettlementByDate retrieves the settlement for a calendar date.
func (s *PostgresStore) GetSettlementByDate(ctx context.Context, settlementDate string) (*models.Settlement, error) {
	var row settlementRow
	err := s.db.WithContext(ctx).First(&row, "settlement_date = ?", settlementDate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errs.Errorf(errs.KindNotFound, "settlement.get",
			"no settlement for date %s", settlementDate)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement by date: %w", err)
	}
	return settlementToModel(&row), nil
}

// ListRecentSettlements returns up to limit settlements, newest date first.
func (s *PostgresStore) ListRecentSettlements(ctx context.Context, limit int) ([]models.Settlement, error) {
	var rows []settlementRow
	err := s.db.WithContext(ctx).
		Order("settlement_date DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list settlements: %w", err)
	}

	settlements := make([]models.Settlement, 0, len(rows))
	for i := range rows {
		settlements = append(settlements, *settlementToModel(&rows[i]))
	}
	return settlements, nil
}

// MarkSettlementProcessing commits pending→processing. Single-winner: a
// caller finding the settlement in any other status, processing included,
// gets an invalid-state error.
func (s *PostgresStore) MarkSettlementProcessing(ctx context.Context, id, operator string) error {
	now := time.Now().Unix()
	res := s.db.WithContext(ctx).Model(&settlementRow{}).
		Where("id = ? AND status = ?", id, string(models.SettlementPending)).
		Updates(map[string]any{
			"status":       string(models.SettlementProcessing),
			"processed_at": now,
			"processed_by": operator,
			"updated_at":   now,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark settlement processing: %w", res.Error)
	}
	if res.RowsAffected > 0 {
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
func (s *PostgresStore) MarkSettlementCompleted(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&settlementRow{}).
		Where("id = ? AND status = ?", id, string(models.SettlementProcessing)).
		Updates(map[string]any{
			"status":     string(models.SettlementCompleted),
			"updated_at": time.Now().Unix(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark settlement completed: %w", res.Error)
	}
	return s.checkTransition(ctx, res.RowsAffected, id, "settlement.complete", models.SettlementCompleted)
}

// MarkSettlementFailed commits an operator-declared terminal failure.
func (s *PostgresStore) MarkSettlementFailed(ctx context.Context, id, operator, reason string) error {
	res := s.db.WithContext(ctx).Model(&settlementRow{}).
		Where("id = ? AND status IN ?", id, []string{
			string(models.SettlementPending),
			string(models.SettlementProcessing),
		}).
		Updates(map[string]any{
			"status":         string(models.SettlementFailed),
			"processed_by":   operator,
			"failure_reason": reason,
			"updated_at":     time.Now().Unix(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to mark settlement failed: %w", res.Error)
	}
	return s.checkTransition(ctx, res.RowsAffected, id, "settlement.fail", models.SettlementFailed)
}

func (s *PostgresStore) checkTransition(ctx context.Context, affected int64, id, op string, target models.SettlementStatus) error {
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
