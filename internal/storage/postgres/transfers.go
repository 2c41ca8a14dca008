package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mwukenya/settlement/internal/models"
)

// UpsertBankTransfer records a bank transfer outcome for its
// (settlement, portion) pair, overwriting any previous attempt. The caller's
// transfer always ends up carrying the persisted row's ID.
func (s *PostgresStore) UpsertBankTransfer(ctx context.Context, transfer *models.BankTransfer) error {
	now := time.Now().Unix()
	transfer.UpdatedAt = now

	var existing transferRow
	err := s.db.WithContext(ctx).
		Select("id", "created_at").
		First(&existing, "settlement_id = ? AND portion = ?", transfer.SettlementID, string(transfer.Portion)).Error

	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if transfer.ID == "" {
			transfer.ID = uuid.New().String()
		}
		if transfer.CreatedAt == 0 {
			transfer.CreatedAt = now
		}
		row := transferRow{
			ID:            transfer.ID,
			SettlementID:  transfer.SettlementID,
			Portion:       string(transfer.Portion),
			Amount:        transfer.Amount,
			Status:        string(transfer.Status),
			TransactionID: transfer.TransactionID,
			FailureReason: transfer.FailureReason,
			CreatedAt:     transfer.CreatedAt,
			UpdatedAt:     transfer.UpdatedAt,
		}
		// ON CONFLICT still catches the insert-insert race.
		createErr := s.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "settlement_id"}, {Name: "portion"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"amount", "status", "transaction_id", "failure_reason", "updated_at",
			}),
		}).Create(&row).Error
		if createErr != nil {
			return fmt.Errorf("failed to insert bank transfer: %w", createErr)
		}
	case err != nil:
		return fmt.Errorf("failed to look up bank transfer: %w", err)
	default:
		transfer.ID = existing.ID
		transfer.CreatedAt = existing.CreatedAt
		updateErr := s.db.WithContext(ctx).Model(&transferRow{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"amount":         transfer.Amount,
				"status":         string(transfer.Status),
				"transaction_id": transfer.TransactionID,
				"failure_reason": transfer.FailureReason,
				"updated_at":     transfer.UpdatedAt,
			}).Error
		if updateErr != nil {
			return fmt.Errorf("failed to update bank transfer: %w", updateErr)
		}
	}
	return nil
}

// ListBankTransfers returns a settlement's bank transfers.
func (s *PostgresStore) ListBankTransfers(ctx context.Context, settlementID string) ([]models.BankTransfer, error) {
	var rows []transferRow
	err := s.db.WithContext(ctx).
		Where("settlement_id = ?", settlementID).
		Order("portion").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transfers: %w", err)
	}

	transfers := make([]models.BankTransfer, 0, len(rows))
	for i := range rows {
		transfers = append(transfers, transferToModel(&rows[i]))
	}
	return transfers, nil
}

// RecordCallback stores a received gateway callback for operator forensics.
func (s *PostgresStore) RecordCallback(ctx context.Context, record *models.CallbackRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.ReceivedAt == 0 {
		record.ReceivedAt = time.Now().Unix()
	}
	row := callbackRow{
		ID:             record.ID,
		ConversationID: record.ConversationID,
		Outcome:        record.Outcome,
		Detail:         record.Detail,
		ReceivedAt:     record.ReceivedAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to record callback: %w", err)
	}
	return nil
}

// PurgeCallbacks deletes callback audit rows received before the cutoff.
func (s *PostgresStore) PurgeCallbacks(ctx context.Context, olderThanUnix int64) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("received_at < ?", olderThanUnix).
		Delete(&callbackRow{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to purge callbacks: %w", res.Error)
	}
	return res.RowsAffected, nil
}
