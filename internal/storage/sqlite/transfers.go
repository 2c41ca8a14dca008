package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mwukenya/settlement/internal/models"
)

// UpsertBankTransfer records a bank transfer outcome. Re-running process for
// a settlement overwrites the (settlement, portion) row instead of stacking
// duplicates, and the caller's transfer always ends up carrying the
// persisted row's ID.
func (s *SQLiteStore) UpsertBankTransfer(ctx context.Context, transfer *models.BankTransfer) error {
	now := time.Now().Unix()
	transfer.UpdatedAt = now

	var existingID string
	var createdAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at FROM bank_transfers WHERE settlement_id = ? AND portion = ?`,
		transfer.SettlementID, string(transfer.Portion),
	).Scan(&existingID, &createdAt)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if transfer.ID == "" {
			transfer.ID = uuid.New().String()
		}
		if transfer.CreatedAt == 0 {
			transfer.CreatedAt = now
		}
		// ON CONFLICT still catches the insert-insert race; the loser's
		// values win the row, matching last-writer-wins semantics above.
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO bank_transfers (id, settlement_id, portion, amount, status,
			 transaction_id, failure_reason, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (settlement_id, portion) DO UPDATE SET
			   amount = excluded.amount,
			   status = excluded.status,
			   transaction_id = excluded.transaction_id,
			   failure_reason = excluded.failure_reason,
			   updated_at = excluded.updated_at`,
			transfer.ID, transfer.SettlementID, string(transfer.Portion),
			transfer.Amount.String(), string(transfer.Status), transfer.TransactionID,
			transfer.FailureReason, transfer.CreatedAt, transfer.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert bank transfer: %w", err)
		}
	case err != nil:
		return fmt.Errorf("failed to look up bank transfer: %w", err)
	default:
		transfer.ID = existingID
		transfer.CreatedAt = createdAt
		_, err = s.db.ExecContext(ctx,
			`UPDATE bank_transfers
			 SET amount = ?, status = ?, transaction_id = ?, failure_reason = ?, updated_at = ?
			 WHERE id = ?`,
			transfer.Amount.String(), string(transfer.Status), transfer.TransactionID,
			transfer.FailureReason, transfer.UpdatedAt, transfer.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update bank transfer: %w", err)
		}
	}
	return nil
}

// ListBankTransfers returns a settlement's bank transfers.
func (s *SQLiteStore) ListBankTransfers(ctx context.Context, settlementID string) ([]models.BankTransfer, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, settlement_id, portion, amount, status, transaction_id,
		        failure_reason, created_at, updated_at
		 FROM bank_transfers WHERE settlement_id = ? ORDER BY portion`,
		settlementID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list bank transfers: %w", err)
	}
	defer rows.Close()

	var transfers []models.BankTransfer
	for rows.Next() {
		var (
			t               models.BankTransfer
			portion, status string
			amount          string
		)
		err := rows.Scan(&t.ID, &t.SettlementID, &portion, &amount, &status,
			&t.TransactionID, &t.FailureReason, &t.CreatedAt, &t.UpdatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bank transfer: %w", err)
		}
		t.Portion = models.TransferPortion(portion)
		t.Status = models.TransferStatus(status)
		if t.Amount, err = scanDecimal(amount); err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bank transfers: %w", err)
	}
	return transfers, nil
}

// RecordCallback stores a received gateway callback for operator forensics.
func (s *SQLiteStore) RecordCallback(ctx context.Context, record *models.CallbackRecord) error {
	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if record.ReceivedAt == 0 {
		record.ReceivedAt = time.Now().Unix()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO gateway_callbacks (id, conversation_id, outcome, detail, received_at)
		 VALUES (?, ?, ?, ?, ?)`,
		record.ID, record.ConversationID, record.Outcome, record.Detail, record.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record callback: %w", err)
	}
	return nil
}

// PurgeCallbacks deletes callback audit rows received before the cutoff and
// reports how many were removed.
func (s *SQLiteStore) PurgeCallbacks(ctx context.Context, olderThanUnix int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM gateway_callbacks WHERE received_at < ?`, olderThanUnix)
	if err != nil {
		return 0, fmt.Errorf("failed to purge callbacks: %w", err)
	}
	purged, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return purged, nil
}
