// Package transfer moves a settlement's institutional shares over the bank
// rail: the SHA portion to the national insurer, the MWU portion to the
// union's own account. The rail is synchronous, so each call resolves to a
// final transaction ID or a recorded failure before it returns. Every call
// must present the operator confirmation secret, checked against a bcrypt
// hash so the plaintext never sits in configuration.
package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"github.com/mwukenya/settlement/internal/config"
	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/pkg/metrics"
)

// OpBankSubmit is the orchestrator operation type for bank rail submissions.
const OpBankSubmit = "transfer.bank_submit"

// Result is the outcome of one portion's transfer. Transfer is set whenever
// a row was recorded, including failed attempts; Err reports why the rail
// call did not complete.
type Result struct {
	Portion  models.TransferPortion
	Transfer *models.BankTransfer
	Err      error
}

// Report carries the independent outcomes of a settlement's two transfers.
type Report struct {
	Sha Result
	Mwu Result
}

// Failed reports whether either portion did not complete.
func (r *Report) Failed() bool {
	return r.Sha.Err != nil || r.Mwu.Err != nil
}

// Service executes and records bank transfers.
type Service struct {
	store  storage.Store
	client gateway.BankTransferClient
	orch   *recovery.Orchestrator

	secretHash string
	shaAccount gateway.BankAccount
	mwuAccount gateway.BankAccount
}

// NewService creates a transfer service from the bank configuration. When
// only a plaintext development secret is configured it is hashed here, so
// authorization always compares against a bcrypt hash.
func NewService(store storage.Store, client gateway.BankTransferClient, orch *recovery.Orchestrator, cfg config.BankConfig) (*Service, error) {
	secretHash := cfg.ConfirmSecretHash
	if secretHash == "" && cfg.ConfirmSecret != "" {
		hashed, err := bcrypt.GenerateFromPassword([]byte(cfg.ConfirmSecret), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("failed to hash confirmation secret: %w", err)
		}
		secretHash = string(hashed)
	}

	return &Service{
		store:      store,
		client:     client,
		orch:       orch,
		secretHash: secretHash,
		shaAccount: gateway.BankAccount{
			AccountName:   cfg.ShaAccountName,
			AccountNumber: cfg.ShaAccountNumber,
			BankCode:      cfg.ShaBankCode,
		},
		mwuAccount: gateway.BankAccount{
			AccountName:   cfg.MwuAccountName,
			AccountNumber: cfg.MwuAccountNumber,
			BankCode:      cfg.MwuBankCode,
		},
	}, nil
}

// ProcessShaTransfer pushes the SHA share to the insurer's account.
func (s *Service) ProcessShaTransfer(ctx context.Context, settlementID string, amount decimal.Decimal, confirmationSecret string) (*models.BankTransfer, error) {
	if err := s.Authorize(confirmationSecret); err != nil {
		return nil, err
	}
	result := s.runPortion(ctx, settlementID, models.PortionSha, amount, s.shaAccount)
	return result.Transfer, result.Err
}

// ProcessMwuTransfer pushes the MWU share to the union's account.
func (s *Service) ProcessMwuTransfer(ctx context.Context, settlementID string, amount decimal.Decimal, confirmationSecret string) (*models.BankTransfer, error) {
	if err := s.Authorize(confirmationSecret); err != nil {
		return nil, err
	}
	result := s.runPortion(ctx, settlementID, models.PortionMwu, amount, s.mwuAccount)
	return result.Transfer, result.Err
}

// ProcessSettlementTransfers runs both portions concurrently. The portions
// are independent: either may fail without affecting the other, and the
// report carries both outcomes. Only the authorization check is shared.
func (s *Service) ProcessSettlementTransfers(ctx context.Context, settlementID string, shaAmount, mwuAmount decimal.Decimal, confirmationSecret string) (*Report, error) {
	if err := s.Authorize(confirmationSecret); err != nil {
		return nil, err
	}

	report := &Report{}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		report.Sha = s.runPortion(ctx, settlementID, models.PortionSha, shaAmount, s.shaAccount)
	}()
	go func() {
		defer wg.Done()
		report.Mwu = s.runPortion(ctx, settlementID, models.PortionMwu, mwuAmount, s.mwuAccount)
	}()
	wg.Wait()

	return report, nil
}

// Authorize checks the operator confirmation secret against the configured
// bcrypt hash. Callers that want to fail fast before mutating anything can
// run it ahead of a transfer call; every transfer re-checks it regardless.
func (s *Service) Authorize(confirmationSecret string) error {
	const op = "transfer.authorize"
	if s.secretHash == "" {
		return errs.Errorf(errs.KindAuthorization, op, "transfer confirmation is not configured")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.secretHash), []byte(confirmationSecret)); err != nil {
		return errs.Errorf(errs.KindAuthorization, op, "confirmation secret mismatch")
	}
	return nil
}

// runPortion records and executes one portion's transfer. The row is
// upserted as pending before the rail call and finalized after it, so a
// crash mid-call leaves a visible pending record instead of nothing.
func (s *Service) runPortion(ctx context.Context, settlementID string, portion models.TransferPortion, amount decimal.Decimal, account gateway.BankAccount) Result {
	const op = "transfer.process"
	result := Result{Portion: portion}

	if amount.IsNegative() {
		result.Err = errs.Errorf(errs.KindValidation, op, "%s amount %s is negative", portion, amount)
		return result
	}

	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		result.Err = err
		return result
	}

	transfer := &models.BankTransfer{
		SettlementID: settlementID,
		Portion:      portion,
		Amount:       amount,
		Status:       models.TransferPending,
	}

	// Zero shares happen on quiet days; the row still exists so operators
	// see the portion was considered, but the rail is never touched.
	if amount.IsZero() {
		transfer.Status = models.TransferCompleted
		if err := s.store.UpsertBankTransfer(ctx, transfer); err != nil {
			result.Err = err
			return result
		}
		slog.Info("Skipped zero-amount transfer",
			"settlement_id", settlementID,
			"portion", portion,
		)
		result.Transfer = transfer
		return result
	}

	if err := s.store.UpsertBankTransfer(ctx, transfer); err != nil {
		result.Err = err
		return result
	}

	req := gateway.TransferRequest{
		Amount:    amount,
		Account:   account,
		Reference: fmt.Sprintf("%s settlement %s", strings.ToUpper(string(portion)), settlement.SettlementDate),
	}
	transactionID, err := recovery.ExecuteWithRecovery(ctx, s.orch, OpBankSubmit, func(ctx context.Context) (string, error) {
		return s.client.SubmitTransfer(ctx, req)
	})
	if err != nil {
		transfer.Status = models.TransferFailed
		transfer.FailureReason = err.Error()
		if upsertErr := s.store.UpsertBankTransfer(ctx, transfer); upsertErr != nil {
			slog.Error("Failed to record transfer failure",
				"settlement_id", settlementID,
				"portion", portion,
				"error", upsertErr,
			)
		}
		metrics.BankTransfers.WithLabelValues(string(portion), "failure").Inc()
		slog.Error("Bank transfer failed",
			"settlement_id", settlementID,
			"portion", portion,
			"amount", amount,
			"error", err,
		)
		result.Transfer = transfer
		result.Err = err
		return result
	}

	transfer.Status = models.TransferCompleted
	transfer.TransactionID = transactionID
	transfer.FailureReason = ""
	if err := s.store.UpsertBankTransfer(ctx, transfer); err != nil {
		result.Transfer = transfer
		result.Err = err
		return result
	}

	metrics.BankTransfers.WithLabelValues(string(portion), "success").Inc()
	slog.Info("Bank transfer completed",
		"settlement_id", settlementID,
		"portion", portion,
		"amount", amount,
		"transaction_id", transactionID,
	)
	result.Transfer = transfer
	return result
}
