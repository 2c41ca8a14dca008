// Package service implements the settlement engine's orchestration layer:
// generating daily settlements from the payment ledger, processing them
// through the payout and transfer rails, and exposing the read paths the
// API serves.
package service

import (
	"context"
	"log/slog"
	"sync"

	"github.com/mwukenya/settlement/internal/calculator"
	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/payout"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/internal/transfer"
	"github.com/mwukenya/settlement/pkg/metrics"
)

// ProcessOptions selects which side effects a process run performs. The
// default API request enables both; a flag turned off means the operator
// handles that leg outside the engine.
type ProcessOptions struct {
	InitiatePayouts       bool
	InitiateBankTransfers bool

	// ConfirmationSecret authorizes the bank transfers. Ignored when
	// InitiateBankTransfers is false.
	ConfirmationSecret string
}

// ProcessResult summarizes one process run. The settlement snapshot reflects
// the status after the run.
type ProcessResult struct {
	Settlement       *models.Settlement
	PayoutsSubmitted int
	PayoutFailures   int
	TransferReport   *transfer.Report
	Completed        bool
}

// RetryResult summarizes a retry-failed-payouts run.
type RetryResult struct {
	Attempted   int
	Resubmitted int
	Failures    int
}

// CommissionBreakdown is the read model for a settlement's commission
// distribution, reconstructed from the payout rows generate committed.
type CommissionBreakdown struct {
	Settlement   *models.Settlement
	Delegates    []models.CommissionPayout
	Coordinators []models.CommissionPayout
}

// SettlementService coordinates the calculator, the stores and both payment
// rails. Settlement-mutating operations serialize on a per-settlement lock;
// the date-uniqueness constraint already serializes generation.
type SettlementService struct {
	store     storage.Store
	payouts   *payout.Engine
	transfers *transfer.Service
	orch      *recovery.Orchestrator

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSettlementService creates the settlement service.
func NewSettlementService(store storage.Store, payouts *payout.Engine, transfers *transfer.Service, orch *recovery.Orchestrator) *SettlementService {
	return &SettlementService{
		store:     store,
		payouts:   payouts,
		transfers: transfers,
		orch:      orch,
		locks:     make(map[string]*sync.Mutex),
	}
}

// settlementLock returns the mutex owning all mutations of one settlement.
// Locks are never released from the map; at one settlement per day the map
// stays tiny for the lifetime of the process.
func (s *SettlementService) settlementLock(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[id] = lock
	}
	return lock
}

// Generate aggregates the date's completed payments into a settlement and
// its commission payouts, committed atomically. A settlement already
// existing for the date yields a conflict error. Totals are an immutable
// snapshot: later payout or transfer failures never change them.
func (s *SettlementService) Generate(ctx context.Context, date string) (*models.Settlement, error) {
	const op = "settlement.generate"

	normalized, err := models.ParseSettlementDate(date)
	if err != nil {
		return nil, errs.E(errs.KindValidation, op, "invalid settlement date", err)
	}

	payments, err := s.store.ListCompletedPayments(ctx, normalized)
	if err != nil {
		metrics.SettlementOperations.WithLabelValues("generate", "failure").Inc()
		return nil, err
	}

	directory, err := s.loadPayerDirectory(ctx, payments)
	if err != nil {
		metrics.SettlementOperations.WithLabelValues("generate", "failure").Inc()
		return nil, err
	}

	breakdown := calculator.Aggregate(payments, directory)

	settlement := &models.Settlement{
		SettlementDate:              normalized,
		TotalCollected:              breakdown.TotalCollected,
		ShaAmount:                   breakdown.ShaAmount,
		MwuAmount:                   breakdown.MwuAmount,
		TotalDelegateCommissions:    breakdown.TotalDelegateCommissions,
		TotalCoordinatorCommissions: breakdown.TotalCoordinatorCommissions,
		TotalPayments:               breakdown.TotalPayments,
		UniqueMembers:               breakdown.UniqueMembers,
		Status:                      models.SettlementPending,
	}
	if !settlement.TotalsDrift().IsZero() {
		// Never persist a settlement that does not conserve the collected
		// total; this indicates a calculator defect, not bad input.
		metrics.SettlementOperations.WithLabelValues("generate", "failure").Inc()
		return nil, errs.Errorf(errs.KindSystem, op,
			"settlement totals for %s drift by %s", normalized, settlement.TotalsDrift())
	}

	payoutRows := payout.BuildPayouts(settlement.ID, breakdown.Shares)
	if err := s.store.CreateSettlementWithPayouts(ctx, settlement, payoutRows); err != nil {
		if !errs.Is(err, errs.KindConflict) {
			metrics.SettlementOperations.WithLabelValues("generate", "failure").Inc()
		}
		return nil, err
	}

	for _, u := range breakdown.Unattributed {
		slog.Warn("Commission retained by union, no resolvable recipient",
			"settlement_id", settlement.ID,
			"payment_id", u.PaymentID,
			"recipient_type", u.RecipientType,
			"amount", u.Amount,
		)
	}

	metrics.SettlementOperations.WithLabelValues("generate", "success").Inc()
	slog.Info("Settlement generated",
		"settlement_id", settlement.ID,
		"settlement_date", normalized,
		"total_collected", settlement.TotalCollected,
		"total_payments", settlement.TotalPayments,
		"unique_members", settlement.UniqueMembers,
		"payouts", len(payoutRows),
	)
	return settlement, nil
}

// loadPayerDirectory fetches the directory entry for every distinct payer.
// Payers missing from the directory are simply absent from the map; the
// calculator treats their commissions as unattributable.
func (s *SettlementService) loadPayerDirectory(ctx context.Context, payments []models.Payment) (map[string]models.Member, error) {
	directory := make(map[string]models.Member)
	for _, p := range payments {
		if p.MemberID == "" {
			continue
		}
		if _, seen := directory[p.MemberID]; seen {
			continue
		}
		member, err := s.store.GetMember(ctx, p.MemberID)
		if err != nil {
			if errs.Is(err, errs.KindNotFound) {
				continue
			}
			return nil, err
		}
		directory[p.MemberID] = *member
	}
	return directory, nil
}

// Process runs the settlement through both rails. It requires a pending
// settlement and commits the pending→processing checkpoint durably before
// any external call, so a crash mid-run resumes from processing rather than
// re-entering with a double submission. Payouts are submitted sequentially
// and one failure never blocks the rest; the two bank transfers run
// concurrently and independently. The settlement completes iff every
// attempted operation succeeded, or it covered zero payments; otherwise it
// stays processing for an operator to retry.
func (s *SettlementService) Process(ctx context.Context, settlementID, operator string, opts ProcessOptions) (*ProcessResult, error) {
	const op = "settlement.process"

	lock := s.settlementLock(settlementID)
	lock.Lock()
	defer lock.Unlock()

	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}

	// Fail fast on a bad secret before the checkpoint mutates anything.
	if opts.InitiateBankTransfers && settlement.TotalPayments > 0 {
		if err := s.transfers.Authorize(opts.ConfirmationSecret); err != nil {
			return nil, err
		}
	}

	if issues := s.orch.ValidateSystemHealth(ctx); len(issues) > 0 {
		metrics.SettlementOperations.WithLabelValues("process", "failure").Inc()
		return nil, errs.Errorf(errs.KindSystem, op,
			"system health check failed: %s: %s", issues[0].Component, issues[0].Detail)
	}

	if err := s.store.MarkSettlementProcessing(ctx, settlementID, operator); err != nil {
		return nil, err
	}

	result := &ProcessResult{}

	// Zero-payment days complete immediately; there is nothing to disburse
	// and no reason to touch either rail.
	if settlement.TotalPayments == 0 {
		if err := s.store.MarkSettlementCompleted(ctx, settlementID); err != nil {
			return nil, err
		}
		metrics.SettlementOperations.WithLabelValues("process", "completed").Inc()
		slog.Info("Settlement completed with zero payments",
			"settlement_id", settlementID,
			"operator", operator,
		)
		result.Settlement, err = s.store.GetSettlement(ctx, settlementID)
		if err != nil {
			return nil, err
		}
		result.Completed = true
		return result, nil
	}

	payoutsOK := true
	if opts.InitiatePayouts {
		pending, err := s.store.ListPayoutsBySettlement(ctx, settlementID, models.PayoutPending)
		if err != nil {
			return nil, err
		}
		for _, p := range pending {
			if err := s.payouts.SubmitPayout(ctx, p.ID); err != nil {
				result.PayoutFailures++
				payoutsOK = false
				slog.Warn("Payout submission failed, continuing with the rest",
					"settlement_id", settlementID,
					"payout_id", p.ID,
					"recipient_id", p.RecipientID,
					"error", err,
				)
				continue
			}
			result.PayoutsSubmitted++
		}
	}

	transfersOK := true
	if opts.InitiateBankTransfers {
		report, err := s.transfers.ProcessSettlementTransfers(ctx, settlementID,
			settlement.ShaAmount, settlement.MwuAmount, opts.ConfirmationSecret)
		if err != nil {
			// Authorization regression mid-run; the payout submissions above
			// stand and the settlement stays processing.
			metrics.SettlementOperations.WithLabelValues("process", "failure").Inc()
			return nil, err
		}
		result.TransferReport = report
		transfersOK = !report.Failed()
	}

	if payoutsOK && transfersOK {
		if err := s.store.MarkSettlementCompleted(ctx, settlementID); err != nil {
			return nil, err
		}
		result.Completed = true
		metrics.SettlementOperations.WithLabelValues("process", "completed").Inc()
		slog.Info("Settlement processed",
			"settlement_id", settlementID,
			"operator", operator,
			"payouts_submitted", result.PayoutsSubmitted,
		)
	} else {
		metrics.SettlementOperations.WithLabelValues("process", "partial").Inc()
		slog.Warn("Settlement left processing after partial failure",
			"settlement_id", settlementID,
			"operator", operator,
			"payouts_submitted", result.PayoutsSubmitted,
			"payout_failures", result.PayoutFailures,
			"transfers_ok", transfersOK,
		)
	}

	result.Settlement, err = s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RetryFailedPayouts re-submits the settlement's currently failed payouts.
// It never changes the settlement's own status: payouts resolve
// independently, and a settlement that already completed keeps its status
// even while a late payout failure is being retried.
func (s *SettlementService) RetryFailedPayouts(ctx context.Context, settlementID, operator string) (*RetryResult, error) {
	lock := s.settlementLock(settlementID)
	lock.Lock()
	defer lock.Unlock()

	if _, err := s.store.GetSettlement(ctx, settlementID); err != nil {
		return nil, err
	}

	failed, err := s.store.ListPayoutsBySettlement(ctx, settlementID, models.PayoutFailed)
	if err != nil {
		return nil, err
	}

	result := &RetryResult{Attempted: len(failed)}
	for _, p := range failed {
		if err := s.payouts.SubmitPayout(ctx, p.ID); err != nil {
			result.Failures++
			slog.Warn("Payout resubmission failed",
				"settlement_id", settlementID,
				"payout_id", p.ID,
				"error", err,
			)
			continue
		}
		result.Resubmitted++
	}

	outcome := "success"
	if result.Failures > 0 {
		outcome = "partial"
	}
	metrics.SettlementOperations.WithLabelValues("retry_failed_payouts", outcome).Inc()
	slog.Info("Retried failed payouts",
		"settlement_id", settlementID,
		"operator", operator,
		"attempted", result.Attempted,
		"resubmitted", result.Resubmitted,
		"failures", result.Failures,
	)
	return result, nil
}

// MarkSettlementFailed records an operator's declaration that a settlement
// is beyond retrying. Nothing in the engine ever enters the failed state on
// its own; this is the only path in.
func (s *SettlementService) MarkSettlementFailed(ctx context.Context, settlementID, operator, reason string) error {
	const op = "settlement.fail"

	if reason == "" {
		return errs.Errorf(errs.KindValidation, op, "a failure reason is required")
	}

	lock := s.settlementLock(settlementID)
	lock.Lock()
	defer lock.Unlock()

	if err := s.store.MarkSettlementFailed(ctx, settlementID, operator, reason); err != nil {
		return err
	}

	metrics.SettlementOperations.WithLabelValues("mark_failed", "success").Inc()
	slog.Warn("Settlement declared failed by operator",
		"settlement_id", settlementID,
		"operator", operator,
		"reason", reason,
	)
	return nil
}

// GetSettlement returns one settlement by ID.
func (s *SettlementService) GetSettlement(ctx context.Context, settlementID string) (*models.Settlement, error) {
	return s.store.GetSettlement(ctx, settlementID)
}

// GetSettlementByDate returns the settlement covering a calendar date.
func (s *SettlementService) GetSettlementByDate(ctx context.Context, date string) (*models.Settlement, error) {
	normalized, err := models.ParseSettlementDate(date)
	if err != nil {
		return nil, errs.E(errs.KindValidation, "settlement.get", "invalid settlement date", err)
	}
	return s.store.GetSettlementByDate(ctx, normalized)
}

// ListRecentSettlements returns up to limit settlements, newest first.
func (s *SettlementService) ListRecentSettlements(ctx context.Context, limit int) ([]models.Settlement, error) {
	if limit <= 0 || limit > 100 {
		limit = 30
	}
	return s.store.ListRecentSettlements(ctx, limit)
}

// ListPayouts returns a settlement's payouts, optionally filtered by status.
func (s *SettlementService) ListPayouts(ctx context.Context, settlementID string, status models.PayoutStatus) ([]models.CommissionPayout, error) {
	if _, err := s.store.GetSettlement(ctx, settlementID); err != nil {
		return nil, err
	}
	return s.store.ListPayoutsBySettlement(ctx, settlementID, status)
}

// GetCommissionBreakdown returns the settlement's commission distribution,
// reconstructed from the payout rows generate committed.
func (s *SettlementService) GetCommissionBreakdown(ctx context.Context, settlementID string) (*CommissionBreakdown, error) {
	settlement, err := s.store.GetSettlement(ctx, settlementID)
	if err != nil {
		return nil, err
	}
	payouts, err := s.store.ListPayoutsBySettlement(ctx, settlementID, "")
	if err != nil {
		return nil, err
	}

	breakdown := &CommissionBreakdown{Settlement: settlement}
	for _, p := range payouts {
		switch p.RecipientType {
		case models.RecipientDelegate:
			breakdown.Delegates = append(breakdown.Delegates, p)
		case models.RecipientCoordinator:
			breakdown.Coordinators = append(breakdown.Coordinators, p)
		}
	}
	return breakdown, nil
}

// GetPayoutStatistics aggregates the settlement's payouts by status.
func (s *SettlementService) GetPayoutStatistics(ctx context.Context, settlementID string) (*models.PayoutStatistics, error) {
	if _, err := s.store.GetSettlement(ctx, settlementID); err != nil {
		return nil, err
	}
	return s.payouts.Statistics(ctx, settlementID)
}

// ListBankTransfers returns the settlement's recorded bank transfers.
func (s *SettlementService) ListBankTransfers(ctx context.Context, settlementID string) ([]models.BankTransfer, error) {
	if _, err := s.store.GetSettlement(ctx, settlementID); err != nil {
		return nil, err
	}
	return s.store.ListBankTransfers(ctx, settlementID)
}
