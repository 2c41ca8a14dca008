package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwukenya/settlement/internal/config"
	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/payout"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/internal/storage/sqlite"
	"github.com/mwukenya/settlement/internal/transfer"
)

const testSecret = "ops-secret"

type mockGateway struct {
	mu         sync.Mutex
	submitFunc func(req gateway.PayoutRequest) (string, error)
	calls      []gateway.PayoutRequest
}

func (m *mockGateway) Channel() string { return "mock_rail" }

func (m *mockGateway) SubmitPayout(_ context.Context, req gateway.PayoutRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls)
	fn := m.submitFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return fmt.Sprintf("AG_conv_%d", n), nil
}

func (m *mockGateway) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *mockGateway) setSubmitFunc(fn func(req gateway.PayoutRequest) (string, error)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitFunc = fn
}

type mockBankClient struct {
	mu         sync.Mutex
	submitFunc func(req gateway.TransferRequest) (string, error)
	calls      []gateway.TransferRequest
}

func (m *mockBankClient) SubmitTransfer(_ context.Context, req gateway.TransferRequest) (string, error) {
	m.mu.Lock()
	m.calls = append(m.calls, req)
	n := len(m.calls)
	fn := m.submitFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return fmt.Sprintf("BT-%d", n), nil
}

func (m *mockBankClient) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

type serviceHarness struct {
	store   storage.Store
	svc     *SettlementService
	gw      *mockGateway
	bank    *mockBankClient
	payouts *payout.Engine
}

func newServiceHarness(t *testing.T) *serviceHarness {
	t.Helper()
	dir, err := os.MkdirTemp("", "service-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	store, err := sqlite.New(filepath.Join(dir, "settlement.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
		os.RemoveAll(dir)
	})

	gw := &mockGateway{}
	bank := &mockBankClient{}
	orch := recovery.New(store)
	orch.SetConfig(payout.OpGatewaySubmit, recovery.Config{
		MaxAttempts:       2,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
	})
	orch.SetConfig(transfer.OpBankSubmit, recovery.Config{
		MaxAttempts:       2,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
	})

	engine := payout.NewEngine(store, gw, orch)
	transfers, err := transfer.NewService(store, bank, orch, config.BankConfig{
		ConfirmSecret:    testSecret,
		ShaAccountName:   "SHA Collections",
		ShaAccountNumber: "1100110011",
		ShaBankCode:      "01",
		MwuAccountName:   "MWU Operations",
		MwuAccountNumber: "2200220022",
		MwuBankCode:      "02",
	})
	if err != nil {
		t.Fatalf("failed to build transfer service: %v", err)
	}

	return &serviceHarness{
		store:   store,
		svc:     NewSettlementService(store, engine, transfers, orch),
		gw:      gw,
		bank:    bank,
		payouts: engine,
	}
}

func (h *serviceHarness) seedMember(t *testing.T, m models.Member) {
	t.Helper()
	m.Active = true
	if err := h.store.CreateMember(context.Background(), &m); err != nil {
		t.Fatalf("failed to seed member %s: %v", m.ID, err)
	}
}

func (h *serviceHarness) seedPayment(t *testing.T, p models.Payment) {
	t.Helper()
	p.Status = models.PaymentCompleted
	if err := h.store.CreatePayment(context.Background(), &p); err != nil {
		t.Fatalf("failed to seed payment %s: %v", p.ID, err)
	}
}

// seedDirectory registers the recipients and two payers sharing them.
func (h *serviceHarness) seedDirectory(t *testing.T) {
	t.Helper()
	h.seedMember(t, models.Member{ID: "delegate-1", FullName: "Achieng Otieno", PhoneNumber: "254700000001", Role: models.RoleDelegate})
	h.seedMember(t, models.Member{ID: "coordinator-1", FullName: "Baraka Mwangi", PhoneNumber: "254700000002", Role: models.RoleCoordinator})
	h.seedMember(t, models.Member{ID: "member-1", FullName: "Chebet Kiprop", PhoneNumber: "254711000001", Role: models.RoleMember, DelegateID: "delegate-1", CoordinatorID: "coordinator-1"})
	h.seedMember(t, models.Member{ID: "member-2", FullName: "Dida Wanjiru", PhoneNumber: "254711000002", Role: models.RoleMember, DelegateID: "delegate-1", CoordinatorID: "coordinator-1"})
}

// seedWorkedExample loads the canonical day: two 500 KES payments from two
// members under the same delegate and coordinator.
func (h *serviceHarness) seedWorkedExample(t *testing.T, date string) {
	t.Helper()
	h.seedDirectory(t)
	for i, memberID := range []string{"member-1", "member-2"} {
		h.seedPayment(t, models.Payment{
			ID:                    fmt.Sprintf("pay-%s-%d", date, i+1),
			MemberID:              memberID,
			Amount:                decimal.NewFromInt(500),
			SettlementDate:        date,
			ShaPortion:            decimal.NewFromInt(60),
			DelegateCommission:    decimal.NewFromInt(20),
			CoordinatorCommission: decimal.NewFromInt(10),
		})
	}
}

func TestGenerateSettlement(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	h.seedWorkedExample(t, "2026-04-01")

	t.Run("the worked example allocates every shilling", func(t *testing.T) {
		settlement, err := h.svc.Generate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if settlement.ID == "" {
			t.Error("Generate() did not assign an ID")
		}
		if settlement.Status != models.SettlementPending {
			t.Errorf("status = %s, want %s", settlement.Status, models.SettlementPending)
		}
		checks := []struct {
			name string
			got  decimal.Decimal
			want int64
		}{
			{"total collected", settlement.TotalCollected, 1000},
			{"sha amount", settlement.ShaAmount, 120},
			{"mwu amount", settlement.MwuAmount, 820},
			{"delegate commissions", settlement.TotalDelegateCommissions, 40},
			{"coordinator commissions", settlement.TotalCoordinatorCommissions, 20},
		}
		for _, c := range checks {
			if !c.got.Equal(decimal.NewFromInt(c.want)) {
				t.Errorf("%s = %s, want %d", c.name, c.got, c.want)
			}
		}
		if settlement.TotalPayments != 2 {
			t.Errorf("total payments = %d, want 2", settlement.TotalPayments)
		}
		if settlement.UniqueMembers != 2 {
			t.Errorf("unique members = %d, want 2", settlement.UniqueMembers)
		}
		if !settlement.TotalsDrift().IsZero() {
			t.Errorf("totals drift = %s, want 0", settlement.TotalsDrift())
		}

		payouts, err := h.store.ListPayoutsBySettlement(ctx, settlement.ID, "")
		if err != nil {
			t.Fatalf("failed to list payouts: %v", err)
		}
		if len(payouts) != 2 {
			t.Fatalf("payouts = %d, want 2", len(payouts))
		}
		byRecipient := make(map[string]models.CommissionPayout)
		for _, p := range payouts {
			byRecipient[p.RecipientID] = p
			if p.Status != models.PayoutPending {
				t.Errorf("payout %s status = %s, want %s", p.RecipientID, p.Status, models.PayoutPending)
			}
			if p.PaymentCount != 2 {
				t.Errorf("payout %s payment count = %d, want 2", p.RecipientID, p.PaymentCount)
			}
		}
		if got := byRecipient["delegate-1"].Amount; !got.Equal(decimal.NewFromInt(40)) {
			t.Errorf("delegate payout = %s, want 40", got)
		}
		if got := byRecipient["coordinator-1"].Amount; !got.Equal(decimal.NewFromInt(20)) {
			t.Errorf("coordinator payout = %s, want 20", got)
		}
	})

	t.Run("generating the same date twice is a conflict", func(t *testing.T) {
		_, err := h.svc.Generate(ctx, "2026-04-01")
		if !errs.Is(err, errs.KindConflict) {
			t.Fatalf("Generate() error = %v, want conflict", err)
		}
		settlements, err := h.svc.ListRecentSettlements(ctx, 10)
		if err != nil {
			t.Fatalf("failed to list settlements: %v", err)
		}
		if len(settlements) != 1 {
			t.Errorf("settlements after duplicate generate = %d, want 1", len(settlements))
		}
	})

	t.Run("a payer missing from the directory leaves commissions with the union", func(t *testing.T) {
		h.seedPayment(t, models.Payment{
			ID:                    "pay-ghost",
			MemberID:              "ghost-member",
			Amount:                decimal.NewFromInt(500),
			SettlementDate:        "2026-04-02",
			ShaPortion:            decimal.NewFromInt(60),
			DelegateCommission:    decimal.NewFromInt(20),
			CoordinatorCommission: decimal.NewFromInt(10),
		})

		settlement, err := h.svc.Generate(ctx, "2026-04-02")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !settlement.MwuAmount.Equal(decimal.NewFromInt(440)) {
			t.Errorf("mwu amount = %s, want 440", settlement.MwuAmount)
		}
		if !settlement.TotalDelegateCommissions.IsZero() {
			t.Errorf("delegate commissions = %s, want 0", settlement.TotalDelegateCommissions)
		}
		if !settlement.TotalsDrift().IsZero() {
			t.Errorf("totals drift = %s, want 0", settlement.TotalsDrift())
		}
		payouts, err := h.store.ListPayoutsBySettlement(ctx, settlement.ID, "")
		if err != nil {
			t.Fatalf("failed to list payouts: %v", err)
		}
		if len(payouts) != 0 {
			t.Errorf("payouts = %d, want 0", len(payouts))
		}
	})

	t.Run("a day with no payments settles to zero", func(t *testing.T) {
		settlement, err := h.svc.Generate(ctx, "2026-04-03")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if !settlement.TotalCollected.IsZero() {
			t.Errorf("total collected = %s, want 0", settlement.TotalCollected)
		}
		if settlement.TotalPayments != 0 {
			t.Errorf("total payments = %d, want 0", settlement.TotalPayments)
		}
		if settlement.Status != models.SettlementPending {
			t.Errorf("status = %s, want %s", settlement.Status, models.SettlementPending)
		}
	})

	t.Run("an invalid date is rejected", func(t *testing.T) {
		_, err := h.svc.Generate(ctx, "01/04/2026")
		if !errs.Is(err, errs.KindValidation) {
			t.Errorf("Generate() error = %v, want validation", err)
		}
	})
}

func TestProcessSettlement(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	h.seedWorkedExample(t, "2026-04-01")

	bothRails := ProcessOptions{
		InitiatePayouts:       true,
		InitiateBankTransfers: true,
		ConfirmationSecret:    testSecret,
	}

	settlement, err := h.svc.Generate(ctx, "2026-04-01")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	t.Run("a wrong confirmation secret leaves the settlement pending", func(t *testing.T) {
		badOpts := bothRails
		badOpts.ConfirmationSecret = "wrong"
		_, err := h.svc.Process(ctx, settlement.ID, "admin@mwu.or.ke", badOpts)
		if !errs.Is(err, errs.KindAuthorization) {
			t.Fatalf("Process() error = %v, want authorization", err)
		}
		current, err := h.svc.GetSettlement(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("failed to reload settlement: %v", err)
		}
		if current.Status != models.SettlementPending {
			t.Errorf("status after refused process = %s, want %s", current.Status, models.SettlementPending)
		}
		if h.gw.callCount() != 0 {
			t.Errorf("gateway calls = %d, want 0", h.gw.callCount())
		}
	})

	t.Run("the happy path completes the settlement", func(t *testing.T) {
		result, err := h.svc.Process(ctx, settlement.ID, "admin@mwu.or.ke", bothRails)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if !result.Completed {
			t.Error("Process() did not complete the settlement")
		}
		if result.PayoutsSubmitted != 2 {
			t.Errorf("payouts submitted = %d, want 2", result.PayoutsSubmitted)
		}
		if result.PayoutFailures != 0 {
			t.Errorf("payout failures = %d, want 0", result.PayoutFailures)
		}
		if result.Settlement.Status != models.SettlementCompleted {
			t.Errorf("status = %s, want %s", result.Settlement.Status, models.SettlementCompleted)
		}
		if result.Settlement.ProcessedBy != "admin@mwu.or.ke" {
			t.Errorf("processed by = %q, want operator", result.Settlement.ProcessedBy)
		}
		if h.gw.callCount() != 2 {
			t.Errorf("gateway calls = %d, want 2", h.gw.callCount())
		}
		if h.bank.callCount() != 2 {
			t.Errorf("bank calls = %d, want 2", h.bank.callCount())
		}

		payouts, err := h.store.ListPayoutsBySettlement(ctx, settlement.ID, "")
		if err != nil {
			t.Fatalf("failed to list payouts: %v", err)
		}
		for _, p := range payouts {
			if p.Status != models.PayoutProcessing {
				t.Errorf("payout %s status = %s, want %s", p.RecipientID, p.Status, models.PayoutProcessing)
			}
			if p.ConversationID == "" {
				t.Errorf("payout %s has no conversation ID", p.RecipientID)
			}
		}

		transfers, err := h.svc.ListBankTransfers(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("failed to list transfers: %v", err)
		}
		if len(transfers) != 2 {
			t.Fatalf("transfers = %d, want 2", len(transfers))
		}
		for _, tr := range transfers {
			if tr.Status != models.TransferCompleted {
				t.Errorf("transfer %s status = %s, want %s", tr.Portion, tr.Status, models.TransferCompleted)
			}
		}
	})

	t.Run("a second process run is rejected", func(t *testing.T) {
		_, err := h.svc.Process(ctx, settlement.ID, "admin@mwu.or.ke", bothRails)
		if !errs.Is(err, errs.KindInvalidState) {
			t.Errorf("Process() error = %v, want invalid state", err)
		}
	})

	t.Run("a zero-payment settlement completes without touching either rail", func(t *testing.T) {
		empty, err := h.svc.Generate(ctx, "2026-04-03")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		gatewayBefore, bankBefore := h.gw.callCount(), h.bank.callCount()

		result, err := h.svc.Process(ctx, empty.ID, "admin@mwu.or.ke", bothRails)
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if !result.Completed {
			t.Error("zero-payment settlement did not complete")
		}
		if result.Settlement.Status != models.SettlementCompleted {
			t.Errorf("status = %s, want %s", result.Settlement.Status, models.SettlementCompleted)
		}
		if h.gw.callCount() != gatewayBefore {
			t.Errorf("gateway calls = %d, want %d", h.gw.callCount(), gatewayBefore)
		}
		if h.bank.callCount() != bankBefore {
			t.Errorf("bank calls = %d, want %d", h.bank.callCount(), bankBefore)
		}
	})

	t.Run("switched-off legs are the operator's responsibility", func(t *testing.T) {
		h.seedPayment(t, models.Payment{
			ID:                    "pay-flags",
			MemberID:              "member-1",
			Amount:                decimal.NewFromInt(500),
			SettlementDate:        "2026-04-04",
			ShaPortion:            decimal.NewFromInt(60),
			DelegateCommission:    decimal.NewFromInt(20),
			CoordinatorCommission: decimal.NewFromInt(10),
		})
		s, err := h.svc.Generate(ctx, "2026-04-04")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		bankBefore := h.bank.callCount()

		result, err := h.svc.Process(ctx, s.ID, "admin@mwu.or.ke", ProcessOptions{InitiatePayouts: true})
		if err != nil {
			t.Fatalf("Process() error = %v", err)
		}
		if !result.Completed {
			t.Error("payouts-only process did not complete")
		}
		if h.bank.callCount() != bankBefore {
			t.Errorf("bank calls = %d, want %d", h.bank.callCount(), bankBefore)
		}
		transfers, err := h.svc.ListBankTransfers(ctx, s.ID)
		if err != nil {
			t.Fatalf("failed to list transfers: %v", err)
		}
		if len(transfers) != 0 {
			t.Errorf("transfers = %d, want 0", len(transfers))
		}
	})
}

func TestPartialFailureKeepsSettlementProcessing(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	h.seedDirectory(t)
	h.seedMember(t, models.Member{ID: "delegate-2", FullName: "Ekwe Njoroge", PhoneNumber: "254700000003", Role: models.RoleDelegate})
	h.seedMember(t, models.Member{ID: "member-3", FullName: "Furaha Akinyi", PhoneNumber: "254711000003", Role: models.RoleMember, DelegateID: "delegate-2", CoordinatorID: "coordinator-1"})
	for i, memberID := range []string{"member-1", "member-3"} {
		h.seedPayment(t, models.Payment{
			ID:                    fmt.Sprintf("pay-partial-%d", i+1),
			MemberID:              memberID,
			Amount:                decimal.NewFromInt(500),
			SettlementDate:        "2026-04-01",
			ShaPortion:            decimal.NewFromInt(60),
			DelegateCommission:    decimal.NewFromInt(20),
			CoordinatorCommission: decimal.NewFromInt(10),
		})
	}

	settlement, err := h.svc.Generate(ctx, "2026-04-01")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	// delegate-2's phone is persistently rejected; everyone else goes through.
	h.gw.setSubmitFunc(func(req gateway.PayoutRequest) (string, error) {
		if req.PhoneNumber == "254700000003" {
			return "", errs.Errorf(errs.KindGateway, "gateway.submit", "recipient account frozen")
		}
		return "AG_conv_" + req.PayoutID, nil
	})

	opts := ProcessOptions{
		InitiatePayouts:       true,
		InitiateBankTransfers: true,
		ConfirmationSecret:    testSecret,
	}
	result, err := h.svc.Process(ctx, settlement.ID, "admin@mwu.or.ke", opts)
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if result.Completed {
		t.Error("Process() completed despite a failed payout")
	}
	if result.PayoutsSubmitted != 2 {
		t.Errorf("payouts submitted = %d, want 2", result.PayoutsSubmitted)
	}
	if result.PayoutFailures != 1 {
		t.Errorf("payout failures = %d, want 1", result.PayoutFailures)
	}
	if result.Settlement.Status != models.SettlementProcessing {
		t.Errorf("status = %s, want %s", result.Settlement.Status, models.SettlementProcessing)
	}

	t.Run("callbacks resolve payouts while the settlement stays processing", func(t *testing.T) {
		submitted, err := h.store.ListPayoutsBySettlement(ctx, settlement.ID, models.PayoutProcessing)
		if err != nil {
			t.Fatalf("failed to list payouts: %v", err)
		}
		if len(submitted) != 2 {
			t.Fatalf("processing payouts = %d, want 2", len(submitted))
		}
		for i, p := range submitted {
			ref := payout.PayoutRef{ConversationID: p.ConversationID}
			if err := h.payouts.MarkProcessed(ctx, ref, fmt.Sprintf("TXN-%d", i+1)); err != nil {
				t.Fatalf("MarkProcessed() error = %v", err)
			}
		}

		stats, err := h.svc.GetPayoutStatistics(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("GetPayoutStatistics() error = %v", err)
		}
		if stats.ProcessedCount != 2 || stats.FailedCount != 1 {
			t.Errorf("processed/failed = %d/%d, want 2/1", stats.ProcessedCount, stats.FailedCount)
		}

		current, err := h.svc.GetSettlement(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("failed to reload settlement: %v", err)
		}
		if current.Status != models.SettlementProcessing {
			t.Errorf("status = %s, want %s", current.Status, models.SettlementProcessing)
		}
	})

	t.Run("retrying resubmits only the failed payout", func(t *testing.T) {
		h.gw.setSubmitFunc(nil)
		callsBefore := h.gw.callCount()

		retry, err := h.svc.RetryFailedPayouts(ctx, settlement.ID, "admin@mwu.or.ke")
		if err != nil {
			t.Fatalf("RetryFailedPayouts() error = %v", err)
		}
		if retry.Attempted != 1 || retry.Resubmitted != 1 || retry.Failures != 0 {
			t.Errorf("retry = %+v, want 1 attempted, 1 resubmitted", retry)
		}
		if h.gw.callCount() != callsBefore+1 {
			t.Errorf("gateway calls = %d, want %d", h.gw.callCount(), callsBefore+1)
		}

		failed, err := h.store.ListPayoutsBySettlement(ctx, settlement.ID, models.PayoutFailed)
		if err != nil {
			t.Fatalf("failed to list payouts: %v", err)
		}
		if len(failed) != 0 {
			t.Errorf("failed payouts after retry = %d, want 0", len(failed))
		}

		// The retry path never touches the settlement's own status.
		current, err := h.svc.GetSettlement(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("failed to reload settlement: %v", err)
		}
		if current.Status != models.SettlementProcessing {
			t.Errorf("status = %s, want %s", current.Status, models.SettlementProcessing)
		}
	})

	t.Run("only an operator can declare the settlement failed", func(t *testing.T) {
		err := h.svc.MarkSettlementFailed(ctx, settlement.ID, "admin@mwu.or.ke", "")
		if !errs.Is(err, errs.KindValidation) {
			t.Fatalf("MarkSettlementFailed() without reason error = %v, want validation", err)
		}

		if err := h.svc.MarkSettlementFailed(ctx, settlement.ID, "admin@mwu.or.ke", "gateway outage, disbursed manually"); err != nil {
			t.Fatalf("MarkSettlementFailed() error = %v", err)
		}
		current, err := h.svc.GetSettlement(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("failed to reload settlement: %v", err)
		}
		if current.Status != models.SettlementFailed {
			t.Errorf("status = %s, want %s", current.Status, models.SettlementFailed)
		}
		if !strings.Contains(current.FailureReason, "gateway outage") {
			t.Errorf("failure reason = %q, want the operator's note", current.FailureReason)
		}
	})
}

func TestSettlementReadPaths(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	h.seedWorkedExample(t, "2026-04-01")

	settlement, err := h.svc.Generate(ctx, "2026-04-01")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	t.Run("the breakdown splits recipients by type", func(t *testing.T) {
		breakdown, err := h.svc.GetCommissionBreakdown(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("GetCommissionBreakdown() error = %v", err)
		}
		if len(breakdown.Delegates) != 1 || len(breakdown.Coordinators) != 1 {
			t.Fatalf("delegates/coordinators = %d/%d, want 1/1", len(breakdown.Delegates), len(breakdown.Coordinators))
		}
		if breakdown.Delegates[0].RecipientID != "delegate-1" {
			t.Errorf("delegate recipient = %s, want delegate-1", breakdown.Delegates[0].RecipientID)
		}
		if !breakdown.Coordinators[0].Amount.Equal(decimal.NewFromInt(20)) {
			t.Errorf("coordinator amount = %s, want 20", breakdown.Coordinators[0].Amount)
		}
	})

	t.Run("statistics aggregate pending payouts", func(t *testing.T) {
		stats, err := h.svc.GetPayoutStatistics(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("GetPayoutStatistics() error = %v", err)
		}
		if stats.TotalCount != 2 || stats.PendingCount != 2 {
			t.Errorf("total/pending = %d/%d, want 2/2", stats.TotalCount, stats.PendingCount)
		}
		if !stats.TotalAmount.Equal(decimal.NewFromInt(60)) {
			t.Errorf("total amount = %s, want 60", stats.TotalAmount)
		}
	})

	t.Run("lookups by date round-trip", func(t *testing.T) {
		byDate, err := h.svc.GetSettlementByDate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("GetSettlementByDate() error = %v", err)
		}
		if byDate.ID != settlement.ID {
			t.Errorf("settlement ID = %s, want %s", byDate.ID, settlement.ID)
		}
		if _, err := h.svc.GetSettlementByDate(ctx, "not-a-date"); !errs.Is(err, errs.KindValidation) {
			t.Errorf("GetSettlementByDate(bad date) error = %v, want validation", err)
		}
	})

	t.Run("unknown settlements surface not-found on every read", func(t *testing.T) {
		if _, err := h.svc.GetSettlement(ctx, "missing"); !errs.Is(err, errs.KindNotFound) {
			t.Errorf("GetSettlement() error = %v, want not found", err)
		}
		if _, err := h.svc.ListPayouts(ctx, "missing", ""); !errs.Is(err, errs.KindNotFound) {
			t.Errorf("ListPayouts() error = %v, want not found", err)
		}
		if _, err := h.svc.GetPayoutStatistics(ctx, "missing"); !errs.Is(err, errs.KindNotFound) {
			t.Errorf("GetPayoutStatistics() error = %v, want not found", err)
		}
		if _, err := h.svc.GetCommissionBreakdown(ctx, "missing"); !errs.Is(err, errs.KindNotFound) {
			t.Errorf("GetCommissionBreakdown() error = %v, want not found", err)
		}
	})

	t.Run("listing clamps absurd limits", func(t *testing.T) {
		settlements, err := h.svc.ListRecentSettlements(ctx, -5)
		if err != nil {
			t.Fatalf("ListRecentSettlements() error = %v", err)
		}
		if len(settlements) != 1 {
			t.Errorf("settlements = %d, want 1", len(settlements))
		}
	})
}

func TestConcurrentProcessingHasOneWinner(t *testing.T) {
	ctx := context.Background()
	h := newServiceHarness(t)
	h.seedWorkedExample(t, "2026-04-01")

	settlement, err := h.svc.Generate(ctx, "2026-04-01")
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	opts := ProcessOptions{
		InitiatePayouts:       true,
		InitiateBankTransfers: true,
		ConfirmationSecret:    testSecret,
	}

	const runners = 4
	errsCh := make(chan error, runners)
	var wg sync.WaitGroup
	for i := 0; i < runners; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.svc.Process(ctx, settlement.ID, "admin@mwu.or.ke", opts)
			errsCh <- err
		}()
	}
	wg.Wait()
	close(errsCh)

	var succeeded, rejected int
	for err := range errsCh {
		switch {
		case err == nil:
			succeeded++
		case errs.Is(err, errs.KindInvalidState):
			rejected++
		default:
			t.Errorf("unexpected process error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Errorf("successful runs = %d, want exactly 1", succeeded)
	}
	if rejected != runners-1 {
		t.Errorf("rejected runs = %d, want %d", rejected, runners-1)
	}
	if h.gw.callCount() != 2 {
		t.Errorf("gateway calls = %d, want 2 (no double submission)", h.gw.callCount())
	}
}
