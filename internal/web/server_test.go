package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mwukenya/settlement/internal/config"
	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/payout"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/service"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/internal/storage/sqlite"
	"github.com/mwukenya/settlement/internal/transfer"
)

const testSecret = "ops-secret"

type mockGateway struct {
	mu         sync.Mutex
	submitFunc func(req gateway.PayoutRequest) (string, error)
	calls      int
}

func (m *mockGateway) Channel() string { return "mock_rail" }

func (m *mockGateway) SubmitPayout(_ context.Context, req gateway.PayoutRequest) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	fn := m.submitFunc
	m.mu.Unlock()
	if fn != nil {
		return fn(req)
	}
	return fmt.Sprintf("AG_conv_%d", n), nil
}

type mockBankClient struct {
	mu    sync.Mutex
	calls int
}

func (m *mockBankClient) SubmitTransfer(_ context.Context, _ gateway.TransferRequest) (string, error) {
	m.mu.Lock()
	m.calls++
	n := m.calls
	m.mu.Unlock()
	return fmt.Sprintf("BT-%d", n), nil
}

type mockParser struct {
	parseFunc func(body []byte) (*gateway.CallbackResult, error)
}

func (m *mockParser) ParseCallback(body []byte) (*gateway.CallbackResult, error) {
	return m.parseFunc(body)
}

type webHarness struct {
	store  storage.Store
	svc    *service.SettlementService
	gw     *mockGateway
	server *Server
}

func newWebHarness(t *testing.T, parser gateway.CallbackParser) *webHarness {
	t.Helper()
	dir, err := os.MkdirTemp("", "web-test-*")
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
	orch := recovery.New(store)
	orch.SetConfig(payout.OpGatewaySubmit, recovery.Config{
		MaxAttempts:       2,
		InitialDelay:      time.Millisecond,
		BackoffMultiplier: 2,
	})

	engine := payout.NewEngine(store, gw, orch)
	transfers, err := transfer.NewService(store, &mockBankClient{}, orch, config.BankConfig{
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

	svc := service.NewSettlementService(store, engine, transfers, orch)
	return &webHarness{
		store:  store,
		svc:    svc,
		gw:     gw,
		server: NewServer(svc, engine, store, parser),
	}
}

func (h *webHarness) seedWorkedExample(t *testing.T, date string) {
	t.Helper()
	ctx := context.Background()
	members := []models.Member{
		{ID: "delegate-1", FullName: "Achieng Otieno", PhoneNumber: "254700000001", Role: models.RoleDelegate, Active: true},
		{ID: "coordinator-1", FullName: "Baraka Mwangi", PhoneNumber: "254700000002", Role: models.RoleCoordinator, Active: true},
		{ID: "member-1", FullName: "Chebet Kiprop", PhoneNumber: "254711000001", Role: models.RoleMember, DelegateID: "delegate-1", CoordinatorID: "coordinator-1", Active: true},
		{ID: "member-2", FullName: "Dida Wanjiru", PhoneNumber: "254711000002", Role: models.RoleMember, DelegateID: "delegate-1", CoordinatorID: "coordinator-1", Active: true},
	}
	for i := range members {
		if err := h.store.CreateMember(ctx, &members[i]); err != nil {
			t.Fatalf("failed to seed member %s: %v", members[i].ID, err)
		}
	}
	for i, memberID := range []string{"member-1", "member-2"} {
		p := models.Payment{
			ID:                    fmt.Sprintf("pay-%s-%d", date, i+1),
			MemberID:              memberID,
			Amount:                decimal.NewFromInt(500),
			SettlementDate:        date,
			ShaPortion:            decimal.NewFromInt(60),
			DelegateCommission:    decimal.NewFromInt(20),
			CoordinatorCommission: decimal.NewFromInt(10),
			Status:                models.PaymentCompleted,
		}
		if err := h.store.CreatePayment(ctx, &p); err != nil {
			t.Fatalf("failed to seed payment %s: %v", p.ID, err)
		}
	}
}

// generateAndSubmit seeds the worked example, generates its settlement and
// submits the payouts, leaving both awaiting their gateway callbacks.
func (h *webHarness) generateAndSubmit(t *testing.T, date string) *models.Settlement {
	t.Helper()
	ctx := context.Background()
	h.seedWorkedExample(t, date)
	settlement, err := h.svc.Generate(ctx, date)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if _, err := h.svc.Process(ctx, settlement.ID, "test", service.ProcessOptions{InitiatePayouts: true}); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return settlement
}

// payoutByType fetches the settlement's single payout of the given tier.
func (h *webHarness) payoutByType(t *testing.T, settlementID string, tier models.RecipientType) *models.CommissionPayout {
	t.Helper()
	payouts, err := h.store.ListPayoutsBySettlement(context.Background(), settlementID, "")
	if err != nil {
		t.Fatalf("ListPayoutsBySettlement() error = %v", err)
	}
	for i := range payouts {
		if payouts[i].RecipientType == tier {
			return &payouts[i]
		}
	}
	t.Fatalf("no %s payout for settlement %s", tier, settlementID)
	return nil
}

func (h *webHarness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("failed to encode request body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestSettlementEndpoints(t *testing.T) {
	h := newWebHarness(t, nil)
	h.seedWorkedExample(t, "2026-04-01")

	t.Run("generate returns the new settlement", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/settlements/generate", map[string]string{"date": "2026-04-01"})
		if rec.Code != http.StatusCreated {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusCreated, rec.Body.String())
		}
		got := decodeBody(t, rec)
		if got["status"] != "pending" {
			t.Errorf("status field = %v, want pending", got["status"])
		}
		if got["total_collected"] != "1000" {
			t.Errorf("total_collected = %v, want 1000", got["total_collected"])
		}
		if got["mwu_amount"] != "820" {
			t.Errorf("mwu_amount = %v, want 820", got["mwu_amount"])
		}
	})

	t.Run("generating the same date twice conflicts", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/settlements/generate", map[string]string{"date": "2026-04-01"})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
	})

	t.Run("a malformed date is rejected", func(t *testing.T) {
		rec := h.do(t, http.MethodPost, "/api/v1/settlements/generate", map[string]string{"date": "April 1st"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
		if got := decodeBody(t, rec); got["kind"] != "validation" {
			t.Errorf("kind = %v, want validation", got["kind"])
		}
	})

	t.Run("get by id returns the settlement", func(t *testing.T) {
		settlement, err := h.svc.GetSettlementByDate(context.Background(), "2026-04-01")
		if err != nil {
			t.Fatalf("GetSettlementByDate() error = %v", err)
		}
		rec := h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["id"] != settlement.ID {
			t.Errorf("id = %v, want %s", got["id"], settlement.ID)
		}
	})

	t.Run("an unknown settlement is not found", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/settlements/no-such-id", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("list returns the generated settlements", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/settlements?limit=10", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["count"] != float64(1) {
			t.Errorf("count = %v, want 1", got["count"])
		}
	})

	t.Run("list filters by date", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/settlements?date=2026-04-01", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["count"] != float64(1) {
			t.Errorf("count = %v, want 1", got["count"])
		}
	})

	t.Run("a date with no settlement is not found", func(t *testing.T) {
		rec := h.do(t, http.MethodGet, "/api/v1/settlements?date=2026-12-25", nil)
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})
}

func TestProcessEndpoints(t *testing.T) {
	ctx := context.Background()

	t.Run("processing with the right secret completes the settlement", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.seedWorkedExample(t, "2026-04-01")
		settlement, err := h.svc.Generate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		rec := h.do(t, http.MethodPost, "/api/v1/settlements/"+settlement.ID+"/process", map[string]any{
			"operator":            "jane",
			"confirmation_secret": testSecret,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		got := decodeBody(t, rec)
		if got["completed"] != true {
			t.Errorf("completed = %v, want true", got["completed"])
		}
		if got["payouts_submitted"] != float64(2) {
			t.Errorf("payouts_submitted = %v, want 2", got["payouts_submitted"])
		}
		view := got["settlement"].(map[string]any)
		if view["status"] != "completed" {
			t.Errorf("settlement status = %v, want completed", view["status"])
		}
		if view["processed_by"] != "jane" {
			t.Errorf("processed_by = %v, want jane", view["processed_by"])
		}
		if got["transfers"] == nil {
			t.Error("response carries no transfer report")
		}
	})

	t.Run("a wrong secret is forbidden and changes nothing", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.seedWorkedExample(t, "2026-04-01")
		settlement, err := h.svc.Generate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		rec := h.do(t, http.MethodPost, "/api/v1/settlements/"+settlement.ID+"/process", map[string]any{
			"operator":            "jane",
			"confirmation_secret": "wrong",
		})
		if rec.Code != http.StatusForbidden {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusForbidden)
		}
		after, err := h.svc.GetSettlement(ctx, settlement.ID)
		if err != nil {
			t.Fatalf("GetSettlement() error = %v", err)
		}
		if after.Status != models.SettlementPending {
			t.Errorf("status after rejected process = %s, want pending", after.Status)
		}
	})

	t.Run("payouts-only processing needs no secret", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.seedWorkedExample(t, "2026-04-01")
		settlement, err := h.svc.Generate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		rec := h.do(t, http.MethodPost, "/api/v1/settlements/"+settlement.ID+"/process", map[string]any{
			"operator":                "jane",
			"initiate_bank_transfers": false,
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		got := decodeBody(t, rec)
		if got["transfers"] != nil {
			t.Errorf("transfers = %v, want absent", got["transfers"])
		}
	})

	t.Run("retry with no failed payouts reports zero attempts", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")

		rec := h.do(t, http.MethodPost, "/api/v1/settlements/"+settlement.ID+"/retry-payouts", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["attempted"] != float64(0) {
			t.Errorf("attempted = %v, want 0", got["attempted"])
		}
	})

	t.Run("declaring failure requires a reason", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.seedWorkedExample(t, "2026-04-01")
		settlement, err := h.svc.Generate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		rec := h.do(t, http.MethodPost, "/api/v1/settlements/"+settlement.ID+"/fail", map[string]string{"operator": "jane"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("an operator can declare a settlement failed", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.seedWorkedExample(t, "2026-04-01")
		settlement, err := h.svc.Generate(ctx, "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}

		rec := h.do(t, http.MethodPost, "/api/v1/settlements/"+settlement.ID+"/fail", map[string]string{
			"operator": "jane",
			"reason":   "rail outage, disbursed manually",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}
		got := decodeBody(t, rec)
		if got["status"] != "failed" {
			t.Errorf("status = %v, want failed", got["status"])
		}
		if got["failure_reason"] != "rail outage, disbursed manually" {
			t.Errorf("failure_reason = %v", got["failure_reason"])
		}
	})
}

func TestPayoutCallback(t *testing.T) {
	t.Run("a success callback completes the payout", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")
		delegate := h.payoutByType(t, settlement.ID, models.RecipientDelegate)

		rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{
			"conversation_id":       delegate.ConversationID,
			"status":                "processed",
			"transaction_reference": "SBL12345",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		after, err := h.store.GetPayout(context.Background(), delegate.ID)
		if err != nil {
			t.Fatalf("GetPayout() error = %v", err)
		}
		if after.Status != models.PayoutProcessed {
			t.Errorf("payout status = %s, want processed", after.Status)
		}
		if after.TransactionReference != "SBL12345" {
			t.Errorf("transaction reference = %q, want SBL12345", after.TransactionReference)
		}
	})

	t.Run("a redelivered success is a harmless no-op", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")
		delegate := h.payoutByType(t, settlement.ID, models.RecipientDelegate)

		body := map[string]string{
			"conversation_id":       delegate.ConversationID,
			"status":                "processed",
			"transaction_reference": "SBL12345",
		}
		for i := 0; i < 2; i++ {
			rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", body)
			if rec.Code != http.StatusOK {
				t.Fatalf("delivery %d: status = %d, want %d", i+1, rec.Code, http.StatusOK)
			}
		}
	})

	t.Run("a failure callback records the gateway's reason", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")
		coordinator := h.payoutByType(t, settlement.ID, models.RecipientCoordinator)

		rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{
			"conversation_id": coordinator.ConversationID,
			"status":          "failed",
			"failure_reason":  "recipient account unreachable",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		after, err := h.store.GetPayout(context.Background(), coordinator.ID)
		if err != nil {
			t.Fatalf("GetPayout() error = %v", err)
		}
		if after.Status != models.PayoutFailed {
			t.Errorf("payout status = %s, want failed", after.Status)
		}
		if after.FailureReason != "recipient account unreachable" {
			t.Errorf("failure reason = %q", after.FailureReason)
		}
	})

	t.Run("failing an already processed payout conflicts", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")
		delegate := h.payoutByType(t, settlement.ID, models.RecipientDelegate)

		rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{
			"conversation_id":       delegate.ConversationID,
			"status":                "processed",
			"transaction_reference": "SBL12345",
		})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}

		rec = h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{
			"conversation_id": delegate.ConversationID,
			"status":          "failed",
			"failure_reason":  "late reversal",
		})
		if rec.Code != http.StatusConflict {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusConflict)
		}
	})

	t.Run("an unknown conversation id is not found", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.generateAndSubmit(t, "2026-04-01")

		rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{
			"conversation_id": "AG_conv_nope",
			"status":          "processed",
		})
		if rec.Code != http.StatusNotFound {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
		}
	})

	t.Run("a body identifying no payout is rejected", func(t *testing.T) {
		h := newWebHarness(t, nil)

		rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{"status": "processed"})
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("the channel's native envelope is tried first", func(t *testing.T) {
		parser := &mockParser{}
		h := newWebHarness(t, parser)
		settlement := h.generateAndSubmit(t, "2026-04-01")
		delegate := h.payoutByType(t, settlement.ID, models.RecipientDelegate)

		parser.parseFunc = func(body []byte) (*gateway.CallbackResult, error) {
			return &gateway.CallbackResult{
				ConversationID:       delegate.ConversationID,
				Succeeded:            true,
				TransactionReference: "NATIVE-1",
			}, nil
		}

		rec := h.do(t, http.MethodPost, "/api/v1/callbacks/payout", map[string]string{"Result": "native envelope"})
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d: %s", rec.Code, http.StatusOK, rec.Body.String())
		}

		after, err := h.store.GetPayout(context.Background(), delegate.ID)
		if err != nil {
			t.Fatalf("GetPayout() error = %v", err)
		}
		if after.TransactionReference != "NATIVE-1" {
			t.Errorf("transaction reference = %q, want NATIVE-1", after.TransactionReference)
		}
	})
}

func TestReadEndpoints(t *testing.T) {
	t.Run("payouts listing filters by status", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")

		rec := h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID+"/payouts?status=processing", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["count"] != float64(2) {
			t.Errorf("count = %v, want 2", got["count"])
		}

		rec = h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID+"/payouts?status=failed", nil)
		if got := decodeBody(t, rec); got["count"] != float64(0) {
			t.Errorf("failed count = %v, want 0", got["count"])
		}
	})

	t.Run("an unknown payout status filter is rejected", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")

		rec := h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID+"/payouts?status=limbo", nil)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("status = %d, want %d", rec.Code, http.StatusBadRequest)
		}
	})

	t.Run("statistics aggregate the submitted payouts", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")

		rec := h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID+"/statistics", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		got := decodeBody(t, rec)
		if got["total_count"] != float64(2) {
			t.Errorf("total_count = %v, want 2", got["total_count"])
		}
		if got["processing_amount"] != "60" {
			t.Errorf("processing_amount = %v, want 60", got["processing_amount"])
		}
	})

	t.Run("breakdown splits payouts by tier", func(t *testing.T) {
		h := newWebHarness(t, nil)
		settlement := h.generateAndSubmit(t, "2026-04-01")

		rec := h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID+"/breakdown", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		got := decodeBody(t, rec)
		delegates := got["delegates"].([]any)
		coordinators := got["coordinators"].([]any)
		if len(delegates) != 1 || len(coordinators) != 1 {
			t.Errorf("delegates = %d, coordinators = %d, want 1 and 1", len(delegates), len(coordinators))
		}
		first := delegates[0].(map[string]any)
		if first["amount"] != "40" {
			t.Errorf("delegate amount = %v, want 40", first["amount"])
		}
	})

	t.Run("transfers appear after a full process run", func(t *testing.T) {
		h := newWebHarness(t, nil)
		h.seedWorkedExample(t, "2026-04-01")
		settlement, err := h.svc.Generate(context.Background(), "2026-04-01")
		if err != nil {
			t.Fatalf("Generate() error = %v", err)
		}
		if _, err := h.svc.Process(context.Background(), settlement.ID, "test", service.ProcessOptions{
			InitiatePayouts:       true,
			InitiateBankTransfers: true,
			ConfirmationSecret:    testSecret,
		}); err != nil {
			t.Fatalf("Process() error = %v", err)
		}

		rec := h.do(t, http.MethodGet, "/api/v1/settlements/"+settlement.ID+"/transfers", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["count"] != float64(2) {
			t.Errorf("count = %v, want 2", got["count"])
		}
	})

	t.Run("health reports ok while the store answers", func(t *testing.T) {
		h := newWebHarness(t, nil)
		rec := h.do(t, http.MethodGet, "/healthz", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
		}
		if got := decodeBody(t, rec); got["status"] != "ok" {
			t.Errorf("status field = %v, want ok", got["status"])
		}
	})
}
