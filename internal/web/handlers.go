package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/payout"
	"github.com/mwukenya/settlement/internal/service"
)

// maxBodyBytes caps request bodies; callbacks and operator requests are all
// small JSON documents.
const maxBodyBytes = 1 << 20

// defaultOperator attributes mutations when the request names no operator.
const defaultOperator = "api"

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

type settlementView struct {
	ID                          string          `json:"id"`
	SettlementDate              string          `json:"settlement_date"`
	TotalCollected              decimal.Decimal `json:"total_collected"`
	ShaAmount                   decimal.Decimal `json:"sha_amount"`
	MwuAmount                   decimal.Decimal `json:"mwu_amount"`
	TotalDelegateCommissions    decimal.Decimal `json:"total_delegate_commissions"`
	TotalCoordinatorCommissions decimal.Decimal `json:"total_coordinator_commissions"`
	TotalPayments               int             `json:"total_payments"`
	UniqueMembers               int             `json:"unique_members"`
	Status                      string          `json:"status"`
	ProcessedAt                 int64           `json:"processed_at,omitempty"`
	ProcessedBy                 string          `json:"processed_by,omitempty"`
	FailureReason               string          `json:"failure_reason,omitempty"`
	CreatedAt                   int64           `json:"created_at"`
	UpdatedAt                   int64           `json:"updated_at"`
}

type payoutView struct {
	ID                   string          `json:"id"`
	SettlementID         string          `json:"settlement_id"`
	RecipientID          string          `json:"recipient_id"`
	RecipientType        string          `json:"recipient_type"`
	Amount               decimal.Decimal `json:"amount"`
	PaymentCount         int             `json:"payment_count"`
	Status               string          `json:"status"`
	PaymentMethod        string          `json:"payment_method,omitempty"`
	TransactionReference string          `json:"transaction_reference,omitempty"`
	ConversationID       string          `json:"conversation_id,omitempty"`
	FailureReason        string          `json:"failure_reason,omitempty"`
	ProcessedAt          int64           `json:"processed_at,omitempty"`
	CreatedAt            int64           `json:"created_at"`
	UpdatedAt            int64           `json:"updated_at"`
}

type transferView struct {
	ID            string          `json:"id"`
	SettlementID  string          `json:"settlement_id"`
	Portion       string          `json:"portion"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status"`
	TransactionID string          `json:"transaction_id,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	UpdatedAt     int64           `json:"updated_at"`
}

type statisticsView struct {
	SettlementID     string          `json:"settlement_id"`
	TotalCount       int             `json:"total_count"`
	PendingCount     int             `json:"pending_count"`
	ProcessingCount  int             `json:"processing_count"`
	ProcessedCount   int             `json:"processed_count"`
	FailedCount      int             `json:"failed_count"`
	TotalAmount      decimal.Decimal `json:"total_amount"`
	PendingAmount    decimal.Decimal `json:"pending_amount"`
	ProcessingAmount decimal.Decimal `json:"processing_amount"`
	ProcessedAmount  decimal.Decimal `json:"processed_amount"`
	FailedAmount     decimal.Decimal `json:"failed_amount"`
}

func toSettlementView(s *models.Settlement) settlementView {
	return settlementView{
		ID:                          s.ID,
		SettlementDate:              s.SettlementDate,
		TotalCollected:              s.TotalCollected,
		ShaAmount:                   s.ShaAmount,
		MwuAmount:                   s.MwuAmount,
		TotalDelegateCommissions:    s.TotalDelegateCommissions,
		TotalCoordinatorCommissions: s.TotalCoordinatorCommissions,
		TotalPayments:               s.TotalPayments,
		UniqueMembers:               s.UniqueMembers,
		Status:                      string(s.Status),
		ProcessedAt:                 s.ProcessedAt,
		ProcessedBy:                 s.ProcessedBy,
		FailureReason:               s.FailureReason,
		CreatedAt:                   s.CreatedAt,
		UpdatedAt:                   s.UpdatedAt,
	}
}

func toPayoutView(p *models.CommissionPayout) payoutView {
	return payoutView{
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
}

func toPayoutViews(payouts []models.CommissionPayout) []payoutView {
	views := make([]payoutView, 0, len(payouts))
	for i := range payouts {
		views = append(views, toPayoutView(&payouts[i]))
	}
	return views
}

func toTransferView(t *models.BankTransfer) transferView {
	return transferView{
		ID:            t.ID,
		SettlementID:  t.SettlementID,
		Portion:       string(t.Portion),
		Amount:        t.Amount,
		Status:        string(t.Status),
		TransactionID: t.TransactionID,
		FailureReason: t.FailureReason,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
}

// respond writes v as JSON; encoding failures are logged since the status
// line is already gone by then.
func (s *Server) respond(w http.ResponseWriter, status int, v any) {
	if err := s.rnd.JSON(w, status, v); err != nil {
		slog.Error("Failed to write response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, err error) {
	kind := errs.KindOf(err)
	s.respond(w, statusForKind(kind), errorResponse{Error: err.Error(), Kind: kind.String()})
}

func statusForKind(kind errs.Kind) int {
	switch kind {
	case errs.KindValidation:
		return http.StatusBadRequest
	case errs.KindAuthorization:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindConflict, errs.KindInvalidState:
		return http.StatusConflict
	case errs.KindGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON decodes the request body into v. An empty body is not an error;
// callers see the zero value and apply their defaults.
func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err != nil && !errors.Is(err, io.EOF) {
		return errs.E(errs.KindValidation, "web.decode", "invalid JSON body", err)
	}
	return nil
}

// genericCallback is the normalized callback form accepted regardless of
// which gateway channel is configured. Exactly one of conversation_id and
// payout_id must identify the payout.
type genericCallback struct {
	ConversationID       string `json:"conversation_id"`
	PayoutID             string `json:"payout_id"`
	Status               string `json:"status"`
	TransactionReference string `json:"transaction_reference"`
	FailureReason        string `json:"failure_reason"`
}

// handlePayoutCallback receives the gateway's asynchronous disbursement
// result and commits the payout's terminal state. The configured channel's
// native envelope is tried first, then the normalized form. Redeliveries of
// a success are no-ops upstream, so answering 200 twice is safe.
func (s *Server) handlePayoutCallback(w http.ResponseWriter, r *http.Request) {
	const op = "web.payout_callback"

	defer r.Body.Close()
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		s.respondError(w, errs.E(errs.KindValidation, op, "unreadable request body", err))
		return
	}

	result, err := s.parseCallback(body)
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.auditCallback(r.Context(), result)

	ref := payout.PayoutRef{ID: result.PayoutID, ConversationID: result.ConversationID}
	if result.Succeeded {
		err = s.payouts.MarkProcessed(r.Context(), ref, result.TransactionReference)
	} else {
		reason := result.FailureReason
		if reason == "" {
			reason = "gateway reported failure without a reason"
		}
		err = s.payouts.MarkFailed(r.Context(), ref, reason)
	}
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.respond(w, http.StatusOK, map[string]string{"result": "ok"})
}

// parseCallback decodes the raw callback body, preferring the configured
// channel's native envelope over the normalized form.
func (s *Server) parseCallback(body []byte) (*gateway.CallbackResult, error) {
	const op = "web.payout_callback"

	if s.parser != nil {
		if result, err := s.parser.ParseCallback(body); err == nil {
			return result, nil
		}
	}

	var cb genericCallback
	if err := json.Unmarshal(body, &cb); err != nil {
		return nil, errs.E(errs.KindValidation, op, "unrecognized callback body", err)
	}
	if cb.ConversationID == "" && cb.PayoutID == "" {
		return nil, errs.Errorf(errs.KindValidation, op, "callback identifies no payout")
	}
	switch cb.Status {
	case string(models.PayoutProcessed), string(models.PayoutFailed):
	default:
		return nil, errs.Errorf(errs.KindValidation, op, "callback status %q is not processed or failed", cb.Status)
	}

	return &gateway.CallbackResult{
		ConversationID:       cb.ConversationID,
		PayoutID:             cb.PayoutID,
		Succeeded:            cb.Status == string(models.PayoutProcessed),
		TransactionReference: cb.TransactionReference,
		FailureReason:        cb.FailureReason,
	}, nil
}

// auditCallback records the callback for operator forensics. Best effort:
// the payout state change matters more than the audit row.
func (s *Server) auditCallback(ctx context.Context, result *gateway.CallbackResult) {
	outcome := string(models.PayoutFailed)
	detail := result.FailureReason
	if result.Succeeded {
		outcome = string(models.PayoutProcessed)
		detail = result.TransactionReference
	}
	record := &models.CallbackRecord{
		ID:             uuid.New().String(),
		ConversationID: result.ConversationID,
		Outcome:        outcome,
		Detail:         detail,
		ReceivedAt:     time.Now().Unix(),
	}
	if err := s.store.RecordCallback(ctx, record); err != nil {
		slog.Error("Failed to record gateway callback",
			"conversation_id", result.ConversationID,
			"error", err,
		)
	}
}

type generateRequest struct {
	Date string `json:"date"`
}

func (s *Server) handleGenerateSettlement(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	settlement, err := s.svc.Generate(r.Context(), req.Date)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusCreated, toSettlementView(settlement))
}

func (s *Server) handleListSettlements(w http.ResponseWriter, r *http.Request) {
	if date := r.URL.Query().Get("date"); date != "" {
		settlement, err := s.svc.GetSettlementByDate(r.Context(), date)
		if err != nil {
			s.respondError(w, err)
			return
		}
		s.respond(w, http.StatusOK, map[string]any{
			"settlements": []settlementView{toSettlementView(settlement)},
			"count":       1,
		})
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	settlements, err := s.svc.ListRecentSettlements(r.Context(), limit)
	if err != nil {
		s.respondError(w, err)
		return
	}

	views := make([]settlementView, 0, len(settlements))
	for i := range settlements {
		views = append(views, toSettlementView(&settlements[i]))
	}
	s.respond(w, http.StatusOK, map[string]any{
		"settlements": views,
		"count":       len(views),
	})
}

func (s *Server) handleGetSettlement(w http.ResponseWriter, r *http.Request) {
	settlement, err := s.svc.GetSettlement(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toSettlementView(settlement))
}

type processRequest struct {
	Operator              string `json:"operator"`
	InitiatePayouts       *bool  `json:"initiate_payouts"`
	InitiateBankTransfers *bool  `json:"initiate_bank_transfers"`
	ConfirmationSecret    string `json:"confirmation_secret"`
}

type transferOutcome struct {
	Transfer *transferView `json:"transfer,omitempty"`
	Error    string        `json:"error,omitempty"`
}

type transfersReport struct {
	Sha transferOutcome `json:"sha"`
	Mwu transferOutcome `json:"mwu"`
}

type processResponse struct {
	Settlement       settlementView   `json:"settlement"`
	Completed        bool             `json:"completed"`
	PayoutsSubmitted int              `json:"payouts_submitted"`
	PayoutFailures   int              `json:"payout_failures"`
	Transfers        *transfersReport `json:"transfers,omitempty"`
}

func (s *Server) handleProcessSettlement(w http.ResponseWriter, r *http.Request) {
	var req processRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}

	operator := req.Operator
	if operator == "" {
		operator = defaultOperator
	}
	// Both legs default on; a leg is skipped only when explicitly disabled.
	opts := service.ProcessOptions{
		InitiatePayouts:       req.InitiatePayouts == nil || *req.InitiatePayouts,
		InitiateBankTransfers: req.InitiateBankTransfers == nil || *req.InitiateBankTransfers,
		ConfirmationSecret:    req.ConfirmationSecret,
	}

	result, err := s.svc.Process(r.Context(), mux.Vars(r)["id"], operator, opts)
	if err != nil {
		s.respondError(w, err)
		return
	}

	resp := processResponse{
		Settlement:       toSettlementView(result.Settlement),
		Completed:        result.Completed,
		PayoutsSubmitted: result.PayoutsSubmitted,
		PayoutFailures:   result.PayoutFailures,
	}
	if result.TransferReport != nil {
		resp.Transfers = &transfersReport{
			Sha: toTransferOutcome(result.TransferReport.Sha.Transfer, result.TransferReport.Sha.Err),
			Mwu: toTransferOutcome(result.TransferReport.Mwu.Transfer, result.TransferReport.Mwu.Err),
		}
	}
	s.respond(w, http.StatusOK, resp)
}

func toTransferOutcome(transfer *models.BankTransfer, err error) transferOutcome {
	out := transferOutcome{}
	if transfer != nil {
		view := toTransferView(transfer)
		out.Transfer = &view
	}
	if err != nil {
		out.Error = err.Error()
	}
	return out
}

type retryRequest struct {
	Operator string `json:"operator"`
}

func (s *Server) handleRetryPayouts(w http.ResponseWriter, r *http.Request) {
	var req retryRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	operator := req.Operator
	if operator == "" {
		operator = defaultOperator
	}

	result, err := s.svc.RetryFailedPayouts(r.Context(), mux.Vars(r)["id"], operator)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]int{
		"attempted":   result.Attempted,
		"resubmitted": result.Resubmitted,
		"failures":    result.Failures,
	})
}

type failRequest struct {
	Operator string `json:"operator"`
	Reason   string `json:"reason"`
}

func (s *Server) handleFailSettlement(w http.ResponseWriter, r *http.Request) {
	var req failRequest
	if err := decodeJSON(r, &req); err != nil {
		s.respondError(w, err)
		return
	}
	operator := req.Operator
	if operator == "" {
		operator = defaultOperator
	}

	id := mux.Vars(r)["id"]
	if err := s.svc.MarkSettlementFailed(r.Context(), id, operator, req.Reason); err != nil {
		s.respondError(w, err)
		return
	}

	settlement, err := s.svc.GetSettlement(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, toSettlementView(settlement))
}

func (s *Server) handleListPayouts(w http.ResponseWriter, r *http.Request) {
	const op = "web.list_payouts"

	status := models.PayoutStatus(r.URL.Query().Get("status"))
	switch status {
	case "", models.PayoutPending, models.PayoutProcessing, models.PayoutProcessed, models.PayoutFailed:
	default:
		s.respondError(w, errs.Errorf(errs.KindValidation, op, "unknown payout status %q", status))
		return
	}

	payouts, err := s.svc.ListPayouts(r.Context(), mux.Vars(r)["id"], status)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"payouts": toPayoutViews(payouts),
		"count":   len(payouts),
	})
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.svc.GetPayoutStatistics(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, statisticsView{
		SettlementID:     stats.SettlementID,
		TotalCount:       stats.TotalCount,
		PendingCount:     stats.PendingCount,
		ProcessingCount:  stats.ProcessingCount,
		ProcessedCount:   stats.ProcessedCount,
		FailedCount:      stats.FailedCount,
		TotalAmount:      stats.TotalAmount,
		PendingAmount:    stats.PendingAmount,
		ProcessingAmount: stats.ProcessingAmount,
		ProcessedAmount:  stats.ProcessedAmount,
		FailedAmount:     stats.FailedAmount,
	})
}

func (s *Server) handleBreakdown(w http.ResponseWriter, r *http.Request) {
	breakdown, err := s.svc.GetCommissionBreakdown(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]any{
		"settlement":   toSettlementView(breakdown.Settlement),
		"delegates":    toPayoutViews(breakdown.Delegates),
		"coordinators": toPayoutViews(breakdown.Coordinators),
	})
}

func (s *Server) handleListTransfers(w http.ResponseWriter, r *http.Request) {
	transfers, err := s.svc.ListBankTransfers(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.respondError(w, err)
		return
	}
	views := make([]transferView, 0, len(transfers))
	for i := range transfers {
		views = append(views, toTransferView(&transfers[i]))
	}
	s.respond(w, http.StatusOK, map[string]any{
		"transfers": views,
		"count":     len(views),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		s.respond(w, http.StatusServiceUnavailable, map[string]string{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	s.respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
