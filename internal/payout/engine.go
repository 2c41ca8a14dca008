// Package payout drives commission disbursements: building payout rows from
// a commission breakdown, submitting them over the payment gateway, and
// settling their terminal state when the gateway's asynchronous result
// arrives.
package payout

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/mwukenya/settlement/internal/calculator"
	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
	"github.com/mwukenya/settlement/internal/models"
	"github.com/mwukenya/settlement/internal/recovery"
	"github.com/mwukenya/settlement/internal/storage"
	"github.com/mwukenya/settlement/pkg/metrics"
)

// OpGatewaySubmit is the orchestrator operation type for gateway payout
// submissions. Wiring registers a patient retry config for it, since mobile
// money rails are the flakiest dependency the engine talks to.
const OpGatewaySubmit = "payout.gateway_submit"

// PayoutRef addresses a payout either by its row ID or by the gateway
// conversation ID carried in an asynchronous callback. Exactly one field
// should be set; the ID wins when both are.
type PayoutRef struct {
	ID             string
	ConversationID string
}

// Engine coordinates payout persistence and the payment gateway.
type Engine struct {
	store storage.Store
	gw    gateway.PayoutGateway
	orch  *recovery.Orchestrator
}

// NewEngine creates a payout engine on the given store and gateway. Gateway
// submissions run through the orchestrator's retry loop.
func NewEngine(store storage.Store, gw gateway.PayoutGateway, orch *recovery.Orchestrator) *Engine {
	return &Engine{
		store: store,
		gw:    gw,
		orch:  orch,
	}
}

// BuildPayouts converts a commission breakdown into pending payout rows for
// the given settlement. Breakdowns only ever carry nonzero shares, so every
// row has a strictly positive amount.
func BuildPayouts(settlementID string, shares []calculator.RecipientShare) []models.CommissionPayout {
	payouts := make([]models.CommissionPayout, 0, len(shares))
	for _, share := range shares {
		payouts = append(payouts, models.CommissionPayout{
			SettlementID:  settlementID,
			RecipientID:   share.RecipientID,
			RecipientType: share.RecipientType,
			Amount:        share.Amount,
			PaymentCount:  share.PaymentCount,
			Status:        models.PayoutPending,
		})
	}
	return payouts
}

// SubmitPayout submits one payout to the gateway and records the issued
// conversation ID. Submission is fire-and-forget: success means the rail
// accepted the request, not that the recipient has been paid. Only pending
// and failed payouts may be submitted; a submission that the gateway rejects
// marks the payout failed so an operator retry can pick it up.
func (e *Engine) SubmitPayout(ctx context.Context, payoutID string) error {
	const op = "payout.submit"

	payout, err := e.store.GetPayout(ctx, payoutID)
	if err != nil {
		return err
	}
	if payout.Status != models.PayoutPending && payout.Status != models.PayoutFailed {
		return errs.Errorf(errs.KindInvalidState, op, "payout %s is %s", payout.ID, payout.Status)
	}

	settlement, err := e.store.GetSettlement(ctx, payout.SettlementID)
	if err != nil {
		return err
	}

	recipient, err := e.store.GetMember(ctx, payout.RecipientID)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			reason := fmt.Sprintf("recipient %s not in member directory", payout.RecipientID)
			if markErr := e.store.MarkPayoutFailed(ctx, payout.ID, reason); markErr != nil {
				slog.Error("Failed to record payout failure", "payout_id", payout.ID, "error", markErr)
			}
		}
		return err
	}
	if recipient.PhoneNumber == "" {
		reason := fmt.Sprintf("recipient %s has no payout contact", recipient.ID)
		if markErr := e.store.MarkPayoutFailed(ctx, payout.ID, reason); markErr != nil {
			slog.Error("Failed to record payout failure", "payout_id", payout.ID, "error", markErr)
		}
		return errs.Errorf(errs.KindValidation, op, "%s", reason)
	}

	req := gateway.PayoutRequest{
		PayoutID:    payout.ID,
		Amount:      payout.Amount,
		PhoneNumber: recipient.PhoneNumber,
		Reference:   fmt.Sprintf("MWU %s commission %s", payout.RecipientType, settlement.SettlementDate),
		Remarks:     fmt.Sprintf("Commission for %d payments on %s", payout.PaymentCount, settlement.SettlementDate),
	}
	conversationID, err := recovery.ExecuteWithRecovery(ctx, e.orch, OpGatewaySubmit, func(ctx context.Context) (string, error) {
		return e.gw.SubmitPayout(ctx, req)
	})
	if err != nil {
		metrics.PayoutSubmissions.WithLabelValues(e.gw.Channel(), "failure").Inc()
		slog.Error("Payout submission rejected",
			"payout_id", payout.ID,
			"recipient_id", payout.RecipientID,
			"amount", payout.Amount,
			"error", err,
		)
		if markErr := e.store.MarkPayoutFailed(ctx, payout.ID, err.Error()); markErr != nil {
			slog.Error("Failed to record payout failure", "payout_id", payout.ID, "error", markErr)
		}
		return err
	}

	if err := e.store.MarkPayoutSubmitted(ctx, payout.ID, conversationID, e.gw.Channel()); err != nil {
		// The rail has the money order at this point; surface loudly so the
		// conversation ID is at least in the logs for manual correlation.
		slog.Error("Gateway accepted payout but recording the submission failed",
			"payout_id", payout.ID,
			"conversation_id", conversationID,
			"error", err,
		)
		return err
	}

	metrics.PayoutSubmissions.WithLabelValues(e.gw.Channel(), "success").Inc()
	slog.Info("Payout submitted",
		"payout_id", payout.ID,
		"recipient_id", payout.RecipientID,
		"recipient_type", payout.RecipientType,
		"amount", payout.Amount,
		"conversation_id", conversationID,
		"channel", e.gw.Channel(),
	)
	return nil
}

// MarkProcessed records gateway confirmation of a disbursement. Duplicate
// confirmations are no-ops, so webhook redeliveries are harmless.
func (e *Engine) MarkProcessed(ctx context.Context, ref PayoutRef, transactionReference string) error {
	payout, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := e.store.MarkPayoutProcessed(ctx, payout.ID, transactionReference); err != nil {
		return err
	}
	metrics.PayoutResults.WithLabelValues(string(models.PayoutProcessed)).Inc()
	slog.Info("Payout processed",
		"payout_id", payout.ID,
		"transaction_reference", transactionReference,
	)
	return nil
}

// MarkFailed records a gateway-reported disbursement failure.
func (e *Engine) MarkFailed(ctx context.Context, ref PayoutRef, reason string) error {
	payout, err := e.resolve(ctx, ref)
	if err != nil {
		return err
	}
	if err := e.store.MarkPayoutFailed(ctx, payout.ID, reason); err != nil {
		return err
	}
	metrics.PayoutResults.WithLabelValues(string(models.PayoutFailed)).Inc()
	slog.Warn("Payout failed",
		"payout_id", payout.ID,
		"reason", reason,
	)
	return nil
}

// Statistics aggregates a settlement's payouts by status.
func (e *Engine) Statistics(ctx context.Context, settlementID string) (*models.PayoutStatistics, error) {
	return e.store.GetPayoutStatistics(ctx, settlementID)
}

func (e *Engine) resolve(ctx context.Context, ref PayoutRef) (*models.CommissionPayout, error) {
	switch {
	case ref.ID != "":
		return e.store.GetPayout(ctx, ref.ID)
	case ref.ConversationID != "":
		return e.store.GetPayoutByConversationID(ctx, ref.ConversationID)
	default:
		return nil, errs.Errorf(errs.KindValidation, "payout.resolve", "payout reference is empty")
	}
}
