// Package paypal implements gateway.PayoutGateway on the PayPal Payouts API.
// It is the alternative commission channel for recipients outside the
// mobile-money rail, selected with GATEWAY_CHANNEL=paypal.
package paypal

import (
	"context"
	"fmt"

	"github.com/plutov/paypal/v4"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
)

// Config parameterizes the Payouts adapter.
type Config struct {
	ClientID string
	Secret   string
	Currency string
	Live     bool

	// BaseURL overrides the sandbox/live API base; used by tests and
	// self-hosted simulators.
	BaseURL string
}

// Adapter implements gateway.PayoutGateway using PayPal Payouts.
type Adapter struct {
	client   *paypal.Client
	currency string
}

var _ gateway.PayoutGateway = (*Adapter)(nil)

// New creates the adapter and verifies credentials by fetching an access
// token up front, so misconfiguration surfaces at startup rather than on the
// first settlement run.
func New(ctx context.Context, cfg Config) (*Adapter, error) {
	base := cfg.BaseURL
	if base == "" {
		base = paypal.APIBaseSandBox
		if cfg.Live {
			base = paypal.APIBaseLive
		}
	}

	client, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, fmt.Errorf("failed to create paypal client: %w", err)
	}
	if _, err := client.GetAccessToken(ctx); err != nil {
		return nil, errs.E(errs.KindGateway, "paypal.init", "failed to fetch access token", err)
	}

	currency := cfg.Currency
	if currency == "" {
		currency = "USD"
	}
	return &Adapter{client: client, currency: currency}, nil
}

// Channel implements gateway.PayoutGateway.
func (a *Adapter) Channel() string { return "paypal_payouts" }

// SubmitPayout implements gateway.PayoutGateway. Each payout is its own
// single-item batch; the batch ID doubles as the conversation ID the
// webhook correlates on.
func (a *Adapter) SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (string, error) {
	if req.PhoneNumber == "" {
		return "", errs.Errorf(errs.KindValidation, "paypal.submit", "recipient phone number is empty")
	}
	if !req.Amount.IsPositive() {
		return "", errs.Errorf(errs.KindValidation, "paypal.submit", "amount must be positive, got %s", req.Amount)
	}

	payout := paypal.Payout{
		SenderBatchHeader: &paypal.SenderBatchHeader{
			SenderBatchID: req.PayoutID,
			EmailSubject:  "Commission payout",
		},
		Items: []paypal.PayoutItem{
			{
				RecipientType: "PHONE",
				Receiver:      req.PhoneNumber,
				Amount: &paypal.AmountPayout{
					Currency: a.currency,
					Value:    req.Amount.StringFixed(2),
				},
				Note:         req.Remarks,
				SenderItemID: req.PayoutID,
			},
		},
	}

	res, err := a.client.CreateSinglePayout(ctx, payout)
	if err != nil {
		return "", errs.E(errs.KindGateway, "paypal.submit", "payout submission failed", err)
	}
	if res.BatchHeader == nil || res.BatchHeader.PayoutBatchID == "" {
		return "", errs.Errorf(errs.KindGateway, "paypal.submit", "response carried no batch ID")
	}
	return res.BatchHeader.PayoutBatchID, nil
}
