// Package bankapi implements gateway.BankTransferClient against a REST bank
// integration. Transfers resolve synchronously: the response carries the
// final transaction ID.
package bankapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
)

const transferPath = "/v1/transfers"

// Config parameterizes the bank client.
type Config struct {
	BaseURL string
	APIKey  string
}

// Client is a synchronous bank-transfer client.
type Client struct {
	cfg    Config
	client *http.Client
}

var _ gateway.BankTransferClient = (*Client)(nil)

// New creates a bank client.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
	}
}

type transferRequest struct {
	Amount        string `json:"amount"`
	AccountName   string `json:"account_name"`
	AccountNumber string `json:"account_number"`
	BankCode      string `json:"bank_code"`
	Reference     string `json:"reference"`
}

type transferResponse struct {
	TransactionID string `json:"transaction_id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
}

// SubmitTransfer implements gateway.BankTransferClient.
func (c *Client) SubmitTransfer(ctx context.Context, req gateway.TransferRequest) (string, error) {
	if !req.Amount.IsPositive() {
		return "", errs.Errorf(errs.KindValidation, "bank.transfer", "amount must be positive, got %s", req.Amount)
	}
	if req.Account.AccountNumber == "" {
		return "", errs.Errorf(errs.KindValidation, "bank.transfer", "destination account number is empty")
	}

	payload := transferRequest{
		Amount:        req.Amount.String(),
		AccountName:   req.Account.AccountName,
		AccountNumber: req.Account.AccountNumber,
		BankCode:      req.Account.BankCode,
		Reference:     req.Reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+transferPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("X-API-Key", c.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", errs.E(errs.KindGateway, "bank.transfer", "transfer request failed", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", errs.E(errs.KindGateway, "bank.transfer", "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return "", errs.Errorf(errs.KindGateway, "bank.transfer",
			"transfer endpoint returned %d: %s", resp.StatusCode, truncate(respBody))
	}

	var tr transferResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return "", errs.E(errs.KindGateway, "bank.transfer", "failed to decode response", err)
	}
	if tr.Status == "failed" {
		return "", errs.Errorf(errs.KindGateway, "bank.transfer", "transfer rejected: %s", tr.Message)
	}
	if tr.TransactionID == "" {
		return "", errs.Errorf(errs.KindGateway, "bank.transfer", "response carried no transaction ID")
	}
	return tr.TransactionID, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
