// Package mpesa implements gateway.PayoutGateway against an M-Pesa-style
// B2C API: OAuth client-credentials token, JSON payment request, result
// delivered later to the configured callback URL.
package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
)

const (
	tokenPath = "/oauth/v1/generate?grant_type=client_credentials"
	b2cPath   = "/mpesa/b2c/v1/paymentrequest"

	// tokenSkew refreshes tokens slightly before the advertised expiry so a
	// request never rides an about-to-expire token.
	tokenSkew = 30 * time.Second

	defaultCommandID = "BusinessPayment"
)

// Config parameterizes the B2C client.
type Config struct {
	BaseURL            string
	ConsumerKey        string
	ConsumerSecret     string
	ShortCode          string
	InitiatorName      string
	SecurityCredential string
	ResultURL          string
	QueueTimeoutURL    string
}

// Client is a B2C payment client implementing gateway.PayoutGateway.
type Client struct {
	cfg    Config
	client *http.Client

	mu          sync.Mutex
	accessToken string
	tokenExpiry time.Time
}

var _ gateway.PayoutGateway = (*Client)(nil)

// New creates a B2C client.
func New(cfg Config) *Client {
	return &Client{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

// Channel implements gateway.PayoutGateway.
func (c *Client) Channel() string { return "mpesa_b2c" }

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   string `json:"expires_in"` // seconds, as a string
}

type b2cRequest struct {
	InitiatorName      string `json:"InitiatorName"`
	SecurityCredential string `json:"SecurityCredential"`
	CommandID          string `json:"CommandID"`
	Amount             string `json:"Amount"`
	PartyA             string `json:"PartyA"`
	PartyB             string `json:"PartyB"`
	Remarks            string `json:"Remarks"`
	QueueTimeOutURL    string `json:"QueueTimeOutURL"`
	ResultURL          string `json:"ResultURL"`
	Occasion           string `json:"Occasion"`
}

type b2cResponse struct {
	ConversationID           string `json:"ConversationID"`
	OriginatorConversationID string `json:"OriginatorConversationID"`
	ResponseCode             string `json:"ResponseCode"`
	ResponseDescription      string `json:"ResponseDescription"`
}

// SubmitPayout implements gateway.PayoutGateway. A nil error means the rail
// accepted the request; the disbursement result arrives asynchronously at
// the configured ResultURL, keyed by the returned conversation ID.
func (c *Client) SubmitPayout(ctx context.Context, req gateway.PayoutRequest) (string, error) {
	if req.PhoneNumber == "" {
		return "", errs.Errorf(errs.KindValidation, "mpesa.submit", "recipient phone number is empty")
	}
	if !req.Amount.IsPositive() {
		return "", errs.Errorf(errs.KindValidation, "mpesa.submit", "amount must be positive, got %s", req.Amount)
	}

	token, err := c.token(ctx)
	if err != nil {
		return "", err
	}

	payload := b2cRequest{
		InitiatorName:      c.cfg.InitiatorName,
		SecurityCredential: c.cfg.SecurityCredential,
		CommandID:          defaultCommandID,
		Amount:             req.Amount.String(),
		PartyA:             c.cfg.ShortCode,
		PartyB:             req.PhoneNumber,
		Remarks:            req.Remarks,
		QueueTimeOutURL:    c.cfg.QueueTimeoutURL,
		ResultURL:          c.cfg.ResultURL,
		Occasion:           req.Reference,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+b2cPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+token)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", errs.E(errs.KindGateway, "mpesa.submit", "payment request failed", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", errs.E(errs.KindGateway, "mpesa.submit", "failed to read response", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", errs.Errorf(errs.KindGateway, "mpesa.submit",
			"payment endpoint returned %d: %s", resp.StatusCode, truncate(respBody))
	}

	var b2c b2cResponse
	if err := json.Unmarshal(respBody, &b2c); err != nil {
		return "", errs.E(errs.KindGateway, "mpesa.submit", "failed to decode response", err)
	}
	if b2c.ResponseCode != "0" {
		return "", errs.Errorf(errs.KindGateway, "mpesa.submit",
			"request rejected (%s): %s", b2c.ResponseCode, b2c.ResponseDescription)
	}
	if b2c.ConversationID == "" {
		return "", errs.Errorf(errs.KindGateway, "mpesa.submit", "response carried no conversation ID")
	}
	return b2c.ConversationID, nil
}

// token returns a cached OAuth token, fetching a fresh one when expired.
func (c *Client) token(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.accessToken != "" && time.Now().Before(c.tokenExpiry) {
		return c.accessToken, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+tokenPath, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create token request: %w", err)
	}
	httpReq.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", errs.E(errs.KindGateway, "mpesa.token", "token request failed", err)
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return "", errs.E(errs.KindGateway, "mpesa.token", "failed to read token response", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", errs.Errorf(errs.KindGateway, "mpesa.token",
			"token endpoint returned %d: %s", resp.StatusCode, truncate(respBody))
	}

	var tok tokenResponse
	if err := json.Unmarshal(respBody, &tok); err != nil {
		return "", errs.E(errs.KindGateway, "mpesa.token", "failed to decode token response", err)
	}
	if tok.AccessToken == "" {
		return "", errs.Errorf(errs.KindGateway, "mpesa.token", "empty access token")
	}

	ttl := time.Duration(cast.ToInt64(tok.ExpiresIn)) * time.Second
	if ttl <= tokenSkew {
		ttl = tokenSkew + time.Second
	}
	c.accessToken = tok.AccessToken
	c.tokenExpiry = time.Now().Add(ttl - tokenSkew)
	return c.accessToken, nil
}

func truncate(body []byte) string {
	const max = 256
	if len(body) > max {
		return string(body[:max]) + "..."
	}
	return string(body)
}
