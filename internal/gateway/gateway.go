// Package gateway defines the injectable payment-rail interfaces. The
// settlement engine only ever sees these; concrete M-Pesa, PayPal and bank
// adapters live in subpackages and are selected by configuration.
package gateway

import (
	"context"

	"github.com/shopspring/decimal"
)

// PayoutRequest is one commission disbursement to a mobile-money contact.
type PayoutRequest struct {
	// PayoutID identifies the engine-side payout row; adapters may use it
	// as their idempotency or sender item key.
	PayoutID string

	// Amount is the exact commission amount.
	Amount decimal.Decimal

	// PhoneNumber is the recipient's mobile-money contact.
	PhoneNumber string

	// Reference is a human-readable statement reference.
	Reference string

	// Remarks is free-form text shown to the recipient where the rail
	// supports it.
	Remarks string
}

// PayoutGateway submits commission payouts. Submission is asynchronous: a
// successful call means the rail accepted the request and will report the
// terminal outcome later through a callback carrying the conversation ID.
type PayoutGateway interface {
	// Channel names the rail, e.g. "mpesa_b2c" or "paypal_payouts".
	Channel() string

	// SubmitPayout submits the disbursement and returns the conversation ID
	// used to correlate the asynchronous result.
	SubmitPayout(ctx context.Context, req PayoutRequest) (conversationID string, err error)
}

// CallbackResult is the normalized terminal outcome carried by a gateway's
// asynchronous result delivery. Exactly one of ConversationID and PayoutID
// addresses the payout; rail-specific parsers fill ConversationID.
type CallbackResult struct {
	ConversationID string
	PayoutID       string

	Succeeded bool

	// TransactionReference is the rail's receipt identifier on success.
	TransactionReference string

	// FailureReason is the rail's verdict on failure.
	FailureReason string
}

// CallbackParser is implemented by payout gateways whose asynchronous
// results arrive in a rail-specific envelope. The webhook handler feeds it
// the raw request body; a parse error means the delivery was not a result
// for this rail.
type CallbackParser interface {
	ParseCallback(body []byte) (*CallbackResult, error)
}

// BankAccount identifies a settlement share's destination account.
type BankAccount struct {
	AccountName   string
	AccountNumber string
	BankCode      string
}

// TransferRequest is one settlement share pushed over the bank rail.
type TransferRequest struct {
	Amount    decimal.Decimal
	Account   BankAccount
	Reference string
}

// BankTransferClient submits bank transfers. Unlike payouts, transfers
// resolve synchronously: a nil error means the transfer went through and the
// transaction ID is final.
type BankTransferClient interface {
	SubmitTransfer(ctx context.Context, req TransferRequest) (transactionID string, err error)
}
