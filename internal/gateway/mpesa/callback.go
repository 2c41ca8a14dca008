package mpesa

import (
	"encoding/json"

	"github.com/mwukenya/settlement/internal/errs"
	"github.com/mwukenya/settlement/internal/gateway"
)

var _ gateway.CallbackParser = (*Client)(nil)

// resultEnvelope is the B2C result delivered to the ResultURL. The same
// envelope arrives at the queue-timeout URL when the request expired before
// the rail could run it; those carry a nonzero result code too.
type resultEnvelope struct {
	Result struct {
		ResultType               int    `json:"ResultType"`
		ResultCode               int    `json:"ResultCode"`
		ResultDesc               string `json:"ResultDesc"`
		OriginatorConversationID string `json:"OriginatorConversationID"`
		ConversationID           string `json:"ConversationID"`
		TransactionID            string `json:"TransactionID"`
	} `json:"Result"`
}

// ParseCallback implements gateway.CallbackParser for the B2C result
// envelope. ResultCode 0 is the only success; every other code, timeouts
// included, is a failure carrying the rail's description.
func (c *Client) ParseCallback(body []byte) (*gateway.CallbackResult, error) {
	const op = "mpesa.callback"

	var envelope resultEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, errs.E(errs.KindValidation, op, "malformed result envelope", err)
	}
	if envelope.Result.ConversationID == "" {
		return nil, errs.Errorf(errs.KindValidation, op, "result envelope carried no conversation ID")
	}

	result := &gateway.CallbackResult{
		ConversationID: envelope.Result.ConversationID,
	}
	if envelope.Result.ResultCode == 0 {
		result.Succeeded = true
		result.TransactionReference = envelope.Result.TransactionID
		return result, nil
	}

	result.FailureReason = envelope.Result.ResultDesc
	if result.FailureReason == "" {
		result.FailureReason = "rail reported failure without a description"
	}
	return result, nil
}
