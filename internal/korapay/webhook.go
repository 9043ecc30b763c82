package korapay

import "encoding/json"

// Webhook event names Korapay delivers. Charge events drive registration
// reconciliation; transfer and refund events are acknowledged and ignored.
const (
	EventChargeSuccess   = "charge.success"
	EventChargeFailed    = "charge.failed"
	EventTransferSuccess = "transfer.success"
	EventTransferFailed  = "transfer.failed"
	EventRefundSuccess   = "refund.success"
	EventRefundFailed    = "refund.failed"
)

// SignatureHeader is the request header carrying the HMAC digest.
const SignatureHeader = "x-korapay-signature"

// WebhookPayload is the event envelope. Data stays raw because the
// signature covers its exact serialized form.
type WebhookPayload struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// WebhookData is the decoded charge payload of a webhook event.
type WebhookData struct {
	Amount    int64  `json:"amount"`
	Fee       int64  `json:"fee"`
	Currency  string `json:"currency"`
	Status    string `json:"status"`
	Reference string `json:"reference"`
}

// ChargeData decodes the envelope's data object.
func (p *WebhookPayload) ChargeData() (*WebhookData, error) {
	var data WebhookData
	if err := json.Unmarshal(p.Data, &data); err != nil {
		return nil, err
	}
	return &data, nil
}
