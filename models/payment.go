package models

// GatewayOrder is the payment gateway's record of an intent to pay,
// created before the client opens checkout.
type GatewayOrder struct {
	OrderRef    string `json:"orderRef"` // opaque id issued by the gateway
	AmountMinor int64  `json:"amountMinor"`
	Currency    string `json:"currency"`
	Receipt     string `json:"receipt"`
}

// VerificationPayload is what the client submits after completing checkout:
// the gateway payment id plus the hex-encoded HMAC signature over
// "<orderRef>|<paymentId>".
type VerificationPayload struct {
	PaymentID string `json:"paymentId"`
	Signature string `json:"signature"`
}
