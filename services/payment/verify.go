package payment

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/harsh7274v/confiido-sub003/models"
)

// VerifySignature recomputes the checkout signature
// HMAC-SHA256("<orderRef>|<paymentId>", secret) and compares it against the
// supplied one in constant time. It fails closed: any missing field,
// malformed signature, or mismatch is ErrVerificationFailed.
func VerifySignature(orderRef string, payload models.VerificationPayload, secret string) error {
	if orderRef == "" {
		return fmt.Errorf("%w: missing order reference", ErrVerificationFailed)
	}
	if payload.PaymentID == "" || payload.Signature == "" {
		return fmt.Errorf("%w: missing payment id or signature", ErrVerificationFailed)
	}

	supplied, err := hex.DecodeString(payload.Signature)
	if err != nil {
		return fmt.Errorf("%w: malformed signature", ErrVerificationFailed)
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + payload.PaymentID))
	if !hmac.Equal(supplied, mac.Sum(nil)) {
		return fmt.Errorf("%w: signature mismatch", ErrVerificationFailed)
	}
	return nil
}

// SignPayload produces the hex signature the gateway would attach to a
// completed payment. Used by checkout simulators and tests.
func SignPayload(orderRef, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderRef + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}
