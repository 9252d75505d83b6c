package payment

import (
	"context"
	"errors"

	"github.com/harsh7274v/confiido-sub003/models"
)

var (
	// ErrInvalidOrder means the order request itself is malformed; the
	// gateway is never contacted.
	ErrInvalidOrder = errors.New("invalid order request")
	// ErrVerificationFailed covers every non-success verification outcome:
	// missing fields, malformed signature, mismatch, or gateway timeout.
	ErrVerificationFailed = errors.New("payment verification failed")
	// ErrGatewayUnavailable is a transient gateway fault (network error, 5xx).
	ErrGatewayUnavailable = errors.New("payment gateway unavailable")
)

// Gateway wraps the two payment-processor operations the lifecycle engine
// depends on: creating an order before checkout and verifying the signed
// result afterwards.
type Gateway interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*models.GatewayOrder, error)
	Verify(orderRef string, payload models.VerificationPayload) error
}
