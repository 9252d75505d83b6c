package payment

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	razorpay "github.com/razorpay/razorpay-go"
	"go.uber.org/zap"

	"github.com/harsh7274v/confiido-sub003/models"
)

const (
	orderCreateAttempts = 3
	orderCacheTTL       = 24 * time.Hour
)

// RazorpayGateway implements Gateway against the Razorpay orders API.
type RazorpayGateway struct {
	client *razorpay.Client
	secret string
	cache  *redis.Client // receipt -> order ref, keeps order creation idempotent
	logger *zap.Logger
}

// NewRazorpayGateway builds a gateway client. The key secret is also the
// HMAC key for checkout signature verification. cache may be nil, in which
// case order creation is not deduplicated across retries.
func NewRazorpayGateway(keyID, keySecret string, cache *redis.Client, logger *zap.Logger) *RazorpayGateway {
	return &RazorpayGateway{
		client: razorpay.NewClient(keyID, keySecret),
		secret: keySecret,
		cache:  cache,
		logger: logger,
	}
}

func orderCacheKey(receipt string) string {
	return "gateway:order:" + receipt
}

// CreateOrder validates the request, reuses any order already created for
// the same receipt, and otherwise creates one at the gateway with bounded
// retries on transient failures.
func (g *RazorpayGateway) CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*models.GatewayOrder, error) {
	if amountMinor <= 0 {
		return nil, fmt.Errorf("%w: amount must be a positive integer in minor currency units", ErrInvalidOrder)
	}
	if len(currency) != 3 {
		return nil, fmt.Errorf("%w: currency must be a 3-letter code", ErrInvalidOrder)
	}
	if receipt == "" || len(receipt) > MaxReceiptLen {
		return nil, fmt.Errorf("%w: receipt must be 1-%d characters", ErrInvalidOrder, MaxReceiptLen)
	}

	// A retried booking attempt must not create a duplicate gateway order.
	if g.cache != nil {
		if ref, err := g.cache.Get(ctx, orderCacheKey(receipt)).Result(); err == nil && ref != "" {
			g.logger.Debug("reusing gateway order", zap.String("receipt", receipt), zap.String("order_ref", ref))
			return &models.GatewayOrder{OrderRef: ref, AmountMinor: amountMinor, Currency: currency, Receipt: receipt}, nil
		}
	}

	data := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}

	var lastErr error
	for attempt := 1; attempt <= orderCreateAttempts; attempt++ {
		ref, err := g.createOnce(ctx, data)
		if err == nil {
			if g.cache != nil {
				if cacheErr := g.cache.Set(ctx, orderCacheKey(receipt), ref, orderCacheTTL).Err(); cacheErr != nil {
					g.logger.Warn("failed to cache gateway order ref", zap.Error(cacheErr))
				}
			}
			g.logger.Info("gateway order created",
				zap.String("receipt", receipt),
				zap.String("order_ref", ref),
				zap.Int64("amount_minor", amountMinor),
				zap.String("currency", currency))
			return &models.GatewayOrder{OrderRef: ref, AmountMinor: amountMinor, Currency: currency, Receipt: receipt}, nil
		}

		lastErr = err
		g.logger.Warn("gateway order creation failed",
			zap.Int("attempt", attempt),
			zap.String("receipt", receipt),
			zap.Error(err))

		if attempt == orderCreateAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
		case <-time.After(time.Duration(attempt) * 500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, lastErr)
}

type orderResult struct {
	body map[string]interface{}
	err  error
}

// createOnce performs a single gateway round trip bounded by ctx.
func (g *RazorpayGateway) createOnce(ctx context.Context, data map[string]interface{}) (string, error) {
	ch := make(chan orderResult, 1)
	go func() {
		body, err := g.client.Order.Create(data, nil)
		ch <- orderResult{body: body, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil {
			return "", res.err
		}
		ref, _ := res.body["id"].(string)
		if ref == "" {
			return "", fmt.Errorf("gateway response missing order id")
		}
		return ref, nil
	}
}

// Verify checks a checkout result against the session's own order reference.
func (g *RazorpayGateway) Verify(orderRef string, payload models.VerificationPayload) error {
	return VerifySignature(orderRef, payload, g.secret)
}
