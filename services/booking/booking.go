package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/harsh7274v/confiido-sub003/database"
	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/models"
	"github.com/harsh7274v/confiido-sub003/services/payment"
)

// CreateBooking validates the request, creates the gateway order, and
// persists a booking with one session awaiting payment.
func (s *DefaultSessionLifecycleService) CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResponse, error) {
	if err := validateCreateBooking(req); err != nil {
		return nil, err
	}

	now := s.now()
	bookingID := uuid.New().String()
	sessionID := uuid.New().String()
	currency := strings.ToUpper(req.Currency)

	// The receipt names the booking attempt, not the booking row, so a
	// client retrying a failed request lands on the same gateway order.
	attempt := req.IdempotencyKey
	if attempt == "" {
		attempt = fmt.Sprintf("%s|%s|%d|%d", req.ExpertID, currency, req.AmountMinor, req.ScheduledAt.Unix())
	}
	receipt := payment.ReceiptFor(req.ClientID, attempt)
	order, err := s.Gateway.CreateOrder(ctx, req.AmountMinor, currency, receipt)
	if err != nil {
		return nil, mapGatewayError(err)
	}

	sess := models.Session{
		SessionID:       sessionID,
		Status:          models.SessionPendingPayment,
		PaymentStatus:   models.PaymentUnpaid,
		AmountMinor:     req.AmountMinor,
		Currency:        currency,
		GatewayOrderRef: order.OrderRef,
		ScheduledAt:     req.ScheduledAt,
		DurationMinutes: req.DurationMinutes,
		TimeoutAt:       s.Timeouts.DeadlineFor(now),
		TimeoutStatus:   models.TimeoutPending,
		CreatedAt:       now,
	}
	booking := &models.Booking{
		ID:        bookingID,
		ClientID:  req.ClientID,
		ExpertID:  req.ExpertID,
		Sessions:  []models.Session{sess},
		CreatedAt: now,
	}

	if err := s.Repo.Create(ctx, booking); err != nil {
		return nil, mapRepoError(err)
	}

	s.cacheSnapshot(ctx, bookingID, &sess)
	s.logger().Info("booking created",
		zap.String("booking_id", bookingID),
		zap.String("session_id", sessionID),
		zap.String("client_id", req.ClientID),
		zap.String("expert_id", req.ExpertID),
		zap.Time("timeout_at", sess.TimeoutAt))

	return &models.BookingResponse{
		Booking: booking,
		Checkout: &models.CheckoutDetails{
			BookingID:       bookingID,
			SessionID:       sessionID,
			GatewayOrderRef: order.OrderRef,
			AmountMinor:     req.AmountMinor,
			Currency:        currency,
			TimeoutAt:       sess.TimeoutAt,
		},
	}, nil
}

// GetSession returns the session snapshot for countdown polling, serving
// from the cache while the payment window is still open.
func (s *DefaultSessionLifecycleService) GetSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error) {
	if cached := s.cachedSnapshot(ctx, bookingID, sessionID); cached != nil {
		return cached, nil
	}

	sess, err := s.Repo.GetSession(ctx, bookingID, sessionID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	s.cacheSnapshot(ctx, bookingID, sess)
	return sess, nil
}

func validateCreateBooking(req models.CreateBookingRequest) error {
	if req.ClientID == "" {
		return NewInvalidInputError("missing client id")
	}
	if req.ExpertID == "" {
		return NewInvalidInputError("missing expert id")
	}
	if req.AmountMinor <= 0 {
		return NewInvalidInputError("amount must be a positive integer in minor currency units")
	}
	if len(req.Currency) != 3 {
		return NewInvalidInputError("currency must be a 3-letter code")
	}
	if req.DurationMinutes <= 0 {
		return NewInvalidInputError("duration must be positive")
	}
	if req.ScheduledAt.IsZero() {
		return NewInvalidInputError("missing scheduled time")
	}
	return nil
}

// readSession fetches the current session state, mapping store errors to
// the caller-facing taxonomy.
func (s *DefaultSessionLifecycleService) readSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error) {
	sess, err := s.Repo.GetSession(ctx, bookingID, sessionID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	return sess, nil
}

func mapRepoError(err error) error {
	switch {
	case errors.Is(err, bookingRepo.ErrNotFound):
		return NewNotFoundError("booking not found")
	case errors.Is(err, bookingRepo.ErrSessionNotFound):
		return NewNotFoundError("session not found")
	case errors.Is(err, database.ErrStorageUnavailable):
		return NewStorageUnavailableError(err.Error())
	default:
		// Anything else from the store is a transient infra fault.
		return NewStorageUnavailableError(err.Error())
	}
}

func mapGatewayError(err error) error {
	switch {
	case errors.Is(err, payment.ErrInvalidOrder):
		return NewInvalidInputError(err.Error())
	case errors.Is(err, payment.ErrGatewayUnavailable):
		return NewGatewayUnavailableError(err.Error())
	case errors.Is(err, payment.ErrVerificationFailed):
		return NewPaymentVerificationFailedError(err.Error())
	default:
		return NewGatewayUnavailableError(err.Error())
	}
}

func snapshotKey(bookingID, sessionID string) string {
	return "session:" + bookingID + ":" + sessionID
}

// cacheSnapshot stores a pending session until its deadline; terminal or
// overdue sessions are never cached so polls past the deadline always see
// the store.
func (s *DefaultSessionLifecycleService) cacheSnapshot(ctx context.Context, bookingID string, sess *models.Session) {
	if s.Cache == nil || sess.Status != models.SessionPendingPayment {
		return
	}
	ttl := time.Until(sess.TimeoutAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(sess)
	if err != nil {
		return
	}
	if err := s.Cache.Set(ctx, snapshotKey(bookingID, sess.SessionID), data, ttl).Err(); err != nil {
		s.logger().Debug("failed to cache session snapshot", zap.Error(err))
	}
}

func (s *DefaultSessionLifecycleService) cachedSnapshot(ctx context.Context, bookingID, sessionID string) *models.Session {
	if s.Cache == nil {
		return nil
	}
	data, err := s.Cache.Get(ctx, snapshotKey(bookingID, sessionID)).Result()
	if err != nil {
		return nil
	}
	var sess models.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil
	}
	return &sess
}

func (s *DefaultSessionLifecycleService) dropSnapshot(ctx context.Context, bookingID, sessionID string) {
	if s.Cache == nil {
		return
	}
	if err := s.Cache.Del(ctx, snapshotKey(bookingID, sessionID)).Err(); err != nil {
		s.logger().Debug("failed to drop session snapshot", zap.Error(err))
	}
}
