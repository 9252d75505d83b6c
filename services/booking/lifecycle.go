package booking

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/models"
)

func statusPtr(v models.SessionStatus) *models.SessionStatus  { return &v }
func paymentPtr(v models.PaymentStatus) *models.PaymentStatus { return &v }
func timeoutPtr(v models.TimeoutStatus) *models.TimeoutStatus { return &v }
func actorPtr(v models.CancelActor) *models.CancelActor       { return &v }
func strPtr(v string) *string                                 { return &v }
func timePtr(v time.Time) *time.Time                          { return &v }

// ConfirmPayment verifies a completed checkout against the session's own
// gateway order and transitions PENDING_PAYMENT -> CONFIRMED. The write is
// conditioned on the read-time status, so losing the race against
// expiration surfaces as AlreadyTerminal rather than a silent overwrite.
func (s *DefaultSessionLifecycleService) ConfirmPayment(ctx context.Context, bookingID, sessionID string, payload models.VerificationPayload) (*models.Session, error) {
	sess, err := s.readSession(ctx, bookingID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status == models.SessionPendingPayment && !s.now().Before(sess.TimeoutAt) {
		// The window has closed but no sweep has reached this session yet.
		// Drive the expire ourselves, then fall through so a verified
		// payload is still flagged below rather than dropped.
		if _, expErr := s.expire(ctx, bookingID, sess, models.TimeoutPending); expErr != nil {
			return nil, expErr
		}
		if sess, err = s.readSession(ctx, bookingID, sessionID); err != nil {
			return nil, err
		}
	}
	if sess.Status != models.SessionPendingPayment {
		// A confirm arriving after expiration or cancellation may still
		// carry proof that the payment cleared at the gateway. That money
		// fact must be recorded before the terminal outcome is reported.
		if sess.Status.Closed() && sess.PaymentStatus != models.PaymentPaid &&
			sess.PaymentStatus != models.PaymentRefunded &&
			sess.GatewayOrderRef != "" &&
			s.Gateway.Verify(sess.GatewayOrderRef, payload) == nil {
			return nil, s.flagLatePayment(ctx, bookingID, sessionID, payload.PaymentID)
		}
		return nil, NewAlreadyTerminalError("session is no longer awaiting payment")
	}
	if sess.GatewayOrderRef == "" {
		return nil, NewInvalidInputError("session has no gateway order to verify against")
	}

	if err := s.Gateway.Verify(sess.GatewayOrderRef, payload); err != nil {
		// Record the failed attempt; the client may retry with fresh data.
		// Conditioned on the status so a concurrent expire is not disturbed.
		recErr := s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
			bookingRepo.SessionPrecondition{Status: statusPtr(models.SessionPendingPayment)},
			bookingRepo.SessionMutation{PaymentStatus: paymentPtr(models.PaymentFailed)},
		)
		if recErr != nil && !errors.Is(recErr, bookingRepo.ErrPreconditionFailed) {
			s.logger().Warn("failed to record payment failure", zap.Error(recErr))
		}
		return nil, NewPaymentVerificationFailedError(err.Error())
	}

	err = s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
		bookingRepo.SessionPrecondition{Status: statusPtr(models.SessionPendingPayment)},
		bookingRepo.SessionMutation{
			Status:        statusPtr(models.SessionConfirmed),
			PaymentStatus: paymentPtr(models.PaymentPaid),
		},
	)
	if errors.Is(err, bookingRepo.ErrPreconditionFailed) {
		// Verification succeeded but a concurrent transition won the race.
		// The money fact must not be lost: record it and queue the refund.
		return nil, s.flagLatePayment(ctx, bookingID, sessionID, payload.PaymentID)
	}
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.dropSnapshot(ctx, bookingID, sessionID)
	s.logger().Info("session confirmed",
		zap.String("booking_id", bookingID),
		zap.String("session_id", sessionID),
		zap.String("payment_id", payload.PaymentID))

	return s.readSession(ctx, bookingID, sessionID)
}

// flagLatePayment durably records a payment that cleared after the session
// left PENDING_PAYMENT and enqueues the refund obligation. Returns the
// AlreadyTerminal outcome the caller surfaces.
func (s *DefaultSessionLifecycleService) flagLatePayment(ctx context.Context, bookingID, sessionID, paymentID string) error {
	// The flag must land no matter which closing transition won the race,
	// and no matter what the payment field held at the time (UNPAID, or
	// FAILED from an earlier bad attempt). Only an already-recorded PAID
	// or REFUNDED blocks it.
	err := s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
		bookingRepo.SessionPrecondition{
			StatusIn:           []models.SessionStatus{models.SessionCancelled, models.SessionExpired},
			PaymentStatusNotIn: []models.PaymentStatus{models.PaymentPaid, models.PaymentRefunded},
		},
		bookingRepo.SessionMutation{PaymentStatus: paymentPtr(models.PaymentPaid)},
	)
	if errors.Is(err, bookingRepo.ErrPreconditionFailed) {
		// An earlier attempt already recorded this payment and queued its
		// refund. A retried confirm must not queue a second one.
		return NewAlreadyTerminalError("payment succeeded but the booking window had already closed; a refund has been initiated")
	}
	if err != nil {
		// The refund task re-records the flag before reconciling, so the
		// obligation is still queued even when this write fails.
		s.logger().Error("failed to record late payment", zap.Error(err),
			zap.String("booking_id", bookingID), zap.String("session_id", sessionID))
	}

	if s.Refunds != nil {
		if qErr := s.Refunds.EnqueueRefund(ctx, bookingID, sessionID, paymentID); qErr != nil {
			s.logger().Error("failed to enqueue refund", zap.Error(qErr),
				zap.String("booking_id", bookingID), zap.String("session_id", sessionID))
		}
	}

	s.logger().Warn("payment verified after session closed; refund flagged",
		zap.String("booking_id", bookingID),
		zap.String("session_id", sessionID),
		zap.String("payment_id", paymentID))
	return NewAlreadyTerminalError("payment succeeded but the booking window had already closed; a refund has been initiated")
}

// CancelSession transitions a non-terminal session to CANCELLED, recording
// who cancelled and why. Cancelling a paid session queues a refund.
func (s *DefaultSessionLifecycleService) CancelSession(ctx context.Context, bookingID, sessionID string, actor models.CancelActor, reason string) (*models.Session, error) {
	if reason == "" {
		return nil, NewInvalidInputError("missing cancellation reason")
	}
	if actor != models.CancelledByClient && actor != models.CancelledByExpert {
		return nil, NewInvalidInputError("invalid cancellation actor")
	}

	sess, err := s.readSession(ctx, bookingID, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Status.CanTransitionTo(models.SessionCancelled) {
		return nil, NewAlreadyTerminalError("session can no longer be cancelled")
	}

	now := s.now()
	err = s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
		bookingRepo.SessionPrecondition{Status: statusPtr(sess.Status)},
		bookingRepo.SessionMutation{
			Status:             statusPtr(models.SessionCancelled),
			CancelledBy:        actorPtr(actor),
			CancellationReason: strPtr(reason),
			CancellationTime:   timePtr(now),
		},
	)
	if errors.Is(err, bookingRepo.ErrPreconditionFailed) {
		return nil, NewAlreadyTerminalError("session state changed underneath the cancellation")
	}
	if err != nil {
		return nil, mapRepoError(err)
	}

	// Cancelling after payment creates a refund obligation.
	if sess.Status == models.SessionConfirmed && sess.PaymentStatus == models.PaymentPaid && s.Refunds != nil {
		if qErr := s.Refunds.EnqueueRefund(ctx, bookingID, sessionID, ""); qErr != nil {
			s.logger().Error("failed to enqueue refund for cancelled session", zap.Error(qErr),
				zap.String("booking_id", bookingID), zap.String("session_id", sessionID))
		}
	}

	s.dropSnapshot(ctx, bookingID, sessionID)
	s.logger().Info("session cancelled",
		zap.String("booking_id", bookingID),
		zap.String("session_id", sessionID),
		zap.String("cancelled_by", string(actor)),
		zap.String("reason", reason))

	return s.readSession(ctx, bookingID, sessionID)
}

// CompleteSession transitions CONFIRMED -> COMPLETED once the session has
// been delivered.
func (s *DefaultSessionLifecycleService) CompleteSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error) {
	sess, err := s.readSession(ctx, bookingID, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.Status != models.SessionConfirmed {
		return nil, NewPreconditionFailedError("only a confirmed session can be completed")
	}

	err = s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
		bookingRepo.SessionPrecondition{Status: statusPtr(models.SessionConfirmed)},
		bookingRepo.SessionMutation{Status: statusPtr(models.SessionCompleted)},
	)
	if errors.Is(err, bookingRepo.ErrPreconditionFailed) {
		return nil, NewAlreadyTerminalError("session state changed underneath the completion")
	}
	if err != nil {
		return nil, mapRepoError(err)
	}

	s.logger().Info("session completed",
		zap.String("booking_id", bookingID),
		zap.String("session_id", sessionID))

	return s.readSession(ctx, bookingID, sessionID)
}
