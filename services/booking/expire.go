package booking

import (
	"context"
	"errors"

	"go.uber.org/zap"

	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/models"
)

// expire drives the two-phase timeout transition. Phase 1 claims ownership
// by flipping timeoutStatus to EXPIRED_PENDING_CANCEL; phase 2 commits the
// EXPIRED state with the cancellation record. Losing phase 1 means another
// actor owns (or has finished) the expiration, which satisfies the caller's
// intent, so it returns the current session as a no-op success. A crash
// between phases is resumed by calling with expected=EXPIRED_PENDING_CANCEL.
func (s *DefaultSessionLifecycleService) expire(ctx context.Context, bookingID string, sess *models.Session, expected models.TimeoutStatus) (*models.Session, error) {
	sessionID := sess.SessionID

	if expected == models.TimeoutPending {
		err := s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
			bookingRepo.SessionPrecondition{
				Status:        statusPtr(models.SessionPendingPayment),
				TimeoutStatus: timeoutPtr(models.TimeoutPending),
			},
			bookingRepo.SessionMutation{TimeoutStatus: timeoutPtr(models.TimeoutExpiredPendingCancel)},
		)
		if errors.Is(err, bookingRepo.ErrPreconditionFailed) {
			// Someone else claimed it, or it is already done.
			return s.readSession(ctx, bookingID, sessionID)
		}
		if err != nil {
			return nil, mapRepoError(err)
		}
	}

	now := s.now()
	err := s.Repo.ConditionalUpdateSession(ctx, bookingID, sessionID,
		bookingRepo.SessionPrecondition{
			Status:        statusPtr(models.SessionPendingPayment),
			TimeoutStatus: timeoutPtr(models.TimeoutExpiredPendingCancel),
		},
		bookingRepo.SessionMutation{
			Status:             statusPtr(models.SessionExpired),
			TimeoutStatus:      timeoutPtr(models.TimeoutExpiredCancelled),
			CancelledBy:        actorPtr(models.CancelledBySystemTimeout),
			CancellationReason: strPtr("timeout"),
			CancellationTime:   timePtr(now),
		},
	)
	if err != nil && !errors.Is(err, bookingRepo.ErrPreconditionFailed) {
		return nil, mapRepoError(err)
	}
	if err == nil {
		s.dropSnapshot(ctx, bookingID, sessionID)
		s.logger().Info("session expired",
			zap.String("booking_id", bookingID),
			zap.String("session_id", sessionID),
			zap.String("cancelled_by", string(models.CancelledBySystemTimeout)),
			zap.String("reason", "timeout"))
	}
	// A failed phase-2 precondition means a concurrent payment landed after
	// phase 1 or another resumer committed first; either way the session's
	// fate is already decided.
	return s.readSession(ctx, bookingID, sessionID)
}

// RequestExpireIfDue expires the session if its payment deadline has
// passed. Safe to call repeatedly and concurrently: an already-expired
// session is returned unchanged, and a half-finished expiration (crash
// between phases) is resumed.
func (s *DefaultSessionLifecycleService) RequestExpireIfDue(ctx context.Context, bookingID, sessionID string) (*models.Session, error) {
	sess, err := s.readSession(ctx, bookingID, sessionID)
	if err != nil {
		return nil, err
	}

	switch {
	case sess.Status == models.SessionExpired:
		return sess, nil
	case sess.Status != models.SessionPendingPayment:
		return nil, NewPreconditionFailedError("session is not awaiting payment")
	case sess.TimeoutStatus == models.TimeoutExpiredPendingCancel:
		// Resume a previously claimed expiration regardless of the clock.
		return s.expire(ctx, bookingID, sess, models.TimeoutExpiredPendingCancel)
	case s.now().Before(sess.TimeoutAt):
		// Clients cannot force early expiration; the deadline is
		// authoritative only server-side.
		return nil, NewPreconditionFailedError("session deadline has not passed")
	default:
		return s.expire(ctx, bookingID, sess, models.TimeoutPending)
	}
}

// SweepExpired finds every session past its deadline and drives it through
// the expire transition. Returns how many sessions reached EXPIRED.
func (s *DefaultSessionLifecycleService) SweepExpired(ctx context.Context) (int, error) {
	due, err := s.Repo.QueryExpirable(ctx, s.now())
	if err != nil {
		return 0, mapRepoError(err)
	}

	expired := 0
	for i := range due {
		sess := due[i].Session
		expected := models.TimeoutPending
		if sess.TimeoutStatus == models.TimeoutExpiredPendingCancel {
			expected = models.TimeoutExpiredPendingCancel
		}
		updated, err := s.expire(ctx, due[i].BookingID, &sess, expected)
		if err != nil {
			// Keep sweeping; the next run retries this session.
			s.logger().Warn("sweep failed to expire session", zap.Error(err),
				zap.String("booking_id", due[i].BookingID),
				zap.String("session_id", sess.SessionID))
			continue
		}
		if updated.Status == models.SessionExpired {
			expired++
		}
	}

	if len(due) > 0 {
		s.logger().Info("expiration sweep finished",
			zap.Int("due", len(due)),
			zap.Int("expired", expired))
	}
	return expired, nil
}
