package booking

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/models"
	"github.com/harsh7274v/confiido-sub003/services/payment"
)

// SessionLifecycleService drives every session transition. Each operation
// persists through a single conditional update; concurrency control lives
// entirely in the store.
type SessionLifecycleService interface {
	CreateBooking(ctx context.Context, req models.CreateBookingRequest) (*models.BookingResponse, error)
	GetSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error)
	ConfirmPayment(ctx context.Context, bookingID, sessionID string, payload models.VerificationPayload) (*models.Session, error)
	CancelSession(ctx context.Context, bookingID, sessionID string, actor models.CancelActor, reason string) (*models.Session, error)
	CompleteSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error)
	RequestExpireIfDue(ctx context.Context, bookingID, sessionID string) (*models.Session, error)
	SweepExpired(ctx context.Context) (int, error)
}

// RefundQueue records refund obligations for later reconciliation: a
// payment that cleared on an already-expired session, or a cancelled
// session that was already paid.
type RefundQueue interface {
	EnqueueRefund(ctx context.Context, bookingID, sessionID, paymentID string) error
}

// DefaultSessionLifecycleService implements SessionLifecycleService.
type DefaultSessionLifecycleService struct {
	Repo     bookingRepo.BookingRepository
	Gateway  payment.Gateway
	Timeouts TimeoutPolicy
	Refunds  RefundQueue
	Cache    *redis.Client // optional snapshot cache for countdown polling
	Logger   *zap.Logger

	// Now is the clock; overridable in tests. Defaults to time.Now.
	Now func() time.Time
}

func (s *DefaultSessionLifecycleService) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *DefaultSessionLifecycleService) logger() *zap.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return zap.NewNop()
}
