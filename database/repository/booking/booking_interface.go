package bookingRepo

import (
	"context"
	"time"

	"github.com/harsh7274v/confiido-sub003/models"
)

// SessionPrecondition pins the previously-read field values a conditional
// update requires. Nil fields are unconstrained. The set-membership clauses
// exist for writes that must land regardless of which concurrent transition
// won, such as recording a payment on a session that has already closed;
// Status and StatusIn are mutually exclusive, as are PaymentStatus and
// PaymentStatusNotIn.
type SessionPrecondition struct {
	Status        *models.SessionStatus
	PaymentStatus *models.PaymentStatus
	TimeoutStatus *models.TimeoutStatus

	// StatusIn matches when the session status is any of the listed values.
	StatusIn []models.SessionStatus
	// PaymentStatusNotIn matches only while the payment status is none of
	// the listed values.
	PaymentStatusNotIn []models.PaymentStatus
}

// SessionMutation is the set of fields a conditional update writes. Nil
// fields are left untouched. TimeoutAt is deliberately absent: the deadline
// is set once at creation and never mutated.
type SessionMutation struct {
	Status             *models.SessionStatus
	PaymentStatus      *models.PaymentStatus
	TimeoutStatus      *models.TimeoutStatus
	CancelledBy        *models.CancelActor
	CancellationReason *string
	CancellationTime   *time.Time
}

// BookingRepository is the durable source of truth for bookings and their
// embedded sessions. Every session transition goes through
// ConditionalUpdateSession; there is no read-then-unconditional-write path.
type BookingRepository interface {
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id string) (*models.Booking, error)
	GetSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error)

	// ConditionalUpdateSession applies change to the session only if every
	// field named in expect still holds its expected value. Returns
	// ErrPreconditionFailed when the update matched nothing.
	ConditionalUpdateSession(ctx context.Context, bookingID, sessionID string, expect SessionPrecondition, change SessionMutation) error

	// QueryExpirable returns sessions still awaiting payment whose deadline
	// is at or before now.
	QueryExpirable(ctx context.Context, now time.Time) ([]models.ExpirableSession, error)

	// MarkRefunded records a refund on a terminal session: the single
	// permitted mutation after a session reaches a terminal state.
	MarkRefunded(ctx context.Context, bookingID, sessionID string) error
}
