package models

import "time"

// SessionStatus is the lifecycle state of a booked session.
type SessionStatus string

const (
	SessionPendingPayment SessionStatus = "PENDING_PAYMENT"
	SessionConfirmed      SessionStatus = "CONFIRMED"
	SessionCompleted      SessionStatus = "COMPLETED"
	SessionCancelled      SessionStatus = "CANCELLED"
	SessionExpired        SessionStatus = "EXPIRED"
)

// PaymentStatus tracks the money side independently of the session state;
// a payment can clear after the session has already expired.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "UNPAID"
	PaymentPaid     PaymentStatus = "PAID"
	PaymentRefunded PaymentStatus = "REFUNDED"
	PaymentFailed   PaymentStatus = "FAILED"
)

// TimeoutStatus is the expiration sweep's own sub-state. It makes the
// two-phase expire resumable after a crash and idempotent across
// concurrent sweepers.
type TimeoutStatus string

const (
	TimeoutPending              TimeoutStatus = "PENDING"
	TimeoutExpiredPendingCancel TimeoutStatus = "EXPIRED_PENDING_CANCEL"
	TimeoutExpiredCancelled     TimeoutStatus = "EXPIRED_CANCELLED"
)

// CancelActor identifies who drove a session into a cancelled/expired state.
type CancelActor string

const (
	CancelledByClient        CancelActor = "CLIENT"
	CancelledByExpert        CancelActor = "EXPERT"
	CancelledBySystemTimeout CancelActor = "SYSTEM_TIMEOUT"
)

// allowedTransitions is the full set of legal status edges. Anything not
// listed here is forbidden; terminal states have no outgoing edges.
var allowedTransitions = map[SessionStatus][]SessionStatus{
	SessionPendingPayment: {SessionConfirmed, SessionCancelled, SessionExpired},
	SessionConfirmed:      {SessionCompleted, SessionCancelled},
}

// Terminal reports whether the status has no outgoing transitions.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionCancelled, SessionExpired:
		return true
	}
	return false
}

// Closed reports whether the session ended without being delivered. These
// are the outcomes under which a cleared payment owes the client a refund.
func (s SessionStatus) Closed() bool {
	return s == SessionCancelled || s == SessionExpired
}

// CanTransitionTo reports whether the edge s -> next is in the lifecycle graph.
func (s SessionStatus) CanTransitionTo(next SessionStatus) bool {
	for _, t := range allowedTransitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Session is one bookable unit of expert time inside a Booking. It is
// mutated only through conditional updates keyed on previously-read state.
type Session struct {
	SessionID          string        `bson:"session_id" json:"sessionId"`
	Status             SessionStatus `bson:"status" json:"status"`
	PaymentStatus      PaymentStatus `bson:"payment_status" json:"paymentStatus"`
	AmountMinor        int64         `bson:"amount_minor" json:"amountMinor"` // minor currency units (e.g. paise)
	Currency           string        `bson:"currency" json:"currency"`
	GatewayOrderRef    string        `bson:"gateway_order_ref,omitempty" json:"gatewayOrderRef,omitempty"`
	ScheduledAt        time.Time     `bson:"scheduled_at" json:"scheduledAt"`
	DurationMinutes    int           `bson:"duration_minutes" json:"durationMinutes"`
	TimeoutAt          time.Time     `bson:"timeout_at" json:"timeoutAt"` // set once at creation, never mutated
	TimeoutStatus      TimeoutStatus `bson:"timeout_status" json:"timeoutStatus"`
	CancelledBy        CancelActor   `bson:"cancelled_by,omitempty" json:"cancelledBy,omitempty"`
	CancellationReason string        `bson:"cancellation_reason,omitempty" json:"cancellationReason,omitempty"`
	CancellationTime   *time.Time    `bson:"cancellation_time,omitempty" json:"cancellationTime,omitempty"`
	CreatedAt          time.Time     `bson:"created_at" json:"createdAt"`
}

// HasCancellationRecord reports whether all three cancellation fields are set.
func (s *Session) HasCancellationRecord() bool {
	return s.CancelledBy != "" && s.CancellationReason != "" && s.CancellationTime != nil
}

// CancellationRecordConsistent checks the all-or-nothing invariant: the
// cancellation record is either fully absent, or fully present on a
// CANCELLED/EXPIRED session.
func (s *Session) CancellationRecordConsistent() bool {
	anySet := s.CancelledBy != "" || s.CancellationReason != "" || s.CancellationTime != nil
	if !anySet {
		return s.Status != SessionCancelled && s.Status != SessionExpired
	}
	if !s.HasCancellationRecord() {
		return false
	}
	return s.Status == SessionCancelled || s.Status == SessionExpired
}
