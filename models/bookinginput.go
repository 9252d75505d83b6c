package models

import "time"

// CreateBookingRequest is the payload for starting a new booking. The
// client id comes from the authenticated context, not the body.
type CreateBookingRequest struct {
	ClientID        string    `json:"-"`
	ExpertID        string    `json:"expertId" binding:"required"`
	AmountMinor     int64     `json:"amountMinor" binding:"required"` // minor currency units
	Currency        string    `json:"currency" binding:"required"`
	ScheduledAt     time.Time `json:"scheduledAt" binding:"required"`
	DurationMinutes int       `json:"durationMinutes" binding:"required"`

	// IdempotencyKey, when supplied, names the booking attempt so a retry
	// of a failed request reuses the gateway order already created for it.
	IdempotencyKey string `json:"idempotencyKey" binding:"omitempty,max=64"`
}

// CancelSessionRequest carries the caller-supplied cancellation reason.
type CancelSessionRequest struct {
	Reason string `json:"reason" binding:"required"`
}
