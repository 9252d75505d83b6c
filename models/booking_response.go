package models

import "time"

// CheckoutDetails is everything a client needs to open gateway checkout
// for a freshly created session.
type CheckoutDetails struct {
	BookingID       string    `json:"bookingId"`
	SessionID       string    `json:"sessionId"`
	GatewayOrderRef string    `json:"gatewayOrderRef"`
	AmountMinor     int64     `json:"amountMinor"`
	Currency        string    `json:"currency"`
	TimeoutAt       time.Time `json:"timeoutAt"` // drives the client-side countdown
}

// BookingResponse wraps the booking plus checkout details returned by the
// booking-creation endpoint.
type BookingResponse struct {
	Booking  *Booking         `json:"booking,omitempty"`
	Checkout *CheckoutDetails `json:"checkout,omitempty"`
}
