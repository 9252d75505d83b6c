package models

import "time"

// Booking is the aggregate root pairing a client with an expert. It owns an
// ordered collection of Sessions; everything else is immutable after creation.
type Booking struct {
	ID        string    `bson:"id" json:"id"`              // unique booking identifier (UUID)
	ClientID  string    `bson:"client_id" json:"clientId"` // user who made the booking
	ExpertID  string    `bson:"expert_id" json:"expertId"` // expert being booked
	Sessions  []Session `bson:"sessions" json:"sessions"`
	CreatedAt time.Time `bson:"created_at" json:"createdAt"`
}

// FindSession returns the embedded session with the given id, if present.
func (b *Booking) FindSession(sessionID string) (*Session, bool) {
	for i := range b.Sessions {
		if b.Sessions[i].SessionID == sessionID {
			return &b.Sessions[i], true
		}
	}
	return nil, false
}

// ExpirableSession is a sweep query result: a session past its payment
// deadline together with the booking that owns it.
type ExpirableSession struct {
	BookingID string
	Session   Session
}
