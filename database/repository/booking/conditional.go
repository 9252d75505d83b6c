package bookingRepo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/harsh7274v/confiido-sub003/models"
)

// sessionElemMatch builds the $elemMatch clause pinning the session identity
// plus every expected field value. The update only matches while the stored
// session still looks exactly like the caller's read.
func sessionElemMatch(sessionID string, expect SessionPrecondition) bson.M {
	elem := bson.M{"session_id": sessionID}
	if expect.Status != nil {
		elem["status"] = *expect.Status
	}
	if len(expect.StatusIn) > 0 {
		elem["status"] = bson.M{"$in": expect.StatusIn}
	}
	if expect.PaymentStatus != nil {
		elem["payment_status"] = *expect.PaymentStatus
	}
	if len(expect.PaymentStatusNotIn) > 0 {
		elem["payment_status"] = bson.M{"$nin": expect.PaymentStatusNotIn}
	}
	if expect.TimeoutStatus != nil {
		elem["timeout_status"] = *expect.TimeoutStatus
	}
	return elem
}

// positionalSet builds the $set document writing through the positional
// operator so only the matched array element is touched.
func positionalSet(change SessionMutation) bson.M {
	set := bson.M{}
	if change.Status != nil {
		set["sessions.$.status"] = *change.Status
	}
	if change.PaymentStatus != nil {
		set["sessions.$.payment_status"] = *change.PaymentStatus
	}
	if change.TimeoutStatus != nil {
		set["sessions.$.timeout_status"] = *change.TimeoutStatus
	}
	if change.CancelledBy != nil {
		set["sessions.$.cancelled_by"] = *change.CancelledBy
	}
	if change.CancellationReason != nil {
		set["sessions.$.cancellation_reason"] = *change.CancellationReason
	}
	if change.CancellationTime != nil {
		set["sessions.$.cancellation_time"] = *change.CancellationTime
	}
	return set
}

// ConditionalUpdateSession applies change only while the session still
// matches expect. A MatchedCount of zero means a concurrent actor got there
// first and is reported as ErrPreconditionFailed.
func (r *MongoBookingRepo) ConditionalUpdateSession(ctx context.Context, bookingID, sessionID string, expect SessionPrecondition, change SessionMutation) error {
	opCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"id":       bookingID,
		"sessions": bson.M{"$elemMatch": sessionElemMatch(sessionID, expect)},
	}
	update := bson.M{"$set": positionalSet(change)}

	res, err := r.coll.UpdateOne(opCtx, filter, update)
	if err != nil {
		return fmt.Errorf("conditional session update failed: %w", err)
	}
	if res.MatchedCount == 0 {
		return ErrPreconditionFailed
	}
	return nil
}

// QueryExpirable returns every session still awaiting payment whose deadline
// is at or before now, along with its owning booking id.
func (r *MongoBookingRepo) QueryExpirable(ctx context.Context, now time.Time) ([]models.ExpirableSession, error) {
	opCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	filter := bson.M{
		"sessions": bson.M{
			"$elemMatch": bson.M{
				"status":     models.SessionPendingPayment,
				"timeout_at": bson.M{"$lte": now},
			},
		},
	}

	cursor, err := r.coll.Find(opCtx, filter)
	if err != nil {
		return nil, fmt.Errorf("expirable query failed: %w", err)
	}
	defer cursor.Close(opCtx)

	var out []models.ExpirableSession
	for cursor.Next(opCtx) {
		var booking models.Booking
		if err := cursor.Decode(&booking); err != nil {
			return nil, fmt.Errorf("failed to decode booking: %w", err)
		}
		for _, sess := range booking.Sessions {
			if sess.Status == models.SessionPendingPayment && !sess.TimeoutAt.After(now) {
				out = append(out, models.ExpirableSession{BookingID: booking.ID, Session: sess})
			}
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("expirable cursor failed: %w", err)
	}
	return out, nil
}

// MarkRefunded flips a paid session to REFUNDED. Conditioned on the payment
// still being PAID so a replayed refund task is a no-op precondition failure.
func (r *MongoBookingRepo) MarkRefunded(ctx context.Context, bookingID, sessionID string) error {
	paid := models.PaymentPaid
	refunded := models.PaymentRefunded
	return r.ConditionalUpdateSession(ctx, bookingID, sessionID,
		SessionPrecondition{PaymentStatus: &paid},
		SessionMutation{PaymentStatus: &refunded},
	)
}
