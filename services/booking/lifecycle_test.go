package booking

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/models"
	"github.com/harsh7274v/confiido-sub003/services/payment"
)

const testSecret = "test-gateway-secret"

// memStore is an in-memory BookingRepository whose conditional updates are
// linearized by a mutex, mirroring the store-level atomicity contract.
type memStore struct {
	mu       sync.Mutex
	bookings map[string]*models.Booking

	// onConfirmWrite, when set, runs once just before a conditional write
	// that would set status=CONFIRMED. Used to interleave a competing
	// transition between a caller's read and its write.
	onConfirmWrite func()
}

func newMemStore() *memStore {
	return &memStore{bookings: make(map[string]*models.Booking)}
}

func copyBooking(b *models.Booking) *models.Booking {
	cp := *b
	cp.Sessions = make([]models.Session, len(b.Sessions))
	for i, s := range b.Sessions {
		cp.Sessions[i] = s
		if s.CancellationTime != nil {
			t := *s.CancellationTime
			cp.Sessions[i].CancellationTime = &t
		}
	}
	return &cp
}

func (m *memStore) Create(_ context.Context, booking *models.Booking) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[booking.ID] = copyBooking(booking)
	return nil
}

func (m *memStore) GetByID(_ context.Context, id string) (*models.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return nil, bookingRepo.ErrNotFound
	}
	return copyBooking(b), nil
}

func (m *memStore) GetSession(ctx context.Context, bookingID, sessionID string) (*models.Session, error) {
	b, err := m.GetByID(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	sess, ok := b.FindSession(sessionID)
	if !ok {
		return nil, bookingRepo.ErrSessionNotFound
	}
	return sess, nil
}

func (m *memStore) ConditionalUpdateSession(_ context.Context, bookingID, sessionID string, expect bookingRepo.SessionPrecondition, change bookingRepo.SessionMutation) error {
	if change.Status != nil && *change.Status == models.SessionConfirmed && m.onConfirmWrite != nil {
		hook := m.onConfirmWrite
		m.onConfirmWrite = nil
		hook()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.bookings[bookingID]
	if !ok {
		return bookingRepo.ErrNotFound
	}
	sess, ok := b.FindSession(sessionID)
	if !ok {
		return bookingRepo.ErrSessionNotFound
	}

	if expect.Status != nil && sess.Status != *expect.Status {
		return bookingRepo.ErrPreconditionFailed
	}
	if len(expect.StatusIn) > 0 {
		matched := false
		for _, st := range expect.StatusIn {
			if sess.Status == st {
				matched = true
				break
			}
		}
		if !matched {
			return bookingRepo.ErrPreconditionFailed
		}
	}
	if expect.PaymentStatus != nil && sess.PaymentStatus != *expect.PaymentStatus {
		return bookingRepo.ErrPreconditionFailed
	}
	for _, ps := range expect.PaymentStatusNotIn {
		if sess.PaymentStatus == ps {
			return bookingRepo.ErrPreconditionFailed
		}
	}
	if expect.TimeoutStatus != nil && sess.TimeoutStatus != *expect.TimeoutStatus {
		return bookingRepo.ErrPreconditionFailed
	}

	if change.Status != nil {
		sess.Status = *change.Status
	}
	if change.PaymentStatus != nil {
		sess.PaymentStatus = *change.PaymentStatus
	}
	if change.TimeoutStatus != nil {
		sess.TimeoutStatus = *change.TimeoutStatus
	}
	if change.CancelledBy != nil {
		sess.CancelledBy = *change.CancelledBy
	}
	if change.CancellationReason != nil {
		sess.CancellationReason = *change.CancellationReason
	}
	if change.CancellationTime != nil {
		t := *change.CancellationTime
		sess.CancellationTime = &t
	}
	return nil
}

func (m *memStore) QueryExpirable(_ context.Context, now time.Time) ([]models.ExpirableSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.ExpirableSession
	for _, b := range m.bookings {
		for _, s := range b.Sessions {
			if s.Status == models.SessionPendingPayment && !s.TimeoutAt.After(now) {
				out = append(out, models.ExpirableSession{BookingID: b.ID, Session: s})
			}
		}
	}
	return out, nil
}

func (m *memStore) MarkRefunded(ctx context.Context, bookingID, sessionID string) error {
	paid := models.PaymentPaid
	refunded := models.PaymentRefunded
	return m.ConditionalUpdateSession(ctx, bookingID, sessionID,
		bookingRepo.SessionPrecondition{PaymentStatus: &paid},
		bookingRepo.SessionMutation{PaymentStatus: &refunded},
	)
}

// fakeGateway issues sequential order refs, reuses the ref already minted
// for a receipt, and verifies signatures with the real HMAC scheme.
type fakeGateway struct {
	mu     sync.Mutex
	orders int
	refs   map[string]string // receipt -> order ref
}

func (g *fakeGateway) CreateOrder(_ context.Context, amountMinor int64, currency, receipt string) (*models.GatewayOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.refs == nil {
		g.refs = make(map[string]string)
	}
	ref, ok := g.refs[receipt]
	if !ok {
		g.orders++
		ref = fmt.Sprintf("order_%06d", g.orders)
		g.refs[receipt] = ref
	}
	return &models.GatewayOrder{
		OrderRef:    ref,
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
	}, nil
}

func (g *fakeGateway) Verify(orderRef string, payload models.VerificationPayload) error {
	return payment.VerifySignature(orderRef, payload, testSecret)
}

type refundRecord struct {
	bookingID, sessionID, paymentID string
}

type memRefunds struct {
	mu      sync.Mutex
	entries []refundRecord
}

func (r *memRefunds) EnqueueRefund(_ context.Context, bookingID, sessionID, paymentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, refundRecord{bookingID, sessionID, paymentID})
	return nil
}

func (r *memRefunds) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

func newTestService(window time.Duration) (*DefaultSessionLifecycleService, *memStore, *memRefunds) {
	store := newMemStore()
	refunds := &memRefunds{}
	svc := &DefaultSessionLifecycleService{
		Repo:     store,
		Gateway:  &fakeGateway{},
		Timeouts: TimeoutPolicy{Window: window},
		Refunds:  refunds,
		Logger:   zap.NewNop(),
	}
	return svc, store, refunds
}

// attemptSeq keeps every helper-created booking a distinct attempt; tests
// exercising order reuse pass their own key explicitly.
var attemptSeq int64

func createTestBooking(t *testing.T, svc *DefaultSessionLifecycleService) (string, string, *models.Session) {
	t.Helper()
	resp, err := svc.CreateBooking(context.Background(), models.CreateBookingRequest{
		ClientID:        "client-1",
		ExpertID:        "expert-1",
		AmountMinor:     150000,
		Currency:        "INR",
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
		IdempotencyKey:  fmt.Sprintf("attempt-%d", atomic.AddInt64(&attemptSeq, 1)),
	})
	require.NoError(t, err)
	require.Len(t, resp.Booking.Sessions, 1)
	sess := resp.Booking.Sessions[0]
	return resp.Booking.ID, sess.SessionID, &sess
}

func signFor(orderRef, paymentID string) models.VerificationPayload {
	return models.VerificationPayload{
		PaymentID: paymentID,
		Signature: payment.SignPayload(orderRef, paymentID, testSecret),
	}
}

func TestCreateBooking(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	start := time.Now()

	resp, err := svc.CreateBooking(context.Background(), models.CreateBookingRequest{
		ClientID:        "client-1",
		ExpertID:        "expert-1",
		AmountMinor:     150000,
		Currency:        "inr",
		ScheduledAt:     time.Now().Add(48 * time.Hour),
		DurationMinutes: 60,
	})
	require.NoError(t, err)

	sess := resp.Booking.Sessions[0]
	assert.Equal(t, models.SessionPendingPayment, sess.Status)
	assert.Equal(t, models.PaymentUnpaid, sess.PaymentStatus)
	assert.Equal(t, models.TimeoutPending, sess.TimeoutStatus)
	assert.Equal(t, "INR", sess.Currency)
	assert.NotEmpty(t, sess.GatewayOrderRef)
	assert.WithinDuration(t, start.Add(5*time.Minute), sess.TimeoutAt, 2*time.Second)

	require.NotNil(t, resp.Checkout)
	assert.Equal(t, sess.GatewayOrderRef, resp.Checkout.GatewayOrderRef)
	assert.Equal(t, int64(150000), resp.Checkout.AmountMinor)
}

func TestCreateBooking_Validation(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)

	tests := []struct {
		name string
		req  models.CreateBookingRequest
	}{
		{"zero amount", models.CreateBookingRequest{ClientID: "c", ExpertID: "e", AmountMinor: 0, Currency: "INR", ScheduledAt: time.Now(), DurationMinutes: 30}},
		{"negative amount", models.CreateBookingRequest{ClientID: "c", ExpertID: "e", AmountMinor: -100, Currency: "INR", ScheduledAt: time.Now(), DurationMinutes: 30}},
		{"bad currency", models.CreateBookingRequest{ClientID: "c", ExpertID: "e", AmountMinor: 100, Currency: "RUPEES", ScheduledAt: time.Now(), DurationMinutes: 30}},
		{"missing expert", models.CreateBookingRequest{ClientID: "c", AmountMinor: 100, Currency: "INR", ScheduledAt: time.Now(), DurationMinutes: 30}},
		{"zero duration", models.CreateBookingRequest{ClientID: "c", ExpertID: "e", AmountMinor: 100, Currency: "INR", ScheduledAt: time.Now()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.CreateBooking(context.Background(), tt.req)
			assert.True(t, HasCode(err, CodeInvalidInput), "got %v", err)
		})
	}
}

func TestConfirmPayment_Valid(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	updated, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, updated.Status)
	assert.Equal(t, models.PaymentPaid, updated.PaymentStatus)
	assert.True(t, updated.CancellationRecordConsistent())
}

func TestConfirmPayment_BadSignatureThenRetry(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	bad := signFor(sess.GatewayOrderRef, "pay_001")
	bad.Signature = "deadbeef" + bad.Signature[8:]

	_, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, bad)
	assert.True(t, HasCode(err, CodePaymentVerificationFailed), "got %v", err)

	// The failure is recorded but the window stays open for a retry.
	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPendingPayment, current.Status)
	assert.Equal(t, models.PaymentFailed, current.PaymentStatus)

	updated, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_002"))
	require.NoError(t, err)
	assert.Equal(t, models.SessionConfirmed, updated.Status)
	assert.Equal(t, models.PaymentPaid, updated.PaymentStatus)
}

func TestConfirmPayment_CrossSessionReplayRejected(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	bookingA, sessionA, sessA := createTestBooking(t, svc)
	bookingB, sessionB, _ := createTestBooking(t, svc)

	// A signature minted for session A's order must not confirm session B.
	_, err := svc.ConfirmPayment(context.Background(), bookingB, sessionB, signFor(sessA.GatewayOrderRef, "pay_001"))
	assert.True(t, HasCode(err, CodePaymentVerificationFailed), "got %v", err)

	_, err = svc.ConfirmPayment(context.Background(), bookingA, sessionA, signFor(sessA.GatewayOrderRef, "pay_001"))
	assert.NoError(t, err)
}

func TestConfirmPayment_AfterDeadlineExpiresSession(t *testing.T) {
	svc, _, refunds := newTestService(-time.Minute) // deadline already in the past
	bookingID, sessionID, sess := createTestBooking(t, svc)

	_, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	// The session expires, but the verified payload still proves the money
	// moved, so the payment is recorded and its refund queued.
	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, current.Status)
	assert.Equal(t, models.CancelledBySystemTimeout, current.CancelledBy)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
	assert.Equal(t, 1, refunds.count())
}

func TestConfirmPayment_LateVerifiedPaymentFlagsRefund(t *testing.T) {
	svc, store, refunds := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	// An expiration sneaks in between the confirm's read and its write.
	lateClock := &DefaultSessionLifecycleService{
		Repo:     store,
		Gateway:  svc.Gateway,
		Timeouts: svc.Timeouts,
		Refunds:  refunds,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return time.Now().Add(10 * time.Minute) },
	}
	store.onConfirmWrite = func() {
		_, err := lateClock.RequestExpireIfDue(context.Background(), bookingID, sessionID)
		require.NoError(t, err)
	}

	_, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	// The money fact survives on the expired session and the refund is queued.
	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, current.Status)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
	assert.Equal(t, 1, refunds.count())
}

func TestConfirmPayment_ExpiredBeforeReadFlagsRefund(t *testing.T) {
	svc, store, refunds := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	// Expiration fully completes before the confirm even reads the session.
	expirer := &DefaultSessionLifecycleService{
		Repo:     store,
		Gateway:  svc.Gateway,
		Timeouts: svc.Timeouts,
		Refunds:  refunds,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return time.Now().Add(10 * time.Minute) },
	}
	_, err := expirer.RequestExpireIfDue(context.Background(), bookingID, sessionID)
	require.NoError(t, err)

	payload := signFor(sess.GatewayOrderRef, "pay_001")
	_, err = svc.ConfirmPayment(context.Background(), bookingID, sessionID, payload)
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, current.Status)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
	assert.Equal(t, 1, refunds.count())

	// A retried confirm reports the same outcome without queueing a
	// second refund.
	_, err = svc.ConfirmPayment(context.Background(), bookingID, sessionID, payload)
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)
	assert.Equal(t, 1, refunds.count())
}

func TestConfirmPayment_LatePaymentAfterFailedAttempt(t *testing.T) {
	svc, store, refunds := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	// A first attempt with a bad signature leaves the payment marked FAILED.
	bad := signFor(sess.GatewayOrderRef, "pay_001")
	bad.Signature = "deadbeef" + bad.Signature[8:]
	_, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, bad)
	assert.True(t, HasCode(err, CodePaymentVerificationFailed), "got %v", err)

	// The successful retry loses the race against expiration.
	lateClock := &DefaultSessionLifecycleService{
		Repo:     store,
		Gateway:  svc.Gateway,
		Timeouts: svc.Timeouts,
		Refunds:  refunds,
		Logger:   zap.NewNop(),
		Now:      func() time.Time { return time.Now().Add(10 * time.Minute) },
	}
	store.onConfirmWrite = func() {
		_, err := lateClock.RequestExpireIfDue(context.Background(), bookingID, sessionID)
		require.NoError(t, err)
	}

	_, err = svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_002"))
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	// The earlier FAILED mark must not swallow the cleared payment.
	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, current.Status)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
	assert.Equal(t, 1, refunds.count())
}

func TestConfirmPayment_CancelWinsRaceFlagsRefund(t *testing.T) {
	svc, store, refunds := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	// A client cancellation sneaks in between the confirm's read and its
	// write.
	store.onConfirmWrite = func() {
		_, err := svc.CancelSession(context.Background(), bookingID, sessionID, models.CancelledByClient, "changed my mind")
		require.NoError(t, err)
	}

	_, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, current.Status)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
	assert.Equal(t, 1, refunds.count())
}

func TestConfirmPayment_VerifiedAfterCancelFlagsRefund(t *testing.T) {
	svc, _, refunds := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	_, err := svc.CancelSession(context.Background(), bookingID, sessionID, models.CancelledByClient, "no longer needed")
	require.NoError(t, err)

	// The checkout had already gone through at the gateway; the late
	// confirm still records the payment on the cancelled session.
	_, err = svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	current, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, current.Status)
	assert.Equal(t, models.PaymentPaid, current.PaymentStatus)
	assert.Equal(t, 1, refunds.count())
}

func TestCreateBooking_RetriedAttemptReusesOrder(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)

	req := models.CreateBookingRequest{
		ClientID:        "client-1",
		ExpertID:        "expert-1",
		AmountMinor:     150000,
		Currency:        "INR",
		ScheduledAt:     time.Date(2026, 9, 2, 15, 0, 0, 0, time.UTC),
		DurationMinutes: 60,
		IdempotencyKey:  "checkout-123",
	}
	first, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)

	retry, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, first.Checkout.GatewayOrderRef, retry.Checkout.GatewayOrderRef)

	// A different attempt gets its own order.
	req.IdempotencyKey = "checkout-456"
	other, err := svc.CreateBooking(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, first.Checkout.GatewayOrderRef, other.Checkout.GatewayOrderRef)
}

func TestCancelSession(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	updated, err := svc.CancelSession(context.Background(), bookingID, sessionID, models.CancelledByClient, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, updated.Status)
	assert.Equal(t, models.CancelledByClient, updated.CancelledBy)
	assert.Equal(t, "changed my mind", updated.CancellationReason)
	require.NotNil(t, updated.CancellationTime)
	assert.True(t, updated.CancellationRecordConsistent())

	// Terminal means terminal: no confirmation, no second cancellation.
	_, err = svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)

	_, err = svc.CancelSession(context.Background(), bookingID, sessionID, models.CancelledByClient, "again")
	assert.True(t, HasCode(err, CodeAlreadyTerminal), "got %v", err)
}

func TestCancelConfirmed_EnqueuesRefund(t *testing.T) {
	svc, _, refunds := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	_, err := svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	require.NoError(t, err)

	updated, err := svc.CancelSession(context.Background(), bookingID, sessionID, models.CancelledByExpert, "expert unavailable")
	require.NoError(t, err)
	assert.Equal(t, models.SessionCancelled, updated.Status)
	assert.Equal(t, models.CancelledByExpert, updated.CancelledBy)
	assert.Equal(t, 1, refunds.count())
}

func TestCompleteSession(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	bookingID, sessionID, sess := createTestBooking(t, svc)

	_, err := svc.CompleteSession(context.Background(), bookingID, sessionID)
	assert.True(t, HasCode(err, CodePreconditionFailed), "got %v", err)

	_, err = svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
	require.NoError(t, err)

	updated, err := svc.CompleteSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionCompleted, updated.Status)
	assert.True(t, updated.CancellationRecordConsistent())
}

func TestRequestExpireIfDue(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)
	bookingID, sessionID, _ := createTestBooking(t, svc)

	// Before the deadline a client cannot force expiration.
	_, err := svc.RequestExpireIfDue(context.Background(), bookingID, sessionID)
	assert.True(t, HasCode(err, CodePreconditionFailed), "got %v", err)

	svc.Now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	updated, err := svc.RequestExpireIfDue(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, updated.Status)
	assert.Equal(t, models.TimeoutExpiredCancelled, updated.TimeoutStatus)
	assert.Equal(t, models.CancelledBySystemTimeout, updated.CancelledBy)
	assert.Equal(t, "timeout", updated.CancellationReason)
	firstCancelTime := updated.CancellationTime
	require.NotNil(t, firstCancelTime)

	// Idempotent: repeat calls succeed without touching any field.
	again, err := svc.RequestExpireIfDue(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, again.Status)
	assert.Equal(t, *firstCancelTime, *again.CancellationTime)
}

func TestRequestExpireIfDue_ResumesAfterCrash(t *testing.T) {
	svc, store, _ := newTestService(-time.Minute)
	bookingID, sessionID, _ := createTestBooking(t, svc)

	// Simulate a crash after phase 1: ownership claimed, commit missing.
	pendingStatus := models.SessionPendingPayment
	pendingTimeout := models.TimeoutPending
	claimed := models.TimeoutExpiredPendingCancel
	require.NoError(t, store.ConditionalUpdateSession(context.Background(), bookingID, sessionID,
		bookingRepo.SessionPrecondition{Status: &pendingStatus, TimeoutStatus: &pendingTimeout},
		bookingRepo.SessionMutation{TimeoutStatus: &claimed},
	))

	updated, err := svc.RequestExpireIfDue(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, updated.Status)
	assert.Equal(t, models.TimeoutExpiredCancelled, updated.TimeoutStatus)
	assert.True(t, updated.CancellationRecordConsistent())
}

func TestConcurrentExpire_OnlyOneWins(t *testing.T) {
	svc, _, _ := newTestService(-time.Minute)
	bookingID, sessionID, _ := createTestBooking(t, svc)

	const workers = 16
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.RequestExpireIfDue(context.Background(), bookingID, sessionID)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		assert.NoError(t, err, "worker %d", i)
	}

	final, err := svc.GetSession(context.Background(), bookingID, sessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionExpired, final.Status)
	assert.Equal(t, models.TimeoutExpiredCancelled, final.TimeoutStatus)
	assert.True(t, final.CancellationRecordConsistent())
}

func TestConcurrentConfirmVsExpire(t *testing.T) {
	for i := 0; i < 25; i++ {
		svc, store, refunds := newTestService(5 * time.Minute)
		bookingID, sessionID, sess := createTestBooking(t, svc)

		expirer := &DefaultSessionLifecycleService{
			Repo:     store,
			Gateway:  svc.Gateway,
			Timeouts: svc.Timeouts,
			Refunds:  refunds,
			Logger:   zap.NewNop(),
			Now:      func() time.Time { return time.Now().Add(10 * time.Minute) },
		}

		var wg sync.WaitGroup
		var confirmErr, expireErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, confirmErr = svc.ConfirmPayment(context.Background(), bookingID, sessionID, signFor(sess.GatewayOrderRef, "pay_001"))
		}()
		go func() {
			defer wg.Done()
			_, expireErr = expirer.RequestExpireIfDue(context.Background(), bookingID, sessionID)
		}()
		wg.Wait()

		// The expire call either no-ops successfully or reports that the
		// session already left PENDING_PAYMENT.
		if expireErr != nil {
			assert.True(t, HasCode(expireErr, CodePreconditionFailed), "got %v", expireErr)
		}

		final, err := svc.GetSession(context.Background(), bookingID, sessionID)
		require.NoError(t, err)
		require.True(t, final.CancellationRecordConsistent())

		switch final.Status {
		case models.SessionConfirmed:
			assert.NoError(t, confirmErr)
			assert.Equal(t, models.PaymentPaid, final.PaymentStatus)
		case models.SessionExpired:
			// Expiration won; the successful verification must surface as
			// AlreadyTerminal with the refund flagged, never silently.
			assert.True(t, HasCode(confirmErr, CodeAlreadyTerminal), "got %v", confirmErr)
			assert.Equal(t, models.PaymentPaid, final.PaymentStatus)
			assert.Equal(t, 1, refunds.count())
		default:
			t.Fatalf("session left in unexpected status %s", final.Status)
		}
	}
}

func TestSweepExpired(t *testing.T) {
	svc, _, _ := newTestService(-time.Minute)
	dueA, sessA, _ := createTestBooking(t, svc)
	dueB, sessB, _ := createTestBooking(t, svc)

	fresh := &DefaultSessionLifecycleService{
		Repo:     svc.Repo,
		Gateway:  svc.Gateway,
		Timeouts: TimeoutPolicy{Window: time.Hour},
		Logger:   zap.NewNop(),
	}
	openID, openSession, _ := createTestBooking(t, fresh)

	count, err := svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, key := range []struct{ b, s string }{{dueA, sessA}, {dueB, sessB}} {
		got, err := svc.GetSession(context.Background(), key.b, key.s)
		require.NoError(t, err)
		assert.Equal(t, models.SessionExpired, got.Status)
	}
	still, err := svc.GetSession(context.Background(), openID, openSession)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPendingPayment, still.Status)

	// A second sweep finds nothing left to do.
	count, err = svc.SweepExpired(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, count)
}

func TestGetSession_NotFound(t *testing.T) {
	svc, _, _ := newTestService(5 * time.Minute)

	_, err := svc.GetSession(context.Background(), "missing", "missing")
	assert.True(t, HasCode(err, CodeNotFound), "got %v", err)
}
