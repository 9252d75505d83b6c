package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/harsh7274v/confiido-sub003/config"
	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/models"
	"github.com/harsh7274v/confiido-sub003/services/booking"
)

const (
	// TypeExpireSweep is the periodic sweep over sessions past their deadline.
	TypeExpireSweep = "session:expire_sweep"
	// TypeRefund reconciles a refund obligation recorded by the lifecycle engine.
	TypeRefund = "payment:refund"
)

// RefundPayload identifies the session whose payment must be refunded.
type RefundPayload struct {
	BookingID string `json:"bookingId"`
	SessionID string `json:"sessionId"`
	PaymentID string `json:"paymentId,omitempty"`
}

func redisOpts() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     config.AppConfig.RedisAddr,
		Password: config.AppConfig.RedisPassword,
		DB:       config.AppConfig.RedisQueueDB,
	}
}

// AsynqRefundQueue implements booking.RefundQueue on top of asynq.
type AsynqRefundQueue struct {
	client *asynq.Client
}

func NewRefundQueue() *AsynqRefundQueue {
	return &AsynqRefundQueue{client: asynq.NewClient(redisOpts())}
}

func (q *AsynqRefundQueue) EnqueueRefund(ctx context.Context, bookingID, sessionID, paymentID string) error {
	payload, err := json.Marshal(RefundPayload{BookingID: bookingID, SessionID: sessionID, PaymentID: paymentID})
	if err != nil {
		return fmt.Errorf("failed to marshal refund payload: %w", err)
	}
	task := asynq.NewTask(TypeRefund, payload)
	if _, err := q.client.EnqueueContext(ctx, task, asynq.MaxRetry(10)); err != nil {
		return fmt.Errorf("failed to enqueue refund task: %w", err)
	}
	return nil
}

// InitLifecycleWorker starts the async worker handling the expiration sweep
// and refund reconciliation, plus the scheduler that enqueues the sweep on
// an interval.
func InitLifecycleWorker(svc booking.SessionLifecycleService, repo bookingRepo.BookingRepository, logger *zap.Logger) {
	srv := asynq.NewServer(
		redisOpts(),
		asynq.Config{
			Concurrency: 10,
			Queues: map[string]int{
				"default": 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	mux.HandleFunc(TypeExpireSweep, handleExpireSweep(svc, logger))
	mux.HandleFunc(TypeRefund, handleRefund(repo, logger))

	go runScheduler(logger)

	// Start async worker with retry logic
	go func() {
		log.Println("[LifecycleWorker] Starting async worker...")
		const maxAttempts = 5

		for attempts := 1; attempts <= maxAttempts; attempts++ {
			if err := srv.Run(mux); err != nil {
				log.Printf("[LifecycleWorker] Attempt %d/%d failed to start worker: %v", attempts, maxAttempts, err)

				if attempts == maxAttempts {
					log.Fatal("[LifecycleWorker] Max retry attempts reached. Exiting.")
				}
				time.Sleep(time.Duration(attempts*2) * time.Second) // Exponential backoff
			} else {
				break
			}
		}
	}()
}

func runScheduler(logger *zap.Logger) {
	interval := config.AppConfig.SweepIntervalMinutes
	if interval <= 0 {
		interval = 1
	}

	scheduler := asynq.NewScheduler(redisOpts(), &asynq.SchedulerOpts{})
	spec := fmt.Sprintf("@every %dm", interval)
	if _, err := scheduler.Register(spec, asynq.NewTask(TypeExpireSweep, nil)); err != nil {
		logger.Error("failed to register expiration sweep", zap.Error(err))
		return
	}
	if err := scheduler.Run(); err != nil {
		logger.Error("scheduler stopped", zap.Error(err))
	}
}

func handleExpireSweep(svc booking.SessionLifecycleService, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		expired, err := svc.SweepExpired(ctx)
		if err != nil {
			logger.Warn("expiration sweep failed", zap.Error(err))
			return err
		}
		if expired > 0 {
			logger.Info("expiration sweep expired sessions", zap.Int("count", expired))
		}
		return nil
	}
}

// handleRefund records the refund on the session. The actual money movement
// happens at the gateway's dashboard/refund API, operated by the payments
// team; this worker keeps the session record consistent with it.
func handleRefund(repo bookingRepo.BookingRepository, logger *zap.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, task *asynq.Task) error {
		var p RefundPayload
		if err := json.Unmarshal(task.Payload(), &p); err != nil {
			logger.Error("invalid refund payload", zap.Error(err))
			return err
		}

		err := repo.MarkRefunded(ctx, p.BookingID, p.SessionID)
		if errors.Is(err, bookingRepo.ErrPreconditionFailed) {
			sess, getErr := repo.GetSession(ctx, p.BookingID, p.SessionID)
			if getErr != nil {
				logger.Warn("refund reconciliation could not read session; will retry", zap.Error(getErr),
					zap.String("booking_id", p.BookingID),
					zap.String("session_id", p.SessionID))
				return getErr
			}
			if sess.PaymentStatus == models.PaymentRefunded {
				logger.Info("refund already reconciled",
					zap.String("booking_id", p.BookingID),
					zap.String("session_id", p.SessionID))
				return nil
			}

			// The task exists, so a payment cleared, but the PAID flag
			// never reached the store. Re-record it, then reconcile; the
			// task is not done until the session says REFUNDED.
			paid := models.PaymentPaid
			flagErr := repo.ConditionalUpdateSession(ctx, p.BookingID, p.SessionID,
				bookingRepo.SessionPrecondition{
					PaymentStatusNotIn: []models.PaymentStatus{models.PaymentPaid, models.PaymentRefunded},
				},
				bookingRepo.SessionMutation{PaymentStatus: &paid},
			)
			if flagErr != nil && !errors.Is(flagErr, bookingRepo.ErrPreconditionFailed) {
				logger.Warn("failed to re-record payment; will retry", zap.Error(flagErr),
					zap.String("booking_id", p.BookingID),
					zap.String("session_id", p.SessionID))
				return flagErr
			}
			err = repo.MarkRefunded(ctx, p.BookingID, p.SessionID)
		}
		if err != nil {
			logger.Warn("refund reconciliation failed; will retry", zap.Error(err),
				zap.String("booking_id", p.BookingID),
				zap.String("session_id", p.SessionID))
			return err
		}

		logger.Info("refund recorded",
			zap.String("booking_id", p.BookingID),
			zap.String("session_id", p.SessionID),
			zap.String("payment_id", p.PaymentID))
		return nil
	}
}
