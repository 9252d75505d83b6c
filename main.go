package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harsh7274v/confiido-sub003/config"
	"github.com/harsh7274v/confiido-sub003/cron"
	"github.com/harsh7274v/confiido-sub003/database"
	bookingRepo "github.com/harsh7274v/confiido-sub003/database/repository/booking"
	"github.com/harsh7274v/confiido-sub003/handlers"
	"github.com/harsh7274v/confiido-sub003/middleware"
	"github.com/harsh7274v/confiido-sub003/routes"
	"github.com/harsh7274v/confiido-sub003/services/booking"
	"github.com/harsh7274v/confiido-sub003/services/payment"
	"github.com/harsh7274v/confiido-sub003/utils"
)

func main() {
	config.LoadConfig()
	logger := utils.GetLogger()
	defer func() { _ = logger.Sync() }()

	db, err := database.Database(context.Background())
	if err != nil {
		logger.Sugar().Fatalf("main: failed to acquire storage handle: %v", err)
	}
	utils.InitCache()
	utils.InitPaymentCache()

	// repositories.
	repo := bookingRepo.NewMongoBookingRepo(db)

	// services.
	gateway := payment.NewRazorpayGateway(
		config.AppConfig.RazorpayKeyID,
		config.AppConfig.RazorpayKeySecret,
		utils.GetPaymentCacheClient(),
		logger,
	)
	refundQueue := cron.NewRefundQueue()
	lifecycleService := &booking.DefaultSessionLifecycleService{
		Repo:     repo,
		Gateway:  gateway,
		Timeouts: booking.TimeoutPolicy{Window: time.Duration(config.AppConfig.PaymentTimeoutMinutes) * time.Minute},
		Refunds:  refundQueue,
		Cache:    utils.GetCacheClient(),
		Logger:   logger,
	}

	cron.InitLifecycleWorker(lifecycleService, repo, logger)

	// Create the Gin router.
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(utils.ErrorHandler())
	router.Use(gin.Logger())
	router.Use(middleware.RateLimitMiddleware())

	bookingHandler := handlers.NewBookingHandler(lifecycleService, logger)
	routes.SetupRoutes(router, bookingHandler)

	srv := &http.Server{
		Addr:    ":" + config.AppConfig.AppPort,
		Handler: router,
	}

	go func() {
		logger.Sugar().Infof("main: listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Sugar().Fatalf("main: server error: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("main: shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Sugar().Errorf("main: forced shutdown: %v", err)
	}
}
