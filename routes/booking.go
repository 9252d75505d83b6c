package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/harsh7274v/confiido-sub003/handlers"
	"github.com/harsh7274v/confiido-sub003/middleware"
)

// RegisterBookingRoutes registers all endpoints for the session lifecycle engine.
func RegisterBookingRoutes(r *gin.Engine, h *handlers.BookingHandler) {
	bookings := r.Group("/api/bookings")
	bookings.Use(middleware.AuthRequired())
	{
		bookings.POST("", h.CreateBookingHandler)
		bookings.GET("/:bookingID/sessions/:sessionID", h.GetSessionHandler)
		bookings.POST("/:bookingID/sessions/:sessionID/confirm-payment", h.ConfirmPaymentHandler)
		bookings.POST("/:bookingID/sessions/:sessionID/cancel", h.CancelSessionHandler)
		bookings.POST("/:bookingID/sessions/:sessionID/expire", h.RequestExpireHandler)
		bookings.POST("/:bookingID/sessions/:sessionID/complete", h.CompleteSessionHandler)
	}
}
