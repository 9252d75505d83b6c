package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/harsh7274v/confiido-sub003/models"
	"github.com/harsh7274v/confiido-sub003/services/booking"
)

// BookingHandler exposes the session lifecycle operations over HTTP.
type BookingHandler struct {
	Service booking.SessionLifecycleService
	Logger  *zap.Logger
}

func NewBookingHandler(svc booking.SessionLifecycleService, logger *zap.Logger) *BookingHandler {
	return &BookingHandler{Service: svc, Logger: logger}
}

// CreateBookingHandler creates a booking with one session awaiting payment
// and returns the checkout details for the gateway order.
func (h *BookingHandler) CreateBookingHandler(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}
	req.ClientID = c.GetString("userID")

	resp, err := h.Service.CreateBooking(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// GetSessionHandler returns the current session snapshot; clients poll it
// to drive the payment countdown.
func (h *BookingHandler) GetSessionHandler(c *gin.Context) {
	sess, err := h.Service.GetSession(c.Request.Context(), c.Param("bookingID"), c.Param("sessionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// ConfirmPaymentHandler verifies a completed checkout and confirms the session.
func (h *BookingHandler) ConfirmPaymentHandler(c *gin.Context) {
	var payload models.VerificationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	sess, err := h.Service.ConfirmPayment(c.Request.Context(), c.Param("bookingID"), c.Param("sessionID"), payload)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// CancelSessionHandler cancels a non-terminal session on behalf of the
// authenticated client or expert.
func (h *BookingHandler) CancelSessionHandler(c *gin.Context) {
	var req models.CancelSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid input", "details": err.Error()})
		return
	}

	actor := models.CancelledByClient
	if c.GetString("userRole") == "expert" {
		actor = models.CancelledByExpert
	}

	sess, err := h.Service.CancelSession(c.Request.Context(), c.Param("bookingID"), c.Param("sessionID"), actor, req.Reason)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// RequestExpireHandler lets a client eagerly expire its own overdue session
// instead of waiting for the periodic sweep.
func (h *BookingHandler) RequestExpireHandler(c *gin.Context) {
	sess, err := h.Service.RequestExpireIfDue(c.Request.Context(), c.Param("bookingID"), c.Param("sessionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// CompleteSessionHandler marks a delivered session as completed.
func (h *BookingHandler) CompleteSessionHandler(c *gin.Context) {
	sess, err := h.Service.CompleteSession(c.Request.Context(), c.Param("bookingID"), c.Param("sessionID"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess})
}

// respondError maps the lifecycle error taxonomy onto HTTP statuses. Race
// losses (alreadyTerminal / preconditionFailed) come back as 409 so callers
// can distinguish them from validation failures.
func (h *BookingHandler) respondError(c *gin.Context, err error) {
	var be *booking.BookingError
	if !errors.As(err, &be) {
		h.Logger.Error("unexpected booking error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	status := http.StatusInternalServerError
	switch be.Code {
	case booking.CodeInvalidInput:
		status = http.StatusBadRequest
	case booking.CodeNotFound:
		status = http.StatusNotFound
	case booking.CodeAlreadyTerminal, booking.CodePreconditionFailed:
		status = http.StatusConflict
	case booking.CodePaymentVerificationFailed:
		status = http.StatusPaymentRequired
	case booking.CodeGatewayUnavailable:
		status = http.StatusBadGateway
	case booking.CodeStorageUnavailable:
		status = http.StatusServiceUnavailable
	}

	h.Logger.Warn("booking operation failed",
		zap.String("code", be.Code),
		zap.String("path", c.FullPath()),
		zap.Error(err))
	c.JSON(status, gin.H{"error": be.Message, "code": be.Code})
}
