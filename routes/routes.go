package routes

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/harsh7274v/confiido-sub003/handlers"
)

// SetupRoutes wires every route group onto the router.
func SetupRoutes(r *gin.Engine, bookingHandler *handlers.BookingHandler) {
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	RegisterBookingRoutes(r, bookingHandler)
}
