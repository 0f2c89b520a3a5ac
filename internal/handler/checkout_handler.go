package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
	"github.com/lesteralterado/anopog-billing-gateway/internal/service"
	"github.com/lesteralterado/anopog-billing-gateway/internal/workflow"
)

type CheckoutHandler struct {
	service *service.CheckoutService
	logger  *zap.Logger
}

func NewCheckoutHandler(service *service.CheckoutService, logger *zap.Logger) *CheckoutHandler {
	return &CheckoutHandler{
		service: service,
		logger:  logger,
	}
}

// StartCheckout handles POST /api/v1/checkouts
func (h *CheckoutHandler) StartCheckout(c *gin.Context) {
	var req models.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resp, err := h.service.StartCheckout(c.Request.Context(), &req)
	switch {
	case errors.Is(err, workflow.ErrInvalidPhoneNumber):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "Please enter a valid Philippine mobile number", "checkout": resp})
		return
	case errors.Is(err, service.ErrBillNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Bill not found"})
		return
	case errors.Is(err, service.ErrBillAlreadyPaid):
		c.JSON(http.StatusConflict, gin.H{"error": "Bill is already paid"})
		return
	case errors.Is(err, service.ErrCheckoutInProgress):
		c.JSON(http.StatusConflict, gin.H{"error": "A checkout is already in progress for this bill"})
		return
	case err != nil:
		h.logger.Error("failed to start checkout", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start checkout"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"checkout": resp})
}

// GetCheckout handles GET /api/v1/checkouts/:id
func (h *CheckoutHandler) GetCheckout(c *gin.Context) {
	resp, err := h.service.CheckoutStatus(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Checkout not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout": resp})
}

// CancelCheckout handles POST /api/v1/checkouts/:id/cancel
func (h *CheckoutHandler) CancelCheckout(c *gin.Context) {
	resp, err := h.service.CancelCheckout(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Checkout not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout": resp})
}

// PaymentCallback handles GET /api/v1/payments/callback, the browser's
// return route after a gateway redirect.
func (h *CheckoutHandler) PaymentCallback(c *gin.Context) {
	intentID := c.Query("intent_id")
	if intentID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "intent_id is required"})
		return
	}

	resp, err := h.service.ConfirmFromCallback(c.Request.Context(), intentID)
	if err != nil {
		if errors.Is(err, service.ErrCheckoutNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Checkout not found"})
			return
		}
		h.logger.Error("failed to confirm payment from callback",
			zap.String("intent_id", intentID), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to verify payment status"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"checkout": resp})
}
