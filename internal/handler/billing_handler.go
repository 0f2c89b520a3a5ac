package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
	"github.com/lesteralterado/anopog-billing-gateway/internal/service"
)

type BillingHandler struct {
	service *service.BillingService
	logger  *zap.Logger
}

func NewBillingHandler(service *service.BillingService, logger *zap.Logger) *BillingHandler {
	return &BillingHandler{
		service: service,
		logger:  logger,
	}
}

// CreateBill handles POST /api/v1/bills
func (h *BillingHandler) CreateBill(c *gin.Context) {
	var req models.CreateBillRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	bill, err := h.service.CreateBill(c.Request.Context(), &req)
	if err != nil {
		h.logger.Error("failed to create bill", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"bill": bill})
}

// GetBill handles GET /api/v1/bills/:id
func (h *BillingHandler) GetBill(c *gin.Context) {
	bill, err := h.service.GetBill(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, service.ErrBillNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Bill not found"})
			return
		}
		h.logger.Error("failed to load bill", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bill"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"bill": bill})
}

// ListBills handles GET /api/v1/bills
func (h *BillingHandler) ListBills(c *gin.Context) {
	status := models.BillStatus(c.Query("status"))

	bills, err := h.service.ListBills(c.Request.Context(), status)
	if err != nil {
		h.logger.Error("failed to list bills", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load bills"})
		return
	}
	if bills == nil {
		bills = []*models.Bill{}
	}

	c.JSON(http.StatusOK, gin.H{"bills": bills})
}

// ListPayments handles GET /api/v1/payments
func (h *BillingHandler) ListPayments(c *gin.Context) {
	payments, err := h.service.ListPayments(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to list payments", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load payments"})
		return
	}
	if payments == nil {
		payments = []*models.Payment{}
	}

	c.JSON(http.StatusOK, gin.H{"payments": payments})
}

// DashboardStats handles GET /api/v1/dashboard/stats
func (h *BillingHandler) DashboardStats(c *gin.Context) {
	stats, err := h.service.DashboardStats(c.Request.Context())
	if err != nil {
		h.logger.Error("failed to load dashboard stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"stats": stats})
}
