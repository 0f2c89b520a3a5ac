package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
	"github.com/lesteralterado/anopog-billing-gateway/internal/repository"
)

// BillingService serves the dashboard's bill, payment, and stats pages.
type BillingService struct {
	bills    *repository.BillRepository
	payments *repository.PaymentRepository
	stats    *repository.StatsRepository
	logger   *zap.Logger
}

func NewBillingService(bills *repository.BillRepository, payments *repository.PaymentRepository, stats *repository.StatsRepository, logger *zap.Logger) *BillingService {
	return &BillingService{
		bills:    bills,
		payments: payments,
		stats:    stats,
		logger:   logger,
	}
}

func (s *BillingService) CreateBill(ctx context.Context, req *models.CreateBillRequest) (*models.Bill, error) {
	dueDate, err := time.Parse("2006-01-02", req.DueDate)
	if err != nil {
		return nil, fmt.Errorf("invalid due_date, want YYYY-MM-DD: %w", err)
	}
	if req.CurrentReading < req.PreviousReading {
		return nil, fmt.Errorf("current reading %.2f is below previous reading %.2f", req.CurrentReading, req.PreviousReading)
	}

	now := time.Now()
	bill := &models.Bill{
		ID:              uuid.New().String(),
		AccountNumber:   req.AccountNumber,
		CustomerName:    req.CustomerName,
		BillingPeriod:   req.BillingPeriod,
		DueDate:         dueDate,
		PreviousReading: req.PreviousReading,
		CurrentReading:  req.CurrentReading,
		Consumption:     req.CurrentReading - req.PreviousReading,
		AmountDue:       req.AmountDue,
		Status:          models.BillStatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	if err := s.bills.Create(ctx, bill); err != nil {
		return nil, fmt.Errorf("failed to save bill: %w", err)
	}

	s.logger.Info("bill created",
		zap.String("bill_id", bill.ID),
		zap.String("account_number", bill.AccountNumber),
		zap.Float64("amount_due", bill.AmountDue))
	return bill, nil
}

func (s *BillingService) GetBill(ctx context.Context, id string) (*models.Bill, error) {
	bill, err := s.bills.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}
	if bill == nil {
		return nil, ErrBillNotFound
	}
	return bill, nil
}

func (s *BillingService) ListBills(ctx context.Context, status models.BillStatus) ([]*models.Bill, error) {
	return s.bills.List(ctx, status)
}

func (s *BillingService) ListPayments(ctx context.Context) ([]*models.Payment, error) {
	return s.payments.List(ctx)
}

func (s *BillingService) DashboardStats(ctx context.Context) (*models.DashboardStats, error) {
	return s.stats.Dashboard(ctx)
}
