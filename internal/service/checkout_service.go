package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lesteralterado/anopog-billing-gateway/internal/gateway"
	"github.com/lesteralterado/anopog-billing-gateway/internal/metrics"
	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
	"github.com/lesteralterado/anopog-billing-gateway/internal/workflow"
)

var (
	ErrBillNotFound       = errors.New("bill not found")
	ErrBillAlreadyPaid    = errors.New("bill is already paid")
	ErrCheckoutInProgress = errors.New("a checkout is already in progress for this bill")
	ErrCheckoutNotFound   = errors.New("checkout not found")
)

// BillStore is the slice of bill persistence the checkout flow needs.
type BillStore interface {
	GetByID(ctx context.Context, id string) (*models.Bill, error)
	MarkPaid(ctx context.Context, id string) error
}

// PaymentStore records payment attempts and their outcomes.
type PaymentStore interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, transactionID, failureReason string) error
}

// IdempotencyCache lets a retried checkout request return its original
// response instead of charging twice.
type IdempotencyCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error
}

type checkout struct {
	id        string
	billID    string
	paymentID string
	wf        *workflow.Workflow
	startedAt time.Time
	settled   bool
}

// CheckoutService orchestrates payment-confirmation workflows, one per
// checkout attempt, and settles bills and payment records when a workflow
// reaches a terminal state.
type CheckoutService struct {
	bills        BillStore
	payments     PaymentStore
	gateway      gateway.Client
	cache        IdempotencyCache
	logger       *zap.Logger
	pollInterval time.Duration
	maxAttempts  int

	mu          sync.Mutex
	checkouts   map[string]*checkout // by checkout id
	activeBills map[string]string    // bill id -> checkout id, while processing
	byIntent    map[string]*checkout // intent id -> checkout, for callbacks
}

type Option func(*CheckoutService)

func WithPollInterval(d time.Duration) Option {
	return func(s *CheckoutService) { s.pollInterval = d }
}

func WithMaxPollAttempts(n int) Option {
	return func(s *CheckoutService) { s.maxAttempts = n }
}

func NewCheckoutService(bills BillStore, payments PaymentStore, gw gateway.Client, cache IdempotencyCache, logger *zap.Logger, opts ...Option) *CheckoutService {
	s := &CheckoutService{
		bills:        bills,
		payments:     payments,
		gateway:      gw,
		cache:        cache,
		logger:       logger,
		pollInterval: workflow.DefaultPollInterval,
		maxAttempts:  workflow.DefaultMaxPollAttempts,
		checkouts:    make(map[string]*checkout),
		activeBills:  make(map[string]string),
		byIntent:     make(map[string]*checkout),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StartCheckout begins a payment attempt for a bill. It returns once the
// attempt is either terminal (validation or request failure), handed to a
// gateway redirect, or polling in the background.
func (s *CheckoutService) StartCheckout(ctx context.Context, req *models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if req.IdempotencyKey != "" && s.cache != nil {
		if cached, err := s.cachedResponse(ctx, req.IdempotencyKey); err == nil && cached != nil {
			return cached, nil
		}
	}

	bill, err := s.bills.GetByID(ctx, req.BillID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bill: %w", err)
	}
	if bill == nil {
		return nil, ErrBillNotFound
	}
	if bill.Status == models.BillStatusPaid {
		return nil, ErrBillAlreadyPaid
	}

	co := &checkout{
		id:        uuid.New().String(),
		billID:    bill.ID,
		startedAt: time.Now(),
	}
	co.wf = workflow.New(s.gateway, s.logger,
		workflow.WithPollInterval(s.pollInterval),
		workflow.WithMaxPollAttempts(s.maxAttempts),
		workflow.WithIntentObserver(func(intentID string) {
			// Record the payment row before the checkout becomes reachable
			// by intent id, so a callback never settles against an empty
			// payment record.
			s.recordPayment(ctx, co, bill, req.PhoneNumber)
			s.mu.Lock()
			s.byIntent[intentID] = co
			s.mu.Unlock()
		}))

	s.mu.Lock()
	if _, busy := s.activeBills[bill.ID]; busy {
		s.mu.Unlock()
		return nil, ErrCheckoutInProgress
	}
	s.activeBills[bill.ID] = co.id
	s.checkouts[co.id] = co
	s.mu.Unlock()

	metrics.CheckoutsStarted.Inc()
	s.logger.Info("checkout started",
		zap.String("checkout_id", co.id),
		zap.String("bill_id", bill.ID),
		zap.Float64("amount", bill.AmountDue))

	state, startErr := co.wf.StartPayment(ctx, bill, req.PhoneNumber)

	switch state {
	case workflow.StateProcessing:
		if co.wf.Result().RedirectURL == "" {
			// Polled flow: settle in the background when it finishes.
			go s.watch(co)
		}
	case workflow.StateFailed:
		s.settle(co)
		if errors.Is(startErr, workflow.ErrInvalidPhoneNumber) {
			// Not cached: a corrected retry under the same key must go
			// through, not replay the validation failure.
			return s.response(co), startErr
		}
	}

	return s.respond(ctx, req.IdempotencyKey, co), nil
}

// CheckoutStatus reports the current state of a live checkout.
func (s *CheckoutService) CheckoutStatus(ctx context.Context, checkoutID string) (*models.CheckoutResponse, error) {
	s.mu.Lock()
	co, ok := s.checkouts[checkoutID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrCheckoutNotFound
	}
	return s.response(co), nil
}

// CancelCheckout halts a processing checkout. Idempotent: cancelling a
// finished or unknown-state checkout changes nothing.
func (s *CheckoutService) CancelCheckout(ctx context.Context, checkoutID string) (*models.CheckoutResponse, error) {
	s.mu.Lock()
	co, ok := s.checkouts[checkoutID]
	s.mu.Unlock()
	if !ok {
		return nil, ErrCheckoutNotFound
	}

	co.wf.Cancel()
	// Redirect flows have no poll watcher, so settle here; for polled flows
	// this is a no-op once the watcher has run.
	s.settle(co)
	return s.response(co), nil
}

// ConfirmFromCallback handles the browser's return from a gateway
// redirect: one status read, then the same settlement as a successful
// poll. It also covers checkouts no longer in memory by falling back to
// the payment record for the intent.
func (s *CheckoutService) ConfirmFromCallback(ctx context.Context, intentID string) (*models.CheckoutResponse, error) {
	status, err := s.gateway.GetStatus(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to verify payment status: %w", err)
	}

	s.mu.Lock()
	co, ok := s.byIntent[intentID]
	s.mu.Unlock()

	if ok {
		if co.wf.ResolveRedirect(status) != workflow.StateProcessing {
			s.settle(co)
		}
		return s.response(co), nil
	}

	// The process may have restarted since the redirect; settle from the
	// payment record alone.
	payment, err := s.payments.GetByIntentID(ctx, intentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load payment: %w", err)
	}
	if payment == nil {
		return nil, ErrCheckoutNotFound
	}

	resp := &models.CheckoutResponse{BillID: payment.BillID, State: string(workflow.StateProcessing)}
	switch status.Status {
	case gateway.StatusSucceeded:
		if err := s.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusSucceeded, status.TransactionID, ""); err != nil {
			return nil, fmt.Errorf("failed to update payment: %w", err)
		}
		if err := s.bills.MarkPaid(ctx, payment.BillID); err != nil {
			s.logger.Error("failed to mark bill paid", zap.String("bill_id", payment.BillID), zap.Error(err))
		}
		resp.State = string(workflow.StateSuccess)
		resp.TransactionID = status.TransactionID
	case gateway.StatusFailed, gateway.StatusCancelled:
		if err := s.payments.UpdateStatus(ctx, payment.ID, models.PaymentStatusFailed, "", "Payment was cancelled or failed"); err != nil {
			return nil, fmt.Errorf("failed to update payment: %w", err)
		}
		resp.State = string(workflow.StateFailed)
		resp.FailureReason = "Payment was cancelled or failed"
	}

	return resp, nil
}

// watch settles a polled checkout once its workflow reaches a terminal
// state.
func (s *CheckoutService) watch(co *checkout) {
	<-co.wf.Done()
	s.settle(co)
}

func (s *CheckoutService) settle(co *checkout) {
	state := co.wf.State()
	if state != workflow.StateSuccess && state != workflow.StateFailed {
		return
	}

	s.mu.Lock()
	if co.settled {
		s.mu.Unlock()
		return
	}
	co.settled = true
	if s.activeBills[co.billID] == co.id {
		delete(s.activeBills, co.billID)
	}
	s.mu.Unlock()

	res := co.wf.Result()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if state == workflow.StateSuccess {
		metrics.CheckoutOutcomes.WithLabelValues("success").Inc()
		metrics.ConfirmationDuration.Observe(time.Since(co.startedAt).Seconds())

		if co.paymentID != "" {
			if err := s.payments.UpdateStatus(ctx, co.paymentID, models.PaymentStatusSucceeded, res.TransactionID, ""); err != nil {
				s.logger.Error("failed to update payment record",
					zap.String("payment_id", co.paymentID), zap.Error(err))
			}
		}
		if err := s.bills.MarkPaid(ctx, co.billID); err != nil {
			s.logger.Error("failed to mark bill paid",
				zap.String("bill_id", co.billID), zap.Error(err))
		}
		s.logger.Info("checkout settled",
			zap.String("checkout_id", co.id),
			zap.String("transaction_id", res.TransactionID))
		return
	}

	outcome, paymentStatus := classifyFailure(res.Err)
	metrics.CheckoutOutcomes.WithLabelValues(outcome).Inc()

	if co.paymentID != "" {
		if err := s.payments.UpdateStatus(ctx, co.paymentID, paymentStatus, "", res.FailureReason); err != nil {
			s.logger.Error("failed to update payment record",
				zap.String("payment_id", co.paymentID), zap.Error(err))
		}
	}
	s.logger.Warn("checkout failed",
		zap.String("checkout_id", co.id),
		zap.String("bill_id", co.billID),
		zap.String("outcome", outcome),
		zap.String("reason", res.FailureReason))
}

func classifyFailure(err error) (string, models.PaymentStatus) {
	var declined *workflow.GatewayDeclinedError
	var transport *workflow.TransportError
	var timeout *workflow.TimeoutError

	switch {
	case errors.Is(err, workflow.ErrUserCancelled):
		return "cancelled", models.PaymentStatusCancelled
	case errors.Is(err, workflow.ErrInvalidPhoneNumber):
		return "validation_error", models.PaymentStatusFailed
	case errors.As(err, &timeout):
		return "timeout", models.PaymentStatusFailed
	case errors.As(err, &declined):
		return "declined", models.PaymentStatusFailed
	case errors.As(err, &transport):
		return "transport_error", models.PaymentStatusFailed
	default:
		return "failed", models.PaymentStatusFailed
	}
}

func (s *CheckoutService) recordPayment(ctx context.Context, co *checkout, bill *models.Bill, phone string) {
	digits, err := workflow.NormalizePhoneNumber(phone)
	last4 := ""
	if err == nil && len(digits) >= 4 {
		last4 = digits[len(digits)-4:]
	}

	payment := &models.Payment{
		ID:              uuid.New().String(),
		BillID:          bill.ID,
		Amount:          bill.AmountDue,
		Currency:        "PHP",
		Method:          "gcash",
		IntentID:        co.wf.IntentID(),
		Status:          models.PaymentStatusPending,
		PayerPhoneLast4: last4,
		CreatedAt:       time.Now(),
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		s.logger.Error("failed to record payment attempt",
			zap.String("bill_id", bill.ID), zap.Error(err))
		return
	}
	co.paymentID = payment.ID
}

func (s *CheckoutService) response(co *checkout) *models.CheckoutResponse {
	res := co.wf.Result()
	return &models.CheckoutResponse{
		CheckoutID:    co.id,
		BillID:        co.billID,
		State:         string(co.wf.State()),
		RedirectURL:   res.RedirectURL,
		TransactionID: res.TransactionID,
		FailureReason: res.FailureReason,
	}
}

func (s *CheckoutService) respond(ctx context.Context, idempotencyKey string, co *checkout) *models.CheckoutResponse {
	resp := s.response(co)
	if idempotencyKey != "" && s.cache != nil {
		data, err := json.Marshal(resp)
		if err == nil {
			if err := s.cache.Set(ctx, "idempotency:"+idempotencyKey, data, 24*time.Hour); err != nil {
				s.logger.Warn("failed to cache checkout response", zap.Error(err))
			}
		}
	}
	return resp
}

func (s *CheckoutService) cachedResponse(ctx context.Context, key string) (*models.CheckoutResponse, error) {
	data, err := s.cache.Get(ctx, "idempotency:"+key)
	if err != nil {
		return nil, err
	}
	var resp models.CheckoutResponse
	if err := json.Unmarshal([]byte(data), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
