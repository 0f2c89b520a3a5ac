package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lesteralterado/anopog-billing-gateway/internal/gateway"
	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
	"github.com/lesteralterado/anopog-billing-gateway/internal/workflow"
)

type fakeBillStore struct {
	mu    sync.Mutex
	bills map[string]*models.Bill
	paid  []string
}

func newFakeBillStore(bills ...*models.Bill) *fakeBillStore {
	s := &fakeBillStore{bills: make(map[string]*models.Bill)}
	for _, b := range bills {
		s.bills[b.ID] = b
	}
	return s
}

func (s *fakeBillStore) GetByID(ctx context.Context, id string) (*models.Bill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bills[id], nil
}

func (s *fakeBillStore) MarkPaid(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.paid = append(s.paid, id)
	if b, ok := s.bills[id]; ok {
		b.Status = models.BillStatusPaid
	}
	return nil
}

func (s *fakeBillStore) paidBills() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.paid...)
}

type fakePaymentStore struct {
	mu       sync.Mutex
	payments map[string]*models.Payment
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{payments: make(map[string]*models.Payment)}
}

func (s *fakePaymentStore) Create(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.payments[p.ID] = &cp
	return nil
}

func (s *fakePaymentStore) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if p.IntentID == intentID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakePaymentStore) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, transactionID, failureReason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p, ok := s.payments[id]; ok {
		p.Status = status
		p.TransactionID = transactionID
		p.FailureReason = failureReason
	}
	return nil
}

func (s *fakePaymentStore) byStatus(status models.PaymentStatus) []*models.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Payment
	for _, p := range s.payments {
		if p.Status == status {
			cp := *p
			out = append(out, &cp)
		}
	}
	return out
}

type fakeCache struct {
	mu    sync.Mutex
	items map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{items: make(map[string]string)}
}

func (c *fakeCache) Get(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[key]; ok {
		return v, nil
	}
	return "", errors.New("key not found")
}

func (c *fakeCache) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = string(value.([]byte))
	return nil
}

type scriptedGateway struct {
	mu          sync.Mutex
	statuses    []string
	redirectURL string
	statusCalls int
	intentCalls int
}

func (g *scriptedGateway) CreateIntent(ctx context.Context, req *gateway.IntentRequest) (*gateway.Intent, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.intentCalls++
	return &gateway.Intent{ID: "pi_svc_1", Status: gateway.StatusAwaitingNextAction}, nil
}

func (g *scriptedGateway) CreateMethod(ctx context.Context, intentID, phoneDigits string) (*gateway.Method, error) {
	return &gateway.Method{ID: "pm_svc_1", IntentID: intentID, RedirectURL: g.redirectURL}, nil
}

func (g *scriptedGateway) GetStatus(ctx context.Context, intentID string) (*gateway.IntentStatus, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	status := gateway.StatusPending
	if len(g.statuses) > 0 {
		idx := g.statusCalls - 1
		if idx >= len(g.statuses) {
			idx = len(g.statuses) - 1
		}
		status = g.statuses[idx]
	}
	return &gateway.IntentStatus{IntentID: intentID, Status: status, TransactionID: "txn_svc_1"}, nil
}

func pendingBill() *models.Bill {
	return &models.Bill{
		ID:            "BILL-2024-001",
		AccountNumber: "WM-2024-001",
		CustomerName:  "Juan Dela Cruz",
		AmountDue:     450.00,
		Status:        models.BillStatusPending,
	}
}

func newTestService(bills *fakeBillStore, payments *fakePaymentStore, gw gateway.Client, cache IdempotencyCache) *CheckoutService {
	return NewCheckoutService(bills, payments, gw, cache, zap.NewNop(),
		WithPollInterval(time.Millisecond),
		WithMaxPollAttempts(5))
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestStartCheckoutSettlesOnSuccess(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	gw := &scriptedGateway{statuses: []string{gateway.StatusPending, gateway.StatusSucceeded}}
	svc := newTestService(bills, payments, gw, nil)

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}
	if resp.State != string(workflow.StateProcessing) {
		t.Fatalf("state = %q, want processing", resp.State)
	}

	eventually(t, func() bool {
		return len(bills.paidBills()) == 1
	}, "bill was never marked paid")

	succeeded := payments.byStatus(models.PaymentStatusSucceeded)
	if len(succeeded) != 1 {
		t.Fatalf("succeeded payments = %d, want 1", len(succeeded))
	}
	if succeeded[0].TransactionID != "txn_svc_1" {
		t.Errorf("transaction id = %q", succeeded[0].TransactionID)
	}

	status, err := svc.CheckoutStatus(context.Background(), resp.CheckoutID)
	if err != nil {
		t.Fatalf("CheckoutStatus() error: %v", err)
	}
	if status.State != string(workflow.StateSuccess) {
		t.Errorf("final state = %q, want success", status.State)
	}
}

func TestStartCheckoutUnknownBill(t *testing.T) {
	svc := newTestService(newFakeBillStore(), newFakePaymentStore(), &scriptedGateway{}, nil)

	_, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "nope",
		PhoneNumber: "09123456789",
	})
	if !errors.Is(err, ErrBillNotFound) {
		t.Errorf("err = %v, want ErrBillNotFound", err)
	}
}

func TestStartCheckoutPaidBill(t *testing.T) {
	bill := pendingBill()
	bill.Status = models.BillStatusPaid
	svc := newTestService(newFakeBillStore(bill), newFakePaymentStore(), &scriptedGateway{}, nil)

	_, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      bill.ID,
		PhoneNumber: "09123456789",
	})
	if !errors.Is(err, ErrBillAlreadyPaid) {
		t.Errorf("err = %v, want ErrBillAlreadyPaid", err)
	}
}

func TestStartCheckoutInvalidPhone(t *testing.T) {
	gw := &scriptedGateway{}
	svc := newTestService(newFakeBillStore(pendingBill()), newFakePaymentStore(), gw, nil)

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "1234",
	})
	if !errors.Is(err, workflow.ErrInvalidPhoneNumber) {
		t.Fatalf("err = %v, want ErrInvalidPhoneNumber", err)
	}
	if resp.State != string(workflow.StateFailed) {
		t.Errorf("state = %q, want failed", resp.State)
	}
	if gw.intentCalls != 0 {
		t.Errorf("intent calls = %d, want 0", gw.intentCalls)
	}

	// The bill is free for a fresh attempt immediately.
	if _, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	}); err != nil {
		t.Errorf("retry after validation failure: %v", err)
	}
}

func TestStartCheckoutRejectsConcurrentAttempt(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	gw := &scriptedGateway{statuses: []string{gateway.StatusPending}}
	svc := NewCheckoutService(bills, newFakePaymentStore(), gw, nil, zap.NewNop(),
		WithPollInterval(10*time.Millisecond),
		WithMaxPollAttempts(1000))

	first, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}
	defer svc.CancelCheckout(context.Background(), first.CheckoutID)

	_, err = svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if !errors.Is(err, ErrCheckoutInProgress) {
		t.Errorf("err = %v, want ErrCheckoutInProgress", err)
	}
}

func TestStartCheckoutIdempotency(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	gw := &scriptedGateway{statuses: []string{gateway.StatusSucceeded}}
	cache := newFakeCache()
	svc := newTestService(bills, newFakePaymentStore(), gw, cache)

	req := &models.CheckoutRequest{
		BillID:         "BILL-2024-001",
		PhoneNumber:    "09123456789",
		IdempotencyKey: "key-1",
	}

	first, err := svc.StartCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}

	second, err := svc.StartCheckout(context.Background(), req)
	if err != nil {
		t.Fatalf("retried StartCheckout() error: %v", err)
	}
	if second.CheckoutID != first.CheckoutID {
		t.Errorf("retry created a new checkout: %q != %q", second.CheckoutID, first.CheckoutID)
	}
	if gw.intentCalls != 1 {
		t.Errorf("intent calls = %d, want 1", gw.intentCalls)
	}
}

func TestCancelCheckout(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	gw := &scriptedGateway{statuses: []string{gateway.StatusPending}}
	svc := NewCheckoutService(bills, payments, gw, nil, zap.NewNop(),
		WithPollInterval(5*time.Millisecond),
		WithMaxPollAttempts(1000))

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}

	cancelled, err := svc.CancelCheckout(context.Background(), resp.CheckoutID)
	if err != nil {
		t.Fatalf("CancelCheckout() error: %v", err)
	}
	if cancelled.State != string(workflow.StateFailed) {
		t.Errorf("state = %q, want failed", cancelled.State)
	}

	eventually(t, func() bool {
		return len(payments.byStatus(models.PaymentStatusCancelled)) == 1
	}, "payment record was not marked cancelled")

	if len(bills.paidBills()) != 0 {
		t.Errorf("cancelled checkout marked the bill paid")
	}
}

func TestCancelRedirectCheckoutFreesBill(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	gw := &scriptedGateway{redirectURL: "https://gateway.test/authorize"}
	svc := newTestService(bills, payments, gw, nil)

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}
	if resp.RedirectURL == "" {
		t.Fatal("expected a redirect flow")
	}

	cancelled, err := svc.CancelCheckout(context.Background(), resp.CheckoutID)
	if err != nil {
		t.Fatalf("CancelCheckout() error: %v", err)
	}
	if cancelled.State != string(workflow.StateFailed) {
		t.Errorf("state = %q, want failed", cancelled.State)
	}
	if len(payments.byStatus(models.PaymentStatusCancelled)) != 1 {
		t.Errorf("payment record was not marked cancelled")
	}
	if len(bills.paidBills()) != 0 {
		t.Errorf("cancelled checkout marked the bill paid")
	}

	// The bill must be free for a fresh attempt, not locked behind the
	// abandoned redirect.
	if _, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	}); err != nil {
		t.Errorf("retry after cancelled redirect: %v", err)
	}
}

func TestRedirectFlowConfirmedByCallback(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	gw := &scriptedGateway{
		redirectURL: "https://gateway.test/authorize",
		statuses:    []string{gateway.StatusSucceeded},
	}
	svc := newTestService(bills, payments, gw, nil)

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}
	if resp.RedirectURL != "https://gateway.test/authorize" {
		t.Fatalf("redirect url = %q", resp.RedirectURL)
	}
	if gw.statusCalls != 0 {
		t.Fatalf("redirect flow polled %d times", gw.statusCalls)
	}

	confirmed, err := svc.ConfirmFromCallback(context.Background(), "pi_svc_1")
	if err != nil {
		t.Fatalf("ConfirmFromCallback() error: %v", err)
	}
	if confirmed.State != string(workflow.StateSuccess) {
		t.Errorf("state = %q, want success", confirmed.State)
	}
	if len(bills.paidBills()) != 1 {
		t.Errorf("bill not settled from callback")
	}
	if len(payments.byStatus(models.PaymentStatusSucceeded)) != 1 {
		t.Errorf("payment record not settled from callback")
	}
}

// callbackRacingGateway fires a hook while the payment method request is
// still in flight, before StartCheckout has returned.
type callbackRacingGateway struct {
	scriptedGateway
	onCreateMethod func(intentID string)
}

func (g *callbackRacingGateway) CreateMethod(ctx context.Context, intentID, phoneDigits string) (*gateway.Method, error) {
	if g.onCreateMethod != nil {
		g.onCreateMethod(intentID)
	}
	return g.scriptedGateway.CreateMethod(ctx, intentID, phoneDigits)
}

func TestCallbackDuringMethodCreationSettlesPayment(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	gw := &callbackRacingGateway{scriptedGateway: scriptedGateway{
		redirectURL: "https://gateway.test/authorize",
		statuses:    []string{gateway.StatusSucceeded},
	}}
	svc := newTestService(bills, payments, gw, nil)
	gw.onCreateMethod = func(intentID string) {
		if _, err := svc.ConfirmFromCallback(context.Background(), intentID); err != nil {
			t.Errorf("ConfirmFromCallback() error: %v", err)
		}
	}

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}
	if resp.State != string(workflow.StateSuccess) {
		t.Errorf("state = %q, want success", resp.State)
	}
	if len(bills.paidBills()) != 1 {
		t.Errorf("bill not settled by the early callback")
	}
	if len(payments.byStatus(models.PaymentStatusSucceeded)) != 1 {
		t.Errorf("payment record not settled by the early callback")
	}
}

func TestConfirmFromCallbackAfterRestart(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	payments.Create(context.Background(), &models.Payment{
		ID:       "pay-1",
		BillID:   "BILL-2024-001",
		Amount:   450.00,
		Currency: "PHP",
		Method:   "gcash",
		IntentID: "pi_old_1",
		Status:   models.PaymentStatusPending,
	})

	gw := &scriptedGateway{statuses: []string{gateway.StatusSucceeded}}
	svc := newTestService(bills, payments, gw, nil)

	confirmed, err := svc.ConfirmFromCallback(context.Background(), "pi_old_1")
	if err != nil {
		t.Fatalf("ConfirmFromCallback() error: %v", err)
	}
	if confirmed.State != string(workflow.StateSuccess) {
		t.Errorf("state = %q, want success", confirmed.State)
	}
	if len(bills.paidBills()) != 1 {
		t.Errorf("bill not settled for recovered intent")
	}
}

func TestCheckoutTimesOutWithoutSettlingBill(t *testing.T) {
	bills := newFakeBillStore(pendingBill())
	payments := newFakePaymentStore()
	gw := &scriptedGateway{statuses: []string{gateway.StatusPending}}
	svc := newTestService(bills, payments, gw, nil)

	resp, err := svc.StartCheckout(context.Background(), &models.CheckoutRequest{
		BillID:      "BILL-2024-001",
		PhoneNumber: "09123456789",
	})
	if err != nil {
		t.Fatalf("StartCheckout() error: %v", err)
	}

	eventually(t, func() bool {
		status, err := svc.CheckoutStatus(context.Background(), resp.CheckoutID)
		return err == nil && status.State == string(workflow.StateFailed)
	}, "checkout never timed out")

	status, _ := svc.CheckoutStatus(context.Background(), resp.CheckoutID)
	if status.FailureReason != "Payment timeout. Please check your GCash app." {
		t.Errorf("failure reason = %q", status.FailureReason)
	}
	if len(bills.paidBills()) != 0 {
		t.Errorf("timed-out checkout marked the bill paid")
	}
}
