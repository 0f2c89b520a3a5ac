package workflow

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lesteralterado/anopog-billing-gateway/internal/gateway"
	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
)

type State string

const (
	StateIdle       State = "idle"
	StateProcessing State = "processing"
	StateSuccess    State = "success"
	StateFailed     State = "failed"
)

const (
	DefaultPollInterval    = 3 * time.Second
	DefaultMaxPollAttempts = 30
)

// Result is the outcome of a checkout attempt as seen by the caller.
type Result struct {
	TransactionID string
	RedirectURL   string
	FailureReason string
	Err           error
}

// Workflow drives one checkout attempt for one bill from intent creation
// through redirect or polling to a terminal state. Instances are not
// reusable across bills; a new attempt means a new Workflow (or an
// explicit Reset) and a fresh payment intent.
type Workflow struct {
	gateway      gateway.Client
	logger       *zap.Logger
	pollInterval time.Duration
	maxAttempts  int
	onIntent     func(intentID string)

	mu         sync.Mutex
	state      State
	result     Result
	intentID   string
	cancelPoll context.CancelFunc
	pollDone   chan struct{}
	done       chan struct{}
}

type Option func(*Workflow)

// WithPollInterval overrides the delay between status polls.
func WithPollInterval(d time.Duration) Option {
	return func(w *Workflow) { w.pollInterval = d }
}

// WithMaxPollAttempts overrides the polling budget.
func WithMaxPollAttempts(n int) Option {
	return func(w *Workflow) { w.maxAttempts = n }
}

// WithIntentObserver registers fn to run as soon as the gateway assigns an
// intent id, before the payment method is created. This lets the caller
// index the attempt by intent id before any redirect or callback can
// reference it.
func WithIntentObserver(fn func(intentID string)) Option {
	return func(w *Workflow) { w.onIntent = fn }
}

func New(gw gateway.Client, logger *zap.Logger, opts ...Option) *Workflow {
	w := &Workflow{
		gateway:      gw,
		logger:       logger,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxPollAttempts,
		state:        StateIdle,
		done:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// StartPayment runs one checkout attempt: validate the payer's number,
// create a payment intent for the bill's amount due, bind the wallet
// number to it, then either expose the gateway's redirect URL or begin
// polling for a terminal status. Transport errors during intent or method
// creation are not retried; they end the attempt immediately.
func (w *Workflow) StartPayment(ctx context.Context, bill *models.Bill, phoneNumber string) (State, error) {
	w.mu.Lock()
	if w.state != StateIdle {
		state := w.state
		w.mu.Unlock()
		return state, ErrAlreadyStarted
	}

	if !ValidatePhoneNumber(phoneNumber) {
		w.setTerminalLocked(StateFailed, Result{
			FailureReason: "Please enter a valid Philippine mobile number",
			Err:           ErrInvalidPhoneNumber,
		})
		w.mu.Unlock()
		return StateFailed, ErrInvalidPhoneNumber
	}

	w.state = StateProcessing
	w.mu.Unlock()

	normalized, err := NormalizePhoneNumber(phoneNumber)
	if err != nil {
		return w.fail("Please enter a valid Philippine mobile number", err), err
	}

	intent, err := w.gateway.CreateIntent(ctx, &gateway.IntentRequest{
		Amount:        bill.AmountDue,
		BillID:        bill.ID,
		CustomerName:  bill.CustomerName,
		AccountNumber: bill.AccountNumber,
	})
	if err != nil {
		terr := &TransportError{Op: "create payment intent", Err: err}
		w.logger.Error("payment intent creation failed",
			zap.String("bill_id", bill.ID), zap.Error(err))
		return w.fail(err.Error(), terr), terr
	}

	w.mu.Lock()
	w.intentID = intent.ID
	w.mu.Unlock()

	if w.onIntent != nil {
		w.onIntent(intent.ID)
	}

	method, err := w.gateway.CreateMethod(ctx, intent.ID, normalized)
	if err != nil {
		terr := &TransportError{Op: "create payment method", Err: err}
		w.logger.Error("payment method creation failed",
			zap.String("intent_id", intent.ID), zap.Error(err))
		return w.fail(err.Error(), terr), terr
	}

	w.mu.Lock()
	if w.state != StateProcessing {
		// A cancel or callback already ended the attempt while the method
		// request was in flight; the terminal state stands.
		state := w.state
		w.mu.Unlock()
		return state, nil
	}

	if method.RedirectURL != "" {
		// The browser takes over from here; the terminal state is learned
		// out of band when the gateway redirects back to the app.
		w.result.RedirectURL = method.RedirectURL
		w.mu.Unlock()
		w.logger.Info("handing checkout to gateway redirect",
			zap.String("intent_id", intent.ID))
		return StateProcessing, nil
	}

	pollCtx, cancel := context.WithCancel(context.Background())
	w.cancelPoll = cancel
	w.pollDone = make(chan struct{})
	w.mu.Unlock()

	go w.poll(pollCtx, intent.ID)

	return StateProcessing, nil
}

// poll checks the intent status once per interval until a terminal status
// arrives or the attempt budget runs out. A transport failure on any tick
// ends the attempt; the budget exists for "still pending", not for request
// retries.
func (w *Workflow) poll(ctx context.Context, intentID string) {
	defer close(w.pollDone)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		status, err := w.gateway.GetStatus(ctx, intentID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("status poll failed",
				zap.String("intent_id", intentID),
				zap.Int("attempt", attempt),
				zap.Error(err))
			w.finish(StateFailed, Result{
				FailureReason: "Failed to verify payment status",
				Err:           &TransportError{Op: "poll payment status", Err: err},
			})
			return
		}

		switch status.Status {
		case gateway.StatusSucceeded:
			w.logger.Info("payment confirmed",
				zap.String("intent_id", intentID),
				zap.String("transaction_id", status.TransactionID),
				zap.Int("attempt", attempt))
			w.finish(StateSuccess, Result{TransactionID: status.TransactionID})
			return
		case gateway.StatusFailed, gateway.StatusCancelled:
			w.finish(StateFailed, Result{
				FailureReason: "Payment was cancelled or failed",
				Err:           &GatewayDeclinedError{Status: status.Status},
			})
			return
		}
	}

	w.finish(StateFailed, Result{
		FailureReason: "Payment timeout. Please check your GCash app.",
		Err:           &TimeoutError{Attempts: w.maxAttempts},
	})
}

// Cancel stops any in-flight polling and marks the attempt failed with a
// user-cancellation reason. It is a no-op outside of processing, and by
// the time it returns no late poll response can change the state.
func (w *Workflow) Cancel() {
	w.mu.Lock()
	if w.state != StateProcessing {
		w.mu.Unlock()
		return
	}
	cancel, pollDone := w.cancelPoll, w.pollDone
	w.setTerminalLocked(StateFailed, Result{
		FailureReason: "Payment cancelled",
		Err:           ErrUserCancelled,
	})
	w.mu.Unlock()

	if cancel != nil {
		cancel()
		<-pollDone
	}
}

// ResolveRedirect records the outcome of a redirect flow once the browser
// returns from the gateway. A non-terminal gateway status leaves the
// attempt in processing.
func (w *Workflow) ResolveRedirect(status *gateway.IntentStatus) State {
	switch status.Status {
	case gateway.StatusSucceeded:
		w.finish(StateSuccess, Result{TransactionID: status.TransactionID})
	case gateway.StatusFailed, gateway.StatusCancelled:
		w.finish(StateFailed, Result{
			FailureReason: "Payment was cancelled or failed",
			Err:           &GatewayDeclinedError{Status: status.Status},
		})
	}
	return w.State()
}

// Reset returns a terminal (or never-started) workflow to idle so the user
// can retry with a fresh payment intent.
func (w *Workflow) Reset() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateProcessing {
		return ErrStillProcessing
	}
	w.state = StateIdle
	w.result = Result{}
	w.intentID = ""
	w.cancelPoll = nil
	w.pollDone = nil
	w.done = make(chan struct{})
	return nil
}

func (w *Workflow) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Workflow) Result() Result {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.result
}

func (w *Workflow) IntentID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.intentID
}

// Done is closed when the attempt reaches a terminal state. Redirect
// flows never close it locally; their outcome arrives via the callback.
func (w *Workflow) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// finish records a terminal state unless the attempt was already ended,
// e.g. by a Cancel that won the race with a late poll response.
func (w *Workflow) finish(state State, res Result) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateProcessing {
		return
	}
	w.setTerminalLocked(state, res)
}

// fail transitions to failed from the request phase, where no poll is
// running but a concurrent Cancel may still have ended the attempt first.
func (w *Workflow) fail(reason string, err error) State {
	w.finish(StateFailed, Result{FailureReason: reason, Err: err})
	return StateFailed
}

func (w *Workflow) setTerminalLocked(state State, res Result) {
	redirectURL := w.result.RedirectURL
	w.state = state
	w.result = res
	if res.RedirectURL == "" {
		w.result.RedirectURL = redirectURL
	}
	close(w.done)
}
