package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// IntentStatus values reported by the gateway. The gateway owns these;
// this client only reads them.
const (
	StatusPending            = "pending"
	StatusProcessing         = "processing"
	StatusAwaitingNextAction = "awaiting_next_action"
	StatusSucceeded          = "succeeded"
	StatusFailed             = "failed"
	StatusCancelled          = "cancelled"
)

// Client is the subset of gateway operations the checkout flow needs.
type Client interface {
	CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error)
	CreateMethod(ctx context.Context, intentID, phoneDigits string) (*Method, error)
	GetStatus(ctx context.Context, intentID string) (*IntentStatus, error)
}

type IntentRequest struct {
	Amount        float64
	BillID        string
	CustomerName  string
	AccountNumber string
}

type Intent struct {
	ID     string
	Status string
}

type Method struct {
	ID          string
	IntentID    string
	RedirectURL string
}

type IntentStatus struct {
	IntentID      string
	Status        string
	TransactionID string
}

// HTTPClient talks to the e-wallet gateway's JSON API. Responses arrive in
// the gateway's envelope shape (data.id / data.attributes), which is decoded
// defensively since optional branches like next_action come and go.
type HTTPClient struct {
	baseURL   string
	secretKey string
	client    *http.Client
	logger    *zap.Logger
}

func NewHTTPClient(baseURL, secretKey string, logger *zap.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger,
	}
}

func (c *HTTPClient) CreateIntent(ctx context.Context, req *IntentRequest) (*Intent, error) {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{
				"amount":                 toCentavos(req.Amount),
				"currency":               "PHP",
				"payment_method_allowed": []string{"gcash"},
				"description":            fmt.Sprintf("Water bill %s", req.BillID),
				"statement_descriptor":   req.AccountNumber,
				"metadata": map[string]string{
					"bill_id":        req.BillID,
					"customer_name":  req.CustomerName,
					"account_number": req.AccountNumber,
				},
			},
		},
	}

	var resp envelope
	if err := c.post(ctx, "/payment_intents", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Data.ID == "" {
		return nil, fmt.Errorf("gateway returned no intent id")
	}

	return &Intent{ID: resp.Data.ID, Status: resp.Data.Attributes.Status}, nil
}

func (c *HTTPClient) CreateMethod(ctx context.Context, intentID, phoneDigits string) (*Method, error) {
	payload := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{
				"type":              "gcash",
				"payment_intent_id": intentID,
				"billing": map[string]string{
					"phone": phoneDigits,
				},
			},
		},
	}

	var resp envelope
	if err := c.post(ctx, "/payment_methods", payload, &resp); err != nil {
		return nil, err
	}

	return &Method{
		ID:          resp.Data.ID,
		IntentID:    intentID,
		RedirectURL: resp.Data.Attributes.NextAction.Redirect.URL,
	}, nil
}

func (c *HTTPClient) GetStatus(ctx context.Context, intentID string) (*IntentStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/payment_intents/"+intentID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create status request: %w", err)
	}
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(body))
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}

	transactionID := env.Data.ID
	if len(env.Data.Attributes.Payments) > 0 && env.Data.Attributes.Payments[0].ID != "" {
		transactionID = env.Data.Attributes.Payments[0].ID
	}

	return &IntentStatus{
		IntentID:      intentID,
		Status:        env.Data.Attributes.Status,
		TransactionID: transactionID,
	}, nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}, out *envelope) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.SetBasicAuth(c.secretKey, "")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		c.logger.Warn("gateway rejected request",
			zap.String("path", path),
			zap.Int("status", resp.StatusCode))
		return fmt.Errorf("gateway status %d: %s", resp.StatusCode, string(raw))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode gateway response: %w", err)
	}

	return nil
}

// envelope mirrors the gateway's response wrapper. Only the fields the
// checkout flow reads are declared; unknown fields are ignored.
type envelope struct {
	Data struct {
		ID         string `json:"id"`
		Attributes struct {
			Status     string `json:"status"`
			NextAction struct {
				Redirect struct {
					URL string `json:"url"`
				} `json:"redirect"`
			} `json:"next_action"`
			Payments []struct {
				ID string `json:"id"`
			} `json:"payments"`
		} `json:"attributes"`
	} `json:"data"`
}

// toCentavos converts a PHP amount to the integer minor units the gateway
// expects on the wire.
func toCentavos(amount float64) int64 {
	return int64(math.Round(amount * 100))
}
