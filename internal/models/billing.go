package models

import "time"

type BillStatus string

const (
	BillStatusPending BillStatus = "pending"
	BillStatusPaid    BillStatus = "paid"
	BillStatusOverdue BillStatus = "overdue"
)

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

type Bill struct {
	ID              string     `json:"id" db:"id"`
	AccountNumber   string     `json:"account_number" db:"account_number"`
	CustomerName    string     `json:"customer_name" db:"customer_name"`
	BillingPeriod   string     `json:"billing_period" db:"billing_period"`
	DueDate         time.Time  `json:"due_date" db:"due_date"`
	PreviousReading float64    `json:"previous_reading" db:"previous_reading"`
	CurrentReading  float64    `json:"current_reading" db:"current_reading"`
	Consumption     float64    `json:"consumption" db:"consumption"`
	AmountDue       float64    `json:"amount_due" db:"amount_due"`
	Status          BillStatus `json:"status" db:"status"`
	CreatedAt       time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at" db:"updated_at"`
}

type Payment struct {
	ID              string        `json:"id" db:"id"`
	BillID          string        `json:"bill_id" db:"bill_id"`
	Amount          float64       `json:"amount" db:"amount"`
	Currency        string        `json:"currency" db:"currency"`
	Method          string        `json:"payment_method" db:"payment_method"`
	IntentID        string        `json:"intent_id,omitempty" db:"intent_id"`
	TransactionID   string        `json:"transaction_id,omitempty" db:"transaction_id"`
	Status          PaymentStatus `json:"status" db:"status"`
	FailureReason   string        `json:"failure_reason,omitempty" db:"failure_reason"`
	PayerPhoneLast4 string        `json:"payer_phone_last4,omitempty" db:"payer_phone_last4"`
	CreatedAt       time.Time     `json:"created_at" db:"created_at"`
	CompletedAt     *time.Time    `json:"completed_at,omitempty" db:"completed_at"`
}

type CreateBillRequest struct {
	AccountNumber   string  `json:"account_number" binding:"required"`
	CustomerName    string  `json:"customer_name" binding:"required"`
	BillingPeriod   string  `json:"billing_period" binding:"required"`
	DueDate         string  `json:"due_date" binding:"required"`
	PreviousReading float64 `json:"previous_reading" binding:"gte=0"`
	CurrentReading  float64 `json:"current_reading" binding:"gte=0"`
	AmountDue       float64 `json:"amount_due" binding:"required,gt=0"`
}

type CheckoutRequest struct {
	BillID         string `json:"bill_id" binding:"required"`
	PhoneNumber    string `json:"phone_number" binding:"required"`
	IdempotencyKey string `json:"idempotency_key"`
}

type CheckoutResponse struct {
	CheckoutID    string `json:"checkout_id"`
	BillID        string `json:"bill_id"`
	State         string `json:"state"`
	RedirectURL   string `json:"redirect_url,omitempty"`
	TransactionID string `json:"transaction_id,omitempty"`
	FailureReason string `json:"failure_reason,omitempty"`
}

type DashboardStats struct {
	TotalBills    int     `json:"total_bills"`
	UnpaidBills   int     `json:"unpaid_bills"`
	TotalRevenue  float64 `json:"total_revenue"`
	TotalPayments int     `json:"total_payments"`
}

// Database schema
const BillSchema = `
CREATE TABLE IF NOT EXISTS bills (
    id VARCHAR(36) PRIMARY KEY,
    account_number VARCHAR(32) NOT NULL,
    customer_name VARCHAR(255) NOT NULL,
    billing_period VARCHAR(32) NOT NULL,
    due_date TIMESTAMP NOT NULL,
    previous_reading DECIMAL(12, 2) NOT NULL DEFAULT 0,
    current_reading DECIMAL(12, 2) NOT NULL DEFAULT 0,
    consumption DECIMAL(12, 2) NOT NULL DEFAULT 0,
    amount_due DECIMAL(19, 4) NOT NULL,
    status VARCHAR(20) NOT NULL DEFAULT 'pending',
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMP NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_bills_status ON bills (status);
CREATE INDEX IF NOT EXISTS idx_bills_account ON bills (account_number);
`

const PaymentSchema = `
CREATE TABLE IF NOT EXISTS payments (
    id VARCHAR(36) PRIMARY KEY,
    bill_id VARCHAR(36) NOT NULL REFERENCES bills(id),
    amount DECIMAL(19, 4) NOT NULL,
    currency VARCHAR(3) NOT NULL DEFAULT 'PHP',
    payment_method VARCHAR(20) NOT NULL,
    intent_id VARCHAR(255),
    transaction_id VARCHAR(255),
    status VARCHAR(20) NOT NULL,
    failure_reason TEXT,
    payer_phone_last4 VARCHAR(4),
    created_at TIMESTAMP NOT NULL DEFAULT NOW(),
    completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_payments_bill_id ON payments (bill_id);
CREATE INDEX IF NOT EXISTS idx_payments_status ON payments (status);
`
