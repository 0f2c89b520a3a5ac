package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
)

type PaymentRepository struct {
	db *sql.DB
}

func NewPaymentRepository(db *sql.DB) *PaymentRepository {
	return &PaymentRepository{db: db}
}

func (r *PaymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (
			id, bill_id, amount, currency, payment_method, intent_id,
			transaction_id, status, failure_reason, payer_phone_last4,
			created_at, completed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		payment.ID,
		payment.BillID,
		payment.Amount,
		payment.Currency,
		payment.Method,
		payment.IntentID,
		payment.TransactionID,
		payment.Status,
		payment.FailureReason,
		payment.PayerPhoneLast4,
		payment.CreatedAt,
		payment.CompletedAt,
	)

	return err
}

func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	query := `
		SELECT id, bill_id, amount, currency, payment_method, intent_id,
			   transaction_id, status, failure_reason, payer_phone_last4,
			   created_at, completed_at
		FROM payments WHERE id = $1
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *PaymentRepository) GetByIntentID(ctx context.Context, intentID string) (*models.Payment, error) {
	query := `
		SELECT id, bill_id, amount, currency, payment_method, intent_id,
			   transaction_id, status, failure_reason, payer_phone_last4,
			   created_at, completed_at
		FROM payments WHERE intent_id = $1
	`

	return r.scanOne(r.db.QueryRowContext(ctx, query, intentID))
}

func (r *PaymentRepository) List(ctx context.Context) ([]*models.Payment, error) {
	query := `
		SELECT id, bill_id, amount, currency, payment_method, intent_id,
			   transaction_id, status, failure_reason, payer_phone_last4,
			   created_at, completed_at
		FROM payments ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []*models.Payment
	for rows.Next() {
		p, err := r.scanRow(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}

	return payments, rows.Err()
}

func (r *PaymentRepository) UpdateStatus(ctx context.Context, id string, status models.PaymentStatus, transactionID, failureReason string) error {
	query := `
		UPDATE payments
		SET status = $1, transaction_id = $2, failure_reason = $3, completed_at = $4
		WHERE id = $5
	`

	var completedAt interface{}
	if status == models.PaymentStatusSucceeded || status == models.PaymentStatusFailed || status == models.PaymentStatusCancelled {
		completedAt = time.Now()
	}

	_, err := r.db.ExecContext(ctx, query, status, transactionID, failureReason, completedAt, id)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *PaymentRepository) scanOne(row *sql.Row) (*models.Payment, error) {
	p, err := r.scanRow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return p, err
}

func (r *PaymentRepository) scanRow(row rowScanner) (*models.Payment, error) {
	p := &models.Payment{}
	var intentID, transactionID, failureReason, phoneLast4 sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(
		&p.ID,
		&p.BillID,
		&p.Amount,
		&p.Currency,
		&p.Method,
		&intentID,
		&transactionID,
		&p.Status,
		&failureReason,
		&phoneLast4,
		&p.CreatedAt,
		&completedAt,
	)
	if err != nil {
		return nil, err
	}

	p.IntentID = intentID.String
	p.TransactionID = transactionID.String
	p.FailureReason = failureReason.String
	p.PayerPhoneLast4 = phoneLast4.String
	if completedAt.Valid {
		p.CompletedAt = &completedAt.Time
	}

	return p, nil
}
