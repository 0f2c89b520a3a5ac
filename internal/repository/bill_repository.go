package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
)

type BillRepository struct {
	db *sql.DB
}

func NewBillRepository(db *sql.DB) *BillRepository {
	return &BillRepository{db: db}
}

func (r *BillRepository) Create(ctx context.Context, bill *models.Bill) error {
	query := `
		INSERT INTO bills (
			id, account_number, customer_name, billing_period, due_date,
			previous_reading, current_reading, consumption, amount_due,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.db.ExecContext(ctx, query,
		bill.ID,
		bill.AccountNumber,
		bill.CustomerName,
		bill.BillingPeriod,
		bill.DueDate,
		bill.PreviousReading,
		bill.CurrentReading,
		bill.Consumption,
		bill.AmountDue,
		bill.Status,
		bill.CreatedAt,
		bill.UpdatedAt,
	)

	return err
}

func (r *BillRepository) GetByID(ctx context.Context, id string) (*models.Bill, error) {
	query := `
		SELECT id, account_number, customer_name, billing_period, due_date,
			   previous_reading, current_reading, consumption, amount_due,
			   status, created_at, updated_at
		FROM bills WHERE id = $1
	`

	bill := &models.Bill{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&bill.ID,
		&bill.AccountNumber,
		&bill.CustomerName,
		&bill.BillingPeriod,
		&bill.DueDate,
		&bill.PreviousReading,
		&bill.CurrentReading,
		&bill.Consumption,
		&bill.AmountDue,
		&bill.Status,
		&bill.CreatedAt,
		&bill.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	return bill, err
}

func (r *BillRepository) List(ctx context.Context, status models.BillStatus) ([]*models.Bill, error) {
	query := `
		SELECT id, account_number, customer_name, billing_period, due_date,
			   previous_reading, current_reading, consumption, amount_due,
			   status, created_at, updated_at
		FROM bills
	`
	args := []interface{}{}
	if status != "" {
		query += ` WHERE status = $1`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var bills []*models.Bill
	for rows.Next() {
		bill := &models.Bill{}
		if err := rows.Scan(
			&bill.ID,
			&bill.AccountNumber,
			&bill.CustomerName,
			&bill.BillingPeriod,
			&bill.DueDate,
			&bill.PreviousReading,
			&bill.CurrentReading,
			&bill.Consumption,
			&bill.AmountDue,
			&bill.Status,
			&bill.CreatedAt,
			&bill.UpdatedAt,
		); err != nil {
			return nil, err
		}
		bills = append(bills, bill)
	}

	return bills, rows.Err()
}

// MarkPaid settles a bill after its payment is confirmed. Only pending or
// overdue bills transition; a bill already paid is left untouched.
func (r *BillRepository) MarkPaid(ctx context.Context, id string) error {
	query := `
		UPDATE bills
		SET status = $1, updated_at = $2
		WHERE id = $3 AND status != $1
	`

	_, err := r.db.ExecContext(ctx, query, models.BillStatusPaid, time.Now(), id)
	return err
}
