package repository

import (
	"context"
	"database/sql"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
)

type StatsRepository struct {
	db *sql.DB
}

func NewStatsRepository(db *sql.DB) *StatsRepository {
	return &StatsRepository{db: db}
}

// Dashboard aggregates the figures the admin dashboard's landing page shows.
func (r *StatsRepository) Dashboard(ctx context.Context) (*models.DashboardStats, error) {
	query := `
		SELECT
			(SELECT COUNT(*) FROM bills),
			(SELECT COUNT(*) FROM bills WHERE status != 'paid'),
			(SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = 'succeeded'),
			(SELECT COUNT(*) FROM payments WHERE status = 'succeeded')
	`

	stats := &models.DashboardStats{}
	err := r.db.QueryRowContext(ctx, query).Scan(
		&stats.TotalBills,
		&stats.UnpaidBills,
		&stats.TotalRevenue,
		&stats.TotalPayments,
	)
	if err != nil {
		return nil, err
	}

	return stats, nil
}
