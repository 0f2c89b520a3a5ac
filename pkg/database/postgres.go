package database

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/lesteralterado/anopog-billing-gateway/internal/models"
)

type PostgresDB struct {
	*sql.DB
}

// NewPostgresDB opens a PostgreSQL connection pool for the billing store.
func NewPostgresDB(connectionString string) (*PostgresDB, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{db}, nil
}

// EnsureSchema creates the bills and payments tables if they do not exist.
func (db *PostgresDB) EnsureSchema() error {
	for _, schema := range []string{models.BillSchema, models.PaymentSchema} {
		if _, err := db.Exec(schema); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

func (db *PostgresDB) Close() error {
	return db.DB.Close()
}
