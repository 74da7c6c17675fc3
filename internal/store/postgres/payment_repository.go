package postgres

import (
	"context"
	"time"

	"malricpharma/internal/domain/payment"

	"github.com/jackc/pgx/v5"
)

// paymentRepository is the payment ledger on Postgres.
type paymentRepository struct {
	db   querier
	lock bool
}

const paymentColumns = `id, order_id, method, amount, status, provider_transaction_id, metadata,
	failure_reason, completed_at, created_at, updated_at`

func (r *paymentRepository) Create(ctx context.Context, p *payment.Payment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		p.ID, p.OrderID, p.Method, p.Amount, p.Status, p.ProviderTransactionID, p.Metadata,
		p.FailureReason, p.CompletedAt, p.CreatedAt, p.UpdatedAt)
	return mapErr(err)
}

func (r *paymentRepository) Update(ctx context.Context, p *payment.Payment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE payments
		SET status = $1, provider_transaction_id = $2, metadata = $3, failure_reason = $4,
		    completed_at = $5, updated_at = $6
		WHERE id = $7`,
		p.Status, p.ProviderTransactionID, p.Metadata, p.FailureReason, p.CompletedAt, p.UpdatedAt, p.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows)
	}
	return nil
}

func (r *paymentRepository) FindByID(ctx context.Context, id string) (*payment.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	p, err := scanPayment(r.db.QueryRow(ctx, q, id))
	return p, mapErr(err)
}

func (r *paymentRepository) FindByProviderTransactionID(ctx context.Context, txID string) (*payment.Payment, error) {
	q := `SELECT ` + paymentColumns + ` FROM payments WHERE provider_transaction_id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	p, err := scanPayment(r.db.QueryRow(ctx, q, txID))
	return p, mapErr(err)
}

func (r *paymentRepository) FindByOrderID(ctx context.Context, orderID string) ([]*payment.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE order_id = $1
		ORDER BY created_at DESC`, orderID)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func (r *paymentRepository) FindStale(ctx context.Context, status payment.Status, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments
		WHERE status = $1 AND updated_at < $2
		ORDER BY updated_at ASC
		LIMIT $3`, status, olderThan, limit)
	if err != nil {
		return nil, err
	}
	return collectPayments(rows)
}

func collectPayments(rows pgx.Rows) ([]*payment.Payment, error) {
	defer rows.Close()
	var out []*payment.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func scanPayment(row pgx.Row) (*payment.Payment, error) {
	var p payment.Payment
	err := row.Scan(&p.ID, &p.OrderID, &p.Method, &p.Amount, &p.Status, &p.ProviderTransactionID, &p.Metadata,
		&p.FailureReason, &p.CompletedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
