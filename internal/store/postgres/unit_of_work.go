package postgres

import (
	"context"
	"errors"

	"malricpharma/internal/store/repositories"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// unitOfWork hands out repositories bound to one pgx transaction.
type unitOfWork struct {
	db *pgxpool.Pool
}

// NewUnitOfWork wraps the pool.
func NewUnitOfWork(db *pgxpool.Pool) repositories.UnitOfWork {
	return &unitOfWork{db: db}
}

// Begin starts a READ COMMITTED transaction.
func (uow *unitOfWork) Begin(ctx context.Context) (repositories.Transaction, error) {
	tx, err := uow.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, err
	}
	return &transaction{tx: tx}, nil
}

// transaction locks order and payment rows it reads (SELECT ... FOR UPDATE).
type transaction struct {
	tx pgx.Tx
}

func (t *transaction) Commit(ctx context.Context) error {
	return t.tx.Commit(ctx)
}

func (t *transaction) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *transaction) Orders() repositories.OrderRepository {
	return &orderRepository{db: t.tx, lock: true}
}

func (t *transaction) Products() repositories.ProductRepository {
	return &productRepository{db: t.tx}
}

func (t *transaction) Payments() repositories.PaymentRepository {
	return &paymentRepository{db: t.tx, lock: true}
}

func (t *transaction) Events() repositories.EventRepository {
	return &eventRepository{db: t.tx}
}
