package postgres

import (
	"malricpharma/internal/store/repositories"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repo hands out pool-backed repositories.
type Repo struct {
	db *pgxpool.Pool
}

func NewRepo(db *pgxpool.Pool) *Repo { return &Repo{db: db} }

// DB exposes the underlying pool.
func (r *Repo) DB() *pgxpool.Pool { return r.db }

func (r *Repo) Orders() repositories.OrderRepository     { return &orderRepository{db: r.db} }
func (r *Repo) Products() repositories.ProductRepository { return &productRepository{db: r.db} }
func (r *Repo) Payments() repositories.PaymentRepository { return &paymentRepository{db: r.db} }
func (r *Repo) Events() repositories.EventRepository     { return &eventRepository{db: r.db} }
func (r *Repo) Users() repositories.UserRepository       { return &userRepository{db: r.db} }

func (r *Repo) RefreshTokens() repositories.RefreshTokenRepository {
	return &refreshTokenRepository{db: r.db}
}

func (r *Repo) UnitOfWork() repositories.UnitOfWork { return NewUnitOfWork(r.db) }
