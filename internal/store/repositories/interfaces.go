package repositories

import (
	"context"
	"errors"
	"time"

	"malricpharma/internal/domain/event"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrConflict is returned when a write violates a uniqueness rule.
	ErrConflict = errors.New("record conflicts with an existing one")
)

// OrderRepository persists orders with their items and status history.
type OrderRepository interface {
	// Create inserts the order, its items and its history rows.
	Create(ctx context.Context, o *order.Order) error
	// FindByID loads the order with items and history. Inside a transaction
	// the order row is locked for update.
	FindByID(ctx context.Context, id string) (*order.Order, error)
	FindByNumber(ctx context.Context, number string) (*order.Order, error)
	List(ctx context.Context, f order.ListFilter) ([]*order.Order, int, error)
	// Update writes status, payment method, payment status and notes.
	Update(ctx context.Context, o *order.Order) error
	AppendHistory(ctx context.Context, h *order.StatusHistory) error
	Stats(ctx context.Context, dayStart time.Time) (*order.Stats, error)
}

// ProductRepository is the catalog.
type ProductRepository interface {
	// FindByIDs returns the products that exist; missing ids are absent.
	FindByIDs(ctx context.Context, ids []int64) ([]*product.Product, error)
	FindByID(ctx context.Context, id int64) (*product.Product, error)
	// List pages by id and reports the catalog size.
	List(ctx context.Context, limit, offset int) ([]*product.Product, int, error)
	// Create assigns p.ID.
	Create(ctx context.Context, p *product.Product) error
	Update(ctx context.Context, p *product.Product) error
	Delete(ctx context.Context, id int64) error
}

// PaymentRepository is the payment ledger.
type PaymentRepository interface {
	// Create returns ErrConflict if the order already has an open payment.
	Create(ctx context.Context, p *payment.Payment) error
	Update(ctx context.Context, p *payment.Payment) error
	FindByID(ctx context.Context, id string) (*payment.Payment, error)
	// FindByProviderTransactionID locks the row when called inside a transaction.
	FindByProviderTransactionID(ctx context.Context, txID string) (*payment.Payment, error)
	FindByOrderID(ctx context.Context, orderID string) ([]*payment.Payment, error)
	FindStale(ctx context.Context, status payment.Status, olderThan time.Time, limit int) ([]*payment.Payment, error)
}

// EventRepository is the callback inbox.
type EventRepository interface {
	Save(ctx context.Context, e *event.Event) error
	FindByID(ctx context.Context, id string) (*event.Event, error)
	FindRetryable(ctx context.Context, maxAttempts, limit int) ([]*event.Event, error)
}

// UserRepository stores accounts.
type UserRepository interface {
	// Create returns ErrConflict for a taken email.
	Create(ctx context.Context, u *user.User) error
	FindByEmail(ctx context.Context, email string) (*user.User, error)
	FindByID(ctx context.Context, id int64) (*user.User, error)
}

// RefreshTokenRepository stores refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *user.RefreshToken) error
	FindByToken(ctx context.Context, token string) (*user.RefreshToken, error)
	Revoke(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	DeleteExpiredOrRevoked(ctx context.Context, now time.Time) (int64, error)
}

// UnitOfWork manages database transactions
type UnitOfWork interface {
	Begin(ctx context.Context) (Transaction, error)
}

// Transaction exposes repositories bound to one database transaction.
// Rollback after Commit is a no-op.
type Transaction interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	Orders() OrderRepository
	Products() ProductRepository
	Payments() PaymentRepository
	Events() EventRepository
}
