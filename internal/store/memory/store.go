// Package memory is an in-process implementation of the repositories with
// the same transactional guarantees as the Postgres store: a transaction
// works on a private copy that replaces the shared state on commit.
package memory

import (
	"context"
	"fmt"
	"sync"

	"malricpharma/internal/domain/event"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
	"malricpharma/internal/store/repositories"
)

// Store holds all records. The zero value is not usable; call New.
type Store struct {
	mu       sync.Mutex
	data     *state
	failures map[string]error
	failMu   sync.Mutex
}

type state struct {
	orders   map[string]order.Order
	items    map[string][]order.Item
	history  map[string][]order.StatusHistory
	products map[int64]product.Product
	payments map[string]payment.Payment
	events   map[string]event.Event
	users    map[int64]user.User
	tokens   map[int64]user.RefreshToken

	nextUserID  int64
	nextTokenID int64
}

func New() *Store {
	return &Store{
		data: &state{
			orders:   map[string]order.Order{},
			items:    map[string][]order.Item{},
			history:  map[string][]order.StatusHistory{},
			products: map[int64]product.Product{},
			payments: map[string]payment.Payment{},
			events:   map[string]event.Event{},
			users:    map[int64]user.User{},
			tokens:   map[int64]user.RefreshToken{},
		},
		failures: map[string]error{},
	}
}

// FailNext makes the next call of op return err. Ops are named
// "<repo>.<method>", for example "orders.update" or "payments.create".
func (s *Store) FailNext(op string, err error) {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	s.failures[op] = err
}

func (s *Store) injected(op string) error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	if err, ok := s.failures[op]; ok {
		delete(s.failures, op)
		return err
	}
	return nil
}

// AddProduct seeds the catalog.
func (s *Store) AddProduct(p product.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data.products[p.ID] = p
}

// RemoveProduct deletes a catalog entry.
func (s *Store) RemoveProduct(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data.products, id)
}

// Counts reports row counts per table.
func (s *Store) Counts() map[string]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, history := 0, 0
	for _, v := range s.data.items {
		items += len(v)
	}
	for _, v := range s.data.history {
		history += len(v)
	}
	return map[string]int{
		"orders":   len(s.data.orders),
		"products": len(s.data.products),
		"items":    items,
		"history":  history,
		"payments": len(s.data.payments),
		"events":   len(s.data.events),
		"users":    len(s.data.users),
		"tokens":   len(s.data.tokens),
	}
}

func (s *Store) Orders() repositories.OrderRepository     { return &orderRepo{s: s} }
func (s *Store) Products() repositories.ProductRepository { return &productRepo{s: s} }
func (s *Store) Payments() repositories.PaymentRepository { return &paymentRepo{s: s} }
func (s *Store) Events() repositories.EventRepository     { return &eventRepo{s: s} }
func (s *Store) Users() repositories.UserRepository       { return &userRepo{s: s} }

func (s *Store) RefreshTokens() repositories.RefreshTokenRepository {
	return &tokenRepo{s: s}
}

func (s *Store) UnitOfWork() repositories.UnitOfWork { return s }

// Begin takes the store lock until Commit or Rollback.
func (s *Store) Begin(ctx context.Context) (repositories.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := s.injected("uow.begin"); err != nil {
		return nil, err
	}
	s.mu.Lock()
	return &tx{s: s, st: s.data.clone()}, nil
}

type tx struct {
	s    *Store
	st   *state
	done bool
}

func (t *tx) Commit(context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already closed")
	}
	t.done = true
	defer t.s.mu.Unlock()
	if err := t.s.injected("uow.commit"); err != nil {
		return err
	}
	t.s.data = t.st
	return nil
}

func (t *tx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.mu.Unlock()
	return nil
}

func (t *tx) Orders() repositories.OrderRepository     { return &orderRepo{s: t.s, tx: t} }
func (t *tx) Products() repositories.ProductRepository { return &productRepo{s: t.s, tx: t} }
func (t *tx) Payments() repositories.PaymentRepository { return &paymentRepo{s: t.s, tx: t} }
func (t *tx) Events() repositories.EventRepository     { return &eventRepo{s: t.s, tx: t} }

// with runs fn against the transaction copy or, outside a transaction,
// against the shared state under the store lock.
func (s *Store) with(t *tx, op string, fn func(st *state) error) error {
	if err := s.injected(op); err != nil {
		return err
	}
	if t != nil {
		if t.done {
			return fmt.Errorf("transaction already closed")
		}
		return fn(t.st)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.data)
}

func (st *state) clone() *state {
	c := &state{
		orders:      make(map[string]order.Order, len(st.orders)),
		items:       make(map[string][]order.Item, len(st.items)),
		history:     make(map[string][]order.StatusHistory, len(st.history)),
		products:    make(map[int64]product.Product, len(st.products)),
		payments:    make(map[string]payment.Payment, len(st.payments)),
		events:      make(map[string]event.Event, len(st.events)),
		users:       make(map[int64]user.User, len(st.users)),
		tokens:      make(map[int64]user.RefreshToken, len(st.tokens)),
		nextUserID:  st.nextUserID,
		nextTokenID: st.nextTokenID,
	}
	for k, v := range st.orders {
		c.orders[k] = v
	}
	for k, v := range st.items {
		c.items[k] = append([]order.Item(nil), v...)
	}
	for k, v := range st.history {
		c.history[k] = append([]order.StatusHistory(nil), v...)
	}
	for k, v := range st.products {
		c.products[k] = v
	}
	for k, v := range st.payments {
		c.payments[k] = copyPayment(v)
	}
	for k, v := range st.events {
		c.events[k] = v
	}
	for k, v := range st.users {
		c.users[k] = v
	}
	for k, v := range st.tokens {
		c.tokens[k] = v
	}
	return c
}
