package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"malricpharma/internal/domain/event"
	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
	"malricpharma/internal/store/repositories"

	"github.com/shopspring/decimal"
)

type orderRepo struct {
	s  *Store
	tx *tx
}

func (r *orderRepo) Create(_ context.Context, o *order.Order) error {
	return r.s.with(r.tx, "orders.create", func(st *state) error {
		if _, ok := st.orders[o.ID]; ok {
			return fmt.Errorf("order %s: %w", o.ID, repositories.ErrConflict)
		}
		for _, existing := range st.orders {
			if existing.OrderNumber == o.OrderNumber {
				return fmt.Errorf("order number %s: %w", o.OrderNumber, repositories.ErrConflict)
			}
		}
		row := *o
		row.Items, row.History, row.Payments = nil, nil, nil
		st.orders[o.ID] = row
		st.items[o.ID] = append([]order.Item(nil), o.Items...)
		st.history[o.ID] = append([]order.StatusHistory(nil), o.History...)
		return nil
	})
}

func (r *orderRepo) FindByID(_ context.Context, id string) (*order.Order, error) {
	var out *order.Order
	err := r.s.with(r.tx, "orders.find", func(st *state) error {
		row, ok := st.orders[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = st.loadOrder(row)
		return nil
	})
	return out, err
}

func (r *orderRepo) FindByNumber(_ context.Context, number string) (*order.Order, error) {
	var out *order.Order
	err := r.s.with(r.tx, "orders.find", func(st *state) error {
		for _, row := range st.orders {
			if row.OrderNumber == number {
				out = st.loadOrder(row)
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (r *orderRepo) List(_ context.Context, f order.ListFilter) ([]*order.Order, int, error) {
	var out []*order.Order
	total := 0
	err := r.s.with(r.tx, "orders.list", func(st *state) error {
		var matched []order.Order
		for _, row := range st.orders {
			if f.UserID != nil && row.UserID != *f.UserID {
				continue
			}
			if f.Status != nil && row.Status != *f.Status {
				continue
			}
			if f.PaymentStatus != nil && row.PaymentStatus != *f.PaymentStatus {
				continue
			}
			matched = append(matched, row)
		}
		sort.Slice(matched, func(i, j int) bool {
			if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
				return matched[i].OrderNumber > matched[j].OrderNumber
			}
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
		total = len(matched)
		start := min(max(f.Offset, 0), len(matched))
		end := len(matched)
		if f.Limit > 0 {
			end = min(start+f.Limit, len(matched))
		}
		for _, row := range matched[start:end] {
			o := row
			o.Items = append([]order.Item(nil), st.items[row.ID]...)
			out = append(out, &o)
		}
		return nil
	})
	return out, total, err
}

func (r *orderRepo) Update(_ context.Context, o *order.Order) error {
	return r.s.with(r.tx, "orders.update", func(st *state) error {
		row, ok := st.orders[o.ID]
		if !ok {
			return repositories.ErrNotFound
		}
		row.Status = o.Status
		row.PaymentMethod = o.PaymentMethod
		row.PaymentStatus = o.PaymentStatus
		row.Notes = o.Notes
		row.UpdatedAt = o.UpdatedAt
		st.orders[o.ID] = row
		return nil
	})
}

func (r *orderRepo) AppendHistory(_ context.Context, h *order.StatusHistory) error {
	return r.s.with(r.tx, "orders.history", func(st *state) error {
		if _, ok := st.orders[h.OrderID]; !ok {
			return repositories.ErrNotFound
		}
		st.history[h.OrderID] = append(st.history[h.OrderID], *h)
		return nil
	})
}

func (r *orderRepo) Stats(_ context.Context, dayStart time.Time) (*order.Stats, error) {
	s := &order.Stats{TotalRevenue: decimal.Zero}
	err := r.s.with(r.tx, "orders.stats", func(st *state) error {
		for _, o := range st.orders {
			s.TotalOrders++
			switch o.Status {
			case order.StatusPending:
				s.PendingOrders++
			case order.StatusDelivered:
				s.CompletedOrders++
			case order.StatusCancelled:
				s.CancelledOrders++
			}
			if o.Status != order.StatusCancelled {
				s.TotalRevenue = s.TotalRevenue.Add(o.TotalAmount)
			}
			if !o.CreatedAt.Before(dayStart) {
				s.TodayOrders++
			}
		}
		return nil
	})
	return s, err
}

func (st *state) loadOrder(row order.Order) *order.Order {
	o := row
	o.Items = append([]order.Item(nil), st.items[row.ID]...)
	o.History = append([]order.StatusHistory(nil), st.history[row.ID]...)
	return &o
}

type productRepo struct {
	s  *Store
	tx *tx
}

func (r *productRepo) FindByIDs(_ context.Context, ids []int64) ([]*product.Product, error) {
	var out []*product.Product
	err := r.s.with(r.tx, "products.find", func(st *state) error {
		seen := map[int64]bool{}
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			if p, ok := st.products[id]; ok {
				cp := p
				out = append(out, &cp)
			}
		}
		return nil
	})
	return out, err
}

func (r *productRepo) FindByID(_ context.Context, id int64) (*product.Product, error) {
	var out *product.Product
	err := r.s.with(r.tx, "products.find", func(st *state) error {
		p, ok := st.products[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *productRepo) List(_ context.Context, limit, offset int) ([]*product.Product, int, error) {
	var (
		out   []*product.Product
		total int
	)
	err := r.s.with(r.tx, "products.list", func(st *state) error {
		ids := make([]int64, 0, len(st.products))
		for id := range st.products {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		total = len(ids)
		start := min(max(offset, 0), total)
		end := total
		if limit > 0 {
			end = min(start+limit, total)
		}
		for _, id := range ids[start:end] {
			p := st.products[id]
			out = append(out, &p)
		}
		return nil
	})
	return out, total, err
}

func (r *productRepo) Create(_ context.Context, p *product.Product) error {
	return r.s.with(r.tx, "products.create", func(st *state) error {
		var next int64
		for id := range st.products {
			next = max(next, id)
		}
		p.ID = next + 1
		st.products[p.ID] = *p
		return nil
	})
}

func (r *productRepo) Update(_ context.Context, p *product.Product) error {
	return r.s.with(r.tx, "products.update", func(st *state) error {
		if _, ok := st.products[p.ID]; !ok {
			return repositories.ErrNotFound
		}
		st.products[p.ID] = *p
		return nil
	})
}

func (r *productRepo) Delete(_ context.Context, id int64) error {
	return r.s.with(r.tx, "products.delete", func(st *state) error {
		if _, ok := st.products[id]; !ok {
			return repositories.ErrNotFound
		}
		delete(st.products, id)
		return nil
	})
}

type paymentRepo struct {
	s  *Store
	tx *tx
}

func (r *paymentRepo) Create(_ context.Context, p *payment.Payment) error {
	return r.s.with(r.tx, "payments.create", func(st *state) error {
		if _, ok := st.orders[p.OrderID]; !ok {
			return fmt.Errorf("order %s: %w", p.OrderID, repositories.ErrNotFound)
		}
		for _, existing := range st.payments {
			if existing.ID == p.ID {
				return fmt.Errorf("payment %s: %w", p.ID, repositories.ErrConflict)
			}
			if p.Status.IsOpen() && existing.OrderID == p.OrderID && existing.Status.IsOpen() {
				return fmt.Errorf("open payment for order %s: %w", p.OrderID, repositories.ErrConflict)
			}
			if sameTxID(existing.ProviderTransactionID, p.ProviderTransactionID) {
				return fmt.Errorf("provider transaction id: %w", repositories.ErrConflict)
			}
		}
		st.payments[p.ID] = copyPayment(*p)
		return nil
	})
}

func (r *paymentRepo) Update(_ context.Context, p *payment.Payment) error {
	return r.s.with(r.tx, "payments.update", func(st *state) error {
		if _, ok := st.payments[p.ID]; !ok {
			return repositories.ErrNotFound
		}
		for id, existing := range st.payments {
			if id == p.ID {
				continue
			}
			if sameTxID(existing.ProviderTransactionID, p.ProviderTransactionID) {
				return fmt.Errorf("provider transaction id: %w", repositories.ErrConflict)
			}
			if p.Status.IsOpen() && existing.OrderID == p.OrderID && existing.Status.IsOpen() {
				return fmt.Errorf("open payment for order %s: %w", p.OrderID, repositories.ErrConflict)
			}
		}
		st.payments[p.ID] = copyPayment(*p)
		return nil
	})
}

func (r *paymentRepo) FindByID(_ context.Context, id string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.with(r.tx, "payments.find", func(st *state) error {
		p, ok := st.payments[id]
		if !ok {
			return repositories.ErrNotFound
		}
		cp := copyPayment(p)
		out = &cp
		return nil
	})
	return out, err
}

func (r *paymentRepo) FindByProviderTransactionID(_ context.Context, txID string) (*payment.Payment, error) {
	var out *payment.Payment
	err := r.s.with(r.tx, "payments.find", func(st *state) error {
		for _, p := range st.payments {
			if p.ProviderTransactionID != nil && *p.ProviderTransactionID == txID {
				cp := copyPayment(p)
				out = &cp
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (r *paymentRepo) FindByOrderID(_ context.Context, orderID string) ([]*payment.Payment, error) {
	var out []*payment.Payment
	err := r.s.with(r.tx, "payments.list", func(st *state) error {
		for _, p := range st.payments {
			if p.OrderID == orderID {
				cp := copyPayment(p)
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
		return nil
	})
	return out, err
}

func (r *paymentRepo) FindStale(_ context.Context, status payment.Status, olderThan time.Time, limit int) ([]*payment.Payment, error) {
	var out []*payment.Payment
	err := r.s.with(r.tx, "payments.stale", func(st *state) error {
		for _, p := range st.payments {
			if p.Status == status && p.UpdatedAt.Before(olderThan) {
				cp := copyPayment(p)
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

func sameTxID(a, b *string) bool {
	return a != nil && b != nil && *a == *b
}

func copyPayment(p payment.Payment) payment.Payment {
	if p.Metadata != nil {
		meta := make(payment.Metadata, len(p.Metadata))
		for k, v := range p.Metadata {
			meta[k] = v
		}
		p.Metadata = meta
	}
	if p.ProviderTransactionID != nil {
		id := *p.ProviderTransactionID
		p.ProviderTransactionID = &id
	}
	if p.CompletedAt != nil {
		at := *p.CompletedAt
		p.CompletedAt = &at
	}
	return p
}

type eventRepo struct {
	s  *Store
	tx *tx
}

func (r *eventRepo) Save(_ context.Context, e *event.Event) error {
	return r.s.with(r.tx, "events.save", func(st *state) error {
		cp := *e
		cp.Payload = append([]byte(nil), e.Payload...)
		st.events[e.ID] = cp
		return nil
	})
}

func (r *eventRepo) FindByID(_ context.Context, id string) (*event.Event, error) {
	var out *event.Event
	err := r.s.with(r.tx, "events.find", func(st *state) error {
		e, ok := st.events[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = &e
		return nil
	})
	return out, err
}

func (r *eventRepo) FindRetryable(_ context.Context, maxAttempts, limit int) ([]*event.Event, error) {
	var out []*event.Event
	err := r.s.with(r.tx, "events.retryable", func(st *state) error {
		for _, e := range st.events {
			if e.Retryable(maxAttempts) {
				cp := e
				out = append(out, &cp)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
		if limit > 0 && len(out) > limit {
			out = out[:limit]
		}
		return nil
	})
	return out, err
}

type userRepo struct {
	s *Store
}

func (r *userRepo) Create(_ context.Context, u *user.User) error {
	return r.s.with(nil, "users.create", func(st *state) error {
		for _, existing := range st.users {
			if existing.Email == u.Email {
				return fmt.Errorf("email %s: %w", u.Email, repositories.ErrConflict)
			}
		}
		st.nextUserID++
		u.ID = st.nextUserID
		st.users[u.ID] = *u
		return nil
	})
}

func (r *userRepo) FindByEmail(_ context.Context, email string) (*user.User, error) {
	var out *user.User
	err := r.s.with(nil, "users.find", func(st *state) error {
		for _, u := range st.users {
			if u.Email == email {
				cp := u
				out = &cp
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (r *userRepo) FindByID(_ context.Context, id int64) (*user.User, error) {
	var out *user.User
	err := r.s.with(nil, "users.find", func(st *state) error {
		u, ok := st.users[id]
		if !ok {
			return repositories.ErrNotFound
		}
		out = &u
		return nil
	})
	return out, err
}

type tokenRepo struct {
	s *Store
}

func (r *tokenRepo) Create(_ context.Context, t *user.RefreshToken) error {
	return r.s.with(nil, "tokens.create", func(st *state) error {
		for _, existing := range st.tokens {
			if existing.Token == t.Token {
				return repositories.ErrConflict
			}
		}
		st.nextTokenID++
		t.ID = st.nextTokenID
		st.tokens[t.ID] = *t
		return nil
	})
}

func (r *tokenRepo) FindByToken(_ context.Context, token string) (*user.RefreshToken, error) {
	var out *user.RefreshToken
	err := r.s.with(nil, "tokens.find", func(st *state) error {
		for _, t := range st.tokens {
			if t.Token == token {
				cp := t
				out = &cp
				return nil
			}
		}
		return repositories.ErrNotFound
	})
	return out, err
}

func (r *tokenRepo) Revoke(_ context.Context, id int64) error {
	return r.s.with(nil, "tokens.revoke", func(st *state) error {
		if t, ok := st.tokens[id]; ok {
			t.Revoked = true
			st.tokens[id] = t
		}
		return nil
	})
}

func (r *tokenRepo) Delete(_ context.Context, id int64) error {
	return r.s.with(nil, "tokens.delete", func(st *state) error {
		delete(st.tokens, id)
		return nil
	})
}

func (r *tokenRepo) DeleteExpiredOrRevoked(_ context.Context, now time.Time) (int64, error) {
	var n int64
	err := r.s.with(nil, "tokens.cleanup", func(st *state) error {
		for id, t := range st.tokens {
			if t.Revoked || t.Expired(now) {
				delete(st.tokens, id)
				n++
			}
		}
		return nil
	})
	return n, err
}
