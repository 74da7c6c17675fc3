package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"malricpharma/internal/domain/order"

	"github.com/jackc/pgx/v5"
)

type orderRepository struct {
	db   querier
	lock bool
}

const orderColumns = `id, order_number, user_id, status, total_amount, shipping_info, payment_method,
	payment_status, estimated_delivery, notes, created_at, updated_at`

func (r *orderRepository) Create(ctx context.Context, o *order.Order) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		o.ID, o.OrderNumber, o.UserID, o.Status, o.TotalAmount, o.Shipping, o.PaymentMethod,
		o.PaymentStatus, o.EstimatedDelivery, o.Notes, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return mapErr(err)
	}

	for _, it := range o.Items {
		_, err := r.db.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, product_name, product_description,
			                         product_category, product_image_url, unit_price, quantity, subtotal, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			it.ID, o.ID, it.ProductID, it.ProductName, it.ProductDescription,
			it.ProductCategory, it.ProductImageURL, it.UnitPrice, it.Quantity, it.Subtotal, it.CreatedAt)
		if err != nil {
			return mapErr(err)
		}
	}

	for i := range o.History {
		if err := r.AppendHistory(ctx, &o.History[i]); err != nil {
			return err
		}
	}
	return nil
}

func (r *orderRepository) FindByID(ctx context.Context, id string) (*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	return r.findOne(ctx, q, id)
}

func (r *orderRepository) FindByNumber(ctx context.Context, number string) (*order.Order, error) {
	q := `SELECT ` + orderColumns + ` FROM orders WHERE order_number = $1`
	if r.lock {
		q += ` FOR UPDATE`
	}
	return r.findOne(ctx, q, number)
}

func (r *orderRepository) findOne(ctx context.Context, q string, arg any) (*order.Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, q, arg))
	if err != nil {
		return nil, mapErr(err)
	}
	if err := r.loadItems(ctx, []*order.Order{o}); err != nil {
		return nil, err
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, status, changed_by, notes, created_at
		FROM order_status_history
		WHERE order_id = $1
		ORDER BY created_at ASC, id ASC`, o.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var h order.StatusHistory
		if err := rows.Scan(&h.ID, &h.OrderID, &h.Status, &h.ChangedBy, &h.Notes, &h.CreatedAt); err != nil {
			return nil, err
		}
		o.History = append(o.History, h)
	}
	return o, rows.Err()
}

func (r *orderRepository) List(ctx context.Context, f order.ListFilter) ([]*order.Order, int, error) {
	var where []string
	var args []any
	if f.UserID != nil {
		args = append(args, *f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.Status != nil {
		args = append(args, *f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.PaymentStatus != nil {
		args = append(args, *f.PaymentStatus)
		where = append(where, fmt.Sprintf("payment_status = $%d", len(args)))
	}
	cond := ""
	if len(where) > 0 {
		cond = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM orders`+cond, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	args = append(args, f.Limit, f.Offset)
	rows, err := r.db.Query(ctx, fmt.Sprintf(`SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		orderColumns, cond, len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []*order.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	if err := r.loadItems(ctx, out); err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

func (r *orderRepository) loadItems(ctx context.Context, orders []*order.Order) error {
	if len(orders) == 0 {
		return nil
	}
	byID := make(map[string]*order.Order, len(orders))
	ids := make([]string, 0, len(orders))
	for _, o := range orders {
		byID[o.ID] = o
		ids = append(ids, o.ID)
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, product_name, product_description, product_category,
		       product_image_url, unit_price, quantity, subtotal, created_at
		FROM order_items
		WHERE order_id = ANY($1::uuid[])
		ORDER BY created_at ASC, id ASC`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var it order.Item
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.ProductDescription,
			&it.ProductCategory, &it.ProductImageURL, &it.UnitPrice, &it.Quantity, &it.Subtotal, &it.CreatedAt); err != nil {
			return err
		}
		if o, ok := byID[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return rows.Err()
}

func (r *orderRepository) Update(ctx context.Context, o *order.Order) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET status = $1, payment_method = $2, payment_status = $3, notes = $4, updated_at = $5
		WHERE id = $6`,
		o.Status, o.PaymentMethod, o.PaymentStatus, o.Notes, o.UpdatedAt, o.ID)
	if err != nil {
		return mapErr(err)
	}
	if tag.RowsAffected() == 0 {
		return mapErr(pgx.ErrNoRows)
	}
	return nil
}

func (r *orderRepository) AppendHistory(ctx context.Context, h *order.StatusHistory) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO order_status_history (id, order_id, status, changed_by, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		h.ID, h.OrderID, h.Status, h.ChangedBy, h.Notes, h.CreatedAt)
	return mapErr(err)
}

func (r *orderRepository) Stats(ctx context.Context, dayStart time.Time) (*order.Stats, error) {
	var s order.Stats
	err := r.db.QueryRow(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'PENDING'),
		       count(*) FILTER (WHERE status = 'DELIVERED'),
		       count(*) FILTER (WHERE status = 'CANCELLED'),
		       COALESCE(sum(total_amount) FILTER (WHERE status <> 'CANCELLED'), 0),
		       count(*) FILTER (WHERE created_at >= $1)
		FROM orders`, dayStart).
		Scan(&s.TotalOrders, &s.PendingOrders, &s.CompletedOrders, &s.CancelledOrders, &s.TotalRevenue, &s.TodayOrders)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

func scanOrder(row pgx.Row) (*order.Order, error) {
	var o order.Order
	err := row.Scan(&o.ID, &o.OrderNumber, &o.UserID, &o.Status, &o.TotalAmount, &o.Shipping,
		&o.PaymentMethod, &o.PaymentStatus, &o.EstimatedDelivery, &o.Notes, &o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
