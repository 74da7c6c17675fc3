package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"malricpharma/internal/domain/order"
	"malricpharma/internal/domain/payment"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/domain/user"
	"malricpharma/internal/store/repositories"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

func sampleOrder(number string, userID int64) *order.Order {
	items := []order.Item{order.NewItem(7, "Paracetamol", "", "", "", decimal.NewFromInt(500), 2, now)}
	return order.New(number, userID, items, order.ShippingInfo{FullName: "Jane", Address: "Moi Ave"}, payment.MethodMpesa, now)
}

func TestCommitAppliesAndRollbackDiscards(t *testing.T) {
	ctx := context.Background()
	s := New()

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Orders().Create(ctx, sampleOrder("MP1", 1)))
	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, 0, s.Counts()["orders"])

	tx, err = s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Orders().Create(ctx, sampleOrder("MP2", 1)))
	require.NoError(t, tx.Commit(ctx))
	require.NoError(t, tx.Rollback(ctx))

	c := s.Counts()
	assert.Equal(t, 1, c["orders"])
	assert.Equal(t, 1, c["items"])
	assert.Equal(t, 1, c["history"])
}

func TestInjectedCommitFailureLeavesStateUntouched(t *testing.T) {
	ctx := context.Background()
	s := New()
	boom := errors.New("disk full")
	s.FailNext("uow.commit", boom)

	tx, err := s.Begin(ctx)
	require.NoError(t, err)
	require.NoError(t, tx.Orders().Create(ctx, sampleOrder("MP1", 1)))
	assert.ErrorIs(t, tx.Commit(ctx), boom)
	assert.Equal(t, 0, s.Counts()["orders"])

	// the lock was released
	_, err = s.Orders().FindByNumber(ctx, "MP1")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

func TestOrderNumberUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.Orders().Create(ctx, sampleOrder("MP1", 1)))

	err := s.Orders().Create(ctx, sampleOrder("MP1", 2))
	assert.ErrorIs(t, err, repositories.ErrConflict)
}

func TestSingleOpenPaymentPerOrder(t *testing.T) {
	ctx := context.Background()
	s := New()
	o := sampleOrder("MP1", 1)
	require.NoError(t, s.Orders().Create(ctx, o))

	first, err := payment.NewPayment(o.ID, payment.MethodMpesa, o.TotalAmount, payment.StatusPending, nil, now)
	require.NoError(t, err)
	require.NoError(t, s.Payments().Create(ctx, first))

	second, err := payment.NewPayment(o.ID, payment.MethodCOD, o.TotalAmount, payment.StatusPendingDelivery, nil, now)
	require.NoError(t, err)
	assert.ErrorIs(t, s.Payments().Create(ctx, second), repositories.ErrConflict)

	require.NoError(t, first.MarkFailed("declined", nil, now))
	require.NoError(t, s.Payments().Update(ctx, first))
	assert.NoError(t, s.Payments().Create(ctx, second))
}

func TestProviderTransactionIDUnique(t *testing.T) {
	ctx := context.Background()
	s := New()
	a, b := sampleOrder("MP1", 1), sampleOrder("MP2", 1)
	require.NoError(t, s.Orders().Create(ctx, a))
	require.NoError(t, s.Orders().Create(ctx, b))

	pa, _ := payment.NewPayment(a.ID, payment.MethodMpesa, a.TotalAmount, payment.StatusPending, nil, now)
	pb, _ := payment.NewPayment(b.ID, payment.MethodMpesa, b.TotalAmount, payment.StatusPending, nil, now)
	require.NoError(t, s.Payments().Create(ctx, pa))
	require.NoError(t, s.Payments().Create(ctx, pb))

	require.NoError(t, pa.MarkInitiated("ws_CO_1", nil, now))
	require.NoError(t, s.Payments().Update(ctx, pa))
	require.NoError(t, pb.MarkInitiated("ws_CO_1", nil, now))
	assert.ErrorIs(t, s.Payments().Update(ctx, pb), repositories.ErrConflict)

	got, err := s.Payments().FindByProviderTransactionID(ctx, "ws_CO_1")
	require.NoError(t, err)
	assert.Equal(t, pa.ID, got.ID)
}

func TestListFiltersAndPaginates(t *testing.T) {
	ctx := context.Background()
	s := New()
	for i, uid := range []int64{1, 1, 1, 2} {
		o := sampleOrder(order.NewNumber(now, i), uid)
		o.CreatedAt = now.Add(time.Duration(i) * time.Minute)
		require.NoError(t, s.Orders().Create(ctx, o))
	}

	uid := int64(1)
	page, total, err := s.Orders().List(ctx, order.ListFilter{UserID: &uid, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 2)
	assert.True(t, page[0].CreatedAt.After(page[1].CreatedAt))

	rest, _, err := s.Orders().List(ctx, order.ListFilter{UserID: &uid, Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Len(t, rest, 1)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	s := New()
	delivered := sampleOrder("MP1", 1)
	delivered.Status = order.StatusDelivered
	cancelled := sampleOrder("MP2", 1)
	cancelled.Status = order.StatusCancelled
	old := sampleOrder("MP3", 1)
	old.CreatedAt = now.Add(-48 * time.Hour)
	for _, o := range []*order.Order{delivered, cancelled, old} {
		require.NoError(t, s.Orders().Create(ctx, o))
	}

	st, err := s.Orders().Stats(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, st.TotalOrders)
	assert.Equal(t, 1, st.PendingOrders)
	assert.Equal(t, 1, st.CompletedOrders)
	assert.Equal(t, 1, st.CancelledOrders)
	assert.Equal(t, 2, st.TodayOrders)
	assert.True(t, st.TotalRevenue.Equal(decimal.NewFromInt(2000)))
}

func TestProductsAndTokens(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddProduct(product.Product{ID: 7, Name: "Paracetamol", Price: decimal.NewFromInt(500)})
	s.AddProduct(product.Product{ID: 8, Name: "Ibuprofen", Price: decimal.NewFromInt(300)})

	ps, err := s.Products().FindByIDs(ctx, []int64{7, 99})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assert.Equal(t, "Paracetamol", ps[0].Name)

	u := &user.User{Email: "jane@example.com"}
	require.NoError(t, s.Users().Create(ctx, u))
	assert.Equal(t, int64(1), u.ID)
	assert.ErrorIs(t, s.Users().Create(ctx, &user.User{Email: "jane@example.com"}), repositories.ErrConflict)

	live := &user.RefreshToken{Token: "a", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}
	expired := &user.RefreshToken{Token: "b", UserID: u.ID, ExpiresAt: now.Add(-time.Hour)}
	revoked := &user.RefreshToken{Token: "c", UserID: u.ID, ExpiresAt: now.Add(time.Hour)}
	for _, tok := range []*user.RefreshToken{live, expired, revoked} {
		require.NoError(t, s.RefreshTokens().Create(ctx, tok))
	}
	require.NoError(t, s.RefreshTokens().Revoke(ctx, revoked.ID))

	n, err := s.RefreshTokens().DeleteExpiredOrRevoked(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Equal(t, 1, s.Counts()["tokens"])
}

func TestProductCatalogCRUD(t *testing.T) {
	ctx := context.Background()
	s := New()
	s.AddProduct(product.Product{ID: 7, Name: "Paracetamol", Price: decimal.NewFromInt(500)})
	repo := s.Products()

	p := &product.Product{Name: "Cetrizine", Price: decimal.NewFromInt(80)}
	require.NoError(t, repo.Create(ctx, p))
	assert.Equal(t, int64(8), p.ID)

	p.Name = "Cetirizine 10mg"
	require.NoError(t, repo.Update(ctx, p))
	got, err := repo.FindByID(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, "Cetirizine 10mg", got.Name)

	page, total, err := repo.List(ctx, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, page, 1)
	assert.Equal(t, int64(8), page[0].ID)

	page, total, err = repo.List(ctx, 10, 1<<40)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Empty(t, page)

	require.NoError(t, repo.Delete(ctx, 7))
	_, err = repo.FindByID(ctx, 7)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, 7), repositories.ErrNotFound)
	assert.ErrorIs(t, repo.Update(ctx, &product.Product{ID: 7}), repositories.ErrNotFound)
	assert.Equal(t, 1, s.Counts()["products"])
}
