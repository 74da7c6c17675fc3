package product

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/product"
	"malricpharma/internal/store/memory"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	store := memory.New()
	svc := NewService(store.Products())
	svc.SetClock(func() time.Time { return now })
	return svc, store
}

func panadol() *product.Product {
	return &product.Product{
		Name:        "Panadol Extra",
		Description: "Paracetamol and caffeine tablets, 10s",
		Category:    "Pain relief",
		Price:       decimal.RequireFromString("120.00"),
	}
}

func TestCreateAssignsIDAndTimestamps(t *testing.T) {
	svc, _ := newService(t)

	p, err := svc.Create(context.Background(), panadol())
	require.NoError(t, err)
	assert.Equal(t, int64(1), p.ID)
	assert.Equal(t, now, p.CreatedAt)
	assert.Equal(t, now, p.UpdatedAt)

	second := panadol()
	second.Name = "  Strepsils Honey & Lemon  "
	p, err = svc.Create(context.Background(), second)
	require.NoError(t, err)
	assert.Equal(t, int64(2), p.ID)
	assert.Equal(t, "Strepsils Honey & Lemon", p.Name)

	got, err := svc.Get(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, "Strepsils Honey & Lemon", got.Name)
}

func TestCreateRejectsInvalidProducts(t *testing.T) {
	svc, store := newService(t)

	cases := map[string]func(p *product.Product){
		"missing name":     func(p *product.Product) { p.Name = " " },
		"missing category": func(p *product.Product) { p.Category = "" },
		"zero price":       func(p *product.Product) { p.Price = decimal.Zero },
		"negative price":   func(p *product.Product) { p.Price = decimal.RequireFromString("-5") },
		"sub-cent price":   func(p *product.Product) { p.Price = decimal.RequireFromString("9.999") },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := panadol()
			mutate(p)
			_, err := svc.Create(context.Background(), p)
			require.Error(t, err)
			assert.Equal(t, core.KindValidation, core.KindOf(err))
			assert.Equal(t, core.CodeInvalidProduct, core.CodeOf(err))
		})
	}
	assert.Zero(t, store.Counts()["products"])
}

func TestGetUnknownProduct(t *testing.T) {
	svc, _ := newService(t)

	_, err := svc.Get(context.Background(), 99)
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
	assert.Equal(t, core.CodeProductNotFound, core.CodeOf(err))
}

func TestListPages(t *testing.T) {
	svc, _ := newService(t)
	for i := 0; i < 5; i++ {
		_, err := svc.Create(context.Background(), panadol())
		require.NoError(t, err)
	}

	resp, err := svc.List(context.Background(), ListRequest{Page: 2, Limit: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, resp.Total)
	assert.Equal(t, 3, resp.TotalPages)
	require.Len(t, resp.Products, 2)
	assert.Equal(t, int64(3), resp.Products[0].ID)
	assert.Equal(t, int64(4), resp.Products[1].ID)

	resp, err = svc.List(context.Background(), ListRequest{Limit: 1000})
	require.NoError(t, err)
	assert.Equal(t, maxListLimit, resp.Limit)
	assert.Equal(t, 1, resp.Page)
	assert.Len(t, resp.Products, 5)
}

func TestListHugePageIsEmpty(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Create(context.Background(), panadol())
	require.NoError(t, err)

	resp, err := svc.List(context.Background(), ListRequest{Page: math.MaxInt})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Total)
	assert.NotNil(t, resp.Products)
	assert.Empty(t, resp.Products)
	assert.Equal(t, math.MaxInt32/listDefault, resp.Page)
}

func TestUpdateAppliesPatch(t *testing.T) {
	svc, _ := newService(t)
	created, err := svc.Create(context.Background(), panadol())
	require.NoError(t, err)

	later := now.Add(time.Hour)
	svc.SetClock(func() time.Time { return later })
	price := decimal.RequireFromString("135.50")
	image := "https://cdn.malricpharma.co.ke/panadol-extra.jpg"

	p, err := svc.Update(context.Background(), created.ID, product.Patch{Price: &price, ImageURL: &image})
	require.NoError(t, err)
	assert.True(t, price.Equal(p.Price))
	assert.Equal(t, image, p.ImageURL)
	assert.Equal(t, "Panadol Extra", p.Name)
	assert.Equal(t, now, p.CreatedAt)
	assert.Equal(t, later, p.UpdatedAt)

	empty := ""
	_, err = svc.Update(context.Background(), created.ID, product.Patch{Name: &empty})
	require.Error(t, err)
	assert.Equal(t, core.CodeInvalidProduct, core.CodeOf(err))

	got, err := svc.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Panadol Extra", got.Name)

	_, err = svc.Update(context.Background(), 404, product.Patch{Price: &price})
	assert.Equal(t, core.CodeProductNotFound, core.CodeOf(err))
}

func TestDelete(t *testing.T) {
	svc, _ := newService(t)
	created, err := svc.Create(context.Background(), panadol())
	require.NoError(t, err)

	require.NoError(t, svc.Delete(context.Background(), created.ID))
	_, err = svc.Get(context.Background(), created.ID)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))

	err = svc.Delete(context.Background(), created.ID)
	assert.Equal(t, core.CodeProductNotFound, core.CodeOf(err))
}

func TestStoreFailureIsInternal(t *testing.T) {
	svc, store := newService(t)
	store.FailNext("products.create", errors.New("disk full"))

	_, err := svc.Create(context.Background(), panadol())
	require.Error(t, err)
	assert.Equal(t, core.KindInternal, core.KindOf(err))
}
