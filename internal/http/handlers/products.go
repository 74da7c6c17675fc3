package handlers

import (
	"net/http"
	"strconv"

	"malricpharma/internal/core"
	"malricpharma/internal/domain/product"
	productsvc "malricpharma/internal/services/product"

	"github.com/go-chi/chi/v5"
)

func productID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		return 0, core.Validation(core.CodeInvalidRequest, "product id must be a positive integer")
	}
	return id, nil
}

// ListProducts serves a page of the public catalog.
func ListProducts(svc *productsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.List(r.Context(), productsvc.ListRequest{Page: queryInt(r, "page"), Limit: queryInt(r, "limit")})
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, resp)
	}
}

func GetProduct(svc *productsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := productID(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		p, err := svc.Get(r.Context(), id)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, p)
	}
}

// CreateProduct adds a catalog entry. Admin only.
func CreateProduct(svc *productsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in product.Product
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		p, err := svc.Create(r.Context(), &in)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusCreated, p)
	}
}

func UpdateProduct(svc *productsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := productID(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		var in product.Patch
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		p, err := svc.Update(r.Context(), id, in)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, p)
	}
}

func DeleteProduct(svc *productsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := productID(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		if err := svc.Delete(r.Context(), id); err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, map[string]any{"message": "product deleted"})
	}
}
