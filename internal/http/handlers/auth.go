package handlers

import (
	"net/http"

	"malricpharma/internal/core"
	authsvc "malricpharma/internal/services/auth"
)

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

func Register(svc *authsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in authsvc.RegisterRequest
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		s, err := svc.Register(r.Context(), in)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusCreated, s)
	}
}

func Login(svc *authsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in authsvc.LoginRequest
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		s, err := svc.Login(r.Context(), in)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, s)
	}
}

func Refresh(svc *authsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in refreshReq
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		if in.RefreshToken == "" {
			fail(w, r, core.Validation(core.CodeInvalidRequest, "refreshToken is required"))
			return
		}
		pair, err := svc.Refresh(r.Context(), in.RefreshToken)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, pair)
	}
}

func Logout(svc *authsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in refreshReq
		if err := decode(w, r, &in); err != nil {
			fail(w, r, err)
			return
		}
		if err := svc.Logout(r.Context(), in.RefreshToken); err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, map[string]string{"message": "Logged out"})
	}
}

func Me(svc *authsvc.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := caller(r)
		if err != nil {
			fail(w, r, err)
			return
		}
		u, err := svc.Me(r.Context(), p)
		if err != nil {
			fail(w, r, err)
			return
		}
		ok(w, http.StatusOK, u)
	}
}
