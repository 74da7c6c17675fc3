package user

import (
	"net/mail"
	"strings"
	"time"

	"malricpharma/internal/core"
)

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 6

// User is a customer or administrator account.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	Name         string    `json:"name"`
	IsAdmin      bool      `json:"isAdmin"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// NormalizeEmail lowercases and trims an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateRegistration checks sign-up input.
func ValidateRegistration(email, password, name string) error {
	if _, err := mail.ParseAddress(email); err != nil {
		return core.Validation(core.CodeInvalidRequest, "a valid email is required")
	}
	if len(password) < MinPasswordLength {
		return core.Validation(core.CodeInvalidRequest, "password must be at least 6 characters")
	}
	if strings.TrimSpace(name) == "" {
		return core.Validation(core.CodeInvalidRequest, "name is required")
	}
	return nil
}

// RefreshToken is an opaque long-lived credential used to mint access tokens.
type RefreshToken struct {
	ID        int64
	Token     string
	UserID    int64
	ExpiresAt time.Time
	Revoked   bool
	CreatedAt time.Time
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID  int64
	Email   string
	IsAdmin bool
}

// CanAccess reports whether the principal may act on a resource owned by ownerID.
func (p Principal) CanAccess(ownerID int64) bool {
	return p.IsAdmin || p.UserID == ownerID
}
