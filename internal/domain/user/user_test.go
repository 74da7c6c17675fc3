package user

import (
	"testing"
	"time"

	"malricpharma/internal/core"

	"github.com/stretchr/testify/assert"
)

func TestValidateRegistration(t *testing.T) {
	assert.NoError(t, ValidateRegistration("jane@example.com", "secret", "Jane"))

	for _, tc := range []struct{ email, password, name string }{
		{"", "secret", "Jane"},
		{"not-an-email", "secret", "Jane"},
		{"jane@example.com", "short", "Jane"},
		{"jane@example.com", "secret", ""},
	} {
		err := ValidateRegistration(tc.email, tc.password, tc.name)
		assert.Equal(t, core.CodeInvalidRequest, core.CodeOf(err), "%+v", tc)
	}
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "jane@example.com", NormalizeEmail("  Jane@EXAMPLE.com\t"))
}

func TestRefreshTokenExpired(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)
	tok := RefreshToken{ExpiresAt: now}
	assert.True(t, tok.Expired(now))
	assert.False(t, tok.Expired(now.Add(-time.Second)))
}

func TestPrincipalCanAccess(t *testing.T) {
	assert.True(t, Principal{UserID: 4}.CanAccess(4))
	assert.False(t, Principal{UserID: 4}.CanAccess(5))
	assert.True(t, Principal{UserID: 1, IsAdmin: true}.CanAccess(5))
}
