// Package auth implements account registration and the access/refresh token
// lifecycle.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"malricpharma/internal/auth"
	"malricpharma/internal/core"
	"malricpharma/internal/domain/user"
	"malricpharma/internal/store/repositories"

	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/bcrypt"
)

const (
	bcryptCost         = 10
	refreshTokenBytes  = 64
	defaultRefreshTTL  = 30 * 24 * time.Hour
	defaultCleanupTick = 24 * time.Hour
)

// TokenPair is returned on register, login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// Session is an authenticated user with fresh tokens.
type Session struct {
	User   *user.User `json:"user"`
	Tokens TokenPair  `json:"tokens"`
}

// RegisterRequest is the sign-up payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

// LoginRequest is the sign-in payload.
type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type Service struct {
	users      repositories.UserRepository
	tokens     repositories.RefreshTokenRepository
	issuer     *auth.Issuer
	refreshTTL time.Duration
	now        func() time.Time
}

func NewService(users repositories.UserRepository, tokens repositories.RefreshTokenRepository, issuer *auth.Issuer, refreshTTL time.Duration) *Service {
	if refreshTTL <= 0 {
		refreshTTL = defaultRefreshTTL
	}
	return &Service{
		users:      users,
		tokens:     tokens,
		issuer:     issuer,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

// SetClock replaces the time source.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Register creates a customer account and signs it in.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*Session, error) {
	email := user.NormalizeEmail(req.Email)
	if err := user.ValidateRegistration(email, req.Password, req.Name); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	now := s.now()
	u := &user.User{
		Email:        email,
		PasswordHash: string(hash),
		Name:         req.Name,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, repositories.ErrConflict) {
			return nil, core.Conflict(core.CodeEmailTaken, "an account with this email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}

	log.Info().Int64("user_id", u.ID).Msg("user registered")
	return s.openSession(ctx, u)
}

// Login verifies credentials. Unknown email and wrong password are
// indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	invalid := core.Unauthorized(core.CodeInvalidCredentials, "invalid email or password")

	u, err := s.users.FindByEmail(ctx, user.NormalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, invalid
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		log.Debug().Int64("user_id", u.ID).Msg("login rejected")
		return nil, invalid
	}
	return s.openSession(ctx, u)
}

// Refresh rotates a refresh token: the presented token is revoked and a new
// pair is issued.
func (s *Service) Refresh(ctx context.Context, token string) (*TokenPair, error) {
	rt, err := s.tokens.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, core.Unauthorized(core.CodeInvalidRefreshToken, "invalid refresh token")
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	if rt.Revoked {
		return nil, core.Unauthorized(core.CodeRefreshTokenRevoked, "refresh token has been revoked")
	}
	if rt.Expired(s.now()) {
		if err := s.tokens.Delete(ctx, rt.ID); err != nil {
			log.Warn().Err(err).Int64("token_id", rt.ID).Msg("delete expired refresh token failed")
		}
		return nil, core.Unauthorized(core.CodeRefreshTokenExpired, "refresh token has expired")
	}

	u, err := s.users.FindByID(ctx, rt.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, core.Unauthorized(core.CodeInvalidRefreshToken, "invalid refresh token")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	if err := s.tokens.Revoke(ctx, rt.ID); err != nil {
		return nil, fmt.Errorf("revoke refresh token: %w", err)
	}
	return s.issuePair(ctx, u)
}

// Logout revokes a refresh token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	rt, err := s.tokens.FindByToken(ctx, token)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("find refresh token: %w", err)
	}
	if err := s.tokens.Revoke(ctx, rt.ID); err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	return nil
}

// Me returns the account behind an access token.
func (s *Service) Me(ctx context.Context, caller user.Principal) (*user.User, error) {
	u, err := s.users.FindByID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return nil, core.Unauthorized(core.CodeUnauthorized, "account no longer exists")
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return u, nil
}

// CleanupExpiredTokens deletes revoked and expired refresh tokens.
func (s *Service) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	n, err := s.tokens.DeleteExpiredOrRevoked(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("cleanup refresh tokens: %w", err)
	}
	if n > 0 {
		log.Info().Int64("deleted", n).Msg("refresh tokens cleaned up")
	}
	return n, nil
}

// RunCleanup calls CleanupExpiredTokens every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, every time.Duration) {
	if every <= 0 {
		every = defaultCleanupTick
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.CleanupExpiredTokens(ctx); err != nil {
				log.Error().Err(err).Msg("token cleanup failed")
			}
		}
	}
}

func (s *Service) openSession(ctx context.Context, u *user.User) (*Session, error) {
	pair, err := s.issuePair(ctx, u)
	if err != nil {
		return nil, err
	}
	return &Session{User: u, Tokens: *pair}, nil
}

func (s *Service) issuePair(ctx context.Context, u *user.User) (*TokenPair, error) {
	access, err := s.issuer.Issue(u)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	raw, err := newRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now()
	rt := &user.RefreshToken{
		Token:     raw,
		UserID:    u.ID,
		ExpiresAt: now.Add(s.refreshTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, rt); err != nil {
		return nil, fmt.Errorf("store refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: raw,
		TokenType:    "Bearer",
		ExpiresIn:    int64(s.issuer.TTL().Seconds()),
	}, nil
}

func newRefreshToken() (string, error) {
	b := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate refresh token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
