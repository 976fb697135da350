package service

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"time"

	"github.com/escrowdesk/platform/internal/auth"
	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/guard"
	"golang.org/x/crypto/bcrypt"
)

// AdminCredentials is the configured operator account.
type AdminCredentials struct {
	Username     string
	PasswordHash string
}

// AdminAuthService handles operator login.
type AdminAuthService struct {
	creds   AdminCredentials
	jwtMgr  *auth.JWTManager
	limiter *guard.RateLimiter
	logger  *slog.Logger
}

// NewAdminAuthService creates an AdminAuthService.
func NewAdminAuthService(creds AdminCredentials, jwtMgr *auth.JWTManager, limiter *guard.RateLimiter, logger *slog.Logger) *AdminAuthService {
	return &AdminAuthService{creds: creds, jwtMgr: jwtMgr, limiter: limiter, logger: logger}
}

// LoginInput holds the login request fields.
type LoginInput struct {
	Username string `json:"username" validate:"required,max=64"`
	Password string `json:"password" validate:"required,max=128"`
}

// LoginResult is returned on successful login.
type LoginResult struct {
	Token     string    `json:"token"`
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Login checks the operator's password and issues an admin JWT. Attempts are
// rate limited per client key; a success clears the counter.
func (s *AdminAuthService) Login(ctx context.Context, clientKey string, input LoginInput) (*LoginResult, error) {
	if res := s.limiter.Check(ctx, clientKey); !res.Allowed {
		s.logger.Warn("admin login throttled", "event", "security", "client", clientKey, "reason", res.Reason)
		return nil, domain.ErrRateLimited("admin login")
	}

	userOK := subtle.ConstantTimeCompare([]byte(input.Username), []byte(s.creds.Username)) == 1
	if s.creds.PasswordHash == "" {
		userOK = false
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.creds.PasswordHash), []byte(input.Password)); err != nil || !userOK {
		s.logger.Warn("admin login failed", "event", "security", "client", clientKey, "username", input.Username)
		return nil, domain.ErrUnauthorized("invalid credentials")
	}

	token, expires, err := s.jwtMgr.GenerateAdminToken(s.creds.Username, auth.RoleSuperAdmin)
	if err != nil {
		return nil, domain.ErrInternal("generate token", err)
	}
	s.limiter.Reset(clientKey)

	s.logger.Info("admin login", "username", s.creds.Username, "client", clientKey)
	return &LoginResult{
		Token:     token,
		Username:  s.creds.Username,
		Role:      auth.RoleSuperAdmin,
		ExpiresAt: expires,
	}, nil
}
