package service

import (
	"context"
	"testing"
	"time"

	"github.com/escrowdesk/platform/internal/auth"
	"github.com/escrowdesk/platform/internal/domain"
	"github.com/escrowdesk/platform/internal/guard"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newTestAdminAuth(t *testing.T) (*AdminAuthService, *auth.JWTManager) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.MinCost)
	require.NoError(t, err)
	mgr := auth.NewJWTManager("test-secret-key", time.Hour)
	svc := NewAdminAuthService(AdminCredentials{Username: "admin", PasswordHash: string(hash)},
		mgr, guard.NewRateLimiter(3, time.Minute), testLogger())
	return svc, mgr
}

func TestAdminLogin(t *testing.T) {
	svc, mgr := newTestAdminAuth(t)

	res, err := svc.Login(context.Background(), "10.0.0.1", LoginInput{Username: "admin", Password: "correct horse"})
	require.NoError(t, err)
	assert.Equal(t, auth.RoleSuperAdmin, res.Role)

	claims, err := mgr.ValidateTokenForRealm(res.Token, auth.RealmAdmin)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Subject)
}

func TestAdminLogin_BadCredentials(t *testing.T) {
	tests := []struct {
		name string
		in   LoginInput
	}{
		{"wrong password", LoginInput{Username: "admin", Password: "wrong"}},
		{"wrong username", LoginInput{Username: "root", Password: "correct horse"}},
		{"empty", LoginInput{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestAdminAuth(t)
			_, err := svc.Login(context.Background(), "10.0.0.1", tt.in)
			assert.True(t, domain.HasCode(err, domain.CodeUnauthorized))
		})
	}
}

func TestAdminLogin_RateLimited(t *testing.T) {
	svc, _ := newTestAdminAuth(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := svc.Login(ctx, "10.0.0.1", LoginInput{Username: "admin", Password: "nope"})
		assert.True(t, domain.HasCode(err, domain.CodeUnauthorized))
	}

	_, err := svc.Login(ctx, "10.0.0.1", LoginInput{Username: "admin", Password: "correct horse"})
	assert.True(t, domain.HasCode(err, domain.CodeRateLimited))

	_, err = svc.Login(ctx, "10.0.0.2", LoginInput{Username: "admin", Password: "correct horse"})
	assert.NoError(t, err, "other clients are unaffected")
}
