package auth

import (
	"testing"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var siteManager = models.Actor{UserID: "u-1", Role: models.RoleUser, CompanyID: "company-a"}

func newAuthenticator(t *testing.T) *Authenticator {
	t.Helper()

	authenticator, err := NewAuthenticator("test-secret", "")
	require.NoError(t, err)

	return authenticator
}

func TestNewAuthenticator_RequiresSecret(t *testing.T) {
	t.Parallel()

	_, err := NewAuthenticator("", "")
	require.ErrorIs(t, err, ErrMissingSecret)
}

func TestAuthenticator_RoundTrip(t *testing.T) {
	t.Parallel()

	authenticator := newAuthenticator(t)

	token, err := authenticator.Issue(siteManager, time.Hour)
	require.NoError(t, err)

	actor, err := authenticator.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, siteManager, actor)

	admin := models.Actor{UserID: "root", Role: models.RoleSuperAdmin}
	token, err = authenticator.Issue(admin, 0)
	require.NoError(t, err)

	actor, err = authenticator.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, admin, actor)
}

func TestAuthenticator_IssueRejectsIncompleteActors(t *testing.T) {
	t.Parallel()

	authenticator := newAuthenticator(t)

	tests := []struct {
		name  string
		actor models.Actor
		err   string
	}{
		{"missing user", models.Actor{Role: models.RoleUser, CompanyID: "c"}, "userId is required"},
		{"unknown role", models.Actor{UserID: "u", Role: "owner", CompanyID: "c"}, "unknown role 'owner'"},
		{"missing company", models.Actor{UserID: "u", Role: models.RoleDeveloper}, "companyId is required"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := authenticator.Issue(tt.actor, time.Hour)
			require.EqualError(t, err, tt.err)
		})
	}
}

func TestAuthenticator_VerifyRejects(t *testing.T) {
	t.Parallel()

	authenticator := newAuthenticator(t)

	expired := newAuthenticator(t)
	expired.now = func() time.Time { return time.Now().Add(-48 * time.Hour) }
	expiredToken, err := expired.Issue(siteManager, time.Hour)
	require.NoError(t, err)

	otherSecret, err := NewAuthenticator("other-secret", "")
	require.NoError(t, err)
	foreignToken, err := otherSecret.Issue(siteManager, time.Hour)
	require.NoError(t, err)

	otherIssuer, err := NewAuthenticator("test-secret", "someone-else")
	require.NoError(t, err)
	issuerToken, err := otherIssuer.Issue(siteManager, time.Hour)
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{
		UserID: "u-1", Role: models.RoleSuperAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noExpiry, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u-1", Role: models.RoleUser, CompanyID: "company-a",
		RegisteredClaims: jwt.RegisteredClaims{Issuer: DefaultIssuer},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	badRole, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		UserID: "u-1", Role: "owner", CompanyID: "company-a",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    DefaultIssuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	tokens := map[string]string{
		"garbage":      "not-a-token",
		"expired":      expiredToken,
		"wrong secret": foreignToken,
		"wrong issuer": issuerToken,
		"alg none":     unsigned,
		"no expiry":    noExpiry,
		"unknown role": badRole,
	}

	for name, token := range tokens {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := authenticator.Verify(token)
			require.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}
