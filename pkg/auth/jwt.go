// Package auth issues and verifies the bearer tokens that identify API callers.
package auth

import (
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cortexbuild/cortexflow/pkg/models"
	"github.com/golang-jwt/jwt/v5"
)

const (
	DefaultIssuer   = "cortexflow"
	DefaultTokenTTL = 24 * time.Hour
)

var (
	ErrMissingSecret = errors.New("jwt secret is required")
	ErrInvalidToken  = errors.New("invalid token")
)

var knownRoles = []string{
	models.RoleSuperAdmin,
	models.RoleCompanyAdmin,
	models.RoleDeveloper,
	models.RoleUser,
}

// Claims carries the caller identity.
type Claims struct {
	UserID    string `json:"userId"`
	Role      string `json:"role"`
	CompanyID string `json:"companyId"`
	jwt.RegisteredClaims
}

// Authenticator signs and verifies HS256 tokens with a shared secret.
type Authenticator struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewAuthenticator(secret, issuer string) (*Authenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}

	if issuer == "" {
		issuer = DefaultIssuer
	}

	return &Authenticator{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for actor valid for ttl.
func (a *Authenticator) Issue(actor models.Actor, ttl time.Duration) (string, error) {
	err := validateActor(actor)
	if err != nil {
		return "", err
	}

	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := a.now()
	claims := &Claims{
		UserID:    actor.UserID,
		Role:      actor.Role,
		CompanyID: actor.CompanyID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   actor.UserID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return signed, nil
}

// Verify parses a token and returns the actor it identifies.
func (a *Authenticator) Verify(token string) (models.Actor, error) {
	claims := &Claims{}

	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(a.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	actor := models.Actor{UserID: claims.UserID, Role: claims.Role, CompanyID: claims.CompanyID}

	err = validateActor(actor)
	if err != nil {
		return models.Actor{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	return actor, nil
}

func validateActor(actor models.Actor) error {
	if actor.UserID == "" {
		return errors.New("userId is required")
	}

	if !slices.Contains(knownRoles, actor.Role) {
		return fmt.Errorf("unknown role '%s'", actor.Role)
	}

	if actor.CompanyID == "" && actor.Role != models.RoleSuperAdmin {
		return errors.New("companyId is required")
	}

	return nil
}
